// Package learner implements the Meta-Learner (spec §4.12): an offline job
// that mines successful sub-agent outcomes already resting in the Pattern
// Store, groups them per agent role, and proposes refreshed prompt
// templates and pattern descriptions. Proposals are gated behind HITL
// approval (mirroring the EXECUTOR's budget-approval gate in pkg/trinity)
// and, once accepted, are written only to the Pattern Store and a
// compiled-prompts directory — this package never mutates a running
// sub-agent's behavior directly. A proposal takes effect only once a later
// release wires sub-agent construction to read from the compiled area.
package learner

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/trinity-os/trinity/internal/obslog"
	"github.com/trinity-os/trinity/pkg/hitl"
	"github.com/trinity-os/trinity/pkg/llmclient"
	"github.com/trinity-os/trinity/pkg/pattern"
	"github.com/trinity-os/trinity/pkg/subagent"
)

const roleTagPrefix = "role:"

// RoleTag returns the Pattern Store tag convention this package reads:
// records that represent a successful sub-agent run are expected to carry
// a "role:<role>" tag alongside whatever domain tags they were stored
// with. Anything producing precedents for a given role — EXECUTOR,
// an operator backfilling a history — should include this tag to make
// the run's records visible to the Meta-Learner.
func RoleTag(role subagent.Role) string {
	return roleTagPrefix + string(role)
}

func roleFromTags(tags []string) (subagent.Role, bool) {
	for _, t := range tags {
		if strings.HasPrefix(t, roleTagPrefix) {
			return subagent.Role(strings.TrimPrefix(t, roleTagPrefix)), true
		}
	}
	return "", false
}

// Cluster is a group of same-role records sharing a dominant non-role tag,
// large enough to be worth synthesizing a proposal from.
type Cluster struct {
	Role    subagent.Role
	Tag     string
	Records []*pattern.Record
}

// PromptTemplate is the synthesized artifact a Proposal carries: text
// destined for the compiled-prompts area, not yet wired into any running
// sub-agent.
type PromptTemplate struct {
	Role subagent.Role
	Tag  string
	Body string
}

// Proposal is one candidate improvement awaiting (or having received)
// HITL approval.
type Proposal struct {
	Role        subagent.Role
	Tag         string
	ClusterSize int
	Template    PromptTemplate
	PatternKey  string
	GeneratedAt time.Time
	Applied     bool
	Decision    hitl.Decision
}

// Option configures a Learner at construction time.
type Option func(*Learner)

// WithRequireApproval controls whether each Proposal must clear a HITL
// gate before being persisted. Defaults to true (spec §6 LEARNER_REQUIRE_APPROVAL).
func WithRequireApproval(require bool) Option {
	return func(l *Learner) { l.requireApproval = require }
}

// WithMinClusterSize sets the minimum number of same-role, same-tag
// records required before a cluster yields a proposal. Defaults to 3.
func WithMinClusterSize(n int) Option {
	return func(l *Learner) {
		if n > 0 {
			l.minClusterSize = n
		}
	}
}

// WithTimeout bounds how long Run waits for a human response to a single
// proposal's HITL gate before treating it as undecided (LATER semantics
// are handled by hitl.Gates itself; this only bounds the Raise call).
func WithTimeout(d time.Duration) Option {
	return func(l *Learner) { l.timeout = d }
}

// Learner runs the offline clustering-and-proposal job over a Pattern
// Store.
type Learner struct {
	patterns   *pattern.Store
	llm        llmclient.Client
	gates      *hitl.Gates
	promptsDir string

	requireApproval bool
	minClusterSize  int
	timeout         time.Duration
}

// New returns a Learner. gates may be nil only when requireApproval is
// false (direct-persist mode); promptsDir is created if it does not exist.
func New(patterns *pattern.Store, llm llmclient.Client, gates *hitl.Gates, promptsDir string, opts ...Option) (*Learner, error) {
	if err := os.MkdirAll(promptsDir, 0o755); err != nil {
		return nil, fmt.Errorf("learner: create prompts dir: %w", err)
	}

	l := &Learner{
		patterns:        patterns,
		llm:             llm,
		gates:           gates,
		promptsDir:      promptsDir,
		requireApproval: true,
		minClusterSize:  3,
		timeout:         5 * time.Minute,
	}
	for _, opt := range opts {
		opt(l)
	}
	if l.requireApproval && l.gates == nil {
		return nil, fmt.Errorf("learner: HITL gates required when approval is required")
	}
	return l, nil
}

// Run gathers every non-deprecated, role-tagged record with at least one
// recorded success, clusters them, synthesizes one Proposal per qualifying
// cluster, and — per requireApproval — either gates each on a human
// decision or persists it immediately. It returns every proposal it
// considered, including ones a human declined (Applied false), so a
// caller can report what happened.
func (l *Learner) Run(ctx context.Context) ([]Proposal, error) {
	clusters := l.cluster(l.patterns.All())

	proposals := make([]Proposal, 0, len(clusters))
	for _, c := range clusters {
		prop, err := l.synthesize(ctx, c)
		if err != nil {
			obslog.Get().Warn("learner: synthesis failed, skipping cluster", "role", c.Role, "tag", c.Tag, "error", err)
			continue
		}

		decided, err := l.decide(ctx, prop)
		if err != nil {
			return proposals, err
		}
		proposals = append(proposals, decided)
	}

	sort.Slice(proposals, func(i, j int) bool {
		if proposals[i].Role != proposals[j].Role {
			return proposals[i].Role < proposals[j].Role
		}
		return proposals[i].Tag < proposals[j].Tag
	})
	return proposals, nil
}

// cluster groups successful, role-tagged records by (role, dominant
// non-role tag). This is a deliberate simplification of "cluster them"
// (spec §4.12): true semantic clustering has no grounding anywhere in the
// example pack, while tag-based grouping composes directly with the
// Pattern Store's existing tag-overlap scoring (weightTag in
// pkg/pattern/store.go). A record missing a role tag, or with zero
// recorded successes, never contributes to a proposal.
func (l *Learner) cluster(records []*pattern.Record) []Cluster {
	type key struct {
		role subagent.Role
		tag  string
	}
	groups := make(map[key][]*pattern.Record)

	for _, rec := range records {
		if rec.SuccessCount == 0 {
			continue
		}
		role, ok := roleFromTags(rec.Tags)
		if !ok {
			continue
		}
		for _, tag := range rec.Tags {
			if strings.HasPrefix(tag, roleTagPrefix) {
				continue
			}
			k := key{role: role, tag: tag}
			groups[k] = append(groups[k], rec)
		}
	}

	clusters := make([]Cluster, 0, len(groups))
	for k, recs := range groups {
		if len(recs) < l.minClusterSize {
			continue
		}
		sort.Slice(recs, func(i, j int) bool { return recs[i].ID < recs[j].ID })
		clusters = append(clusters, Cluster{Role: k.role, Tag: k.tag, Records: recs})
	}
	sort.Slice(clusters, func(i, j int) bool {
		if clusters[i].Role != clusters[j].Role {
			return clusters[i].Role < clusters[j].Role
		}
		return clusters[i].Tag < clusters[j].Tag
	})
	return clusters
}

// synthesize asks the LLM client to distill a cluster's successful
// (input, output) pairs into a single refreshed prompt template. The
// approach mirrors the teacher's structured-analysis step in
// pkg/reasoning/reflection.go — a single Complete call over a
// purpose-built prompt, with the model's free-form text taken as the
// artifact — simplified here since there is no tool-call wire format to
// parse back out, only prose.
func (l *Learner) synthesize(ctx context.Context, c Cluster) (Proposal, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "You are refining the prompt template for the %q sub-agent role.\n", c.Role)
	fmt.Fprintf(&b, "Below are %d successful precedents sharing the tag %q. ", len(c.Records), c.Tag)
	b.WriteString("Write a single improved prompt template that generalizes what made them succeed.\n\n")
	for _, rec := range c.Records {
		fmt.Fprintf(&b, "---\n%s\n", rec.Content)
	}

	resp, err := l.llm.Complete(ctx, llmclient.Request{Prompt: b.String()})
	if err != nil {
		return Proposal{}, fmt.Errorf("learner: synthesize template: %w", err)
	}

	return Proposal{
		Role:        c.Role,
		Tag:         c.Tag,
		ClusterSize: len(c.Records),
		Template:    PromptTemplate{Role: c.Role, Tag: c.Tag, Body: resp.Text},
		PatternKey:  fmt.Sprintf("learner:template:%s:%s", c.Role, c.Tag),
		GeneratedAt: time.Now(),
	}, nil
}

// decide gates prop on a human decision (if requireApproval) and persists
// it on acceptance, mirroring pkg/trinity's checkBudget: raise a Question,
// block until resolved, act on the Decision.
func (l *Learner) decide(ctx context.Context, prop Proposal) (Proposal, error) {
	if !l.requireApproval {
		if err := l.persist(prop); err != nil {
			return Proposal{}, err
		}
		prop.Applied = true
		prop.Decision = hitl.DecisionYes
		return prop, nil
	}

	approval, err := l.gates.Raise(ctx, hitl.Question{
		GateID:       "learner_proposal",
		Step:         fmt.Sprintf("learner:%s:%s", prop.Role, prop.Tag),
		RiskCategory: "prompt_template",
		Inputs: map[string]any{
			"role":         string(prop.Role),
			"tag":          prop.Tag,
			"cluster_size": prop.ClusterSize,
			"template":     prop.Template.Body,
		},
	})
	if err != nil {
		return Proposal{}, fmt.Errorf("learner: gate proposal: %w", err)
	}

	prop.Decision = approval.Decision
	if approval.Decision != hitl.DecisionYes {
		obslog.Get().Info("learner: proposal not accepted", "role", prop.Role, "tag", prop.Tag, "decision", approval.Decision)
		return prop, nil
	}

	if err := l.persist(prop); err != nil {
		return Proposal{}, err
	}
	prop.Applied = true
	return prop, nil
}

// persist writes the compiled prompt template (write-temp-then-rename, as
// pkg/pattern.Store.persist and pkg/workflow's checkpoint storage do) and
// records the proposal itself as a searchable pattern, so future ARCHITECT
// precedent search can surface "this template was already tried" context.
func (l *Learner) persist(prop Proposal) error {
	path := filepath.Join(l.promptsDir, fmt.Sprintf("%s_%s.md", prop.Role, sanitizeTag(prop.Tag)))
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, []byte(prop.Template.Body), 0o644); err != nil {
		return fmt.Errorf("learner: write compiled template: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("learner: rename compiled template: %w", err)
	}

	_, err := l.patterns.Store(prop.PatternKey, prop.Template.Body, []string{RoleTag(prop.Role), prop.Tag, "prompt_template"}, map[string]any{
		"cluster_size":  prop.ClusterSize,
		"generated_at":  prop.GeneratedAt,
		"compiled_path": path,
	})
	if err != nil {
		return fmt.Errorf("learner: store proposal pattern: %w", err)
	}
	return nil
}

func sanitizeTag(tag string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		default:
			return '_'
		}
	}, tag)
}
