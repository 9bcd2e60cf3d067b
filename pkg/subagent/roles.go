package subagent

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/go-hclog"

	"github.com/trinity-os/trinity/pkg/costledger"
	"github.com/trinity-os/trinity/pkg/llmclient"
	"github.com/trinity-os/trinity/pkg/tool"
)

// base carries the bookkeeping every local Capability shares: the last
// recorded cost and a cancel func for the in-flight Run, if any.
type base struct {
	mu       sync.Mutex
	lastCost costledger.CostEntry
	cancel   context.CancelFunc
}

func (b *base) ReportCost() costledger.CostEntry {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.lastCost
}

func (b *base) Cancel() {
	b.mu.Lock()
	cancel := b.cancel
	b.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// withCancel derives a cancelable context from ctx, recording the cancel
// func so Cancel() can abort the in-flight Run.
func (b *base) withCancel(ctx context.Context) context.Context {
	runCtx, cancel := context.WithCancel(ctx)
	b.mu.Lock()
	b.cancel = cancel
	b.mu.Unlock()
	return runCtx
}

func (b *base) recordCost(entry costledger.CostEntry) {
	b.mu.Lock()
	b.lastCost = entry
	b.mu.Unlock()
}

func (b *base) checkRole(task Task, want Role) error {
	if task.Role != want {
		return fmt.Errorf("subagent: %s capability cannot run a %s task", want, task.Role)
	}
	return nil
}

func complete(ctx context.Context, llm llmclient.Client, role Role, task Task, prompt string) (llmclient.Response, costledger.CostEntry, error) {
	resp, err := llm.Complete(ctx, llmclient.Request{Model: "local", Prompt: prompt})
	if err != nil {
		return llmclient.Response{}, costledger.CostEntry{}, err
	}
	entry := costledger.CostEntry{
		TaskID:        task.ID,
		CorrelationID: task.Context.CorrelationID,
		Agent:         string(role),
		Model:         "local",
		InputTokens:   resp.InputTokens,
		OutputTokens:  resp.OutputTokens,
		Timestamp:     time.Now(),
	}
	return resp, entry, nil
}

// --- code writer ---

type codeWriter struct {
	base
	llm llmclient.Client
}

// NewCodeWriter returns the CODE_WRITER capability factory.
func NewCodeWriter(llm llmclient.Client) Factory {
	return func() Capability { return &codeWriter{llm: llm} }
}

func (c *codeWriter) Prepare(ctx context.Context, task Task) error {
	return c.checkRole(task, RoleCodeWriter)
}

func (c *codeWriter) Run(ctx context.Context, task Task) (Result, error) {
	runCtx := c.withCancel(ctx)
	resp, entry, err := complete(runCtx, c.llm, RoleCodeWriter, task, task.Prompt)
	if err != nil {
		return Result{}, err
	}
	c.recordCost(entry)
	return Result{
		TaskID:    task.ID,
		Role:      RoleCodeWriter,
		Output:    map[string]any{"code": resp.Text},
		Artifacts: []string{task.ID + ".patch"},
		Cost:      entry,
	}, nil
}

// --- test author ---

type testAuthor struct {
	base
	llm llmclient.Client
}

// NewTestAuthor returns the TEST_AUTHOR capability factory.
func NewTestAuthor(llm llmclient.Client) Factory {
	return func() Capability { return &testAuthor{llm: llm} }
}

func (t *testAuthor) Prepare(ctx context.Context, task Task) error {
	return t.checkRole(task, RoleTestAuthor)
}

func (t *testAuthor) Run(ctx context.Context, task Task) (Result, error) {
	runCtx := t.withCancel(ctx)
	prompt := "write tests for: " + task.Prompt
	resp, entry, err := complete(runCtx, t.llm, RoleTestAuthor, task, prompt)
	if err != nil {
		return Result{}, err
	}
	t.recordCost(entry)
	return Result{
		TaskID:    task.ID,
		Role:      RoleTestAuthor,
		Output:    map[string]any{"tests": resp.Text},
		Artifacts: []string{task.ID + "_test.patch"},
		Cost:      entry,
	}, nil
}

// --- auditor ---

type auditor struct {
	base
	llm   llmclient.Client
	tools tool.Invoker
}

// NewAuditor returns the AUDITOR capability factory. tools may be nil if
// no static-analysis tool is registered — the auditor falls back to an
// LLM-only review.
func NewAuditor(llm llmclient.Client, tools tool.Invoker) Factory {
	return func() Capability { return &auditor{llm: llm, tools: tools} }
}

func (a *auditor) Prepare(ctx context.Context, task Task) error {
	return a.checkRole(task, RoleAuditor)
}

func (a *auditor) Run(ctx context.Context, task Task) (Result, error) {
	runCtx := a.withCancel(ctx)

	var analysis map[string]any
	if a.tools != nil {
		if out, err := a.tools.Invoke(runCtx, "static_analysis", task.Params); err == nil {
			analysis = out
		}
	}

	prompt := "audit for constitutional and quality issues: " + task.Prompt
	resp, entry, err := complete(runCtx, a.llm, RoleAuditor, task, prompt)
	if err != nil {
		return Result{}, err
	}
	a.recordCost(entry)

	output := map[string]any{"review": resp.Text}
	if analysis != nil {
		output["static_analysis"] = analysis
	}
	return Result{TaskID: task.ID, Role: RoleAuditor, Output: output, Cost: entry}, nil
}

// --- merger ---

type merger struct {
	base
	llm   llmclient.Client
	tools tool.Invoker
}

// NewMerger returns the MERGER capability factory.
func NewMerger(llm llmclient.Client, tools tool.Invoker) Factory {
	return func() Capability { return &merger{llm: llm, tools: tools} }
}

func (m *merger) Prepare(ctx context.Context, task Task) error {
	return m.checkRole(task, RoleMerger)
}

func (m *merger) Run(ctx context.Context, task Task) (Result, error) {
	runCtx := m.withCancel(ctx)

	var mergeResult map[string]any
	if m.tools != nil {
		if out, err := m.tools.Invoke(runCtx, "git_merge", task.Params); err == nil {
			mergeResult = out
		}
	}

	prompt := "resolve any merge conflicts for: " + task.Prompt
	resp, entry, err := complete(runCtx, m.llm, RoleMerger, task, prompt)
	if err != nil {
		return Result{}, err
	}
	m.recordCost(entry)

	output := map[string]any{"resolution": resp.Text}
	if mergeResult != nil {
		output["merge_result"] = mergeResult
	}
	return Result{TaskID: task.ID, Role: RoleMerger, Output: output, Cost: entry}, nil
}

// --- toolsmith ---

// toolsmith is the one role that mutates the tool surface itself: given a
// plugin executable path in task.Params["plugin_path"] and a name in
// task.Params["tool_name"], it installs the plugin into the shared
// registry so subsequent sub-agent roles can invoke it.
type toolsmith struct {
	base
	registry *tool.Registry
	loader   *tool.Loader
	loaded   []*tool.Loaded
}

// NewToolsmith returns the TOOLSMITH capability factory, installing
// plugins into registry via loader.
func NewToolsmith(registry *tool.Registry, loader *tool.Loader) Factory {
	if loader == nil {
		loader = tool.NewLoader(hclog.NewNullLogger())
	}
	return func() Capability { return &toolsmith{registry: registry, loader: loader} }
}

func (t *toolsmith) Prepare(ctx context.Context, task Task) error {
	if err := t.checkRole(task, RoleToolsmith); err != nil {
		return err
	}
	if _, ok := task.Params["plugin_path"].(string); !ok {
		return fmt.Errorf("subagent: toolsmith task %s missing plugin_path param", task.ID)
	}
	if _, ok := task.Params["tool_name"].(string); !ok {
		return fmt.Errorf("subagent: toolsmith task %s missing tool_name param", task.ID)
	}
	return nil
}

func (t *toolsmith) Run(ctx context.Context, task Task) (Result, error) {
	runCtx := t.withCancel(ctx)

	path := task.Params["plugin_path"].(string)
	name := task.Params["tool_name"].(string)

	loaded, err := t.loader.Load(runCtx, name, path)
	if err != nil {
		return Result{}, fmt.Errorf("subagent: load tool plugin %s: %w", name, err)
	}
	if err := t.registry.Register(loaded.Tool); err != nil {
		loaded.Close()
		return Result{}, fmt.Errorf("subagent: register tool plugin %s: %w", name, err)
	}
	t.loaded = append(t.loaded, loaded)

	entry := costledger.CostEntry{
		TaskID:        task.ID,
		CorrelationID: task.Context.CorrelationID,
		Agent:         string(RoleToolsmith),
		Timestamp:     time.Now(),
	}
	t.recordCost(entry)
	return Result{
		TaskID: task.ID,
		Role:   RoleToolsmith,
		Output: map[string]any{"installed_tool": name},
		Cost:   entry,
	}, nil
}

// --- quality enforcer ---

type qualityEnforcer struct {
	base
	llm llmclient.Client
}

// NewQualityEnforcer returns the QUALITY_ENFORCER capability factory.
func NewQualityEnforcer(llm llmclient.Client) Factory {
	return func() Capability { return &qualityEnforcer{llm: llm} }
}

func (q *qualityEnforcer) Prepare(ctx context.Context, task Task) error {
	return q.checkRole(task, RoleQualityEnforcer)
}

func (q *qualityEnforcer) Run(ctx context.Context, task Task) (Result, error) {
	runCtx := q.withCancel(ctx)
	prompt := "enforce quality constraints against: " + task.Prompt
	resp, entry, err := complete(runCtx, q.llm, RoleQualityEnforcer, task, prompt)
	if err != nil {
		return Result{}, err
	}
	q.recordCost(entry)

	approved := !strings.Contains(strings.ToLower(resp.Text), "violation")
	return Result{
		TaskID: task.ID,
		Role:   RoleQualityEnforcer,
		Output: map[string]any{"review": resp.Text, "approved": approved},
		Cost:   entry,
	}, nil
}

// RegisterDefaultRoles binds the closed set's local/deterministic
// implementations onto d, wired from llm and a shared tool registry —
// the configuration this module ships so the orchestration core runs
// end-to-end without a real LLM provider or concrete tool.
func RegisterDefaultRoles(d *Dispatcher, llm llmclient.Client, tools *tool.Registry) error {
	if err := d.Register(RoleCodeWriter, NewCodeWriter(llm)); err != nil {
		return err
	}
	if err := d.Register(RoleTestAuthor, NewTestAuthor(llm)); err != nil {
		return err
	}
	if err := d.Register(RoleAuditor, NewAuditor(llm, tools)); err != nil {
		return err
	}
	if err := d.Register(RoleMerger, NewMerger(llm, tools)); err != nil {
		return err
	}
	if err := d.Register(RoleToolsmith, NewToolsmith(tools, nil)); err != nil {
		return err
	}
	if err := d.Register(RoleQualityEnforcer, NewQualityEnforcer(llm)); err != nil {
		return err
	}
	return nil
}
