// Package subagent implements sub-agent dispatch: EXECUTOR instantiates a
// worker by role for each TaskSpec, passing it a bounded AgentContext
// containing only the ids and read capabilities the task actually needs.
// The set of roles is closed — a constitutional contract, not an open
// plugin surface — though the TOOLSMITH role may itself install new tool
// plugins at runtime (see pkg/tool).
package subagent

import (
	"context"
	"fmt"

	"github.com/trinity-os/trinity/pkg/costledger"
	"github.com/trinity-os/trinity/pkg/registry"
)

// Role is one of the closed set of sub-agent roles EXECUTOR may instantiate.
type Role string

const (
	RoleCodeWriter      Role = "code_writer"
	RoleTestAuthor      Role = "test_author"
	RoleAuditor         Role = "auditor"
	RoleMerger          Role = "merger"
	RoleToolsmith       Role = "toolsmith"
	RoleQualityEnforcer Role = "quality_enforcer"
)

// Roles lists the closed set, in the order the spec introduces them.
func Roles() []Role {
	return []Role{RoleCodeWriter, RoleTestAuthor, RoleAuditor, RoleMerger, RoleToolsmith, RoleQualityEnforcer}
}

func (r Role) valid() bool {
	for _, known := range Roles() {
		if r == known {
			return true
		}
	}
	return false
}

// AgentContext is the bounded context a sub-agent receives: only the ids
// and read capabilities required for its one task, never the full Plan or
// Workflow state.
type AgentContext struct {
	WorkflowID       string
	TaskID           string
	CorrelationID    string
	ReadCapabilities []string
}

// Task is one unit of work EXECUTOR hands to a sub-agent — the narrow
// projection of a TaskSpec (pkg/architect) a worker actually needs.
type Task struct {
	ID          string
	Role        Role
	Prompt      string
	Params      map[string]any
	Constraints map[string]any
	Context     AgentContext
}

// Result is a sub-agent's proposed output: the artifact EXECUTOR will pass
// through the Verification Gate before it is merged into workflow state.
type Result struct {
	TaskID    string
	Role      Role
	Output    map[string]any
	Artifacts []string
	Cost      costledger.CostEntry
}

// Capability is the contract every sub-agent role implements. Prepare
// validates the task is one this role can perform and reserves any
// resources it needs; Run performs the work and returns a proposed
// Result; ReportCost returns the CostEntry for the most recently
// completed Run (zero value if none has run yet); Cancel aborts an
// in-flight Run, best-effort.
type Capability interface {
	Prepare(ctx context.Context, task Task) error
	Run(ctx context.Context, task Task) (Result, error)
	ReportCost() costledger.CostEntry
	Cancel()
}

// Factory constructs a fresh Capability instance for one task. A fresh
// instance per task (rather than a shared singleton) keeps Cancel and
// ReportCost unambiguous under concurrent dispatch.
type Factory func() Capability

// ErrUnknownRole is returned by Dispatcher.Instantiate for a role with no
// registered Factory.
type ErrUnknownRole struct{ Role Role }

func (e *ErrUnknownRole) Error() string {
	return fmt.Sprintf("subagent: no factory registered for role %q", e.Role)
}

// Dispatcher holds the role -> Factory table EXECUTOR instantiates
// sub-agents from.
type Dispatcher struct {
	factories *registry.BaseRegistry[Factory]
}

// NewDispatcher returns an empty Dispatcher. Use RegisterDefaultRoles to
// populate it with the closed set's local/deterministic implementations.
func NewDispatcher() *Dispatcher {
	return &Dispatcher{factories: registry.New[Factory]()}
}

// Register binds role to factory. Registering an already-bound role is an
// error — the closed set is fixed at bootstrap, not reconfigured mid-run.
func (d *Dispatcher) Register(role Role, factory Factory) error {
	if !role.valid() {
		return fmt.Errorf("subagent: %q is not a recognized role", role)
	}
	return d.factories.Register(string(role), factory)
}

// Instantiate builds a fresh Capability for role.
func (d *Dispatcher) Instantiate(role Role) (Capability, error) {
	factory, ok := d.factories.Get(string(role))
	if !ok {
		return nil, &ErrUnknownRole{Role: role}
	}
	return factory(), nil
}

// Dispatch instantiates a Capability for task.Role, prepares it, runs it,
// and returns the Result — the single call EXECUTOR makes per TaskSpec.
func (d *Dispatcher) Dispatch(ctx context.Context, task Task) (Result, error) {
	capability, err := d.Instantiate(task.Role)
	if err != nil {
		return Result{}, err
	}
	if err := capability.Prepare(ctx, task); err != nil {
		return Result{}, fmt.Errorf("subagent: prepare %s task %s: %w", task.Role, task.ID, err)
	}
	result, err := capability.Run(ctx, task)
	if err != nil {
		return Result{}, fmt.Errorf("subagent: run %s task %s: %w", task.Role, task.ID, err)
	}
	return result, nil
}
