package subagent

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/trinity-os/trinity/pkg/llmclient"
	"github.com/trinity-os/trinity/pkg/tool"
)

func newTestDispatcher(t *testing.T) (*Dispatcher, *tool.Registry) {
	t.Helper()
	d := NewDispatcher()
	tools := tool.NewRegistry()
	require.NoError(t, RegisterDefaultRoles(d, llmclient.NewEcho(""), tools))
	return d, tools
}

func TestDispatchCodeWriterReturnsArtifact(t *testing.T) {
	d, _ := newTestDispatcher(t)
	result, err := d.Dispatch(context.Background(), Task{ID: "t1", Role: RoleCodeWriter, Prompt: "add a func"})
	require.NoError(t, err)
	require.Equal(t, RoleCodeWriter, result.Role)
	require.Contains(t, result.Artifacts, "t1.patch")
	require.Equal(t, "add a func", result.Output["code"])
}

func TestDispatchUnknownRole(t *testing.T) {
	d, _ := newTestDispatcher(t)
	_, err := d.Dispatch(context.Background(), Task{ID: "t2", Role: Role("not_a_role")})
	var unknown *ErrUnknownRole
	require.ErrorAs(t, err, &unknown)
}

func TestRegisterRejectsUnknownRole(t *testing.T) {
	d := NewDispatcher()
	err := d.Register(Role("bogus"), func() Capability { return nil })
	require.Error(t, err)
}

func TestRegisterRejectsDuplicateRole(t *testing.T) {
	d, _ := newTestDispatcher(t)
	err := d.Register(RoleCodeWriter, NewCodeWriter(llmclient.NewEcho("")))
	require.Error(t, err)
}

func TestToolsmithRejectsTaskMissingParams(t *testing.T) {
	d, _ := newTestDispatcher(t)
	_, err := d.Dispatch(context.Background(), Task{ID: "t3", Role: RoleToolsmith})
	require.Error(t, err)
}

func TestQualityEnforcerApprovesCleanReview(t *testing.T) {
	d, _ := newTestDispatcher(t)
	result, err := d.Dispatch(context.Background(), Task{ID: "t4", Role: RoleQualityEnforcer, Prompt: "looks fine"})
	require.NoError(t, err)
	require.Equal(t, true, result.Output["approved"])
}

func TestCapabilityReportCostReflectsLastRun(t *testing.T) {
	d, _ := newTestDispatcher(t)
	capability, err := d.Instantiate(RoleCodeWriter)
	require.NoError(t, err)
	require.NoError(t, capability.Prepare(context.Background(), Task{Role: RoleCodeWriter}))
	_, err = capability.Run(context.Background(), Task{ID: "t5", Role: RoleCodeWriter, Prompt: "x"})
	require.NoError(t, err)
	require.Equal(t, "t5", capability.ReportCost().TaskID)
}
