package hitl

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/trinity-os/trinity/pkg/bus"
)

func newTestBus(t *testing.T) *bus.Bus {
	t.Helper()
	b, err := bus.Open(bus.Options{StateDir: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = b.Close() })
	return b
}

func TestRaisePublishesAndResolvesYes(t *testing.T) {
	b := newTestBus(t)
	g := New(b, WithTimeout(time.Second))

	ch, err := b.Subscribe(context.Background(), humanReviewQueue)
	require.NoError(t, err)

	var approval UserApproval
	var raiseErr error
	done := make(chan struct{})
	go func() {
		approval, raiseErr = g.Raise(context.Background(), Question{WorkflowID: "wf-1", GateID: "gate-1", RiskCategory: "security-impacting"})
		close(done)
	}()

	msg := <-ch
	qid, _ := msg.Payload["question_id"].(string)
	require.NotEmpty(t, qid)

	require.NoError(t, g.Respond(qid, Response{Decision: DecisionYes}))
	<-done

	require.NoError(t, raiseErr)
	require.Equal(t, DecisionYes, approval.Decision)
}

func TestRaiseResolvesNo(t *testing.T) {
	b := newTestBus(t)
	g := New(b, WithTimeout(time.Second))

	ch, err := b.Subscribe(context.Background(), humanReviewQueue)
	require.NoError(t, err)

	resultCh := make(chan UserApproval, 1)
	go func() {
		a, _ := g.Raise(context.Background(), Question{WorkflowID: "wf-1", GateID: "gate-1"})
		resultCh <- a
	}()

	msg := <-ch
	qid := msg.Payload["question_id"].(string)
	require.NoError(t, g.Respond(qid, Response{Decision: DecisionNo}))

	approval := <-resultCh
	require.Equal(t, DecisionNo, approval.Decision)
}

func TestRaiseTimesOutWithoutResponse(t *testing.T) {
	b := newTestBus(t)
	g := New(b, WithTimeout(20*time.Millisecond))

	approval, err := g.Raise(context.Background(), Question{WorkflowID: "wf-1", GateID: "gate-1"})
	require.NoError(t, err)
	require.Equal(t, DecisionTimeout, approval.Decision)
}

func TestLateResponseAfterTimeoutStillRecorded(t *testing.T) {
	b := newTestBus(t)
	g := New(b, WithTimeout(10*time.Millisecond))

	ch, err := b.Subscribe(context.Background(), humanReviewQueue)
	require.NoError(t, err)

	approval, err := g.Raise(context.Background(), Question{WorkflowID: "wf-1", GateID: "gate-1"})
	require.NoError(t, err)
	require.Equal(t, DecisionTimeout, approval.Decision)

	msg := <-ch
	qid := msg.Payload["question_id"].(string)

	require.NoError(t, g.Respond(qid, Response{Decision: DecisionYes}))

	late, ok := g.Outcome(qid)
	require.True(t, ok)
	require.Equal(t, DecisionYes, late.Decision)
}

func TestLaterDeferralEventuallyAutoResolvesNo(t *testing.T) {
	b := newTestBus(t)
	g := New(b, WithTimeout(time.Second), WithQuietHoursInterval(5*time.Millisecond), WithMaxDeferralsBeforeNo(2))

	ch, err := b.Subscribe(context.Background(), humanReviewQueue)
	require.NoError(t, err)

	resultCh := make(chan UserApproval, 1)
	go func() {
		a, _ := g.Raise(context.Background(), Question{WorkflowID: "wf-1", GateID: "gate-1"})
		resultCh <- a
	}()

	msg1 := <-ch
	qid := msg1.Payload["question_id"].(string)
	require.NoError(t, g.Respond(qid, Response{Decision: DecisionLater}))

	// re-offered after quiet hours
	<-ch
	require.NoError(t, g.Respond(qid, Response{Decision: DecisionLater}))

	approval := <-resultCh
	require.Equal(t, DecisionNo, approval.Decision)
}

func TestRequiresGateDefaults(t *testing.T) {
	g := New(nil)
	require.True(t, g.RequiresGate("security-impacting"))
	require.False(t, g.RequiresGate("cosmetic"))
}

func TestRespondUnknownQuestion(t *testing.T) {
	g := New(nil)
	require.ErrorIs(t, g.Respond("missing", Response{Decision: DecisionYes}), ErrQuestionNotFound)
}
