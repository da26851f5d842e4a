package chaos

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/vaultsandbox/gateway/internal/gwerrors"
)

func allTypes(types ...EvalType) map[EvalType]bool {
	m := make(map[EvalType]bool)
	for _, t := range types {
		m[t] = true
	}
	return m
}

func TestEvaluateDisabledReturnsContinue(t *testing.T) {
	e := New()
	out, err := e.Evaluate(OnData, Config{Enabled: false}, "1.2.3.4", "a@b.com")
	require.NoError(t, err)
	require.Equal(t, Continue, out)
}

func TestEvaluateProbabilityOneAlwaysFires(t *testing.T) {
	e := New()
	cfg := Config{
		Enabled: true,
		Entries: []Entry{
			{Types: allTypes(OnData), Probability: 1.0, Action: Action{Kind: ActionError, Code: 550, Enhanced: "5.7.1", Message: "blocked"}},
		},
	}
	_, err := e.Evaluate(OnData, cfg, "1.2.3.4", "a@b.com")
	require.Error(t, err)
	var chaosErr *gwerrors.ChaosSMTP
	require.ErrorAs(t, err, &chaosErr)
	require.Equal(t, 550, chaosErr.Code)
}

func TestEvaluateProbabilityZeroNeverFires(t *testing.T) {
	e := New()
	cfg := Config{
		Enabled: true,
		Entries: []Entry{
			{Types: allTypes(OnData), Probability: 0.0, Action: Action{Kind: ActionDrop}},
		},
	}
	out, err := e.Evaluate(OnData, cfg, "1.2.3.4", "a@b.com")
	require.NoError(t, err)
	require.Equal(t, Continue, out)
}

func TestEvaluateFirstMatchingEntryWins(t *testing.T) {
	e := New()
	cfg := Config{
		Enabled: true,
		Entries: []Entry{
			{Types: allTypes(OnData), Probability: 1.0, Action: Action{Kind: ActionDelay, DelayMs: 100}},
			{Types: allTypes(OnData), Probability: 1.0, Action: Action{Kind: ActionDrop}},
		},
	}
	out, err := e.Evaluate(OnData, cfg, "1.2.3.4", "a@b.com")
	require.NoError(t, err)
	require.Equal(t, ActionDelay, out.Kind)
	require.Equal(t, 100, out.DelayMs)
}

func TestEvaluateSkipsNonMatchingType(t *testing.T) {
	e := New()
	cfg := Config{
		Enabled: true,
		Entries: []Entry{
			{Types: allTypes(OnConnect), Probability: 1.0, Action: Action{Kind: ActionDrop}},
		},
	}
	out, err := e.Evaluate(OnData, cfg, "1.2.3.4", "a@b.com")
	require.NoError(t, err)
	require.Equal(t, Continue, out)
}

func TestGreylistFirstSeenRejectsThenAllows(t *testing.T) {
	e := New()
	fakeNow := time.Now()
	e.now = func() time.Time { return fakeNow }

	cfg := Config{
		Enabled: true,
		Entries: []Entry{
			{Types: allTypes(OnData), Probability: 1.0, Action: Action{Kind: ActionGreylist, TrackBy: TrackByIPSender, DelayWindow: time.Minute}},
		},
	}

	_, err := e.Evaluate(OnData, cfg, "1.2.3.4", "a@b.com")
	require.Error(t, err)
	var chaosErr *gwerrors.ChaosSMTP
	require.ErrorAs(t, err, &chaosErr)
	require.Equal(t, 450, chaosErr.Code)

	fakeNow = fakeNow.Add(2 * time.Minute)
	out, err := e.Evaluate(OnData, cfg, "1.2.3.4", "a@b.com")
	require.NoError(t, err)
	require.Equal(t, Continue, out)
}

func TestGreylistKeyingByMode(t *testing.T) {
	e := New()
	require.Equal(t, greylistKey("ip:1.2.3.4"), e.greylistKey(TrackByIP, "1.2.3.4", "a@b.com"))
	require.Equal(t, greylistKey("sender:a@b.com"), e.greylistKey(TrackBySender, "1.2.3.4", "a@b.com"))
	require.Equal(t, greylistKey("ip_sender:1.2.3.4|a@b.com"), e.greylistKey(TrackByIPSender, "1.2.3.4", "a@b.com"))
}
