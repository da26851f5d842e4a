// Package chaos implements the per-inbox fault-injection engine of spec
// §4.6: a declarative list of entries evaluated in order, each either
// continuing, erroring, dropping the connection, delaying the response,
// blackholing storage, or greylisting the sender. It is new domain logic
// (no pack repo implements chaos injection); the action vocabulary and
// the Greylist TrackBy dimension are adopted from the product's own
// client SDK DTO (vaultsandbox-client-go/chaos.go) per spec §9's redesign
// flag restating exception-driven control flow as a returned sum type.
package chaos

import (
	"math/rand"
	"sync"
	"time"

	"github.com/vaultsandbox/gateway/internal/gwerrors"
)

// EvalType tags the evaluation site a chaos entry's types set is matched
// against (spec §9 Open Question 2). Only on_data is currently invoked
// by the orchestrator; the others are defined for forward compatibility.
type EvalType string

const (
	OnConnect  EvalType = "on_connect"
	OnMailFrom EvalType = "on_mail_from"
	OnRcptTo   EvalType = "on_rcpt_to"
	OnData     EvalType = "on_data"
)

type ActionKind string

const (
	ActionContinue  ActionKind = "continue"
	ActionError     ActionKind = "error"
	ActionDrop      ActionKind = "drop"
	ActionDelay     ActionKind = "delay"
	ActionBlackhole ActionKind = "blackhole"
	ActionGreylist  ActionKind = "greylist"
)

// GreylistTrackBy selects the key dimension for greylist substate,
// supplementing spec §4.6's fixed (sender_ip, sender_email) keying with
// the three modes the client SDK already models.
type GreylistTrackBy string

const (
	TrackByIP       GreylistTrackBy = "ip"
	TrackBySender   GreylistTrackBy = "sender"
	TrackByIPSender GreylistTrackBy = "ip_sender"
)

// Action is the discriminated action a matching entry emits.
type Action struct {
	Kind ActionKind

	// Error
	Code     int
	Enhanced string
	Message  string

	// Drop
	Graceful bool

	// Delay
	DelayMs int

	// Blackhole
	TriggerWebhooks bool

	// Greylist
	TrackBy     GreylistTrackBy
	DelayWindow time.Duration
}

// Entry is one declared chaos rule.
type Entry struct {
	Types       map[EvalType]bool
	Probability float64
	Action      Action
}

// Config is the per-inbox chaos configuration of spec §3.
type Config struct {
	Enabled bool
	Entries []Entry
}

// DefaultGreylistWindow matches GreylistConfig.RetryWindowMs's documented
// default in the client SDK (spec §9 Open Question 3).
const DefaultGreylistWindow = 5 * time.Minute

// Outcome is the non-error result of Evaluate: Continue, Delay, or
// Blackhole. Error and Drop are returned as errors instead (spec §9).
type Outcome struct {
	Kind            ActionKind
	DelayMs         int
	TriggerWebhooks bool
}

var Continue = Outcome{Kind: ActionContinue}

type greylistKey string

type greylistState struct {
	firstSeen   time.Time
	lastAttempt time.Time
}

// Engine holds the process-wide greylist substate (spec §4.6).
type Engine struct {
	mu       sync.Mutex
	greylist map[greylistKey]*greylistState
	rand     *rand.Rand
	randMu   sync.Mutex
	now      func() time.Time
}

func New() *Engine {
	return &Engine{
		greylist: make(map[greylistKey]*greylistState),
		rand:     rand.New(rand.NewSource(time.Now().UnixNano())),
		now:      time.Now,
	}
}

func (e *Engine) draw() float64 {
	e.randMu.Lock()
	defer e.randMu.Unlock()
	return e.rand.Float64()
}

// Evaluate runs the chaos config against one evaluation context (spec
// §4.6, invariant I6: declaration order, first match wins). Error and
// Drop actions are surfaced as a non-nil error; Delay and Blackhole are
// returned in the Outcome for the orchestrator to apply later.
func (e *Engine) Evaluate(evalType EvalType, cfg Config, senderIP, senderEmail string) (Outcome, error) {
	if !cfg.Enabled {
		return Continue, nil
	}

	for _, entry := range cfg.Entries {
		if !entry.Types[evalType] {
			continue
		}
		if e.draw() >= entry.Probability {
			continue
		}
		return e.apply(entry.Action, senderIP, senderEmail)
	}
	return Continue, nil
}

func (e *Engine) apply(action Action, senderIP, senderEmail string) (Outcome, error) {
	switch action.Kind {
	case ActionContinue:
		return Continue, nil
	case ActionError:
		return Outcome{}, &gwerrors.ChaosSMTP{Code: action.Code, Enhanced: action.Enhanced, Message: action.Message}
	case ActionDrop:
		return Outcome{}, &gwerrors.ChaosDrop{Graceful: action.Graceful}
	case ActionDelay:
		return Outcome{Kind: ActionDelay, DelayMs: action.DelayMs}, nil
	case ActionBlackhole:
		return Outcome{Kind: ActionBlackhole, TriggerWebhooks: action.TriggerWebhooks}, nil
	case ActionGreylist:
		return e.evaluateGreylist(action, senderIP, senderEmail)
	default:
		return Continue, nil
	}
}

func (e *Engine) evaluateGreylist(action Action, senderIP, senderEmail string) (Outcome, error) {
	window := action.DelayWindow
	if window <= 0 {
		window = DefaultGreylistWindow
	}
	key := e.greylistKey(action.TrackBy, senderIP, senderEmail)
	now := e.now()

	e.mu.Lock()
	defer e.mu.Unlock()

	state, ok := e.greylist[key]
	if !ok {
		e.greylist[key] = &greylistState{firstSeen: now, lastAttempt: now}
		return Outcome{}, greylistReject()
	}
	if now.Sub(state.firstSeen) < window {
		state.lastAttempt = now
		return Outcome{}, greylistReject()
	}
	state.lastAttempt = now
	return Continue, nil
}

func greylistReject() error {
	return &gwerrors.ChaosSMTP{Code: 450, Enhanced: "4.7.1", Message: "Greylisted, please retry later", Greylist: true}
}

func (e *Engine) greylistKey(trackBy GreylistTrackBy, senderIP, senderEmail string) greylistKey {
	switch trackBy {
	case TrackByIP:
		return greylistKey("ip:" + senderIP)
	case TrackBySender:
		return greylistKey("sender:" + senderEmail)
	default:
		return greylistKey("ip_sender:" + senderIP + "|" + senderEmail)
	}
}

// GreylistCount reports the number of tracked sender entries, for tests
// and metrics.
func (e *Engine) GreylistCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.greylist)
}
