package onboarding

import (
	"fmt"

	"github.com/alanyoungcy/predictionhub/internal/domain"
)

// ProxyPhase is the phase of the proxy wallet deployment step.
type ProxyPhase string

const (
	ProxyIdle      ProxyPhase = "idle"
	ProxySigning   ProxyPhase = "signing"
	ProxyDeploying ProxyPhase = "deploying"
	ProxyCompleted ProxyPhase = "completed"
)

// StepPhase is the phase of the trading-auth and approvals steps.
type StepPhase string

const (
	StepIdle      StepPhase = "idle"
	StepSigning   StepPhase = "signing"
	StepCompleted StepPhase = "completed"
)

// EventKind identifies a step event.
type EventKind int

const (
	// EventBegin is raised when the user starts the step.
	EventBegin EventKind = iota
	// EventSubmitted carries the backend status after a proxy signature was
	// accepted.
	EventSubmitted
	// EventSucceeded completes a signing step.
	EventSucceeded
	// EventFailed returns a signing step to idle with an error.
	EventFailed
	// EventPolled carries a proxy status observed by the poller.
	EventPolled
	// EventServerSynced marks a step complete because the server already
	// reports it done.
	EventServerSynced
	// EventReset is raised when the onboarding dialog is dismissed.
	EventReset
)

func (k EventKind) String() string {
	switch k {
	case EventBegin:
		return "begin"
	case EventSubmitted:
		return "submitted"
	case EventSucceeded:
		return "succeeded"
	case EventFailed:
		return "failed"
	case EventPolled:
		return "polled"
	case EventServerSynced:
		return "server_synced"
	case EventReset:
		return "reset"
	default:
		return fmt.Sprintf("event(%d)", int(k))
	}
}

// Event is the input of a step transition. Status is read by EventSubmitted
// and EventPolled, Err by EventFailed.
type Event struct {
	Kind   EventKind
	Status domain.ProxyWalletStatus
	Err    string
}

// ProxyStep is the state of the proxy deployment step.
type ProxyStep struct {
	Phase ProxyPhase `json:"phase"`
	Err   string     `json:"error,omitempty"`
}

// Apply returns the state reached from s on ev. An illegal event returns s
// unchanged together with ErrIllegalTransition.
//
// Completed is terminal. The poller can only move the step forward, and
// deploying never goes back to idle, not even on reset.
func (s ProxyStep) Apply(ev Event) (ProxyStep, error) {
	switch ev.Kind {
	case EventBegin:
		if s.Phase == ProxyIdle {
			return ProxyStep{Phase: ProxySigning}, nil
		}
	case EventSubmitted:
		switch s.Phase {
		case ProxyCompleted:
			return s, nil
		case ProxySigning, ProxyDeploying:
			if ev.Status == domain.ProxyWalletStatusDeployed {
				return ProxyStep{Phase: ProxyCompleted}, nil
			}
			// Accepted but not finished: the poller converges from here.
			return ProxyStep{Phase: ProxyDeploying}, nil
		}
	case EventFailed:
		if s.Phase == ProxySigning {
			return ProxyStep{Phase: ProxyIdle, Err: ev.Err}, nil
		}
	case EventPolled:
		if s.Phase == ProxyCompleted {
			return s, nil
		}
		switch ev.Status {
		case domain.ProxyWalletStatusDeployed:
			return ProxyStep{Phase: ProxyCompleted}, nil
		case domain.ProxyWalletStatusDeploying:
			return ProxyStep{Phase: ProxyDeploying, Err: s.Err}, nil
		default:
			return s, nil
		}
	case EventServerSynced:
		return ProxyStep{Phase: ProxyCompleted}, nil
	case EventReset:
		if s.Phase == ProxyIdle || s.Phase == ProxySigning {
			return ProxyStep{Phase: ProxyIdle}, nil
		}
		return s, nil
	}
	return s, fmt.Errorf("%w: proxy %s on %s", ErrIllegalTransition, s.Phase, ev.Kind)
}

// Step is the state of the trading-auth or approvals step.
type Step struct {
	Phase StepPhase `json:"phase"`
	Err   string    `json:"error,omitempty"`
}

// Apply returns the state reached from s on ev. An illegal event returns s
// unchanged together with ErrIllegalTransition.
func (s Step) Apply(ev Event) (Step, error) {
	switch ev.Kind {
	case EventBegin:
		if s.Phase == StepIdle {
			return Step{Phase: StepSigning}, nil
		}
	case EventSucceeded:
		if s.Phase == StepSigning {
			return Step{Phase: StepCompleted}, nil
		}
	case EventFailed:
		if s.Phase == StepSigning {
			return Step{Phase: StepIdle, Err: ev.Err}, nil
		}
	case EventServerSynced:
		return Step{Phase: StepCompleted}, nil
	case EventReset:
		if s.Phase == StepCompleted {
			return s, nil
		}
		return Step{Phase: StepIdle}, nil
	}
	return s, fmt.Errorf("%w: step %s on %s", ErrIllegalTransition, s.Phase, ev.Kind)
}
