package onboarding

import "github.com/alanyoungcy/predictionhub/internal/domain"

// Readiness is the local state of the three onboarding steps.
type Readiness struct {
	Proxy     ProxyStep `json:"proxy"`
	Auth      Step      `json:"trading_auth"`
	Approvals Step      `json:"approvals"`
}

// NewReadiness returns a Readiness with every step idle.
func NewReadiness() Readiness {
	return Readiness{
		Proxy:     ProxyStep{Phase: ProxyIdle},
		Auth:      Step{Phase: StepIdle},
		Approvals: Step{Phase: StepIdle},
	}
}

// LocalReady reports whether all three local steps completed.
func (r Readiness) LocalReady() bool {
	return r.Proxy.Phase == ProxyCompleted &&
		r.Auth.Phase == StepCompleted &&
		r.Approvals.Phase == StepCompleted
}

// TradingReady gates trade execution. Either source alone is sufficient; the
// local state and the server flags are never merged into one another.
func TradingReady(r Readiness, u domain.UserState) bool {
	return r.LocalReady() || u.ServerReady()
}
