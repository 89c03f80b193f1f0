package session

import (
	"context"
	"errors"

	"github.com/kumbh-rakshak/kr-backend/internal/identity/domain"
)

// Flow is the application flow the shell should present at start.
type Flow string

const (
	// FlowUserTypeSelection: never registered (or fully cleared);
	// show the registration / user-type prompt.
	FlowUserTypeSelection Flow = "user_type_selection"
	// FlowLoading: an authentication attempt is in flight.
	FlowLoading Flow = "loading"
	// FlowMain: an authenticated session exists (either role).
	FlowMain Flow = "main"
)

// FlowForState is the pure bootstrap mapping from reconciler state.
func FlowForState(state State) Flow {
	switch state {
	case StateAuthenticating:
		return FlowLoading
	case StateAuthenticated:
		return FlowMain
	default:
		return FlowUserTypeSelection
	}
}

// Bootstrap recomputes the start-up flow by querying the reconciled
// session. It keeps no storage of its own: every cold start asks
// CurrentUser again. Any failure that is not a definite session
// resolves to the registration prompt, never to a silently
// authenticated state.
func (r *Reconciler) Bootstrap(ctx context.Context) (Flow, error) {
	if state := r.State(); state == StateAuthenticating {
		return FlowLoading, nil
	}

	_, err := r.CurrentUser(ctx)
	if err == nil {
		return FlowMain, nil
	}
	if errors.Is(err, domain.ErrNoSession) {
		return FlowUserTypeSelection, nil
	}
	return FlowUserTypeSelection, err
}
