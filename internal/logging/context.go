package logging

import (
	"context"
	"time"
)

// DetachContext returns a context that keeps the parent's values but is not
// cancelled with it.
func DetachContext(parent context.Context) context.Context {
	return context.WithoutCancel(parent)
}

// DetachContextWithTimeout detaches from the parent and applies its own
// deadline. The HTTP server uses it to persist a finished turn even when the
// client has already gone away:
//
//	saveCtx, cancel := logging.DetachContextWithTimeout(r.Context(), 5*time.Second)
//	defer cancel()
//	err := store.SaveHistory(saveCtx, sessionID, userID, history)
func DetachContextWithTimeout(parent context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(parent), timeout)
}
