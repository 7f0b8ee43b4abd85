// Package notify delivers best-effort alerts for high-risk validations and
// rollback incidents. Delivery failures are logged, never propagated into the
// pipeline's control flow.
package notify

import (
	"context"

	"github.com/safeguard-project/safeguard/pkg/model"
)

// Notifier receives alert notifications. Implementations must be safe for
// concurrent use and should not block the caller longer than necessary.
type Notifier interface {
	Notify(ctx context.Context, severity model.Severity, message string, meta map[string]any) error
}

// Func adapts a function to the Notifier interface.
type Func func(ctx context.Context, severity model.Severity, message string, meta map[string]any) error

func (f Func) Notify(ctx context.Context, severity model.Severity, message string, meta map[string]any) error {
	return f(ctx, severity, message, meta)
}

// Nop returns a notifier that discards everything.
func Nop() Notifier {
	return Func(func(context.Context, model.Severity, string, map[string]any) error {
		return nil
	})
}
