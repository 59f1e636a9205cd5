package notification

import (
	"context"
	"log/slog"
)

const (
	// KindPreflightBlocked is emitted when a preflight authorization is blocked.
	KindPreflightBlocked = "preflight_blocked"
	// KindReconciliationRequired is emitted when a processor refund succeeded
	// but the ledger write did not, leaving state to reconcile manually.
	KindReconciliationRequired = "refund_reconciliation_required"
)

// Event describes a side-channel record emitted outside the ledger's
// consistency boundary.
type Event struct {
	Kind     string
	LedgerID string
	Subject  string
	Detail   map[string]string
}

// Notifier delivers events to downstream systems on a best-effort basis.
// Delivery may silently fail; callers must never let a notification failure
// roll back or block a ledger mutation.
type Notifier interface {
	NotifyBestEffort(ctx context.Context, event Event)
}

// LoggerNotifier writes events to the structured logger.
type LoggerNotifier struct {
	logger *slog.Logger
}

// NewLoggerNotifier constructs a logging notifier.
func NewLoggerNotifier(logger *slog.Logger) *LoggerNotifier {
	return &LoggerNotifier{logger: logger}
}

// NotifyBestEffort writes the event to the structured logger.
func (n *LoggerNotifier) NotifyBestEffort(_ context.Context, event Event) {
	if n == nil || n.logger == nil {
		return
	}
	attrs := []any{
		slog.String("kind", event.Kind),
		slog.String("ledger_id", event.LedgerID),
		slog.String("subject", event.Subject),
	}
	for k, v := range event.Detail {
		attrs = append(attrs, slog.String(k, v))
	}
	n.logger.Warn("event", attrs...)
}
