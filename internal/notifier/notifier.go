// Package notifier
package notifier

// Notifier interface for sending notifications (e.g., Telegram).
type Notifier interface {
	Send(msg string) error
	SendWithRetry(msg string) error
}

// Noop discards every message. Used in backtests.
type Noop struct{}

func (Noop) Send(msg string) error          { return nil }
func (Noop) SendWithRetry(msg string) error { return nil }
