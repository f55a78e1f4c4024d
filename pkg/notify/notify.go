// Package notify dispatches the finished report to its reader. Failure here
// is non-fatal by contract: the orchestrator records it on the run context
// and completes anyway.
package notify

import "context"

// Message is a fully rendered notification: the core does no templating.
type Message struct {
	Subject   string
	Body      string
	Recipient string
}

// Notifier delivers one message.
type Notifier interface {
	Send(ctx context.Context, msg Message) error
}

// Nop discards every message; used when notifications are disabled.
type Nop struct{}

// Send implements Notifier.
func (Nop) Send(context.Context, Message) error { return nil }

var _ Notifier = Nop{}
