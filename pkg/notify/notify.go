// Package notify implements the outbound notification fan-out used by the
// timeout reaper's warning step: a small provider registry with concrete
// Slack and SMTP providers.
package notify

import "context"

// Message is one notification to deliver to a set of recipients.
type Message struct {
	TopologyID  string
	TopologyURL string
	Subject     string
	Body        string
	Recipients  []string
}

// Provider delivers a Message through one outbound channel. IsEnabled lets
// the registry skip a provider whose configuration probe never passed
// (e.g. no Slack bot token configured), rather than failing loudly on
// every send.
type Provider interface {
	Name() string
	IsEnabled() bool
	Send(ctx context.Context, msg Message) error
}

// Registry holds every configured Provider and fans a Message out to all
// of them.
type Registry struct {
	providers []Provider
}

// NewRegistry builds a Registry from a set of providers, in registration
// order.
func NewRegistry(providers ...Provider) *Registry {
	return &Registry{providers: providers}
}

// Register appends a provider.
func (r *Registry) Register(p Provider) {
	r.providers = append(r.providers, p)
}

// Send delivers msg through every enabled provider, collecting the
// providers that failed rather than aborting on the first error — a
// reaper warning should still reach Slack even if SMTP is misconfigured.
func (r *Registry) Send(ctx context.Context, msg Message) map[string]error {
	failures := make(map[string]error)
	for _, p := range r.providers {
		if !p.IsEnabled() {
			continue
		}
		if err := p.Send(ctx, msg); err != nil {
			failures[p.Name()] = err
		}
	}
	return failures
}
