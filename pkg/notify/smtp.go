package notify

import (
	"context"
	"fmt"
	"net/smtp"
)

// SMTPProvider sends a topology's timeout warning as plain email. It is
// deliberately minimal: a direct net/smtp.SendMail call, no templating or
// retry — the ambient logging layer records delivery failures for
// operators to act on.
type SMTPProvider struct {
	addr string
	from string
	auth smtp.Auth
}

// NewSMTPProvider builds a provider submitting through addr ("host:port")
// as from. An empty addr yields a disabled provider.
func NewSMTPProvider(addr, from string) *SMTPProvider {
	return &SMTPProvider{addr: addr, from: from}
}

func (p *SMTPProvider) Name() string { return "smtp" }

func (p *SMTPProvider) IsEnabled() bool { return p.addr != "" && p.from != "" }

func (p *SMTPProvider) Send(ctx context.Context, msg Message) error {
	if !p.IsEnabled() {
		return nil
	}
	if len(msg.Recipients) == 0 {
		return nil
	}
	body := fmt.Sprintf("Subject: %s\r\n\r\n%s\r\n", msg.Subject, msg.Body)
	return smtp.SendMail(p.addr, p.auth, p.from, msg.Recipients, []byte(body))
}
