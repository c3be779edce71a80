package notify

import (
	"fmt"
	"strings"

	twilio "github.com/twilio/twilio-go"
	openapi "github.com/twilio/twilio-go/rest/api/v2010"
	"go.uber.org/zap"
)

// Notifier sends WhatsApp alerts when a scheduled run fails, so a
// silently stale display does not go unnoticed. It is optional: with
// incomplete credentials every call is a logged no-op.
type Notifier struct {
	client       *twilio.RestClient
	fromWhatsApp string
	toWhatsApp   string
	log          *zap.Logger
}

// New creates a Notifier bound to the configured sender and recipient.
// Any empty argument disables alerting.
func New(accountSID, authToken, fromWhatsApp, toWhatsApp string, log *zap.Logger) *Notifier {
	n := &Notifier{
		fromWhatsApp: fromWhatsApp,
		toWhatsApp:   toWhatsApp,
		log:          log,
	}
	if accountSID != "" && authToken != "" && fromWhatsApp != "" && toWhatsApp != "" {
		n.client = twilio.NewRestClientWithParams(twilio.ClientParams{Username: accountSID, Password: authToken})
	}
	return n
}

// AlertRunFailure reports a failed scheduled run. Best effort; errors
// are logged and swallowed.
func (n *Notifier) AlertRunFailure(runErr string) {
	if n.client == nil {
		return
	}

	body := fmt.Sprintf("hallboard: scheduled update failed: %s", runErr)
	if err := n.send(body); err != nil {
		n.log.Warn("failure alert not delivered", zap.Error(err))
	}
}

func (n *Notifier) send(body string) error {
	sender := normalizeWhatsAppAddress(n.fromWhatsApp)
	recipient := normalizeWhatsAppAddress(n.toWhatsApp)
	if sender == "" || recipient == "" {
		return fmt.Errorf("whatsapp sender or recipient not configured")
	}

	params := &openapi.CreateMessageParams{}
	params.SetTo(recipient)
	params.SetFrom(sender)
	params.SetBody(body)

	if _, err := n.client.Api.CreateMessage(params); err != nil {
		return fmt.Errorf("twilio send message: %w", err)
	}
	return nil
}

func normalizeWhatsAppAddress(number string) string {
	trimmed := strings.TrimSpace(number)
	if trimmed == "" {
		return ""
	}
	if strings.HasPrefix(trimmed, "whatsapp:") {
		return trimmed
	}
	if strings.HasPrefix(trimmed, "+") {
		return "whatsapp:" + trimmed
	}
	return "whatsapp:+" + trimmed
}
