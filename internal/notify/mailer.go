// Package notify delivers completion emails for registered tasks.
package notify

import (
	"fmt"
	"log"

	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"
)

// Mailer triggers delivery of a completion notice. The worker only marks a
// registration resolved after Send returns without error.
type Mailer interface {
	Send(to, taskID string) error
}

// SendGridMailer delivers through the SendGrid API.
type SendGridMailer struct {
	client      *sendgrid.Client
	fromName    string
	fromAddress string
}

// NewSendGridMailer constructs a mailer with the given API key and sender.
func NewSendGridMailer(apiKey, fromName, fromAddress string) *SendGridMailer {
	return &SendGridMailer{
		client:      sendgrid.NewSendClient(apiKey),
		fromName:    fromName,
		fromAddress: fromAddress,
	}
}

func (m *SendGridMailer) Send(to, taskID string) error {
	from := mail.NewEmail(m.fromName, m.fromAddress)
	toEmail := mail.NewEmail("", to)
	subject := "Your study plan is ready"
	body := fmt.Sprintf("Processing for task %s has finished. Your study plan is ready to download.", taskID)
	email := mail.NewSingleEmail(from, subject, toEmail, body, body)
	response, err := m.client.Send(email)
	if err != nil {
		return fmt.Errorf("send email: %w", err)
	}
	if response.StatusCode >= 400 {
		return fmt.Errorf("sendgrid error: status %d", response.StatusCode)
	}
	log.Printf("completion email sent to %s for task %s (status: %d)", to, taskID, response.StatusCode)
	return nil
}

// LogMailer is the fallback used when no SendGrid key is configured; it only
// records that a delivery would have happened.
type LogMailer struct{}

func (LogMailer) Send(to, taskID string) error {
	log.Printf("would send completion email to %s for task %s", to, taskID)
	return nil
}
