// Package notify holds the outbound channel transports: email (SES or
// SMTP) and the chat webhook.
package notify

import "context"

// EmailMessage is one rendered email ready to send.
type EmailMessage struct {
	From    string
	To      string
	Subject string
	Body    string
}

// Mailer sends one email. Implementations: SESMailer, SMTPMailer.
type Mailer interface {
	Send(ctx context.Context, msg EmailMessage) error
}
