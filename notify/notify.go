/*
notify.go - Notification publishers

PURPOSE:
  Concrete delivery channels for outbox notifications. The email publisher
  mails the operations inbox when a loan goes overdue or a payment lands;
  the log publisher is the no-SMTP fallback used in development and tests.
*/
package notify

import (
	"context"
	"fmt"
	"net/smtp"
	"time"

	"github.com/jordan-wright/email"
	"github.com/sirupsen/logrus"
)

// SMTPConfig carries the mail relay settings.
type SMTPConfig struct {
	Host     string
	Port     string
	Username string
	Password string
	From     string
	To       string
}

// EmailPublisher delivers notifications over SMTP.
type EmailPublisher struct {
	cfg SMTPConfig
	log *logrus.Logger
}

func NewEmailPublisher(cfg SMTPConfig, log *logrus.Logger) *EmailPublisher {
	return &EmailPublisher{cfg: cfg, log: log}
}

func (p *EmailPublisher) PublishOverdueLoan(_ context.Context, loanUID string) error {
	subject := "Overdue Loan Notification"
	body := fmt.Sprintf(
		"Loan %s has entered overdue status as of %s.\n"+
			"Overdue interest is now accruing at the penalty rate.\n",
		loanUID, time.Now().UTC().Format("2006-01-02"),
	)
	return p.send(subject, body)
}

func (p *EmailPublisher) PublishReceivedPayment(_ context.Context, movementUID string) error {
	subject := "Payment Received"
	body := fmt.Sprintf(
		"A payment has been recorded in the ledger.\n"+
			"Movement: %s\n"+
			"Recorded at: %s\n",
		movementUID, time.Now().UTC().Format("2006-01-02 15:04:05"),
	)
	return p.send(subject, body)
}

func (p *EmailPublisher) send(subject, body string) error {
	e := email.NewEmail()
	e.From = p.cfg.From
	e.To = []string{p.cfg.To}
	e.Subject = subject
	e.Text = []byte(body + "\nBest regards,\nLending Engine")

	addr := fmt.Sprintf("%s:%s", p.cfg.Host, p.cfg.Port)
	auth := smtp.PlainAuth("", p.cfg.Username, p.cfg.Password, p.cfg.Host)
	if err := e.Send(addr, auth); err != nil {
		p.log.Errorf("Failed to send email to %s: %v", p.cfg.To, err)
		return fmt.Errorf("failed to send email: %w", err)
	}

	p.log.Infof("Email sent to %s: %s", p.cfg.To, subject)
	return nil
}

// LogPublisher writes notifications to the application log. Used when no
// SMTP relay is configured.
type LogPublisher struct {
	log *logrus.Logger
}

func NewLogPublisher(log *logrus.Logger) *LogPublisher {
	return &LogPublisher{log: log}
}

func (p *LogPublisher) PublishOverdueLoan(_ context.Context, loanUID string) error {
	p.log.WithField("loanUid", loanUID).Info("notification: loan overdue")
	return nil
}

func (p *LogPublisher) PublishReceivedPayment(_ context.Context, movementUID string) error {
	p.log.WithField("movementUid", movementUID).Info("notification: payment received")
	return nil
}
