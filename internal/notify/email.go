package notify

import (
	"fmt"
	"net/smtp"
	"time"

	"github.com/jordan-wright/email"
	"github.com/sirupsen/logrus"

	"github.com/mledur/billkeeper/internal/config"
	"github.com/mledur/billkeeper/internal/models"
)

// Sender mails overdue-bill reminders via SMTP
type Sender struct {
	cfg *config.Config
	log *logrus.Logger
}

// NewSender creates a new reminder sender
func NewSender(cfg *config.Config, log *logrus.Logger) *Sender {
	return &Sender{cfg: cfg, log: log}
}

// SendOverdueNotice sends one email listing the bills the daily sweep
// just marked overdue. Failures are logged and swallowed; reminders are
// best-effort and never block the sweep.
func (s *Sender) SendOverdueNotice(to string, overdue []models.Account) error {
	if len(overdue) == 0 {
		return nil
	}

	e := email.NewEmail()
	e.From = s.cfg.SenderEmail
	e.To = []string{to}
	e.Subject = fmt.Sprintf("Overdue Bills Notice (%d)", len(overdue))

	body := "Hello,\n\nThe following bills are now overdue:\n\n"
	for _, a := range overdue {
		body += fmt.Sprintf("  - %s: %s due on %s\n", a.Name, a.Amount.StringFixed(2), a.DueDate)
	}
	body += fmt.Sprintf("\nChecked on %s.\n\nBest regards,\nBillkeeper", time.Now().Format("2006-01-02"))
	e.Text = []byte(body)

	addr := fmt.Sprintf("%s:%s", s.cfg.SMTPHost, s.cfg.SMTPPort)
	auth := smtp.PlainAuth("", s.cfg.SMTPUsername, s.cfg.SMTPPassword, s.cfg.SMTPHost)
	if err := e.Send(addr, auth); err != nil {
		s.log.Errorf("Failed to send overdue notice to %s: %v", to, err)
		return fmt.Errorf("failed to send overdue notice: %w", err)
	}

	s.log.Infof("Overdue notice sent to %s for %d bills", to, len(overdue))
	return nil
}
