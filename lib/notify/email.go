package notify

import (
	"context"
	"fmt"
	"net/smtp"
	"strings"

	"github.com/jordan-wright/email"
	"go.opentelemetry.io/otel/codes"

	"bibrenew/lib/timezone"
)

type EmailConfig struct {
	Server   string   `json:"server"`
	Port     int      `json:"port"`
	Address  string   `json:"address"`
	Password string   `json:"password"`
	To       []string `json:"to"`
}

type Email struct {
	config EmailConfig
}

func NewEmail(config EmailConfig) Email {
	return Email{config: config}
}

func (Email) Name() string {
	return "email"
}

func (e Email) Send(ctx context.Context, text string) error {
	ctx, span := tracer.Start(ctx, "email:Send")
	defer span.End()

	mail := email.NewEmail()
	mail.From = fmt.Sprintf("bibrenew <%s>", e.config.Address)
	mail.To = e.config.To
	mail.Subject = fmt.Sprintf(
		"Leningen verlengd %s",
		timezone.Now().Format("02/01/2006"),
	)
	mail.Text = []byte(text)

	addr := fmt.Sprintf("%s:%d", e.config.Server, e.config.Port)
	err := mail.Send(
		addr,
		smtp.PlainAuth("", e.config.Address, e.config.Password, e.config.Server),
	)
	if err != nil && strings.Contains(err.Error(), "server doesn't support AUTH") {
		err = mail.Send(addr, nil)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to send email")
		return err
	}

	return nil
}
