// Package notify implements the welcome-email side channel. It never
// blocks the calling flow on infrastructure: a missing SMTP
// configuration is a successful no-op, and only a malformed address is
// an error the caller sees before any network effect.
package notify

import (
	"context"
	"errors"
	"fmt"
	"regexp"

	"github.com/wneessen/go-mail"

	"github.com/surgutroads/roadwatch/internal/config"
	"github.com/surgutroads/roadwatch/internal/log"
)

// ValidationError rejects malformed user input before any send
// attempt.
type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string { return e.Msg }

var emailPattern = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)

const welcomeSubject = "Добро пожаловать в СургутДороги!"

const welcomeText = `СургутДороги

Здравствуйте!

Вы успешно подписались на уведомления о состоянии дорог в Сургуте.

Теперь вы будете получать оповещения о:
- Снежных заносах
- Работе снегоуборочной техники
- Ямах на дорогах
- Лужах и затоплениях

Это письмо было отправлено автоматически системой мониторинга дорог СургутДороги.
`

const welcomeHTML = `<div style="font-family: Arial, sans-serif; max-width: 600px; margin: 0 auto;">
  <h1 style="color: #2563eb;">🚗 СургутДороги</h1>
  <p>Здравствуйте!</p>
  <p>Вы успешно подписались на уведомления о состоянии дорог в Сургуте.</p>
  <p>Теперь вы будете получать оповещения о:</p>
  <ul>
    <li>🌨️ Снежных заносах</li>
    <li>🚜 Работе снегоуборочной техники</li>
    <li>🕳️ Ямах на дорогах</li>
    <li>💧 Лужах и затоплениях</li>
  </ul>
  <p style="color: #6b7280; font-size: 12px; margin-top: 30px;">
    Это письмо было отправлено автоматически системой мониторинга дорог СургутДороги.
  </p>
</div>`

// sendFunc delivers a composed message. Swapped in tests.
type sendFunc func(ctx context.Context, msg *mail.Msg) error

// Mailer sends the fixed welcome template over SMTP.
type Mailer struct {
	cfg    config.SMTPConfig
	logger log.Logger
	send   sendFunc
}

// New creates a mailer. With empty SMTP credentials every send is a
// logged no-op that still reports success.
func New(cfg config.SMTPConfig, logger log.Logger) *Mailer {
	if logger == nil {
		logger = log.NewNop()
	}
	m := &Mailer{cfg: cfg, logger: logger.With("component", "notify")}
	m.send = m.smtpSend
	return m
}

// Subscribed reports whether the welcome mail actually went out, as
// opposed to the unconfigured no-op.
type Subscribed struct {
	Sent    bool
	Message string
}

// SendWelcome validates the address and, when SMTP is configured,
// delivers the welcome template.
func (m *Mailer) SendWelcome(ctx context.Context, email string) (*Subscribed, error) {
	if email == "" {
		return nil, &ValidationError{Msg: "Email обязателен"}
	}
	if !emailPattern.MatchString(email) {
		return nil, &ValidationError{Msg: "Неверный формат email"}
	}

	if m.cfg.Username == "" || m.cfg.Password == "" {
		m.logger.Warn("SMTP not configured, skipping welcome email", "email", email)
		return &Subscribed{
			Sent:    false,
			Message: "Email сохранён (отправка письма отключена - настройте SMTP)",
		}, nil
	}

	msg := mail.NewMsg()
	if err := msg.From(m.from()); err != nil {
		return nil, fmt.Errorf("set sender: %w", err)
	}
	if err := msg.To(email); err != nil {
		return nil, &ValidationError{Msg: "Неверный формат email"}
	}
	msg.Subject(welcomeSubject)
	msg.SetBodyString(mail.TypeTextPlain, welcomeText)
	msg.AddAlternativeString(mail.TypeTextHTML, welcomeHTML)

	if err := m.send(ctx, msg); err != nil {
		m.logger.Error("welcome email send failed", "email", email, "error", err)
		return nil, errors.New("Не удалось отправить письмо. Проверьте настройки SMTP.")
	}
	m.logger.Info("welcome email sent", "email", email)
	return &Subscribed{Sent: true, Message: "Приветственное письмо отправлено"}, nil
}

func (m *Mailer) from() string {
	if m.cfg.From != "" {
		return m.cfg.From
	}
	return m.cfg.Username
}

func (m *Mailer) smtpSend(ctx context.Context, msg *mail.Msg) error {
	client, err := mail.NewClient(m.cfg.Host,
		mail.WithPort(m.cfg.Port),
		mail.WithSMTPAuth(mail.SMTPAuthPlain),
		mail.WithUsername(m.cfg.Username),
		mail.WithPassword(m.cfg.Password),
	)
	if err != nil {
		return fmt.Errorf("smtp client: %w", err)
	}
	return client.DialAndSendWithContext(ctx, msg)
}
