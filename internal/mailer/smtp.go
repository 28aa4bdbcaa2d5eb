// Package mailer delivers verification codes over SMTP. Delivery itself is
// an external concern; this package only adapts the dispatcher interface
// the verification service consumes.
package mailer

import (
	"fmt"

	"go.uber.org/zap"
	"gopkg.in/gomail.v2"

	"authcore/internal/config"
	"authcore/internal/model"
	"authcore/internal/util"
)

// SMTPDispatcher sends verification codes by email through an SMTP relay.
type SMTPDispatcher struct {
	dialer *gomail.Dialer
	from   string
	logger *zap.Logger
}

func NewSMTPDispatcher(cfg *config.Config, logger *zap.Logger) *SMTPDispatcher {
	smtp := cfg.SMTP
	return &SMTPDispatcher{
		dialer: gomail.NewDialer(smtp.Host, smtp.Port, smtp.Username, smtp.Password),
		from:   smtp.From,
		logger: logger,
	}
}

var subjects = map[model.Purpose]string{
	model.PurposeLogin:         "Your sign-in code",
	model.PurposeRegister:      "Confirm your registration",
	model.PurposeResetPassword: "Password reset code",
	model.PurposeChangeEmail:   "Confirm your new email address",
	model.PurposeVerifyEmail:   "Verify your email address",
}

// Send delivers a verification code to the recipient. A false return means
// the code was persisted but never left the building; the caller surfaces
// that as a dispatch failure.
func (d *SMTPDispatcher) Send(to string, purpose model.Purpose, code string) bool {
	subject, ok := subjects[purpose]
	if !ok {
		subject = "Your verification code"
	}

	m := gomail.NewMessage()
	m.SetHeader("From", d.from)
	m.SetHeader("To", to)
	m.SetHeader("Subject", subject)

	body := fmt.Sprintf(`
		<p>Your verification code is:</p>
		<h2>%s</h2>
		<p>The code expires in 10 minutes. If you did not request it, you can ignore this email.</p>
	`, code)
	m.SetBody("text/html", body)

	if err := d.dialer.DialAndSend(m); err != nil {
		d.logger.Error("Failed to send verification code email",
			util.String("to", to),
			util.String("purpose", string(purpose)),
			util.ErrorField(err))
		return false
	}

	d.logger.Info("Verification code dispatched",
		util.String("to", to),
		util.String("purpose", string(purpose)))

	return true
}
