// Package notify delivers the "your model is ready" email.
package notify

import (
	"bytes"
	"context"
	"html/template"

	"go.uber.org/zap"
)

const (
	subject      = "[Notice] Your 3D model is ready"
	detailSent   = "Email sent successfully."
	detailNoMail = "email delivery is not configured"
)

// Sender delivers one HTML message.
type Sender interface {
	Send(ctx context.Context, to, subject, htmlBody string) error
}

var resultTemplate = template.Must(template.New("result").Parse(`<!DOCTYPE html>
<html lang="en">
<head>
    <meta charset="UTF-8">
    <meta name="viewport" content="width=device-width, initial-scale=1.0">
</head>
<body style="margin: 0; padding: 0; font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, Helvetica, Arial, sans-serif; background-color: #f4f4f4;">
    <div style="width: 100%; max-width: 600px; margin: 40px auto; background-color: #ffffff; border-radius: 8px; box-shadow: 0 4px 10px rgba(0,0,0,0.1); overflow: hidden;">
        <div style="padding: 40px 30px; text-align: center;">
            <h1 style="color: #333333; font-size: 24px; margin-top: 0; margin-bottom: 20px;">Your 3D model is ready!</h1>
            <p style="color: #555555; font-size: 16px; line-height: 1.6;">
                The 3D model generated from your image is ready.<br>
                Use the button below to open it in the viewer.
            </p>
            <a href="{{.ViewerURL}}" target="_blank" style="display: inline-block; background-color: #007bff; color: #ffffff; padding: 12px 24px; margin: 30px 0; font-size: 16px; font-weight: bold; text-decoration: none; border-radius: 5px;">
                View 3D model
            </a>
        </div>
    </div>
</body>
</html>
`))

// Mailer sends completion notices. A nil sender means email is disabled.
type Mailer struct {
	sender Sender
	logger *zap.Logger
}

func NewMailer(sender Sender, logger *zap.Logger) *Mailer {
	return &Mailer{sender: sender, logger: logger}
}

// Notify never fails the caller: every problem is reported through the
// returned flag and detail.
func (m *Mailer) Notify(ctx context.Context, recipient, viewerURL string) (bool, string) {
	if m.sender == nil {
		return false, detailNoMail
	}

	var body bytes.Buffer
	if err := resultTemplate.Execute(&body, struct{ ViewerURL string }{viewerURL}); err != nil {
		m.logger.Error("Failed to render result email", zap.Error(err))
		return false, err.Error()
	}

	if err := m.sender.Send(ctx, recipient, subject, body.String()); err != nil {
		m.logger.Warn("Failed to send result email",
			zap.String("recipient", recipient),
			zap.Error(err),
		)
		return false, err.Error()
	}

	m.logger.Info("Result email sent", zap.String("recipient", recipient))
	return true, detailSent
}
