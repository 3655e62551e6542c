package breakglass

import (
	"bytes"
	"context"
	"fmt"
	htmltemplate "html/template"
	texttemplate "text/template"

	"github.com/go-logr/logr"

	awslib "github.com/eculver/rvm-breakglass/pkg/aws"
)

const emailSubject = "Sensitive: Break Glass access"

var textBody = texttemplate.Must(texttemplate.New("text").Parse(
	`DO NOT FORWARD THIS EMAIL. IT CONTAINS AN AWS SIGN-IN TOKEN.

This email was sent by Role Vending Machine per {{.Requester}}'s request for break glass access.

Please follow the link below to access the AWS console:

{{.URL}}
`))

var htmlBody = htmltemplate.Must(htmltemplate.New("html").Parse(`<html>
<head></head>
<body>
  <h1>Hello!</h1>
  <h2>DO NOT FORWARD THIS EMAIL. IT CONTAINS AN AWS SIGN-IN TOKEN.</h2>
  <p>This email was sent by Role Vending Machine per {{.Requester}}'s request for break glass access.
    <br>
    <br>
    Please follow the link below to access the AWS console:
    <br>
  </p>
  <p><a href="{{.URL}}">{{.URL}}</a></p>
</body>
</html>
`))

type messageData struct {
	Requester string
	URL       string
}

// Notifier emails sign-in URLs back to the requester.
type Notifier struct {
	mailer awslib.Mailer
}

func NewNotifier(mailer awslib.Mailer) *Notifier {
	return &Notifier{mailer: mailer}
}

// Message renders the break-glass email for req. The requester's own address
// is both sender and recipient.
func (n *Notifier) Message(req Request, loginURL string) (awslib.Email, error) {
	data := messageData{Requester: req.Requester, URL: loginURL}

	var text, html bytes.Buffer
	if err := textBody.Execute(&text, data); err != nil {
		return awslib.Email{}, fmt.Errorf("failed to render text body: %w", err)
	}
	if err := htmlBody.Execute(&html, data); err != nil {
		return awslib.Email{}, fmt.Errorf("failed to render HTML body: %w", err)
	}

	return awslib.Email{
		From:     req.Email,
		To:       []string{req.Email},
		Subject:  emailSubject,
		TextBody: text.String(),
		HTMLBody: html.String(),
	}, nil
}

// Notify sends loginURL to req.Email. Failures are logged and returned for
// the caller to classify.
func (n *Notifier) Notify(ctx context.Context, req Request, loginURL string) error {
	log := logr.FromContextOrDiscard(ctx).WithValues("email", req.Email)

	msg, err := n.Message(req, loginURL)
	if err != nil {
		log.Error(err, "Failed to render break-glass email")
		return err
	}

	messageID, err := n.mailer.SendEmail(ctx, msg)
	if err != nil {
		log.Error(err, "Failed to send break-glass email")
		return err
	}

	log.Info("Email sent", "messageID", messageID)
	return nil
}
