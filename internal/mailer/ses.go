package mailer

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/ses"
	"github.com/aws/aws-sdk-go/service/ses/sesiface"
)

const charset = "UTF-8"

// SESMailer relays plain text emails through Amazon SES.
type SESMailer struct {
	client sesiface.SESAPI
	sender string
}

// NewSESMailer builds a mailer from the default AWS credential chain.
func NewSESMailer(region, sender string) (*SESMailer, error) {
	if sender == "" {
		return nil, errors.New("mailer: sender address is required")
	}
	sess, err := session.NewSession(&aws.Config{Region: aws.String(region)})
	if err != nil {
		return nil, fmt.Errorf("mailer: create aws session: %w", err)
	}
	return &SESMailer{client: ses.New(sess), sender: sender}, nil
}

// NewSESMailerWithClient is used with a preconfigured or fake SES client.
func NewSESMailerWithClient(client sesiface.SESAPI, sender string) *SESMailer {
	return &SESMailer{client: client, sender: sender}
}

func (m *SESMailer) Send(ctx context.Context, to, subject, body string) error {
	if to == "" {
		return errors.New("mailer: recipient address is empty")
	}
	input := &ses.SendEmailInput{
		Source: aws.String(m.sender),
		Destination: &ses.Destination{
			ToAddresses: []*string{aws.String(to)},
		},
		Message: &ses.Message{
			Subject: &ses.Content{Charset: aws.String(charset), Data: aws.String(subject)},
			Body: &ses.Body{
				Text: &ses.Content{Charset: aws.String(charset), Data: aws.String(body)},
			},
		},
	}
	if _, err := m.client.SendEmailWithContext(ctx, input); err != nil {
		return fmt.Errorf("mailer: send email: %w", err)
	}
	return nil
}
