package email

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sesv2/types"
	"github.com/aws/smithy-go"

	"github.com/ignite/newsletter-delivery/internal/domain"
	"github.com/ignite/newsletter-delivery/internal/pkg/logger"
	"github.com/ignite/newsletter-delivery/internal/service/sending"
)

// SESAPI is the subset of the SES v2 client used here.
type SESAPI interface {
	SendEmail(ctx context.Context, in *sesv2.SendEmailInput, optFns ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error)
}

// SESConfig selects the region and, optionally, static credentials. With no
// keys the default AWS credential chain is used.
type SESConfig struct {
	Region    string
	AccessKey string
	SecretKey string
}

// SESSender sends email via AWS SES using the SDK v2.
type SESSender struct {
	client SESAPI
	sender domain.SubscriberEmail
	log    *logger.Logger
}

// NewSESSender builds an SES client from cfg.
func NewSESSender(ctx context.Context, cfg SESConfig, sender domain.SubscriberEmail) (*SESSender, error) {
	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}
	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(region)}
	if cfg.AccessKey != "" && cfg.SecretKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load AWS config: %w", err)
	}
	return NewSESSenderWithClient(sesv2.NewFromConfig(awsCfg), sender), nil
}

// NewSESSenderWithClient wraps an existing SES client.
func NewSESSenderWithClient(client SESAPI, sender domain.SubscriberEmail) *SESSender {
	return &SESSender{client: client, sender: sender, log: logger.Named("ses")}
}

// Send delivers a single email through AWS SES.
func (s *SESSender) Send(ctx context.Context, to, subject, htmlBody, textBody string) error {
	input := &sesv2.SendEmailInput{
		FromEmailAddress: aws.String(s.sender.String()),
		Destination:      &types.Destination{ToAddresses: []string{to}},
		Content: &types.EmailContent{
			Simple: &types.Message{
				Subject: &types.Content{Data: aws.String(subject), Charset: aws.String("UTF-8")},
				Body: &types.Body{
					Html: &types.Content{Data: aws.String(htmlBody), Charset: aws.String("UTF-8")},
					Text: &types.Content{Data: aws.String(textBody), Charset: aws.String("UTF-8")},
				},
			},
		},
	}

	out, err := s.client.SendEmail(ctx, input)
	if err != nil {
		err = fmt.Errorf("ses send: %w", err)
		if isPermanentSESError(err) {
			return sending.Permanent(err)
		}
		return err
	}

	s.log.Debug("Sent", "recipient", to, "message_id", aws.ToString(out.MessageId))
	return nil
}

// isPermanentSESError reports rejections tied to the message or recipient.
// Throttling and account-level pauses are transient.
func isPermanentSESError(err error) bool {
	var apiErr smithy.APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	switch apiErr.ErrorCode() {
	case "MessageRejected", "BadRequestException":
		return true
	}
	return false
}
