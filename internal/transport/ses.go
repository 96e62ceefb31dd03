package transport

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sesv2/types"
	"github.com/aws/smithy-go"

	"github.com/ignite/campaign-mailer/internal/config"
	"github.com/ignite/campaign-mailer/internal/domain"
	"github.com/ignite/campaign-mailer/internal/pkg/logger"
)

// SESAPI is the subset of the SES v2 client the sender uses.
type SESAPI interface {
	SendEmail(ctx context.Context, params *sesv2.SendEmailInput, optFns ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error)
}

// SESSender sends email via AWS SES v2.
type SESSender struct {
	client           SESAPI
	configurationSet string
}

// NewSES creates an SES sender. Static credentials are used when configured,
// otherwise the default AWS credential chain.
func NewSES(ctx context.Context, cfg config.SESConfig) (*SESSender, error) {
	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(cfg.Region)}
	if cfg.AccessKey != "" && cfg.SecretKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("loading AWS config: %w", err)
	}
	return NewSESWithClient(sesv2.NewFromConfig(awsCfg), cfg.ConfigurationSet), nil
}

// NewSESWithClient wraps an existing SES client.
func NewSESWithClient(client SESAPI, configurationSet string) *SESSender {
	return &SESSender{client: client, configurationSet: configurationSet}
}

// SendOne delivers a single email. Messages with attachments go out as raw
// MIME; everything else uses SES simple content.
func (s *SESSender) SendOne(ctx context.Context, msg *domain.EmailMessage) domain.SendResult {
	input := &sesv2.SendEmailInput{
		FromEmailAddress: aws.String(formatAddress(msg.FromName, msg.FromEmail)),
		Destination:      &types.Destination{ToAddresses: []string{msg.To}},
		EmailTags: []types.MessageTag{
			{Name: aws.String("campaign_id"), Value: aws.String(msg.CampaignID)},
			{Name: aws.String("recipient_id"), Value: aws.String(msg.RecipientID)},
		},
	}
	if s.configurationSet != "" {
		input.ConfigurationSetName = aws.String(s.configurationSet)
	}
	if msg.ReplyTo != "" {
		input.ReplyToAddresses = []string{msg.ReplyTo}
	}

	if len(msg.Attachments) > 0 {
		raw, err := buildMIME(msg)
		if err != nil {
			return Failure{Kind: KindRejected, Message: err.Error()}.Result()
		}
		input.Content = &types.EmailContent{Raw: &types.RawMessage{Data: raw}}
	} else {
		body := &types.Body{
			Html: &types.Content{Data: aws.String(msg.HTML), Charset: aws.String("UTF-8")},
		}
		if msg.Text != "" {
			body.Text = &types.Content{Data: aws.String(msg.Text), Charset: aws.String("UTF-8")}
		}
		input.Content = &types.EmailContent{
			Simple: &types.Message{
				Subject: &types.Content{Data: aws.String(msg.Subject), Charset: aws.String("UTF-8")},
				Body:    body,
			},
		}
	}

	out, err := s.client.SendEmail(ctx, input)
	if err != nil {
		f := classifySESError(err)
		logger.Warn("ses send failed", "email", msg.To, "kind", f.Kind, "error", err)
		return f.Result()
	}

	return Delivered(aws.ToString(out.MessageId))
}

func classifySESError(err error) Failure {
	if errors.Is(err, context.DeadlineExceeded) {
		return Failure{Kind: KindTimeout, Message: "ses request timed out"}
	}

	var apiErr smithy.APIError
	if !errors.As(err, &apiErr) {
		return Failure{Kind: KindProviderError, Message: err.Error()}
	}

	code, message := apiErr.ErrorCode(), apiErr.ErrorMessage()
	lower := strings.ToLower(message)
	f := Failure{Message: message, Code: code}

	switch {
	case strings.Contains(lower, "suppression list") || strings.Contains(lower, "suppressed"):
		f.Kind = KindSuppressed
	case code == "TooManyRequestsException" || code == "LimitExceededException" || code == "ThrottlingException":
		f.Kind = KindQuotaExceeded
	case strings.Contains(lower, "illegal address") || strings.Contains(lower, "invalid address") ||
		strings.Contains(lower, "missing final '@domain'"):
		f.Kind = KindInvalidAddress
	case code == "MessageRejected" || code == "MailFromDomainNotVerifiedException" ||
		code == "AccountSuspendedException" || code == "SendingPausedException" ||
		code == "BadRequestException" || code == "NotFoundException":
		f.Kind = KindRejected
	default:
		f.Kind = KindProviderError
	}
	if f.Message == "" {
		f.Message = err.Error()
	}
	return f
}
