package services

import (
	"context"
	"fmt"
	"log/slog"
	"net/mail"
	"time"

	"github.com/BradenHooton/hms-sentinel/pkg/logger"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/aws/aws-sdk-go-v2/service/ses/types"
)

// LockoutNotifier tells an account holder their account was locked.
// Messages never disclose when the lock ends.
type LockoutNotifier interface {
	NotifyAccountLocked(ctx context.Context, identity, tenantID string) error
}

// NoopLockoutNotifier is used when alert emails are disabled
type NoopLockoutNotifier struct{}

func (NoopLockoutNotifier) NotifyAccountLocked(context.Context, string, string) error { return nil }

// SESAPI is the subset of the SES client used here
type SESAPI interface {
	SendEmail(ctx context.Context, params *ses.SendEmailInput, optFns ...func(*ses.Options)) (*ses.SendEmailOutput, error)
}

// SESLockoutNotifier sends lockout alerts with AWS SES
type SESLockoutNotifier struct {
	client      SESAPI
	fromAddress string
	timeout     time.Duration
	logger      *slog.Logger
}

// NewSESLockoutNotifier loads the default AWS config for the region and creates a notifier
func NewSESLockoutNotifier(ctx context.Context, region, fromAddress string, timeout time.Duration, logger *slog.Logger) (*SESLockoutNotifier, error) {
	cfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	return NewSESLockoutNotifierWithClient(ses.NewFromConfig(cfg), fromAddress, timeout, logger), nil
}

// NewSESLockoutNotifierWithClient creates a notifier over an existing SES client
func NewSESLockoutNotifierWithClient(client SESAPI, fromAddress string, timeout time.Duration, logger *slog.Logger) *SESLockoutNotifier {
	return &SESLockoutNotifier{
		client:      client,
		fromAddress: fromAddress,
		timeout:     timeout,
		logger:      logger,
	}
}

// NotifyAccountLocked emails the identity when it is an email address. Other identities are skipped.
func (n *SESLockoutNotifier) NotifyAccountLocked(ctx context.Context, identity, tenantID string) error {
	addr, err := mail.ParseAddress(identity)
	if err != nil {
		n.logger.DebugContext(ctx, "lockout alert skipped, identity is not an email address",
			slog.String("organization_id", tenantID))
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, n.timeout)
	defer cancel()

	textBody := `Your account has been temporarily locked

We detected several unsuccessful sign-in attempts on your account, so sign-in has been
paused for a while to protect it.

If this was you, wait a little and try again, or ask your organization's administrator
to unlock your account.

If this was not you, contact your administrator: someone may be trying to access your account.

This is an automated message. Please do not reply to this email.
`

	input := &ses.SendEmailInput{
		Source: aws.String(n.fromAddress),
		Destination: &types.Destination{
			ToAddresses: []string{addr.Address},
		},
		Message: &types.Message{
			Subject: &types.Content{
				Data: aws.String("Your account has been temporarily locked"),
			},
			Body: &types.Body{
				Text: &types.Content{
					Data: aws.String(textBody),
				},
			},
		},
	}

	if _, err := n.client.SendEmail(ctx, input); err != nil {
		return fmt.Errorf("failed to send lockout alert: %w", err)
	}

	n.logger.InfoContext(ctx, "lockout alert sent",
		slog.String("to", logger.SanitizedEmail(addr.Address)),
		slog.String("organization_id", tenantID),
	)
	return nil
}
