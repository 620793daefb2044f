package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/aws/aws-sdk-go-v2/service/ses/types"

	"github.com/lockdown-auth/lockdown/internal/models"
)

// AWSSESNotifyService emails the site administrator when a lockout is created
// or escalated, using AWS SES
type AWSSESNotifyService struct {
	sesClient    *ses.Client
	fromAddress  string
	adminAddress string
	logger       *slog.Logger
}

// NewAWSSESNotifyService creates a new AWS SES notification service
func NewAWSSESNotifyService(region, fromAddress, adminAddress string, logger *slog.Logger) (*AWSSESNotifyService, error) {
	cfg, err := awsconfig.LoadDefaultConfig(context.Background(), awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	return &AWSSESNotifyService{
		sesClient:    ses.NewFromConfig(cfg),
		fromAddress:  fromAddress,
		adminAddress: adminAddress,
		logger:       logger,
	}, nil
}

// SendLockoutNotice emails the administrator about a new or extended lockout
func (s *AWSSESNotifyService) SendLockoutNotice(ctx context.Context, lockout *models.Lockout) error {
	key := "unknown"
	if lockout.IPAddress != nil {
		key = *lockout.IPAddress
	} else if lockout.Username != nil {
		key = *lockout.Username
	}

	subject := fmt.Sprintf("Login lockout: %s", key)
	textBody := fmt.Sprintf(`A login lockout is in effect.

Locked:          %s
Failed attempts: %d
Reason:          %s
Locked at:       %s
Unlocks at:      %s

This is an automated message. Review the attempt log for details.
`,
		key,
		lockout.AttemptCount,
		lockout.Reason,
		lockout.CreatedAt.UTC().Format(time.RFC1123),
		lockout.UnlockAt.UTC().Format(time.RFC1123),
	)

	input := &ses.SendEmailInput{
		Source: aws.String(s.fromAddress),
		Destination: &types.Destination{
			ToAddresses: []string{s.adminAddress},
		},
		Message: &types.Message{
			Subject: &types.Content{
				Data: aws.String(subject),
			},
			Body: &types.Body{
				Text: &types.Content{
					Data: aws.String(textBody),
				},
			},
		},
	}

	if _, err := s.sesClient.SendEmail(ctx, input); err != nil {
		s.logger.Error("failed to send lockout notice",
			slog.String("to", s.adminAddress),
			slog.Any("error", err))
		return fmt.Errorf("failed to send lockout notice: %w", err)
	}

	s.logger.Info("lockout notice sent",
		slog.String("to", s.adminAddress),
		slog.String("locked", key))

	return nil
}
