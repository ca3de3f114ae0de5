package services

import (
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sns"

	"github.com/cloudpilot-labs/cloudpilot/internal/domain/incident"
	apperrors "github.com/cloudpilot-labs/cloudpilot/internal/pkg/errors"
	"github.com/cloudpilot-labs/cloudpilot/internal/pkg/logger"
)

// snsAPI is the slice of the SNS client the alert service uses.
type snsAPI interface {
	Publish(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error)
}

// AlertService publishes incident digests to an SNS topic.
type AlertService struct {
	client   snsAPI
	topicARN string
	logger   *logger.Logger
}

// NewAlertService creates an alert service from a shared AWS config.
func NewAlertService(cfg aws.Config, topicARN string, log *logger.Logger) *AlertService {
	return &AlertService{client: sns.NewFromConfig(cfg), topicARN: topicARN, logger: log}
}

// Notify publishes one message summarizing the given incidents.
func (s *AlertService) Notify(ctx context.Context, incidents []incident.Incident) error {
	if len(incidents) == 0 {
		return nil
	}

	subject := fmt.Sprintf("CloudPilot: %d incident(s) detected", len(incidents))
	_, err := s.client.Publish(ctx, &sns.PublishInput{
		TopicArn: aws.String(s.topicARN),
		Subject:  aws.String(subject),
		Message:  aws.String(formatAlertMessage(incidents)),
	})
	if err != nil {
		return apperrors.ProviderAPI("failed to publish SNS alert", err)
	}

	s.logger.With("count", len(incidents)).Info("published incident alert")
	return nil
}

func formatAlertMessage(incidents []incident.Incident) string {
	var b strings.Builder
	for _, inc := range incidents {
		fmt.Fprintf(&b, "[%s] %s\n", inc.Severity, inc.Title)
		fmt.Fprintf(&b, "Resource: %s\n", inc.Resource)
		fmt.Fprintf(&b, "%s\n", inc.Description)
		fmt.Fprintf(&b, "Suggested fix:\n%s\n\n", inc.SuggestedFix)
	}
	return b.String()
}
