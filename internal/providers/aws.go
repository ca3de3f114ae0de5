package providers

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"

	"github.com/cloudpilot-labs/cloudpilot/internal/config"
)

// Credentials holds explicit AWS credentials. When empty, the default
// credential chain (environment, shared config, instance role) applies.
type Credentials struct {
	AccessKeyID     string
	SecretAccessKey string
}

// NewAWSConfig builds the SDK config used by all sources.
func NewAWSConfig(ctx context.Context, settings config.Settings, creds Credentials) (aws.Config, error) {
	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(settings.Region),
	}
	if creds.AccessKeyID != "" && creds.SecretAccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(creds.AccessKeyID, creds.SecretAccessKey, ""),
		))
	} else if settings.AWSProfile != "" {
		opts = append(opts, awsconfig.WithSharedConfigProfile(settings.AWSProfile))
	}
	return awsconfig.LoadDefaultConfig(ctx, opts...)
}
