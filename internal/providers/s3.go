package providers

import (
	"context"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/cloudpilot-labs/cloudpilot/internal/pkg/logger"
)

// S3PolicySource fetches bucket policies as supporting evidence for
// access-denied incidents. Empty-on-error like the other sources; a bucket
// without a policy is not an error worth surfacing here.
type S3PolicySource struct {
	s3     *s3.Client
	logger *logger.Logger
}

// NewS3PolicySource creates a source from a shared AWS config.
func NewS3PolicySource(cfg aws.Config, log *logger.Logger) *S3PolicySource {
	return &S3PolicySource{s3: s3.NewFromConfig(cfg), logger: log}
}

// GetBucketPolicy returns the raw policy document for the bucket owning the
// given S3 resource ARN (or bare bucket name), or "" when unavailable.
func (s *S3PolicySource) GetBucketPolicy(ctx context.Context, resource string) string {
	bucket := BucketFromResource(resource)
	if bucket == "" {
		return ""
	}

	out, err := s.s3.GetBucketPolicy(ctx, &s3.GetBucketPolicyInput{Bucket: aws.String(bucket)})
	if err != nil {
		s.logger.With("bucket", bucket).WithError(err).Warn("failed to fetch bucket policy")
		return ""
	}
	return aws.ToString(out.Policy)
}

// BucketFromResource extracts the bucket name from an S3 ARN such as
// "arn:aws:s3:::my-bucket/key" or from a bare "my-bucket/key" path.
func BucketFromResource(resource string) string {
	if idx := strings.Index(resource, ":::"); idx >= 0 {
		resource = resource[idx+3:]
	}
	bucket, _, _ := strings.Cut(resource, "/")
	return bucket
}
