package providers

import (
	"context"
	"sort"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	ec2types "github.com/aws/aws-sdk-go-v2/service/ec2/types"
	"github.com/aws/aws-sdk-go-v2/service/lambda"

	"github.com/cloudpilot-labs/cloudpilot/internal/domain/telemetry"
	apperrors "github.com/cloudpilot-labs/cloudpilot/internal/pkg/errors"
	"github.com/cloudpilot-labs/cloudpilot/internal/pkg/logger"
)

// CloudWatchSource implements telemetry.MetricsSource against CloudWatch,
// with EC2 and Lambda clients for resource inventories. Transport errors are
// logged and converted to empty results at this boundary; detectors never see
// them.
type CloudWatchSource struct {
	cw     *cloudwatch.Client
	ec2    *ec2.Client
	lambda *lambda.Client
	logger *logger.Logger
}

// NewCloudWatchSource creates a source from a shared AWS config.
func NewCloudWatchSource(cfg aws.Config, log *logger.Logger) *CloudWatchSource {
	return &CloudWatchSource{
		cw:     cloudwatch.NewFromConfig(cfg),
		ec2:    ec2.NewFromConfig(cfg),
		lambda: lambda.NewFromConfig(cfg),
		logger: log,
	}
}

// VerifyAccess confirms the credentials can make a read-only call. Used to
// distinguish an authentication failure from an empty scan.
func (s *CloudWatchSource) VerifyAccess(ctx context.Context) error {
	if _, err := s.ec2.DescribeRegions(ctx, &ec2.DescribeRegionsInput{}); err != nil {
		return apperrors.ProviderAuth("aws credential check failed", err)
	}
	return nil
}

// ListInstances returns running EC2 instance IDs in the region.
func (s *CloudWatchSource) ListInstances(ctx context.Context) []string {
	var instances []string
	p := ec2.NewDescribeInstancesPaginator(s.ec2, &ec2.DescribeInstancesInput{
		Filters: []ec2types.Filter{
			{Name: aws.String("instance-state-name"), Values: []string{"running"}},
		},
	})
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			s.logger.WithError(err).Warn("failed to describe EC2 instances")
			break
		}
		for _, res := range page.Reservations {
			for _, inst := range res.Instances {
				if inst.InstanceId != nil {
					instances = append(instances, *inst.InstanceId)
				}
			}
		}
	}
	return instances
}

// ListFunctions returns all Lambda function names in the region.
func (s *CloudWatchSource) ListFunctions(ctx context.Context) []string {
	var functions []string
	p := lambda.NewListFunctionsPaginator(s.lambda, &lambda.ListFunctionsInput{})
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			s.logger.WithError(err).Warn("failed to list Lambda functions")
			break
		}
		for _, fn := range page.Functions {
			if fn.FunctionName != nil {
				functions = append(functions, *fn.FunctionName)
			}
		}
	}
	return functions
}

func (s *CloudWatchSource) GetEC2CPU(ctx context.Context, instanceID string, lookbackMinutes int) []telemetry.MetricDatapoint {
	return s.getSeries(ctx, "AWS/EC2", "CPUUtilization", "InstanceId", instanceID, lookbackMinutes,
		cwtypes.StatisticAverage, cwtypes.StatisticMaximum)
}

func (s *CloudWatchSource) GetLambdaErrors(ctx context.Context, functionName string, lookbackMinutes int) []telemetry.MetricDatapoint {
	return s.getSeries(ctx, "AWS/Lambda", "Errors", "FunctionName", functionName, lookbackMinutes,
		cwtypes.StatisticSum)
}

func (s *CloudWatchSource) GetLambdaDuration(ctx context.Context, functionName string, lookbackMinutes int) []telemetry.MetricDatapoint {
	return s.getSeries(ctx, "AWS/Lambda", "Duration", "FunctionName", functionName, lookbackMinutes,
		cwtypes.StatisticAverage, cwtypes.StatisticMaximum)
}

func (s *CloudWatchSource) GetBedrockInputTokens(ctx context.Context, modelID string, lookbackMinutes int) []telemetry.MetricDatapoint {
	return s.getSeries(ctx, "AWS/Bedrock", "InputTokenCount", "ModelId", modelID, lookbackMinutes,
		cwtypes.StatisticSum)
}

func (s *CloudWatchSource) GetBedrockInvocations(ctx context.Context, modelID string, lookbackMinutes int) []telemetry.MetricDatapoint {
	return s.getSeries(ctx, "AWS/Bedrock", "Invocations", "ModelId", modelID, lookbackMinutes,
		cwtypes.StatisticSum)
}

func (s *CloudWatchSource) GetDynamoDBThrottles(ctx context.Context, tableName string, lookbackMinutes int) []telemetry.MetricDatapoint {
	return s.getSeries(ctx, "AWS/DynamoDB", "UserErrors", "TableName", tableName, lookbackMinutes,
		cwtypes.StatisticSum)
}

func (s *CloudWatchSource) getSeries(
	ctx context.Context,
	namespace, metricName, dimensionName, dimensionValue string,
	lookbackMinutes int,
	statistics ...cwtypes.Statistic,
) []telemetry.MetricDatapoint {
	end := time.Now().UTC()
	start := end.Add(-time.Duration(lookbackMinutes) * time.Minute)

	out, err := s.cw.GetMetricStatistics(ctx, &cloudwatch.GetMetricStatisticsInput{
		Namespace:  aws.String(namespace),
		MetricName: aws.String(metricName),
		Dimensions: []cwtypes.Dimension{
			{Name: aws.String(dimensionName), Value: aws.String(dimensionValue)},
		},
		StartTime:  aws.Time(start),
		EndTime:    aws.Time(end),
		Period:     aws.Int32(int32(telemetry.SamplePeriod.Seconds())),
		Statistics: statistics,
	})
	if err != nil {
		s.logger.WithFields(map[string]interface{}{
			"namespace": namespace,
			"metric":    metricName,
			"resource":  dimensionValue,
		}).WithError(err).Warn("failed to fetch metric series")
		return nil
	}

	series := make([]telemetry.MetricDatapoint, 0, len(out.Datapoints))
	for _, dp := range out.Datapoints {
		point := telemetry.MetricDatapoint{}
		if dp.Timestamp != nil {
			point.Timestamp = *dp.Timestamp
		}
		if dp.Average != nil {
			point.Average = *dp.Average
		}
		if dp.Maximum != nil {
			point.Maximum = *dp.Maximum
		}
		if dp.Sum != nil {
			point.Sum = *dp.Sum
		}
		series = append(series, point)
	}
	sort.Slice(series, func(i, j int) bool {
		return series[i].Timestamp.Before(series[j].Timestamp)
	})
	return series
}
