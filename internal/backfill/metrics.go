package backfill

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"
)

// MetricLegacyAccountsBackfilled is the CloudWatch metric name.
const MetricLegacyAccountsBackfilled = "LegacyAccountsBackfilled"

// CloudWatchClient abstracts the CloudWatch PutMetricData operation for testability.
type CloudWatchClient interface {
	PutMetricData(ctx context.Context, params *cloudwatch.PutMetricDataInput, optFns ...func(*cloudwatch.Options)) (*cloudwatch.PutMetricDataOutput, error)
}

// CloudWatchMetrics publishes the backfill count under namespace,
// dimensioned by Mode (apply or dry_run).
type CloudWatchMetrics struct {
	client    CloudWatchClient
	namespace string
}

// NewCloudWatchMetrics creates a CloudWatchMetrics.
func NewCloudWatchMetrics(client CloudWatchClient, namespace string) *CloudWatchMetrics {
	return &CloudWatchMetrics{client: client, namespace: namespace}
}

// PublishBackfilled implements MetricPublisher.
func (m *CloudWatchMetrics) PublishBackfilled(ctx context.Context, count int64, dryRun bool) error {
	mode := "apply"
	if dryRun {
		mode = "dry_run"
	}

	_, err := m.client.PutMetricData(ctx, &cloudwatch.PutMetricDataInput{
		Namespace: aws.String(m.namespace),
		MetricData: []cwtypes.MetricDatum{
			{
				MetricName: aws.String(MetricLegacyAccountsBackfilled),
				Value:      aws.Float64(float64(count)),
				Unit:       cwtypes.StandardUnitCount,
				Dimensions: []cwtypes.Dimension{
					{
						Name:  aws.String("Mode"),
						Value: aws.String(mode),
					},
				},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("failed to publish %s metric: %w", MetricLegacyAccountsBackfilled, err)
	}
	return nil
}
