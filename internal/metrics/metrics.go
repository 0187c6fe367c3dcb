// Package metrics publishes handshake counters to CloudWatch.
package metrics

import (
	"context"
	"fmt"
	"sort"
	"time"

	sdkaws "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"
	"github.com/imrishuroy/campus-handshake/internal/aws"
)

// Metric names
const (
	OrdersCreated          = "OrdersCreated"
	PickupsVerified        = "PickupsVerified"
	ReturnsVerified        = "ReturnsVerified"
	OrdersCancelled        = "OrdersCancelled"
	CodesResent            = "CodesResent"
	InvalidCodeAttempts    = "InvalidCodeAttempts"
	TransitionConflicts    = "TransitionConflicts"
	EffectFailures         = "EffectFailures"
	NotificationsDelivered = "NotificationsDelivered"
	NotificationsFailed    = "NotificationsFailed"
)

// Recorder counts events.
type Recorder interface {
	RecordCount(ctx context.Context, name string, dimensions map[string]string) error
}

// Nop drops every metric.
type Nop struct{}

func (Nop) RecordCount(context.Context, string, map[string]string) error { return nil }

// CloudWatch writes one datum per call when enabled.
type CloudWatch struct {
	client    aws.CloudWatchAPI
	namespace string
	enabled   bool
	nowFunc   func() time.Time
}

func NewCloudWatch(client aws.CloudWatchAPI, namespace string, enabled bool) *CloudWatch {
	if namespace == "" {
		namespace = "CampusHandshake"
	}
	return &CloudWatch{client: client, namespace: namespace, enabled: enabled, nowFunc: time.Now}
}

func (m *CloudWatch) IsEnabled() bool {
	return m.enabled
}

// RecordCount increments a counter metric
func (m *CloudWatch) RecordCount(ctx context.Context, name string, dimensions map[string]string) error {
	return m.put(ctx, name, 1, types.StandardUnitCount, dimensions)
}

// RecordLatency records a duration in milliseconds.
func (m *CloudWatch) RecordLatency(ctx context.Context, name string, d time.Duration, dimensions map[string]string) error {
	return m.put(ctx, name, float64(d.Milliseconds()), types.StandardUnitMilliseconds, dimensions)
}

func (m *CloudWatch) put(ctx context.Context, name string, value float64, unit types.StandardUnit, dimensions map[string]string) error {
	if !m.enabled {
		return nil
	}

	keys := make([]string, 0, len(dimensions))
	for k := range dimensions {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	dims := make([]types.Dimension, 0, len(keys))
	for _, k := range keys {
		dims = append(dims, types.Dimension{Name: sdkaws.String(k), Value: sdkaws.String(dimensions[k])})
	}

	_, err := m.client.PutMetricData(ctx, &cloudwatch.PutMetricDataInput{
		Namespace: sdkaws.String(m.namespace),
		MetricData: []types.MetricDatum{{
			MetricName: sdkaws.String(name),
			Value:      sdkaws.Float64(value),
			Unit:       unit,
			Timestamp:  sdkaws.Time(m.nowFunc()),
			Dimensions: dims,
		}},
	})
	if err != nil {
		return fmt.Errorf("failed to put metric: %w", err)
	}
	return nil
}
