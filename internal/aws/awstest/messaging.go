package awstest

import (
	"context"
	"fmt"
	"sync"

	sdkaws "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
)

// FakeSQS records sent messages.
type FakeSQS struct {
	mu   sync.Mutex
	Sent []*sqs.SendMessageInput
	Err  error
}

func (f *FakeSQS) SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Err != nil {
		return nil, f.Err
	}
	f.Sent = append(f.Sent, params)
	return &sqs.SendMessageOutput{MessageId: sdkaws.String(fmt.Sprintf("msg-%d", len(f.Sent)))}, nil
}

// FakeSNS records published messages.
type FakeSNS struct {
	mu        sync.Mutex
	Published []*sns.PublishInput
	Err       error
}

func (f *FakeSNS) Publish(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Err != nil {
		return nil, f.Err
	}
	f.Published = append(f.Published, params)
	return &sns.PublishOutput{MessageId: sdkaws.String(fmt.Sprintf("sns-%d", len(f.Published)))}, nil
}

// FakeCloudWatch records metric data.
type FakeCloudWatch struct {
	mu     sync.Mutex
	Data   []cwtypes.MetricDatum
	Spaces []string
	Err    error
}

func (f *FakeCloudWatch) PutMetricData(ctx context.Context, params *cloudwatch.PutMetricDataInput, optFns ...func(*cloudwatch.Options)) (*cloudwatch.PutMetricDataOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Err != nil {
		return nil, f.Err
	}
	f.Spaces = append(f.Spaces, sdkaws.ToString(params.Namespace))
	f.Data = append(f.Data, params.MetricData...)
	return &cloudwatch.PutMetricDataOutput{}, nil
}

// MetricNames returns the names of every recorded datum in order.
func (f *FakeCloudWatch) MetricNames() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	names := make([]string, 0, len(f.Data))
	for _, d := range f.Data {
		names = append(names, sdkaws.ToString(d.MetricName))
	}
	return names
}
