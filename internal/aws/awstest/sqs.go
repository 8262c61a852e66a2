package awstest

import (
	"context"
	"strconv"
	"sync"

	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
)

// FakeSQS records every SendMessage call.
type FakeSQS struct {
	mu       sync.Mutex
	Messages []*sqs.SendMessageInput
	Err      error
}

func (f *FakeSQS) SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Err != nil {
		return nil, f.Err
	}
	f.Messages = append(f.Messages, params)
	id := "msg-" + strconv.Itoa(len(f.Messages))
	return &sqs.SendMessageOutput{MessageId: &id}, nil
}

// Bodies returns the message bodies in send order.
func (f *FakeSQS) Bodies() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.Messages))
	for _, m := range f.Messages {
		if m.MessageBody != nil {
			out = append(out, *m.MessageBody)
		}
	}
	return out
}

// FakeCloudWatch records every PutMetricData call.
type FakeCloudWatch struct {
	mu    sync.Mutex
	Calls []*cloudwatch.PutMetricDataInput
	Err   error
}

func (f *FakeCloudWatch) PutMetricData(ctx context.Context, params *cloudwatch.PutMetricDataInput, optFns ...func(*cloudwatch.Options)) (*cloudwatch.PutMetricDataOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Err != nil {
		return nil, f.Err
	}
	f.Calls = append(f.Calls, params)
	return &cloudwatch.PutMetricDataOutput{}, nil
}

// MetricNames lists the names of every datum received.
func (f *FakeCloudWatch) MetricNames() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, c := range f.Calls {
		for _, d := range c.MetricData {
			if d.MetricName != nil {
				out = append(out, *d.MetricName)
			}
		}
	}
	return out
}
