package queue

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/service/sqs"

	"github.com/abevier/go-sqs/gosqs"

	"github.com/lopezpalacios/recurring-commitment/models"
)

var _ models.QueuePublisher = &Publisher{}

// Publisher sends to a queue that something outside this service consumes, e.g. the audit event stream.
type Publisher struct {
	queueType Type
	QueueUrl  string
	publisher *gosqs.SQSPublisher
}

func NewPublisher(ctx context.Context, metricService models.MetricService, logger models.Logger, sqsClient *sqs.Client, opts Opts) (*Publisher, error) {
	// Create the queue if it didn't already exist
	if url, _, name, err := CreateQueue(ctx, sqsClient, opts); err != nil {
		return nil, err
	} else {
		if err = metricService.QueueGauge(ctx, name, NewMonitor(url, sqsClient)); err != nil {
			logger.Errorf("queue: error creating gauge for %s queue: %v", name, err)
		}
		return &Publisher{
			opts.QueueType,
			url,
			gosqs.NewPublisher(
				sqsClient,
				url,
				models.QueueMaxLinger,
			)}, nil
	}
}

func (p Publisher) SendMessage(ctx context.Context, event any) (string, error) {
	return sendJson(ctx, p.publisher, event)
}
