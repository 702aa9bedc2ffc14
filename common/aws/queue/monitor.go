package queue

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/service/sqs"

	"github.com/lopezpalacios/recurring-commitment/models"
)

var _ models.QueueMonitor = &Monitor{}

type Monitor struct {
	queueUrl string
	client   queueAdmin
}

func NewMonitor(queueUrl string, sqsClient *sqs.Client) *Monitor {
	return &Monitor{queueUrl, sqsClient}
}

// GetUtilization returns the number of messages waiting and the number in flight.
func (m Monitor) GetUtilization(ctx context.Context) (int, int, error) {
	return GetQueueUtilization(ctx, m.queueUrl, m.client)
}
