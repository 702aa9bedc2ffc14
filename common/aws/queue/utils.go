package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"

	"github.com/lopezpalacios/recurring-commitment/common"
	"github.com/lopezpalacios/recurring-commitment/models"
)

type Type string

const (
	// Type_Events carries audit events to downstream indexers
	Type_Events Type = "events"
	// Type_Claims carries claim requests from the off-chain orchestrator
	Type_Claims Type = "claims"
	Type_DLQ    Type = "dlq"
)

// queueAdmin is the part of the SQS API used to set up and watch queues.
type queueAdmin interface {
	CreateQueue(ctx context.Context, params *sqs.CreateQueueInput, optFns ...func(*sqs.Options)) (*sqs.CreateQueueOutput, error)
	GetQueueAttributes(ctx context.Context, params *sqs.GetQueueAttributesInput, optFns ...func(*sqs.Options)) (*sqs.GetQueueAttributesOutput, error)
}

type redrivePolicy struct {
	DeadLetterTargetArn string `json:"deadLetterTargetArn"`
	MaxReceiveCount     int    `json:"maxReceiveCount"`
}

func QueueName(env string, queueType Type) string {
	return fmt.Sprintf("commitments-%s-%s", env, string(queueType))
}

// queueAttributes builds the attributes a new queue is created with. A redrive policy is only set when both the
// dead-letter queue and the receive limit are known.
func queueAttributes(opts Opts) (map[string]string, error) {
	visibilityTimeout := models.QueueDefaultVisibilityTimeout
	if opts.VisibilityTimeout != nil {
		visibilityTimeout = *opts.VisibilityTimeout
	}
	attrs := map[string]string{
		string(types.QueueAttributeNameVisibilityTimeout): strconv.Itoa(int(visibilityTimeout.Seconds())),
	}
	if redrive := opts.RedriveOpts; redrive != nil && len(redrive.DlqId) > 0 && redrive.MaxReceiveCount > 0 {
		policy, err := json.Marshal(redrivePolicy{redrive.DlqId, redrive.MaxReceiveCount})
		if err != nil {
			return nil, err
		}
		attrs[string(types.QueueAttributeNameRedrivePolicy)] = string(policy)
	}
	return attrs, nil
}

// CreateQueue creates the queue if it does not exist yet and returns its url, arn and name.
func CreateQueue(ctx context.Context, client queueAdmin, opts Opts) (url, arn, name string, err error) {
	name = QueueName(opts.Env, opts.QueueType)
	attrs, err := queueAttributes(opts)
	if err != nil {
		return "", "", "", fmt.Errorf("queue: bad attributes for %s: %w", name, err)
	}

	httpCtx, httpCancel := context.WithTimeout(ctx, common.DefaultRpcWaitTime)
	defer httpCancel()

	createQueueOut, err := client.CreateQueue(httpCtx, &sqs.CreateQueueInput{QueueName: aws.String(name), Attributes: attrs})
	if err != nil {
		return "", "", "", fmt.Errorf("queue: error creating %s: %w", name, err)
	}
	url = aws.ToString(createQueueOut.QueueUrl)
	attrs, err = fetchAttributes(ctx, client, url, types.QueueAttributeNameQueueArn)
	if err != nil {
		return "", "", "", fmt.Errorf("queue: error fetching arn of %s: %w", name, err)
	}
	return url, attrs[string(types.QueueAttributeNameQueueArn)], name, nil
}

// GetQueueUtilization returns the approximate number of messages waiting and the number in flight.
func GetQueueUtilization(ctx context.Context, queueUrl string, client queueAdmin) (int, int, error) {
	attrs, err := fetchAttributes(
		ctx,
		client,
		queueUrl,
		types.QueueAttributeNameApproximateNumberOfMessages,
		types.QueueAttributeNameApproximateNumberOfMessagesNotVisible,
	)
	if err != nil {
		return 0, 0, err
	}
	if waiting, err := intAttribute(attrs, types.QueueAttributeNameApproximateNumberOfMessages); err != nil {
		return 0, 0, err
	} else if inFlight, err := intAttribute(attrs, types.QueueAttributeNameApproximateNumberOfMessagesNotVisible); err != nil {
		return 0, 0, err
	} else {
		return waiting, inFlight, nil
	}
}

func fetchAttributes(ctx context.Context, client queueAdmin, queueUrl string, names ...types.QueueAttributeName) (map[string]string, error) {
	httpCtx, httpCancel := context.WithTimeout(ctx, common.DefaultRpcWaitTime)
	defer httpCancel()

	getQueueAttrOut, err := client.GetQueueAttributes(httpCtx, &sqs.GetQueueAttributesInput{
		QueueUrl:       aws.String(queueUrl),
		AttributeNames: names,
	})
	if err != nil {
		return nil, err
	}
	return getQueueAttrOut.Attributes, nil
}

// intAttribute treats a missing attribute as zero.
func intAttribute(attrs map[string]string, name types.QueueAttributeName) (int, error) {
	str, found := attrs[string(name)]
	if !found {
		return 0, nil
	}
	n, err := strconv.Atoi(str)
	if err != nil {
		return 0, fmt.Errorf("queue: attribute %s is not a number: %q", name, str)
	}
	return n, nil
}
