package ddb

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/lopezpalacios/recurring-commitment/common"
	"github.com/lopezpalacios/recurring-commitment/models"
)

var _ models.StateRepository = &StateDatabase{}

// StateDatabase keeps the relay checkpoints. A checkpoint only ever moves forward.
type StateDatabase struct {
	checkpointTable string
	client          *dynamodb.Client
	logger          models.Logger
}

func NewStateDb(ctx context.Context, logger models.Logger, client *dynamodb.Client, env string) *StateDatabase {
	sdb := StateDatabase{
		checkpointTable: "commitments-" + env + "-checkpoint",
		client:          client,
		logger:          logger,
	}
	if err := sdb.createCheckpointTable(ctx); err != nil {
		sdb.logger.Fatalf("state: checkpoint table creation failed: %v", err)
	}
	return &sdb
}

func (sdb *StateDatabase) createCheckpointTable(ctx context.Context) error {
	createTableInput := dynamodb.CreateTableInput{
		AttributeDefinitions: []types.AttributeDefinition{
			{
				AttributeName: aws.String("name"),
				AttributeType: "S",
			},
		},
		KeySchema: []types.KeySchemaElement{
			{
				AttributeName: aws.String("name"),
				KeyType:       "HASH",
			},
		},
		TableName: aws.String(sdb.checkpointTable),
		ProvisionedThroughput: &types.ProvisionedThroughput{
			ReadCapacityUnits:  aws.Int64(1),
			WriteCapacityUnits: aws.Int64(1),
		},
	}
	return ensureTable(ctx, sdb.logger, sdb.client, &createTableInput)
}

func (sdb *StateDatabase) GetCheckpoint(ctx context.Context, checkpointType models.CheckpointType) (uint64, error) {
	getItemIn := dynamodb.GetItemInput{
		Key: map[string]types.AttributeValue{
			"name": &types.AttributeValueMemberS{Value: string(checkpointType)},
		},
		TableName:      aws.String(sdb.checkpointTable),
		ConsistentRead: aws.Bool(true),
	}

	httpCtx, httpCancel := context.WithTimeout(ctx, common.DefaultRpcWaitTime)
	defer httpCancel()

	if getItemOut, err := sdb.client.GetItem(httpCtx, &getItemIn); err != nil {
		return 0, err
	} else if getItemOut.Item != nil {
		checkpoint := models.Checkpoint{}
		if err = attributevalue.UnmarshalMap(getItemOut.Item, &checkpoint); err != nil {
			return 0, fmt.Errorf("state: error unmarshaling %s checkpoint: %w", checkpointType, err)
		}
		return checkpoint.Value, nil
	}
	// Nothing relayed yet
	return 0, nil
}

// UpdateCheckpoint returns false without an error if the stored checkpoint is already at or past checkpoint.
func (sdb *StateDatabase) UpdateCheckpoint(ctx context.Context, checkpointType models.CheckpointType, checkpoint uint64) (bool, error) {
	updateItemIn := dynamodb.UpdateItemInput{
		Key: map[string]types.AttributeValue{
			"name": &types.AttributeValueMemberS{Value: string(checkpointType)},
		},
		TableName:           aws.String(sdb.checkpointTable),
		ConditionExpression: aws.String("attribute_not_exists(#value) or :value > #value"),
		ExpressionAttributeNames: map[string]string{
			"#value": "value",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":value": &types.AttributeValueMemberN{Value: strconv.FormatUint(checkpoint, 10)},
		},
		UpdateExpression: aws.String("set #value = :value"),
	}

	httpCtx, httpCancel := context.WithTimeout(ctx, common.DefaultRpcWaitTime)
	defer httpCancel()

	if _, err := sdb.client.UpdateItem(httpCtx, &updateItemIn); err != nil {
		var condUpdErr *types.ConditionalCheckFailedException
		if errors.As(err, &condUpdErr) {
			sdb.logger.Warnf("state: stale %s checkpoint %d not written", checkpointType, checkpoint)
			return false, nil
		}
		sdb.logger.Errorf("state: error writing %s checkpoint %d: %v", checkpointType, checkpoint, err)
		return false, err
	}
	return true, nil
}
