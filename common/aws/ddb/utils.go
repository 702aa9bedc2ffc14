package ddb

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/lopezpalacios/recurring-commitment/common"
	"github.com/lopezpalacios/recurring-commitment/models"
)

// tableClient is the part of the DynamoDB API that table setup uses.
type tableClient interface {
	dynamodb.DescribeTableAPIClient
	CreateTable(ctx context.Context, params *dynamodb.CreateTableInput, optFns ...func(*dynamodb.Options)) (*dynamodb.CreateTableOutput, error)
}

const tableActiveWait = 2 * time.Minute

var tableWaiterOpts = func(*dynamodb.TableExistsWaiterOptions) {}

// ensureTable creates the table unless it is already there, then waits for it to become active. Losing a creation race
// to another process is fine.
func ensureTable(ctx context.Context, logger models.Logger, client tableClient, createTableIn *dynamodb.CreateTableInput) error {
	table := aws.ToString(createTableIn.TableName)
	status, err := tableStatus(ctx, client, table)
	if err != nil {
		return fmt.Errorf("ddb: error describing table %s: %w", table, err)
	}
	if status == types.TableStatusActive {
		return nil
	}
	if len(status) == 0 {
		httpCtx, httpCancel := context.WithTimeout(ctx, common.DefaultRpcWaitTime)
		defer httpCancel()

		var inUseErr *types.ResourceInUseException
		if _, err = client.CreateTable(httpCtx, createTableIn); err == nil {
			logger.Infof("ddb: created table %s", table)
		} else if !errors.As(err, &inUseErr) {
			return fmt.Errorf("ddb: error creating table %s: %w", table, err)
		}
	}
	describeIn := dynamodb.DescribeTableInput{TableName: aws.String(table)}
	if err = dynamodb.NewTableExistsWaiter(client, tableWaiterOpts).Wait(ctx, &describeIn, tableActiveWait); err != nil {
		return fmt.Errorf("ddb: table %s did not become active: %w", table, err)
	}
	return nil
}

// tableStatus is empty when there is no such table.
func tableStatus(ctx context.Context, client tableClient, table string) (types.TableStatus, error) {
	httpCtx, httpCancel := context.WithTimeout(ctx, common.DefaultRpcWaitTime)
	defer httpCancel()

	describeOut, err := client.DescribeTable(httpCtx, &dynamodb.DescribeTableInput{TableName: aws.String(table)})
	if err != nil {
		var notFoundErr *types.ResourceNotFoundException
		if errors.As(err, &notFoundErr) {
			return "", nil
		}
		return "", err
	}
	return describeOut.Table.TableStatus, nil
}
