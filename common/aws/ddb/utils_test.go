package ddb

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/lopezpalacios/recurring-commitment/common/loggers"
)

// FakeTableClient returns successive statuses from DescribeTable, where an empty status is a missing table.
type FakeTableClient struct {
	statuses     []types.TableStatus
	createErr    error
	numCreates   int
	numDescribes int
}

func (f *FakeTableClient) DescribeTable(_ context.Context, _ *dynamodb.DescribeTableInput, _ ...func(*dynamodb.Options)) (*dynamodb.DescribeTableOutput, error) {
	status := f.statuses[min(f.numDescribes, len(f.statuses)-1)]
	f.numDescribes++
	if len(status) == 0 {
		return nil, &types.ResourceNotFoundException{Message: aws.String("no such table")}
	}
	return &dynamodb.DescribeTableOutput{Table: &types.TableDescription{TableStatus: status}}, nil
}

func (f *FakeTableClient) CreateTable(_ context.Context, _ *dynamodb.CreateTableInput, _ ...func(*dynamodb.Options)) (*dynamodb.CreateTableOutput, error) {
	f.numCreates++
	return &dynamodb.CreateTableOutput{}, f.createErr
}

func TestEnsureTable(t *testing.T) {
	tableWaiterOpts = func(o *dynamodb.TableExistsWaiterOptions) {
		o.MinDelay = time.Millisecond
		o.MaxDelay = 5 * time.Millisecond
	}
	tests := map[string]struct {
		statuses           []types.TableStatus
		createErr          error
		shouldError        bool
		expectedNumCreates int
	}{
		"active table is left alone": {
			statuses: []types.TableStatus{types.TableStatusActive},
		},
		"missing table is created": {
			statuses:           []types.TableStatus{"", types.TableStatusCreating, types.TableStatusActive},
			expectedNumCreates: 1,
		},
		"table created by another process": {
			statuses:           []types.TableStatus{"", types.TableStatusActive},
			createErr:          &types.ResourceInUseException{Message: aws.String("in use")},
			expectedNumCreates: 1,
		},
		"table still being created": {
			statuses: []types.TableStatus{types.TableStatusCreating, types.TableStatusActive},
		},
		"creation fails": {
			statuses:           []types.TableStatus{""},
			createErr:          errors.New("access denied"),
			shouldError:        true,
			expectedNumCreates: 1,
		},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			client := &FakeTableClient{statuses: test.statuses, createErr: test.createErr}
			createTableIn := dynamodb.CreateTableInput{TableName: aws.String("commitments-test-checkpoint")}

			err := ensureTable(context.Background(), loggers.NewTestLogger(), client, &createTableIn)
			if test.shouldError && err == nil {
				t.Errorf("expected an error")
			} else if !test.shouldError && err != nil {
				t.Errorf("unexpected error: %v", err)
			}
			if client.numCreates != test.expectedNumCreates {
				t.Errorf("creates: expected=%d, actual=%d", test.expectedNumCreates, client.numCreates)
			}
		})
	}
}
