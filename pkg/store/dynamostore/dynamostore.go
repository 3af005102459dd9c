// Package dynamostore is the production Store adapter, backed by a single
// Amazon DynamoDB table keyed on sandbox_id with a status-index global
// secondary index. Conditional writes are expressed as DynamoDB condition
// expressions; a failed condition surfaces from the SDK as a
// smithy.APIError with code ConditionalCheckFailedException, which this
// adapter translates into apierrors.VersionConflict / apierrors.WrongState
// so callers never see AWS-shaped errors.
package dynamostore

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/expression"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/smithy-go"

	"github.com/cuemby/sandboxbroker/pkg/apierrors"
	"github.com/cuemby/sandboxbroker/pkg/sandbox"
	"github.com/cuemby/sandboxbroker/pkg/store"
)

const statusIndexName = "status-index"

// Store is the DynamoDB-backed store.Store implementation.
type Store struct {
	client *dynamodb.Client
	table  string
}

// Config configures the client. EndpointURL overrides the SDK's resolved
// endpoint (local DynamoDB, or a test double); empty means the default
// resolution chain.
type Config struct {
	EndpointURL string
	TableName   string
}

// New builds a Store from the ambient AWS credential chain, overriding the
// endpoint when cfg.EndpointURL is set, mirroring the
// "LoadDefaultConfig(ctx), then NewFromConfig(cfg)" client-construction
// idiom used throughout the wider AWS SDK v2 ecosystem.
func New(ctx context.Context, cfg Config) (*Store, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	var opts []func(*dynamodb.Options)
	if cfg.EndpointURL != "" {
		opts = append(opts, func(o *dynamodb.Options) {
			o.BaseEndpoint = aws.String(cfg.EndpointURL)
		})
	}

	return &Store{
		client: dynamodb.NewFromConfig(awsCfg, opts...),
		table:  cfg.TableName,
	}, nil
}

func (s *Store) Get(ctx context.Context, sandboxID string) (*sandbox.Sandbox, error) {
	out, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(s.table),
		Key: map[string]types.AttributeValue{
			"sandbox_id": &types.AttributeValueMemberS{Value: sandboxID},
		},
	})
	if err != nil {
		return nil, translateErr(err, "get "+sandboxID)
	}
	if out.Item == nil {
		return nil, apierrors.New(apierrors.KindNotFound, "sandbox "+sandboxID+" not found")
	}
	return unmarshalItem(out.Item)
}

func (s *Store) PutIfAbsent(ctx context.Context, sb *sandbox.Sandbox) error {
	item, err := marshalItem(sb)
	if err != nil {
		return err
	}

	_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(s.table),
		Item:                item,
		ConditionExpression: aws.String("attribute_not_exists(sandbox_id)"),
	})
	if err != nil {
		if isConditionalFailure(err) {
			return apierrors.New(apierrors.KindWrongState, "sandbox "+sb.SandboxID+" already exists")
		}
		return translateErr(err, "put "+sb.SandboxID)
	}
	return nil
}

func (s *Store) UpdateIf(ctx context.Context, sandboxID string, expectedVersion int64, expectedStatus sandbox.Status, patch store.Patch) (*sandbox.Sandbox, error) {
	update := expression.UpdateBuilder{}
	cond := expression.Name("version").Equal(expression.Value(expectedVersion))
	if expectedStatus != "" {
		cond = cond.And(expression.Name("status").Equal(expression.Value(string(expectedStatus))))
	}

	update = update.Set(expression.Name("version"), expression.Value(expectedVersion+1))
	if patch.Status != nil {
		update = update.Set(expression.Name("status"), expression.Value(string(*patch.Status)))
	}
	if patch.Name != nil {
		update = update.Set(expression.Name("name"), expression.Value(*patch.Name))
	}
	if patch.ClearAllocation {
		update = update.Remove(expression.Name("allocated_to_track")).
			Remove(expression.Name("allocated_at")).
			Remove(expression.Name("expires_at"))
	}
	if patch.AllocatedToTrack != nil {
		update = update.Set(expression.Name("allocated_to_track"), expression.Value(*patch.AllocatedToTrack))
	}
	if patch.AllocatedAt != nil {
		update = update.Set(expression.Name("allocated_at"), expression.Value(*patch.AllocatedAt))
	}
	if patch.ExpiresAt != nil {
		update = update.Set(expression.Name("expires_at"), expression.Value(*patch.ExpiresAt))
	}
	if patch.DeletionRequestedAt != nil {
		update = update.Set(expression.Name("deletion_requested_at"), expression.Value(*patch.DeletionRequestedAt))
	}
	if patch.LastSeenAt != nil {
		update = update.Set(expression.Name("last_seen_at"), expression.Value(*patch.LastSeenAt))
	}

	expr, err := expression.NewBuilder().WithUpdate(update).WithCondition(cond).Build()
	if err != nil {
		return nil, fmt.Errorf("build update expression: %w", err)
	}

	out, err := s.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName: aws.String(s.table),
		Key: map[string]types.AttributeValue{
			"sandbox_id": &types.AttributeValueMemberS{Value: sandboxID},
		},
		UpdateExpression:          expr.Update(),
		ConditionExpression:       expr.Condition(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
		ReturnValues:              types.ReturnValueAllNew,
	})
	if err != nil {
		if isConditionalFailure(err) {
			return nil, apierrors.New(apierrors.KindVersionConflict, "version/status mismatch on "+sandboxID)
		}
		return nil, translateErr(err, "update "+sandboxID)
	}
	return unmarshalItem(out.Attributes)
}

func (s *Store) ScanByStatus(ctx context.Context, status sandbox.Status, limit int) ([]*sandbox.Sandbox, error) {
	expr, err := expression.NewBuilder().
		WithKeyCondition(expression.Key("status").Equal(expression.Value(string(status)))).
		Build()
	if err != nil {
		return nil, fmt.Errorf("build query expression: %w", err)
	}

	out, err := s.client.Query(ctx, &dynamodb.QueryInput{
		TableName:                 aws.String(s.table),
		IndexName:                 aws.String(statusIndexName),
		KeyConditionExpression:    expr.KeyCondition(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
		Limit:                     limitPtr(limit),
	})
	if err != nil {
		return nil, translateErr(err, "query status="+string(status))
	}
	return unmarshalItems(out.Items)
}

func (s *Store) ScanAllocatedToTrack(ctx context.Context, trackID string) ([]*sandbox.Sandbox, error) {
	expr, err := expression.NewBuilder().
		WithKeyCondition(expression.Key("status").Equal(expression.Value(string(sandbox.StatusAllocated)))).
		WithFilter(expression.Name("allocated_to_track").Equal(expression.Value(trackID))).
		Build()
	if err != nil {
		return nil, fmt.Errorf("build query expression: %w", err)
	}

	out, err := s.client.Query(ctx, &dynamodb.QueryInput{
		TableName:                 aws.String(s.table),
		IndexName:                 aws.String(statusIndexName),
		KeyConditionExpression:    expr.KeyCondition(),
		FilterExpression:          expr.Filter(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
	})
	if err != nil {
		return nil, translateErr(err, "idempotency probe for track "+trackID)
	}
	return unmarshalItems(out.Items)
}

func (s *Store) PagedScan(ctx context.Context, filter store.Filter, cursor store.Cursor, limit int) ([]*sandbox.Sandbox, store.Cursor, error) {
	input := &dynamodb.ScanInput{
		TableName: aws.String(s.table),
		Limit:     limitPtr(limit),
	}
	if filter.Status != "" {
		expr, err := expression.NewBuilder().
			WithFilter(expression.Name("status").Equal(expression.Value(string(filter.Status)))).
			Build()
		if err != nil {
			return nil, "", fmt.Errorf("build scan expression: %w", err)
		}
		input.FilterExpression = expr.Filter()
		input.ExpressionAttributeNames = expr.Names()
		input.ExpressionAttributeValues = expr.Values()
	}
	if cursor != "" {
		input.ExclusiveStartKey = map[string]types.AttributeValue{
			"sandbox_id": &types.AttributeValueMemberS{Value: string(cursor)},
		}
	}

	out, err := s.client.Scan(ctx, input)
	if err != nil {
		return nil, "", translateErr(err, "paged scan")
	}

	rows, err := unmarshalItems(out.Items)
	if err != nil {
		return nil, "", err
	}

	var next store.Cursor
	if len(out.LastEvaluatedKey) > 0 {
		if v, ok := out.LastEvaluatedKey["sandbox_id"].(*types.AttributeValueMemberS); ok {
			next = store.Cursor(v.Value)
		}
	}
	return rows, next, nil
}

func (s *Store) Delete(ctx context.Context, sandboxID string) error {
	_, err := s.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(s.table),
		Key: map[string]types.AttributeValue{
			"sandbox_id": &types.AttributeValueMemberS{Value: sandboxID},
		},
	})
	if err != nil {
		return translateErr(err, "delete "+sandboxID)
	}
	return nil
}

func limitPtr(limit int) *int32 {
	if limit <= 0 {
		return nil
	}
	v := int32(limit)
	return &v
}

// isConditionalFailure reports whether err is the AWS SDK's surfaced shape
// for a failed condition expression, per the smithy-go APIError contract.
func isConditionalFailure(err error) bool {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		return apiErr.ErrorCode() == "ConditionalCheckFailedException"
	}
	return false
}

// translateErr wraps any store-layer failure as apierrors.StoreUnavailable.
// Errors with a throttling code get their message annotated so operators
// can distinguish capacity exhaustion from a genuine outage in logs.
func translateErr(err error, context string) error {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "ProvisionedThroughputExceededException", "RequestLimitExceeded", "ThrottlingException":
			return apierrors.Wrap(apierrors.KindStoreUnavailable, context+": throttled", err)
		}
	}
	return apierrors.Wrap(apierrors.KindStoreUnavailable, context, err)
}
