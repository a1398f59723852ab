package dynamo

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/otp-auth-api/internal/domain"
)

// CodeRepo provides typed DynamoDB operations for the one_time_codes table.
// PK: identifier, SK: code_id (ULID).
//
// CONSUMED is on DynamoDB's reserved word list, so every attribute referenced
// in an expression goes through ExpressionAttributeNames.
type CodeRepo struct {
	client    API
	tableName string
}

func NewCodeRepo(client API, tableName string) *CodeRepo {
	return &CodeRepo{client: client, tableName: tableName}
}

func (r *CodeRepo) Put(ctx context.Context, c *domain.OneTimeCode) error {
	item, err := attributevalue.MarshalMap(c)
	if err != nil {
		return fmt.Errorf("marshal one-time code: %w", err)
	}
	_, err = r.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(r.tableName),
		Item:      item,
	})
	return err
}

// FindPending returns the newest live (unconsumed, not invalidated) record
// matching exactly this identifier and code. A wrong code matches nothing, so
// it surfaces as ErrNotFound without touching any record.
func (r *CodeRepo) FindPending(ctx context.Context, identifier, code string) (*domain.OneTimeCode, error) {
	input := &dynamodb.QueryInput{
		TableName:              aws.String(r.tableName),
		KeyConditionExpression: aws.String("#identifier = :id"),
		FilterExpression:       aws.String("#code = :code AND #consumed = :false AND #invalidated = :false"),
		ExpressionAttributeNames: map[string]string{
			"#identifier":  "identifier",
			"#code":        "code",
			"#consumed":    "consumed",
			"#invalidated": "invalidated",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":id":    &types.AttributeValueMemberS{Value: identifier},
			":code":  &types.AttributeValueMemberS{Value: code},
			":false": &types.AttributeValueMemberBOOL{Value: false},
		},
		ScanIndexForward: aws.Bool(false), // newest first (ULID sort key)
	}
	for {
		out, err := r.client.Query(ctx, input)
		if err != nil {
			return nil, err
		}
		if len(out.Items) > 0 {
			var c domain.OneTimeCode
			if err := attributevalue.UnmarshalMap(out.Items[0], &c); err != nil {
				return nil, err
			}
			return &c, nil
		}
		if out.LastEvaluatedKey == nil {
			return nil, fmt.Errorf("pending code not found: %w", domain.ErrNotFound)
		}
		input.ExclusiveStartKey = out.LastEvaluatedKey
	}
}

// CountIssuedSince counts records created for identifier at or after since,
// whatever their state. Invalidated and consumed records still count: this is
// the issuance-rate window query, and invalidating a code (resend) must not
// shrink the window.
func (r *CodeRepo) CountIssuedSince(ctx context.Context, identifier string, since time.Time) (int, error) {
	input := &dynamodb.QueryInput{
		TableName:              aws.String(r.tableName),
		KeyConditionExpression: aws.String("#identifier = :id"),
		FilterExpression:       aws.String("#created_at >= :since"),
		ExpressionAttributeNames: map[string]string{
			"#identifier": "identifier",
			"#created_at": "created_at",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":id":    &types.AttributeValueMemberS{Value: identifier},
			":since": &types.AttributeValueMemberN{Value: strconv.FormatInt(since.Unix(), 10)},
		},
		Select: types.SelectCount,
	}
	total := 0
	for {
		out, err := r.client.Query(ctx, input)
		if err != nil {
			return 0, err
		}
		total += int(out.Count)
		if out.LastEvaluatedKey == nil {
			return total, nil
		}
		input.ExclusiveStartKey = out.LastEvaluatedKey
	}
}

// Consume flips the consumed flag and increments the attempt counter in a
// single conditional update. The condition on the consumed flag makes the
// pending-to-consumed transition happen at most once: of two concurrent
// verifications of the same record, exactly one update goes through and the
// other gets ErrInvalidCode.
func (r *CodeRepo) Consume(ctx context.Context, identifier, codeID string) error {
	_, err := r.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:           aws.String(r.tableName),
		Key:                 compositeKey("identifier", identifier, "code_id", codeID),
		UpdateExpression:    aws.String("SET #consumed = :true, #attempts = #attempts + :one"),
		ConditionExpression: aws.String("#consumed = :false"),
		ExpressionAttributeNames: map[string]string{
			"#consumed": "consumed",
			"#attempts": "attempts",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":true":  &types.AttributeValueMemberBOOL{Value: true},
			":false": &types.AttributeValueMemberBOOL{Value: false},
			":one":   &types.AttributeValueMemberN{Value: "1"},
		},
	})
	if err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			return fmt.Errorf("code already consumed: %w", domain.ErrInvalidCode)
		}
		return err
	}
	return nil
}

// Delete removes a single record. Used to roll back a pending code whose
// delivery never reached the user.
func (r *CodeRepo) Delete(ctx context.Context, identifier, codeID string) error {
	_, err := r.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(r.tableName),
		Key:       compositeKey("identifier", identifier, "code_id", codeID),
	})
	return err
}

// InvalidatePending marks every live record for identifier invalidated, so at
// most one current code exists per identifier after a resend. Rows are kept on
// purpose: CountIssuedSince still sees them, so resending cannot reset the
// issuance-rate window. The expiry sweep and the table TTL evict them later.
func (r *CodeRepo) InvalidatePending(ctx context.Context, identifier string) (int, error) {
	input := &dynamodb.QueryInput{
		TableName:              aws.String(r.tableName),
		KeyConditionExpression: aws.String("#identifier = :id"),
		FilterExpression:       aws.String("#consumed = :false AND #invalidated = :false"),
		ExpressionAttributeNames: map[string]string{
			"#identifier":  "identifier",
			"#consumed":    "consumed",
			"#invalidated": "invalidated",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":id":    &types.AttributeValueMemberS{Value: identifier},
			":false": &types.AttributeValueMemberBOOL{Value: false},
		},
	}
	invalidated := 0
	var firstErr error
	for {
		out, err := r.client.Query(ctx, input)
		if err != nil {
			return invalidated, err
		}
		for _, item := range out.Items {
			sk, ok := item["code_id"].(*types.AttributeValueMemberS)
			if !ok {
				continue
			}
			if err := r.invalidate(ctx, identifier, sk.Value); err != nil {
				slog.Warn("failed to invalidate pending code during resend", "identifier", identifier, "code_id", sk.Value, "err", err)
				if firstErr == nil {
					firstErr = err
				}
				continue
			}
			invalidated++
		}
		if out.LastEvaluatedKey == nil {
			return invalidated, firstErr
		}
		input.ExclusiveStartKey = out.LastEvaluatedKey
	}
}

func (r *CodeRepo) invalidate(ctx context.Context, identifier, codeID string) error {
	_, err := r.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:           aws.String(r.tableName),
		Key:                 compositeKey("identifier", identifier, "code_id", codeID),
		UpdateExpression:    aws.String("SET #invalidated = :true"),
		ConditionExpression: aws.String("#consumed = :false"),
		ExpressionAttributeNames: map[string]string{
			"#invalidated": "invalidated",
			"#consumed":    "consumed",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":true":  &types.AttributeValueMemberBOOL{Value: true},
			":false": &types.AttributeValueMemberBOOL{Value: false},
		},
	})
	if err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			return nil // consumed between query and update, nothing left to invalidate
		}
		return err
	}
	return nil
}

// DeleteExpired removes records whose validity window passed before now and
// which were never consumed. Each delete re-checks both conditions server-side
// so a verification that completed between the scan and the delete keeps its
// record untouched.
func (r *CodeRepo) DeleteExpired(ctx context.Context, now time.Time) (int, error) {
	nowAttr := &types.AttributeValueMemberN{Value: strconv.FormatInt(now.Unix(), 10)}
	input := &dynamodb.ScanInput{
		TableName:        aws.String(r.tableName),
		FilterExpression: aws.String("#expires_at < :now AND #consumed = :false"),
		ExpressionAttributeNames: map[string]string{
			"#expires_at": "expires_at",
			"#consumed":   "consumed",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":now":   nowAttr,
			":false": &types.AttributeValueMemberBOOL{Value: false},
		},
	}
	deleted := 0
	for {
		out, err := r.client.Scan(ctx, input)
		if err != nil {
			return deleted, err
		}
		for _, item := range out.Items {
			pk, okPK := item["identifier"].(*types.AttributeValueMemberS)
			sk, okSK := item["code_id"].(*types.AttributeValueMemberS)
			if !okPK || !okSK {
				continue
			}
			_, err := r.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
				TableName:           aws.String(r.tableName),
				Key:                 compositeKey("identifier", pk.Value, "code_id", sk.Value),
				ConditionExpression: aws.String("#expires_at < :now AND #consumed = :false"),
				ExpressionAttributeNames: map[string]string{
					"#expires_at": "expires_at",
					"#consumed":   "consumed",
				},
				ExpressionAttributeValues: map[string]types.AttributeValue{
					":now":   nowAttr,
					":false": &types.AttributeValueMemberBOOL{Value: false},
				},
			})
			if err != nil {
				var ccf *types.ConditionalCheckFailedException
				if errors.As(err, &ccf) {
					continue // consumed between scan and delete
				}
				slog.Warn("failed to delete expired code", "identifier", pk.Value, "code_id", sk.Value, "err", err)
				continue
			}
			deleted++
		}
		if out.LastEvaluatedKey == nil {
			return deleted, nil
		}
		input.ExclusiveStartKey = out.LastEvaluatedKey
	}
}
