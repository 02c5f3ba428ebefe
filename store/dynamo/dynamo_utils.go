package dynamo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/lmarques/sigilo/store"
)

func newDynamoDBClient(ctx context.Context, devMode bool, dynamodbEndpoint string) (*dynamodb.Client, error) {
	var cfg aws.Config
	var err error

	if devMode {
		// Load config with dummy credentials and region for local/dev
		cfg, err = config.LoadDefaultConfig(ctx,
			config.WithRegion("us-east-1"),
			config.WithCredentialsProvider(
				credentials.NewStaticCredentialsProvider("dummy", "dummy", ""),
			),
		)
		if err != nil {
			return nil, err
		}

		// Override endpoint for DynamoDB locally
		return dynamodb.New(dynamodb.Options{
			Credentials:      cfg.Credentials,
			Region:           cfg.Region,
			EndpointResolver: dynamodb.EndpointResolverFromURL(dynamodbEndpoint),
		}), nil
	}

	// Production: default config (uses task role and AWS endpoints)
	cfg, err = config.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, err
	}

	return dynamodb.NewFromConfig(cfg), nil
}

func getTables(client *dynamodb.Client, ctx context.Context) ([]string, error) {
	output, err := client.ListTables(ctx, &dynamodb.ListTablesInput{})
	if err != nil {
		return nil, err
	}

	return output.TableNames, nil
}

// getItem retrieves an item of type T from DynamoDB by PK and SK
func getItem[T any](dynamoStore *DynamoSigiloStore, ctx context.Context, pk string, sk string, consistentRead bool) (T, error) {
	var zero T

	key := map[string]types.AttributeValue{
		"PK": &types.AttributeValueMemberS{Value: pk},
		"SK": &types.AttributeValueMemberS{Value: sk},
	}

	resp, err := dynamoStore.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(dynamoStore.tableName),
		Key:            key,
		ConsistentRead: aws.Bool(consistentRead),
	})
	if err != nil {
		return zero, fmt.Errorf("GetItem failed: %w", err)
	}
	if resp.Item == nil {
		return zero, store.ErrItemNotFound
	}

	var item T
	if err := attributevalue.UnmarshalMap(resp.Item, &item); err != nil {
		return zero, fmt.Errorf("failed to unmarshal item: %w", err)
	}

	return item, nil
}

// putItem writes an item unconditionally (create or replace). This is what
// makes key-copy upserts idempotent: the row is keyed by PK+SK, so retries
// converge on a single row with the latest value.
func putItem[T any](dynamoStore *DynamoSigiloStore, ctx context.Context, item T) error {
	avMap, err := attributevalue.MarshalMap(item)
	if err != nil {
		return fmt.Errorf("marshal error: %w", err)
	}

	_, err = dynamoStore.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(dynamoStore.tableName),
		Item:      avMap,
	})
	if err != nil {
		return fmt.Errorf("failed to put item: %w", err)
	}
	return nil
}

// putIfAbsent inserts an item only when no item with the same PK+SK exists,
// returning store.ErrConditionFailed otherwise. Used for uniqueness rows.
func putIfAbsent[T any](dynamoStore *DynamoSigiloStore, ctx context.Context, item T) error {
	avMap, err := attributevalue.MarshalMap(item)
	if err != nil {
		return fmt.Errorf("marshal error: %w", err)
	}

	_, err = dynamoStore.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(dynamoStore.tableName),
		Item:                avMap,
		ConditionExpression: aws.String("attribute_not_exists(PK)"),
	})
	if err != nil {
		var cce *types.ConditionalCheckFailedException
		if errors.As(err, &cce) {
			return store.ErrConditionFailed
		}
		return fmt.Errorf("failed to put item: %w", err)
	}
	return nil
}

// queryByPKPrefix returns all items with the given PK whose SK begins with
// skPrefix, ordered by SK. An empty skPrefix matches the whole partition.
func queryByPKPrefix[T any](dynamoStore *DynamoSigiloStore, ctx context.Context, pk string, skPrefix string, scanIndexForward bool, limit int32) ([]T, error) {
	var results []T

	input := &dynamodb.QueryInput{
		TableName:              aws.String(dynamoStore.tableName),
		KeyConditionExpression: aws.String("PK = :pk"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pk": &types.AttributeValueMemberS{Value: pk},
		},
		ScanIndexForward: aws.Bool(scanIndexForward),
	}
	if skPrefix != "" {
		input.KeyConditionExpression = aws.String("PK = :pk AND begins_with(SK, :sk)")
		input.ExpressionAttributeValues[":sk"] = &types.AttributeValueMemberS{Value: skPrefix}
	}
	if limit > 0 {
		input.Limit = aws.Int32(limit)
	}

	// dynamodb applies the limit per page, so it is also enforced globally
	paginator := dynamodb.NewQueryPaginator(dynamoStore.client, input)
	for paginator.HasMorePages() {
		if limit > 0 && len(results) >= int(limit) {
			break
		}

		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("query failed: %w", err)
		}

		var pageItems []T
		if err := attributevalue.UnmarshalListOfMaps(page.Items, &pageItems); err != nil {
			return nil, fmt.Errorf("failed to unmarshal page items: %w", err)
		}
		results = append(results, pageItems...)
	}

	if limit > 0 && len(results) > int(limit) {
		results = results[:limit]
	}

	return results, nil
}

// queryAllByGSI returns the main table PK strings for all items in a GSI
// with the given partition value.
func queryAllByGSI(dynamoStore *DynamoSigiloStore, ctx context.Context, indexName string, pkField string, pkValue string) ([]string, error) {
	var results []string

	input := &dynamodb.QueryInput{
		TableName:              aws.String(dynamoStore.tableName),
		IndexName:              aws.String(indexName),
		KeyConditionExpression: aws.String("#pk = :pk"),
		ExpressionAttributeNames: map[string]string{
			"#pk": pkField,
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pk": &types.AttributeValueMemberS{Value: pkValue},
		},
		ProjectionExpression: aws.String("PK"),
	}

	paginator := dynamodb.NewQueryPaginator(dynamoStore.client, input)
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("query GSI failed: %w", err)
		}

		for _, item := range page.Items {
			if pkAttr, ok := item["PK"]; ok {
				if pk, ok := pkAttr.(*types.AttributeValueMemberS); ok {
					results = append(results, pk.Value)
				}
			}
		}
	}

	return results, nil
}

// writeBatchRequests handles batch writes (Put or Delete) with retries of
// unprocessed items and exponential backoff.
func writeBatchRequests(dynamoStore *DynamoSigiloStore, ctx context.Context, requests []types.WriteRequest) error {
	if len(requests) == 0 {
		return nil
	}

	backoff := 50 * time.Millisecond

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		resp, err := dynamoStore.client.BatchWriteItem(ctx, &dynamodb.BatchWriteItemInput{
			RequestItems: map[string][]types.WriteRequest{
				dynamoStore.tableName: requests,
			},
		})
		if err != nil {
			return fmt.Errorf("BatchWriteItem failed: %w", err)
		}

		unprocessed := resp.UnprocessedItems[dynamoStore.tableName]
		if len(unprocessed) == 0 {
			return nil
		}
		requests = unprocessed

		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}

		if backoff < time.Second {
			backoff *= 2
		}
	}
}

// deleteItem removes an item by PK and SK. When mustExist is set, a missing
// item surfaces as store.ErrItemNotFound instead of a silent no-op.
func deleteItem(dynamoStore *DynamoSigiloStore, ctx context.Context, pk string, sk string, mustExist bool) error {
	input := &dynamodb.DeleteItemInput{
		TableName: aws.String(dynamoStore.tableName),
		Key: map[string]types.AttributeValue{
			"PK": &types.AttributeValueMemberS{Value: pk},
			"SK": &types.AttributeValueMemberS{Value: sk},
		},
	}
	if mustExist {
		input.ConditionExpression = aws.String("attribute_exists(PK)")
	}

	_, err := dynamoStore.client.DeleteItem(ctx, input)
	if err != nil {
		var cce *types.ConditionalCheckFailedException
		if errors.As(err, &cce) {
			return store.ErrItemNotFound
		}
		return fmt.Errorf("delete failed: %w", err)
	}
	return nil
}

// updateItem updates only the fields listed in fieldsToUpdate on an existing
// item, returning the full updated item. Missing items surface as
// store.ErrItemNotFound.
func updateItem[T any](dynamoStore *DynamoSigiloStore, ctx context.Context, item T, fieldsToUpdate []string) (T, error) {
	var zero T

	avMap, err := attributevalue.MarshalMap(item)
	if err != nil {
		return zero, fmt.Errorf("marshal error: %w", err)
	}

	pkAttr, ok := avMap["PK"]
	if !ok {
		return zero, errors.New("struct missing PK field")
	}
	skAttr, ok := avMap["SK"]
	if !ok {
		return zero, errors.New("struct missing SK field")
	}

	updateExpr := "SET "
	exprAttrValues := make(map[string]types.AttributeValue)
	exprAttrNames := make(map[string]string)
	first := true

	for _, field := range fieldsToUpdate {
		// Never update keys
		if field == "PK" || field == "SK" {
			continue
		}
		val, ok := avMap[field]
		if !ok {
			continue
		}

		if !first {
			updateExpr += ", "
		}
		first = false

		updateExpr += fmt.Sprintf("#%s = :%s", field, field)
		exprAttrNames["#"+field] = field
		exprAttrValues[":"+field] = val
	}

	out, err := dynamoStore.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName: aws.String(dynamoStore.tableName),
		Key: map[string]types.AttributeValue{
			"PK": pkAttr,
			"SK": skAttr,
		},
		UpdateExpression:          aws.String(updateExpr),
		ExpressionAttributeNames:  exprAttrNames,
		ExpressionAttributeValues: exprAttrValues,
		ConditionExpression:       aws.String("attribute_exists(PK) AND attribute_exists(SK)"),
		ReturnValues:              types.ReturnValueAllNew,
	})
	if err != nil {
		var cce *types.ConditionalCheckFailedException
		if errors.As(err, &cce) {
			return zero, store.ErrItemNotFound
		}
		return zero, fmt.Errorf("update failed: %w", err)
	}

	var updated T
	if err := attributevalue.UnmarshalMap(out.Attributes, &updated); err != nil {
		return zero, fmt.Errorf("failed to unmarshal updated item: %w", err)
	}

	return updated, nil
}
