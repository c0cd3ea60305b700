package dynamo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/zlnvch/pixelwars/models"
	"github.com/zlnvch/pixelwars/store"
)

// Newest events kept per canvas when loading history
const maxHistoryEvents = 1000

type DynamoPixelWarsStore struct {
	client    *dynamodb.Client
	tableName string
}

func NewDynamoPixelWarsStore(ctx context.Context, devMode bool, dynamodbEndpoint string, tableName string) (*DynamoPixelWarsStore, error) {
	client, err := newDynamoDBClient(ctx, devMode, dynamodbEndpoint)
	if err != nil {
		return nil, err
	}

	tables, err := getTables(client, ctx)
	if err != nil {
		return nil, err
	}

	foundTable := false
	for _, table := range tables {
		if table == tableName {
			foundTable = true
			break
		}
	}
	if !foundTable {
		return nil, fmt.Errorf("given table name '%s' not found in dynamodb", tableName)
	}

	return &DynamoPixelWarsStore{client: client, tableName: tableName}, nil
}

func (dynamoStore *DynamoPixelWarsStore) GetPixelEvents(ctx context.Context, canvasName string) ([]models.PixelEvent, error) {
	// Newest first from dynamo, limited to maxHistoryEvents
	dynamoEvents, err := queryAllByPK[dynamoPixelEvent](dynamoStore, ctx, pixelPKPrefix+canvasName, false, maxHistoryEvents)
	if err != nil {
		return []models.PixelEvent{}, err
	}

	// Reverse them to return chronological order (Oldest -> Newest)
	events := make([]models.PixelEvent, 0, len(dynamoEvents))
	for i := len(dynamoEvents) - 1; i >= 0; i-- {
		events = append(events, pixelEventFromDynamo(dynamoEvents[i]))
	}

	return events, nil
}

func (dynamoStore *DynamoPixelWarsStore) WritePixelEventBatch(ctx context.Context, events []models.PixelEvent) ([]models.PixelEvent, error) {
	var writeRequests []types.WriteRequest
	for _, event := range events {
		avMap, err := attributevalue.MarshalMap(pixelEventToDynamo(event))
		if err != nil {
			return nil, fmt.Errorf("marshal error: %w", err)
		}

		writeRequests = append(writeRequests, types.WriteRequest{
			PutRequest: &types.PutRequest{
				Item: avMap,
			},
		})
	}

	unprocessed, err := writeBatchRequests[dynamoPixelEvent](dynamoStore, ctx, writeRequests)

	failed := make([]models.PixelEvent, 0, len(unprocessed))
	for _, u := range unprocessed {
		failed = append(failed, pixelEventFromDynamo(u))
	}

	return failed, err
}

func (dynamoStore *DynamoPixelWarsStore) CountPixelEvents(ctx context.Context, canvasName string) (int, error) {
	return countByPK(dynamoStore, ctx, pixelPKPrefix+canvasName)
}

func (dynamoStore *DynamoPixelWarsStore) DeleteCanvasHistory(ctx context.Context, canvasName string) error {
	return batchDeleteByPKThrottled(dynamoStore, ctx, pixelPKPrefix+canvasName, 50*time.Millisecond)
}

func (dynamoStore *DynamoPixelWarsStore) GetCanvasStats(ctx context.Context, canvasName string) (models.CanvasStats, error) {
	ds, err := getItem[dynamoCanvasStats](dynamoStore, ctx, canvasPKPrefix+canvasName, canvasStatsSK, false)
	if err != nil {
		if errors.Is(err, store.ErrItemNotFound) {
			// Nothing archived yet
			return models.CanvasStats{Canvas: canvasName}, nil
		}
		return models.CanvasStats{}, err
	}

	return canvasStatsFromDynamo(ds), nil
}

func (dynamoStore *DynamoPixelWarsStore) IncrementCanvasWriteCount(ctx context.Context, canvasName string, count int) error {
	// Stats rows are created lazily on the first flush
	return incrementCounter(dynamoStore, ctx, canvasPKPrefix+canvasName, canvasStatsSK, "WriteCount", count, true)
}
