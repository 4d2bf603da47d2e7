package audit

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/kjstillabower/weather-data-service/internal/models"
)

const placeIndex = "place-timestamp-index"

// dynamoAPI is the slice of the DynamoDB client DynamoLog depends on.
type dynamoAPI interface {
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	Query(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	Scan(ctx context.Context, params *dynamodb.ScanInput, optFns ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error)
	BatchWriteItem(ctx context.Context, params *dynamodb.BatchWriteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.BatchWriteItemOutput, error)
	DescribeTable(ctx context.Context, params *dynamodb.DescribeTableInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DescribeTableOutput, error)
	CreateTable(ctx context.Context, params *dynamodb.CreateTableInput, optFns ...func(*dynamodb.Options)) (*dynamodb.CreateTableOutput, error)
}

// DynamoLog stores audit events in a DynamoDB table with a place+timestamp
// global secondary index. Items carry a ttl attribute so the table can also
// expire rows on its own.
type DynamoLog struct {
	client    dynamoAPI
	table     string
	retention time.Duration
	logger    *zap.Logger
	now       func() time.Time
}

func NewDynamoLog(client dynamoAPI, table string, retention time.Duration, logger *zap.Logger) *DynamoLog {
	return &DynamoLog{
		client:    client,
		table:     table,
		retention: retention,
		logger:    logger,
		now:       time.Now,
	}
}

type dynamoEvent struct {
	EventID         string `dynamodbav:"event_id"`
	EventType       string `dynamodbav:"event_type"`
	Place           string `dynamodbav:"place"`
	PlaceDisplay    string `dynamodbav:"place_display,omitempty"`
	Timestamp       string `dynamodbav:"ts"`
	TimestampEpoch  int64  `dynamodbav:"ts_epoch"`
	Status          string `dynamodbav:"status"`
	StorageLocation string `dynamodbav:"storage_location,omitempty"`
	ErrorMessage    string `dynamodbav:"error_message,omitempty"`
	DurationMs      int64  `dynamodbav:"duration_ms"`
	CacheHit        bool   `dynamodbav:"cache_hit"`
	ExternalCall    bool   `dynamodbav:"external_call"`
	TTL             int64  `dynamodbav:"ttl"`
}

func (l *DynamoLog) Append(ctx context.Context, event models.AuditEvent) (string, error) {
	id := event.EventID
	if id == "" {
		id = uuid.NewString()
	}
	ts := event.Timestamp.UTC()
	row := dynamoEvent{
		EventID:         id,
		EventType:       string(event.EventType),
		Place:           event.Place,
		PlaceDisplay:    event.PlaceDisplay,
		Timestamp:       ts.Format(time.RFC3339Nano),
		TimestampEpoch:  ts.Unix(),
		Status:          string(event.Status),
		StorageLocation: event.StorageLocation,
		ErrorMessage:    event.ErrorMessage,
		DurationMs:      metaInt64(event.Metadata, models.MetaDurationMs),
		CacheHit:        metaBool(event.Metadata, models.MetaCacheHit),
		ExternalCall:    metaBool(event.Metadata, models.MetaExternalCall),
		TTL:             ts.Add(l.retention).Unix(),
	}
	item, err := attributevalue.MarshalMap(row)
	if err != nil {
		return "", fmt.Errorf("%w: marshal event for %q: %v", ErrAppendFailed, event.Place, err)
	}
	_, err = l.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(l.table),
		Item:      item,
	})
	if err != nil {
		return "", fmt.Errorf("%w: put event for %q: %v", ErrAppendFailed, event.Place, err)
	}
	return id, nil
}

func (l *DynamoLog) RecentEvents(ctx context.Context, place string, window time.Duration, limit int) ([]models.EventSummary, error) {
	cutoff := l.now().UTC().Add(-window).Unix()

	var rows []dynamoEvent
	if place != "" {
		out, err := l.client.Query(ctx, &dynamodb.QueryInput{
			TableName:              aws.String(l.table),
			IndexName:              aws.String(placeIndex),
			KeyConditionExpression: aws.String("place = :place AND ts_epoch >= :cutoff"),
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":place":  &types.AttributeValueMemberS{Value: strings.ToLower(strings.TrimSpace(place))},
				":cutoff": &types.AttributeValueMemberN{Value: strconv.FormatInt(cutoff, 10)},
			},
			ScanIndexForward: aws.Bool(false),
			Limit:            aws.Int32(int32(limit)),
		})
		if err != nil {
			return nil, fmt.Errorf("query recent events: %w", err)
		}
		if err := attributevalue.UnmarshalListOfMaps(out.Items, &rows); err != nil {
			return nil, fmt.Errorf("decode recent events: %w", err)
		}
	} else {
		out, err := l.client.Scan(ctx, &dynamodb.ScanInput{
			TableName:        aws.String(l.table),
			FilterExpression: aws.String("ts_epoch >= :cutoff"),
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":cutoff": &types.AttributeValueMemberN{Value: strconv.FormatInt(cutoff, 10)},
			},
		})
		if err != nil {
			return nil, fmt.Errorf("scan recent events: %w", err)
		}
		if err := attributevalue.UnmarshalListOfMaps(out.Items, &rows); err != nil {
			return nil, fmt.Errorf("decode recent events: %w", err)
		}
		sort.Slice(rows, func(i, j int) bool { return rows[i].TimestampEpoch > rows[j].TimestampEpoch })
		if len(rows) > limit {
			rows = rows[:limit]
		}
	}

	summaries := make([]models.EventSummary, 0, len(rows))
	for _, r := range rows {
		s := models.EventSummary{
			EventID:    r.EventID,
			Place:      r.Place,
			Status:     models.EventStatus(r.Status),
			DurationMs: r.DurationMs,
			CacheHit:   r.CacheHit,
			Error:      r.ErrorMessage,
		}
		if ts, err := time.Parse(time.RFC3339Nano, r.Timestamp); err == nil {
			s.Timestamp = ts
		}
		summaries = append(summaries, s)
	}
	return summaries, nil
}

func (l *DynamoLog) AggregateStats(ctx context.Context, window time.Duration) (models.RequestStats, error) {
	stats := models.RequestStats{PeriodHours: int(window.Hours())}
	cutoff := l.now().UTC().Add(-window).Unix()

	input := &dynamodb.ScanInput{
		TableName:        aws.String(l.table),
		FilterExpression: aws.String("ts_epoch >= :cutoff"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":cutoff": &types.AttributeValueMemberN{Value: strconv.FormatInt(cutoff, 10)},
		},
	}

	counts := map[string]int{}
	var durationSum int64
	paginator := dynamodb.NewScanPaginator(l.client, input)
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return models.RequestStats{}, fmt.Errorf("scan events for stats: %w", err)
		}
		var rows []dynamoEvent
		if err := attributevalue.UnmarshalListOfMaps(page.Items, &rows); err != nil {
			return models.RequestStats{}, fmt.Errorf("decode events for stats: %w", err)
		}
		for _, r := range rows {
			stats.TotalRequests++
			switch models.EventStatus(r.Status) {
			case models.StatusSuccess:
				stats.Succeeded++
				if !r.CacheHit {
					stats.CacheMisses++
				}
			case models.StatusFailed:
				stats.Failed++
			}
			if r.CacheHit {
				stats.CacheHits++
			}
			durationSum += r.DurationMs
			counts[r.Place]++
		}
	}
	if stats.TotalRequests > 0 {
		stats.AvgDurationMs = float64(durationSum) / float64(stats.TotalRequests)
	}

	places := make([]models.PlaceCount, 0, len(counts))
	for place, n := range counts {
		places = append(places, models.PlaceCount{Place: place, Requests: n})
	}
	sort.Slice(places, func(i, j int) bool {
		if places[i].Requests != places[j].Requests {
			return places[i].Requests > places[j].Requests
		}
		return places[i].Place < places[j].Place
	})
	if len(places) > 10 {
		places = places[:10]
	}
	if len(places) > 0 {
		stats.TopPlaces = places
	}
	return stats, nil
}

func (l *DynamoLog) PurgeOlderThan(ctx context.Context, retention time.Duration) (int, error) {
	cutoff := l.now().UTC().Add(-retention).Unix()

	input := &dynamodb.ScanInput{
		TableName:            aws.String(l.table),
		FilterExpression:     aws.String("ts_epoch < :cutoff"),
		ProjectionExpression: aws.String("event_id"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":cutoff": &types.AttributeValueMemberN{Value: strconv.FormatInt(cutoff, 10)},
		},
	}

	var keys []map[string]types.AttributeValue
	paginator := dynamodb.NewScanPaginator(l.client, input)
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return 0, fmt.Errorf("scan events for purge: %w", err)
		}
		for _, item := range page.Items {
			if id, ok := item["event_id"]; ok {
				keys = append(keys, map[string]types.AttributeValue{"event_id": id})
			}
		}
	}

	deleted := 0
	// BatchWriteItem accepts at most 25 requests per call.
	for start := 0; start < len(keys); start += 25 {
		end := start + 25
		if end > len(keys) {
			end = len(keys)
		}
		requests := make([]types.WriteRequest, 0, end-start)
		for _, key := range keys[start:end] {
			requests = append(requests, types.WriteRequest{
				DeleteRequest: &types.DeleteRequest{Key: key},
			})
		}
		if _, err := l.client.BatchWriteItem(ctx, &dynamodb.BatchWriteItemInput{
			RequestItems: map[string][]types.WriteRequest{l.table: requests},
		}); err != nil {
			return deleted, fmt.Errorf("batch delete events: %w", err)
		}
		deleted += len(requests)
	}
	if deleted > 0 {
		l.logger.Info("audit events purged", zap.Int("removed", deleted))
	}
	return deleted, nil
}

func (l *DynamoLog) IsHealthy(ctx context.Context) bool {
	out, err := l.client.DescribeTable(ctx, &dynamodb.DescribeTableInput{
		TableName: aws.String(l.table),
	})
	if err != nil {
		return false
	}
	return out.Table != nil && out.Table.TableStatus == types.TableStatusActive
}

// EnsureTable creates the events table and its place index when missing.
func (l *DynamoLog) EnsureTable(ctx context.Context) error {
	_, err := l.client.DescribeTable(ctx, &dynamodb.DescribeTableInput{
		TableName: aws.String(l.table),
	})
	if err == nil {
		return nil
	}
	var notFound *types.ResourceNotFoundException
	if !errors.As(err, &notFound) {
		return fmt.Errorf("describe table %s: %w", l.table, err)
	}

	_, err = l.client.CreateTable(ctx, &dynamodb.CreateTableInput{
		TableName:   aws.String(l.table),
		BillingMode: types.BillingModePayPerRequest,
		KeySchema: []types.KeySchemaElement{
			{AttributeName: aws.String("event_id"), KeyType: types.KeyTypeHash},
		},
		AttributeDefinitions: []types.AttributeDefinition{
			{AttributeName: aws.String("event_id"), AttributeType: types.ScalarAttributeTypeS},
			{AttributeName: aws.String("place"), AttributeType: types.ScalarAttributeTypeS},
			{AttributeName: aws.String("ts_epoch"), AttributeType: types.ScalarAttributeTypeN},
		},
		GlobalSecondaryIndexes: []types.GlobalSecondaryIndex{
			{
				IndexName: aws.String(placeIndex),
				KeySchema: []types.KeySchemaElement{
					{AttributeName: aws.String("place"), KeyType: types.KeyTypeHash},
					{AttributeName: aws.String("ts_epoch"), KeyType: types.KeyTypeRange},
				},
				Projection: &types.Projection{ProjectionType: types.ProjectionTypeAll},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("create table %s: %w", l.table, err)
	}
	l.logger.Info("audit table created", zap.String("table", l.table))
	return nil
}
