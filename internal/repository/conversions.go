package repository

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"conversion-relay/internal/domain"
)

// retryableFilter selects errored records that still have attempts left.
// "status" is a DynamoDB reserved word, hence the name placeholders.
const retryableFilter = "#st.#cur = :error AND #st.#att < :max"

// dynamodbAPI is the minimal DynamoDB interface required by the stores.
// Defined here for testability.
type dynamodbAPI interface {
	GetItem(ctx context.Context, in *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	Scan(ctx context.Context, in *dynamodb.ScanInput, optFns ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error)
}

// ConversionStore keeps one document per click id in a DynamoDB table whose
// partition key is "gclid".
type ConversionStore struct {
	api       dynamodbAPI
	tableName string
	logger    *slog.Logger
}

type StoreOption func(*ConversionStore)

func WithLogger(logger *slog.Logger) StoreOption {
	return func(s *ConversionStore) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewConversionStore creates a ConversionStore for the given table.
func NewConversionStore(api dynamodbAPI, tableName string, opts ...StoreOption) (*ConversionStore, error) {
	if api == nil {
		return nil, errors.New("repository: api must not be nil")
	}
	if strings.TrimSpace(tableName) == "" {
		return nil, errors.New("repository: table name must not be empty")
	}
	s := &ConversionStore{api: api, tableName: tableName, logger: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// PutConversion replaces the whole document stored under doc.Detail.GCLID.
// There is no condition expression: concurrent writers on the same click id
// race and the last write wins.
func (s *ConversionStore) PutConversion(ctx context.Context, doc domain.ConversionDocument) error {
	if strings.TrimSpace(doc.Detail.GCLID) == "" {
		return errors.New("repository: PutConversion: gclid is required")
	}

	_, err := s.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.tableName),
		Item:      conversionItem(doc),
	})
	if err != nil {
		return fmt.Errorf("repository: PutConversion: %w", err)
	}
	return nil
}

// GetConversion loads a single document. The bool is false when none exists.
func (s *ConversionStore) GetConversion(ctx context.Context, gclid string) (domain.ConversionDocument, bool, error) {
	out, err := s.api.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(s.tableName),
		Key: map[string]types.AttributeValue{
			"gclid": &types.AttributeValueMemberS{Value: gclid},
		},
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return domain.ConversionDocument{}, false, fmt.Errorf("repository: GetConversion: %w", err)
	}
	if out == nil || len(out.Item) == 0 {
		return domain.ConversionDocument{}, false, nil
	}
	doc, err := itemToConversion(out.Item)
	if err != nil {
		return domain.ConversionDocument{}, false, fmt.Errorf("repository: GetConversion unmarshal: %w", err)
	}
	return doc, true, nil
}

// ListRetryable returns every document with status.current == "error" and
// status.attempts < maxAttempts, following scan pagination to the end.
// Items that cannot be decoded are logged and skipped.
func (s *ConversionStore) ListRetryable(ctx context.Context, maxAttempts int) ([]domain.ConversionDocument, error) {
	in := &dynamodb.ScanInput{
		TableName:        aws.String(s.tableName),
		FilterExpression: aws.String(retryableFilter),
		ExpressionAttributeNames: map[string]string{
			"#st":  "status",
			"#cur": "current",
			"#att": "attempts",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":error": &types.AttributeValueMemberS{Value: string(domain.StatusError)},
			":max":   &types.AttributeValueMemberN{Value: fmt.Sprintf("%d", maxAttempts)},
		},
		ConsistentRead: aws.Bool(true),
	}

	var docs []domain.ConversionDocument
	for {
		out, err := s.api.Scan(ctx, in)
		if err != nil {
			return nil, fmt.Errorf("repository: ListRetryable scan: %w", err)
		}
		for _, item := range out.Items {
			doc, err := itemToConversion(item)
			if err != nil {
				s.logger.Error("skipping undecodable conversion", "gclid", itemKey(item), "err", err)
				continue
			}
			docs = append(docs, doc)
		}
		if len(out.LastEvaluatedKey) == 0 {
			break
		}
		in.ExclusiveStartKey = out.LastEvaluatedKey
	}
	return docs, nil
}

func itemKey(item map[string]types.AttributeValue) string {
	if key, ok := item["gclid"].(*types.AttributeValueMemberS); ok {
		return key.Value
	}
	return ""
}

func conversionItem(doc domain.ConversionDocument) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"gclid":  &types.AttributeValueMemberS{Value: doc.Detail.GCLID},
		"detail": &types.AttributeValueMemberM{Value: detailItem(doc.Detail)},
		"status": &types.AttributeValueMemberM{Value: statusItem(doc.Status)},
		"meta":   &types.AttributeValueMemberM{Value: metaItem(doc.Meta)},
	}
}

func detailItem(d domain.Detail) map[string]types.AttributeValue {
	item := map[string]types.AttributeValue{
		"gclid":                &types.AttributeValueMemberS{Value: d.GCLID},
		"conversion_date_time": &types.AttributeValueMemberS{Value: d.ConversionDateTime},
		"conversion_action":    nullableStr(optional(d.ConversionAction)),
	}
	if d.OrderID != nil {
		item["order_id"] = &types.AttributeValueMemberS{Value: *d.OrderID}
	}
	if d.ConversionValue != nil {
		item["conversion_value"] = &types.AttributeValueMemberS{Value: *d.ConversionValue}
	}
	return item
}

func statusItem(st domain.Status) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"current":     &types.AttributeValueMemberS{Value: string(st.Current)},
		"message":     &types.AttributeValueMemberS{Value: st.Message},
		"attempts":    &types.AttributeValueMemberN{Value: fmt.Sprintf("%d", st.Attempts)},
		"lastAttempt": nullableStr(st.LastAttempt),
		"testMode":    &types.AttributeValueMemberBOOL{Value: st.TestMode},
	}
}

func metaItem(m domain.Meta) map[string]types.AttributeValue {
	query := make(map[string]types.AttributeValue, len(m.Query))
	for k, v := range m.Query {
		query[k] = &types.AttributeValueMemberS{Value: v}
	}
	return map[string]types.AttributeValue{
		"campaignId": &types.AttributeValueMemberS{Value: m.CampaignID},
		"url":        &types.AttributeValueMemberS{Value: m.URL},
		"date":       &types.AttributeValueMemberS{Value: m.Date},
		"query":      &types.AttributeValueMemberM{Value: query},
	}
}

// itemToConversion converts a DynamoDB attribute map to a ConversionDocument.
func itemToConversion(item map[string]types.AttributeValue) (domain.ConversionDocument, error) {
	detail, err := mapAttr(item, "detail")
	if err != nil {
		return domain.ConversionDocument{}, err
	}
	status, err := mapAttr(item, "status")
	if err != nil {
		return domain.ConversionDocument{}, err
	}
	meta, err := mapAttr(item, "meta")
	if err != nil {
		return domain.ConversionDocument{}, err
	}

	var doc domain.ConversionDocument

	if doc.Detail.GCLID, err = strAttr(detail, "gclid"); err != nil {
		return domain.ConversionDocument{}, err
	}
	doc.Detail.ConversionDateTime, _ = strAttr(detail, "conversion_date_time") // allow empty
	if action := optionalStrAttr(detail, "conversion_action"); action != nil {
		doc.Detail.ConversionAction = *action
	}
	doc.Detail.OrderID = optionalStrAttr(detail, "order_id")
	doc.Detail.ConversionValue = optionalStrAttr(detail, "conversion_value")

	current, err := strAttr(status, "current")
	if err != nil {
		return domain.ConversionDocument{}, err
	}
	doc.Status.Current = domain.StatusCode(current)
	doc.Status.Message, _ = strAttr(status, "message") // allow empty
	if doc.Status.Attempts, err = intAttr(status, "attempts"); err != nil {
		return domain.ConversionDocument{}, err
	}
	doc.Status.LastAttempt = optionalStrAttr(status, "lastAttempt")
	if b, ok := status["testMode"].(*types.AttributeValueMemberBOOL); ok {
		doc.Status.TestMode = b.Value
	}

	doc.Meta.CampaignID, _ = strAttr(meta, "campaignId")
	doc.Meta.URL, _ = strAttr(meta, "url")
	doc.Meta.Date, _ = strAttr(meta, "date")
	if q, err := mapAttr(meta, "query"); err == nil {
		doc.Meta.Query = make(map[string]string, len(q))
		for k, v := range q {
			if s, ok := v.(*types.AttributeValueMemberS); ok {
				doc.Meta.Query[k] = s.Value
			}
		}
	}
	return doc, nil
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func nullableStr(s *string) types.AttributeValue {
	if s == nil {
		return &types.AttributeValueMemberNULL{Value: true}
	}
	return &types.AttributeValueMemberS{Value: *s}
}

func optionalStrAttr(item map[string]types.AttributeValue, key string) *string {
	s, ok := item[key].(*types.AttributeValueMemberS)
	if !ok {
		return nil
	}
	v := s.Value
	return &v
}
