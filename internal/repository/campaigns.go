package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"conversion-relay/internal/domain"
)

// CampaignDirectory resolves campaign ids to conversion action resource names.
// Items are keyed by "campaignId" and carry the resource name in "name".
type CampaignDirectory struct {
	api       dynamodbAPI
	tableName string
}

// NewCampaignDirectory creates a CampaignDirectory for the given table.
func NewCampaignDirectory(api dynamodbAPI, tableName string) (*CampaignDirectory, error) {
	if api == nil {
		return nil, errors.New("repository: api must not be nil")
	}
	if strings.TrimSpace(tableName) == "" {
		return nil, errors.New("repository: table name must not be empty")
	}
	return &CampaignDirectory{api: api, tableName: tableName}, nil
}

// ConversionAction returns the resource name for campaignID, or an error
// wrapping domain.ErrCampaignNotFound when the campaign is unknown.
func (d *CampaignDirectory) ConversionAction(ctx context.Context, campaignID string) (string, error) {
	if strings.TrimSpace(campaignID) == "" {
		return "", fmt.Errorf("repository: ConversionAction: empty campaign id: %w", domain.ErrCampaignNotFound)
	}

	out, err := d.api.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(d.tableName),
		Key: map[string]types.AttributeValue{
			"campaignId": &types.AttributeValueMemberS{Value: campaignID},
		},
	})
	if err != nil {
		return "", fmt.Errorf("repository: ConversionAction get item: %w", err)
	}
	if out == nil || len(out.Item) == 0 {
		return "", fmt.Errorf("repository: ConversionAction %q: %w", campaignID, domain.ErrCampaignNotFound)
	}

	name, err := strAttr(out.Item, "name")
	if err != nil {
		return "", fmt.Errorf("repository: ConversionAction decode name: %w", err)
	}
	if strings.TrimSpace(name) == "" {
		return "", fmt.Errorf("repository: ConversionAction %q has empty name: %w", campaignID, domain.ErrCampaignNotFound)
	}
	return name, nil
}

// PutCampaign writes or replaces a campaign document.
func (d *CampaignDirectory) PutCampaign(ctx context.Context, c domain.Campaign) error {
	if strings.TrimSpace(c.CampaignID) == "" || strings.TrimSpace(c.Name) == "" {
		return errors.New("repository: PutCampaign: campaign id and name are required")
	}

	_, err := d.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(d.tableName),
		Item: map[string]types.AttributeValue{
			"campaignId": &types.AttributeValueMemberS{Value: c.CampaignID},
			"name":       &types.AttributeValueMemberS{Value: c.Name},
		},
	})
	if err != nil {
		return fmt.Errorf("repository: PutCampaign: %w", err)
	}
	return nil
}
