package catalog

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/imrishuroy/bitsmart-orderflow/internal/aws"
)

// SellerStore encapsulates operations on the sellers table.
type SellerStore struct {
	client    aws.DynamoDBAPI
	tableName string
	nowFunc   func() time.Time
}

func NewSellerStore(client aws.DynamoDBAPI, tableName string) *SellerStore {
	return &SellerStore{
		client:    client,
		tableName: tableName,
		nowFunc:   time.Now,
	}
}

// Put overwrites the profile; profiles are single-owner, last writer wins.
func (s *SellerStore) Put(ctx context.Context, p SellerProfile) (*SellerProfile, error) {
	p.UpdatedAt = s.nowFunc().UTC()
	item, err := attributevalue.MarshalMap(p)
	if err != nil {
		return nil, fmt.Errorf("marshal profile: %w", err)
	}
	if _, err := s.client.PutItem(ctx, &dyn.PutItemInput{
		TableName: &s.tableName,
		Item:      item,
	}); err != nil {
		return nil, fmt.Errorf("put profile: %w", err)
	}
	return &p, nil
}

// Get fetches a profile. Returns (nil, nil) if not found.
func (s *SellerStore) Get(ctx context.Context, sellerID string) (*SellerProfile, error) {
	out, err := s.client.GetItem(ctx, &dyn.GetItemInput{
		TableName: &s.tableName,
		Key: map[string]types.AttributeValue{
			"seller_id": &types.AttributeValueMemberS{Value: sellerID},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("get profile: %w", err)
	}
	if len(out.Item) == 0 {
		return nil, nil
	}
	var p SellerProfile
	if err := attributevalue.UnmarshalMap(out.Item, &p); err != nil {
		return nil, fmt.Errorf("unmarshal profile: %w", err)
	}
	return &p, nil
}

// ListByRole scans every profile with the given role.
func (s *SellerStore) ListByRole(ctx context.Context, role Role) ([]SellerProfile, error) {
	input := &dyn.ScanInput{
		TableName:                &s.tableName,
		FilterExpression:         awsString("#r = :role"),
		ExpressionAttributeNames: map[string]string{"#r": "role"},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":role": &types.AttributeValueMemberS{Value: string(role)},
		},
	}

	var profiles []SellerProfile
	for {
		out, err := s.client.Scan(ctx, input)
		if err != nil {
			return nil, fmt.Errorf("scan profiles: %w", err)
		}
		var page []SellerProfile
		if err := attributevalue.UnmarshalListOfMaps(out.Items, &page); err != nil {
			return nil, fmt.Errorf("unmarshal profiles: %w", err)
		}
		profiles = append(profiles, page...)
		if len(out.LastEvaluatedKey) == 0 {
			return profiles, nil
		}
		input.ExclusiveStartKey = out.LastEvaluatedKey
	}
}
