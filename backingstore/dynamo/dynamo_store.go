// Package dynamo implements backingstore.Store on DynamoDB.
//
// Table schema: partition key "pk" (string). The value lives in a binary
// attribute "val". Create the table with:
//
//	aws dynamodb create-table \
//	  --table-name optistore-policies \
//	  --attribute-definitions AttributeName=pk,AttributeType=S \
//	  --key-schema AttributeName=pk,KeyType=HASH \
//	  --billing-mode PAY_PER_REQUEST
package dynamo

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/optistore/optistore/backingstore"
)

// Client is the subset of the DynamoDB API the store needs. It is satisfied
// by *dynamodb.Client and easy to fake in tests.
type Client interface {
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	DeleteItem(ctx context.Context, params *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
	Scan(ctx context.Context, params *dynamodb.ScanInput, optFns ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error)
}

// Store implements backingstore.Store for DynamoDB.
type Store struct {
	client Client
	table  string
}

// New creates a DynamoDB store over the given table.
func New(client Client, table string) *Store {
	return &Store{client: client, table: table}
}

// Get reads the item stored under key.
func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	out, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(s.table),
		Key: map[string]types.AttributeValue{
			"pk": &types.AttributeValueMemberS{Value: key},
		},
	})
	if err != nil {
		return nil, err
	}
	if out.Item == nil {
		return nil, backingstore.ErrNotFound
	}

	val, ok := out.Item["val"].(*types.AttributeValueMemberB)
	if !ok {
		return nil, backingstore.ErrNotFound
	}
	return val.Value, nil
}

// Put writes value under key.
func (s *Store) Put(ctx context.Context, key string, value []byte) error {
	_, err := s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.table),
		Item: map[string]types.AttributeValue{
			"pk":  &types.AttributeValueMemberS{Value: key},
			"val": &types.AttributeValueMemberB{Value: value},
		},
	})
	return err
}

// Delete removes the item under key.
func (s *Store) Delete(ctx context.Context, key string) error {
	_, err := s.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(s.table),
		Key: map[string]types.AttributeValue{
			"pk": &types.AttributeValueMemberS{Value: key},
		},
	})
	return err
}

// List scans for keys with the given prefix. DynamoDB has no native prefix
// listing on a partition key, so this is a filtered scan; keep prefixes
// coarse on large tables.
func (s *Store) List(ctx context.Context, prefix string) ([]string, error) {
	var keys []string

	input := &dynamodb.ScanInput{
		TableName:            aws.String(s.table),
		ProjectionExpression: aws.String("pk"),
	}
	if prefix != "" {
		input.FilterExpression = aws.String("begins_with(pk, :p)")
		input.ExpressionAttributeValues = map[string]types.AttributeValue{
			":p": &types.AttributeValueMemberS{Value: prefix},
		}
	}

	for {
		out, err := s.client.Scan(ctx, input)
		if err != nil {
			return nil, err
		}
		for _, item := range out.Items {
			if pk, ok := item["pk"].(*types.AttributeValueMemberS); ok {
				keys = append(keys, pk.Value)
			}
		}
		if out.LastEvaluatedKey == nil {
			break
		}
		input.ExclusiveStartKey = out.LastEvaluatedKey
	}
	return keys, nil
}
