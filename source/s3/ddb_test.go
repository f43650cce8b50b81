package s3

import (
	"context"
	"sort"
	"strconv"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	ddbtypes "github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// fakeDDBClient emulates the small slice of DynamoDB the version store
// relies on: a composite-key table with conditional puts.
type fakeDDBClient struct {
	mu sync.Mutex
	// dataset_id -> seq -> item
	items map[string]map[uint64]map[string]ddbtypes.AttributeValue
}

func newFakeDDBClient() *fakeDDBClient {
	return &fakeDDBClient{items: make(map[string]map[uint64]map[string]ddbtypes.AttributeValue)}
}

func itemKey(item map[string]ddbtypes.AttributeValue) (string, uint64) {
	dataset := item["dataset_id"].(*ddbtypes.AttributeValueMemberS).Value
	seq, _ := strconv.ParseUint(item["seq"].(*ddbtypes.AttributeValueMemberN).Value, 10, 64)
	return dataset, seq
}

func (c *fakeDDBClient) PutItem(_ context.Context, params *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	dataset, seq := itemKey(params.Item)
	rows := c.items[dataset]
	if rows == nil {
		rows = make(map[uint64]map[string]ddbtypes.AttributeValue)
		c.items[dataset] = rows
	}
	if aws.ToString(params.ConditionExpression) == "attribute_not_exists(seq)" {
		if _, exists := rows[seq]; exists {
			return nil, &ddbtypes.ConditionalCheckFailedException{}
		}
	}
	rows[seq] = params.Item
	return &dynamodb.PutItemOutput{}, nil
}

func (c *fakeDDBClient) Query(_ context.Context, params *dynamodb.QueryInput, _ ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	dataset := params.ExpressionAttributeValues[":d"].(*ddbtypes.AttributeValueMemberS).Value
	rows := c.items[dataset]

	seqs := make([]uint64, 0, len(rows))
	for seq := range rows {
		seqs = append(seqs, seq)
	}
	sort.Slice(seqs, func(i, j int) bool {
		if params.ScanIndexForward != nil && !*params.ScanIndexForward {
			return seqs[i] > seqs[j]
		}
		return seqs[i] < seqs[j]
	})

	limit := len(seqs)
	if params.Limit != nil && int(*params.Limit) < limit {
		limit = int(*params.Limit)
	}

	out := &dynamodb.QueryOutput{}
	for _, seq := range seqs[:limit] {
		out.Items = append(out.Items, rows[seq])
	}
	return out, nil
}

func (c *fakeDDBClient) GetItem(_ context.Context, params *dynamodb.GetItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	dataset, seq := itemKey(params.Key)
	item, ok := c.items[dataset][seq]
	if !ok {
		return &dynamodb.GetItemOutput{}, nil
	}
	return &dynamodb.GetItemOutput{Item: item}, nil
}

func (c *fakeDDBClient) DeleteItem(_ context.Context, params *dynamodb.DeleteItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	dataset, seq := itemKey(params.Key)
	delete(c.items[dataset], seq)
	return &dynamodb.DeleteItemOutput{}, nil
}
