package s3

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	ddbtypes "github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/tilecraft/tilestream/model"
)

// ErrConcurrentCommit is returned when another writer published the same
// sequence number first. Callers should re-read the latest version and
// retry with the next sequence.
var ErrConcurrentCommit = errors.New("s3: concurrent version commit")

// ErrNoVersions is returned by Latest for datasets with no committed
// version.
var ErrNoVersions = errors.New("s3: no committed versions")

// DDBClient is the subset of the DynamoDB API the version store uses.
type DDBClient interface {
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	Query(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	DeleteItem(ctx context.Context, params *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
}

// Commit records one published dataset version.
type Commit struct {
	Dataset      model.DatasetID
	Seq          uint64
	Version      model.Version
	ManifestPath string
}

// VersionStore tracks the published version history of datasets in a
// DynamoDB table. The table uses dataset_id (S) as partition key and
// seq (N) as sort key; the latest version is the highest sequence.
//
// Conditional writes make publication linearizable: two writers racing on
// the same sequence number cannot both succeed.
type VersionStore struct {
	client DDBClient
	table  string
}

// NewVersionStore creates a version store over an existing table.
func NewVersionStore(client DDBClient, table string) *VersionStore {
	return &VersionStore{client: client, table: table}
}

// Latest returns the most recently committed version of the dataset, or
// ErrNoVersions if none exists.
func (s *VersionStore) Latest(ctx context.Context, dataset model.DatasetID) (Commit, error) {
	out, err := s.client.Query(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(s.table),
		KeyConditionExpression: aws.String("dataset_id = :d"),
		ExpressionAttributeValues: map[string]ddbtypes.AttributeValue{
			":d": &ddbtypes.AttributeValueMemberS{Value: string(dataset)},
		},
		ScanIndexForward: aws.Bool(false),
		Limit:            aws.Int32(1),
	})
	if err != nil {
		return Commit{}, fmt.Errorf("s3: query latest version: %w", err)
	}
	if len(out.Items) == 0 {
		return Commit{}, ErrNoVersions
	}
	return decodeCommit(out.Items[0])
}

// Publish commits a new version under the given sequence number. The
// sequence must be Latest().Seq+1 (or 1 for the first commit); a lost race
// surfaces as ErrConcurrentCommit.
func (s *VersionStore) Publish(ctx context.Context, c Commit) error {
	if c.Version == "" {
		return errors.New("s3: empty version")
	}
	_, err := s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.table),
		Item: map[string]ddbtypes.AttributeValue{
			"dataset_id":    &ddbtypes.AttributeValueMemberS{Value: string(c.Dataset)},
			"seq":           &ddbtypes.AttributeValueMemberN{Value: strconv.FormatUint(c.Seq, 10)},
			"version":       &ddbtypes.AttributeValueMemberS{Value: string(c.Version)},
			"manifest_path": &ddbtypes.AttributeValueMemberS{Value: c.ManifestPath},
		},
		ConditionExpression: aws.String("attribute_not_exists(seq)"),
	})
	if err != nil {
		var cfe *ddbtypes.ConditionalCheckFailedException
		if errors.As(err, &cfe) {
			return ErrConcurrentCommit
		}
		return fmt.Errorf("s3: publish version: %w", err)
	}
	return nil
}

// At returns the commit at a specific sequence number, or ErrNoVersions.
func (s *VersionStore) At(ctx context.Context, dataset model.DatasetID, seq uint64) (Commit, error) {
	out, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(s.table),
		Key:       commitKey(dataset, seq),
	})
	if err != nil {
		return Commit{}, fmt.Errorf("s3: get version: %w", err)
	}
	if len(out.Item) == 0 {
		return Commit{}, ErrNoVersions
	}
	return decodeCommit(out.Item)
}

// Retract deletes a committed version, e.g. after a failed publication.
func (s *VersionStore) Retract(ctx context.Context, dataset model.DatasetID, seq uint64) error {
	_, err := s.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(s.table),
		Key:       commitKey(dataset, seq),
	})
	if err != nil {
		return fmt.Errorf("s3: retract version: %w", err)
	}
	return nil
}

func commitKey(dataset model.DatasetID, seq uint64) map[string]ddbtypes.AttributeValue {
	return map[string]ddbtypes.AttributeValue{
		"dataset_id": &ddbtypes.AttributeValueMemberS{Value: string(dataset)},
		"seq":        &ddbtypes.AttributeValueMemberN{Value: strconv.FormatUint(seq, 10)},
	}
}

func decodeCommit(item map[string]ddbtypes.AttributeValue) (Commit, error) {
	var c Commit
	if v, ok := item["dataset_id"].(*ddbtypes.AttributeValueMemberS); ok {
		c.Dataset = model.DatasetID(v.Value)
	}
	if v, ok := item["seq"].(*ddbtypes.AttributeValueMemberN); ok {
		seq, err := strconv.ParseUint(v.Value, 10, 64)
		if err != nil {
			return Commit{}, fmt.Errorf("s3: malformed seq %q: %w", v.Value, err)
		}
		c.Seq = seq
	}
	if v, ok := item["version"].(*ddbtypes.AttributeValueMemberS); ok {
		c.Version = model.Version(v.Value)
	}
	if v, ok := item["manifest_path"].(*ddbtypes.AttributeValueMemberS); ok {
		c.ManifestPath = v.Value
	}
	if c.Version == "" {
		return Commit{}, errors.New("s3: malformed commit item: missing version")
	}
	return c, nil
}
