package repository

import (
	"context"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/pkg/errors"

	"nc-assistant/internal/domain"
)

const (
	pkPrefixUser = "USER#"
	skProfile    = "PROFILE#"
)

var (
	ErrUserExists   = errors.New("repository: user already exists")
	ErrUserNotFound = errors.New("repository: user not found")
)

// dynamodbAPI is the minimal DynamoDB interface required by Client.
// Defined here for testability.
type dynamodbAPI interface {
	GetItem(ctx context.Context, in *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
}

// UserStore is the account storage consumed by the auth service.
type UserStore interface {
	CreateUser(ctx context.Context, u domain.User) error
	GetUser(ctx context.Context, username string) (domain.User, error)
}

// Client wraps a DynamoDB table holding user accounts.
type Client struct {
	api       dynamodbAPI
	tableName string
}

// New creates a new repository Client.
func New(api dynamodbAPI, tableName string) (*Client, error) {
	if api == nil {
		return nil, errors.New("repository: api must not be nil")
	}
	if strings.TrimSpace(tableName) == "" {
		return nil, errors.New("repository: table name must not be empty")
	}
	return &Client{api: api, tableName: tableName}, nil
}

// userPK returns the partition key for an account. Usernames are case
// insensitive.
func userPK(username string) string {
	return pkPrefixUser + normalizeUsername(username)
}

func normalizeUsername(username string) string {
	return strings.ToLower(strings.TrimSpace(username))
}

func userKey(username string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"PK": &types.AttributeValueMemberS{Value: userPK(username)},
		"SK": &types.AttributeValueMemberS{Value: skProfile},
	}
}

// CreateUser stores a new account. An existing username yields ErrUserExists.
func (c *Client) CreateUser(ctx context.Context, u domain.User) error {
	if normalizeUsername(u.Username) == "" || u.PasswordHash == "" {
		return errors.New("repository: CreateUser: username and password hash are required")
	}
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now().UTC()
	}

	_, err := c.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(c.tableName),
		Item:                userItem(u),
		ConditionExpression: aws.String("attribute_not_exists(PK) AND attribute_not_exists(SK)"),
	})
	if err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			return ErrUserExists
		}
		return errors.Wrap(err, "repository: CreateUser")
	}
	return nil
}

// GetUser loads one account by username.
func (c *Client) GetUser(ctx context.Context, username string) (domain.User, error) {
	out, err := c.api.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(c.tableName),
		Key:            userKey(username),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return domain.User{}, errors.Wrap(err, "repository: GetUser get item")
	}
	if out == nil || len(out.Item) == 0 {
		return domain.User{}, ErrUserNotFound
	}
	u, err := itemToUser(out.Item)
	if err != nil {
		return domain.User{}, errors.Wrap(err, "repository: GetUser unmarshal")
	}
	return u, nil
}

func userItem(u domain.User) map[string]types.AttributeValue {
	item := userKey(u.Username)
	item["username"] = &types.AttributeValueMemberS{Value: normalizeUsername(u.Username)}
	item["passwordHash"] = &types.AttributeValueMemberS{Value: u.PasswordHash}
	item["createdAt"] = &types.AttributeValueMemberS{Value: u.CreatedAt.UTC().Format(time.RFC3339)}
	return item
}

func itemToUser(item map[string]types.AttributeValue) (domain.User, error) {
	username, err := strAttr(item, "username")
	if err != nil {
		return domain.User{}, err
	}
	hash, err := strAttr(item, "passwordHash")
	if err != nil {
		return domain.User{}, err
	}
	u := domain.User{Username: username, PasswordHash: hash}
	if created, err := strAttr(item, "createdAt"); err == nil {
		// tolerate legacy items without a parsable timestamp
		u.CreatedAt, _ = time.Parse(time.RFC3339, created)
	}
	return u, nil
}

func strAttr(item map[string]types.AttributeValue, key string) (string, error) {
	v, ok := item[key]
	if !ok {
		return "", errors.Errorf("repository: missing attribute %q", key)
	}
	s, ok := v.(*types.AttributeValueMemberS)
	if !ok {
		return "", errors.Errorf("repository: attribute %q is not a string", key)
	}
	return s.Value, nil
}
