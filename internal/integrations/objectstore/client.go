// Package objectstore reads and stores documents and NC records in
// S3-compatible buckets.
package objectstore

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/pkg/errors"
)

// ErrNotFound is returned when the key does not exist in the bucket.
var ErrNotFound = errors.New("objectstore: not found")

// ErrTooLarge is wrapped in a StorageError when an object exceeds the read
// limit.
var ErrTooLarge = errors.New("objectstore: object too large")

// StorageError is any other storage failure.
type StorageError struct {
	Op     string
	Bucket string
	Key    string
	Err    error
}

func (e *StorageError) Error() string {
	if e.Key == "" {
		return fmt.Sprintf("objectstore: %s %s: %v", e.Op, e.Bucket, e.Err)
	}
	return fmt.Sprintf("objectstore: %s %s/%s: %v", e.Op, e.Bucket, e.Key, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// s3API is the subset of *s3.Client used here.
type s3API interface {
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	ListObjectsV2(ctx context.Context, in *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// Client reads objects through an S3 API.
type Client struct {
	api     s3API
	maxSize int64
}

const defaultMaxObjectSize = 64 << 20

func New(api s3API) (*Client, error) {
	if api == nil {
		return nil, errors.New("objectstore: api must not be nil")
	}
	return &Client{api: api, maxSize: defaultMaxObjectSize}, nil
}

// Fetch returns the object body.
func (c *Client) Fetch(ctx context.Context, bucket, key string) ([]byte, error) {
	key = strings.TrimLeft(strings.TrimSpace(key), "/")
	if key == "" {
		return nil, errors.Wrap(ErrNotFound, "empty key")
	}
	out, err := c.api.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var nsk *types.NoSuchKey
		if errors.As(err, &nsk) {
			return nil, errors.Wrapf(ErrNotFound, "%s/%s", bucket, key)
		}
		return nil, &StorageError{Op: "get", Bucket: bucket, Key: key, Err: err}
	}
	defer func() { _ = out.Body.Close() }()

	data, err := io.ReadAll(io.LimitReader(out.Body, c.maxSize+1))
	if err != nil {
		return nil, &StorageError{Op: "read", Bucket: bucket, Key: key, Err: err}
	}
	if int64(len(data)) > c.maxSize {
		return nil, &StorageError{Op: "read", Bucket: bucket, Key: key, Err: errors.Wrapf(ErrTooLarge, "limit %d bytes", c.maxSize)}
	}
	return data, nil
}

// Put stores data under key.
func (c *Client) Put(ctx context.Context, bucket, key string, data []byte, contentType string) error {
	key = strings.TrimLeft(strings.TrimSpace(key), "/")
	if key == "" {
		return errors.New("objectstore: empty key")
	}
	_, err := c.api.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(data),
		ContentLength: aws.Int64(int64(len(data))),
		ContentType:   aws.String(contentType),
	})
	if err != nil {
		return &StorageError{Op: "put", Bucket: bucket, Key: key, Err: err}
	}
	return nil
}

// ListJSONKeys returns every key ending in .json, following pagination.
func (c *Client) ListJSONKeys(ctx context.Context, bucket string) ([]string, error) {
	var keys []string
	p := s3.NewListObjectsV2Paginator(c.api, &s3.ListObjectsV2Input{Bucket: aws.String(bucket)})
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return nil, &StorageError{Op: "list", Bucket: bucket, Err: err}
		}
		for _, obj := range page.Contents {
			if k := aws.ToString(obj.Key); strings.HasSuffix(k, ".json") {
				keys = append(keys, k)
			}
		}
	}
	return keys, nil
}
