package objectstore

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/stretchr/testify/require"
)

type fakeS3 struct {
	objects map[string]string
	getErr  error
	pages   [][]string
	listErr error
	gotKey  string
	putErr  error
	put     map[string]string
}

func (f *fakeS3) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if f.putErr != nil {
		return nil, f.putErr
	}
	body, _ := io.ReadAll(in.Body)
	if f.put == nil {
		f.put = map[string]string{}
	}
	f.put[aws.ToString(in.Bucket)+"/"+aws.ToString(in.Key)] = string(body)
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeS3) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	f.gotKey = aws.ToString(in.Key)
	if f.getErr != nil {
		return nil, f.getErr
	}
	body, ok := f.objects[f.gotKey]
	if !ok {
		return nil, &types.NoSuchKey{}
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(strings.NewReader(body))}, nil
}

func (f *fakeS3) ListObjectsV2(_ context.Context, in *s3.ListObjectsV2Input, _ ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	idx := 0
	if in.ContinuationToken != nil {
		idx = len(*in.ContinuationToken)
	}
	out := &s3.ListObjectsV2Output{}
	for _, k := range f.pages[idx] {
		out.Contents = append(out.Contents, types.Object{Key: aws.String(k)})
	}
	if idx+1 < len(f.pages) {
		out.IsTruncated = aws.Bool(true)
		out.NextContinuationToken = aws.String(strings.Repeat("x", idx+1))
	}
	return out, nil
}

func TestFetch(t *testing.T) {
	api := &fakeS3{objects: map[string]string{"manuals/AMM.pdf": "%PDF"}}
	c, err := New(api)
	require.NoError(t, err)

	data, err := c.Fetch(context.Background(), "docs", "/manuals/AMM.pdf")
	require.NoError(t, err)
	require.Equal(t, "%PDF", string(data))
	require.Equal(t, "manuals/AMM.pdf", api.gotKey)
}

func TestFetchRejectsOversizedObject(t *testing.T) {
	c, err := New(&fakeS3{objects: map[string]string{"big.pdf": "0123456789", "fits.pdf": "01234"}})
	require.NoError(t, err)
	c.maxSize = 5

	data, err := c.Fetch(context.Background(), "docs", "fits.pdf")
	require.NoError(t, err)
	require.Equal(t, "01234", string(data))

	_, err = c.Fetch(context.Background(), "docs", "big.pdf")
	var se *StorageError
	require.ErrorAs(t, err, &se)
	require.Equal(t, "read", se.Op)
	require.ErrorIs(t, err, ErrTooLarge)
}

func TestPut(t *testing.T) {
	api := &fakeS3{}
	c, err := New(api)
	require.NoError(t, err)

	require.NoError(t, c.Put(context.Background(), "nc", "/json/NC-1.json", []byte(`{"a":1}`), "application/json"))
	require.Equal(t, map[string]string{"nc/json/NC-1.json": `{"a":1}`}, api.put)

	require.Error(t, c.Put(context.Background(), "nc", " ", nil, "application/json"))

	api.putErr = errors.New("access denied")
	err = c.Put(context.Background(), "nc", "x.json", nil, "application/json")
	var se *StorageError
	require.ErrorAs(t, err, &se)
	require.Equal(t, "put", se.Op)
}

func TestFetchNotFound(t *testing.T) {
	c, _ := New(&fakeS3{objects: map[string]string{}})
	_, err := c.Fetch(context.Background(), "docs", "missing.pdf")
	require.ErrorIs(t, err, ErrNotFound)

	_, err = c.Fetch(context.Background(), "docs", " ")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestFetchStorageError(t *testing.T) {
	c, _ := New(&fakeS3{getErr: errors.New("access denied")})
	_, err := c.Fetch(context.Background(), "docs", "a.pdf")
	var se *StorageError
	require.ErrorAs(t, err, &se)
	require.Equal(t, "get", se.Op)
	require.NotErrorIs(t, err, ErrNotFound)
	require.Contains(t, err.Error(), "docs/a.pdf")
}

func TestListJSONKeysPaginates(t *testing.T) {
	c, _ := New(&fakeS3{pages: [][]string{
		{"nc-1.json", "readme.txt"},
		{"nc-2.json"},
	}})
	keys, err := c.ListJSONKeys(context.Background(), "nc")
	require.NoError(t, err)
	require.Equal(t, []string{"nc-1.json", "nc-2.json"}, keys)
}

func TestListJSONKeysError(t *testing.T) {
	c, _ := New(&fakeS3{listErr: errors.New("throttled")})
	_, err := c.ListJSONKeys(context.Background(), "nc")
	var se *StorageError
	require.ErrorAs(t, err, &se)
}

func TestNewNilAPI(t *testing.T) {
	_, err := New(nil)
	require.Error(t, err)
}
