package s3

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strconv"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/3leaps/clipqueue/pkg/provider"
)

// mockAPIError implements smithy.APIError for testing error code mapping.
type mockAPIError struct {
	code    string
	message string
}

func (e *mockAPIError) Error() string                 { return fmt.Sprintf("%s: %s", e.code, e.message) }
func (e *mockAPIError) ErrorCode() string             { return e.code }
func (e *mockAPIError) ErrorMessage() string          { return e.message }
func (e *mockAPIError) ErrorFault() smithy.ErrorFault { return smithy.FaultUnknown }

var _ smithy.APIError = (*mockAPIError)(nil)

// fakeClient is an in-memory bucket.
type fakeClient struct {
	objects  map[string][]byte
	puts     []*s3.PutObjectInput
	pageSize int
	err      error
}

func newFakeClient() *fakeClient {
	return &fakeClient{objects: make(map[string][]byte), pageSize: 2}
}

func (f *fakeClient) ListObjectsV2(ctx context.Context, in *s3.ListObjectsV2Input, _ ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	if f.err != nil {
		return nil, f.err
	}
	var keys []string
	for k := range f.objects {
		if in.Prefix == nil || len(k) >= len(*in.Prefix) && k[:len(*in.Prefix)] == *in.Prefix {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	start := 0
	if in.ContinuationToken != nil {
		start, _ = strconv.Atoi(*in.ContinuationToken)
	}
	end := min(start+f.pageSize, len(keys))
	out := &s3.ListObjectsV2Output{IsTruncated: aws.Bool(end < len(keys))}
	for _, k := range keys[start:end] {
		out.Contents = append(out.Contents, types.Object{
			Key:  aws.String(k),
			Size: aws.Int64(int64(len(f.objects[k]))),
			ETag: aws.String(`"etag-` + k + `"`),
		})
	}
	if end < len(keys) {
		out.NextContinuationToken = aws.String(strconv.Itoa(end))
	}
	return out, nil
}

func (f *fakeClient) HeadObject(ctx context.Context, in *s3.HeadObjectInput, _ ...func(*s3.Options)) (*s3.HeadObjectOutput, error) {
	data, ok := f.objects[aws.ToString(in.Key)]
	if !ok {
		return nil, &types.NotFound{}
	}
	return &s3.HeadObjectOutput{
		ContentLength: aws.Int64(int64(len(data))),
		ETag:          aws.String(`"abc"`),
		LastModified:  aws.Time(time.Unix(1700000000, 0)),
		ContentType:   aws.String("video/mp4"),
	}, nil
}

func (f *fakeClient) GetObject(ctx context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	data, ok := f.objects[aws.ToString(in.Key)]
	if !ok {
		return nil, &types.NoSuchKey{}
	}
	return &s3.GetObjectOutput{
		Body:          io.NopCloser(bytes.NewReader(data)),
		ContentLength: aws.Int64(int64(len(data))),
	}, nil
}

func (f *fakeClient) PutObject(ctx context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.objects[aws.ToString(in.Key)] = data
	f.puts = append(f.puts, in)
	return &s3.PutObjectOutput{}, nil
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		config  Config
		wantErr string
	}{
		{name: "empty bucket", config: Config{}, wantErr: "bucket name is required"},
		{name: "valid minimal config", config: Config{Bucket: "renders"}},
		{name: "valid config with endpoint", config: Config{Bucket: "renders", Endpoint: "http://localhost:9000", ForcePathStyle: true}},
		{name: "valid explicit creds", config: Config{Bucket: "renders", AccessKeyID: "AKID", SecretAccessKey: "secret"}},
		{name: "access key without secret", config: Config{Bucket: "renders", AccessKeyID: "AKID"}, wantErr: "must be provided together"},
		{name: "secret without access key", config: Config{Bucket: "renders", SecretAccessKey: "secret"}, wantErr: "must be provided together"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
			var cfgErr *ConfigError
			assert.True(t, errors.As(err, &cfgErr))
		})
	}
}

func TestNew_ValidationError(t *testing.T) {
	_, err := New(context.Background(), Config{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bucket name is required")
}

func TestProviderPutGetHead(t *testing.T) {
	client := newFakeClient()
	p := newWithClient(client, Config{Bucket: "renders"})
	ctx := context.Background()

	require.NoError(t, p.Put(ctx, "outputs/clip_nobg_1-abc.mov", bytes.NewReader([]byte("moov")), 4))
	require.Len(t, client.puts, 1)
	assert.Equal(t, "video/quicktime", aws.ToString(client.puts[0].ContentType))
	assert.Equal(t, int64(4), aws.ToInt64(client.puts[0].ContentLength))

	body, size, err := p.Get(ctx, "outputs/clip_nobg_1-abc.mov")
	require.NoError(t, err)
	defer func() { _ = body.Close() }()
	data, err := io.ReadAll(body)
	require.NoError(t, err)
	assert.Equal(t, "moov", string(data))
	assert.Equal(t, int64(4), size)

	meta, err := p.Head(ctx, "outputs/clip_nobg_1-abc.mov")
	require.NoError(t, err)
	assert.Equal(t, "abc", meta.ETag)
	assert.Equal(t, int64(4), meta.Size)

	_, _, err = p.Get(ctx, "missing.mp4")
	assert.True(t, provider.IsNotFound(err))
	_, err = p.Head(ctx, "missing.mp4")
	assert.True(t, provider.IsNotFound(err))

	assert.Equal(t, "s3://renders/outputs/x.mov", p.URI("/outputs/x.mov"))
	assert.Equal(t, "renders", p.Bucket())
}

func TestProviderExplicitContentType(t *testing.T) {
	client := newFakeClient()
	p := newWithClient(client, Config{Bucket: "renders", ContentType: "application/x-clip"})
	require.NoError(t, p.Put(context.Background(), "a.mov", bytes.NewReader(nil), 0))
	assert.Equal(t, "application/x-clip", aws.ToString(client.puts[0].ContentType))
}

func TestProviderListPaginates(t *testing.T) {
	client := newFakeClient()
	for _, k := range []string{"in/a.mp4", "in/b.mov", "in/c.webm", "other/d.mp4"} {
		client.objects[k] = []byte(k)
	}
	p := newWithClient(client, Config{Bucket: "renders"})

	var keys []string
	err := provider.Walk(context.Background(), p, "in/", func(o provider.ObjectSummary) error {
		keys = append(keys, o.Key)
		assert.NotContains(t, o.ETag, `"`)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"in/a.mp4", "in/b.mov", "in/c.webm"}, keys)
}

func TestProviderListError(t *testing.T) {
	client := newFakeClient()
	client.err = &mockAPIError{code: "AccessDenied", message: "nope"}
	p := newWithClient(client, Config{Bucket: "renders"})

	_, err := p.List(context.Background(), provider.ListOptions{Prefix: "in/"})
	assert.True(t, provider.IsAccessDenied(err))
}

func TestWrapError_Types(t *testing.T) {
	p := &Provider{bucket: "test-bucket"}

	err := p.wrapError("Head", "missing.mp4", &types.NoSuchKey{})
	var provErr *provider.ProviderError
	require.True(t, errors.As(err, &provErr))
	assert.Equal(t, "Head", provErr.Op)
	assert.Equal(t, provider.ProviderS3, provErr.Provider)
	assert.Equal(t, "test-bucket", provErr.Bucket)
	assert.Equal(t, "missing.mp4", provErr.Key)
	assert.ErrorIs(t, err, provider.ErrNotFound)

	assert.ErrorIs(t, p.wrapError("List", "", &types.NoSuchBucket{}), provider.ErrBucketNotFound)
}

func TestWrapError_FromMessage(t *testing.T) {
	p := &Provider{bucket: "test-bucket"}

	tests := []struct {
		name     string
		errMsg   string
		expected error
	}{
		{"access denied", "AccessDenied: Access Denied", provider.ErrAccessDenied},
		{"403", "operation error: https response error StatusCode: 403", provider.ErrAccessDenied},
		{"404", "operation error: https response error StatusCode: 404", provider.ErrNotFound},
		{"no such bucket", "NoSuchBucket: bucket does not exist", provider.ErrBucketNotFound},
		{"signature mismatch", "SignatureDoesNotMatch: invalid signature", provider.ErrInvalidCredentials},
		{"429", "operation error: https response error StatusCode: 429", provider.ErrThrottled},
		{"503", "operation error: https response error StatusCode: 503", provider.ErrProviderUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, p.wrapError("Put", "key", errors.New(tt.errMsg)), tt.expected)
		})
	}
}

func TestWrapError_APIError(t *testing.T) {
	p := &Provider{bucket: "test-bucket"}

	tests := []struct {
		code     string
		expected error
	}{
		{"NoSuchKey", provider.ErrNotFound},
		{"NoSuchBucket", provider.ErrBucketNotFound},
		{"Forbidden", provider.ErrAccessDenied},
		{"InvalidAccessKeyId", provider.ErrInvalidCredentials},
		{"SlowDown", provider.ErrThrottled},
		{"RequestLimitExceeded", provider.ErrThrottled},
		{"InternalError", provider.ErrProviderUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			err := p.wrapError("Put", "key", &mockAPIError{code: tt.code, message: "test message"})
			assert.ErrorIs(t, err, tt.expected)
		})
	}

	unknown := &mockAPIError{code: "Teapot"}
	assert.ErrorIs(t, p.wrapError("Put", "key", unknown), unknown)
}

func TestCleanETag(t *testing.T) {
	assert.Equal(t, "d41d8cd98f00b204e9800998ecf8427e", cleanETag(`"d41d8cd98f00b204e9800998ecf8427e"`))
	assert.Equal(t, "abc-2", cleanETag("abc-2"))
	assert.Equal(t, "", cleanETag(""))
}

func TestClampMaxKeys(t *testing.T) {
	assert.Equal(t, DefaultMaxKeys, clampMaxKeys(0, DefaultMaxKeys))
	assert.Equal(t, 50, clampMaxKeys(50, DefaultMaxKeys))
	assert.Equal(t, MaxAllowedKeys, clampMaxKeys(5000, DefaultMaxKeys))
	assert.Equal(t, 200, clampMaxKeys(-1, 200))
}

func TestResolveRegion(t *testing.T) {
	assert.Equal(t, "eu-west-1", resolveRegion("", "eu-west-1"))
	assert.Equal(t, DefaultAWSRegion, resolveRegion("", ""))
	assert.Equal(t, "", resolveRegion("http://localhost:9000", ""))
	assert.Equal(t, "us-west-2", resolveRegion("http://localhost:9000", "us-west-2"))
}

func TestContentTypeFor(t *testing.T) {
	assert.Equal(t, "video/quicktime", ContentTypeFor("A.MOV"))
	assert.Equal(t, "video/mp4", ContentTypeFor("a.mp4"))
	assert.Equal(t, "application/octet-stream", ContentTypeFor("a.bin"))
}
