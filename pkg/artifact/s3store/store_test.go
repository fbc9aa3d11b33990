package s3store

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/3leaps/topichub/pkg/artifact"
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

type fakeObject struct {
	data []byte
	meta map[string]string
}

// fakeS3 is an in-memory bucket.
type fakeS3 struct {
	mu         sync.Mutex
	objects    map[string]fakeObject
	deleteErr  error
	headCalls  int
	failDelete map[string]bool
}

func newFakeS3() *fakeS3 {
	return &fakeS3{objects: make(map[string]fakeObject), failDelete: make(map[string]bool)}
}

func (f *fakeS3) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects[aws.ToString(in.Key)] = fakeObject{data: data, meta: in.Metadata}
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeS3) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	obj, ok := f.objects[aws.ToString(in.Key)]
	if !ok {
		return nil, &types.NoSuchKey{}
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(obj.data)), Metadata: obj.meta}, nil
}

func (f *fakeS3) HeadObject(_ context.Context, in *s3.HeadObjectInput, _ ...func(*s3.Options)) (*s3.HeadObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.headCalls++
	obj, ok := f.objects[aws.ToString(in.Key)]
	if !ok {
		return nil, &types.NotFound{}
	}
	return &s3.HeadObjectOutput{Metadata: obj.meta}, nil
}

func (f *fakeS3) DeleteObjects(_ context.Context, in *s3.DeleteObjectsInput, _ ...func(*s3.Options)) (*s3.DeleteObjectsOutput, error) {
	if f.deleteErr != nil {
		return nil, f.deleteErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	out := &s3.DeleteObjectsOutput{}
	for _, o := range in.Delete.Objects {
		key := aws.ToString(o.Key)
		if f.failDelete[key] {
			out.Errors = append(out.Errors, types.Error{Key: o.Key, Code: aws.String("AccessDenied"), Message: aws.String("denied")})
			continue
		}
		delete(f.objects, key)
	}
	return out, nil
}

func (f *fakeS3) ListObjectsV2(_ context.Context, in *s3.ListObjectsV2Input, _ ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var keys []string
	for k := range f.objects {
		if strings.HasPrefix(k, aws.ToString(in.Prefix)) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	out := &s3.ListObjectsV2Output{}
	for _, k := range keys {
		out.Contents = append(out.Contents, types.Object{Key: aws.String(k)})
	}
	return out, nil
}

func newTestStore(t *testing.T) (*Store, *fakeS3, *time.Time) {
	t.Helper()
	fake := newFakeS3()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s := newWithClient(fake, Config{Bucket: "bucket", Prefix: "topichub/"})
	s.WithClock(func() time.Time { return now })
	return s, fake, &now
}

func TestStore_PutGetRoundTrip(t *testing.T) {
	ctx := context.Background()
	s, fake, _ := newTestStore(t)

	require.NoError(t, s.Put(ctx, "tdh:vectors:j1", []byte{0, 1, 0xff}, time.Hour))

	_, ok := fake.objects["topichub/tdh:vectors:j1"]
	assert.True(t, ok, "key should carry the configured prefix")
	assert.Equal(t, "1772370000", fake.objects["topichub/tdh:vectors:j1"].meta[metaExpiresAt])

	got, err := s.Get(ctx, "tdh:vectors:j1")
	require.NoError(t, err)
	assert.Equal(t, []byte{0, 1, 0xff}, got)
}

func TestStore_ExpiryEnforcedOnRead(t *testing.T) {
	ctx := context.Background()
	s, _, now := newTestStore(t)

	require.NoError(t, s.Put(ctx, "short", []byte("a"), time.Minute))
	require.NoError(t, s.Put(ctx, "forever", []byte("b"), 0))

	*now = now.Add(5 * time.Minute)

	_, err := s.Get(ctx, "short")
	assert.True(t, artifact.IsNotFound(err))

	ok, err := s.Exists(ctx, "short")
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = s.Exists(ctx, "forever")
	require.NoError(t, err)
	assert.True(t, ok)

	keys, err := s.Keys(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, []string{"forever"}, keys)
}

func TestStore_GetMissing(t *testing.T) {
	s, _, _ := newTestStore(t)

	_, err := s.Get(context.Background(), "missing")
	require.Error(t, err)
	assert.True(t, artifact.IsNotFound(err))

	ok, err := s.Exists(context.Background(), "missing")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestStore_DeleteCombinesErrors(t *testing.T) {
	ctx := context.Background()
	s, fake, _ := newTestStore(t)
	keys := artifact.NewKeys("")

	for _, k := range keys.All("j1") {
		require.NoError(t, s.Put(ctx, k, []byte("v"), 0))
	}
	fake.failDelete["topichub/"+keys.Texts("j1")] = true

	err := s.Delete(ctx, keys.All("j1")...)
	require.Error(t, err)
	assert.Contains(t, err.Error(), keys.Texts("j1"))

	ok, err := s.Exists(ctx, keys.Job("j1"))
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestStore_DeleteRequestFailure(t *testing.T) {
	s, fake, _ := newTestStore(t)
	fake.deleteErr = &mockAPIError{code: "SlowDown", message: "reduce rate"}

	err := s.Delete(context.Background(), "a")
	require.Error(t, err)
	assert.True(t, artifact.IsUnavailable(err))
}

func TestStore_KeysByPrefix(t *testing.T) {
	ctx := context.Background()
	s, _, _ := newTestStore(t)
	keys := artifact.NewKeys("")

	require.NoError(t, s.Put(ctx, keys.Job("b"), []byte("v"), 0))
	require.NoError(t, s.Put(ctx, keys.Job("a"), []byte("v"), 0))
	require.NoError(t, s.Put(ctx, keys.Texts("a"), []byte("v"), 0))

	got, err := s.Keys(ctx, keys.JobPrefix())
	require.NoError(t, err)
	assert.Equal(t, []string{"tdh:job:a", "tdh:job:b"}, got)
}

func TestWrapError(t *testing.T) {
	s := &Store{bucket: "bucket"}

	tests := []struct {
		name string
		err  error
		want error
	}{
		{"no such key type", &types.NoSuchKey{}, artifact.ErrNotFound},
		{"not found type", &types.NotFound{}, artifact.ErrNotFound},
		{"no such bucket type", &types.NoSuchBucket{}, artifact.ErrUnavailable},
		{"api NoSuchKey", &mockAPIError{code: "NoSuchKey"}, artifact.ErrNotFound},
		{"api AccessDenied", &mockAPIError{code: "AccessDenied"}, artifact.ErrAccessDenied},
		{"api InvalidAccessKeyId", &mockAPIError{code: "InvalidAccessKeyId"}, artifact.ErrAccessDenied},
		{"api Throttling", &mockAPIError{code: "Throttling"}, artifact.ErrUnavailable},
		{"message 404", errors.New("operation error S3: GetObject, https response error StatusCode: 404"), artifact.ErrNotFound},
		{"message 403", errors.New("StatusCode: 403, AccessDenied"), artifact.ErrAccessDenied},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := s.wrapError("Get", "k", tt.err)
			assert.ErrorIs(t, err, tt.want)

			var se *artifact.StoreError
			require.True(t, errors.As(err, &se))
			assert.Equal(t, "Get", se.Op)
			assert.Equal(t, "k", se.Key)
		})
	}
}

func TestWrapError_UnknownPreserved(t *testing.T) {
	s := &Store{bucket: "bucket"}
	base := errors.New("socket closed")

	err := s.wrapError("Put", "k", base)
	assert.ErrorIs(t, err, base)
	assert.False(t, artifact.IsNotFound(err))
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		config  Config
		wantErr string
	}{
		{name: "empty bucket", config: Config{}, wantErr: "bucket name is required"},
		{name: "half credentials", config: Config{Bucket: "b", AccessKeyID: "AK"}, wantErr: "must be provided together"},
		{name: "valid", config: Config{Bucket: "b"}},
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
		})
	}
}

func TestResolveRegion(t *testing.T) {
	tests := []struct {
		name      string
		cfgRegion string
		endpoint  string
		sdkRegion string
		want      string
	}{
		{"explicit wins", "eu-west-1", "", "us-west-2", "eu-west-1"},
		{"sdk resolved", "", "", "us-west-2", "us-west-2"},
		{"aws default", "", "", "", DefaultAWSRegion},
		{"compatible endpoint no default", "", "http://localhost:9000", "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, resolveRegion(tt.cfgRegion, tt.endpoint, tt.sdkRegion))
		})
	}
}

func TestLookupMeta_CaseInsensitive(t *testing.T) {
	v, ok := lookupMeta(map[string]string{"Expires-At": "10"}, metaExpiresAt)
	assert.True(t, ok)
	assert.Equal(t, "10", v)
}
