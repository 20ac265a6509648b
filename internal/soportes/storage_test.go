package soportes

import (
	"bytes"
	"context"
	"io"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockS3 keeps objects in memory and pages ListObjectsV2 two keys at a time.
type mockS3 struct {
	objects map[string][]byte
	types   map[string]string
}

func newMockS3() *mockS3 {
	return &mockS3{objects: map[string][]byte{}, types: map[string]string{}}
}

func (m *mockS3) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	body, _ := io.ReadAll(in.Body)
	m.objects[*in.Key] = body
	m.types[*in.Key] = aws.ToString(in.ContentType)
	return &s3.PutObjectOutput{}, nil
}

func (m *mockS3) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	data, ok := m.objects[*in.Key]
	if !ok {
		return nil, &s3types.NoSuchKey{}
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(data))}, nil
}

func (m *mockS3) DeleteObject(_ context.Context, in *s3.DeleteObjectInput, _ ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	if _, ok := m.objects[*in.Key]; !ok {
		return nil, &s3types.NotFound{}
	}
	delete(m.objects, *in.Key)
	return &s3.DeleteObjectOutput{}, nil
}

func (m *mockS3) ListObjectsV2(_ context.Context, in *s3.ListObjectsV2Input, _ ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	var keys []string
	for k := range m.objects {
		if strings.HasPrefix(k, aws.ToString(in.Prefix)) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	start := 0
	if in.ContinuationToken != nil {
		for i, k := range keys {
			if k == *in.ContinuationToken {
				start = i
				break
			}
		}
	}
	end := min(start+2, len(keys))
	out := &s3.ListObjectsV2Output{}
	for _, k := range keys[start:end] {
		out.Contents = append(out.Contents, s3types.Object{Key: aws.String(k)})
	}
	if end < len(keys) {
		out.IsTruncated = aws.Bool(true)
		out.NextContinuationToken = aws.String(keys[end])
	}
	return out, nil
}

type stubPresigner struct {
	ttl time.Duration
}

func (p *stubPresigner) PresignGetObject(_ context.Context, in *s3.GetObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error) {
	var opts s3.PresignOptions
	for _, fn := range optFns {
		fn(&opts)
	}
	p.ttl = opts.Expires
	return &v4.PresignedHTTPRequest{URL: "https://storage.example/" + *in.Bucket + "/" + *in.Key + "?sig=1"}, nil
}

func TestObjectStoreRoundTrip(t *testing.T) {
	mock := newMockS3()
	presign := &stubPresigner{}
	store := NewObjectStore(mock, presign, "soportes")
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, "radicados/RAD-1/a.pdf", []byte("%PDF-1.4"), "application/pdf"))
	assert.Equal(t, "application/pdf", mock.types["radicados/RAD-1/a.pdf"])

	got, err := store.Get(ctx, "radicados/RAD-1/a.pdf")
	require.NoError(t, err)
	assert.Equal(t, "%PDF-1.4", string(got))

	_, err = store.Get(ctx, "radicados/RAD-1/missing.pdf")
	assert.ErrorIs(t, err, ErrObjectNotFound)

	url, err := store.PresignGet(ctx, "radicados/RAD-1/a.pdf", "a.pdf", 10*time.Minute)
	require.NoError(t, err)
	assert.Contains(t, url, "soportes/radicados/RAD-1/a.pdf")
	assert.Equal(t, 10*time.Minute, presign.ttl)

	require.NoError(t, store.Delete(ctx, "radicados/RAD-1/a.pdf"))
	require.NoError(t, store.Delete(ctx, "radicados/RAD-1/a.pdf"), "missing objects delete cleanly")
}

func TestObjectStoreKeysPaginates(t *testing.T) {
	mock := newMockS3()
	store := NewObjectStore(mock, nil, "soportes")
	ctx := context.Background()
	for _, k := range []string{"radicados/RAD-1/a", "radicados/RAD-1/b", "radicados/RAD-1/c", "radicados/RAD-2/a"} {
		require.NoError(t, store.Put(ctx, k, []byte("x"), "image/png"))
	}
	keys, err := store.Keys(ctx, "radicados/RAD-1/")
	require.NoError(t, err)
	assert.Equal(t, []string{"radicados/RAD-1/a", "radicados/RAD-1/b", "radicados/RAD-1/c"}, keys)

	_, err = store.PresignGet(ctx, "k", "f", time.Minute)
	assert.Error(t, err)
}

func TestDetectTypeAndSanitize(t *testing.T) {
	ct, err := DetectType([]byte("%PDF-1.7\n..."))
	require.NoError(t, err)
	assert.Equal(t, "application/pdf", ct)

	ct, err = DetectType([]byte("II*\x00rest-of-tiff"))
	require.NoError(t, err)
	assert.Equal(t, "image/tiff", ct)

	ct, err = DetectType([]byte("\x89PNG\r\n\x1a\n0000"))
	require.NoError(t, err)
	assert.Equal(t, "image/png", ct)

	_, err = DetectType([]byte("<html><body>hola</body></html>"))
	assert.ErrorIs(t, err, ErrUnsupportedType)

	assert.Equal(t, "Formula_medica_Jose.pdf", SanitizeFilename("C:\\scans\\Fórmula médica José.PDF", "application/pdf"))
	assert.Equal(t, "soporte.png", SanitizeFilename("../../", "image/png"))
	assert.Equal(t, "historia.clinica.jpg", SanitizeFilename("historia.clinica.jpeg", "image/jpeg"))
	assert.Equal(t, "radicados/RAD-20240315-000001/abc-x.pdf", StorageKey("RAD-20240315-000001", "abc", "x.pdf"))
}
