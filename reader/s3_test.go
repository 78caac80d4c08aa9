package reader

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cryptosignal/internal/metrics"
)

type fakeS3 struct {
	objects map[string]string
	keys    []string
	err     error
}

func (f *fakeS3) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	f.keys = append(f.keys, *in.Key)
	if f.err != nil {
		return nil, f.err
	}
	body, ok := f.objects[*in.Key]
	if !ok {
		return nil, &types.NoSuchKey{}
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(strings.NewReader(body))}, nil
}

func TestS3SourceFeedsFixtureReader(t *testing.T) {
	metrics.Reset()
	t.Cleanup(metrics.Reset)

	client := &fakeS3{objects: map[string]string{
		"replay/2024-01-01/bybit/oi.jsonl": `{"ts": 2, "venue": "bybit", "symbol": "BTCUSDT", "open_interest": 7}
{"ts": 1, "venue": "bybit", "symbol": "BTCUSDT", "open_interest": "6"}
`,
	}}
	src := newS3Source(client, "fixtures", "replay/2024-01-01")
	assert.Equal(t, "s3://fixtures/replay/2024-01-01", src.Name())

	r := NewBybitReader(src, Options{})
	oi, err := r.OI(context.Background(), "BTCUSDT")
	require.NoError(t, err)
	require.Len(t, oi, 2)
	assert.Equal(t, 6.0, oi[0].Value)

	books, err := r.Books(context.Background(), "BTCUSDT")
	require.NoError(t, err)
	assert.Empty(t, books)
	assert.Contains(t, client.keys, "replay/2024-01-01/bybit/books.jsonl")
}

func TestS3SourceErrors(t *testing.T) {
	src := newS3Source(&fakeS3{}, "fixtures", "")
	_, err := src.Open(context.Background(), "bybit/books.jsonl")
	assert.ErrorIs(t, err, ErrNotFound)

	boom := errors.New("access denied")
	src = newS3Source(&fakeS3{err: boom}, "fixtures", "")
	_, err = src.Open(context.Background(), "bybit/books.jsonl")
	assert.ErrorIs(t, err, boom)
	assert.NotErrorIs(t, err, ErrNotFound)
}
