package writer

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cryptosignal/internal/metadata"
	"cryptosignal/reader"
)

func TestExportVenueRoundTrip(t *testing.T) {
	ctx := context.Background()
	fixtures := reader.NewDirSource("../testdata/fixtures")
	out := t.TempDir()

	jsonl := reader.NewBitgetReader(fixtures, reader.Options{TopN: 5})
	stats, err := NewExporter(NewDirSink(out)).ExportVenue(ctx, jsonl, "BTCUSDT")
	require.NoError(t, err)
	assert.Equal(t, 4, stats.Objects)
	assert.Equal(t, 20*10+5+5+5, stats.Rows)
	assert.Greater(t, stats.Bytes, int64(0))

	pq := reader.NewParquetReader("bitget", reader.NewDirSource(out), reader.Options{})
	want, err := jsonl.Books(ctx, "BTCUSDT")
	require.NoError(t, err)
	got, err := pq.Books(ctx, "BTCUSDT")
	require.NoError(t, err)
	require.Len(t, got, len(want))
	for i := range want {
		assert.Equal(t, want[i].Ts, got[i].Ts)
		assert.Equal(t, want[i].Bids, got[i].Bids)
		assert.Equal(t, want[i].Asks, got[i].Asks)
	}

	wantFunding, err := jsonl.Funding(ctx, "BTCUSDT")
	require.NoError(t, err)
	gotFunding, err := pq.Funding(ctx, "BTCUSDT")
	require.NoError(t, err)
	require.Len(t, gotFunding, len(wantFunding))
	assert.Equal(t, wantFunding[0].EstRate, gotFunding[0].EstRate)
	assert.Equal(t, wantFunding[0].NextTs, gotFunding[0].NextTs)

	marks, err := pq.IndexMark(ctx, "BTCUSDT")
	require.NoError(t, err)
	assert.Len(t, marks, 5)
	oi, err := pq.OI(ctx, "BTCUSDT")
	require.NoError(t, err)
	assert.Len(t, oi, 5)
}

func TestExportVenueEmptyStreams(t *testing.T) {
	out := t.TempDir()
	a := reader.NewBybitReader(reader.NewDirSource(t.TempDir()), reader.Options{})
	stats, err := NewExporter(NewDirSink(out)).ExportVenue(context.Background(), a, "BTCUSDT")
	require.NoError(t, err)
	assert.Equal(t, 4, stats.Objects)
	assert.Zero(t, stats.Rows)

	books, err := reader.NewParquetReader("bybit", reader.NewDirSource(out), reader.Options{}).Books(context.Background(), "BTCUSDT")
	require.NoError(t, err)
	assert.Empty(t, books)
}

type fakeS3 struct {
	objects map[string][]byte
	err     error
}

func (f *fakeS3) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	b, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.objects[*in.Bucket+"/"+*in.Key] = b
	return &s3.PutObjectOutput{}, nil
}

func TestS3SinkPut(t *testing.T) {
	client := &fakeS3{objects: map[string][]byte{}}
	sink := newS3Sink(client, "fixtures", "export/v1")
	assert.Equal(t, "s3://fixtures/export/v1", sink.Name())

	require.NoError(t, sink.Put(context.Background(), "bybit/oi.parquet", []byte("PAR1")))
	assert.Equal(t, []byte("PAR1"), client.objects["fixtures/export/v1/bybit/oi.parquet"])

	boom := errors.New("throttled")
	err := newS3Sink(&fakeS3{err: boom}, "fixtures", "").Put(context.Background(), "k", nil)
	assert.ErrorIs(t, err, boom)
}

func TestExportStopsOnSinkError(t *testing.T) {
	boom := errors.New("disk full")
	sink := newS3Sink(&fakeS3{err: boom}, "fixtures", "")
	a := reader.NewBybitReader(reader.NewDirSource("../testdata/fixtures"), reader.Options{})

	stats, err := NewExporter(sink).ExportVenue(context.Background(), a, "BTCUSDT")
	assert.ErrorIs(t, err, boom)
	assert.Zero(t, stats.Objects)
}

func TestExporterCommitWritesManifest(t *testing.T) {
	ctx := context.Background()
	out := t.TempDir()
	exp := NewExporter(NewDirSink(out))
	require.NoError(t, exp.Commit(ctx), "nothing to commit")
	_, err := os.Stat(filepath.Join(out, "metadata", "metadata.json"))
	require.True(t, os.IsNotExist(err))

	src := reader.NewDirSource("../testdata/fixtures")
	_, err = exp.ExportVenue(ctx, reader.NewBybitReader(src, reader.Options{}), "BTCUSDT")
	require.NoError(t, err)
	_, err = exp.ExportVenue(ctx, reader.NewBitgetReader(src, reader.Options{}), "BTCUSDT")
	require.NoError(t, err)
	require.NoError(t, exp.Commit(ctx))

	raw, err := os.ReadFile(filepath.Join(out, "metadata", "metadata.json"))
	require.NoError(t, err)
	var tm metadata.TableMetadata
	require.NoError(t, json.Unmarshal(raw, &tm))
	require.Len(t, tm.Snapshots, 1)
	assert.Equal(t, 8, tm.Snapshots[0].Files)
	assert.Equal(t, int64(2*(20*24+5*3)), tm.Snapshots[0].Records)

	_, err = os.Stat(filepath.Join(out, "catalog", "fixtures.json"))
	assert.NoError(t, err)
}
