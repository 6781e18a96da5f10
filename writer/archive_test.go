package writer

import (
	"bytes"
	"context"
	"errors"
	"io"
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	appconfig "coinview/config"
	"coinview/logger"
	"coinview/models"
)

type fakePutter struct {
	mu     sync.Mutex
	keys   []string
	bodies [][]byte
	err    error
}

func (f *fakePutter) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	body, _ := io.ReadAll(in.Body)
	f.mu.Lock()
	f.keys = append(f.keys, aws.ToString(in.Key))
	f.bodies = append(f.bodies, body)
	f.mu.Unlock()
	return &s3.PutObjectOutput{}, nil
}

func testSnapshot() models.Snapshot {
	return models.Snapshot{
		CycleID:   "cycle-1",
		Source:    "CoinGecko",
		FetchedAt: time.Date(2024, 3, 9, 23, 59, 0, 0, time.UTC),
		Records: []models.MarketRecord{
			{ID: "bitcoin", Name: "Bitcoin", Symbol: "btc", CurrentPrice: 64000, MarketCapRank: 1},
			{ID: "ethereum", Name: "Ethereum", Symbol: "eth", CurrentPrice: 3100, MarketCapRank: 2},
		},
	}
}

func TestSnapshotKeyLayout(t *testing.T) {
	now := time.Date(2024, 3, 10, 0, 0, 5, 0, time.UTC)
	key := snapshotKey("/archive/", testSnapshot(), now)

	pattern := regexp.MustCompile(`^archive/source=coingecko/date=2024-03-09/20240310000005[0-9a-f-]{36}_markets\.parquet$`)
	if !pattern.MatchString(key) {
		t.Fatalf("unexpected key %q", key)
	}

	noPrefix := snapshotKey("", models.Snapshot{}, now)
	if !regexp.MustCompile(`^source=unknown/date=2024-03-10/`).MatchString(noPrefix) {
		t.Fatalf("unexpected key %q", noPrefix)
	}
}

func TestEncodeSnapshotProducesParquet(t *testing.T) {
	for _, codec := range []string{"snappy", "gzip", "uncompressed"} {
		data, err := encodeSnapshot(testSnapshot(), codec)
		if err != nil {
			t.Fatalf("%s: encodeSnapshot returned error: %v", codec, err)
		}
		if len(data) < 8 || !bytes.HasPrefix(data, []byte("PAR1")) || !bytes.HasSuffix(data, []byte("PAR1")) {
			t.Fatalf("%s: output is not a parquet file", codec)
		}
	}
}

func TestArchiveUploadsQueuedSnapshots(t *testing.T) {
	putter := &fakePutter{}
	a := newSnapshotArchive(putter, appconfig.S3Config{Bucket: "coinview-archive", Compression: "snappy", Buffer: 4}, "test", logger.Logger())

	a.Submit(testSnapshot())
	a.Submit(models.Snapshot{Source: "coingecko"})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := a.Run(ctx); err != nil {
		t.Fatalf("Run returned error: %v", err)
	}

	if len(putter.keys) != 1 {
		t.Fatalf("expected one upload, got %d", len(putter.keys))
	}
	if !bytes.HasPrefix(putter.bodies[0], []byte("PAR1")) {
		t.Fatal("uploaded body is not parquet")
	}
}

func TestArchiveDropsWhenQueueFull(t *testing.T) {
	a := newSnapshotArchive(&fakePutter{}, appconfig.S3Config{Buffer: 1}, "test", logger.Logger())
	a.Submit(testSnapshot())
	a.Submit(testSnapshot())
	if len(a.queue) != 1 {
		t.Fatalf("queue len = %d, want 1", len(a.queue))
	}
}

func TestArchiveUploadFailureIsLogged(t *testing.T) {
	putter := &fakePutter{err: errors.New("access denied")}
	a := newSnapshotArchive(putter, appconfig.S3Config{Bucket: "b", Buffer: 1}, "test", logger.Logger())
	a.Submit(testSnapshot())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := a.Run(ctx); err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if len(putter.keys) != 0 {
		t.Fatalf("unexpected upload recorded")
	}
}

func TestNewSnapshotArchiveRequiresS3(t *testing.T) {
	cfg := appconfig.Default()
	if _, err := NewSnapshotArchive(context.Background(), &cfg, logger.Logger()); err == nil {
		t.Fatal("expected error when S3 is disabled")
	}
}
