package writer

import (
	"bytes"
	"context"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"
	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/source"
	"github.com/xitongsys/parquet-go/writer"

	appconfig "coinview/config"
	"coinview/internal/metrics"
	"coinview/logger"
	"coinview/models"
)

const uploadTimeout = 2 * time.Minute

type marketParquetRecord struct {
	CycleID                  string  `parquet:"name=cycle_id, type=BYTE_ARRAY, convertedtype=UTF8"`
	Source                   string  `parquet:"name=source, type=BYTE_ARRAY, convertedtype=UTF8"`
	FetchedAt                int64   `parquet:"name=fetched_at, type=INT64, convertedtype=TIMESTAMP_MILLIS"`
	Position                 int32   `parquet:"name=position, type=INT32"`
	ID                       string  `parquet:"name=id, type=BYTE_ARRAY, convertedtype=UTF8"`
	Name                     string  `parquet:"name=name, type=BYTE_ARRAY, convertedtype=UTF8"`
	Symbol                   string  `parquet:"name=symbol, type=BYTE_ARRAY, convertedtype=UTF8"`
	CurrentPrice             float64 `parquet:"name=current_price, type=DOUBLE"`
	MarketCap                float64 `parquet:"name=market_cap, type=DOUBLE"`
	MarketCapRank            int32   `parquet:"name=market_cap_rank, type=INT32"`
	PriceChangePercentage24h float64 `parquet:"name=price_change_percentage_24h, type=DOUBLE"`
	PriceChangePercentage7d  float64 `parquet:"name=price_change_percentage_7d, type=DOUBLE"`
}

type memFile struct {
	buffer *bytes.Buffer
}

func newMemFile() *memFile {
	return &memFile{buffer: &bytes.Buffer{}}
}

func (m *memFile) Create(string) (source.ParquetFile, error) { return m, nil }
func (m *memFile) Open(string) (source.ParquetFile, error)   { return m, nil }
func (m *memFile) Seek(int64, int) (int64, error)            { return int64(m.buffer.Len()), nil }
func (m *memFile) Read([]byte) (int, error)                  { return 0, fmt.Errorf("read not supported") }
func (m *memFile) Write(b []byte) (int, error)               { return m.buffer.Write(b) }
func (m *memFile) Close() error                              { return nil }
func (m *memFile) Bytes() []byte                             { return m.buffer.Bytes() }

type objectPutter interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// SnapshotArchive uploads every snapshot it is handed to S3 as a Parquet
// file. It is write-only; nothing reads the archive back into the view.
type SnapshotArchive struct {
	cfg     appconfig.S3Config
	version string
	client  objectPutter
	queue   chan models.Snapshot
	now     func() time.Time
	log     *logger.Log
}

// NewSnapshotArchive builds the S3 client from cfg.Storage.S3.
func NewSnapshotArchive(ctx context.Context, cfg *appconfig.Config, log *logger.Log) (*SnapshotArchive, error) {
	s3cfg := cfg.Storage.S3
	if !s3cfg.Enabled {
		return nil, fmt.Errorf("s3 storage disabled")
	}

	loadOpts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(s3cfg.Region)}
	if s3cfg.AccessKeyID != "" && s3cfg.SecretAccessKey != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(s3cfg.AccessKeyID, s3cfg.SecretAccessKey, ""),
		))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if s3cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(s3cfg.Endpoint)
		}
		o.UsePathStyle = s3cfg.PathStyle
	})

	return newSnapshotArchive(client, s3cfg, cfg.App.Version, log), nil
}

func newSnapshotArchive(client objectPutter, cfg appconfig.S3Config, version string, log *logger.Log) *SnapshotArchive {
	if log == nil {
		log = logger.GetLogger()
	}
	buffer := cfg.Buffer
	if buffer <= 0 {
		buffer = 16
	}
	return &SnapshotArchive{
		cfg:     cfg,
		version: version,
		client:  client,
		queue:   make(chan models.Snapshot, buffer),
		now:     time.Now,
		log:     log,
	}
}

// Submit queues snap for upload. A full queue drops the snapshot.
func (a *SnapshotArchive) Submit(snap models.Snapshot) {
	select {
	case a.queue <- snap:
	default:
		metrics.ReportArchive(a.log, snap.Source, false)
		a.log.WithComponent("archive_writer").WithFields(logger.Fields{
			"cycle_id": snap.CycleID,
		}).Warn("archive queue full, dropping snapshot")
	}
}

// Run uploads queued snapshots until ctx ends, then drains what is left.
func (a *SnapshotArchive) Run(ctx context.Context) error {
	a.log.WithComponent("archive_writer").WithFields(logger.Fields{
		"bucket":      a.cfg.Bucket,
		"compression": a.cfg.Compression,
	}).Info("starting snapshot archive")

	for {
		select {
		case <-ctx.Done():
			for {
				select {
				case snap := <-a.queue:
					a.process(context.Background(), snap)
				default:
					a.log.WithComponent("archive_writer").Info("snapshot archive stopped")
					return nil
				}
			}
		case snap := <-a.queue:
			a.process(ctx, snap)
		}
	}
}

func (a *SnapshotArchive) process(ctx context.Context, snap models.Snapshot) {
	log := a.log.WithComponent("archive_writer").WithFields(logger.Fields{
		"cycle_id":     snap.CycleID,
		"source":       snap.Source,
		"record_count": len(snap.Records),
	})

	if len(snap.Records) == 0 {
		log.Debug("snapshot empty, skipping")
		return
	}

	start := time.Now()
	data, err := encodeSnapshot(snap, a.cfg.Compression)
	if err != nil {
		log.WithError(err).Error("failed to create snapshot parquet")
		metrics.ReportArchive(a.log, snap.Source, false)
		return
	}

	key := snapshotKey(a.cfg.Prefix, snap, a.now())
	if err := a.upload(ctx, key, data); err != nil {
		log.WithError(err).WithFields(logger.Fields{"key": key}).Error("failed to upload snapshot parquet")
		metrics.ReportArchive(a.log, snap.Source, false)
		return
	}

	metrics.ReportArchive(a.log, snap.Source, true)
	logger.LogPerformanceEntry(log, "archive_writer", "upload", time.Since(start), logger.Fields{
		"s3_key":    key,
		"file_size": len(data),
	})
	logger.LogDataFlowEntry(log, snap.Source, "s3", len(snap.Records), "market_records")
}

func (a *SnapshotArchive) upload(ctx context.Context, key string, data []byte) error {
	ctx, cancel := context.WithTimeout(ctx, uploadTimeout)
	defer cancel()

	_, err := a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.cfg.Bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/octet-stream"),
		Metadata: map[string]string{
			"content-type":     "parquet",
			"compression":      strings.ToLower(a.cfg.Compression),
			"coinview-version": a.version,
		},
	})
	return err
}

func encodeSnapshot(snap models.Snapshot, compression string) ([]byte, error) {
	mem := newMemFile()
	pw, err := writer.NewParquetWriter(mem, new(marketParquetRecord), 1)
	if err != nil {
		return nil, fmt.Errorf("new parquet writer: %w", err)
	}
	pw.CompressionType = compressionCodec(compression)

	fetched := snap.FetchedAt.UnixMilli()
	for i, r := range snap.Records {
		rec := marketParquetRecord{
			CycleID:                  snap.CycleID,
			Source:                   snap.Source,
			FetchedAt:                fetched,
			Position:                 int32(i),
			ID:                       r.ID,
			Name:                     r.Name,
			Symbol:                   r.Symbol,
			CurrentPrice:             r.CurrentPrice,
			MarketCap:                r.MarketCap,
			MarketCapRank:            int32(r.MarketCapRank),
			PriceChangePercentage24h: r.PriceChangePercentage24h,
			PriceChangePercentage7d:  r.PriceChangePercentage7d,
		}
		if err := pw.Write(rec); err != nil {
			pw.WriteStop()
			return nil, fmt.Errorf("write parquet record: %w", err)
		}
	}
	if err := pw.WriteStop(); err != nil {
		return nil, fmt.Errorf("finalize parquet: %w", err)
	}
	return mem.Bytes(), nil
}

func compressionCodec(name string) parquet.CompressionCodec {
	switch strings.ToLower(name) {
	case "snappy", "":
		return parquet.CompressionCodec_SNAPPY
	case "gzip":
		return parquet.CompressionCodec_GZIP
	case "zstd":
		return parquet.CompressionCodec_ZSTD
	default:
		return parquet.CompressionCodec_UNCOMPRESSED
	}
}

// snapshotKey lays files out as
// [prefix/]source=<src>/date=YYYY-MM-DD/<ts><uuid>_markets.parquet.
func snapshotKey(prefix string, snap models.Snapshot, now time.Time) string {
	ts := snap.FetchedAt
	if ts.IsZero() {
		ts = now
	}
	src := strings.ToLower(snap.Source)
	if src == "" {
		src = "unknown"
	}
	filename := fmt.Sprintf("%s%s_markets.parquet", now.UTC().Format("20060102150405"), uuid.NewString())
	return path.Join(
		strings.Trim(prefix, "/"),
		fmt.Sprintf("source=%s", src),
		fmt.Sprintf("date=%s", ts.UTC().Format("2006-01-02")),
		filename,
	)
}
