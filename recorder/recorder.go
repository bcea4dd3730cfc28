// Package recorder persists executed fills. Fill events from the bus are
// buffered per symbol and flushed on an interval as snappy-compressed parquet
// files, locally and optionally to S3.
package recorder

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"
	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/source"
	"github.com/xitongsys/parquet-go/writer"

	"tradeflow/internal/bus"
	"tradeflow/logger"
	"tradeflow/models"
)

const defaultFlushInterval = 30 * time.Second

// FillRecord is the parquet row layout of one executed fill.
type FillRecord struct {
	Venue     string  `parquet:"name=venue, type=BYTE_ARRAY, convertedtype=UTF8"`
	Symbol    string  `parquet:"name=symbol, type=BYTE_ARRAY, convertedtype=UTF8"`
	Side      string  `parquet:"name=side, type=BYTE_ARRAY, convertedtype=UTF8"`
	Price     float64 `parquet:"name=price, type=DOUBLE"`
	Amount    float64 `parquet:"name=amount, type=DOUBLE"`
	Timestamp int64   `parquet:"name=timestamp, type=INT64"`
}

// S3Config enables uploads when Bucket is set.
type S3Config struct {
	Bucket          string
	Region          string
	Endpoint        string
	PathStyle       bool
	AccessKeyID     string
	SecretAccessKey string
}

// Config tunes one recorder.
type Config struct {
	// Venue tags every record and partitions the output keys.
	Venue string
	// Dir is the local output directory.
	Dir string
	// FlushInterval is the gap between flushes.
	FlushInterval time.Duration
	// S3 uploads every flushed file when configured.
	S3 S3Config
}

type timedFill struct {
	fill models.FillEvent
	at   time.Time
}

// Recorder buffers fills between flushes. One goroutine owns the flush
// schedule; the bus subscription only appends under the lock.
type Recorder struct {
	cfg      Config
	s3Client *s3.Client
	log      *logger.Entry

	mu     sync.Mutex
	buffer map[string][]timedFill

	unsub  func()
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New builds a recorder and validates the S3 side if one is configured.
func New(cfg Config) (*Recorder, error) {
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = defaultFlushInterval
	}
	if cfg.Dir == "" {
		cfg.Dir = "fills"
	}

	r := &Recorder{
		cfg:    cfg,
		buffer: make(map[string][]timedFill),
		log:    logger.GetLogger().WithComponent("recorder"),
	}

	if cfg.S3.Bucket != "" {
		client, err := newS3Client(cfg.S3)
		if err != nil {
			return nil, err
		}
		r.s3Client = client
		r.log.WithFields(logger.Fields{
			"bucket":     cfg.S3.Bucket,
			"region":     cfg.S3.Region,
			"path_style": cfg.S3.PathStyle,
		}).Info("s3 upload enabled")
	}
	return r, nil
}

func newS3Client(cfg S3Config) (*s3.Client, error) {
	ctx := context.Background()

	loadOpts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
	}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsConfig, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("load aws configuration: %w", err)
	}
	creds, err := awsConfig.Credentials.Retrieve(ctx)
	if err != nil || !creds.HasKeys() {
		return nil, fmt.Errorf("aws credentials not found")
	}

	return s3.NewFromConfig(awsConfig, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.PathStyle
	}), nil
}

// Start subscribes to the fill topic and launches the flush loop.
func (r *Recorder) Start(ctx context.Context, b *bus.Bus) error {
	if err := os.MkdirAll(r.cfg.Dir, 0o755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}

	ctx, r.cancel = context.WithCancel(ctx)

	r.unsub = b.Subscribe(bus.TopicFill, func(payload interface{}) {
		fill, ok := payload.(models.FillEvent)
		if !ok {
			return
		}
		r.mu.Lock()
		r.buffer[fill.Symbol] = append(r.buffer[fill.Symbol], timedFill{fill: fill, at: time.Now()})
		r.mu.Unlock()
	})

	r.wg.Add(1)
	go r.flushLoop(ctx)
	r.log.WithFields(logger.Fields{"dir": r.cfg.Dir, "interval": r.cfg.FlushInterval.String()}).Info("recorder started")
	return nil
}

// Stop unsubscribes, flushes the remainder and waits for the loop.
func (r *Recorder) Stop() {
	if r.unsub != nil {
		r.unsub()
	}
	if r.cancel != nil {
		r.cancel()
	}
	r.wg.Wait()
	r.flush("shutdown")
	r.log.Info("recorder stopped")
}

func (r *Recorder) flushLoop(ctx context.Context) {
	defer r.wg.Done()

	ticker := time.NewTicker(r.cfg.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.flush("interval")
		}
	}
}

func (r *Recorder) flush(reason string) {
	r.mu.Lock()
	buffers := r.buffer
	r.buffer = make(map[string][]timedFill)
	r.mu.Unlock()

	if len(buffers) == 0 {
		return
	}
	r.log.WithFields(logger.Fields{"symbols": len(buffers), "reason": reason}).Info("flushing fills")

	for symbol, fills := range buffers {
		if err := r.writeBatch(symbol, fills); err != nil {
			r.log.WithError(err).WithFields(logger.Fields{"symbol": symbol}).Error("failed to flush fill batch")
		}
	}
}

func (r *Recorder) writeBatch(symbol string, fills []timedFill) error {
	data, err := r.encodeParquet(fills)
	if err != nil {
		return err
	}

	name := fmt.Sprintf("%s_%s_%s_%s.parquet",
		r.cfg.Venue, symbol, time.Now().UTC().Format("20060102150405"), uuid.NewString()[:8])
	path := filepath.Join(r.cfg.Dir, name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}

	log := r.log.WithFields(logger.Fields{
		"file":    path,
		"records": len(fills),
		"size":    len(data),
	})
	log.Info("fill batch written")

	if r.s3Client == nil {
		return nil
	}
	key := r.objectKey(symbol, name)
	if err := r.upload(key, data); err != nil {
		return fmt.Errorf("upload %s: %w", key, err)
	}
	log.WithFields(logger.Fields{"s3_key": key}).Info("fill batch uploaded")
	return nil
}

// objectKey partitions uploads by venue, symbol and day.
func (r *Recorder) objectKey(symbol, name string) string {
	now := time.Now().UTC()
	key := filepath.Join(
		fmt.Sprintf("venue=%s", r.cfg.Venue),
		fmt.Sprintf("symbol=%s", symbol),
		fmt.Sprintf("date=%s", now.Format("2006-01-02")),
		name,
	)
	return filepath.ToSlash(key)
}

func (r *Recorder) encodeParquet(fills []timedFill) ([]byte, error) {
	fw := newMemoryFile()
	pw, err := writer.NewParquetWriter(fw, new(FillRecord), 1)
	if err != nil {
		return nil, fmt.Errorf("create parquet writer: %w", err)
	}
	pw.CompressionType = parquet.CompressionCodec_SNAPPY

	for _, tf := range fills {
		record := FillRecord{
			Venue:     r.cfg.Venue,
			Symbol:    tf.fill.Symbol,
			Side:      string(tf.fill.Side),
			Price:     tf.fill.Price,
			Amount:    tf.fill.Amount,
			Timestamp: tf.at.UnixMilli(),
		}
		if err := pw.Write(record); err != nil {
			pw.WriteStop()
			return nil, fmt.Errorf("write parquet record: %w", err)
		}
	}
	if err := pw.WriteStop(); err != nil {
		return nil, fmt.Errorf("finalize parquet file: %w", err)
	}
	return fw.Bytes(), nil
}

func (r *Recorder) upload(key string, data []byte) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	_, err := r.s3Client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(r.cfg.S3.Bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/octet-stream"),
	})
	return err
}

// memoryFile satisfies the parquet source interface over a byte buffer so
// files are encoded fully in memory before they hit disk or S3.
type memoryFile struct {
	buffer *bytes.Buffer
}

func newMemoryFile() *memoryFile {
	return &memoryFile{buffer: &bytes.Buffer{}}
}

func (m *memoryFile) Create(string) (source.ParquetFile, error) { return m, nil }
func (m *memoryFile) Open(string) (source.ParquetFile, error)   { return m, nil }

func (m *memoryFile) Seek(int64, int) (int64, error) {
	return int64(m.buffer.Len()), nil
}

func (m *memoryFile) Read(b []byte) (int, error)  { return m.buffer.Read(b) }
func (m *memoryFile) Write(b []byte) (int, error) { return m.buffer.Write(b) }
func (m *memoryFile) Close() error                { return nil }
func (m *memoryFile) Bytes() []byte               { return m.buffer.Bytes() }
