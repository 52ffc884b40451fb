package recorder

import (
	"bytes"
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/source"
	"github.com/xitongsys/parquet-go/writer"

	appconfig "fixflow/config"
	"fixflow/internal/metadata"
	"fixflow/logger"
	"fixflow/models"
)

// TickRecord is the parquet row layout for one recorded quote.
type TickRecord struct {
	Account   string  `parquet:"name=account, type=BYTE_ARRAY, convertedtype=UTF8"`
	Symbol    string  `parquet:"name=symbol, type=BYTE_ARRAY, convertedtype=UTF8"`
	Timestamp int64   `parquet:"name=timestamp, type=INT64"`
	Bid       float64 `parquet:"name=bid, type=DOUBLE"`
	Ask       float64 `parquet:"name=ask, type=DOUBLE"`
	Digits    int32   `parquet:"name=digits, type=INT32"`
}

// memoryFileWriter implements ParquetFile for in-memory writing.
type memoryFileWriter struct {
	buffer *bytes.Buffer
}

func newMemoryFileWriter() *memoryFileWriter {
	return &memoryFileWriter{buffer: &bytes.Buffer{}}
}

func (mfw *memoryFileWriter) Create(name string) (source.ParquetFile, error) { return mfw, nil }
func (mfw *memoryFileWriter) Open(name string) (source.ParquetFile, error)   { return mfw, nil }
func (mfw *memoryFileWriter) Seek(offset int64, whence int) (int64, error) {
	return int64(mfw.buffer.Len()), nil
}
func (mfw *memoryFileWriter) Read(b []byte) (int, error)  { return mfw.buffer.Read(b) }
func (mfw *memoryFileWriter) Write(b []byte) (int, error) { return mfw.buffer.Write(b) }
func (mfw *memoryFileWriter) Close() error                { return nil }
func (mfw *memoryFileWriter) Bytes() []byte               { return mfw.buffer.Bytes() }

// Recorder archives the quote tick stream: ticks are buffered per
// symbol, flushed to an in-memory parquet file on an interval and
// uploaded to S3 under a symbol/date partitioned key.
type Recorder struct {
	config      *appconfig.Config
	account     string
	ticks       <-chan models.MarketQuote
	s3Client    *s3.Client
	ctx         context.Context
	wg          *sync.WaitGroup
	mu          sync.RWMutex
	running     bool
	log         *logger.Log
	buffer      map[string][]models.MarketQuote
	flushTicker *time.Ticker
	meta        *metadata.Writer
}

// NewRecorder builds a recorder over the tick channel of one account.
func NewRecorder(cfg *appconfig.Config, account string, ticks <-chan models.MarketQuote) (*Recorder, error) {
	log := logger.GetLogger()

	ctx := context.Background()
	loadOpts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Storage.S3.Region),
	}
	if cfg.Storage.S3.AccessKeyID != "" && cfg.Storage.S3.SecretAccessKey != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(
				cfg.Storage.S3.AccessKeyID,
				cfg.Storage.S3.SecretAccessKey,
				"",
			),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		log.WithComponent("recorder").WithError(err).Warn("failed to load AWS configuration")
		return nil, fmt.Errorf("failed to load AWS configuration: %w", err)
	}

	creds, err := awsCfg.Credentials.Retrieve(ctx)
	if err != nil || !creds.HasKeys() {
		return nil, fmt.Errorf("aws credentials not found")
	}

	s3Client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Storage.S3.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Storage.S3.Endpoint)
		}
		o.UsePathStyle = cfg.Storage.S3.PathStyle
	})

	r := &Recorder{
		config:   cfg,
		account:  account,
		ticks:    ticks,
		s3Client: s3Client,
		wg:       &sync.WaitGroup{},
		log:      log,
		meta:     metadata.NewWriter(s3Client, cfg.Storage.S3.Bucket, "quote_ticks"),
	}

	log.WithComponent("recorder").WithFields(logger.Fields{
		"bucket":     cfg.Storage.S3.Bucket,
		"region":     cfg.Storage.S3.Region,
		"endpoint":   cfg.Storage.S3.Endpoint,
		"path_style": cfg.Storage.S3.PathStyle,
	}).Info("recorder initialized")

	return r, nil
}

// Start launches the tick consumer and the periodic flusher.
func (r *Recorder) Start(ctx context.Context) error {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return fmt.Errorf("recorder already running")
	}
	r.running = true
	r.ctx = ctx
	r.mu.Unlock()

	r.buffer = make(map[string][]models.MarketQuote)
	r.flushTicker = time.NewTicker(time.Duration(r.config.Recorder.FlushInterval))

	r.wg.Add(1)
	go r.worker()
	r.wg.Add(1)
	go r.flushWorker()

	r.log.WithComponent("recorder").Info("recorder started")
	return nil
}

// Stop drains the last buffers and waits for the workers.
func (r *Recorder) Stop() {
	r.mu.Lock()
	r.running = false
	r.mu.Unlock()

	if r.flushTicker != nil {
		r.flushTicker.Stop()
	}

	r.log.WithComponent("recorder").Info("stopping recorder")
	r.wg.Wait()
	r.log.WithComponent("recorder").Info("recorder stopped")
}

func (r *Recorder) worker() {
	defer r.wg.Done()
	for {
		select {
		case <-r.ctx.Done():
			return
		case tick, ok := <-r.ticks:
			if !ok {
				return
			}
			r.addTick(tick)
		}
	}
}

func (r *Recorder) addTick(tick models.MarketQuote) {
	r.mu.Lock()
	r.buffer[tick.Symbol] = append(r.buffer[tick.Symbol], tick)
	r.mu.Unlock()
}

func (r *Recorder) flushWorker() {
	defer r.wg.Done()

	log := r.log.WithComponent("recorder").WithFields(logger.Fields{"worker": "flush"})
	for {
		select {
		case <-r.ctx.Done():
			r.flushBuffers("shutdown")
			log.Info("flush worker stopped due to context cancellation")
			return
		case <-r.flushTicker.C:
			r.flushBuffers("interval")
		}
	}
}

func (r *Recorder) flushBuffers(reason string) {
	r.mu.Lock()
	buffers := r.buffer
	r.buffer = make(map[string][]models.MarketQuote)
	r.mu.Unlock()

	if len(buffers) == 0 {
		return
	}

	r.log.WithComponent("recorder").WithFields(logger.Fields{
		"flushed_buffers": len(buffers),
		"reason":          reason,
	}).Info("flushing tick buffers")

	for symbol, ticks := range buffers {
		if len(ticks) == 0 {
			continue
		}
		r.processFlush(symbol, ticks)
	}
}

func (r *Recorder) processFlush(symbol string, ticks []models.MarketQuote) {
	now := time.Now()
	log := r.log.WithComponent("recorder").WithFields(logger.Fields{
		"symbol":       symbol,
		"record_count": len(ticks),
	})

	s3Key := r.generateS3Key(symbol, now)
	log = log.WithFields(logger.Fields{"s3_key": s3Key})

	parquetData, fileSize, err := r.createParquetFile(ticks)
	if err != nil {
		log.WithError(err).Error("failed to create parquet file")
		return
	}

	if err := r.uploadToS3(s3Key, parquetData); err != nil {
		log.WithError(err).
			WithEnv("S3_BUCKET").
			WithFields(logger.Fields{"bucket": r.config.Storage.S3.Bucket}).
			Error("failed to upload to S3")
		return
	}

	logger.IncrementRecorderWrite(fileSize)
	log.WithFields(logger.Fields{"file_size": fileSize}).Info("tick batch uploaded")

	df := metadata.DataFile{
		Key:         s3Key,
		FileSize:    fileSize,
		RecordCount: int64(len(ticks)),
		Account:     r.account,
		Symbol:      symbol,
		Timestamp:   now,
	}
	if err := r.meta.Commit(context.WithoutCancel(r.ctx), df); err != nil {
		log.WithError(err).Warn("failed to update table metadata")
	}
}

func (r *Recorder) generateS3Key(symbol string, ts time.Time) string {
	parts := []string{
		fmt.Sprintf("account=%s", r.account),
		fmt.Sprintf("symbol=%s", symbol),
		fmt.Sprintf("year=%04d", ts.Year()),
		fmt.Sprintf("month=%02d", ts.Month()),
		fmt.Sprintf("day=%02d", ts.Day()),
		fmt.Sprintf("hour=%02d", ts.Hour()),
		fmt.Sprintf("ticks_%s_%s.parquet", symbol, ts.UTC().Format("20060102150405")),
	}
	return filepath.ToSlash(filepath.Join(parts...))
}

func (r *Recorder) createParquetFile(ticks []models.MarketQuote) ([]byte, int64, error) {
	fw := newMemoryFileWriter()

	pw, err := writer.NewParquetWriter(fw, new(TickRecord), 4)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to create parquet writer: %w", err)
	}
	pw.CompressionType = parquet.CompressionCodec_SNAPPY
	if r.config.Recorder.RowGroupSize > 0 {
		pw.RowGroupSize = r.config.Recorder.RowGroupSize
	}

	for _, tick := range ticks {
		if tick.Timestamp.IsZero() || (tick.Bid.IsZero() && tick.Ask.IsZero()) {
			continue
		}
		record := TickRecord{
			Account:   r.account,
			Symbol:    tick.Symbol,
			Timestamp: tick.Timestamp.UnixMilli(),
			Bid:       tick.Bid.InexactFloat64(),
			Ask:       tick.Ask.InexactFloat64(),
			Digits:    int32(tick.Digits),
		}
		if err := pw.Write(record); err != nil {
			pw.WriteStop()
			return nil, 0, fmt.Errorf("failed to write parquet record: %w", err)
		}
	}

	if err := pw.WriteStop(); err != nil {
		return nil, 0, fmt.Errorf("failed to finalize parquet writing: %w", err)
	}

	data := fw.Bytes()
	return data, int64(len(data)), nil
}

func (r *Recorder) uploadToS3(key string, data []byte) error {
	input := &s3.PutObjectInput{
		Bucket:      aws.String(r.config.Storage.S3.Bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/octet-stream"),
		Metadata: map[string]string{
			"content-type":    "parquet",
			"fixflow-version": r.config.Fixflow.Version,
		},
	}

	ctx := context.WithoutCancel(r.ctx)
	if _, err := r.s3Client.PutObject(ctx, input); err != nil {
		return fmt.Errorf("failed to upload to S3 bucket %s: %w", r.config.Storage.S3.Bucket, err)
	}
	return nil
}
