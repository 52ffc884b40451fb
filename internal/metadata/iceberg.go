// Package metadata keeps an Iceberg style table description in the same
// bucket as the recorder's parquet objects, so downstream catalogs can
// discover the tick archive without listing data keys.
package metadata

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"
)

// ObjectPutter is the slice of the S3 client the writer needs.
type ObjectPutter interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, opts ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// SchemaField describes one column of the tick table.
type SchemaField struct {
	ID       int    `json:"id"`
	Name     string `json:"name"`
	Type     string `json:"type"`
	Required bool   `json:"required"`
}

// tickSchema mirrors the recorder's parquet row layout.
var tickSchema = []SchemaField{
	{ID: 1, Name: "account", Type: "string", Required: true},
	{ID: 2, Name: "symbol", Type: "string", Required: true},
	{ID: 3, Name: "timestamp", Type: "timestamp", Required: true},
	{ID: 4, Name: "bid", Type: "double"},
	{ID: 5, Name: "ask", Type: "double"},
	{ID: 6, Name: "digits", Type: "int"},
}

// partitionSpec matches the recorder's object key layout.
var partitionSpec = []string{"account", "symbol", "year", "month", "day", "hour"}

// DataFile describes one uploaded parquet object.
type DataFile struct {
	Key         string
	FileSize    int64
	RecordCount int64
	Account     string
	Symbol      string
	Timestamp   time.Time
}

type manifestEntry struct {
	Status    int            `json:"status"`
	Path      string         `json:"data_file_path"`
	FileSize  int64          `json:"file_size_in_bytes"`
	Records   int64          `json:"record_count"`
	Partition map[string]any `json:"partition"`
}

// Snapshot records one committed data file for time-travel queries.
type Snapshot struct {
	SnapshotID  int64             `json:"snapshot-id"`
	TimestampMs int64             `json:"timestamp-ms"`
	Manifest    string            `json:"manifest-list"`
	Summary     map[string]string `json:"summary"`
}

// TableMetadata is the top level table description.
type TableMetadata struct {
	FormatVersion     int           `json:"format-version"`
	TableUUID         string        `json:"table-uuid"`
	Location          string        `json:"location"`
	Schema            []SchemaField `json:"schema"`
	PartitionSpec     []string      `json:"partition-spec"`
	CurrentSnapshotID int64         `json:"current-snapshot-id"`
	Snapshots         []Snapshot    `json:"snapshots"`
}

// Writer appends snapshots to one table's metadata as the recorder
// uploads parquet batches.
type Writer struct {
	put       ObjectPutter
	bucket    string
	table     string
	tableUUID string

	mu        sync.Mutex
	snapshots []Snapshot
	records   int64
}

// NewWriter builds a metadata writer for one table in the given bucket.
func NewWriter(put ObjectPutter, bucket, table string) *Writer {
	return &Writer{
		put:       put,
		bucket:    bucket,
		table:     table,
		tableUUID: uuid.NewString(),
	}
}

// Commit records one uploaded parquet object: a manifest for the new
// snapshot plus the refreshed table metadata, both stored under
// <table>/metadata/ in the data bucket.
func (w *Writer) Commit(ctx context.Context, df DataFile) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	snapID := df.Timestamp.UnixNano()
	manifestName := fmt.Sprintf("manifest-%d.json", snapID)
	entry := manifestEntry{
		Status:   1,
		Path:     fmt.Sprintf("s3://%s/%s", w.bucket, df.Key),
		FileSize: df.FileSize,
		Records:  df.RecordCount,
		Partition: map[string]any{
			"account": df.Account,
			"symbol":  df.Symbol,
			"date":    df.Timestamp.UTC().Format("2006-01-02"),
		},
	}
	if err := w.putJSON(ctx, w.metadataKey(manifestName), []manifestEntry{entry}); err != nil {
		return err
	}

	w.records += df.RecordCount
	w.snapshots = append(w.snapshots, Snapshot{
		SnapshotID:  snapID,
		TimestampMs: df.Timestamp.UnixMilli(),
		Manifest:    manifestName,
		Summary: map[string]string{
			"added-records": strconv.FormatInt(df.RecordCount, 10),
			"total-records": strconv.FormatInt(w.records, 10),
		},
	})

	tm := TableMetadata{
		FormatVersion:     2,
		TableUUID:         w.tableUUID,
		Location:          fmt.Sprintf("s3://%s/%s", w.bucket, w.table),
		Schema:            tickSchema,
		PartitionSpec:     partitionSpec,
		CurrentSnapshotID: snapID,
		Snapshots:         w.snapshots,
	}
	return w.putJSON(ctx, w.metadataKey("metadata.json"), tm)
}

func (w *Writer) metadataKey(name string) string {
	return w.table + "/metadata/" + name
}

func (w *Writer) putJSON(ctx context.Context, key string, v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = w.put.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(w.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(b),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return fmt.Errorf("put %s: %w", key, err)
	}
	return nil
}
