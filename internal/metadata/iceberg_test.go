package metadata

import (
	"context"
	"encoding/json"
	"io"
	"strconv"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// fakePutter captures uploaded objects keyed by object key.
type fakePutter struct {
	objects map[string][]byte
}

func newFakePutter() *fakePutter {
	return &fakePutter{objects: make(map[string][]byte)}
}

func (f *fakePutter) PutObject(ctx context.Context, in *s3.PutObjectInput, opts ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	b, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.objects[*in.Key] = b
	return &s3.PutObjectOutput{}, nil
}

func tickFile(key string, records int64, ts time.Time) DataFile {
	return DataFile{
		Key:         key,
		FileSize:    2048,
		RecordCount: records,
		Account:     "demo.broker.3001234",
		Symbol:      "EURUSD",
		Timestamp:   ts,
	}
}

func TestCommitWritesManifestAndTableMetadata(t *testing.T) {
	put := newFakePutter()
	w := NewWriter(put, "tick-archive", "quote_ticks")

	ts := time.Date(2026, 8, 31, 6, 0, 0, 0, time.UTC)
	if err := w.Commit(context.Background(), tickFile("account=demo/symbol=EURUSD/f1.parquet", 10, ts)); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	manifest, ok := put.objects["quote_ticks/metadata/manifest-"+timeID(ts)+".json"]
	if !ok {
		t.Fatalf("manifest not uploaded, got keys %v", keys(put))
	}
	var entries []manifestEntry
	if err := json.Unmarshal(manifest, &entries); err != nil {
		t.Fatalf("manifest is not valid json: %v", err)
	}
	if len(entries) != 1 || entries[0].Path != "s3://tick-archive/account=demo/symbol=EURUSD/f1.parquet" {
		t.Errorf("unexpected manifest entries: %+v", entries)
	}
	if entries[0].Partition["symbol"] != "EURUSD" || entries[0].Partition["date"] != "2026-08-31" {
		t.Errorf("unexpected partition values: %+v", entries[0].Partition)
	}

	meta, ok := put.objects["quote_ticks/metadata/metadata.json"]
	if !ok {
		t.Fatal("table metadata not uploaded")
	}
	var tm TableMetadata
	if err := json.Unmarshal(meta, &tm); err != nil {
		t.Fatalf("table metadata is not valid json: %v", err)
	}
	if tm.FormatVersion != 2 || tm.Location != "s3://tick-archive/quote_ticks" {
		t.Errorf("unexpected table metadata: %+v", tm)
	}
	if tm.CurrentSnapshotID != ts.UnixNano() {
		t.Errorf("current snapshot id %d, want %d", tm.CurrentSnapshotID, ts.UnixNano())
	}
	if len(tm.Schema) != 6 || tm.Schema[3].Name != "bid" || tm.Schema[4].Name != "ask" {
		t.Errorf("schema does not describe the tick layout: %+v", tm.Schema)
	}
}

func TestCommitAccumulatesSnapshots(t *testing.T) {
	put := newFakePutter()
	w := NewWriter(put, "tick-archive", "quote_ticks")

	base := time.Date(2026, 8, 31, 6, 0, 0, 0, time.UTC)
	if err := w.Commit(context.Background(), tickFile("f1.parquet", 10, base)); err != nil {
		t.Fatalf("first commit: %v", err)
	}
	if err := w.Commit(context.Background(), tickFile("f2.parquet", 5, base.Add(time.Minute))); err != nil {
		t.Fatalf("second commit: %v", err)
	}

	var tm TableMetadata
	if err := json.Unmarshal(put.objects["quote_ticks/metadata/metadata.json"], &tm); err != nil {
		t.Fatalf("table metadata is not valid json: %v", err)
	}
	if len(tm.Snapshots) != 2 {
		t.Fatalf("expected 2 snapshots, got %d", len(tm.Snapshots))
	}
	last := tm.Snapshots[1]
	if last.Summary["added-records"] != "5" || last.Summary["total-records"] != "15" {
		t.Errorf("unexpected snapshot summary: %+v", last.Summary)
	}
	if tm.CurrentSnapshotID != last.SnapshotID {
		t.Errorf("current snapshot id must track the last commit")
	}
}

func timeID(ts time.Time) string {
	return strconv.FormatInt(ts.UnixNano(), 10)
}

func keys(f *fakePutter) []string {
	out := make([]string, 0, len(f.objects))
	for k := range f.objects {
		out = append(out, k)
	}
	return out
}
