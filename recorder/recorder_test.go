package recorder

import (
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	appconfig "fixflow/config"
	"fixflow/logger"
	"fixflow/models"
)

func testRecorder() *Recorder {
	cfg := &appconfig.Config{}
	cfg.Storage.S3.Bucket = "tick-archive"
	cfg.Recorder.RowGroupSize = 128 * 1024
	return &Recorder{
		config:  cfg,
		account: "demo.broker.3001234",
		log:     logger.GetLogger(),
		buffer:  make(map[string][]models.MarketQuote),
	}
}

func TestGenerateS3Key(t *testing.T) {
	r := testRecorder()
	ts := time.Date(2024, 3, 5, 7, 9, 11, 0, time.UTC)

	key := r.generateS3Key("EURUSD", ts)
	want := "account=demo.broker.3001234/symbol=EURUSD/year=2024/month=03/day=05/hour=07/ticks_EURUSD_20240305070911.parquet"
	if key != want {
		t.Errorf("expected key %s, got %s", want, key)
	}
	if strings.Contains(key, "\\") {
		t.Error("key must use forward slashes")
	}
}

func TestAddTickGroupsBySymbol(t *testing.T) {
	r := testRecorder()

	r.addTick(models.MarketQuote{Symbol: "EURUSD", Bid: decimal.RequireFromString("1.08")})
	r.addTick(models.MarketQuote{Symbol: "EURUSD", Bid: decimal.RequireFromString("1.09")})
	r.addTick(models.MarketQuote{Symbol: "GBPJPY", Bid: decimal.RequireFromString("190.5")})

	if len(r.buffer["EURUSD"]) != 2 {
		t.Errorf("expected 2 buffered EURUSD ticks, got %d", len(r.buffer["EURUSD"]))
	}
	if len(r.buffer["GBPJPY"]) != 1 {
		t.Errorf("expected 1 buffered GBPJPY tick, got %d", len(r.buffer["GBPJPY"]))
	}
}

func TestCreateParquetFile(t *testing.T) {
	r := testRecorder()
	now := time.Now()

	ticks := []models.MarketQuote{
		{Symbol: "EURUSD", Bid: decimal.RequireFromString("1.0801"), Ask: decimal.RequireFromString("1.0803"), Digits: 5, Timestamp: now},
		{Symbol: "EURUSD", Bid: decimal.RequireFromString("1.0802"), Ask: decimal.RequireFromString("1.0804"), Digits: 5, Timestamp: now},
		// Missing timestamp: skipped, must not fail the batch.
		{Symbol: "EURUSD", Bid: decimal.RequireFromString("1.0805")},
	}

	data, size, err := r.createParquetFile(ticks)
	if err != nil {
		t.Fatalf("createParquetFile failed: %v", err)
	}
	if size != int64(len(data)) {
		t.Errorf("reported size %d does not match %d data bytes", size, len(data))
	}
	if len(data) == 0 {
		t.Fatal("parquet output is empty")
	}
	// Parquet files end with the PAR1 magic.
	if string(data[len(data)-4:]) != "PAR1" {
		t.Error("output does not look like a parquet file")
	}
}

func TestCreateParquetFileEmptyBatch(t *testing.T) {
	r := testRecorder()
	data, _, err := r.createParquetFile(nil)
	if err != nil {
		t.Fatalf("empty batch must still finalize: %v", err)
	}
	if len(data) == 0 {
		t.Error("even an empty batch produces a valid file")
	}
}
