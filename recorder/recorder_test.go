package recorder

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"tradeflow/internal/bus"
	"tradeflow/models"
)

func TestRecorderWritesParquetOnStop(t *testing.T) {
	dir := t.TempDir()

	rec, err := New(Config{
		Venue:         "paper",
		Dir:           dir,
		FlushInterval: time.Hour,
	})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	b := bus.New()
	if err := rec.Start(context.Background(), b); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	b.Publish(bus.TopicFill, models.FillEvent{
		Side:   models.OrderSideBuy,
		Symbol: "BTC/USDT",
		Price:  100,
		Amount: 1,
	})
	b.Publish(bus.TopicFill, models.FillEvent{
		Side:   models.OrderSideSell,
		Symbol: "ETH/USDT",
		Price:  50,
		Amount: 2,
	})

	rec.Stop()

	files, err := filepath.Glob(filepath.Join(dir, "*.parquet"))
	if err != nil {
		t.Fatalf("glob failed: %v", err)
	}
	if len(files) != 2 {
		t.Fatalf("files = %d, want one per symbol", len(files))
	}
	for _, f := range files {
		info, err := os.Stat(f)
		if err != nil {
			t.Fatalf("stat %s: %v", f, err)
		}
		if info.Size() == 0 {
			t.Errorf("%s is empty", f)
		}
	}
}

func TestRecorderIgnoresForeignPayloads(t *testing.T) {
	rec, err := New(Config{Venue: "paper", Dir: t.TempDir(), FlushInterval: time.Hour})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	b := bus.New()
	if err := rec.Start(context.Background(), b); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	b.Publish(bus.TopicFill, "not a fill event")
	rec.Stop()

	rec.mu.Lock()
	defer rec.mu.Unlock()
	if len(rec.buffer) != 0 {
		t.Errorf("foreign payload was buffered")
	}
}

func TestEncodeParquetProducesData(t *testing.T) {
	rec, err := New(Config{Venue: "paper", Dir: t.TempDir()})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	data, err := rec.encodeParquet([]timedFill{
		{fill: models.FillEvent{Side: models.OrderSideBuy, Symbol: "BTC/USDT", Price: 100, Amount: 1}, at: time.Now()},
	})
	if err != nil {
		t.Fatalf("encodeParquet failed: %v", err)
	}
	if len(data) == 0 {
		t.Error("empty parquet payload")
	}
	// Parquet files end with the magic bytes "PAR1".
	if string(data[len(data)-4:]) != "PAR1" {
		t.Error("payload is not a parquet file")
	}
}

func TestObjectKeyPartitions(t *testing.T) {
	rec, err := New(Config{Venue: "binance", Dir: t.TempDir()})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	key := rec.objectKey("BTCUSDT", "file.parquet")
	want := "venue=binance/symbol=BTCUSDT/date=" + time.Now().UTC().Format("2006-01-02") + "/file.parquet"
	if key != want {
		t.Errorf("key = %s, want %s", key, want)
	}
}
