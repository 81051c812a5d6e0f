package exchange

import (
	"bufio"
	"context"
	"encoding/json"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
)

func newTestPaper(opts PaperOptions) *Paper {
	return NewPaper(opts, zerolog.Nop())
}

func TestPaperCandlesAdvanceDeterministically(t *testing.T) {
	venue := newTestPaper(PaperOptions{StartingCash: 1000, StartPrice: 100, Drift: 1})
	ctx := context.Background()

	first, err := venue.FetchCandles(ctx, "BTC/USDT", "1h", 10)
	if err != nil {
		t.Fatalf("fetch failed: %v", err)
	}
	if len(first) != 10 {
		t.Fatalf("expected 10 candles, got %d", len(first))
	}
	for i := 1; i < len(first); i++ {
		if !first[i].OpenTime.After(first[i-1].OpenTime) {
			t.Fatalf("candles must ascend by open time")
		}
		if math.Abs(first[i].Close-first[i-1].Close-1) > 1e-9 {
			t.Fatalf("expected unit drift, got %.4f", first[i].Close-first[i-1].Close)
		}
	}

	second, err := venue.FetchCandles(ctx, "BTC/USDT", "1h", 10)
	if err != nil {
		t.Fatalf("fetch failed: %v", err)
	}
	if math.Abs(second[len(second)-1].Close-first[len(first)-1].Close-1) > 1e-9 {
		t.Fatalf("walk should advance one step per fetch")
	}

	px, err := venue.FetchCurrentPrice(ctx, "BTC/USDT")
	if err != nil {
		t.Fatalf("price failed: %v", err)
	}
	if math.Abs(px-second[len(second)-1].Close) > 1e-9 {
		t.Fatalf("current price %.4f should track last close %.4f", px, second[len(second)-1].Close)
	}
}

func TestPaperBuySellAccounting(t *testing.T) {
	venue := newTestPaper(PaperOptions{StartingCash: 1000, StartPrice: 100, Drift: 0.5})
	ctx := context.Background()
	if _, err := venue.FetchCandles(ctx, "BTC/USDT", "1h", 5); err != nil {
		t.Fatalf("fetch failed: %v", err)
	}

	fill, err := venue.PlaceMarketBuy(ctx, "BTC/USDT", 2, 10)
	if err != nil {
		t.Fatalf("buy failed: %v", err)
	}
	if fill.Side != Buy || fill.Size != 2 || fill.Price <= 0 {
		t.Fatalf("unexpected fill %+v", fill)
	}
	balance, _ := venue.FetchAvailableBalance(ctx, "USDT")
	if math.Abs(balance-(1000-2*fill.Price)) > 1e-6 {
		t.Fatalf("cash not debited, balance %.4f", balance)
	}

	sell, err := venue.PlaceMarketSell(ctx, "BTC/USDT", 2)
	if err != nil {
		t.Fatalf("sell failed: %v", err)
	}
	if sell.Side != Sell {
		t.Fatalf("unexpected sell fill %+v", sell)
	}
	if _, err := venue.PlaceMarketSell(ctx, "BTC/USDT", 1); err == nil {
		t.Fatalf("expected error selling with nothing held")
	}
}

func TestPaperRejectsOversizedBuy(t *testing.T) {
	venue := newTestPaper(PaperOptions{StartingCash: 50, StartPrice: 100, Drift: 0.5})
	if _, err := venue.PlaceMarketBuy(context.Background(), "BTC/USDT", 1, 1); err == nil {
		t.Fatalf("expected insufficient cash error")
	}
}

func TestJSONLRecorderWritesFills(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fills", "out.jsonl")
	recorder, err := NewJSONLRecorder(path)
	if err != nil {
		t.Fatalf("recorder init failed: %v", err)
	}

	venue := newTestPaper(PaperOptions{StartingCash: 1000, StartPrice: 100, Drift: 0.5, Recorder: recorder})
	if _, err := venue.PlaceMarketBuy(context.Background(), "BTC/USDT", 1, 1); err != nil {
		t.Fatalf("buy failed: %v", err)
	}
	if err := recorder.Close(); err != nil {
		t.Fatalf("close failed: %v", err)
	}
	if err := recorder.Close(); err != nil {
		t.Fatalf("double close should be a no-op: %v", err)
	}

	file, err := os.Open(path)
	if err != nil {
		t.Fatalf("open fills file: %v", err)
	}
	defer file.Close()
	scanner := bufio.NewScanner(file)
	if !scanner.Scan() {
		t.Fatalf("expected one fill line")
	}
	var fill Fill
	if err := json.Unmarshal(scanner.Bytes(), &fill); err != nil {
		t.Fatalf("decode fill: %v", err)
	}
	if fill.Symbol != "BTC/USDT" || fill.Side != Buy {
		t.Fatalf("unexpected recorded fill %+v", fill)
	}
}
