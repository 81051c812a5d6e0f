package exchange

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/taggaverse/ai-trading-agent/internal/market"
	"github.com/taggaverse/ai-trading-agent/internal/metrics"
)

const (
	binanceMainnetREST = "https://fapi.binance.com"
	binanceTestnetREST = "https://testnet.binancefuture.com"
	binanceMainnetWS   = "wss://fstream.binance.com"
	binanceTestnetWS   = "wss://stream.binancefuture.com"
)

// Binance talks to the USD-M futures REST API for candles, balances, and
// market orders, and keeps a live price cache fed by the miniTicker
// websocket stream. It implements both MarketData and Broker.
type Binance struct {
	baseURL   string
	wsURL     string
	apiKey    string
	apiSecret string
	http      *http.Client
	limiter   *rate.Limiter
	log       zerolog.Logger

	mu         sync.RWMutex
	lastPrices map[string]float64
	leverage   map[string]float64 // symbols with leverage already set
}

// NewBinance builds the venue. Credentials may be empty when only public
// market data is needed.
func NewBinance(apiKey, apiSecret string, testnet bool, log zerolog.Logger) *Binance {
	base, ws := binanceMainnetREST, binanceMainnetWS
	if testnet {
		base, ws = binanceTestnetREST, binanceTestnetWS
	}
	return &Binance{
		baseURL:    base,
		wsURL:      ws,
		apiKey:     apiKey,
		apiSecret:  apiSecret,
		http:       &http.Client{Timeout: 10 * time.Second},
		limiter:    rate.NewLimiter(rate.Limit(8), 16),
		log:        log,
		lastPrices: make(map[string]float64),
		leverage:   make(map[string]float64),
	}
}

// FetchCandles pulls klines for the symbol. An HTTP or decode failure is
// returned to the caller, which skips the symbol for the cycle.
func (b *Binance) FetchCandles(ctx context.Context, symbol, timeframe string, limit int) (market.Series, error) {
	q := url.Values{}
	q.Set("symbol", binanceSymbol(symbol))
	q.Set("interval", timeframe)
	q.Set("limit", strconv.Itoa(limit))

	body, err := b.public(ctx, "/fapi/v1/klines", q)
	if err != nil {
		return nil, fmt.Errorf("fetch klines %s: %w", symbol, err)
	}
	series, err := parseKlines(body)
	if err != nil {
		return nil, fmt.Errorf("parse klines %s: %w", symbol, err)
	}
	return series, nil
}

// FetchCurrentPrice prefers the websocket cache and falls back to the REST
// ticker when the stream has not delivered a price yet.
func (b *Binance) FetchCurrentPrice(ctx context.Context, symbol string) (float64, error) {
	b.mu.RLock()
	px, ok := b.lastPrices[binanceSymbol(symbol)]
	b.mu.RUnlock()
	if ok && px > 0 {
		return px, nil
	}

	q := url.Values{}
	q.Set("symbol", binanceSymbol(symbol))
	body, err := b.public(ctx, "/fapi/v1/ticker/price", q)
	if err != nil {
		return 0, fmt.Errorf("fetch ticker %s: %w", symbol, err)
	}
	var resp struct {
		Price string `json:"price"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return 0, fmt.Errorf("parse ticker %s: %w", symbol, err)
	}
	return strconv.ParseFloat(resp.Price, 64)
}

// FetchAvailableBalance reports the free balance of one asset.
func (b *Binance) FetchAvailableBalance(ctx context.Context, asset string) (float64, error) {
	body, err := b.signed(ctx, http.MethodGet, "/fapi/v2/balance", url.Values{})
	if err != nil {
		return 0, fmt.Errorf("fetch balance: %w", err)
	}
	var entries []struct {
		Asset            string `json:"asset"`
		AvailableBalance string `json:"availableBalance"`
	}
	if err := json.Unmarshal(body, &entries); err != nil {
		return 0, fmt.Errorf("parse balance: %w", err)
	}
	for _, e := range entries {
		if strings.EqualFold(e.Asset, asset) {
			return strconv.ParseFloat(e.AvailableBalance, 64)
		}
	}
	return 0, fmt.Errorf("asset %s not in balance response", asset)
}

// PlaceMarketBuy sets leverage for the symbol once, then submits a market
// buy and reports the average fill price.
func (b *Binance) PlaceMarketBuy(ctx context.Context, symbol string, size, leverage float64) (Fill, error) {
	if err := b.ensureLeverage(ctx, symbol, leverage); err != nil {
		return Fill{}, err
	}
	return b.placeMarket(ctx, symbol, Buy, size)
}

// PlaceMarketSell submits a reduce-only market sell.
func (b *Binance) PlaceMarketSell(ctx context.Context, symbol string, size float64) (Fill, error) {
	return b.placeMarket(ctx, symbol, Sell, size)
}

func (b *Binance) ensureLeverage(ctx context.Context, symbol string, leverage float64) error {
	if leverage <= 0 {
		return nil
	}
	b.mu.Lock()
	already := b.leverage[symbol] == leverage
	b.mu.Unlock()
	if already {
		return nil
	}
	q := url.Values{}
	q.Set("symbol", binanceSymbol(symbol))
	q.Set("leverage", strconv.Itoa(int(leverage)))
	if _, err := b.signed(ctx, http.MethodPost, "/fapi/v1/leverage", q); err != nil {
		return fmt.Errorf("set leverage %s: %w", symbol, err)
	}
	b.mu.Lock()
	b.leverage[symbol] = leverage
	b.mu.Unlock()
	return nil
}

func (b *Binance) placeMarket(ctx context.Context, symbol string, side Side, size float64) (Fill, error) {
	q := url.Values{}
	q.Set("symbol", binanceSymbol(symbol))
	q.Set("side", string(side))
	q.Set("type", "MARKET")
	q.Set("quantity", strconv.FormatFloat(size, 'f', -1, 64))
	q.Set("newOrderRespType", "RESULT")

	body, err := b.signed(ctx, http.MethodPost, "/fapi/v1/order", q)
	if err != nil {
		return Fill{}, fmt.Errorf("place %s %s: %w", side, symbol, err)
	}
	var resp struct {
		AvgPrice    string `json:"avgPrice"`
		ExecutedQty string `json:"executedQty"`
		UpdateTime  int64  `json:"updateTime"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return Fill{}, fmt.Errorf("parse order response: %w", err)
	}
	price, err := strconv.ParseFloat(resp.AvgPrice, 64)
	if err != nil || price <= 0 {
		// RESULT responses can lag the fill price; fall back to the ticker.
		price, err = b.FetchCurrentPrice(ctx, symbol)
		if err != nil {
			return Fill{}, fmt.Errorf("resolve fill price %s: %w", symbol, err)
		}
	}
	qty, _ := strconv.ParseFloat(resp.ExecutedQty, 64)
	if qty <= 0 {
		qty = size
	}
	metrics.OrdersTotal.WithLabelValues(symbol, string(side)).Inc()
	b.log.Info().Str("symbol", symbol).Str("side", string(side)).Float64("size", qty).Float64("price", price).Msg("order filled")
	return Fill{Symbol: symbol, Side: side, Size: qty, Price: price, Ts: time.UnixMilli(resp.UpdateTime)}, nil
}

func (b *Binance) public(ctx context.Context, path string, q url.Values) ([]byte, error) {
	if err := b.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, b.baseURL+path+"?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}
	return b.do(req)
}

func (b *Binance) signed(ctx context.Context, method, path string, q url.Values) ([]byte, error) {
	if b.apiKey == "" || b.apiSecret == "" {
		return nil, fmt.Errorf("binance credentials not configured")
	}
	if err := b.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	q.Set("timestamp", strconv.FormatInt(time.Now().UnixMilli(), 10))
	q.Set("recvWindow", "5000")
	payload := q.Encode()
	mac := hmac.New(sha256.New, []byte(b.apiSecret))
	mac.Write([]byte(payload))
	payload += "&signature=" + hex.EncodeToString(mac.Sum(nil))

	req, err := http.NewRequestWithContext(ctx, method, b.baseURL+path+"?"+payload, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("X-MBX-APIKEY", b.apiKey)
	return b.do(req)
}

func (b *Binance) do(req *http.Request) ([]byte, error) {
	resp, err := b.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return body, nil
}

// parseKlines decodes the klines array-of-arrays payload into a Series.
func parseKlines(body []byte) (market.Series, error) {
	var rows [][]json.RawMessage
	if err := json.Unmarshal(body, &rows); err != nil {
		return nil, err
	}
	series := make(market.Series, 0, len(rows))
	for _, row := range rows {
		if len(row) < 6 {
			return nil, fmt.Errorf("kline row has %d fields", len(row))
		}
		var openTime int64
		if err := json.Unmarshal(row[0], &openTime); err != nil {
			return nil, fmt.Errorf("kline open time: %w", err)
		}
		vals := make([]float64, 5)
		for i := 1; i <= 5; i++ {
			var s string
			if err := json.Unmarshal(row[i], &s); err != nil {
				return nil, fmt.Errorf("kline field %d: %w", i, err)
			}
			v, err := strconv.ParseFloat(s, 64)
			if err != nil {
				return nil, fmt.Errorf("kline field %d: %w", i, err)
			}
			vals[i-1] = v
		}
		series = append(series, market.Candle{
			OpenTime: time.UnixMilli(openTime),
			Open:     vals[0],
			High:     vals[1],
			Low:      vals[2],
			Close:    vals[3],
			Volume:   vals[4],
		})
	}
	return series, nil
}

// binanceSymbol maps "BTC/USDT" onto Binance's "BTCUSDT" form.
func binanceSymbol(symbol string) string {
	return strings.ToUpper(strings.ReplaceAll(symbol, "/", ""))
}
