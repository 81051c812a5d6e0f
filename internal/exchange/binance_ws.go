package exchange

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"
)

type miniTickerEnvelope struct {
	Stream string     `json:"stream"`
	Data   miniTicker `json:"data"`
}

type miniTicker struct {
	Symbol string `json:"s"`
	Close  string `json:"c"`
}

// StreamPrices keeps the live price cache warm from the combined miniTicker
// stream, reconnecting with capped backoff until the context is canceled.
// Run it in its own goroutine; FetchCurrentPrice works without it via REST.
func (b *Binance) StreamPrices(ctx context.Context, symbols []string) error {
	if len(symbols) == 0 {
		return fmt.Errorf("price stream requires at least one symbol")
	}
	streams := make([]string, len(symbols))
	for i, sym := range symbols {
		streams[i] = strings.ToLower(binanceSymbol(sym)) + "@miniTicker"
	}
	streamURL := fmt.Sprintf("%s/stream?streams=%s", b.wsURL, strings.Join(streams, "/"))

	backoff := time.Second
	const maxBackoff = 30 * time.Second
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := b.consumeTickerStream(ctx, streamURL); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			b.log.Warn().Err(err).Msg("price stream disconnected, retrying")
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return ctx.Err()
			}
			backoff = time.Duration(math.Min(float64(maxBackoff), float64(backoff)*1.8))
			continue
		}
		return nil
	}
}

func (b *Binance) consumeTickerStream(ctx context.Context, streamURL string) error {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, streamURL, nil)
	if err != nil {
		return err
	}
	defer conn.Close()

	b.log.Info().Str("url", streamURL).Msg("connected price stream")

	conn.SetReadLimit(1 << 20)
	conn.SetReadDeadline(time.Now().Add(30 * time.Second))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(30 * time.Second))
		return nil
	})

	pingCtx, pingCancel := context.WithCancel(ctx)
	defer pingCancel()
	go func() {
		ticker := time.NewTicker(15 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
				if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
					b.log.Warn().Err(err).Msg("price stream ping failed")
					return
				}
			case <-pingCtx.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		_, message, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		var env miniTickerEnvelope
		if err := json.Unmarshal(message, &env); err != nil {
			b.log.Warn().Err(err).Msg("failed to decode ticker message")
			continue
		}
		px, err := strconv.ParseFloat(env.Data.Close, 64)
		if err != nil || px <= 0 {
			continue
		}
		b.mu.Lock()
		b.lastPrices[strings.ToUpper(env.Data.Symbol)] = px
		b.mu.Unlock()
	}
}
