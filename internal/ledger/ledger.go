// Package ledger is the authoritative in-memory table of open positions.
// One position per symbol; entries exist only between a confirmed entry fill
// and a confirmed exit fill, and nothing is persisted across restarts.
package ledger

import (
	"fmt"
	"sync"
	"time"

	"github.com/taggaverse/ai-trading-agent/internal/metrics"
)

// Side enumerates position direction.
type Side string

const (
	Long  Side = "long"
	Short Side = "short"
)

// Position records one open trade and its risk parameters.
type Position struct {
	Symbol     string
	Side       Side
	EntryPrice float64
	Size       float64
	StopLoss   float64
	TakeProfit float64
	OpenedAt   time.Time
}

// RealizedPnLPct computes the fractional profit of closing at exitPrice,
// sign-adjusted for shorts.
func (p Position) RealizedPnLPct(exitPrice float64) float64 {
	if p.EntryPrice == 0 {
		return 0
	}
	pnl := (exitPrice - p.EntryPrice) / p.EntryPrice
	if p.Side == Short {
		pnl = -pnl
	}
	return pnl
}

// DuplicatePositionError reports an open on a symbol that already has a
// position. The offending open is dropped, never overwritten.
type DuplicatePositionError struct {
	Symbol string
}

func (e DuplicatePositionError) Error() string {
	return fmt.Sprintf("position already open for %s", e.Symbol)
}

// NoPositionError reports a close on a symbol with nothing open.
type NoPositionError struct {
	Symbol string
}

func (e NoPositionError) Error() string {
	return fmt.Sprintf("no open position for %s", e.Symbol)
}

// Ledger maps symbol to open position. All operations are atomic under the
// mutex; the single-threaded cycle loop does not need it, but the ledger
// does not assume its caller stays single-threaded.
type Ledger struct {
	mu        sync.Mutex
	positions map[string]Position
}

// New creates an empty ledger.
func New() *Ledger {
	return &Ledger{positions: make(map[string]Position)}
}

// Open inserts a position, failing with DuplicatePositionError if the symbol
// already has one.
func (l *Ledger) Open(p Position) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, exists := l.positions[p.Symbol]; exists {
		return DuplicatePositionError{Symbol: p.Symbol}
	}
	l.positions[p.Symbol] = p
	metrics.OpenPositions.Set(float64(len(l.positions)))
	return nil
}

// Close removes and returns the position for symbol, failing with
// NoPositionError if absent.
func (l *Ledger) Close(symbol string) (Position, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	p, exists := l.positions[symbol]
	if !exists {
		return Position{}, NoPositionError{Symbol: symbol}
	}
	delete(l.positions, symbol)
	metrics.OpenPositions.Set(float64(len(l.positions)))
	return p, nil
}

// Get looks up the open position for symbol without side effects.
func (l *Ledger) Get(symbol string) (Position, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	p, exists := l.positions[symbol]
	return p, exists
}

// Symbols returns the symbols with open positions. Order is unspecified.
func (l *Ledger) Symbols() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]string, 0, len(l.positions))
	for sym := range l.positions {
		out = append(out, sym)
	}
	return out
}

// Len reports the number of open positions.
func (l *Ledger) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.positions)
}
