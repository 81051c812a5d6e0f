// Package strategy turns annotated candles into discrete trading signals.
package strategy

// Action is the discrete decision a strategy can emit for one evaluation.
type Action int

const (
	ActionNone Action = iota
	ActionEnterLong
	ActionExitLong
)

// String returns the action name used in logs and metric labels.
func (a Action) String() string {
	switch a {
	case ActionEnterLong:
		return "enter_long"
	case ActionExitLong:
		return "exit_long"
	default:
		return "none"
	}
}

// Signal is the value produced by one strategy evaluation. StopLoss and
// TakeProfit are only set on entries; a fresh Signal is produced each cycle
// and never mutated.
type Signal struct {
	Action     Action
	StopLoss   float64
	TakeProfit float64
}

// None is the no-op signal.
var None = Signal{Action: ActionNone}
