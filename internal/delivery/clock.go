package delivery

import "time"

// Ticker delivers wall-clock ticks. *time.Ticker satisfies it through
// realTicker; tests inject their own.
type Ticker interface {
	C() <-chan time.Time
	Stop()
}

// TickerFactory creates a ticker firing every interval.
type TickerFactory func(interval time.Duration) Ticker

type realTicker struct {
	t *time.Ticker
}

func (r realTicker) C() <-chan time.Time { return r.t.C }
func (r realTicker) Stop()               { r.t.Stop() }

func newRealTicker(interval time.Duration) Ticker {
	return realTicker{t: time.NewTicker(interval)}
}
