package game

import "time"

// TickerSource lets tests drive periodic loops with hand-fed channels.
type TickerSource interface {
	Create(d time.Duration) <-chan time.Time
}

type ticker struct{}

func (t ticker) Create(d time.Duration) <-chan time.Time {
	return time.NewTicker(d).C
}

func NewTickerGen() ticker {
	return ticker{}
}
