package gateway

import "sync/atomic"

// Counter is the online-session gauge: incremented on every accepted
// websocket session, decremented on close.
type Counter interface {
	Incr()
	Decr()
	Value() int64
}

// GaugeCounter is the in-process Counter.
type GaugeCounter struct {
	n atomic.Int64
}

// NewGaugeCounter creates a zeroed gauge.
func NewGaugeCounter() *GaugeCounter { return &GaugeCounter{} }

func (g *GaugeCounter) Incr()        { g.n.Add(1) }
func (g *GaugeCounter) Decr()        { g.n.Add(-1) }
func (g *GaugeCounter) Value() int64 { return g.n.Load() }
