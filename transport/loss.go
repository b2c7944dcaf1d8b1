package transport

import (
	"math/rand"
	"net"
	"sync"

	"go.uber.org/zap"

	"github.com/luma/dgramfs/internal/metrics"
)

// Sender sends one datagram to addr. net.PacketConn satisfies it.
type Sender interface {
	WriteTo(b []byte, addr net.Addr) (int, error)
}

// Dropper decides whether to simulate the loss of a datagram.
type Dropper struct {
	rate float64
	side string

	mu   sync.Mutex
	rand *rand.Rand
}

// NewDropper returns a Dropper that loses rate of all datagrams. side labels
// the drops in metrics.
func NewDropper(rate float64, side string, source rand.Source) *Dropper {
	return &Dropper{rate: rate, side: side, rand: rand.New(source)}
}

// Drop returns true if the next datagram should be lost.
func (d *Dropper) Drop() bool {
	if d == nil || d.rate <= 0 {
		return false
	}

	d.mu.Lock()
	lost := d.rand.Float64() < d.rate
	d.mu.Unlock()

	if lost {
		metrics.RecordDrop(d.side)
	}

	return lost
}

// LossySender wraps a Sender and silently drops some datagrams. A dropped
// datagram reports success, the same as one lost on the wire.
type LossySender struct {
	Sender  Sender
	Dropper *Dropper
	Log     *zap.Logger
}

func (l *LossySender) WriteTo(b []byte, addr net.Addr) (int, error) {
	if l.Dropper.Drop() {
		l.Log.Info("Simulated packet loss, dropping datagram",
			zap.Stringer("to", addr),
			zap.Int("bytes", len(b)))
		return len(b), nil
	}

	return l.Sender.WriteTo(b, addr)
}
