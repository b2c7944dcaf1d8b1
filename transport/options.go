package transport

import (
	"time"

	"go.uber.org/zap"

	"github.com/luma/dgramfs/protocol"
	"github.com/luma/dgramfs/storage"
)

const (
	DefaultRetention     = 24 * time.Hour
	DefaultSweepInterval = time.Hour

	// MaxDatagramSize is the largest UDP payload we will read
	MaxDatagramSize = 65535
)

type Options struct {
	// Host to listen on
	Host string

	// Port to listen on. 0 picks a free port, see UDP.Addr()
	Port int

	// Semantics decides whether duplicate requests are suppressed
	Semantics protocol.Semantics

	// DropRate is the probability, between 0 and 1, that any datagram the
	// server sends is silently discarded
	DropRate float64

	// Retention is how long a request ID and its response are remembered
	Retention time.Duration

	// SweepInterval is how often expired request IDs are purged
	SweepInterval time.Duration

	// Trace will log every datagram. This is only useful in local debugging
	Trace bool

	// Now is the clock, it defaults to time.Now
	Now func() time.Time

	Store storage.Store

	Log *zap.Logger
}

func (o *Options) setDefaults() {
	if o.Semantics == "" {
		o.Semantics = protocol.AtMostOnce
	}

	if o.Retention <= 0 {
		o.Retention = DefaultRetention
	}

	if o.SweepInterval <= 0 {
		o.SweepInterval = DefaultSweepInterval
	}

	if o.Now == nil {
		o.Now = time.Now
	}

	if o.Log == nil {
		o.Log = zap.NewNop()
	}
}
