package transport

import (
	"context"
	"errors"
	"math/rand"
	"net"
	"strconv"
	"sync"
	"time"

	reuseport "github.com/kavu/go_reuseport"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/luma/dgramfs/protocol"
	"github.com/luma/dgramfs/storage"
)

var ErrNotStarted = errors.New("UDP server has not been started")

// UDP is the file server. A single goroutine reads a datagram, handles it
// completely (including pushing any resulting updates) and replies before it
// reads the next one. A second goroutine sweeps the request history.
type UDP struct {
	cancel     context.CancelFunc
	stopWaiter sync.WaitGroup

	addr string

	mu   sync.Mutex
	conn net.PacketConn

	sender     Sender
	dropper    *Dropper
	store      storage.Store
	history    *History
	subs       *Subscriptions
	dispatcher *Dispatcher

	semantics     protocol.Semantics
	sweepInterval time.Duration
	now           func() time.Time

	log   *zap.Logger
	trace bool
}

func NewUDP(options Options) *UDP {
	options.setDefaults()

	u := &UDP{
		addr:          net.JoinHostPort(options.Host, strconv.Itoa(options.Port)),
		store:         options.Store,
		semantics:     options.Semantics,
		sweepInterval: options.SweepInterval,
		now:           options.Now,
		log:           options.Log,
		trace:         options.Trace,
		dropper:       NewDropper(options.DropRate, "server", rand.NewSource(time.Now().UnixNano())),
	}

	u.history = NewHistory(options.Retention, options.Now, options.Log.Named("history"))

	// Replies and updates both go out through the lossy sender
	u.sender = &LossySender{Sender: senderFunc(u.writeTo), Dropper: u.dropper, Log: options.Log}
	u.subs = NewSubscriptions(u.sender, options.Now, options.Log.Named("subscriptions"))

	u.dispatcher = NewDispatcher(u.semantics, u.store, u.history, u.subs, u.now, options.Log.Named("dispatch"))
	u.dispatcher.trace = options.Trace

	return u
}

func (u *UDP) Start(parentCtx context.Context) error {
	conn, err := reuseport.ListenPacket("udp", u.addr)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(parentCtx)

	u.mu.Lock()
	u.conn = conn
	u.cancel = cancel
	u.mu.Unlock()

	u.log.Info("Starting udp listener",
		zap.Stringer("addr", conn.LocalAddr()),
		zap.String("semantics", string(u.semantics)))

	u.stopWaiter.Add(2)

	go func() {
		defer u.stopWaiter.Done()
		u.history.Run(ctx, u.sweepInterval)
	}()

	go func() {
		defer u.stopWaiter.Done()
		u.receiveLoop(ctx, conn)
	}()

	// Closing the socket is what unblocks ReadFrom
	go func() {
		<-ctx.Done()
		if err := conn.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			u.log.Warn("UDP listener did not close cleanly", zap.Error(err))
		}
	}()

	return nil
}

// Addr returns the address the server is bound to, or nil before Start.
func (u *UDP) Addr() net.Addr {
	u.mu.Lock()
	defer u.mu.Unlock()

	if u.conn == nil {
		return nil
	}

	return u.conn.LocalAddr()
}

func (u *UDP) Store() storage.Store {
	return u.store
}

func (u *UDP) History() *History {
	return u.history
}

func (u *UDP) Subscriptions() *Subscriptions {
	return u.subs
}

func (u *UDP) Semantics() protocol.Semantics {
	return u.semantics
}

// Close stops the receive loop and the sweeper and waits for both to exit.
func (u *UDP) Close() error {
	u.mu.Lock()
	cancel := u.cancel
	u.mu.Unlock()

	if cancel == nil {
		return ErrNotStarted
	}

	u.log.Info("Stopping UDP server")
	cancel()

	u.stopWaiter.Wait()
	u.log.Info("UDP server stopped")

	return nil
}

func (u *UDP) receiveLoop(ctx context.Context, conn net.PacketConn) {
	log := u.log.Named("receiveLoop")
	buf := make([]byte, MaxDatagramSize)

	for {
		n, from, err := conn.ReadFrom(buf)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				log.Info("Receive loop exiting")
				return
			}

			log.Warn("Failed to read datagram", zap.Error(err))
			continue
		}

		if u.trace {
			log.Debug("Received datagram", zap.Stringer("from", from), zap.Binary("data", buf[:n]))
		}

		resp := u.dispatcher.Handle(ctx, buf[:n], from)

		// Send failures are not retried, the client's own timeout recovers
		if _, err := u.sender.WriteTo(resp, from); err != nil {
			log.Warn("Failed to send response", zap.Stringer("to", from), zap.Error(err))
		}
	}
}

func (u *UDP) writeTo(b []byte, addr net.Addr) (int, error) {
	u.mu.Lock()
	conn := u.conn
	u.mu.Unlock()

	if conn == nil {
		return 0, ErrNotStarted
	}

	return conn.WriteTo(b, addr)
}

// senderFunc adapts a function to a Sender.
type senderFunc func(b []byte, addr net.Addr) (int, error)

func (f senderFunc) WriteTo(b []byte, addr net.Addr) (int, error) {
	return f(b, addr)
}

// CloseAll closes every closer and returns all of their errors combined.
func CloseAll(closers ...interface{ Close() error }) (err error) {
	for _, c := range closers {
		err = multierr.Append(err, c.Close())
	}

	return err
}
