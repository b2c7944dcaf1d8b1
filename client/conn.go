package client

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/luma/dgramfs/internal/metrics"
	"github.com/luma/dgramfs/protocol"
	"github.com/luma/dgramfs/transport"
)

const (
	DefaultTimeout   = 5 * time.Second
	DefaultFreshness = 10 * time.Second

	// DefaultMaxAttempts bounds sends per request for the CLI
	DefaultMaxAttempts = 5
)

var (
	ErrNotConnected = errors.New("Client is not connected")
	ErrNoReply      = errors.New("No reply from the server")

	errTimedOut = errors.New("timed out waiting for a reply")
)

type Options struct {
	// Timeout is how long to wait for a reply before resending
	Timeout time.Duration

	// MaxAttempts bounds how many times a request is sent. 0 keeps resending
	// until the context is done
	MaxAttempts int

	// Freshness is how long a cached result may be served
	Freshness time.Duration

	// DropRate is the probability, between 0 and 1, that any datagram the
	// client sends is silently discarded
	DropRate float64

	// Now is the cache clock, it defaults to time.Now
	Now func() time.Time

	Log *zap.Logger
}

func (o *Options) setDefaults() {
	if o.Timeout <= 0 {
		o.Timeout = DefaultTimeout
	}

	if o.Freshness <= 0 {
		o.Freshness = DefaultFreshness
	}

	if o.Now == nil {
		o.Now = time.Now
	}

	if o.Log == nil {
		o.Log = zap.NewNop()
	}
}

// Update is a new version of a monitored file pushed by the server.
type Update struct {
	Name         string
	Content      string
	LastModified time.Time
}

// Result is the outcome of an idempotent call.
type Result struct {
	Value string

	// Cached is true if Value came from the local cache
	Cached bool
}

// Conn is a client of one dgramfs server. Calls are made one at a time, each
// waits for its reply (resending on timeout) before the next is sent.
type Conn struct {
	opts  Options
	token string
	seq   atomic.Uint32

	// callMu is held for the whole of a call, and for the whole of a
	// monitoring interval
	callMu sync.Mutex

	mu     sync.Mutex
	conn   *net.UDPConn
	server *net.UDPAddr
	sender transport.Sender

	cache *Cache
	log   *zap.Logger
}

func New(options Options) *Conn {
	options.setDefaults()

	return &Conn{
		opts:  options,
		token: uuid.NewString(),
		cache: NewCache(options.Freshness, options.Now),
		log:   options.Log,
	}
}

func (c *Conn) Connect(ctx context.Context, addr string) error {
	server, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return fmt.Errorf("Failed to resolve %s: %w", addr, err)
	}

	conn, err := net.ListenUDP("udp", nil)
	if err != nil {
		return err
	}

	dropper := transport.NewDropper(c.opts.DropRate, "client", rand.NewSource(time.Now().UnixNano()))

	c.mu.Lock()
	c.conn = conn
	c.server = server
	c.sender = &transport.LossySender{Sender: conn, Dropper: dropper, Log: c.log}
	c.mu.Unlock()

	c.log.Info("Connected",
		zap.Stringer("server", server),
		zap.Stringer("local", conn.LocalAddr()),
		zap.String("token", c.token))

	return nil
}

func (c *Conn) Disconnect() error {
	c.mu.Lock()
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()

	if conn == nil {
		return ErrNotConnected
	}

	return conn.Close()
}

// Cache exposes the local result cache.
func (c *Conn) Cache() *Cache {
	return c.cache
}

// Read returns up to length bytes of name starting at offset.
func (c *Conn) Read(ctx context.Context, name string, offset, length int) (Result, error) {
	key := readKey(name, offset, length)
	if value, ok := c.cache.get(key); ok {
		return Result{Value: value, Cached: true}, nil
	}

	resp, err := c.callLocked(ctx, protocol.NewReadRequest(c.nextID(), name, offset, length))
	if err != nil {
		return Result{}, err
	}

	value := string(resp.Value)
	c.cache.put(key, value)

	return Result{Value: value}, nil
}

// GetInfo returns the server's description of name.
func (c *Conn) GetInfo(ctx context.Context, name string) (Result, error) {
	key := infoKey(name)
	if value, ok := c.cache.get(key); ok {
		return Result{Value: value, Cached: true}, nil
	}

	resp, err := c.callLocked(ctx, protocol.NewGetInfoRequest(c.nextID(), name))
	if err != nil {
		return Result{}, err
	}

	value := string(resp.Value)
	c.cache.put(key, value)

	return Result{Value: value}, nil
}

// Insert splices content into name at offset.
func (c *Conn) Insert(ctx context.Context, name string, offset int, content string) (string, error) {
	resp, err := c.callLocked(ctx, protocol.NewInsertRequest(c.nextID(), name, offset, content))
	if err != nil {
		return "", err
	}

	return string(resp.Value), nil
}

// Append adds content to the end of name.
func (c *Conn) Append(ctx context.Context, name string, content string) (string, error) {
	resp, err := c.callLocked(ctx, protocol.NewAppendRequest(c.nextID(), name, content))
	if err != nil {
		return "", err
	}

	return string(resp.Value), nil
}

// Monitor registers for updates to name for interval. Updates arrive on the
// returned channel, which is closed once the interval has passed or ctx is
// done. No other call can be made until then.
func (c *Conn) Monitor(ctx context.Context, name string, interval time.Duration) (<-chan *Update, error) {
	c.callMu.Lock()

	// The server counts the interval from when it registers us, which is
	// after this point
	end := time.Now().Add(interval)

	if _, err := c.call(ctx, protocol.NewMonitorRequest(c.nextID(), name, interval)); err != nil {
		c.callMu.Unlock()
		return nil, err
	}

	updates := make(chan *Update, 16)

	go func() {
		defer c.callMu.Unlock()
		defer close(updates)

		listenCtx, cancel := context.WithDeadline(ctx, end)
		defer cancel()

		c.listen(listenCtx, updates)
	}()

	return updates, nil
}

func (c *Conn) nextID() protocol.RequestID {
	return protocol.RequestID{Token: c.token, Seq: c.seq.Add(1)}
}

func (c *Conn) callLocked(ctx context.Context, req *protocol.Request) (*protocol.Response, error) {
	c.callMu.Lock()
	defer c.callMu.Unlock()

	return c.call(ctx, req)
}

// call sends req and waits for its reply, resending the same datagram each
// time the wait times out. Error replies are returned as a
// *protocol.ServerError.
func (c *Conn) call(ctx context.Context, req *protocol.Request) (*protocol.Response, error) {
	c.mu.Lock()
	conn, server, sender := c.conn, c.server, c.sender
	c.mu.Unlock()

	if conn == nil {
		return nil, ErrNotConnected
	}

	datagram, err := req.Marshal()
	if err != nil {
		return nil, err
	}

	log := c.log.With(zap.Stringer("requestID", req.ID), zap.Stringer("op", req.Op))

	// Anything still queued belongs to an earlier call
	c.drain(conn, log)

	stop := context.AfterFunc(ctx, func() {
		_ = conn.SetReadDeadline(time.Now())
	})
	defer stop()

	attempt := 0
	for c.opts.MaxAttempts == 0 || attempt < c.opts.MaxAttempts {
		attempt++

		if attempt > 1 {
			metrics.RecordClientRetry()
			log.Info("No reply, resending request", zap.Int("attempt", attempt))
		}

		if _, err := sender.WriteTo(datagram, server); err != nil {
			return nil, fmt.Errorf("Failed to send %s request: %w", req.Op, err)
		}

		resp, err := c.await(ctx, conn, time.Now().Add(c.opts.Timeout), log)
		if errors.Is(err, errTimedOut) {
			continue
		}

		if err != nil {
			return nil, err
		}

		if err := resp.ErrorOrNil(); err != nil {
			return nil, err
		}

		return resp, nil
	}

	return nil, fmt.Errorf("%s after %d attempts: %w", req.Op, attempt, ErrNoReply)
}

// await reads until a reply arrives. Updates received meanwhile refresh the
// cache and the wait goes on.
func (c *Conn) await(ctx context.Context, conn *net.UDPConn, deadline time.Time, log *zap.Logger) (*protocol.Response, error) {
	buf := make([]byte, transport.MaxDatagramSize)

	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		if err := conn.SetReadDeadline(deadline); err != nil {
			return nil, err
		}

		n, err := conn.Read(buf)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}

			if isTimeout(err) {
				return nil, errTimedOut
			}

			return nil, err
		}

		resp, err := protocol.ParseResponse(buf[:n])
		if err != nil {
			log.Warn("Discarding unreadable datagram", zap.Error(err))
			continue
		}

		if resp.Type == protocol.RespUpdate {
			c.applyUpdate(resp.Record, log)
			continue
		}

		return resp, nil
	}
}

// listen delivers updates until ctx is done.
func (c *Conn) listen(ctx context.Context, updates chan<- *Update) {
	log := c.log.Named("monitor")

	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()

	if conn == nil {
		return
	}

	stop := context.AfterFunc(ctx, func() {
		_ = conn.SetReadDeadline(time.Now())
	})
	defer stop()

	deadline, _ := ctx.Deadline()
	buf := make([]byte, transport.MaxDatagramSize)

	for ctx.Err() == nil {
		if err := conn.SetReadDeadline(deadline); err != nil {
			log.Warn("Failed to set read deadline", zap.Error(err))
			return
		}

		n, err := conn.Read(buf)
		if err != nil {
			if ctx.Err() == nil && !isTimeout(err) {
				log.Warn("Failed to read update", zap.Error(err))
				return
			}

			break
		}

		resp, err := protocol.ParseResponse(buf[:n])
		if err != nil || resp.Type != protocol.RespUpdate {
			log.Info("Ignoring datagram while monitoring", zap.Int("bytes", n))
			continue
		}

		c.applyUpdate(resp.Record, log)

		select {
		case updates <- &Update{
			Name:         resp.Record.Name,
			Content:      resp.Record.Content,
			LastModified: resp.Record.LastModified,
		}:
		case <-ctx.Done():
			return
		}
	}

	log.Info("Monitoring interval is over")
}

func (c *Conn) applyUpdate(record *protocol.FileRecord, log *zap.Logger) {
	n := c.cache.Refresh(record)
	log.Info("Received update",
		zap.String("filename", record.Name),
		zap.Int("size", record.Size()),
		zap.Int("cacheEntries", n))
}

// drain discards whatever is already queued on conn without blocking.
func (c *Conn) drain(conn *net.UDPConn, log *zap.Logger) {
	buf := make([]byte, transport.MaxDatagramSize)

	for {
		// A deadline already in the past would not even look at the socket
		if err := conn.SetReadDeadline(time.Now().Add(time.Millisecond)); err != nil {
			return
		}

		n, err := conn.Read(buf)
		if err != nil {
			return
		}

		resp, err := protocol.ParseResponse(buf[:n])
		if err == nil && resp.Type == protocol.RespUpdate {
			c.applyUpdate(resp.Record, log)
			continue
		}

		log.Info("Discarding stale reply", zap.Int("bytes", n))
	}
}

func isTimeout(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
