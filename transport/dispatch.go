package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"go.uber.org/zap"

	"github.com/luma/dgramfs/internal/metrics"
	"github.com/luma/dgramfs/protocol"
	"github.com/luma/dgramfs/storage"
)

var ErrUnknownOpCode = errors.New("Invalid operation code.")

// storeTimeout bounds each store call made while handling one request
const storeTimeout = 3 * time.Second

// Dispatcher turns one request datagram into one response datagram. It
// enforces the configured invocation semantics and drives the store and the
// subscription registry. It never fails, every error becomes an error reply.
type Dispatcher struct {
	semantics protocol.Semantics
	store     storage.Store
	history   *History
	subs      *Subscriptions
	now       func() time.Time
	log       *zap.Logger
	trace     bool
}

func NewDispatcher(
	semantics protocol.Semantics,
	store storage.Store,
	history *History,
	subs *Subscriptions,
	now func() time.Time,
	log *zap.Logger,
) *Dispatcher {
	return &Dispatcher{
		semantics: semantics,
		store:     store,
		history:   history,
		subs:      subs,
		now:       now,
		log:       log,
	}
}

// Handle processes a datagram received from addr and returns the bytes to
// send back.
func (d *Dispatcher) Handle(ctx context.Context, datagram []byte, from net.Addr) []byte {
	req, err := protocol.ParseRequest(datagram)
	if err != nil {
		metrics.RecordMalformed()

		fields := []zap.Field{zap.Stringer("from", from), zap.Error(err)}
		if id, idErr := protocol.ParseRequestID(datagram); idErr == nil {
			fields = append(fields, zap.Stringer("requestID", id))
		}
		d.log.Warn("Failed to parse client request", fields...)

		return protocol.ErrorResponse("Malformed request: " + err.Error())
	}

	log := d.log.With(
		zap.Stringer("requestID", req.ID),
		zap.Stringer("op", req.Op),
		zap.String("filename", req.Filename),
		zap.Stringer("from", from))

	if d.semantics == protocol.AtMostOnce {
		if resp, ok := d.history.Replay(req.ID); ok {
			metrics.RecordReplay()
			log.Info("Duplicate request, replaying cached response")
			return resp
		}

		d.history.Record(req.ID)
		metrics.SetHistoryEntries(d.history.Len())
	}

	resp, err := d.dispatch(ctx, req, from, log)
	metrics.RecordRequest(req.Op.String(), err == nil)

	if err != nil {
		log.Info("Request failed", zap.Error(err))
		resp = protocol.ErrorResponse(errorMessage(req.Op, err))
	} else if d.trace {
		log.Debug("Request handled", zap.ByteString("response", resp))
	}

	if d.semantics == protocol.AtMostOnce {
		d.history.Cache(req.ID, resp)
	}

	return resp
}

func (d *Dispatcher) dispatch(ctx context.Context, req *protocol.Request, from net.Addr, log *zap.Logger) ([]byte, error) {
	if !req.Op.Known() {
		return nil, ErrUnknownOpCode
	}

	if err := req.Validate(); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, storeTimeout)
	defer cancel()

	switch req.Op {
	case protocol.OpRead:
		return d.read(ctx, req)

	case protocol.OpInsert:
		return d.mutate(ctx, req, log, func(record *protocol.FileRecord) error {
			return storage.UpdateContent(record, int(req.Offset), string(req.Payload), d.now())
		}, protocol.MsgInsertOk)

	case protocol.OpMonitor:
		return d.monitor(req, from, log)

	case protocol.OpGetInfo:
		return d.getInfo(ctx, req)

	case protocol.OpAppend:
		return d.mutate(ctx, req, log, func(record *protocol.FileRecord) error {
			return storage.AppendContent(record, string(req.Payload), d.now())
		}, protocol.MsgAppendOk)
	}

	return nil, ErrUnknownOpCode
}

func (d *Dispatcher) read(ctx context.Context, req *protocol.Request) ([]byte, error) {
	length, err := req.ReadLength()
	if err != nil {
		return nil, err
	}

	record, err := d.store.Read(ctx, req.Filename)
	if err != nil {
		return nil, err
	}

	content, err := storage.GetContent(record, int(req.Offset), length)
	if err != nil {
		return nil, err
	}

	return protocol.StringResponse(content), nil
}

func (d *Dispatcher) getInfo(ctx context.Context, req *protocol.Request) ([]byte, error) {
	record, err := d.store.Read(ctx, req.Filename)
	if err != nil {
		return nil, err
	}

	return protocol.StringResponse(protocol.FormatFileInfo(record)), nil
}

func (d *Dispatcher) monitor(req *protocol.Request, from net.Addr, log *zap.Logger) ([]byte, error) {
	sub := d.subs.Subscribe(req.Filename, from, req.MonitorInterval())

	log.Info("Registered monitor", zap.Time("expiry", sub.Expiry))

	return protocol.StringResponse(protocol.MsgMonitorOk), nil
}

// mutate reads the file, applies change, writes it back and then tells any
// monitoring clients about the new content.
func (d *Dispatcher) mutate(
	ctx context.Context,
	req *protocol.Request,
	log *zap.Logger,
	change func(*protocol.FileRecord) error,
	okMsg string,
) ([]byte, error) {
	record, err := d.store.Read(ctx, req.Filename)
	if err != nil {
		return nil, err
	}

	if err := change(record); err != nil {
		return nil, err
	}

	if err := d.store.Write(ctx, req.Filename, record); err != nil {
		return nil, fmt.Errorf("Failed to persist %s: %w", req.Filename, err)
	}

	sent, err := d.subs.Notify(record)
	if err != nil {
		log.Warn("Failed to notify some subscribers", zap.Int("sent", sent), zap.Error(err))
	} else if sent > 0 {
		log.Info("Notified subscribers", zap.Int("sent", sent))
	}

	return protocol.StringResponse(okMsg), nil
}

// errorMessage renders err for the client. Domain errors are sent as they are,
// anything else is prefixed with the operation that failed.
func errorMessage(op protocol.OpCode, err error) string {
	switch {
	case errors.Is(err, storage.ErrNotFound), errors.Is(err, ErrUnknownOpCode):
		return err.Error()
	default:
		return fmt.Sprintf("Error during %s operation: %s", op, err)
	}
}
