package transport

import (
	"fmt"
	"net"
	"sync"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/luma/dgramfs/internal/metrics"
	"github.com/luma/dgramfs/protocol"
)

// Subscription asks for updates to a file to be pushed to Addr until Expiry.
type Subscription struct {
	Addr   net.Addr
	Expiry time.Time
}

func (s Subscription) expired(now time.Time) bool {
	return now.After(s.Expiry)
}

// Subscriptions tracks which endpoints are monitoring which files.
//
// Expired subscriptions are only pruned when their file is next updated, so
// they can linger in the registry until then.
type Subscriptions struct {
	// filename -> []Subscription, slices are replaced rather than mutated
	subs sync.Map

	// mu serialises writers, readers go straight to subs
	mu sync.Mutex

	sender Sender
	now    func() time.Time
	log    *zap.Logger
}

func NewSubscriptions(sender Sender, now func() time.Time, log *zap.Logger) *Subscriptions {
	return &Subscriptions{
		sender: sender,
		now:    now,
		log:    log,
	}
}

// Subscribe registers addr for updates to filename for the next interval.
func (s *Subscriptions) Subscribe(filename string, addr net.Addr, interval time.Duration) Subscription {
	sub := Subscription{Addr: addr, Expiry: s.now().Add(interval)}

	s.mu.Lock()
	defer s.mu.Unlock()

	current := s.load(filename)
	next := make([]Subscription, 0, len(current)+1)
	next = append(next, current...)
	next = append(next, sub)
	s.subs.Store(filename, next)

	return sub
}

// Notify pushes record to every unexpired subscriber of its file and prunes
// the expired ones. Delivery is best effort, failed sends are returned
// together but nothing is retried. It returns the number of datagrams sent.
func (s *Subscriptions) Notify(record *protocol.FileRecord) (int, error) {
	now := s.now()

	s.mu.Lock()
	current := s.load(record.Name)
	live := make([]Subscription, 0, len(current))
	for _, sub := range current {
		if !sub.expired(now) {
			live = append(live, sub)
		}
	}

	if len(live) == 0 {
		s.subs.Delete(record.Name)
	} else if len(live) != len(current) {
		s.subs.Store(record.Name, live)
	}
	s.mu.Unlock()

	if pruned := len(current) - len(live); pruned > 0 {
		s.log.Debug("Pruned expired subscriptions",
			zap.String("filename", record.Name),
			zap.Int("pruned", pruned))
	}

	if len(live) == 0 {
		return 0, nil
	}

	datagram, err := protocol.UpdateDatagram(record)
	if err != nil {
		return 0, err
	}

	var (
		sent int
		errs error
	)

	for _, sub := range live {
		if _, serr := s.sender.WriteTo(datagram, sub.Addr); serr != nil {
			metrics.RecordNotification(false)
			errs = multierr.Append(errs, fmt.Errorf("notify %s: %w", sub.Addr, serr))
			continue
		}

		metrics.RecordNotification(true)
		sent++
	}

	return sent, errs
}

// Subscribers returns the subscriptions registered for filename, including
// expired ones that have not been pruned yet.
func (s *Subscriptions) Subscribers(filename string) []Subscription {
	current := s.load(filename)
	out := make([]Subscription, len(current))
	copy(out, current)
	return out
}

// Count returns the number of registered subscriptions across all files.
func (s *Subscriptions) Count() int {
	n := 0
	s.subs.Range(func(_, value interface{}) bool {
		n += len(value.([]Subscription))
		return true
	})

	return n
}

func (s *Subscriptions) load(filename string) []Subscription {
	value, ok := s.subs.Load(filename)
	if !ok {
		return nil
	}

	return value.([]Subscription)
}
