// Package broadcast fans snapshots out to live subscribers.
package broadcast

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"pmboard/internal/model"
)

// ErrSubscriberClosed is returned by Send after Close.
var ErrSubscriberClosed = errors.New("subscriber closed")

// Kind tags a pushed message.
type Kind string

const (
	KindSnapshot  Kind = "snapshot"
	KindHeartbeat Kind = "heartbeat"
)

// Message is one push to subscribers. Snapshot is set for both kinds so
// late renderers always have data, but heartbeats carry no change.
type Message struct {
	Kind     Kind
	Snapshot *model.Snapshot
	At       time.Time
}

// Subscriber is a live connection owned by the hub once added.
type Subscriber interface {
	ID() string
	Transport() string
	Send(ctx context.Context, msg Message) error
	Close() error
}

// Observer is notified of registry changes. Implemented by the metrics recorder.
type Observer interface {
	SubscriberAdded(transport string)
	SubscriberRemoved(transport string, dropped bool)
	MessageBroadcast(kind string)
}

type nopObserver struct{}

func (nopObserver) SubscriberAdded(string)         {}
func (nopObserver) SubscriberRemoved(string, bool) {}
func (nopObserver) MessageBroadcast(string)        {}

// Hub is a concurrency-safe set of subscribers.
type Hub struct {
	writeTimeout time.Duration
	parallelism  int
	logger       zerolog.Logger
	observer     Observer

	mu   sync.RWMutex
	subs map[string]Subscriber
}

// HubOptions tune delivery.
type HubOptions struct {
	WriteTimeout time.Duration
	// Parallelism bounds concurrent sends per broadcast. Zero means 64.
	Parallelism int
	Observer    Observer
}

// NewHub constructs an empty hub.
func NewHub(opts HubOptions, logger zerolog.Logger) *Hub {
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = 5 * time.Second
	}
	if opts.Parallelism <= 0 {
		opts.Parallelism = 64
	}
	if opts.Observer == nil {
		opts.Observer = nopObserver{}
	}
	return &Hub{
		writeTimeout: opts.WriteTimeout,
		parallelism:  opts.Parallelism,
		logger:       logger.With().Str("component", "hub").Logger(),
		observer:     opts.Observer,
		subs:         make(map[string]Subscriber),
	}
}

// Add registers s.
func (h *Hub) Add(s Subscriber) {
	h.mu.Lock()
	h.subs[s.ID()] = s
	n := len(h.subs)
	h.mu.Unlock()

	h.observer.SubscriberAdded(s.Transport())
	h.logger.Debug().Str("subscriber", s.ID()).Str("transport", s.Transport()).Int("subscribers", n).Msg("subscriber joined")
}

// Remove unregisters the subscriber with id and closes it. It reports whether it was present.
func (h *Hub) Remove(id string) bool {
	return h.remove(id, false)
}

func (h *Hub) remove(id string, dropped bool) bool {
	h.mu.Lock()
	s, ok := h.subs[id]
	delete(h.subs, id)
	h.mu.Unlock()
	if !ok {
		return false
	}

	if err := s.Close(); err != nil {
		h.logger.Debug().Err(err).Str("subscriber", id).Msg("close subscriber")
	}
	h.observer.SubscriberRemoved(s.Transport(), dropped)
	return true
}

// Len returns the number of registered subscribers.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Send delivers msg to a single subscriber, dropping it on failure.
func (h *Hub) Send(ctx context.Context, s Subscriber, msg Message) error {
	sendCtx, cancel := context.WithTimeout(ctx, h.writeTimeout)
	defer cancel()

	if err := s.Send(sendCtx, msg); err != nil {
		h.logger.Info().Err(err).Str("subscriber", s.ID()).Msg("dropping subscriber after failed send")
		h.remove(s.ID(), true)
		return err
	}
	return nil
}

// Broadcast delivers msg to every subscriber concurrently. A failed or slow
// subscriber is removed without delaying the others past the write timeout.
// It returns how many subscribers received the message.
func (h *Hub) Broadcast(ctx context.Context, msg Message) int {
	h.mu.RLock()
	targets := make([]Subscriber, 0, len(h.subs))
	for _, s := range h.subs {
		targets = append(targets, s)
	}
	h.mu.RUnlock()

	h.observer.MessageBroadcast(string(msg.Kind))
	if len(targets) == 0 {
		return 0
	}

	var (
		mu        sync.Mutex
		delivered int
	)
	var g errgroup.Group
	g.SetLimit(h.parallelism)
	for _, s := range targets {
		g.Go(func() error {
			if err := h.Send(ctx, s, msg); err != nil {
				return nil
			}
			mu.Lock()
			delivered++
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	h.logger.Debug().Str("kind", string(msg.Kind)).Int("delivered", delivered).Int("targets", len(targets)).Msg("broadcast complete")
	return delivered
}

// CloseAll removes and closes every subscriber.
func (h *Hub) CloseAll() {
	h.mu.RLock()
	ids := make([]string, 0, len(h.subs))
	for id := range h.subs {
		ids = append(ids, id)
	}
	h.mu.RUnlock()

	for _, id := range ids {
		h.remove(id, false)
	}
}
