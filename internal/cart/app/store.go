package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/dwikikusuma/marketplace-cart/internal/cart/domain"
	"github.com/dwikikusuma/marketplace-cart/pkg/logger"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const finalFlushTimeout = 5 * time.Second

type Options struct {
	// PruneEmpty drops items as soon as their quantity reaches zero. When false
	// a zero-quantity item stays in the cart until it is added again.
	PruneEmpty bool

	Logger *slog.Logger

	// MeterProvider receives the persistence counters. Nil means the global
	// provider.
	MeterProvider metric.MeterProvider
}

type opKind int

const (
	opAdd opKind = iota
	opIncrement
	opDecrement
)

type op struct {
	kind    opKind
	product domain.Product
	id      string
}

// Store owns the in-memory cart and mirrors every change to a CartRepo.
//
// Mutations run under a single lock against the current cart, so concurrent
// callers never overwrite each other. Persistence happens on the goroutine
// running Run: each mutation hands over its snapshot and returns without
// waiting, and bursts collapse into a single write of the newest snapshot.
// Save errors are logged and counted, never returned to the caller.
//
// Until Initialize finishes the store is empty. Mutations made before then are
// kept in a journal and replayed on top of the rehydrated cart.
//
// All methods on a nil *Store return ErrNoStore.
type Store struct {
	repo       CartRepo
	log        *slog.Logger
	pruneEmpty bool

	tracer      trace.Tracer
	persistOK   metric.Int64Counter
	persistFail metric.Int64Counter

	mu          sync.Mutex
	cart        domain.Cart
	initStarted bool
	loaded      bool
	journal     []op

	version        uint64
	pending        domain.Cart
	pendingVersion uint64
	hasPending     bool
	attempted      uint64
	settled        chan struct{}

	kick  chan struct{}
	ready chan struct{}
}

func NewStore(repo CartRepo, opts Options) *Store {
	s := &Store{
		repo:       repo,
		log:        logger.Component(opts.Logger, "cartstore"),
		pruneEmpty: opts.PruneEmpty,
		tracer:     otel.Tracer("cartstore"),
		cart:       domain.Cart{},
		settled:    make(chan struct{}),
		kick:       make(chan struct{}, 1),
		ready:      make(chan struct{}),
	}

	mp := opts.MeterProvider
	if mp == nil {
		mp = otel.GetMeterProvider()
	}
	meter := mp.Meter("cartstore")
	var err error
	if s.persistOK, err = meter.Int64Counter("cart_persist_success_total",
		metric.WithDescription("Cart snapshots written to storage")); err != nil {
		s.log.Warn("failed to register metric", slog.Any("err", err))
	}
	if s.persistFail, err = meter.Int64Counter("cart_persist_failure_total",
		metric.WithDescription("Cart snapshots that failed to write")); err != nil {
		s.log.Warn("failed to register metric", slog.Any("err", err))
	}
	return s
}

// Initialize rehydrates the cart from storage. A missing, malformed or
// unreadable record leaves the cart empty; only cancellation of ctx is
// reported, in which case Initialize may be called again.
func (s *Store) Initialize(ctx context.Context) error {
	if s == nil {
		return ErrNoStore
	}
	s.mu.Lock()
	if s.initStarted {
		s.mu.Unlock()
		return ErrAlreadyInitialized
	}
	s.initStarted = true
	s.mu.Unlock()

	ctx, span := s.tracer.Start(ctx, "cart.initialize")
	defer span.End()

	stored, err := s.repo.Load(ctx)
	switch {
	case err == nil:
	case errors.Is(err, ErrNotFound):
		s.log.Debug("no persisted cart, starting empty")
		stored = nil
	case errors.Is(err, ErrMalformed):
		s.log.Warn("persisted cart is malformed, starting empty", slog.Any("err", err))
		stored = nil
	case ctx.Err() != nil:
		s.mu.Lock()
		s.initStarted = false
		s.mu.Unlock()
		span.RecordError(err)
		return ctx.Err()
	default:
		s.log.Error("load persisted cart failed, starting empty", slog.Any("err", err))
		span.RecordError(err)
		stored = nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	cart := stored.Clone()
	if s.pruneEmpty {
		cart = cart.Prune()
	}
	for _, o := range s.journal {
		cart = s.apply(cart, o)
	}
	replayed := len(s.journal)
	s.journal = nil
	s.cart = cart
	s.loaded = true
	if replayed > 0 {
		s.enqueueLocked()
	}
	close(s.ready)

	span.SetAttributes(
		attribute.Int("app.items", cart.Len()),
		attribute.Int("app.replayed", replayed),
	)
	s.log.Info("cart loaded", slog.Int("items", cart.Len()), slog.Int("replayed", replayed))
	return nil
}

// Ready is closed once Initialize has completed.
func (s *Store) Ready() <-chan struct{} {
	if s == nil {
		ch := make(chan struct{})
		return ch
	}
	return s.ready
}

func (s *Store) Loaded() bool {
	if s == nil {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loaded
}

// Snapshot returns a copy of the current cart in insertion order.
func (s *Store) Snapshot() (domain.Cart, error) {
	if s == nil {
		return nil, ErrNoStore
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cart.Clone(), nil
}

// AddToCart merges p into the cart: a known id gains one unit and takes p's
// fields, an unknown id is appended with quantity 1.
func (s *Store) AddToCart(ctx context.Context, p domain.Product) (domain.Cart, error) {
	if s == nil {
		return nil, ErrNoStore
	}
	if err := p.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	return s.mutate(ctx, "cart.add", op{kind: opAdd, product: p, id: p.ID})
}

// Increment adds one unit to the item with the given id. Unknown ids leave the
// cart unchanged.
func (s *Store) Increment(ctx context.Context, id string) (domain.Cart, error) {
	if s == nil {
		return nil, ErrNoStore
	}
	return s.mutate(ctx, "cart.increment", op{kind: opIncrement, id: id})
}

// Decrement removes one unit from the item with the given id, never going
// below zero.
func (s *Store) Decrement(ctx context.Context, id string) (domain.Cart, error) {
	if s == nil {
		return nil, ErrNoStore
	}
	return s.mutate(ctx, "cart.decrement", op{kind: opDecrement, id: id})
}

func (s *Store) mutate(ctx context.Context, name string, o op) (domain.Cart, error) {
	_, span := s.tracer.Start(ctx, name)
	defer span.End()

	s.mu.Lock()
	defer s.mu.Unlock()

	s.cart = s.apply(s.cart, o)
	s.version++
	if s.loaded {
		s.enqueueLocked()
	} else {
		s.journal = append(s.journal, o)
	}

	qty := 0
	if it, ok := s.cart.Find(o.id); ok {
		qty = it.Quantity
	}
	span.SetAttributes(
		attribute.String("app.product_id", o.id),
		attribute.Int("app.quantity", qty),
		attribute.Bool("app.loaded", s.loaded),
	)
	s.log.Debug("cart updated",
		slog.String("op", name),
		slog.String("product_id", o.id),
		slog.Int("quantity", qty),
		slog.Uint64("version", s.version))

	return s.cart.Clone(), nil
}

func (s *Store) apply(c domain.Cart, o op) domain.Cart {
	switch o.kind {
	case opAdd:
		c = c.Add(o.product)
	case opIncrement:
		c = c.Increment(o.id)
	case opDecrement:
		c = c.Decrement(o.id)
	}
	if s.pruneEmpty {
		c = c.Prune()
	}
	return c
}

// enqueueLocked hands the current cart to the persistence worker, replacing
// any snapshot it has not picked up yet. Callers hold s.mu.
func (s *Store) enqueueLocked() {
	s.pending = s.cart
	s.pendingVersion = s.version
	s.hasPending = true
	select {
	case s.kick <- struct{}{}:
	default:
	}
}

// Run writes queued snapshots until ctx is done, then makes one last attempt
// to write whatever is still queued. It should be started once per store.
func (s *Store) Run(ctx context.Context) error {
	if s == nil {
		return ErrNoStore
	}
	for {
		select {
		case <-ctx.Done():
			s.finalFlush(ctx)
			return nil
		case <-s.kick:
			if ctx.Err() != nil {
				s.finalFlush(ctx)
				return nil
			}
			s.persistPending(ctx, false)
		}
	}
}

func (s *Store) finalFlush(ctx context.Context) {
	flushCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), finalFlushTimeout)
	defer cancel()
	s.persistPending(flushCtx, true)
}

// persistPending writes the queued snapshot. A write cut short by the
// cancellation of ctx is put back in the queue, unless a newer snapshot has
// arrived meanwhile, so the final flush still writes it. The final flush
// itself never requeues.
func (s *Store) persistPending(ctx context.Context, final bool) {
	s.mu.Lock()
	if !s.hasPending {
		s.mu.Unlock()
		return
	}
	cart, version := s.pending, s.pendingVersion
	s.pending = nil
	s.hasPending = false
	s.mu.Unlock()

	ctx, span := s.tracer.Start(ctx, "cart.persist")
	span.SetAttributes(attribute.Int64("app.version", int64(version)))
	err := s.repo.Save(ctx, cart)
	if err != nil && !final && ctx.Err() != nil {
		span.RecordError(err)
		span.End()
		s.mu.Lock()
		if !s.hasPending {
			s.pending = cart
			s.pendingVersion = version
			s.hasPending = true
		}
		s.mu.Unlock()
		s.log.Debug("persist interrupted by shutdown, requeued", slog.Uint64("version", version))
		return
	}
	if err != nil {
		span.RecordError(err)
		s.count(ctx, s.persistFail)
		s.log.Warn("persist cart failed",
			slog.Any("err", err),
			slog.Uint64("version", version))
	} else {
		s.count(ctx, s.persistOK)
	}
	span.End()

	s.mu.Lock()
	if version > s.attempted {
		s.attempted = version
	}
	close(s.settled)
	s.settled = make(chan struct{})
	s.mu.Unlock()
}

func (s *Store) count(ctx context.Context, c metric.Int64Counter) {
	if c != nil {
		c.Add(ctx, 1)
	}
}

// Flush blocks until every change made so far has been handed to storage,
// successfully or not. It relies on Run being active.
func (s *Store) Flush(ctx context.Context) error {
	if s == nil {
		return ErrNoStore
	}
	for {
		s.mu.Lock()
		if !s.loaded || s.attempted >= s.version {
			s.mu.Unlock()
			return nil
		}
		settled := s.settled
		s.mu.Unlock()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-settled:
		}
	}
}
