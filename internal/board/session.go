package board

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"taskboard/internal/domain"
)

// ErrSessionClosed is reported for moves made after Close.
var ErrSessionClosed = errors.New("board session closed")

// Source supplies the authoritative task list for one board.
type Source interface {
	ListTasks(ctx context.Context) ([]domain.Task, error)
}

// Persister applies a change-set to the authoritative store.
type Persister interface {
	ApplyChanges(ctx context.Context, cs ChangeSet) error
}

// SourceFunc adapts a function to Source.
type SourceFunc func(ctx context.Context) ([]domain.Task, error)

func (f SourceFunc) ListTasks(ctx context.Context) ([]domain.Task, error) { return f(ctx) }

// PersisterFunc adapts a function to Persister.
type PersisterFunc func(ctx context.Context, cs ChangeSet) error

func (f PersisterFunc) ApplyChanges(ctx context.Context, cs ChangeSet) error { return f(ctx, cs) }

type job struct {
	ctx     context.Context
	changes ChangeSet
	done    chan error
}

// Session owns one board. Moves update the board immediately and are written
// through a single worker in submission order, so persistence round-trips never
// interleave. After each successful write the board is rebuilt from the source.
type Session struct {
	source    Source
	persister Persister
	log       logrus.FieldLogger
	timeout   time.Duration

	// enqueue serializes apply+enqueue so queue order matches apply order.
	enqueue sync.Mutex

	mu      sync.Mutex
	board   Board
	pending int
	closed  bool

	queue chan job
	wg    sync.WaitGroup
}

type Option func(*Session)

// WithLogger sets the session logger.
func WithLogger(l logrus.FieldLogger) Option {
	return func(s *Session) { s.log = l }
}

// WithTimeout bounds each persist+refresh round-trip.
func WithTimeout(d time.Duration) Option {
	return func(s *Session) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// WithQueueSize sets how many moves may wait for the worker.
func WithQueueSize(n int) Option {
	return func(s *Session) {
		if n > 0 {
			s.queue = make(chan job, n)
		}
	}
}

// NewSession loads the board from src and starts the write worker.
func NewSession(ctx context.Context, src Source, p Persister, opts ...Option) (*Session, error) {
	s := &Session{
		source:    src,
		persister: p,
		log:       logrus.StandardLogger(),
		timeout:   10 * time.Second,
		queue:     make(chan job, 64),
	}
	for _, opt := range opts {
		opt(s)
	}
	tasks, err := src.ListTasks(ctx)
	if err != nil {
		return nil, err
	}
	b, err := Ingest(tasks)
	if err != nil {
		return nil, err
	}
	s.board = b
	s.wg.Add(1)
	go s.run()
	return s, nil
}

// Board returns the current, possibly optimistic, board.
func (s *Session) Board() Board {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.board
}

// Move applies the drag locally and queues its change-set. The returned
// channel receives the persistence outcome once and is then closed. No-op
// moves return an empty change-set and an already-closed channel.
// The write sees ctx's values but not its cancellation. If ctx ends while the
// queue is full the move is undone and ctx's error is reported.
func (s *Session) Move(ctx context.Context, src Location, dst *Location) (ChangeSet, <-chan error) {
	done := make(chan error, 1)

	s.enqueue.Lock()
	defer s.enqueue.Unlock()

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		done <- ErrSessionClosed
		close(done)
		return nil, done
	}
	prev := s.board
	next, cs := Move(prev, src, dst)
	if len(cs) == 0 {
		s.mu.Unlock()
		close(done)
		return nil, done
	}
	s.board = next
	s.pending++
	s.mu.Unlock()

	select {
	case s.queue <- job{ctx: context.WithoutCancel(ctx), changes: cs, done: done}:
		return cs, done
	case <-ctx.Done():
	}
	// The worker only replaces the board when nothing is pending, and enqueue
	// is held, so the board is still next unless Refresh ran.
	s.mu.Lock()
	s.board = prev
	s.pending--
	s.mu.Unlock()
	done <- ctx.Err()
	close(done)
	return nil, done
}

// Refresh discards local state and rebuilds the board from the source.
func (s *Session) Refresh(ctx context.Context) error {
	b, err := s.load(ctx)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.board = b
	s.mu.Unlock()
	return nil
}

// Close stops accepting moves and waits for queued ones to be written.
func (s *Session) Close() {
	s.enqueue.Lock()
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		s.enqueue.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()
	close(s.queue)
	s.enqueue.Unlock()
	s.wg.Wait()
}

func (s *Session) load(ctx context.Context) (Board, error) {
	tasks, err := s.source.ListTasks(ctx)
	if err != nil {
		return Board{}, err
	}
	return Ingest(tasks)
}

func (s *Session) run() {
	defer s.wg.Done()
	for j := range s.queue {
		err := s.persist(j.ctx, j.changes)
		if err != nil {
			s.log.WithError(err).WithField("changes", len(j.changes)).Warn("board: persist failed, keeping local board")
		}
		j.done <- err
		close(j.done)
	}
}

func (s *Session) persist(parent context.Context, cs ChangeSet) error {
	ctx, cancel := context.WithTimeout(parent, s.timeout)
	defer cancel()
	err := s.persister.ApplyChanges(ctx, cs)

	s.mu.Lock()
	s.pending--
	s.mu.Unlock()
	if err != nil {
		return err
	}

	b, lerr := s.load(ctx)
	if lerr != nil {
		s.log.WithError(lerr).Warn("board: refresh after persist failed")
		return nil
	}
	s.mu.Lock()
	// Moves applied after this one are still in flight; their own write
	// refreshes the board.
	if s.pending == 0 {
		s.board = b
	}
	s.mu.Unlock()
	return nil
}
