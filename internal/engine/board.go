package engine

import (
	"context"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"taskboard/internal/board"
	"taskboard/internal/domain"
	"taskboard/internal/events"
)

type actorKey struct{}

func withActor(ctx context.Context, actorID string) context.Context {
	return context.WithValue(ctx, actorKey{}, actorID)
}

func actorFrom(ctx context.Context) string {
	v, _ := ctx.Value(actorKey{}).(string)
	return v
}

// registry holds one board session per project.
type registry struct {
	mu       sync.Mutex
	sessions map[string]*board.Session
}

func newRegistry() *registry {
	return &registry{sessions: map[string]*board.Session{}}
}

func (r *registry) get(projectID string) *board.Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sessions[projectID]
}

func (r *registry) getOrCreate(projectID string, create func() (*board.Session, error)) (*board.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.sessions[projectID]; ok {
		return s, nil
	}
	s, err := create()
	if err != nil {
		return nil, err
	}
	r.sessions[projectID] = s
	return s, nil
}

func (r *registry) drop(projectID string) {
	r.mu.Lock()
	s := r.sessions[projectID]
	delete(r.sessions, projectID)
	r.mu.Unlock()
	if s != nil {
		s.Close()
	}
}

func (r *registry) closeAll() {
	r.mu.Lock()
	sessions := r.sessions
	r.sessions = map[string]*board.Session{}
	r.mu.Unlock()
	for _, s := range sessions {
		s.Close()
	}
}

func (e Engine) session(ctx context.Context, projectID string) (*board.Session, error) {
	if _, err := e.GetProject(ctx, projectID); err != nil {
		return nil, err
	}
	return e.boards.getOrCreate(projectID, func() (*board.Session, error) {
		log := e.Log.WithField("project_id", projectID)
		// Sessions re-ingest from SQLite, never from the cache.
		src := board.SourceFunc(func(ctx context.Context) ([]domain.Task, error) {
			return e.listProjectTasks(ctx, projectID)
		})
		persist := board.PersisterFunc(func(ctx context.Context, cs board.ChangeSet) error {
			return e.applyChanges(ctx, projectID, cs, events.BoardMoved, actorFrom(ctx))
		})
		return board.NewSession(ctx, src, persist,
			board.WithLogger(log),
			board.WithTimeout(e.Config.Board.PersistTimeout),
			board.WithQueueSize(e.Config.Board.QueueSize),
		)
	})
}

// Board returns the project's board, from its live session when one is open.
func (e Engine) Board(ctx context.Context, projectID string) (board.Board, error) {
	if s := e.boards.get(projectID); s != nil {
		return s.Board(), nil
	}
	if _, err := e.GetProject(ctx, projectID); err != nil {
		return board.Board{}, err
	}
	tasks, err := e.Cache.ListTasks(ctx, projectID)
	if err != nil {
		return board.Board{}, err
	}
	return board.Ingest(tasks)
}

// TaskCounts reports how many tasks each column holds, straight from the store.
func (e Engine) TaskCounts(ctx context.Context, projectID string) (map[domain.Status]int, error) {
	if _, err := e.GetProject(ctx, projectID); err != nil {
		return nil, err
	}
	return e.Repo.CountTasksByStatus(ctx, projectID)
}

// MoveTask applies a drag to the project's board and waits for it to be
// written. A nil destination or stale source is a no-op with an empty
// change-set. When the write fails the returned board still shows the move
// and the error wraps ErrPersistFailed.
func (e Engine) MoveTask(ctx context.Context, projectID string, src board.Location, dst *board.Location, actorID string) (board.Board, board.ChangeSet, error) {
	s, err := e.session(ctx, projectID)
	if err != nil {
		return board.Board{}, nil, err
	}
	cs, done := s.Move(withActor(ctx, actorID), src, dst)
	select {
	case err := <-done:
		if err != nil && len(cs) == 0 {
			// Never queued: the session closed or ctx ended first.
			return s.Board(), nil, err
		}
		if err != nil {
			return s.Board(), cs, fmt.Errorf("%w: %w", ErrPersistFailed, err)
		}
	case <-ctx.Done():
		return s.Board(), cs, ctx.Err()
	}
	if len(cs) > 0 {
		e.Log.WithFields(logrus.Fields{
			"project_id": projectID,
			"task_id":    cs[0].ID,
			"status":     cs[0].Status.String(),
			"changes":    len(cs),
		}).Debug("task moved")
	}
	return s.Board(), cs, nil
}

// BulkUpdate writes externally computed status and position instructions in
// one transaction and re-ingests the project's board.
func (e Engine) BulkUpdate(ctx context.Context, projectID string, cs board.ChangeSet, actorID string) error {
	if len(cs) == 0 {
		return invalid("at least one task update is required")
	}
	for _, c := range cs {
		if c.ID == "" {
			return invalid("task id is required")
		}
		if !c.Status.Valid() {
			return fmt.Errorf("%w: task %s: %w: %d", ErrInvalid, c.ID, domain.ErrUnknownStatus, int(c.Status))
		}
		if c.Position <= 0 || c.Position > board.MaxPosition {
			return invalid("task %s: position %d out of range (0, %d]", c.ID, c.Position, board.MaxPosition)
		}
	}
	if _, err := e.GetProject(ctx, projectID); err != nil {
		return err
	}
	if err := e.applyChanges(ctx, projectID, cs, events.TasksBulkUpdated, actorID); err != nil {
		return err
	}
	if s := e.boards.get(projectID); s != nil {
		if err := s.Refresh(ctx); err != nil {
			e.Log.WithError(err).WithField("project_id", projectID).Warn("board refresh failed")
		}
	}
	return nil
}

func (e Engine) applyChanges(ctx context.Context, projectID string, cs board.ChangeSet, evtType, actorID string) error {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := e.Repo.BulkUpdateTasks(ctx, tx, projectID, e.timestamp(), cs); err != nil {
		return err
	}
	if err := e.Events.Append(ctx, tx, evtType, projectID, "project", projectID, actorID, events.Payload{"changes": cs}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	e.Cache.Invalidate(ctx, projectID)
	return nil
}
