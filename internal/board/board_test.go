package board

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"taskboard/internal/domain"
)

func task(id string, s domain.Status, pos int) domain.Task {
	return domain.Task{ID: id, Status: s, Position: pos}
}

func ids(col Column) []string {
	out := make([]string, 0, len(col))
	for _, t := range col {
		out = append(out, t.ID)
	}
	return out
}

func positions(col Column) []int {
	out := make([]int, 0, len(col))
	for _, t := range col {
		out = append(out, t.Position)
	}
	return out
}

func loc(s domain.Status, i int) *Location {
	return &Location{Status: s, Index: i}
}

func TestIngestEmpty(t *testing.T) {
	b, err := Ingest(nil)
	require.NoError(t, err)
	for _, s := range domain.Statuses() {
		col := b.Column(s)
		assert.NotNil(t, col, "column %s must be present", s)
		assert.Empty(t, col)
	}
	assert.Equal(t, 0, b.Count())
}

func TestIngestPartitionsAndSorts(t *testing.T) {
	in := []domain.Task{
		task("a", domain.Todo, 3000),
		task("b", domain.Done, 10),
		task("c", domain.Todo, 1000),
		task("d", domain.Backlog, 5),
		task("e", domain.Todo, 2000),
	}
	b, err := Ingest(in)
	require.NoError(t, err)

	assert.Equal(t, []string{"c", "e", "a"}, ids(b.Column(domain.Todo)))
	assert.Equal(t, []string{"b"}, ids(b.Column(domain.Done)))
	assert.Equal(t, []string{"d"}, ids(b.Column(domain.Backlog)))
	assert.Empty(t, b.Column(domain.InProgress))
	assert.Empty(t, b.Column(domain.InReview))
	assert.Equal(t, len(in), b.Count())
	assert.Equal(t, map[domain.Status]int{
		domain.Backlog: 1, domain.Todo: 3, domain.InProgress: 0, domain.InReview: 0, domain.Done: 1,
	}, b.Counts())

	// input untouched
	assert.Equal(t, "a", in[0].ID)
}

func TestIngestTiesKeepInputOrder(t *testing.T) {
	in := []domain.Task{
		task("x", domain.InReview, 500),
		task("y", domain.InReview, 100),
		task("z", domain.InReview, 500),
		task("w", domain.InReview, 500),
	}
	b, err := Ingest(in)
	require.NoError(t, err)
	assert.Equal(t, []string{"y", "x", "z", "w"}, ids(b.Column(domain.InReview)))
}

func TestIngestRejectsUnknownStatus(t *testing.T) {
	in := []domain.Task{
		task("ok", domain.Todo, 1),
		{ID: "bad", Status: domain.Status(42), Position: 1},
	}
	_, err := Ingest(in)
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrUnknownStatus))
	assert.Contains(t, err.Error(), "bad")
}

func TestColumnReturnsCopy(t *testing.T) {
	b, err := Ingest([]domain.Task{task("a", domain.Todo, 1000)})
	require.NoError(t, err)
	col := b.Column(domain.Todo)
	col[0].Position = 7
	assert.Equal(t, 1000, b.Column(domain.Todo)[0].Position)
	assert.Nil(t, b.Column(domain.Status(99)))
}

func TestMoveAcrossColumns(t *testing.T) {
	b, err := Ingest([]domain.Task{
		task("A", domain.Todo, 1000),
		task("B", domain.Todo, 2000),
	})
	require.NoError(t, err)

	next, cs := Move(b, Location{Status: domain.Todo, Index: 0}, loc(domain.InProgress, 0))

	dest := next.Column(domain.InProgress)
	require.Len(t, dest, 1)
	assert.Equal(t, "A", dest[0].ID)
	assert.Equal(t, domain.InProgress, dest[0].Status)
	assert.Equal(t, 1000, dest[0].Position)

	src := next.Column(domain.Todo)
	require.Len(t, src, 1)
	assert.Equal(t, "B", src[0].ID)
	assert.Equal(t, 1000, src[0].Position)

	assert.Equal(t, ChangeSet{
		{ID: "A", Status: domain.InProgress, Position: 1000},
		{ID: "B", Status: domain.Todo, Position: 1000},
	}, cs)

	// the input board is not modified
	assert.Equal(t, []int{1000, 2000}, positions(b.Column(domain.Todo)))
	assert.Empty(t, b.Column(domain.InProgress))
}

func TestMoveWithinColumn(t *testing.T) {
	b, err := Ingest([]domain.Task{
		task("A", domain.Todo, 1000),
		task("B", domain.Todo, 2000),
		task("C", domain.Todo, 3000),
	})
	require.NoError(t, err)

	next, cs := Move(b, Location{Status: domain.Todo, Index: 2}, loc(domain.Todo, 0))

	col := next.Column(domain.Todo)
	assert.Equal(t, []string{"C", "A", "B"}, ids(col))
	assert.Equal(t, []int{1000, 2000, 3000}, positions(col))
	assert.Equal(t, ChangeSet{
		{ID: "C", Status: domain.Todo, Position: 1000},
		{ID: "A", Status: domain.Todo, Position: 2000},
		{ID: "B", Status: domain.Todo, Position: 3000},
	}, cs)
}

func TestMoveSkipsUnchangedNeighbours(t *testing.T) {
	b, err := Ingest([]domain.Task{
		task("A", domain.Todo, 1000),
		task("B", domain.Todo, 2000),
		task("C", domain.Todo, 3000),
		task("D", domain.Todo, 4000),
	})
	require.NoError(t, err)

	next, cs := Move(b, Location{Status: domain.Todo, Index: 2}, loc(domain.Todo, 1))

	assert.Equal(t, []string{"A", "C", "B", "D"}, ids(next.Column(domain.Todo)))
	assert.Equal(t, ChangeSet{
		{ID: "C", Status: domain.Todo, Position: 2000},
		{ID: "B", Status: domain.Todo, Position: 3000},
	}, cs)
}

func TestMoveInPlaceStillReportsMovedTask(t *testing.T) {
	b, err := Ingest([]domain.Task{
		task("A", domain.Done, 1000),
		task("B", domain.Done, 2000),
	})
	require.NoError(t, err)

	_, cs := Move(b, Location{Status: domain.Done, Index: 1}, loc(domain.Done, 1))
	assert.Equal(t, ChangeSet{{ID: "B", Status: domain.Done, Position: 2000}}, cs)
}

func TestMoveCancelled(t *testing.T) {
	b, err := Ingest([]domain.Task{task("A", domain.Todo, 1000)})
	require.NoError(t, err)

	next, cs := Move(b, Location{Status: domain.Todo, Index: 0}, nil)
	assert.Nil(t, cs)
	assert.Equal(t, b, next)
}

func TestMoveStaleSourceIndex(t *testing.T) {
	b, err := Ingest([]domain.Task{task("A", domain.Todo, 1000)})
	require.NoError(t, err)

	for _, idx := range []int{1, 5, -1} {
		next, cs := Move(b, Location{Status: domain.Todo, Index: idx}, loc(domain.Done, 0))
		assert.Nil(t, cs, "index %d", idx)
		assert.Equal(t, b, next, "index %d", idx)
	}
	next, cs := Move(b, Location{Status: domain.InReview, Index: 0}, loc(domain.Done, 0))
	assert.Nil(t, cs)
	assert.Equal(t, b, next)
}

func TestMoveClampsDestinationIndex(t *testing.T) {
	b, err := Ingest([]domain.Task{
		task("A", domain.Todo, 1000),
		task("X", domain.Done, 1000),
	})
	require.NoError(t, err)

	next, cs := Move(b, Location{Status: domain.Todo, Index: 0}, loc(domain.Done, 99))
	assert.Equal(t, []string{"X", "A"}, ids(next.Column(domain.Done)))
	assert.Equal(t, ChangeSet{{ID: "A", Status: domain.Done, Position: 2000}}, cs)

	next, _ = Move(b, Location{Status: domain.Todo, Index: 0}, loc(domain.Done, -3))
	assert.Equal(t, []string{"A", "X"}, ids(next.Column(domain.Done)))
}

func TestMoveRenumbersLegacyPositions(t *testing.T) {
	b, err := Ingest([]domain.Task{
		task("A", domain.Backlog, 5),
		task("B", domain.Backlog, 5),
		task("C", domain.Backlog, 17),
		task("D", domain.InReview, 999_999_999),
	})
	require.NoError(t, err)

	next, cs := Move(b, Location{Status: domain.InReview, Index: 0}, loc(domain.Backlog, 3))
	assert.Equal(t, []string{"A", "B", "C", "D"}, ids(next.Column(domain.Backlog)))
	assert.Equal(t, []int{1000, 2000, 3000, 4000}, positions(next.Column(domain.Backlog)))
	assert.Equal(t, ChangeSet{
		{ID: "D", Status: domain.Backlog, Position: 4000},
		{ID: "A", Status: domain.Backlog, Position: 1000},
		{ID: "B", Status: domain.Backlog, Position: 2000},
		{ID: "C", Status: domain.Backlog, Position: 3000},
	}, cs)
	assert.Empty(t, next.Column(domain.InReview))
}

func TestPositionAtCaps(t *testing.T) {
	assert.Equal(t, 1000, PositionAt(0))
	assert.Equal(t, 1_000_000, PositionAt(999))
	assert.Equal(t, MaxPosition, PositionAt(1000))
	assert.Equal(t, MaxPosition, PositionAt(5000))
}

func TestApplyIsIdempotent(t *testing.T) {
	tasks := []domain.Task{task("A", domain.Todo, 1000), task("B", domain.Todo, 2000)}
	cs := ChangeSet{
		{ID: "A", Status: domain.Done, Position: 1000},
		{ID: "missing", Status: domain.Done, Position: 2000},
	}
	once := Apply(tasks, cs)
	twice := Apply(once, cs)
	assert.Equal(t, once, twice)
	assert.Equal(t, domain.Done, once[0].Status)
	assert.Equal(t, domain.Todo, tasks[0].Status, "input must not change")
}
