package whiteboard

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRegistry(t *testing.T) (*Registry, *recordingTerminator, *recordingEmitter) {
	t.Helper()
	events := &recordingEmitter{}
	r := NewRegistry(NewGormSessionStore(setupTestDB(t)), WithEventEmitter(events))
	term := &recordingTerminator{}
	r.SetTerminator(term)
	return r, term, events
}

func TestRegistry_Create(t *testing.T) {
	ctx := context.Background()
	r, _, events := newTestRegistry(t)

	s, err := r.Create(ctx, teacher, class5, "  ")
	require.NoError(t, err)
	assert.NotEmpty(t, s.ID)
	assert.Equal(t, StatusActive, s.Status)
	assert.Equal(t, DefaultSessionName, s.Name)
	assert.Equal(t, teacher.UserID, s.CreatorID)
	assert.Nil(t, s.EndedAt)
	assert.Equal(t, []string{EventSessionCreated}, events.types())

	t.Run("one active session per class", func(t *testing.T) {
		_, err := r.Create(ctx, admin, class5, "second")
		assert.ErrorIs(t, err, ErrConflict)
	})

	t.Run("forbidden for students and foreign teachers", func(t *testing.T) {
		_, err := r.Create(ctx, studentA, class5, "")
		assert.ErrorIs(t, err, ErrForbidden)
		_, err = r.Create(ctx, otherTeacher, class5, "")
		assert.ErrorIs(t, err, ErrForbidden)
	})

	t.Run("spoofing names are malformed", func(t *testing.T) {
		_, err := r.Create(ctx, admin, ClassRef{ClassID: "class-7", CentreID: "centre-1"}, "Quiz\u202Eanswers")
		assert.ErrorIs(t, err, ErrMalformedMessage)
	})

	t.Run("class is free again once ended", func(t *testing.T) {
		_, err := r.End(ctx, s.ID, teacher)
		require.NoError(t, err)
		again, err := r.Create(ctx, teacher, class5, "Fractions")
		require.NoError(t, err)
		assert.Equal(t, "Fractions", again.Name)
		assert.NotEqual(t, s.ID, again.ID)
	})
}

func TestRegistry_AuthorizeJoin(t *testing.T) {
	ctx := context.Background()
	r, _, _ := newTestRegistry(t)

	s, err := r.Create(ctx, teacher, class5, "")
	require.NoError(t, err)

	_, err = r.AuthorizeJoin(ctx, s.ID, studentA)
	assert.NoError(t, err)

	_, err = r.AuthorizeJoin(ctx, s.ID, outsider)
	assert.ErrorIs(t, err, ErrForbidden)

	_, err = r.AuthorizeJoin(ctx, s.ID, parent)
	assert.ErrorIs(t, err, ErrForbidden)

	_, err = r.AuthorizeJoin(ctx, "missing", studentA)
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = r.End(ctx, s.ID, teacher)
	require.NoError(t, err)

	// Ended is reported before forbidden.
	_, err = r.AuthorizeJoin(ctx, s.ID, studentA)
	assert.ErrorIs(t, err, ErrAlreadyEnded)
	_, err = r.AuthorizeJoin(ctx, s.ID, outsider)
	assert.ErrorIs(t, err, ErrAlreadyEnded)
}

func TestRegistry_End(t *testing.T) {
	ctx := context.Background()
	r, term, events := newTestRegistry(t)

	s, err := r.Create(ctx, teacher, class5, "")
	require.NoError(t, err)

	_, err = r.End(ctx, s.ID, studentA)
	assert.ErrorIs(t, err, ErrForbidden)
	_, err = r.End(ctx, "missing", teacher)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Empty(t, term.calls())

	ended, err := r.End(ctx, s.ID, manager)
	require.NoError(t, err)
	assert.Equal(t, StatusEnded, ended.Status)
	require.NotNil(t, ended.EndedAt)
	assert.False(t, ended.EndedAt.Before(ended.CreatedAt))
	assert.NotNil(t, ended.DurationMinutes())
	assert.Equal(t, []string{s.ID}, term.calls())
	assert.Equal(t, []string{EventSessionCreated, EventSessionEnded}, events.types())

	_, err = r.End(ctx, s.ID, teacher)
	assert.ErrorIs(t, err, ErrAlreadyEnded)
	assert.Len(t, term.calls(), 1)
}

func TestRegistry_EndConcurrentOnlyOneWins(t *testing.T) {
	ctx := context.Background()
	r, term, _ := newTestRegistry(t)

	s, err := r.Create(ctx, teacher, class5, "")
	require.NoError(t, err)

	const callers = 8
	var wg sync.WaitGroup
	results := make(chan error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := r.End(ctx, s.ID, admin)
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	wins := 0
	for err := range results {
		if err == nil {
			wins++
			continue
		}
		assert.ErrorIs(t, err, ErrAlreadyEnded)
	}
	assert.Equal(t, 1, wins)
	assert.Len(t, term.calls(), 1)
}

func TestRegistry_ListVisible(t *testing.T) {
	ctx := context.Background()
	r, _, _ := newTestRegistry(t)

	s5, err := r.Create(ctx, teacher, class5, "")
	require.NoError(t, err)
	s9, err := r.Create(ctx, otherTeacher, ClassRef{ClassID: "class-9", CentreID: "centre-2"}, "")
	require.NoError(t, err)
	_, err = r.End(ctx, s9.ID, otherTeacher)
	require.NoError(t, err)

	ids := func(ss []Session) []string {
		out := make([]string, 0, len(ss))
		for _, s := range ss {
			out = append(out, s.ID)
		}
		return out
	}

	all, err := r.ListVisible(ctx, admin, false)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{s5.ID, s9.ID}, ids(all))

	active, err := r.ListVisible(ctx, admin, true)
	require.NoError(t, err)
	assert.Equal(t, []string{s5.ID}, ids(active))

	mgr, err := r.ListVisible(ctx, manager, false)
	require.NoError(t, err)
	assert.Equal(t, []string{s5.ID}, ids(mgr))

	tch, err := r.ListVisible(ctx, otherTeacher, false)
	require.NoError(t, err)
	assert.Equal(t, []string{s9.ID}, ids(tch))

	stu, err := r.ListVisible(ctx, studentA, false)
	require.NoError(t, err)
	assert.Equal(t, []string{s5.ID}, ids(stu))

	none, err := r.ListVisible(ctx, parent, false)
	require.NoError(t, err)
	assert.Empty(t, none)

	noClasses, err := r.ListVisible(ctx, Identity{UserID: "t-x", Role: RoleTeacher}, false)
	require.NoError(t, err)
	assert.Empty(t, noClasses)
}

func TestRegistry_Get(t *testing.T) {
	ctx := context.Background()
	r, _, _ := newTestRegistry(t)

	s, err := r.Create(ctx, teacher, class5, "")
	require.NoError(t, err)

	got, err := r.Get(ctx, s.ID, studentB)
	require.NoError(t, err)
	assert.Equal(t, s.ID, got.ID)

	_, err = r.Get(ctx, s.ID, outsider)
	assert.ErrorIs(t, err, ErrForbidden)
}

func TestRegistry_WithClock(t *testing.T) {
	ctx := context.Background()
	start := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	store := newMemorySessionStore()
	r := NewRegistry(store, WithClock(func() time.Time { return start.Add(45 * time.Minute) }))

	s, err := r.Create(ctx, teacher, class5, "")
	require.NoError(t, err)
	store.mu.Lock()
	fixed := store.sessions[s.ID]
	fixed.CreatedAt = start
	store.sessions[s.ID] = fixed
	store.mu.Unlock()

	ended, err := r.End(ctx, s.ID, teacher)
	require.NoError(t, err)
	require.NotNil(t, ended.DurationMinutes())
	assert.Equal(t, 45, *ended.DurationMinutes())
}

func TestTerminators(t *testing.T) {
	a, b := &recordingTerminator{}, &recordingTerminator{}
	Terminators{a, nil, b}.TerminateSession("s-1")
	assert.Equal(t, []string{"s-1"}, a.calls())
	assert.Equal(t, []string{"s-1"}, b.calls())
}
