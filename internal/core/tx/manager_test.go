package tx

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubUoW string

func (s stubUoW) ID() string { return string(s) }

type countingManager struct {
	opened int
}

func (m *countingManager) RunInTransaction(ctx context.Context, fn func(ctx context.Context, uow UnitOfWork) error) error {
	m.opened++
	return fn(ctx, stubUoW("fresh"))
}

func TestWithin_JoinsCallerScope(t *testing.T) {
	m := &countingManager{}

	var seen string
	err := Within(context.Background(), m, stubUoW("caller"), func(ctx context.Context, uow UnitOfWork) error {
		seen = uow.ID()
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, "caller", seen)
	assert.Equal(t, 0, m.opened)
}

func TestWithin_OpensScopeWhenNil(t *testing.T) {
	m := &countingManager{}

	var seen string
	err := Within(context.Background(), m, nil, func(ctx context.Context, uow UnitOfWork) error {
		seen = uow.ID()
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, "fresh", seen)
	assert.Equal(t, 1, m.opened)
}

type isolatingUoW struct {
	stubUoW
	isolated int
}

func (u *isolatingUoW) Isolate(ctx context.Context, fn func(ctx context.Context) error) error {
	u.isolated++
	return fn(ctx)
}

func TestIsolated(t *testing.T) {
	u := &isolatingUoW{stubUoW: "outer"}
	calls := 0

	require.NoError(t, Isolated(context.Background(), u, func(ctx context.Context) error { calls++; return nil }))
	require.NoError(t, Isolated(context.Background(), stubUoW("plain"), func(ctx context.Context) error { calls++; return nil }))

	assert.Equal(t, 2, calls)
	assert.Equal(t, 1, u.isolated)
}

type hookedUoW struct {
	stubUoW
	Hooks
}

func (u *hookedUoW) Isolate(ctx context.Context, fn func(ctx context.Context) error) error {
	mark := u.Mark()
	if err := fn(ctx); err != nil {
		u.Truncate(mark)
		return err
	}
	return nil
}

func TestAfterCommit_DefersUntilRun(t *testing.T) {
	ctx := context.Background()
	u := &hookedUoW{stubUoW: "outer"}
	var ran []string

	AfterCommit(ctx, u, func(ctx context.Context) { ran = append(ran, "kept") })
	err := Isolated(ctx, u, func(ctx context.Context) error {
		AfterCommit(ctx, u, func(ctx context.Context) { ran = append(ran, "dropped") })
		return assert.AnError
	})
	require.ErrorIs(t, err, assert.AnError)
	assert.Empty(t, ran)

	u.Run(ctx)
	assert.Equal(t, []string{"kept"}, ran)

	u.Run(ctx)
	assert.Len(t, ran, 1)
}

func TestAfterCommit_RunsNowWithoutHooks(t *testing.T) {
	calls := 0
	AfterCommit(context.Background(), stubUoW("plain"), func(ctx context.Context) { calls++ })
	AfterCommit(context.Background(), nil, func(ctx context.Context) { calls++ })
	assert.Equal(t, 2, calls)
}
