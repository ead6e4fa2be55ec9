package numerator

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	corenumerator "stockledger/internal/core/numerator"
)

// Mock objects
type mockRow struct {
	val int64
	err error
}

func (m *mockRow) Scan(dest ...any) error {
	if m.err != nil {
		return m.err
	}
	if len(dest) > 0 {
		if ptr, ok := dest[0].(*int64); ok {
			*ptr = m.val
		}
	}
	return nil
}

// mockQuerier simulates sys_sequences for a single key.
// Strict calls pass (key); cached calls pass (key, increment).
type mockQuerier struct {
	mu           sync.Mutex
	currentValue int64
	calls        int
	err          error
}

func (m *mockQuerier) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.calls++
	if m.err != nil {
		return &mockRow{err: m.err}
	}

	var increment int64 = 1
	if len(args) == 2 {
		if val, ok := args[1].(int64); ok {
			increment = val
		}
	}

	m.currentValue += increment
	return &mockRow{val: m.currentValue}
}

var period = time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

func TestGetNextNumber_Strict(t *testing.T) {
	q := &mockQuerier{}
	svc := New(q)
	ctx := context.Background()
	cfg := corenumerator.DefaultConfig("MIRV")

	num, err := svc.GetNextNumber(ctx, cfg, nil, period)
	require.NoError(t, err)
	assert.Equal(t, "MIRV-2026-00001", num)

	num, err = svc.GetNextNumber(ctx, cfg, nil, period)
	require.NoError(t, err)
	assert.Equal(t, "MIRV-2026-00002", num)
	assert.Equal(t, 2, q.calls)
}

func TestGetNextNumber_Cached(t *testing.T) {
	q := &mockQuerier{}
	svc := New(q)
	ctx := context.Background()
	cfg := corenumerator.DefaultConfig("LOT")
	opts := &corenumerator.Options{Strategy: corenumerator.StrategyCached, RangeSize: 10}

	// first call reserves 1..10
	num, err := svc.GetNextNumber(ctx, cfg, opts, period)
	require.NoError(t, err)
	assert.Equal(t, "LOT-2026-00001", num)
	assert.Equal(t, int64(10), q.currentValue)

	for i := 2; i <= 10; i++ {
		num, err = svc.GetNextNumber(ctx, cfg, opts, period)
		require.NoError(t, err)
		assert.Equal(t, fmt.Sprintf("LOT-2026-%05d", i), num)
	}
	assert.Equal(t, 1, q.calls)

	// range exhausted: next call reserves 11..20
	num, err = svc.GetNextNumber(ctx, cfg, opts, period)
	require.NoError(t, err)
	assert.Equal(t, "LOT-2026-00011", num)
	assert.Equal(t, int64(20), q.currentValue)
	assert.Equal(t, 2, q.calls)
}

func TestGetNextNumber_PropagatesError(t *testing.T) {
	svc := New(&mockQuerier{err: fmt.Errorf("db down")})

	_, err := svc.GetNextNumber(context.Background(), corenumerator.DefaultConfig("GP"), nil, period)
	assert.ErrorContains(t, err, "db down")
}

func TestFormatNumber(t *testing.T) {
	cfg := corenumerator.Config{Prefix: "GP", PadWidth: 3}
	assert.Equal(t, "GP-007", formatNumber(cfg, period, 7))
	assert.Equal(t, "GP_2026_03", buildKey(corenumerator.Config{Prefix: "GP", ResetPeriod: "month"}, period))
}

func TestParseNumber(t *testing.T) {
	assert.Equal(t, int64(42), ParseNumber("MIRV-2026-00042"))
	assert.Equal(t, int64(-1), ParseNumber("garbage"))
}
