package numbering

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/require"
)

func TestFormat(t *testing.T) {
	date := time.Date(2025, 3, 31, 23, 0, 0, 0, time.FixedZone("WIB", 7*3600))
	require.Equal(t, "STK-202503-00001", Format("STK", date, 1))
	require.Equal(t, "PAY-202503-123456", Format("PAY", date, 123456))
}

func TestNextNumberRequiresPool(t *testing.T) {
	var s *Series
	_, err := s.NextNumber(context.Background(), 1, "JV", time.Now())
	require.Error(t, err)
}

type seqRow struct{ seq int64 }

func (r seqRow) Scan(dest ...any) error {
	*dest[0].(*int64) = r.seq
	return nil
}

type fakeQuerier struct {
	args []any
	seq  int64
}

func (f *fakeQuerier) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	f.args = args
	f.seq++
	return seqRow{seq: f.seq}
}

func TestNextNumberAllocatesPerPeriod(t *testing.T) {
	q := &fakeQuerier{}
	s := NewSeries(q)
	date := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)

	first, err := s.NextNumber(context.Background(), 7, "PAY", date)
	require.NoError(t, err)
	require.Equal(t, "PAY-202503-00001", first)
	require.Equal(t, []any{int64(7), "PAY", "202503"}, q.args)

	second, err := s.NextNumber(context.Background(), 7, "PAY", date)
	require.NoError(t, err)
	require.Equal(t, "PAY-202503-00002", second)

	_, err = s.NextNumber(context.Background(), 7, "", date)
	require.Error(t, err)
}
