package limiter

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	pgxmock "github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/require"
)

var testNow = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func newLimiter(t *testing.T, p Policy) (*PG, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	l := NewPG(mock, p)
	l.now = func() time.Time { return testNow }
	return l, mock
}

func TestAllow(t *testing.T) {
	ip := HashIP("10.0.0.1")
	tests := []struct {
		name    string
		rows    *pgxmock.Rows
		err     error
		wantOK  bool
		wantDur time.Duration
		wantErr bool
	}{
		{name: "no row", err: pgx.ErrNoRows, wantOK: true},
		{name: "blocked", rows: pgxmock.NewRows([]string{"blocked_until"}).AddRow(testNow.Add(10 * time.Minute)), wantDur: 10 * time.Minute},
		{name: "block expired", rows: pgxmock.NewRows([]string{"blocked_until"}).AddRow(testNow.Add(-time.Minute)), wantOK: true},
		{name: "db error", err: errors.New("db boom"), wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l, mock := newLimiter(t, DefaultPolicy)
			defer mock.Close()

			exp := mock.ExpectQuery(`SELECT blocked_until FROM auth_limiter WHERE email=\$1 AND ip_hash=\$2`).
				WithArgs("ana@example.com", ip)
			if tt.err != nil {
				exp.WillReturnError(tt.err)
			} else {
				exp.WillReturnRows(tt.rows)
			}

			ok, dur, err := l.Allow(context.Background(), "  Ana@Example.com ", ip)
			if tt.wantErr {
				require.Error(t, err)
				require.False(t, ok)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tt.wantOK, ok)
			require.Equal(t, tt.wantDur, dur)
			require.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestSuccess_ResetsCounters(t *testing.T) {
	l, mock := newLimiter(t, DefaultPolicy)
	defer mock.Close()
	ip := HashIP("10.0.0.1")

	mock.ExpectExec(`INSERT INTO auth_limiter .* ON CONFLICT \(email, ip_hash\) DO UPDATE SET fail_count=0`).
		WithArgs("ana@example.com", ip).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	require.NoError(t, l.Success(context.Background(), "ana@example.com", ip))

	mock.ExpectExec(`INSERT INTO auth_limiter`).
		WithArgs("ana@example.com", ip).
		WillReturnError(errors.New("exec fail"))
	require.Error(t, l.Success(context.Background(), "ana@example.com", ip))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestFailure_BelowThreshold(t *testing.T) {
	l, mock := newLimiter(t, Policy{Window: 5 * time.Minute, MaxFails: 3, BlockFor: 10 * time.Minute})
	defer mock.Close()
	ip := HashIP("10.0.0.1")

	mock.ExpectQuery(`RETURNING fail_count`).
		WithArgs("ana@example.com", ip, 5*time.Minute).
		WillReturnRows(pgxmock.NewRows([]string{"fail_count"}).AddRow(2))

	blocked, dur, err := l.Failure(context.Background(), "ana@example.com", ip)
	require.NoError(t, err)
	require.False(t, blocked)
	require.Zero(t, dur)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestFailure_BlocksAtThreshold(t *testing.T) {
	l, mock := newLimiter(t, Policy{Window: 5 * time.Minute, MaxFails: 3, BlockFor: 10 * time.Minute})
	defer mock.Close()
	ip := HashIP("10.0.0.1")

	mock.ExpectQuery(`RETURNING fail_count`).
		WithArgs("ana@example.com", ip, 5*time.Minute).
		WillReturnRows(pgxmock.NewRows([]string{"fail_count"}).AddRow(3))
	mock.ExpectExec(`UPDATE auth_limiter SET blocked_until=\$3 WHERE email=\$1 AND ip_hash=\$2`).
		WithArgs("ana@example.com", ip, testNow.Add(10*time.Minute)).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	blocked, dur, err := l.Failure(context.Background(), "ana@example.com", ip)
	require.NoError(t, err)
	require.True(t, blocked)
	require.Equal(t, 10*time.Minute, dur)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestFailure_ReturningError(t *testing.T) {
	l, mock := newLimiter(t, DefaultPolicy)
	defer mock.Close()

	mock.ExpectQuery(`RETURNING fail_count`).WillReturnError(errors.New("query error"))
	_, _, err := l.Failure(context.Background(), "ana@example.com", HashIP("x"))
	require.Error(t, err)
}

func TestNewPG_ZeroPolicyUsesDefault(t *testing.T) {
	l := NewPG(nil, Policy{})
	require.Equal(t, DefaultPolicy.MaxFails, l.maxFails)
	require.Equal(t, DefaultPolicy.Window, l.window)
}

func TestHashIP_Determinism(t *testing.T) {
	a := HashIP("1.2.3.4:123")
	b := HashIP("1.2.3.4:123")
	c := HashIP("5.6.7.8:321")
	require.Equal(t, a, b)
	require.NotEqual(t, a, c)
	require.Len(t, a, 32)
}
