package store

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"hydropulse/internal/feedback"
	"hydropulse/internal/model"
)

// flexibleSQLMatcher builds a whitespace-insensitive regex for a query.
func flexibleSQLMatcher(sql string) string {
	trimmed := strings.TrimSpace(sql)
	return regexp.MustCompile(`\s+`).ReplaceAllString(regexp.QuoteMeta(trimmed), `\s+`)
}

var _ feedback.VetoStore = (*PostgresVetoStore)(nil)

func newMockStore(t *testing.T) (*PostgresVetoStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)

	mock.ExpectPing()
	s, err := NewPostgresVetoStore(context.Background(), mock, zaptest.NewLogger(t))
	require.NoError(t, err)
	return s, mock
}

func TestNewPostgresVetoStorePingFails(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	pingErr := errors.New("database unavailable")
	mock.ExpectPing().WillReturnError(pingErr)

	_, err = NewPostgresVetoStore(context.Background(), mock, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, pingErr)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMigrate(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectExec(flexibleSQLMatcher(sqlCreateVetoes)).
		WillReturnResult(pgxmock.NewResult("CREATE", 0))

	require.NoError(t, s.Migrate(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAddVeto(t *testing.T) {
	s, mock := newMockStore(t)
	ts := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	r := model.VetoRecord{ActionID: "a-1", ActionType: "INCREASE_LOAD", Reason: "crew on site", Timestamp: ts}

	mock.ExpectExec(flexibleSQLMatcher(sqlInsertVeto)).
		WithArgs("a-1", "INCREASE_LOAD", "crew on site", "", ts).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	require.NoError(t, s.AddVeto(context.Background(), r))

	mock.ExpectExec(flexibleSQLMatcher(sqlInsertVeto)).
		WithArgs("a-2", "", "x", "", ts).
		WillReturnError(errors.New("disk full"))
	err := s.AddVeto(context.Background(), model.VetoRecord{ActionID: "a-2", Reason: "x", Timestamp: ts})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "a-2")

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestVetoesSince(t *testing.T) {
	s, mock := newMockStore(t)
	since := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	t1 := since.Add(time.Hour)
	t2 := since.Add(2 * time.Hour)

	rows := pgxmock.NewRows([]string{"action_id", "action_type", "reason", "context", "created_at"}).
		AddRow("a-1", "INCREASE_LOAD", "crew on site", "", t1).
		AddRow("a-2", "", "do not increase load", "night shift", t2)
	mock.ExpectQuery(flexibleSQLMatcher(sqlSelectVetoesSince)).
		WithArgs(since).
		WillReturnRows(rows)

	got, err := s.VetoesSince(context.Background(), since)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "INCREASE_LOAD", got[0].ActionType)
	assert.Equal(t, "night shift", got[1].Context)
	assert.Equal(t, t2, got[1].Timestamp)

	// The records feed the learning modifiers like the in-memory store.
	mods := feedback.GetLearningModifiers("increase load", got, t2)
	assert.Equal(t, 1.0, mods.ThresholdMultiplier)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestVetoesSinceQueryError(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectQuery(flexibleSQLMatcher(sqlSelectVetoesSince)).
		WillReturnError(errors.New("connection reset"))

	_, err := s.VetoesSince(context.Background(), time.Now())
	assert.Error(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}
