package schema

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JonMunkholm/warehouse-dq/internal/core/coretest"
)

func TestApply(t *testing.T) {
	db := coretest.New()
	require.NoError(t, Apply(context.Background(), db))

	calls := db.Calls()
	require.NotEmpty(t, calls)
	assert.Equal(t, advisoryLockSQL, calls[0].SQL)
	assert.Equal(t, lockKey, calls[0].Args[0])

	var created []string
	for _, c := range calls[1:] {
		assert.True(t, c.InTx)
		if strings.HasPrefix(c.SQL, "CREATE TABLE") {
			created = append(created, strings.Fields(c.SQL)[5])
		}
	}
	assert.Equal(t, []string{"validation_rules", "load_history", "quality_metrics"}, created)

	begins, commits, rollbacks := db.TxCounts()
	assert.Equal(t, 1, begins)
	assert.Equal(t, 1, commits)
	assert.Zero(t, rollbacks)
}

func TestApply_RollsBackOnFailure(t *testing.T) {
	db := coretest.New()
	db.OnResult("CREATE TABLE IF NOT EXISTS load_history",
		coretest.Fail(&pgconn.PgError{Code: "42501", Message: "permission denied for schema public", Detail: "owner is dq_admin"}))

	err := Apply(context.Background(), db)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "create load_history")
	assert.Contains(t, err.Error(), "owner is dq_admin")

	var pgErr *pgconn.PgError
	assert.True(t, errors.As(err, &pgErr))
	assert.Empty(t, db.CallsMatching("quality_metrics"))

	_, commits, rollbacks := db.TxCounts()
	assert.Zero(t, commits)
	assert.Equal(t, 1, rollbacks)
}

func TestApply_BeginFails(t *testing.T) {
	db := coretest.New()
	db.BeginErr = errors.New("connection refused")
	assert.ErrorContains(t, Apply(context.Background(), db), "begin migration")
}

func TestStatementsAreIdempotent(t *testing.T) {
	for _, tbl := range Tables {
		for _, stmt := range tbl.Statements {
			assert.Contains(t, stmt, "IF NOT EXISTS", tbl.Name)
		}
	}
}
