package core

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JonMunkholm/warehouse-dq/internal/core/coretest"
)

func TestCatalog_CachesHits(t *testing.T) {
	db := coretest.New()
	olist.install(db)

	c, err := NewCatalog(db, 100, time.Minute)
	require.NoError(t, err)

	ctx := context.Background()
	ref, err := c.ResolveTable(ctx, "raw_data", "orders")
	require.NoError(t, err)
	assert.Equal(t, `"raw_data"."orders"`, ref.Relation())
	c.cache.Wait()

	_, err = c.ResolveTable(ctx, "raw_data", "orders")
	require.NoError(t, err)
	assert.Len(t, db.CallsMatching(resolveTableSQL), 1, "second lookup is served from cache")

	c.Invalidate()
	_, err = c.ResolveTable(ctx, "raw_data", "orders")
	require.NoError(t, err)
	assert.Len(t, db.CallsMatching(resolveTableSQL), 2)
}

func TestCatalog_MissesAreNotCached(t *testing.T) {
	db := coretest.New()
	olist.install(db)
	c, err := NewCatalog(db, 100, time.Minute)
	require.NoError(t, err)

	ctx := context.Background()
	ref, err := c.ResolveTable(ctx, "raw_data", "orders")
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		_, err = c.ResolveColumn(ctx, ref, "ghost")
		assert.ErrorIs(t, err, ErrSchema)
	}
	assert.Len(t, db.CallsMatching(resolveColumnSQL), 2)
}

func TestCatalog_NoCache(t *testing.T) {
	db := coretest.New()
	olist.install(db)
	c, err := NewCatalog(db, 0, 0)
	require.NoError(t, err)
	assert.Nil(t, c.cache)

	name, err := c.ResolveSchema(context.Background(), "raw_data")
	require.NoError(t, err)
	assert.Equal(t, "raw_data", name)
	c.Invalidate()
}

func TestCatalog_DatabaseErrorIsNotSchemaError(t *testing.T) {
	db := coretest.New()
	db.OnResult(resolveTableSQL, coretest.Fail(errors.New("connection refused")))
	c, err := NewCatalog(db, 0, 0)
	require.NoError(t, err)

	_, err = c.ResolveTable(context.Background(), "raw_data", "orders")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrSchema)
}

func TestColumnRef_Ident(t *testing.T) {
	assert.Equal(t, `"customer_id"`, ColumnRef{Name: "customer_id"}.Ident())
	assert.Equal(t, `"a""b"`, ColumnRef{Name: `a"b`}.Ident())
}
