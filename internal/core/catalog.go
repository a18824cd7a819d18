package core

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/ristretto"
	"github.com/jackc/pgx/v5"
)

// Catalog lookups go to pg_catalog rather than information_schema so that
// materialized views resolve as tables.
const (
	resolveSchemaSQL = `SELECT nspname FROM pg_catalog.pg_namespace WHERE nspname = $1`

	resolveTableSQL = `SELECT c.relkind::text
FROM pg_catalog.pg_class c
JOIN pg_catalog.pg_namespace n ON n.oid = c.relnamespace
WHERE n.nspname = $1 AND c.relname = $2 AND c.relkind IN ('r', 'p', 'v', 'm', 'f')`

	resolveColumnSQL = `SELECT format_type(a.atttypid, a.atttypmod)
FROM pg_catalog.pg_attribute a
JOIN pg_catalog.pg_class c ON c.oid = a.attrelid
JOIN pg_catalog.pg_namespace n ON n.oid = c.relnamespace
WHERE n.nspname = $1 AND c.relname = $2 AND a.attname = $3
  AND a.attnum > 0 AND NOT a.attisdropped`

	columnCountSQL = `SELECT count(*)::int
FROM pg_catalog.pg_attribute a
JOIN pg_catalog.pg_class c ON c.oid = a.attrelid
JOIN pg_catalog.pg_namespace n ON n.oid = c.relnamespace
WHERE n.nspname = $1 AND c.relname = $2 AND a.attnum > 0 AND NOT a.attisdropped`
)

// TableRef is a relation confirmed to exist in the catalog.
type TableRef struct {
	Schema string
	Name   string
	Kind   string // pg_class.relkind
}

// Relation returns the quoted, schema-qualified name safe to splice into SQL.
func (r TableRef) Relation() string {
	return pgx.Identifier{r.Schema, r.Name}.Sanitize()
}

func (r TableRef) String() string { return r.Schema + "." + r.Name }

// ColumnRef is a column confirmed to exist in the catalog.
type ColumnRef struct {
	Name     string
	DataType string
}

// Ident returns the quoted column name.
func (c ColumnRef) Ident() string {
	return pgx.Identifier{c.Name}.Sanitize()
}

// Catalog resolves identifiers against the live database. Positive answers
// are cached; misses always go to the database so that newly created
// objects are seen immediately.
type Catalog struct {
	db    DBTX
	cache *ristretto.Cache
	ttl   time.Duration
}

// NewCatalog returns a catalog with a cache of up to size entries kept for
// ttl. A non-positive size or ttl disables caching.
func NewCatalog(db DBTX, size int64, ttl time.Duration) (*Catalog, error) {
	c := &Catalog{db: db, ttl: ttl}
	if size <= 0 || ttl <= 0 {
		return c, nil
	}
	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: 10 * size,
		MaxCost:     size,
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("catalog cache: %w", err)
	}
	c.cache = cache
	return c, nil
}

func (c *Catalog) get(key string) (any, bool) {
	if c.cache == nil {
		return nil, false
	}
	return c.cache.Get(key)
}

func (c *Catalog) put(key string, v any) {
	if c.cache != nil {
		c.cache.SetWithTTL(key, v, 1, c.ttl)
	}
}

// Invalidate drops every cached lookup.
func (c *Catalog) Invalidate() {
	if c.cache != nil {
		c.cache.Clear()
	}
}

// ResolveSchema confirms the schema exists.
func (c *Catalog) ResolveSchema(ctx context.Context, schema string) (string, error) {
	key := "s\x00" + schema
	if v, ok := c.get(key); ok {
		return v.(string), nil
	}

	var name string
	err := c.db.QueryRow(ctx, resolveSchemaSQL, schema).Scan(&name)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", &SchemaError{Kind: "schema", Schema: schema}
	}
	if err != nil {
		return "", fmt.Errorf("resolve schema %q: %w", schema, err)
	}
	c.put(key, name)
	return name, nil
}

// ResolveTable confirms schema.table exists as a table, view or materialized view.
func (c *Catalog) ResolveTable(ctx context.Context, schema, table string) (TableRef, error) {
	key := "t\x00" + schema + "\x00" + table
	if v, ok := c.get(key); ok {
		return v.(TableRef), nil
	}

	var kind string
	err := c.db.QueryRow(ctx, resolveTableSQL, schema, table).Scan(&kind)
	if errors.Is(err, pgx.ErrNoRows) {
		if _, serr := c.ResolveSchema(ctx, schema); serr != nil {
			return TableRef{}, serr
		}
		return TableRef{}, &SchemaError{Kind: "table", Schema: schema, Table: table}
	}
	if err != nil {
		return TableRef{}, fmt.Errorf("resolve table %s.%s: %w", schema, table, err)
	}

	ref := TableRef{Schema: schema, Name: table, Kind: kind}
	c.put(key, ref)
	return ref, nil
}

// ResolveColumn confirms column exists on ref.
func (c *Catalog) ResolveColumn(ctx context.Context, ref TableRef, column string) (ColumnRef, error) {
	key := "c\x00" + ref.Schema + "\x00" + ref.Name + "\x00" + column
	if v, ok := c.get(key); ok {
		return v.(ColumnRef), nil
	}

	var dataType string
	err := c.db.QueryRow(ctx, resolveColumnSQL, ref.Schema, ref.Name, column).Scan(&dataType)
	if errors.Is(err, pgx.ErrNoRows) {
		return ColumnRef{}, &SchemaError{Kind: "column", Schema: ref.Schema, Table: ref.Name, Column: column}
	}
	if err != nil {
		return ColumnRef{}, fmt.Errorf("resolve column %s.%s: %w", ref, column, err)
	}

	col := ColumnRef{Name: column, DataType: dataType}
	c.put(key, col)
	return col, nil
}

// ColumnCount returns the number of live columns on ref. Not cached.
func (c *Catalog) ColumnCount(ctx context.Context, ref TableRef) (int, error) {
	var n int
	if err := c.db.QueryRow(ctx, columnCountSQL, ref.Schema, ref.Name).Scan(&n); err != nil {
		return 0, fmt.Errorf("count columns of %s: %w", ref, err)
	}
	return n, nil
}
