package adapter

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupOffersDB(t *testing.T) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "offers.db")
	db, err := sql.Open("sqlite", path)
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	_, err = db.Exec(`CREATE TABLE offers (customer_id TEXT, region TEXT, discount REAL, tier TEXT)`)
	require.NoError(t, err)
	_, err = db.Exec(`INSERT INTO offers VALUES
		('C1', 'NORTH', 120.5, 'Gold'),
		('C1', 'NORTH', 80.0, 'Silver'),
		('C2', 'SOUTH', 10.0, 'Bronze')`)
	require.NoError(t, err)
	return path
}

func TestDatabaseAdapter_FirstRowAndCount(t *testing.T) {
	dsn := setupOffersDB(t)

	a, err := NewDatabaseAdapter(DatabaseConfig{
		DSN:   dsn,
		Query: `SELECT discount AS discountAmount, tier AS promotionName FROM offers WHERE customer_id = :customerId AND region = :region ORDER BY discount DESC`,
	})
	require.NoError(t, err)
	defer func() { _ = a.Close() }()

	req := NewRequest("r").Param("customerId", "C1").Param("region", "NORTH").Build()
	resp, err := a.Call(context.Background(), req, time.Second)
	require.NoError(t, err)

	data := resp.Data()
	assert.Equal(t, 120.5, data["discountAmount"])
	assert.Equal(t, "Gold", data["promotionName"])
	assert.Equal(t, 2, data["rowCount"])
	assert.True(t, resp.Success())
}

func TestDatabaseAdapter_BindingIsNotInterpolated(t *testing.T) {
	dsn := setupOffersDB(t)

	a, err := NewDatabaseAdapter(DatabaseConfig{
		DSN:   dsn,
		Query: `SELECT tier FROM offers WHERE customer_id = :customerId`,
	})
	require.NoError(t, err)
	defer func() { _ = a.Close() }()

	req := NewRequest("r").Param("customerId", "C1' OR '1'='1").Build()
	resp, err := a.Call(context.Background(), req, time.Second)
	require.NoError(t, err)
	assert.Equal(t, 0, resp.Data()["rowCount"])
	_, ok := resp.Get("tier")
	assert.False(t, ok)
}

func TestDatabaseAdapter_CommentedPlaceholdersNeedNoParameter(t *testing.T) {
	dsn := setupOffersDB(t)

	a, err := NewDatabaseAdapter(DatabaseConfig{
		DSN:   dsn,
		Query: "SELECT tier AS promotionName /* note: time :now */ FROM offers\n-- keyed by :customerId upstream\nWHERE region = :region",
	})
	require.NoError(t, err)
	defer func() { _ = a.Close() }()

	resp, err := a.Call(context.Background(), NewRequest("r").Param("region", "SOUTH").Build(), time.Second)
	require.NoError(t, err)
	assert.Equal(t, "Bronze", resp.Data()["promotionName"])
	assert.Equal(t, 1, resp.Data()["rowCount"])
}

func TestDatabaseAdapter_MissingParameter(t *testing.T) {
	dsn := setupOffersDB(t)

	a, err := NewDatabaseAdapter(DatabaseConfig{DSN: dsn, Query: `SELECT 1 WHERE :missing = 1`})
	require.NoError(t, err)
	defer func() { _ = a.Close() }()

	_, err = a.Call(context.Background(), NewRequest("r").Build(), time.Second)
	assert.ErrorContains(t, err, "missing")
}

func TestDatabaseAdapter_QueryErrorIsTransportError(t *testing.T) {
	dsn := setupOffersDB(t)

	a, err := NewDatabaseAdapter(DatabaseConfig{DSN: dsn, Query: `SELECT * FROM no_such_table`})
	require.NoError(t, err)
	defer func() { _ = a.Close() }()

	_, err = a.Call(context.Background(), NewRequest("r").Build(), time.Second)
	var te *TransportError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, SystemTypeDatabase, te.SystemType)
	assert.False(t, te.Retryable())
}

func TestDatabaseAdapter_IsAvailableAndClose(t *testing.T) {
	dsn := setupOffersDB(t)

	a, err := NewDatabaseAdapter(DatabaseConfig{DSN: dsn, Query: `SELECT 1`})
	require.NoError(t, err)
	assert.True(t, a.IsAvailable(context.Background()))

	require.NoError(t, a.Close())
	assert.False(t, a.IsAvailable(context.Background()))
	_, err = a.Call(context.Background(), NewRequest("r").Build(), time.Second)
	assert.ErrorIs(t, err, ErrClosed)
}

func TestNewDatabaseAdapter_Validation(t *testing.T) {
	_, err := NewDatabaseAdapter(DatabaseConfig{Query: "SELECT 1"})
	assert.Error(t, err)

	_, err = NewDatabaseAdapter(DatabaseConfig{DSN: "x.db"})
	assert.Error(t, err)

	_, err = NewDatabaseAdapter(DatabaseConfig{DSN: "x.db", Query: "SELECT 1", Driver: "oracle"})
	assert.Error(t, err)
}

func TestRewritePlaceholders(t *testing.T) {
	tests := []struct {
		name     string
		query    string
		driver   string
		want     string
		bindings []string
	}{
		{
			name:     "sqlite markers",
			query:    "SELECT * FROM t WHERE a = :a AND b = :b_2",
			driver:   DriverSQLite,
			want:     "SELECT * FROM t WHERE a = ? AND b = ?",
			bindings: []string{"a", "b_2"},
		},
		{
			name:     "postgres markers",
			query:    "SELECT * FROM t WHERE a = :a AND b = :a",
			driver:   DriverPostgres,
			want:     "SELECT * FROM t WHERE a = $1 AND b = $2",
			bindings: []string{"a", "a"},
		},
		{
			name:     "casts and quoted text untouched",
			query:    "SELECT x::text FROM t WHERE note = ':skip' AND id = :id",
			driver:   DriverPostgres,
			want:     "SELECT x::text FROM t WHERE note = ':skip' AND id = $1",
			bindings: []string{"id"},
		},
		{
			name:     "line comment untouched",
			query:    "SELECT tier FROM offers -- filter on :customerId\nWHERE region = :region",
			driver:   DriverSQLite,
			want:     "SELECT tier FROM offers -- filter on :customerId\nWHERE region = ?",
			bindings: []string{"region"},
		},
		{
			name:     "block comment untouched",
			query:    "SELECT 1 AS ok /* note: time :now */ WHERE :a = 1",
			driver:   DriverPostgres,
			want:     "SELECT 1 AS ok /* note: time :now */ WHERE $1 = 1",
			bindings: []string{"a"},
		},
		{
			name:   "unterminated block comment",
			query:  "SELECT 1 /* :open",
			driver: DriverSQLite,
			want:   "SELECT 1 /* :open",
		},
		{
			name:   "no placeholders",
			query:  "SELECT 1",
			driver: DriverSQLite,
			want:   "SELECT 1",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, bindings := rewritePlaceholders(tt.query, tt.driver)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.bindings, bindings)
		})
	}
}
