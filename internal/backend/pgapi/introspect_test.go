package pgapi

import (
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kadirbelkuyu/tablescope/internal/backend"
	"github.com/kadirbelkuyu/tablescope/internal/catalog"
	"github.com/kadirbelkuyu/tablescope/pkg/logger"
)

func TestParseIndexColumns(t *testing.T) {
	tests := []struct {
		def  string
		want []string
	}{
		{`CREATE UNIQUE INDEX users_pkey ON public.users USING btree (id)`, []string{"id"}},
		{`CREATE INDEX idx ON public.orders USING btree (customer_id, "createdAt")`, []string{"customer_id", "createdAt"}},
		{`CREATE INDEX broken`, []string{}},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, parseIndexColumns(tt.def), tt.def)
	}
}

func TestParseIndexType(t *testing.T) {
	assert.Equal(t, "GIN", parseIndexType("CREATE INDEX i ON t USING gin (tags)"))
	assert.Equal(t, "HASH", parseIndexType("CREATE INDEX i ON t USING hash (code)"))
	assert.Equal(t, "BTREE", parseIndexType("CREATE INDEX i ON t (code)"))
}

func TestIsSerialDefault(t *testing.T) {
	assert.True(t, isSerialDefault("nextval('orders_id_seq'::regclass)"))
	assert.False(t, isSerialDefault("now()"))
	assert.False(t, isSerialDefault(""))
}

func TestEncodedDocumentLoadsIntoCatalog(t *testing.T) {
	now := "now()"
	tables := []*tableMeta{
		{
			Name:   "customers",
			Schema: "public",
			Columns: []*columnMeta{
				{Name: "id", Type: "integer", PrimaryKey: true, AutoIncrement: true, ForeignKeys: []string{}},
				{Name: "name", Type: "text", ForeignKeys: []string{}},
				{Name: "created_at", Type: "timestamp with time zone", ServerDefault: &now, ForeignKeys: []string{}},
			},
			Indexes: []indexMeta{{Name: "customers_pkey", Columns: []string{"id"}, Unique: true, Type: "BTREE"}},
		},
		{
			Name:   "orders",
			Schema: "public",
			Columns: []*columnMeta{
				{Name: "id", Type: "integer", PrimaryKey: true, ForeignKeys: []string{}},
				{Name: "customer_id", Type: "integer", ForeignKeys: []string{"customers.id"}},
			},
			Indexes: []indexMeta{},
		},
	}

	data, err := encodeDocument(tables, time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC))
	require.NoError(t, err)

	cat, err := catalog.Load(data)
	require.NoError(t, err)
	assert.Equal(t, "2024-05-01T12:00:00Z", cat.GeneratedAt)
	assert.Equal(t, []string{"customers", "orders"}, cat.Slugs())

	customers, ok := cat.Table("customers")
	require.True(t, ok)
	pk, ok := customers.PrimaryKey()
	require.True(t, ok)
	assert.Equal(t, "id", pk.Name)
	assert.True(t, pk.AutoIncrement)

	created, ok := customers.Column("created_at")
	require.True(t, ok)
	assert.True(t, created.HasServerDefault)

	orders, _ := cat.Table("orders")
	ref, ok := orders.Column("customer_id")
	require.True(t, ok)
	assert.Equal(t, []string{"customers.id"}, ref.ForeignKeys)
}

func TestEmptyDocumentIsStillATableList(t *testing.T) {
	data, err := encodeDocument(nil, time.Now())
	require.NoError(t, err)

	cat, err := catalog.Load(data)
	require.NoError(t, err)
	assert.Zero(t, cat.Len())
}

func TestTranslateMapsDriverErrors(t *testing.T) {
	source := New(nil, "", logger.Discard())

	tests := []struct {
		code   pq.ErrorCode
		status int
	}{
		{"23505", http.StatusConflict},
		{"23503", http.StatusBadRequest},
		{"22P02", http.StatusUnprocessableEntity},
		{"42P01", http.StatusInternalServerError},
	}
	for _, tt := range tests {
		err := source.translate(http.MethodPost, "orders", &pq.Error{Code: tt.code, Message: "rejected", Detail: "Key (id)=(1)"})
		assert.True(t, backend.IsStatus(err, tt.status), "code %s", tt.code)

		msg, ok := backend.Message(err)
		require.True(t, ok)
		assert.Equal(t, "rejected: Key (id)=(1)", msg)
	}

	plain := errors.New("connection reset")
	err := source.translate(http.MethodGet, "orders", plain)
	assert.ErrorIs(t, err, plain)
	_, ok := backend.Message(err)
	assert.False(t, ok)
}

func TestNormalizeValue(t *testing.T) {
	at := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)

	assert.Nil(t, normalizeValue(nil))
	assert.Equal(t, "12.50", normalizeValue([]byte("12.50")))
	assert.Equal(t, "2024-01-02T03:04:05Z", normalizeValue(at))
	assert.Equal(t, int64(7), normalizeValue(int64(7)))
	assert.Equal(t, true, normalizeValue(true))
}

func TestTableMetaHelpers(t *testing.T) {
	table := &tableMeta{Columns: []*columnMeta{{Name: "code"}, {Name: "id", PrimaryKey: true}}}
	assert.Equal(t, "id", table.primaryKey())
	assert.True(t, table.hasColumn("code"))
	assert.False(t, table.hasColumn("missing"))

	assert.Empty(t, (&tableMeta{}).primaryKey())
}
