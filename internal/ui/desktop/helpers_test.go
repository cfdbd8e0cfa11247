package desktop

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kadirbelkuyu/tablescope/internal/backend/backendtest"
	"github.com/kadirbelkuyu/tablescope/internal/config"
	"github.com/kadirbelkuyu/tablescope/internal/envelope"
	"github.com/kadirbelkuyu/tablescope/internal/explorer"
	"github.com/kadirbelkuyu/tablescope/internal/form"
	"github.com/kadirbelkuyu/tablescope/internal/profiles"
	"github.com/kadirbelkuyu/tablescope/internal/relation"
)

const shopSchema = `{"tables": [
  {"name": "customers", "columns": [
    {"name": "id", "type": "INTEGER", "primary_key": true, "autoincrement": true},
    {"name": "name", "type": "VARCHAR(80)", "nullable": false}
  ]},
  {"name": "orders", "columns": [
    {"name": "id", "type": "INTEGER", "primary_key": true, "autoincrement": true},
    {"name": "customer_id", "type": "INTEGER", "foreign_keys": ["customers.id"], "nullable": false},
    {"name": "note", "type": "TEXT"}
  ]}
]}`

func shop(t *testing.T) *explorer.Explorer {
	t.Helper()
	store := backendtest.NewStore(shopSchema)
	store.Seed("customers", "id", envelope.Record{"id": 7, "name": "Ada"})
	store.Seed("orders", "id",
		envelope.Record{"id": 1, "customer_id": 7, "note": "rush"},
		envelope.Record{"id": 2, "customer_id": 7},
	)
	store.SetEditable([]string{"orders"})
	ex := explorer.New(store, explorer.Options{})
	require.NoError(t, ex.Connect(context.Background()))
	return ex
}

func TestGridRowsAndSummary(t *testing.T) {
	ex := shop(t)
	require.NoError(t, ex.SelectTable(context.Background(), "orders"))
	snap := ex.Snapshot()

	columns, rows := gridRows(ex, snap.Table, snap.Items)
	assert.Equal(t, []string{"id", "customer_id", "note"}, columns)
	assert.Equal(t, [][]string{{"1", "Ada (#7)", "rush"}, {"2", "Ada (#7)", "NULL"}}, rows)

	assert.Equal(t, "Orders • page 1 • 2 total records", summary(snap))

	require.NoError(t, ex.SelectTable(context.Background(), "customers"))
	assert.Contains(t, summary(ex.Snapshot()), "read-only")

	assert.Equal(t, "Select a table to inspect.", summary(explorer.Snapshot{}))
	assert.Equal(t, "bad schema", summary(explorer.Snapshot{State: explorer.Fatal, Message: "bad schema"}))
}

func TestTableTitle(t *testing.T) {
	ex := shop(t)
	customers, ok := ex.Catalog().Table("customers")
	require.True(t, ok)
	assert.Equal(t, "Customers (read-only)", tableTitle(customers, ex.ReadOnly("customers")))

	orders, ok := ex.Catalog().Table("orders")
	require.True(t, ok)
	assert.Equal(t, "Orders", tableTitle(orders, ex.ReadOnly("orders")))
}

func TestSelectChoicesKeepsLabelsUnique(t *testing.T) {
	labels, values := selectChoices([]relation.Option{
		{Value: "1", Label: "Ada"},
		{Value: "2", Label: "Ada"},
		{Value: "3", Label: "#3"},
	})
	assert.Equal(t, []string{noSelection, "Ada", "Ada (2)", "#3"}, labels)
	assert.Equal(t, "", values[noSelection])
	assert.Equal(t, "1", values["Ada"])
	assert.Equal(t, "2", values["Ada (2)"])
}

func TestFieldLabel(t *testing.T) {
	d := relation.Descriptor{SourceColumn: "customer_id", TargetTable: "customers", TargetKey: "id", TargetDisplay: "name"}
	assert.Equal(t, "Customer Id * (first 100)", fieldLabel(form.Field{Label: "Customer Id", Required: true, Relation: &d}, true))
	assert.Equal(t, "Note", fieldLabel(form.Field{Label: "Note"}, true))
}

func TestFailureText(t *testing.T) {
	assert.Equal(t, "name is required", failureText(&form.SubmitError{Message: "name is required"}))
	assert.Equal(t, explorer.MsgNoIdentifier, failureText(&explorer.ActionError{Message: explorer.MsgNoIdentifier}))
	assert.Equal(t, "A create request is already in progress.", failureText(form.ErrSubmitInFlight))
	assert.Equal(t, "boom", failureText(errors.New("boom")))
}

func TestBuildConfig(t *testing.T) {
	t.Run("rest", func(t *testing.T) {
		cfg, err := buildConfig(profileValues{Source: "REST API", BaseURL: " https://api.example.com ", PageSize: "25"})
		require.NoError(t, err)
		assert.Equal(t, config.SourceHTTP, cfg.Source.Type)
		assert.Equal(t, "https://api.example.com", cfg.Source.BaseURL)
		assert.Equal(t, config.DefaultTokenEnv, cfg.Source.TokenEnv)
		assert.Equal(t, 25, cfg.Source.PageSize)
	})

	t.Run("postgres", func(t *testing.T) {
		cfg, err := buildConfig(profileValues{
			Source: "PostgreSQL", Host: "db", Database: "shop", Username: "app", Password: " p w ", URI: "ignored",
		})
		require.NoError(t, err)
		assert.Equal(t, config.SourcePostgres, cfg.Source.Type)
		assert.Equal(t, 5432, cfg.Database.Port)
		assert.Equal(t, "disable", cfg.Database.SSLMode)
		assert.Equal(t, " p w ", cfg.Database.Password, "passwords are kept verbatim")
		assert.Empty(t, cfg.Database.URI)
	})

	t.Run("mongo", func(t *testing.T) {
		cfg, err := buildConfig(profileValues{Source: "MongoDB", URI: "mongodb://localhost", Database: "shop", Schema: "public"})
		require.NoError(t, err)
		assert.Equal(t, config.SourceMongo, cfg.Source.Type)
		assert.Equal(t, 27017, cfg.Database.Port)
		assert.Empty(t, cfg.Database.Schema)
	})

	t.Run("invalid", func(t *testing.T) {
		_, err := buildConfig(profileValues{})
		assert.EqualError(t, err, "select a record source")

		_, err = buildConfig(profileValues{Source: "REST API"})
		assert.Error(t, err)

		_, err = buildConfig(profileValues{Source: "PostgreSQL", Host: "db", Database: "shop", Port: "abc"})
		assert.EqualError(t, err, "port must be a valid number")

		_, err = buildConfig(profileValues{Source: "REST API", BaseURL: "https://x", PageSize: "0"})
		assert.EqualError(t, err, "page size must be a positive number")
	})
}

func TestRenderSourceRoundTrip(t *testing.T) {
	for _, name := range sourceNames {
		assert.Equal(t, name, renderSource(normalizeSourceSelection(name)))
	}
	assert.Equal(t, "REST API", renderSource(""))
}

func TestMatchProfiles(t *testing.T) {
	items := []profiles.Profile{
		{Name: "prod-api", Type: config.SourceHTTP},
		{Name: "analytics", Type: config.SourcePostgres},
		{Name: "events", Type: config.SourceMongo},
	}
	assert.Nil(t, matchProfiles(items, "  "))
	assert.Equal(t, []int{0}, matchProfiles(items, "PROD"))
	assert.Equal(t, []int{1}, matchProfiles(items, "postgres"))
	assert.NotNil(t, matchProfiles(items, "nothing"))
	assert.Empty(t, matchProfiles(items, "nothing"))

	assert.Equal(t, 2, indexOfProfile(items, "events"))
	assert.Equal(t, -1, indexOfProfile(items, "missing"))
}

func TestHumanizeDuration(t *testing.T) {
	assert.Equal(t, "POSTGRES", profileMeta(profiles.Profile{Type: config.SourcePostgres}))
	assert.Equal(t, "HTTP • https://api.example.com • 5 min ago", profileMeta(profiles.Profile{
		Type:     config.SourceHTTP,
		Target:   "https://api.example.com",
		Modified: time.Now().Add(-5*time.Minute - time.Second),
	}))
	assert.Equal(t, "moments ago", humanizeDuration(10*time.Second))
	assert.Equal(t, "5 min ago", humanizeDuration(5*time.Minute))
	assert.Equal(t, "3 h ago", humanizeDuration(3*time.Hour))
	assert.Equal(t, "2 d ago", humanizeDuration(48*time.Hour))
}
