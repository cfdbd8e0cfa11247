package app

import (
	"bufio"
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kadirbelkuyu/tablescope/internal/backend/backendtest"
	"github.com/kadirbelkuyu/tablescope/internal/config"
	"github.com/kadirbelkuyu/tablescope/internal/envelope"
)

const shopSchema = `{"tables": [
  {"name": "customers", "columns": [
    {"name": "id", "type": "INTEGER", "primary_key": true, "autoincrement": true},
    {"name": "name", "type": "VARCHAR(80)", "nullable": false}
  ]},
  {"name": "orders", "columns": [
    {"name": "id", "type": "INTEGER", "primary_key": true, "autoincrement": true},
    {"name": "customer_id", "type": "INTEGER", "foreign_keys": ["customers.id"]}
  ]}
]}`

func shopServer(t *testing.T) *backendtest.Server {
	t.Helper()
	store := backendtest.NewStore(shopSchema)
	store.Seed("customers", "id",
		envelope.Record{"id": 1, "name": "Ada"},
		envelope.Record{"id": 2, "name": "Grace"},
		envelope.Record{"id": 3, "name": "Linus"},
	)
	store.Seed("orders", "id")
	store.SetEditable([]string{"orders"})

	t.Setenv(config.DefaultTokenEnv, "secret")
	return backendtest.NewServer(t, store, "secret")
}

func shopConfig(baseURL string) *config.Config {
	cfg := config.Default()
	cfg.Source.BaseURL = baseURL
	return cfg
}

func quietService(out io.Writer) *Service {
	svc := NewService(out)
	svc.progress = io.Discard
	return svc
}

func readLines(t *testing.T, r io.Reader) []map[string]any {
	t.Helper()
	var lines []map[string]any
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		var record map[string]any
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &record))
		lines = append(lines, record)
	}
	require.NoError(t, scanner.Err())
	return lines
}

func TestTablesPrintsCatalog(t *testing.T) {
	srv := shopServer(t)
	var out bytes.Buffer

	require.NoError(t, quietService(&out).Tables(context.Background(), shopConfig(srv.URL), false))

	printed := out.String()
	assert.Contains(t, printed, "Tables on "+srv.URL+" (http)")
	assert.Contains(t, printed, "1. customers (Name: Customers, Columns: 2, read-only)")
	assert.Contains(t, printed, "2. orders (Name: Orders, Columns: 2)")
	assert.Contains(t, printed, "Total tables: 2")
}

func TestPing(t *testing.T) {
	srv := shopServer(t)
	var out bytes.Buffer

	require.NoError(t, quietService(&out).Ping(context.Background(), shopConfig(srv.URL), false))
	assert.Equal(t, srv.URL+" is reachable.\n", out.String())
}

func TestDumpWalksEveryPage(t *testing.T) {
	srv := shopServer(t)
	target := filepath.Join(t.TempDir(), "customers.jsonl")

	err := quietService(io.Discard).Dump(context.Background(), shopConfig(srv.URL), DumpRequest{
		Table:   "customers",
		Output:  target,
		PerPage: 2,
	})
	require.NoError(t, err)

	file, err := os.Open(target)
	require.NoError(t, err)
	defer file.Close()

	lines := readLines(t, file)
	require.Len(t, lines, 3)
	var names []string
	for _, line := range lines {
		names = append(names, line["name"].(string))
	}
	assert.Equal(t, []string{"Ada", "Grace", "Linus"}, names)
}

func TestDumpToOutputAndEmptyTable(t *testing.T) {
	srv := shopServer(t)

	var out bytes.Buffer
	err := quietService(&out).Dump(context.Background(), shopConfig(srv.URL), DumpRequest{Table: "customers", Output: "-"})
	require.NoError(t, err)
	assert.Len(t, readLines(t, &out), 3)

	out.Reset()
	err = quietService(&out).Dump(context.Background(), shopConfig(srv.URL), DumpRequest{Table: "orders"})
	require.NoError(t, err)
	assert.Empty(t, strings.TrimSpace(out.String()))
}

func TestDumpRejectsUnknownTable(t *testing.T) {
	srv := shopServer(t)

	err := quietService(io.Discard).Dump(context.Background(), shopConfig(srv.URL), DumpRequest{Table: "invoices"})
	require.EqualError(t, err, `unknown table "invoices"`)
}

func TestWorkflowsReportUnreachableSource(t *testing.T) {
	srv := shopServer(t)
	url := srv.URL
	srv.Close()

	svc := quietService(io.Discard)
	assert.Error(t, svc.Ping(context.Background(), shopConfig(url), false))
	assert.Error(t, svc.Tables(context.Background(), shopConfig(url), false))

	err := svc.Tables(context.Background(), config.Default(), false)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "base_url")
}
