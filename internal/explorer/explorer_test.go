package explorer_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"

	"github.com/kadirbelkuyu/tablescope/internal/backend/backendtest"
	"github.com/kadirbelkuyu/tablescope/internal/backend/httpapi"
	"github.com/kadirbelkuyu/tablescope/internal/envelope"
	"github.com/kadirbelkuyu/tablescope/internal/explorer"
	"github.com/kadirbelkuyu/tablescope/internal/form"
)

const shopSchema = `{"tables": [
  {"name": "customers", "columns": [
    {"name": "id", "type": "INTEGER", "primary_key": true, "autoincrement": true},
    {"name": "name", "type": "VARCHAR(80)", "nullable": false}
  ]},
  {"name": "orders", "columns": [
    {"name": "id", "type": "INTEGER", "primary_key": true, "autoincrement": true},
    {"name": "customer_id", "type": "INTEGER", "foreign_keys": ["customers.id"]},
    {"name": "note", "type": "VARCHAR(200)"},
    {"name": "created_at", "type": "DATETIME", "server_default": "now()"}
  ]},
  {"name": "audit_log", "columns": [
    {"name": "event", "type": "VARCHAR"},
    {"name": "at", "type": "TIMESTAMP"}
  ]}
]}`

func shopStore() *backendtest.Store {
	store := backendtest.NewStore(shopSchema)
	store.Seed("customers", "id",
		envelope.Record{"id": 1, "name": "Ada"},
		envelope.Record{"id": 2, "name": "Grace"},
	)
	store.Seed("orders", "id",
		envelope.Record{"id": 1, "customer_id": 1, "note": "first"},
		envelope.Record{"id": 2, "customer_id": 1, "note": "second"},
		envelope.Record{"id": 3, "customer_id": 2, "note": "third"},
	)
	store.Seed("audit_log", "event", envelope.Record{"event": "login", "at": "2025-01-01T00:00:00Z"})
	return store
}

func connected(t *testing.T, store *backendtest.Store, opts explorer.Options) *explorer.Explorer {
	t.Helper()
	e := explorer.New(store, opts)
	require.NoError(t, e.Connect(context.Background()))
	require.Equal(t, explorer.SchemaReady, e.Snapshot().State)
	return e
}

func TestOrdersReferencingCustomers(t *testing.T) {
	store := shopStore()
	srv := backendtest.NewServer(t, store, "token-123")
	client, err := httpapi.New(httpapi.Options{
		BaseURL:     srv.URL,
		TokenSource: oauth2.StaticTokenSource(&oauth2.Token{AccessToken: "token-123"}),
	})
	require.NoError(t, err)

	ctx := context.Background()
	e := explorer.New(client, explorer.Options{PerPage: 25})
	require.NoError(t, e.Connect(ctx))
	assert.Equal(t, 1, store.Calls("ping"))

	require.NoError(t, e.SelectTable(ctx, "orders"))
	snap := e.Snapshot()
	require.Equal(t, explorer.Loaded, snap.State)
	require.Len(t, snap.Items, 3)
	require.NotNil(t, snap.Total)
	assert.Equal(t, int64(3), *snap.Total)

	var cells []string
	for _, item := range snap.Items {
		cells = append(cells, e.Cell("customer_id", item["customer_id"]))
	}
	assert.Equal(t, []string{"Ada (#1)", "Ada (#1)", "Grace (#2)"}, cells)
	assert.Equal(t, "first", e.Cell("note", snap.Items[0]["note"]))
	assert.Equal(t, 1, store.Calls("get:customers:1"))
	assert.Equal(t, 1, store.Calls("get:customers:2"))

	fields := e.Form().Fields()
	require.Len(t, fields, 2)
	assert.Equal(t, "customer_id", fields[0].Name)
	assert.True(t, fields[0].Selector())

	options, truncated := e.Options("customer_id")
	assert.False(t, truncated)
	require.Len(t, options, 2)
	assert.Equal(t, "Ada", options[0].Label)
	assert.Equal(t, "2", options[1].Value)

	require.NoError(t, e.Form().Set("customer_id", options[1].Value))
	require.NoError(t, e.Form().Set("note", "fourth"))
	record, err := e.Create(ctx)
	require.NoError(t, err)
	assert.Equal(t, "4", envelope.Scalar(record["id"]))

	snap = e.Snapshot()
	assert.Equal(t, explorer.MsgRecordCreated, snap.Notice)
	require.Len(t, snap.Items, 4)
	assert.Equal(t, "Grace (#2)", e.Cell("customer_id", snap.Items[3]["customer_id"]))
	assert.Equal(t, 1, store.Calls("get:customers:2"), "labels are cached across refreshes")
	assert.Equal(t, "", e.Form().Value("note"), "the form resets after a create")
}

func TestSelectTableResetsBeforeFetching(t *testing.T) {
	store := shopStore()
	e := connected(t, store, explorer.Options{})
	ctx := context.Background()
	require.NoError(t, e.SelectTable(ctx, "orders"))
	require.NoError(t, e.Form().Set("note", "draft"))

	var (
		mu    sync.Mutex
		first *explorer.Snapshot
	)
	e.Subscribe(func(snap explorer.Snapshot) {
		mu.Lock()
		defer mu.Unlock()
		if first == nil {
			first = &snap
		}
	})

	require.NoError(t, e.SelectTable(ctx, "customers"))

	mu.Lock()
	require.NotNil(t, first)
	assert.Equal(t, "customers", first.Table.Slug)
	assert.Equal(t, explorer.Loading, first.State)
	assert.Nil(t, first.Items)
	assert.Nil(t, first.Total)
	assert.Equal(t, 1, first.Page)
	mu.Unlock()

	require.NoError(t, e.SelectTable(ctx, "orders"))
	assert.Equal(t, "", e.Form().Value("note"))
	assert.Equal(t, 2, store.Calls("get:customers:1"), "switching tables clears the label cache")
}

func TestDeleteWithoutPrimaryKeyIsRefused(t *testing.T) {
	store := shopStore()
	e := connected(t, store, explorer.Options{})
	ctx := context.Background()
	require.NoError(t, e.SelectTable(ctx, "audit_log"))

	asked := false
	deleted, err := e.Delete(ctx, e.Snapshot().Items[0], func(string) bool {
		asked = true
		return true
	})
	assert.False(t, deleted)
	assert.False(t, asked)
	require.ErrorIs(t, err, explorer.ErrNoIdentifier)
	assert.Equal(t, "Unable to determine record identifier for deletion.", err.Error())

	for _, key := range store.CallKeys() {
		assert.NotContains(t, key, "delete:")
	}
}

func TestDeleteAsksForConfirmation(t *testing.T) {
	store := shopStore()
	e := connected(t, store, explorer.Options{})
	ctx := context.Background()
	require.NoError(t, e.SelectTable(ctx, "customers"))
	target := e.Snapshot().Items[1]

	var prompt string
	deleted, err := e.Delete(ctx, target, func(p string) bool {
		prompt = p
		return false
	})
	require.NoError(t, err)
	assert.False(t, deleted)
	assert.Equal(t, "Delete Customers record #2?", prompt)
	assert.Zero(t, store.Calls("delete:customers:2"))

	lists := store.Calls("list:customers")
	deleted, err = e.Delete(ctx, target, func(string) bool { return true })
	require.NoError(t, err)
	assert.True(t, deleted)
	assert.Equal(t, 1, store.Calls("delete:customers:2"))
	assert.Equal(t, lists+1, store.Calls("list:customers"), "a delete refreshes the list")

	snap := e.Snapshot()
	assert.Equal(t, explorer.MsgRecordDeleted, snap.Notice)
	assert.Len(t, snap.Items, 1)
}

func TestDeleteFailureCarriesBackendMessage(t *testing.T) {
	store := shopStore()
	e := connected(t, store, explorer.Options{})
	ctx := context.Background()
	require.NoError(t, e.SelectTable(ctx, "customers"))

	_, err := e.Delete(ctx, envelope.Record{"id": 42, "name": "Nobody"}, func(string) bool { return true })
	var actionErr *explorer.ActionError
	require.True(t, errors.As(err, &actionErr))
	assert.Equal(t, "Not found", actionErr.Message)
}

func TestFetchFailureIsRecoverable(t *testing.T) {
	store := shopStore()
	e := connected(t, store, explorer.Options{})
	ctx := context.Background()

	store.Before = backendtest.Failing("count:customers")
	require.Error(t, e.SelectTable(ctx, "customers"))
	snap := e.Snapshot()
	assert.Equal(t, explorer.Error, snap.State)
	assert.Equal(t, "Unable to load Customers. Refresh to try again.", snap.Message)
	assert.Empty(t, snap.Items)

	store.Before = nil
	require.NoError(t, e.Refresh(ctx))
	snap = e.Snapshot()
	assert.Equal(t, explorer.Loaded, snap.State)
	assert.Empty(t, snap.Message)
	assert.Len(t, snap.Items, 2)
}

func TestSchemaParseErrorIsFatal(t *testing.T) {
	store := backendtest.NewStore(`{"version": 2}`)
	e := explorer.New(store, explorer.Options{})

	require.Error(t, e.LoadSchema(context.Background()))
	snap := e.Snapshot()
	assert.Equal(t, explorer.Fatal, snap.State)
	assert.Contains(t, snap.Message, "The schema document is invalid")

	assert.ErrorIs(t, e.SelectTable(context.Background(), "customers"), explorer.ErrFatal)
}

func TestUnknownTable(t *testing.T) {
	e := connected(t, shopStore(), explorer.Options{})
	assert.ErrorIs(t, e.SelectTable(context.Background(), "invoices"), explorer.ErrUnknownTable)
	assert.ErrorIs(t, e.Refresh(context.Background()), explorer.ErrNoTable)
}

func TestTablesOutsideEditableResourcesAreReadOnly(t *testing.T) {
	store := shopStore()
	store.SetEditable([]string{"orders"})
	e := connected(t, store, explorer.Options{})
	ctx := context.Background()

	require.NoError(t, e.SelectTable(ctx, "customers"))
	assert.True(t, e.Snapshot().ReadOnly)

	_, err := e.Create(ctx)
	assert.ErrorIs(t, err, explorer.ErrReadOnly)
	_, err = e.Delete(ctx, e.Snapshot().Items[0], func(string) bool { return true })
	assert.ErrorIs(t, err, explorer.ErrReadOnly)
	assert.Zero(t, store.Calls("create:customers"))

	require.NoError(t, e.SelectTable(ctx, "orders"))
	assert.False(t, e.Snapshot().ReadOnly)
}

func TestCreateFailureKeepsForm(t *testing.T) {
	store := shopStore()
	store.Before = backendtest.Failing("create:customers")
	e := connected(t, store, explorer.Options{})
	ctx := context.Background()
	require.NoError(t, e.SelectTable(ctx, "customers"))
	require.NoError(t, e.Form().Set("name", "Barbara"))

	_, err := e.Create(ctx)
	var submitErr *form.SubmitError
	require.True(t, errors.As(err, &submitErr))
	assert.Equal(t, form.DefaultFailure, submitErr.Message)
	assert.Equal(t, "Barbara", e.Form().Value("name"))
	assert.Empty(t, e.Snapshot().Notice)
}

func TestPaging(t *testing.T) {
	store := shopStore()
	for i := 3; i <= 5; i++ {
		store.Seed("customers", "id", envelope.Record{"id": i, "name": "Customer"})
	}
	e := connected(t, store, explorer.Options{PerPage: 2})
	ctx := context.Background()

	require.NoError(t, e.SelectTable(ctx, "customers"))
	snap := e.Snapshot()
	assert.False(t, snap.HasPrev)
	assert.True(t, snap.HasNext)

	require.NoError(t, e.NextPage(ctx))
	require.NoError(t, e.NextPage(ctx))
	snap = e.Snapshot()
	assert.Equal(t, 3, snap.Page)
	assert.Len(t, snap.Items, 1)
	assert.False(t, snap.HasNext)

	require.NoError(t, e.NextPage(ctx))
	assert.Equal(t, 3, e.Snapshot().Page)

	require.NoError(t, e.PrevPage(ctx))
	snap = e.Snapshot()
	assert.Equal(t, 2, snap.Page)
	assert.Equal(t, "3", envelope.Scalar(snap.Items[0]["id"]))

	require.NoError(t, e.SelectTable(ctx, "customers"))
	assert.Equal(t, 1, e.Snapshot().Page)
}

func TestSlowLabelsShowPlaceholder(t *testing.T) {
	store := shopStore()
	release := make(chan struct{})
	store.Before = func(ctx context.Context, key string) error {
		if key == "get:customers:2" {
			select {
			case <-release:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		return nil
	}
	e := connected(t, store, explorer.Options{})

	loaded := make(chan struct{})
	var once sync.Once
	e.Subscribe(func(snap explorer.Snapshot) {
		if snap.State == explorer.Loaded {
			once.Do(func() { close(loaded) })
		}
	})

	done := make(chan error, 1)
	go func() { done <- e.SelectTable(context.Background(), "orders") }()

	select {
	case <-loaded:
	case <-time.After(2 * time.Second):
		t.Fatal("page never loaded")
	}
	assert.Eventually(t, func() bool {
		return e.Cell("customer_id", 1) == "Ada (#1)"
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, "…", e.Cell("customer_id", 2))

	close(release)
	require.NoError(t, <-done)
	assert.Equal(t, "Grace (#2)", e.Cell("customer_id", 2))
}

func TestReselectingTableRefetchesLabelsStillInFlight(t *testing.T) {
	store := shopStore()
	entered := make(chan struct{})
	var first sync.Once
	store.Before = func(ctx context.Context, key string) error {
		if key != "get:customers:1" {
			return nil
		}
		blocked := false
		first.Do(func() { blocked = true })
		if !blocked {
			return nil
		}
		close(entered)
		<-ctx.Done()
		return ctx.Err()
	}
	e := connected(t, store, explorer.Options{})

	oldCtx, cancelOld := context.WithCancel(context.Background())
	defer cancelOld()
	oldDone := make(chan error, 1)
	go func() { oldDone <- e.SelectTable(oldCtx, "orders") }()

	select {
	case <-entered:
	case <-time.After(2 * time.Second):
		t.Fatal("label lookup never started")
	}

	ctx := context.Background()
	require.NoError(t, e.SelectTable(ctx, "customers"))

	done := make(chan error, 1)
	go func() { done <- e.SelectTable(ctx, "orders") }()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("reselected table waited on the abandoned lookup")
	}

	cancelOld()
	<-oldDone

	assert.Equal(t, 2, store.Calls("get:customers:1"))
	assert.Equal(t, "Ada (#1)", e.Cell("customer_id", 1))
	assert.Equal(t, "Grace (#2)", e.Cell("customer_id", 2))
	assert.Equal(t, "orders", e.Snapshot().Table.Slug)
}
