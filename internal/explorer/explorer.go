// Package explorer composes the catalog, record pages, relations and the create
// form around one selected table.
package explorer

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/kadirbelkuyu/tablescope/internal/backend"
	"github.com/kadirbelkuyu/tablescope/internal/catalog"
	"github.com/kadirbelkuyu/tablescope/internal/envelope"
	"github.com/kadirbelkuyu/tablescope/internal/form"
	"github.com/kadirbelkuyu/tablescope/internal/records"
	"github.com/kadirbelkuyu/tablescope/internal/relation"
	"github.com/kadirbelkuyu/tablescope/pkg/logger"
)

type Options struct {
	PerPage int
	Logger  *logger.Logger
}

// Explorer is safe for use from several goroutines. Listeners are called on
// the goroutine that changed the state.
type Explorer struct {
	api        backend.API
	log        *logger.Logger
	controller *records.Controller
	resolver   *relation.Resolver

	mu          sync.Mutex
	state       State
	scope       *relation.Scope
	catalog     *catalog.Catalog
	editable    map[string]bool
	table       *catalog.Table
	descriptors map[string]relation.Descriptor
	form        *form.Form
	page        int
	perPage     int
	items       []envelope.Record
	total       *int64
	message     string
	notice      string
	listeners   []func(Snapshot)
}

func New(api backend.API, opts Options) *Explorer {
	log := opts.Logger
	if log == nil {
		log = logger.Discard()
	}
	perPage := opts.PerPage
	if perPage <= 0 {
		perPage = records.DefaultPageSize
	}
	return &Explorer{
		api:         api,
		log:         log,
		controller:  records.NewController(api, log),
		resolver:    relation.NewResolver(api, log),
		state:       Idle,
		scope:       relation.NewScope(),
		descriptors: map[string]relation.Descriptor{},
		page:        1,
		perPage:     backend.ClampPerPage(perPage),
	}
}

// Subscribe registers a listener for state changes.
func (e *Explorer) Subscribe(fn func(Snapshot)) {
	e.mu.Lock()
	e.listeners = append(e.listeners, fn)
	e.mu.Unlock()
}

func (e *Explorer) Snapshot() Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.snapshotLocked()
}

func (e *Explorer) snapshotLocked() Snapshot {
	snap := Snapshot{
		State:   e.state,
		Tables:  e.catalog.Tables(),
		Table:   e.table,
		Page:    e.page,
		PerPage: e.perPage,
		Items:   e.items,
		Total:   e.total,
		HasPrev: e.page > 1,
		Message: e.message,
		Notice:  e.notice,
	}
	if e.table != nil {
		snap.ReadOnly = e.readOnlyLocked(e.table.Slug)
	}
	if e.total != nil {
		snap.HasNext = int64(e.page*e.perPage) < *e.total
	} else {
		snap.HasNext = len(e.items) == e.perPage
	}
	return snap
}

func (e *Explorer) notify() {
	e.mu.Lock()
	snap := e.snapshotLocked()
	listeners := slices.Clone(e.listeners)
	e.mu.Unlock()

	for _, fn := range listeners {
		fn(snap)
	}
}

// Connect checks the backend health when it exposes a health endpoint, then
// loads the schema.
func (e *Explorer) Connect(ctx context.Context) error {
	if pinger, ok := e.api.(backend.Pinger); ok {
		if err := pinger.Ping(ctx); err != nil {
			e.log.WithError(err).Warn("backend health check failed")
		}
	}
	return e.LoadSchema(ctx)
}

// LoadSchema fetches and parses the schema document. A document that cannot
// be parsed stops the explorer for the session.
func (e *Explorer) LoadSchema(ctx context.Context) error {
	raw, err := e.api.Schema(ctx)
	if err != nil {
		e.fail(Error, MsgSchemaFailed)
		return fmt.Errorf("failed to fetch schema: %w", err)
	}

	cat, err := catalog.Load(raw)
	if err != nil {
		var parseErr *catalog.SchemaParseError
		if errors.As(err, &parseErr) {
			e.fail(Fatal, "The schema document is invalid: "+parseErr.Reason)
		} else {
			e.fail(Fatal, MsgSchemaFailed)
		}
		return err
	}

	editable := e.editableResources(ctx)

	e.mu.Lock()
	e.catalog = cat
	e.editable = editable
	e.state = SchemaReady
	e.message = ""
	e.table = nil
	e.items = nil
	e.total = nil
	e.mu.Unlock()

	e.log.WithField("tables", cat.Len()).Info("schema loaded")
	e.notify()
	return nil
}

func (e *Explorer) editableResources(ctx context.Context) map[string]bool {
	lister, ok := e.api.(backend.ResourceLister)
	if !ok {
		return nil
	}
	resources, err := lister.EditableResources(ctx)
	if err != nil {
		e.log.WithError(err).Debug("editable resources unavailable")
		return nil
	}
	if resources == nil {
		return nil
	}
	out := make(map[string]bool, len(resources))
	for _, name := range resources {
		out[name] = true
	}
	return out
}

func (e *Explorer) fail(state State, message string) {
	e.mu.Lock()
	e.state = state
	e.message = message
	e.mu.Unlock()
	e.notify()
}

func (e *Explorer) Catalog() *catalog.Catalog {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.catalog
}

// ReadOnly reports whether the backend said the table refuses writes.
func (e *Explorer) ReadOnly(slug string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.readOnlyLocked(slug)
}

func (e *Explorer) readOnlyLocked(slug string) bool {
	return e.editable != nil && !e.editable[slug]
}

// SelectTable makes slug the active table. The page, count, relation cache
// and form are reset in that order before the first page is requested.
func (e *Explorer) SelectTable(ctx context.Context, slug string) error {
	e.mu.Lock()
	if e.state == Fatal {
		e.mu.Unlock()
		return ErrFatal
	}
	table, ok := e.catalog.Table(slug)
	if !ok {
		e.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrUnknownTable, slug)
	}
	e.page = 1
	e.items = nil
	e.total = nil
	scope := relation.NewScope()
	scope.Reset(slug)
	e.scope = scope
	descriptors := relation.Derive(table, e.catalog)
	e.form = form.New(slug, form.EditableFields(table, descriptors))
	e.table = table
	e.descriptors = descriptors
	e.message = ""
	e.notice = ""
	e.mu.Unlock()

	e.log.WithField("table", slug).Debug("table selected")

	var options errgroup.Group
	if len(descriptors) > 0 {
		options.Go(func() error {
			return e.resolver.LoadOptions(ctx, scope, descriptors)
		})
	}
	err := e.load(ctx)
	_ = options.Wait()
	e.notify()
	return err
}

// Refresh reloads the current page.
func (e *Explorer) Refresh(ctx context.Context) error {
	if _, err := e.activeTable(); err != nil {
		return err
	}
	return e.load(ctx)
}

// NextPage moves forward one page when more records are known to exist.
func (e *Explorer) NextPage(ctx context.Context) error {
	e.mu.Lock()
	if e.table == nil {
		e.mu.Unlock()
		return ErrNoTable
	}
	if !e.snapshotLocked().HasNext {
		e.mu.Unlock()
		return nil
	}
	e.page++
	e.mu.Unlock()
	return e.load(ctx)
}

func (e *Explorer) PrevPage(ctx context.Context) error {
	e.mu.Lock()
	if e.table == nil {
		e.mu.Unlock()
		return ErrNoTable
	}
	if e.page <= 1 {
		e.mu.Unlock()
		return nil
	}
	e.page--
	e.mu.Unlock()
	return e.load(ctx)
}

func (e *Explorer) activeTable() (*catalog.Table, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state == Fatal {
		return nil, ErrFatal
	}
	if e.table == nil {
		return nil, ErrNoTable
	}
	return e.table, nil
}

// load fetches the current page and resolves its relation labels. A fetch
// superseded by a newer one leaves the state alone.
func (e *Explorer) load(ctx context.Context) error {
	e.mu.Lock()
	table, pageNumber, perPage := e.table, e.page, e.perPage
	scope, descriptors := e.scope, e.descriptors
	e.state = Loading
	e.message = ""
	e.mu.Unlock()
	e.notify()

	page, err := e.controller.FetchPage(ctx, table.Slug, pageNumber, perPage)
	if errors.Is(err, records.ErrSuperseded) {
		return nil
	}
	if err != nil {
		if ctx.Err() != nil {
			return err
		}
		e.fail(Error, fmt.Sprintf("Unable to load %s. Refresh to try again.", table.DisplayName))
		return err
	}

	e.mu.Lock()
	if e.table != table || !e.controller.Current(page.Generation) {
		e.mu.Unlock()
		return nil
	}
	e.items = page.Items
	e.total = page.Total
	e.state = Loaded
	e.mu.Unlock()
	e.notify()

	if len(descriptors) == 0 || len(page.Items) == 0 {
		return nil
	}
	if err := e.resolver.ResolveLabels(ctx, scope, descriptors, page.Items); err != nil {
		return err
	}
	e.notify()
	return nil
}

// Descriptors returns the relation columns of the active table.
func (e *Explorer) Descriptors() map[string]relation.Descriptor {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make(map[string]relation.Descriptor, len(e.descriptors))
	for name, d := range e.descriptors {
		out[name] = d
	}
	return out
}

// Cell renders a record value for display. Relation columns show their
// resolved label.
func (e *Explorer) Cell(column string, value any) string {
	e.mu.Lock()
	d, isRelation := e.descriptors[column]
	scope := e.scope
	e.mu.Unlock()

	raw := envelope.Scalar(value)
	if !isRelation {
		return raw
	}
	return scope.Render(d, raw)
}

// Options returns the selector options of a relation column of the active
// table and whether they were truncated.
func (e *Explorer) Options(column string) ([]relation.Option, bool) {
	return e.currentScope().Options(column)
}

func (e *Explorer) OptionError(column string) error {
	return e.currentScope().OptionError(column)
}

func (e *Explorer) currentScope() *relation.Scope {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.scope
}

// Form returns the create form of the active table.
func (e *Explorer) Form() *form.Form {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.form
}

// Create submits the active form. On success the list is refreshed.
func (e *Explorer) Create(ctx context.Context) (envelope.Record, error) {
	table, err := e.activeTable()
	if err != nil {
		return nil, err
	}
	if e.ReadOnly(table.Slug) {
		return nil, &ActionError{Message: MsgReadOnly, Err: ErrReadOnly}
	}

	e.mu.Lock()
	f := e.form
	e.mu.Unlock()

	record, err := f.Submit(ctx, e.api)
	if err != nil {
		e.log.WithField("table", table.Slug).WithError(err).Warn("create failed")
		return nil, err
	}

	e.log.WithField("table", table.Slug).Info("record created")
	e.setNotice(table, MsgRecordCreated)
	return record, e.Refresh(ctx)
}

// Delete removes record from the active table once confirm approves the
// prompt. It reports whether the record was deleted.
func (e *Explorer) Delete(ctx context.Context, record envelope.Record, confirm func(prompt string) bool) (bool, error) {
	table, err := e.activeTable()
	if err != nil {
		return false, err
	}
	pk, ok := table.PrimaryKey()
	if !ok {
		return false, &ActionError{Message: MsgNoIdentifier, Err: ErrNoIdentifier}
	}
	id := envelope.Scalar(record[pk.Name])
	if id == "" {
		return false, &ActionError{Message: MsgNoIdentifier, Err: ErrNoIdentifier}
	}
	if e.ReadOnly(table.Slug) {
		return false, &ActionError{Message: MsgReadOnly, Err: ErrReadOnly}
	}

	if confirm == nil || !confirm(fmt.Sprintf("Delete %s record #%s?", table.DisplayName, id)) {
		return false, nil
	}

	entry := e.log.WithField("table", table.Slug).WithField("id", id)
	if err := e.api.Delete(ctx, table.Slug, id); err != nil {
		if ctx.Err() != nil {
			return false, ctx.Err()
		}
		entry.WithError(err).Warn("delete failed")
		message, ok := backend.Message(err)
		if !ok {
			message = MsgDeleteFailed
		}
		return false, &ActionError{Message: message, Err: err}
	}

	entry.Info("record deleted")
	e.setNotice(table, MsgRecordDeleted)
	return true, e.Refresh(ctx)
}

func (e *Explorer) setNotice(table *catalog.Table, notice string) {
	e.mu.Lock()
	if e.table == table {
		e.notice = notice
	}
	e.mu.Unlock()
}
