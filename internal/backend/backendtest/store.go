// Package backendtest provides an in-memory record backend for tests. Store
// implements backend.API directly; NewServer exposes the same store over HTTP
// with the routes of the real REST backend.
package backendtest

import (
	"context"
	"fmt"
	"net/http"
	"slices"
	"sort"
	"strconv"
	"sync"

	"github.com/kadirbelkuyu/tablescope/internal/backend"
	"github.com/kadirbelkuyu/tablescope/internal/envelope"
)

// Store keeps rows per table and counts every call it serves.
type Store struct {
	// ListShape wraps a page of rows into the payload List returns. The
	// default is a bare array.
	ListShape func(rows []envelope.Record) any
	// CountShape wraps the row total. The default is {"count": n}.
	CountShape func(total int) any
	// Before runs ahead of every operation with its call key, for example
	// "get:customers:5". Returning an error fails the call.
	Before func(ctx context.Context, key string) error

	mu       sync.Mutex
	schema   string
	rows     map[string][]envelope.Record
	keys     map[string]string
	nextID   map[string]int64
	calls    map[string]int
	editable []string
}

func NewStore(schema string) *Store {
	return &Store{
		schema: schema,
		rows:   make(map[string][]envelope.Record),
		keys:   make(map[string]string),
		nextID: make(map[string]int64),
		calls:  make(map[string]int),
	}
}

// Seed stores rows for a table keyed by the given primary key column.
func (s *Store) Seed(table, key string, rows ...envelope.Record) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.keys[table] = key
	for _, row := range rows {
		copied := make(envelope.Record, len(row))
		for k, v := range row {
			copied[k] = v
		}
		s.rows[table] = append(s.rows[table], copied)
		if id, ok := envelope.Number(row[key]); ok && id >= s.nextID[table] {
			s.nextID[table] = id
		}
	}
}

// SetEditable configures the editable-resources answer. Passing nil makes
// the endpoint report "not available".
func (s *Store) SetEditable(tables []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.editable = tables
}

// Calls returns how many times the given call key was served.
func (s *Store) Calls(key string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[key]
}

// CallKeys lists every call key seen so far, sorted.
func (s *Store) CallKeys() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	keys := make([]string, 0, len(s.calls))
	for key := range s.calls {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// Rows returns a snapshot of a table's rows.
func (s *Store) Rows(table string) []envelope.Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]envelope.Record(nil), s.rows[table]...)
}

func (s *Store) enter(ctx context.Context, key string) error {
	s.mu.Lock()
	s.calls[key]++
	before := s.Before
	s.mu.Unlock()

	if before != nil {
		if err := before(ctx, key); err != nil {
			return err
		}
	}
	return ctx.Err()
}

func (s *Store) Schema(ctx context.Context) ([]byte, error) {
	if err := s.enter(ctx, "schema"); err != nil {
		return nil, err
	}
	return []byte(s.schema), nil
}

func (s *Store) List(ctx context.Context, table string, page, perPage int) (any, error) {
	if err := s.enter(ctx, "list:"+table); err != nil {
		return nil, err
	}
	s.mu.Lock()
	rows, known := s.rows[table]
	s.mu.Unlock()
	if !known && !s.hasKey(table) {
		return nil, notFound(http.MethodGet, "/"+table+"/")
	}

	perPage = backend.ClampPerPage(perPage)
	if page < 1 {
		page = 1
	}
	start := (page - 1) * perPage
	if start > len(rows) {
		start = len(rows)
	}
	end := start + perPage
	if end > len(rows) {
		end = len(rows)
	}
	window := append([]envelope.Record(nil), rows[start:end]...)

	if s.ListShape != nil {
		return s.ListShape(window), nil
	}
	out := make([]any, len(window))
	for i, row := range window {
		out[i] = row
	}
	return out, nil
}

func (s *Store) Count(ctx context.Context, table string) (any, error) {
	if err := s.enter(ctx, "count:"+table); err != nil {
		return nil, err
	}
	s.mu.Lock()
	total := len(s.rows[table])
	s.mu.Unlock()

	if s.CountShape != nil {
		return s.CountShape(total), nil
	}
	return map[string]any{"count": total}, nil
}

func (s *Store) Get(ctx context.Context, table, id string) (any, error) {
	if err := s.enter(ctx, "get:"+table+":"+id); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	index := s.indexOf(table, id)
	if index < 0 {
		return nil, notFound(http.MethodGet, "/"+table+"/"+id)
	}
	return s.rows[table][index], nil
}

func (s *Store) Create(ctx context.Context, table string, payload map[string]any) (any, error) {
	if err := s.enter(ctx, "create:"+table); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	key := s.keys[table]
	if key == "" {
		key = "id"
		s.keys[table] = key
	}
	row := make(envelope.Record, len(payload)+1)
	for k, v := range payload {
		row[k] = v
	}
	if _, ok := row[key]; !ok {
		s.nextID[table]++
		row[key] = s.nextID[table]
	}
	s.rows[table] = append(s.rows[table], row)
	return row, nil
}

func (s *Store) Delete(ctx context.Context, table, id string) error {
	if err := s.enter(ctx, "delete:"+table+":"+id); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	index := s.indexOf(table, id)
	if index < 0 {
		return notFound(http.MethodDelete, "/"+table+"/"+id)
	}
	s.rows[table] = append(s.rows[table][:index], s.rows[table][index+1:]...)
	return nil
}

func (s *Store) Ping(ctx context.Context) error {
	return s.enter(ctx, "ping")
}

func (s *Store) EditableResources(ctx context.Context) ([]string, error) {
	if err := s.enter(ctx, "editable"); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.editable), nil
}

func (s *Store) hasKey(table string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.keys[table]
	return ok
}

// indexOf must be called with s.mu held.
func (s *Store) indexOf(table, id string) int {
	key := s.keys[table]
	for i, row := range s.rows[table] {
		if envelope.Scalar(row[key]) == id {
			return i
		}
	}
	return -1
}

func notFound(method, path string) error {
	return &backend.StatusError{
		Method: method,
		Path:   path,
		Status: http.StatusNotFound,
		Body:   map[string]any{"detail": "Not found"},
	}
}

// Failing returns a Before hook that fails every call whose key is listed.
func Failing(keys ...string) func(context.Context, string) error {
	set := make(map[string]struct{}, len(keys))
	for _, key := range keys {
		set[key] = struct{}{}
	}
	return func(_ context.Context, key string) error {
		if _, ok := set[key]; ok {
			return fmt.Errorf("simulated failure for %s", key)
		}
		return nil
	}
}

// ID formats an integer primary key the way call keys spell it.
func ID(id int64) string {
	return strconv.FormatInt(id, 10)
}
