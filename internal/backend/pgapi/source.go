// Package pgapi answers the record API straight from a PostgreSQL database.
// The schema document is built from information_schema, so the explorer works
// the same as against the REST backend.
package pgapi

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/lib/pq"

	"github.com/kadirbelkuyu/tablescope/internal/backend"
	"github.com/kadirbelkuyu/tablescope/internal/config"
	"github.com/kadirbelkuyu/tablescope/pkg/logger"
)

const defaultSchema = "public"

// Source implements backend.API and backend.Pinger over a *sql.DB.
type Source struct {
	db     *sql.DB
	schema string
	log    *logger.Logger
	owned  bool

	mu     sync.Mutex
	tables map[string]*tableMeta
}

// Open connects with the postgres settings of cfg and checks the connection.
func Open(ctx context.Context, cfg *config.Config, log *logger.Logger) (*Source, error) {
	if cfg.Database.Type != "" && cfg.Database.Type != "postgres" {
		return nil, fmt.Errorf("unsupported database type for SQL connection: %s", cfg.Database.Type)
	}

	db, err := sql.Open("postgres", cfg.GetConnectionString())
	if err != nil {
		return nil, fmt.Errorf("failed to open database connection: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("unable to reach database: %w", err)
	}

	source := New(db, cfg.Database.Schema, log)
	source.owned = true
	return source, nil
}

// New wraps an existing connection pool. Close leaves pools passed here open.
func New(db *sql.DB, schema string, log *logger.Logger) *Source {
	if strings.TrimSpace(schema) == "" {
		schema = defaultSchema
	}
	if log == nil {
		log = logger.Discard()
	}
	return &Source{db: db, schema: schema, log: log}
}

func (s *Source) Close() error {
	if !s.owned {
		return nil
	}
	return s.db.Close()
}

func (s *Source) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Schema introspects the database and returns the schema document.
func (s *Source) Schema(ctx context.Context) ([]byte, error) {
	tables, err := s.introspect(ctx)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.tables = make(map[string]*tableMeta, len(tables))
	for _, table := range tables {
		s.tables[table.Name] = table
	}
	s.mu.Unlock()

	return encodeDocument(tables, time.Now())
}

func (s *Source) table(ctx context.Context, name string) (*tableMeta, error) {
	s.mu.Lock()
	loaded := s.tables != nil
	s.mu.Unlock()

	if !loaded {
		if _, err := s.Schema(ctx); err != nil {
			return nil, err
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	table, ok := s.tables[name]
	if !ok {
		return nil, statusError(http.MethodGet, name, http.StatusNotFound, "Unknown table")
	}
	return table, nil
}

func (s *Source) qualified(table *tableMeta) string {
	return pq.QuoteIdentifier(s.schema) + "." + pq.QuoteIdentifier(table.Name)
}

func (s *Source) List(ctx context.Context, name string, page, perPage int) (any, error) {
	table, err := s.table(ctx, name)
	if err != nil {
		return nil, err
	}
	perPage = backend.ClampPerPage(perPage)
	if page < 1 {
		page = 1
	}

	query := "SELECT * FROM " + s.qualified(table)
	if pk := table.primaryKey(); pk != "" {
		query += " ORDER BY " + pq.QuoteIdentifier(pk)
	}
	query += " LIMIT $1 OFFSET $2"

	rows, err := s.db.QueryContext(ctx, query, perPage, (page-1)*perPage)
	if err != nil {
		return nil, s.translate(http.MethodGet, name, err)
	}
	defer rows.Close()

	records, err := scanRecords(rows)
	if err != nil {
		return nil, s.translate(http.MethodGet, name, err)
	}
	items := make([]any, len(records))
	for i, record := range records {
		items[i] = record
	}
	return map[string]any{"items": items, "page": page, "per_page": perPage}, nil
}

func (s *Source) Count(ctx context.Context, name string) (any, error) {
	table, err := s.table(ctx, name)
	if err != nil {
		return nil, err
	}
	var count int64
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+s.qualified(table)).Scan(&count); err != nil {
		return nil, s.translate(http.MethodGet, name, err)
	}
	return map[string]any{"count": count}, nil
}

func (s *Source) Get(ctx context.Context, name, id string) (any, error) {
	table, err := s.table(ctx, name)
	if err != nil {
		return nil, err
	}
	pk := table.primaryKey()
	if pk == "" {
		return nil, statusError(http.MethodGet, name, http.StatusBadRequest, "Table has no primary key")
	}

	query := fmt.Sprintf("SELECT * FROM %s WHERE %s = $1", s.qualified(table), pq.QuoteIdentifier(pk))
	rows, err := s.db.QueryContext(ctx, query, id)
	if err != nil {
		return nil, s.translate(http.MethodGet, name, err)
	}
	defer rows.Close()

	records, err := scanRecords(rows)
	if err != nil {
		return nil, s.translate(http.MethodGet, name, err)
	}
	if len(records) == 0 {
		return nil, statusError(http.MethodGet, name+"/"+id, http.StatusNotFound, "Not found")
	}
	return records[0], nil
}

func (s *Source) Create(ctx context.Context, name string, payload map[string]any) (any, error) {
	table, err := s.table(ctx, name)
	if err != nil {
		return nil, err
	}

	columns := make([]string, 0, len(payload))
	for column := range payload {
		if !table.hasColumn(column) {
			return nil, statusError(http.MethodPost, name, http.StatusUnprocessableEntity, "Unknown column "+column)
		}
		columns = append(columns, column)
	}
	sort.Strings(columns)

	var query string
	args := make([]any, 0, len(columns))
	if len(columns) == 0 {
		query = "INSERT INTO " + s.qualified(table) + " DEFAULT VALUES RETURNING *"
	} else {
		quoted := make([]string, len(columns))
		placeholders := make([]string, len(columns))
		for i, column := range columns {
			quoted[i] = pq.QuoteIdentifier(column)
			placeholders[i] = "$" + strconv.Itoa(i+1)
			args = append(args, payload[column])
		}
		query = fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s) RETURNING *",
			s.qualified(table), strings.Join(quoted, ", "), strings.Join(placeholders, ", "))
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, s.translate(http.MethodPost, name, err)
	}
	defer rows.Close()

	records, err := scanRecords(rows)
	if err != nil {
		return nil, s.translate(http.MethodPost, name, err)
	}
	if len(records) == 0 {
		return map[string]any{}, nil
	}
	s.log.WithField("table", name).Debug("row inserted")
	return records[0], nil
}

func (s *Source) Delete(ctx context.Context, name, id string) error {
	table, err := s.table(ctx, name)
	if err != nil {
		return err
	}
	pk := table.primaryKey()
	if pk == "" {
		return statusError(http.MethodDelete, name, http.StatusBadRequest, "Table has no primary key")
	}

	query := fmt.Sprintf("DELETE FROM %s WHERE %s = $1", s.qualified(table), pq.QuoteIdentifier(pk))
	result, err := s.db.ExecContext(ctx, query, id)
	if err != nil {
		return s.translate(http.MethodDelete, name, err)
	}
	affected, err := result.RowsAffected()
	if err == nil && affected == 0 {
		return statusError(http.MethodDelete, name+"/"+id, http.StatusNotFound, "Not found")
	}
	return nil
}

// translate turns driver errors into backend status errors so the UI shows
// the database message the way it shows REST backend messages.
func (s *Source) translate(method, table string, err error) error {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return fmt.Errorf("%s %s: %w", method, table, err)
	}
	s.log.WithField("table", table).WithField("code", string(pqErr.Code)).Debug(pqErr.Message)

	status := http.StatusInternalServerError
	switch {
	case pqErr.Code.Name() == "unique_violation":
		status = http.StatusConflict
	case pqErr.Code.Class() == "23":
		status = http.StatusBadRequest
	case pqErr.Code.Class() == "22":
		status = http.StatusUnprocessableEntity
	}
	message := pqErr.Message
	if pqErr.Detail != "" {
		message += ": " + pqErr.Detail
	}
	return &backend.StatusError{
		Method: method,
		Path:   "/" + table,
		Status: status,
		Body:   map[string]any{"detail": message},
	}
}

func statusError(method, path string, status int, detail string) error {
	return &backend.StatusError{
		Method: method,
		Path:   "/" + path,
		Status: status,
		Body:   map[string]any{"detail": detail},
	}
}

func scanRecords(rows *sql.Rows) ([]map[string]any, error) {
	columns, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	var records []map[string]any
	for rows.Next() {
		values := make([]any, len(columns))
		pointers := make([]any, len(columns))
		for i := range values {
			pointers[i] = &values[i]
		}
		if err := rows.Scan(pointers...); err != nil {
			return nil, err
		}
		record := make(map[string]any, len(columns))
		for i, column := range columns {
			record[column] = normalizeValue(values[i])
		}
		records = append(records, record)
	}
	return records, rows.Err()
}

// normalizeValue maps driver values onto the JSON-like values the explorer
// expects.
func normalizeValue(value any) any {
	switch v := value.(type) {
	case nil:
		return nil
	case []byte:
		return string(v)
	case time.Time:
		return v.Format(time.RFC3339)
	case fmt.Stringer:
		return v.String()
	default:
		return v
	}
}
