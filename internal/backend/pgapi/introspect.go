package pgapi

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/goccy/go-json"
)

type columnMeta struct {
	Name          string   `json:"name"`
	Type          string   `json:"type"`
	PrimaryKey    bool     `json:"primary_key"`
	AutoIncrement bool     `json:"autoincrement"`
	Nullable      bool     `json:"nullable"`
	Unique        bool     `json:"unique"`
	ServerDefault *string  `json:"server_default"`
	ForeignKeys   []string `json:"foreign_keys"`
}

type indexMeta struct {
	Name    string   `json:"name"`
	Columns []string `json:"columns"`
	Unique  bool     `json:"unique"`
	Type    string   `json:"type"`
}

type tableMeta struct {
	Name    string        `json:"name"`
	Schema  string        `json:"schema"`
	Columns []*columnMeta `json:"columns"`
	Indexes []indexMeta   `json:"indexes"`
}

func (t *tableMeta) column(name string) *columnMeta {
	for _, col := range t.Columns {
		if col.Name == name {
			return col
		}
	}
	return nil
}

func (t *tableMeta) hasColumn(name string) bool {
	return t.column(name) != nil
}

func (t *tableMeta) primaryKey() string {
	for _, col := range t.Columns {
		if col.PrimaryKey {
			return col.Name
		}
	}
	return ""
}

type document struct {
	GeneratedAt string       `json:"generated_at"`
	TableCount  int          `json:"table_count"`
	Tables      []*tableMeta `json:"tables"`
}

func encodeDocument(tables []*tableMeta, now time.Time) ([]byte, error) {
	if tables == nil {
		tables = []*tableMeta{}
	}
	data, err := json.Marshal(document{
		GeneratedAt: now.UTC().Format(time.RFC3339),
		TableCount:  len(tables),
		Tables:      tables,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode schema document: %w", err)
	}
	return data, nil
}

// introspect reads tables, columns, keys and indexes of the configured schema.
func (s *Source) introspect(ctx context.Context) ([]*tableMeta, error) {
	s.log.WithField("schema", s.schema).Debug("introspecting database")

	tables, err := s.extractTables(ctx)
	if err != nil {
		return nil, err
	}
	byName := make(map[string]*tableMeta, len(tables))
	for _, table := range tables {
		byName[table.Name] = table
	}

	steps := []func(context.Context, map[string]*tableMeta) error{
		s.extractColumns,
		s.extractKeys,
		s.extractForeignKeys,
		s.extractIndexes,
	}
	for _, step := range steps {
		if err := step(ctx, byName); err != nil {
			return nil, err
		}
	}

	s.log.WithField("schema", s.schema).Infof("%d tables extracted", len(tables))
	return tables, nil
}

func (s *Source) extractTables(ctx context.Context) ([]*tableMeta, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT table_name
		FROM information_schema.tables
		WHERE table_type = 'BASE TABLE' AND table_schema = $1
		ORDER BY table_name`, s.schema)
	if err != nil {
		return nil, fmt.Errorf("failed to query tables: %w", err)
	}
	defer rows.Close()

	var tables []*tableMeta
	for rows.Next() {
		table := &tableMeta{Schema: s.schema, Indexes: []indexMeta{}}
		if err := rows.Scan(&table.Name); err != nil {
			return nil, fmt.Errorf("failed to read table metadata: %w", err)
		}
		tables = append(tables, table)
	}
	return tables, rows.Err()
}

func (s *Source) extractColumns(ctx context.Context, tables map[string]*tableMeta) error {
	rows, err := s.db.QueryContext(ctx, `
		SELECT table_name, column_name, data_type, is_nullable, column_default, is_identity
		FROM information_schema.columns
		WHERE table_schema = $1
		ORDER BY table_name, ordinal_position`, s.schema)
	if err != nil {
		return fmt.Errorf("failed to query column metadata: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			tableName, isNullable, isIdentity string
			defaultValue                      sql.NullString
			col                               columnMeta
		)
		if err := rows.Scan(&tableName, &col.Name, &col.Type, &isNullable, &defaultValue, &isIdentity); err != nil {
			return fmt.Errorf("failed to read column metadata: %w", err)
		}
		table, ok := tables[tableName]
		if !ok {
			continue
		}
		col.Nullable = isNullable == "YES"
		col.ForeignKeys = []string{}
		if defaultValue.Valid {
			value := defaultValue.String
			col.ServerDefault = &value
		}
		col.AutoIncrement = isIdentity == "YES" || isSerialDefault(defaultValue.String)
		table.Columns = append(table.Columns, &col)
	}
	return rows.Err()
}

func isSerialDefault(value string) bool {
	return strings.HasPrefix(strings.ToLower(strings.TrimSpace(value)), "nextval(")
}

func (s *Source) extractKeys(ctx context.Context, tables map[string]*tableMeta) error {
	rows, err := s.db.QueryContext(ctx, `
		SELECT tc.table_name, kcu.column_name, tc.constraint_type
		FROM information_schema.table_constraints AS tc
		JOIN information_schema.key_column_usage AS kcu
			ON tc.constraint_name = kcu.constraint_name
			AND tc.table_schema = kcu.table_schema
		WHERE tc.table_schema = $1
		AND tc.constraint_type IN ('PRIMARY KEY', 'UNIQUE')
		ORDER BY tc.table_name, kcu.ordinal_position`, s.schema)
	if err != nil {
		return fmt.Errorf("failed to query key metadata: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var tableName, columnName, constraintType string
		if err := rows.Scan(&tableName, &columnName, &constraintType); err != nil {
			return fmt.Errorf("failed to read key metadata: %w", err)
		}
		table, ok := tables[tableName]
		if !ok {
			continue
		}
		col := table.column(columnName)
		if col == nil {
			continue
		}
		if constraintType == "PRIMARY KEY" {
			col.PrimaryKey = true
		} else {
			col.Unique = true
		}
	}
	return rows.Err()
}

func (s *Source) extractForeignKeys(ctx context.Context, tables map[string]*tableMeta) error {
	rows, err := s.db.QueryContext(ctx, `
		SELECT
			tc.table_name,
			kcu.column_name,
			ccu.table_name AS foreign_table_name,
			ccu.column_name AS foreign_column_name
		FROM information_schema.table_constraints AS tc
		JOIN information_schema.key_column_usage AS kcu
			ON tc.constraint_name = kcu.constraint_name
			AND tc.table_schema = kcu.table_schema
		JOIN information_schema.constraint_column_usage AS ccu
			ON ccu.constraint_name = tc.constraint_name
			AND ccu.table_schema = tc.table_schema
		WHERE tc.constraint_type = 'FOREIGN KEY'
		AND tc.table_schema = $1
		ORDER BY tc.table_name, kcu.ordinal_position`, s.schema)
	if err != nil {
		return fmt.Errorf("failed to query foreign key metadata: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var tableName, columnName, targetTable, targetColumn string
		if err := rows.Scan(&tableName, &columnName, &targetTable, &targetColumn); err != nil {
			return fmt.Errorf("failed to read foreign key metadata: %w", err)
		}
		table, ok := tables[tableName]
		if !ok {
			continue
		}
		if col := table.column(columnName); col != nil {
			col.ForeignKeys = append(col.ForeignKeys, targetTable+"."+targetColumn)
		}
	}
	return rows.Err()
}

func (s *Source) extractIndexes(ctx context.Context, tables map[string]*tableMeta) error {
	rows, err := s.db.QueryContext(ctx, `
		SELECT tablename, indexname, indexdef
		FROM pg_indexes
		WHERE schemaname = $1
		ORDER BY tablename, indexname`, s.schema)
	if err != nil {
		return fmt.Errorf("failed to query index metadata: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var tableName, indexName, indexDef string
		if err := rows.Scan(&tableName, &indexName, &indexDef); err != nil {
			return fmt.Errorf("failed to read index metadata: %w", err)
		}
		table, ok := tables[tableName]
		if !ok {
			continue
		}
		table.Indexes = append(table.Indexes, indexMeta{
			Name:    indexName,
			Columns: parseIndexColumns(indexDef),
			Unique:  strings.Contains(strings.ToUpper(indexDef), "UNIQUE INDEX"),
			Type:    parseIndexType(indexDef),
		})
	}
	return rows.Err()
}

func parseIndexColumns(indexDef string) []string {
	start := strings.Index(indexDef, "(")
	end := strings.LastIndex(indexDef, ")")
	if start == -1 || end == -1 || end < start {
		return []string{}
	}

	columns := strings.Split(indexDef[start+1:end], ",")
	for i, col := range columns {
		columns[i] = strings.Trim(strings.TrimSpace(col), `"`)
	}
	return columns
}

func parseIndexType(indexDef string) string {
	upper := strings.ToUpper(indexDef)
	for _, kind := range []string{"BTREE", "HASH", "GIN", "GIST", "BRIN"} {
		if strings.Contains(upper, "USING "+kind) {
			return kind
		}
	}
	return "BTREE"
}
