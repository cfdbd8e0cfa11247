package catalog

import (
	"bytes"
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/goccy/go-json"
)

// SchemaParseError reports a schema document that cannot be turned into a
// catalog. It is fatal for the session that loaded it.
type SchemaParseError struct {
	Reason string
	Err    error
}

func (e *SchemaParseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("invalid schema document: %s: %v", e.Reason, e.Err)
	}
	return "invalid schema document: " + e.Reason
}

func (e *SchemaParseError) Unwrap() error {
	return e.Err
}

type rawDocument struct {
	GeneratedAt string          `json:"generated_at"`
	TableCount  *int            `json:"table_count"`
	Tables      json.RawMessage `json:"tables"`
}

type rawTable struct {
	Name        string          `json:"name"`
	Slug        string          `json:"slug"`
	Schema      *string         `json:"schema"`
	Description string          `json:"description"`
	Comment     string          `json:"comment"`
	Columns     []rawColumn     `json:"columns"`
	Indexes     json.RawMessage `json:"indexes"`
}

type rawColumn struct {
	Name          string   `json:"name"`
	Type          string   `json:"type"`
	Nullable      *bool    `json:"nullable"`
	PrimaryKey    flexBool `json:"primary_key"`
	Unique        flexBool `json:"unique"`
	AutoIncrement flexBool `json:"autoincrement"`
	Default       any      `json:"default"`
	ServerDefault any      `json:"server_default"`
	ForeignKeys   []string `json:"foreign_keys"`
}

// flexBool accepts true/false as well as the string forms some backends emit
// ("true", "auto" for autoincrement).
type flexBool bool

func (b *flexBool) UnmarshalJSON(data []byte) error {
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	switch value := v.(type) {
	case bool:
		*b = flexBool(value)
	case string:
		*b = flexBool(strings.EqualFold(value, "true"))
	default:
		*b = false
	}
	return nil
}

// Load parses a schema document. The document is either an object with a
// "tables" array or a bare array of tables.
func Load(raw []byte) (*Catalog, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return nil, &SchemaParseError{Reason: "document is empty"}
	}

	var (
		tablesRaw   json.RawMessage
		generatedAt string
	)

	switch trimmed[0] {
	case '[':
		tablesRaw = trimmed
	case '{':
		var doc rawDocument
		if err := json.Unmarshal(trimmed, &doc); err != nil {
			return nil, &SchemaParseError{Reason: "document is not valid JSON", Err: err}
		}
		if len(bytes.TrimSpace(doc.Tables)) == 0 || bytes.Equal(bytes.TrimSpace(doc.Tables), []byte("null")) {
			return nil, &SchemaParseError{Reason: "document has no table list"}
		}
		tablesRaw = doc.Tables
		generatedAt = doc.GeneratedAt
	default:
		return nil, &SchemaParseError{Reason: "document is not a JSON object"}
	}

	var tables []rawTable
	if err := json.Unmarshal(tablesRaw, &tables); err != nil {
		return nil, &SchemaParseError{Reason: "table list is not an array of tables", Err: err}
	}

	catalog := &Catalog{
		GeneratedAt: generatedAt,
		tables:      make([]*Table, 0, len(tables)),
		bySlug:      make(map[string]*Table, len(tables)),
	}

	for i, rt := range tables {
		table, err := buildTable(rt)
		if err != nil {
			return nil, &SchemaParseError{Reason: fmt.Sprintf("table #%d", i+1), Err: err}
		}
		if _, exists := catalog.bySlug[table.Slug]; exists {
			return nil, &SchemaParseError{Reason: fmt.Sprintf("duplicate table %q", table.Slug)}
		}
		catalog.tables = append(catalog.tables, table)
		catalog.bySlug[table.Slug] = table
	}

	return catalog, nil
}

func buildTable(rt rawTable) (*Table, error) {
	slug := strings.TrimSpace(rt.Slug)
	if slug == "" {
		slug = strings.TrimSpace(rt.Name)
	}
	if slug == "" {
		return nil, fmt.Errorf("table has no name")
	}

	description := rt.Description
	if description == "" {
		description = rt.Comment
	}

	table := &Table{
		Slug:        slug,
		DisplayName: DisplayName(slug),
		Description: description,
		Columns:     make([]Column, 0, len(rt.Columns)),
		Indexes:     rt.Indexes,
	}
	if rt.Schema != nil {
		table.Schema = *rt.Schema
	}

	seen := make(map[string]struct{}, len(rt.Columns))
	for _, rc := range rt.Columns {
		name := strings.TrimSpace(rc.Name)
		if name == "" {
			return nil, fmt.Errorf("table %s has a column without a name", slug)
		}
		if _, dup := seen[name]; dup {
			return nil, fmt.Errorf("table %s declares column %s twice", slug, name)
		}
		seen[name] = struct{}{}

		nullable := true
		if rc.Nullable != nil {
			nullable = *rc.Nullable
		}

		table.Columns = append(table.Columns, Column{
			Name:             name,
			Type:             rc.Type,
			PrimaryKey:       bool(rc.PrimaryKey),
			AutoIncrement:    bool(rc.AutoIncrement),
			Nullable:         nullable,
			Unique:           bool(rc.Unique),
			HasServerDefault: rc.ServerDefault != nil,
			HasClientDefault: rc.Default != nil,
			ForeignKeys:      append([]string(nil), rc.ForeignKeys...),
		})
	}

	return table, nil
}

// DisplayName turns a slug such as "order_items" into "Order Items".
func DisplayName(slug string) string {
	segments := strings.FieldsFunc(slug, func(r rune) bool {
		return r == '_' || r == '-'
	})
	for i, segment := range segments {
		first, size := utf8.DecodeRuneInString(segment)
		segments[i] = string(unicode.ToUpper(first)) + segment[size:]
	}
	return strings.Join(segments, " ")
}
