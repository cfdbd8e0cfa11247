// Package form builds create forms from table metadata and turns what the
// operator typed into a record payload.
package form

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/kadirbelkuyu/tablescope/internal/backend"
	"github.com/kadirbelkuyu/tablescope/internal/catalog"
	"github.com/kadirbelkuyu/tablescope/internal/envelope"
	"github.com/kadirbelkuyu/tablescope/internal/fieldkind"
	"github.com/kadirbelkuyu/tablescope/internal/relation"
)

// DefaultFailure is shown when the backend rejects a create without saying
// why.
const DefaultFailure = "Unable to create record."

// ErrSubmitInFlight is returned when Submit is called while a previous submit
// of the same form is still running.
var ErrSubmitInFlight = errors.New("a create request is already in progress")

var timestampColumns = map[string]struct{}{
	"created_at": {},
	"updated_at": {},
	"deleted_at": {},
}

// Field is one input of a create form.
type Field struct {
	Name     string
	Label    string
	Type     string
	Kind     fieldkind.Kind
	Required bool
	// Relation is set for columns rendered as a selector of target rows.
	Relation *relation.Descriptor
}

func (f Field) Selector() bool {
	return f.Relation != nil
}

// EditableFields lists the columns an operator fills in when creating a row.
// Keys, auto-incremented columns, columns with any default and bookkeeping
// timestamps are left to the backend.
func EditableFields(table *catalog.Table, descriptors map[string]relation.Descriptor) []Field {
	if table == nil {
		return nil
	}
	fields := make([]Field, 0, len(table.Columns))
	for _, col := range table.Columns {
		if !editable(col) {
			continue
		}
		field := Field{
			Name:     col.Name,
			Label:    catalog.DisplayName(col.Name),
			Type:     col.Type,
			Kind:     fieldkind.Classify(col.Type),
			Required: !col.Nullable,
		}
		if d, ok := descriptors[col.Name]; ok {
			field.Relation = &d
		}
		fields = append(fields, field)
	}
	return fields
}

func editable(col catalog.Column) bool {
	if col.PrimaryKey || col.AutoIncrement || col.HasServerDefault || col.HasClientDefault {
		return false
	}
	_, bookkeeping := timestampColumns[strings.ToLower(col.Name)]
	return !bookkeeping
}

// Creator is the part of the backend a form submits to.
type Creator interface {
	Create(ctx context.Context, table string, payload map[string]any) (any, error)
}

// SubmitError is a rejected create. Message is safe to show as is.
type SubmitError struct {
	Message string
	Err     error
}

func (e *SubmitError) Error() string {
	return e.Message
}

func (e *SubmitError) Unwrap() error {
	return e.Err
}

// Form holds the values of one create form.
type Form struct {
	table  string
	fields []Field
	byName map[string]Field

	mu     sync.Mutex
	values map[string]any

	submitting atomic.Bool
}

func New(table string, fields []Field) *Form {
	f := &Form{
		table:  table,
		fields: fields,
		byName: make(map[string]Field, len(fields)),
	}
	for _, field := range fields {
		f.byName[field.Name] = field
	}
	f.Reset()
	return f
}

func (f *Form) Table() string {
	return f.table
}

func (f *Form) Fields() []Field {
	return append([]Field(nil), f.fields...)
}

// Reset puts every field back to its kind's default.
func (f *Form) Reset() {
	values := make(map[string]any, len(f.fields))
	for _, field := range f.fields {
		values[field.Name] = defaultOf(field)
	}
	f.mu.Lock()
	f.values = values
	f.mu.Unlock()
}

func defaultOf(field Field) any {
	if field.Selector() {
		return ""
	}
	return field.Kind.Default()
}

// Set stores a value typed by the operator. Checkboxes take a bool, every
// other field a string.
func (f *Form) Set(name string, value any) error {
	field, ok := f.byName[name]
	if !ok {
		return fmt.Errorf("unknown field %q", name)
	}
	switch v := value.(type) {
	case bool:
		if field.Selector() || field.Kind != fieldkind.Checkbox {
			return fmt.Errorf("field %q does not take a boolean", name)
		}
	case string:
		if !field.Selector() && field.Kind == fieldkind.Checkbox {
			parsed, err := strconv.ParseBool(v)
			if err != nil {
				return fmt.Errorf("field %q expects true or false", name)
			}
			value = parsed
		}
	default:
		return fmt.Errorf("unsupported value %T for field %q", value, name)
	}

	f.mu.Lock()
	f.values[name] = value
	f.mu.Unlock()
	return nil
}

func (f *Form) Value(name string) any {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.values[name]
}

// Payload builds the create body. Checkboxes are always sent; other fields
// left empty are omitted so the backend can tell "not provided" from "".
func (f *Form) Payload() map[string]any {
	f.mu.Lock()
	defer f.mu.Unlock()

	payload := make(map[string]any, len(f.fields))
	for _, field := range f.fields {
		value := f.values[field.Name]
		if !field.Selector() && field.Kind == fieldkind.Checkbox {
			checked, _ := value.(bool)
			payload[field.Name] = checked
			continue
		}
		text, _ := value.(string)
		if text == "" {
			continue
		}
		if field.Kind == fieldkind.Number {
			// Blank numeric input counts as not provided.
			if strings.TrimSpace(text) == "" {
				continue
			}
			payload[field.Name] = parseNumber(text)
			continue
		}
		payload[field.Name] = text
	}
	return payload
}

// parseNumber converts numeric input to an int64 when integral and a float64
// otherwise. Input that is not a number is passed through so the backend
// reports the problem.
func parseNumber(text string) any {
	trimmed := strings.TrimSpace(text)
	if n, err := strconv.ParseInt(trimmed, 10, 64); err == nil {
		return n
	}
	if f, err := strconv.ParseFloat(trimmed, 64); err == nil && !math.IsNaN(f) && !math.IsInf(f, 0) {
		if n, ok := envelope.Number(f); ok {
			return n
		}
		return f
	}
	return text
}

// Submitting reports whether a create request is in flight.
func (f *Form) Submitting() bool {
	return f.submitting.Load()
}

// Submit sends the payload. On success the form is reset and the created
// record returned; on failure the values are kept for correction.
func (f *Form) Submit(ctx context.Context, creator Creator) (envelope.Record, error) {
	if !f.submitting.CompareAndSwap(false, true) {
		return nil, ErrSubmitInFlight
	}
	defer f.submitting.Store(false)

	payload, err := creator.Create(ctx, f.table, f.Payload())
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		message, ok := backend.Message(err)
		if !ok {
			message = DefaultFailure
		}
		return nil, &SubmitError{Message: message, Err: err}
	}

	f.Reset()
	record, ok := envelope.Single(payload)
	if !ok {
		record = envelope.Record{}
	}
	return record, nil
}
