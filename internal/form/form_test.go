package form_test

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kadirbelkuyu/tablescope/internal/backend"
	"github.com/kadirbelkuyu/tablescope/internal/backend/backendtest"
	"github.com/kadirbelkuyu/tablescope/internal/catalog"
	"github.com/kadirbelkuyu/tablescope/internal/envelope"
	"github.com/kadirbelkuyu/tablescope/internal/fieldkind"
	"github.com/kadirbelkuyu/tablescope/internal/form"
	"github.com/kadirbelkuyu/tablescope/internal/relation"
)

const peopleSchema = `{"tables": [
  {"name": "teams", "columns": [
    {"name": "id", "type": "INTEGER", "primary_key": true},
    {"name": "title", "type": "VARCHAR"}
  ]},
  {"name": "people", "columns": [
    {"name": "id", "type": "INTEGER", "primary_key": true, "autoincrement": true},
    {"name": "uuid", "type": "UUID", "default": "uuid4"},
    {"name": "name", "type": "VARCHAR(80)", "nullable": false},
    {"name": "age", "type": "INTEGER"},
    {"name": "score", "type": "NUMERIC(5,2)"},
    {"name": "active", "type": "BOOLEAN"},
    {"name": "bio", "type": "TEXT"},
    {"name": "born_on", "type": "DATE"},
    {"name": "team_id", "type": "INTEGER", "foreign_keys": ["teams.id"]},
    {"name": "synced", "type": "TIMESTAMP", "server_default": "now()"},
    {"name": "created_at", "type": "DATETIME"},
    {"name": "updated_at", "type": "DATETIME"},
    {"name": "deleted_at", "type": "DATETIME"}
  ]}
]}`

func peopleForm(t *testing.T) *form.Form {
	t.Helper()
	cat, err := catalog.Load([]byte(peopleSchema))
	require.NoError(t, err)
	people, _ := cat.Table("people")
	return form.New("people", form.EditableFields(people, relation.Derive(people, cat)))
}

func TestEditableFields(t *testing.T) {
	f := peopleForm(t)

	var names []string
	kinds := map[string]fieldkind.Kind{}
	for _, field := range f.Fields() {
		names = append(names, field.Name)
		kinds[field.Name] = field.Kind
	}
	assert.Equal(t, []string{"name", "age", "score", "active", "bio", "born_on", "team_id"}, names)
	assert.Equal(t, fieldkind.Number, kinds["age"])
	assert.Equal(t, fieldkind.Checkbox, kinds["active"])
	assert.Equal(t, fieldkind.Multiline, kinds["bio"])
	assert.Equal(t, fieldkind.Datetime, kinds["born_on"])

	fields := f.Fields()
	assert.True(t, fields[0].Required)
	assert.Equal(t, "Born On", fields[5].Label)
	require.True(t, fields[6].Selector())
	assert.Equal(t, "teams", fields[6].Relation.TargetTable)
	assert.Equal(t, "title", fields[6].Relation.TargetDisplay)
}

func TestEditableFieldsOfNilTable(t *testing.T) {
	assert.Empty(t, form.EditableFields(nil, nil))
}

func TestPayloadOmitsEmptyDefaults(t *testing.T) {
	f := peopleForm(t)
	assert.Equal(t, map[string]any{"active": false}, f.Payload())
}

func TestPayloadSerialization(t *testing.T) {
	f := peopleForm(t)
	require.NoError(t, f.Set("name", "Ada"))
	require.NoError(t, f.Set("age", "42"))
	require.NoError(t, f.Set("score", "9.5"))
	require.NoError(t, f.Set("active", true))
	require.NoError(t, f.Set("born_on", "1815-12-10"))
	require.NoError(t, f.Set("team_id", "3"))

	assert.Equal(t, map[string]any{
		"name":    "Ada",
		"age":     int64(42),
		"score":   9.5,
		"active":  true,
		"born_on": "1815-12-10",
		"team_id": int64(3),
	}, f.Payload())
}

func TestPayloadNumbers(t *testing.T) {
	cases := map[string]any{
		"42":    int64(42),
		" 7 ":   int64(7),
		"-3":    int64(-3),
		"2.0":   int64(2),
		"1e3":   int64(1000),
		"0.25":  0.25,
		"forty": "forty",
		"NaN":   "NaN",
	}
	for input, expected := range cases {
		f := peopleForm(t)
		require.NoError(t, f.Set("age", input))
		assert.Equal(t, expected, f.Payload()["age"], "input %q", input)
	}
}

func TestPayloadOmitsBlankNumbers(t *testing.T) {
	f := peopleForm(t)
	require.NoError(t, f.Set("name", " "))
	require.NoError(t, f.Set("age", "   "))
	require.NoError(t, f.Set("score", "\t"))
	require.NoError(t, f.Set("team_id", " "))

	payload := f.Payload()
	assert.NotContains(t, payload, "age")
	assert.NotContains(t, payload, "score")
	assert.NotContains(t, payload, "team_id")
	assert.Equal(t, " ", payload["name"], "text keeps whitespace as typed")
}

func TestSetValidatesValues(t *testing.T) {
	f := peopleForm(t)
	assert.Error(t, f.Set("missing", "x"))
	assert.Error(t, f.Set("name", true))
	assert.Error(t, f.Set("active", "maybe"))
	assert.Error(t, f.Set("age", 42))

	require.NoError(t, f.Set("active", "true"))
	assert.Equal(t, true, f.Value("active"))
}

func TestSubmitResetsOnSuccess(t *testing.T) {
	store := backendtest.NewStore(peopleSchema)
	store.Seed("people", "id")
	f := peopleForm(t)
	require.NoError(t, f.Set("name", "Ada"))
	require.NoError(t, f.Set("active", true))

	record, err := f.Submit(context.Background(), store)
	require.NoError(t, err)
	assert.Equal(t, "Ada", record["name"])
	assert.Equal(t, "1", envelope.Scalar(record["id"]))

	assert.Equal(t, "", f.Value("name"))
	assert.Equal(t, false, f.Value("active"))
	assert.False(t, f.Submitting())
	require.Len(t, store.Rows("people"), 1)
}

type rejectingCreator struct {
	err error
}

func (r rejectingCreator) Create(context.Context, string, map[string]any) (any, error) {
	return nil, r.err
}

func TestSubmitSurfacesBackendMessage(t *testing.T) {
	cases := []struct {
		name     string
		err      error
		expected string
	}{
		{
			name:     "message",
			err:      &backend.StatusError{Status: http.StatusBadRequest, Body: map[string]any{"message": "name is required"}},
			expected: "name is required",
		},
		{
			name:     "detail",
			err:      &backend.StatusError{Status: http.StatusConflict, Body: map[string]any{"detail": "Duplicate email"}},
			expected: "Duplicate email",
		},
		{
			name:     "no message",
			err:      &backend.StatusError{Status: http.StatusInternalServerError, Body: "boom"},
			expected: form.DefaultFailure,
		},
		{
			name:     "transport failure",
			err:      errors.New("connection refused"),
			expected: "Unable to create record.",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := peopleForm(t)
			require.NoError(t, f.Set("name", "Ada"))

			_, err := f.Submit(context.Background(), rejectingCreator{err: tc.err})
			var submitErr *form.SubmitError
			require.True(t, errors.As(err, &submitErr))
			assert.Equal(t, tc.expected, submitErr.Error())
			assert.Equal(t, "Ada", f.Value("name"), "values survive a failed submit")
		})
	}
}

type blockingCreator struct {
	entered chan struct{}
	release chan struct{}
}

func (b blockingCreator) Create(context.Context, string, map[string]any) (any, error) {
	close(b.entered)
	<-b.release
	return map[string]any{"id": 1}, nil
}

func TestSubmitAllowsOneRequestAtATime(t *testing.T) {
	f := peopleForm(t)
	creator := blockingCreator{entered: make(chan struct{}), release: make(chan struct{})}

	done := make(chan error, 1)
	go func() {
		_, err := f.Submit(context.Background(), creator)
		done <- err
	}()
	<-creator.entered

	assert.True(t, f.Submitting())
	_, err := f.Submit(context.Background(), creator)
	assert.ErrorIs(t, err, form.ErrSubmitInFlight)

	close(creator.release)
	require.NoError(t, <-done)
	assert.False(t, f.Submitting())
}
