package envelope_test

import (
	"testing"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kadirbelkuyu/tablescope/internal/envelope"
)

func decode(t *testing.T, raw string) any {
	t.Helper()
	var v any
	require.NoError(t, json.Unmarshal([]byte(raw), &v))
	return v
}

func TestListEnvelopesYieldSameRows(t *testing.T) {
	shapes := []string{
		`[{"id":1}]`,
		`{"items":[{"id":1}]}`,
		`{"data":[{"id":1}]}`,
		`{"results":[{"id":1}]}`,
	}

	for _, shape := range shapes {
		rows := envelope.List(decode(t, shape))
		require.Len(t, rows, 1, shape)
		assert.Equal(t, "1", envelope.Scalar(rows[0]["id"]), shape)
	}
}

func TestListPrefersItemsOverData(t *testing.T) {
	rows := envelope.List(decode(t, `{"data":[{"id":2}],"items":[{"id":1}]}`))
	require.Len(t, rows, 1)
	assert.Equal(t, "1", envelope.Scalar(rows[0]["id"]))
}

func TestListUnknownShapesAreEmpty(t *testing.T) {
	for _, raw := range []string{`{"rows":[{"id":1}]}`, `"oops"`, `42`, `null`, `{"data":{"id":1}}`} {
		rows := envelope.List(decode(t, raw))
		assert.NotNil(t, rows, raw)
		assert.Empty(t, rows, raw)
	}
}

func TestCount(t *testing.T) {
	cases := map[string]*int64{
		`7`:                        ptr(7),
		`{"count": 3}`:             ptr(3),
		`{"total": 7}`:             ptr(7),
		`{"count": 0}`:             ptr(0),
		`{"count": 2, "total": 9}`: ptr(2),
		`{"total": "x"}`:           nil,
		`{"size": 4}`:              nil,
		`"unavailable"`:            nil,
		`1.5`:                      nil,
		`null`:                     nil,
	}

	for raw, expected := range cases {
		got := envelope.Count(decode(t, raw))
		if expected == nil {
			assert.Nil(t, got, raw)
			continue
		}
		require.NotNil(t, got, raw)
		assert.Equal(t, *expected, *got, raw)
	}
}

func TestRecordUnwrapsOnlyPureEnvelopes(t *testing.T) {
	record, ok := envelope.Single(decode(t, `{"status":"success","data":{"id":5,"name":"Ada"}}`))
	require.True(t, ok)
	assert.Equal(t, "Ada", record["name"])

	record, ok = envelope.Single(decode(t, `{"id":5,"data":{"k":"v"}}`))
	require.True(t, ok)
	assert.Equal(t, "5", envelope.Scalar(record["id"]), "a data column must not be mistaken for an envelope")

	_, ok = envelope.Single(decode(t, `[1,2]`))
	assert.False(t, ok)
}

func TestErrorMessage(t *testing.T) {
	msg, ok := envelope.ErrorMessage(decode(t, `{"message":"Email already registered"}`))
	require.True(t, ok)
	assert.Equal(t, "Email already registered", msg)

	msg, ok = envelope.ErrorMessage(decode(t, `{"detail":"Not authenticated"}`))
	require.True(t, ok)
	assert.Equal(t, "Not authenticated", msg)

	msg, ok = envelope.ErrorMessage(decode(t, `{"detail":[{"loc":["body","age"],"msg":"value is not a valid integer"}]}`))
	require.True(t, ok)
	assert.Equal(t, "value is not a valid integer", msg)

	_, ok = envelope.ErrorMessage(decode(t, `{"error":"boom"}`))
	assert.False(t, ok)
	_, ok = envelope.ErrorMessage("plain text")
	assert.False(t, ok)
}

func TestScalar(t *testing.T) {
	assert.Equal(t, "", envelope.Scalar(nil))
	assert.Equal(t, "true", envelope.Scalar(true))
	assert.Equal(t, "42", envelope.Scalar(json.Number("42")))
	assert.Equal(t, "1.5", envelope.Scalar(1.5))
	assert.Equal(t, "9", envelope.Scalar(int64(9)))
	assert.Equal(t, `{"a":1}`, envelope.Scalar(map[string]any{"a": 1}))
}

func ptr(v int64) *int64 {
	return &v
}
