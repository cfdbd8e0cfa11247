package mongoapi

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

type fieldMeta struct {
	Name          string   `json:"name"`
	Type          string   `json:"type"`
	PrimaryKey    bool     `json:"primary_key"`
	AutoIncrement bool     `json:"autoincrement"`
	Nullable      bool     `json:"nullable"`
	ForeignKeys   []string `json:"foreign_keys"`
}

type collectionMeta struct {
	Name    string       `json:"name"`
	Columns []*fieldMeta `json:"columns"`
	Sampled int          `json:"-"`
}

func (c *collectionMeta) field(name string) *fieldMeta {
	for _, f := range c.Columns {
		if f.Name == name {
			return f
		}
	}
	return nil
}

// coerce converts form input back into the BSON type the field was sampled
// with, so ids and dates are not stored as plain strings.
func (c *collectionMeta) coerce(name string, value any) any {
	text, ok := value.(string)
	if !ok {
		return value
	}
	f := c.field(name)
	if f == nil {
		return value
	}
	switch f.Type {
	case "objectId":
		if oid, err := primitive.ObjectIDFromHex(text); err == nil {
			return oid
		}
	case "date":
		for _, layout := range []string{time.RFC3339, "2006-01-02T15:04", "2006-01-02 15:04:05", "2006-01-02"} {
			if at, err := time.Parse(layout, text); err == nil {
				return at
			}
		}
	}
	return value
}

// synthesize derives one column list per collection from its sampled
// documents. _id always comes first; other fields keep first-seen order.
func synthesize(samples map[string][]bson.D) []*collectionMeta {
	names := make([]string, 0, len(samples))
	for name := range samples {
		names = append(names, name)
	}
	sort.Strings(names)

	known := make(map[string]bool, len(names))
	for _, name := range names {
		known[name] = true
	}

	collections := make([]*collectionMeta, 0, len(names))
	for _, name := range names {
		docs := samples[name]
		meta := &collectionMeta{Name: name, Sampled: len(docs)}
		id := &fieldMeta{Name: idField, PrimaryKey: true, ForeignKeys: []string{}}
		meta.Columns = append(meta.Columns, id)

		present := map[string]int{}
		for _, doc := range docs {
			for _, elem := range doc {
				f := meta.field(elem.Key)
				if f == nil {
					f = &fieldMeta{Name: elem.Key, ForeignKeys: []string{}}
					meta.Columns = append(meta.Columns, f)
				}
				label := typeLabel(elem.Value)
				if label == "" {
					continue
				}
				present[elem.Key]++
				if f.Type == "" {
					f.Type = label
				} else if f.Type != label && elem.Key != idField {
					f.Type = "mixed"
				}
			}
		}

		for _, f := range meta.Columns {
			if f.Name == idField {
				if f.Type == "" {
					f.Type = "objectId"
				}
				f.AutoIncrement = f.Type == "objectId"
				continue
			}
			if f.Type == "" {
				f.Type = "string"
			}
			f.Nullable = present[f.Name] < len(docs)
			if target, ok := referenceTarget(f.Name, known); ok && target != name {
				f.ForeignKeys = []string{target + "." + idField}
			}
		}
		collections = append(collections, meta)
	}
	return collections
}

// referenceTarget matches fields such as customer_id or customerId to an
// existing customer or customers collection.
func referenceTarget(field string, known map[string]bool) (string, bool) {
	var base string
	switch {
	case field == idField:
		return "", false
	case strings.HasSuffix(field, "_id"):
		base = strings.TrimSuffix(field, "_id")
	case strings.HasSuffix(field, "Id") && len(field) > 2:
		base = strings.TrimSuffix(field, "Id")
	default:
		return "", false
	}
	if base == "" {
		return "", false
	}

	candidates := []string{base, base + "s", base + "es"}
	if strings.HasSuffix(base, "y") {
		candidates = append(candidates, strings.TrimSuffix(base, "y")+"ies")
	}
	for _, candidate := range candidates {
		if known[candidate] {
			return candidate, true
		}
	}
	return "", false
}

// typeLabel names the BSON kind of a value. Labels are chosen so the
// explorer picks a fitting widget for them.
func typeLabel(value any) string {
	switch value.(type) {
	case nil, primitive.Null, primitive.Undefined:
		return ""
	case primitive.ObjectID:
		return "objectId"
	case string:
		return "string"
	case int32:
		return "int32"
	case int64:
		return "int64"
	case float64:
		return "double"
	case primitive.Decimal128:
		return "decimal128"
	case bool:
		return "bool"
	case primitive.DateTime, time.Time:
		return "date"
	case primitive.Timestamp:
		return "timestamp"
	case bson.D, bson.M, map[string]any:
		return "object"
	case bson.A, []any:
		return "array"
	case primitive.Binary:
		return "binData"
	default:
		return "mixed"
	}
}

// normalizeValue maps decoded BSON onto the JSON-like values the explorer
// expects.
func normalizeValue(value any) any {
	switch v := value.(type) {
	case bson.D:
		out := make(map[string]any, len(v))
		for _, elem := range v {
			out[elem.Key] = normalizeValue(elem.Value)
		}
		return out
	case bson.M:
		out := make(map[string]any, len(v))
		for key, inner := range v {
			out[key] = normalizeValue(inner)
		}
		return out
	case map[string]any:
		return normalizeValue(bson.M(v))
	case bson.A:
		out := make([]any, len(v))
		for i, inner := range v {
			out[i] = normalizeValue(inner)
		}
		return out
	case []any:
		return normalizeValue(bson.A(v))
	case primitive.ObjectID:
		return v.Hex()
	case primitive.DateTime:
		return v.Time().UTC().Format(time.RFC3339)
	case time.Time:
		return v.UTC().Format(time.RFC3339)
	case primitive.Timestamp:
		return time.Unix(int64(v.T), 0).UTC().Format(time.RFC3339)
	case int32:
		return int64(v)
	case primitive.Decimal128:
		return v.String()
	case primitive.Binary:
		return fmt.Sprintf("%x", v.Data)
	case primitive.Null, primitive.Undefined:
		return nil
	default:
		return v
	}
}

// idFilter matches a primary key given as text. Ids may be ObjectIDs, numbers
// or strings, so every reading of the text is tried.
func idFilter(id string) bson.M {
	candidates := []any{id}
	if oid, err := primitive.ObjectIDFromHex(id); err == nil {
		candidates = append(candidates, oid)
	}
	if n, err := strconv.ParseInt(id, 10, 64); err == nil {
		candidates = append(candidates, n)
	} else if f, err := strconv.ParseFloat(id, 64); err == nil && !math.IsNaN(f) && !math.IsInf(f, 0) {
		candidates = append(candidates, f)
	}
	if len(candidates) == 1 {
		return bson.M{idField: id}
	}
	return bson.M{idField: bson.M{"$in": candidates}}
}

type document struct {
	GeneratedAt string            `json:"generated_at"`
	TableCount  int               `json:"table_count"`
	Tables      []*collectionMeta `json:"tables"`
}

func encodeDocument(collections []*collectionMeta, now time.Time) ([]byte, error) {
	if collections == nil {
		collections = []*collectionMeta{}
	}
	data, err := json.Marshal(document{
		GeneratedAt: now.UTC().Format(time.RFC3339),
		TableCount:  len(collections),
		Tables:      collections,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode schema document: %w", err)
	}
	return data, nil
}
