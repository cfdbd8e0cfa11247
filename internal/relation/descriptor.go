// Package relation turns foreign-key metadata into lookups: which table a
// column points at, the candidate options for a selector, and the display
// labels for values already on screen.
package relation

import (
	"strings"

	"github.com/kadirbelkuyu/tablescope/internal/catalog"
)

// Descriptor describes how one column refers to another table.
type Descriptor struct {
	SourceColumn  string
	TargetTable   string
	TargetKey     string
	TargetDisplay string
}

// Derive computes the descriptors of a table's columns. Only the first foreign
// key target of a column is considered, and targets naming a table the catalog
// does not know are skipped so the column renders raw values.
func Derive(table *catalog.Table, cat *catalog.Catalog) map[string]Descriptor {
	out := make(map[string]Descriptor)
	if table == nil {
		return out
	}
	for _, col := range table.Columns {
		if len(col.ForeignKeys) == 0 {
			continue
		}
		targetSlug, targetKey, _ := strings.Cut(strings.TrimSpace(col.ForeignKeys[0]), ".")
		target, ok := cat.Table(targetSlug)
		if !ok {
			continue
		}
		if targetKey == "" {
			if pk, ok := target.PrimaryKey(); ok {
				targetKey = pk.Name
			} else {
				targetKey = "id"
			}
		}
		out[col.Name] = Descriptor{
			SourceColumn:  col.Name,
			TargetTable:   target.Slug,
			TargetKey:     targetKey,
			TargetDisplay: displayColumn(target, targetKey),
		}
	}
	return out
}

// displayColumn picks the column right after the primary key, then the first
// non key column, then the key itself.
func displayColumn(target *catalog.Table, key string) string {
	pkIndex := -1
	for i, col := range target.Columns {
		if col.PrimaryKey {
			pkIndex = i
			break
		}
	}
	if pkIndex >= 0 && pkIndex+1 < len(target.Columns) {
		return target.Columns[pkIndex+1].Name
	}
	for _, col := range target.Columns {
		if !col.PrimaryKey {
			return col.Name
		}
	}
	if pkIndex >= 0 {
		return target.Columns[pkIndex].Name
	}
	return key
}

// Ordered returns the descriptors following the table's column order.
func Ordered(table *catalog.Table, descriptors map[string]Descriptor) []Descriptor {
	if table == nil {
		return nil
	}
	out := make([]Descriptor, 0, len(descriptors))
	for _, col := range table.Columns {
		if d, ok := descriptors[col.Name]; ok {
			out = append(out, d)
		}
	}
	return out
}

// Display composes the text shown for a relation value.
func Display(label, raw string) string {
	fallback := Fallback(raw)
	if label == "" || label == fallback {
		return fallback
	}
	return label + " (" + fallback + ")"
}

// Fallback is the label used when no better one is known.
func Fallback(raw string) string {
	return "#" + raw
}
