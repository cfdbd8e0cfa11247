package console

import (
	"errors"
	"fmt"
	"strings"

	"github.com/rivo/tview"

	"github.com/kadirbelkuyu/tablescope/internal/catalog"
	"github.com/kadirbelkuyu/tablescope/internal/envelope"
	"github.com/kadirbelkuyu/tablescope/internal/explorer"
	"github.com/kadirbelkuyu/tablescope/internal/fieldkind"
	"github.com/kadirbelkuyu/tablescope/internal/form"
	"github.com/kadirbelkuyu/tablescope/internal/records"
	"github.com/kadirbelkuyu/tablescope/internal/relation"
)

const (
	helpLine    = "'n'/'p' page • 'r' refresh • 'c' create • 'd' delete • 'q' exit"
	noSelection = "— none —"
)

// cellRenderer is the part of the explorer the grid needs.
type cellRenderer interface {
	Cell(column string, value any) string
}

// tableEntry is the text shown for a table in the side list.
func tableEntry(table *catalog.Table, readOnly bool) string {
	if readOnly {
		return table.DisplayName + " [gray](read-only)[-]"
	}
	return table.DisplayName
}

func headers(table *catalog.Table) []string {
	if table == nil {
		return nil
	}
	out := make([]string, len(table.Columns))
	for i, col := range table.Columns {
		out[i] = col.Name
	}
	return out
}

// rows renders the current page. Missing values show as NULL, relation
// columns show their label.
func rows(r cellRenderer, table *catalog.Table, items []envelope.Record) [][]string {
	if table == nil {
		return nil
	}
	out := make([][]string, len(items))
	for i, item := range items {
		row := make([]string, len(table.Columns))
		for c, col := range table.Columns {
			value, ok := item[col.Name]
			if !ok || value == nil {
				row[c] = "NULL"
				continue
			}
			row[c] = r.Cell(col.Name, value)
		}
		out[i] = row
	}
	return out
}

// statusText is the details pane content for a snapshot.
func statusText(snap explorer.Snapshot) string {
	var b strings.Builder

	switch {
	case snap.State == explorer.Fatal:
		fmt.Fprintf(&b, "[red]%s[-]\nPress 'q' to exit.", tview.Escape(snap.Message))
		return b.String()
	case snap.Table == nil:
		if snap.State == explorer.Error {
			fmt.Fprintf(&b, "[red]%s[-]\n", tview.Escape(snap.Message))
		}
		b.WriteString("Select a table to inspect.\n")
		b.WriteString(helpLine)
		return b.String()
	}

	fmt.Fprintf(&b, "[::b]%s[-:-:-]", tview.Escape(snap.Table.DisplayName))
	if snap.ReadOnly {
		b.WriteString(" [gray](read-only)[-]")
	}
	b.WriteString("\n")
	if snap.Table.Description != "" {
		b.WriteString(tview.Escape(snap.Table.Description) + "\n")
	}

	switch snap.State {
	case explorer.Loading:
		b.WriteString("Loading…\n")
	case explorer.Error:
		fmt.Fprintf(&b, "[red]%s[-]\n", tview.Escape(snap.Message))
	default:
		fmt.Fprintf(&b, "Page %d • %s\n", snap.Page, records.FormatTotal(snap.Total))
	}
	if snap.Notice != "" {
		fmt.Fprintf(&b, "[green]%s[-]\n", tview.Escape(snap.Notice))
	}
	b.WriteString(helpLine)
	return b.String()
}

// fieldLabel decorates a form field label with its required marker and the
// option cap note.
func fieldLabel(field form.Field, truncated bool) string {
	label := field.Label
	if field.Required {
		label += " *"
	}
	if field.Selector() && truncated {
		label += fmt.Sprintf(" (first %d)", relation.OptionLimit)
	}
	return label
}

// choices lists selector options with an empty choice first. The returned
// values line up with the labels.
func choices(options []relation.Option) (labels, values []string) {
	labels = append(labels, noSelection)
	values = append(values, "")
	for _, option := range options {
		labels = append(labels, option.Label)
		values = append(values, option.Value)
	}
	return labels, values
}

func placeholder(field form.Field) string {
	switch field.Kind {
	case fieldkind.Number:
		return "number"
	case fieldkind.Datetime:
		return "YYYY-MM-DDTHH:MM"
	default:
		return field.Type
	}
}

// actionMessage is the operator facing text for a failed create or delete.
func actionMessage(err error) string {
	var submit *form.SubmitError
	if errors.As(err, &submit) {
		return submit.Message
	}
	var action *explorer.ActionError
	if errors.As(err, &action) {
		return action.Message
	}
	if errors.Is(err, form.ErrSubmitInFlight) {
		return "A create request is already in progress."
	}
	return err.Error()
}
