package desktop

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	fyne "fyne.io/fyne/v2"
	"fyne.io/fyne/v2/container"
	"fyne.io/fyne/v2/widget"

	"github.com/kadirbelkuyu/tablescope/internal/catalog"
	"github.com/kadirbelkuyu/tablescope/internal/config"
	"github.com/kadirbelkuyu/tablescope/internal/envelope"
	"github.com/kadirbelkuyu/tablescope/internal/explorer"
	"github.com/kadirbelkuyu/tablescope/internal/fieldkind"
	"github.com/kadirbelkuyu/tablescope/internal/form"
	"github.com/kadirbelkuyu/tablescope/internal/profiles"
	"github.com/kadirbelkuyu/tablescope/internal/records"
	"github.com/kadirbelkuyu/tablescope/internal/relation"
)

const noSelection = "(none)"

func placeholder(message string) fyne.CanvasObject {
	label := widget.NewLabel(message)
	label.Alignment = fyne.TextAlignCenter
	return container.NewCenter(label)
}

func profileMeta(p profiles.Profile) string {
	parts := []string{strings.ToUpper(p.Type)}
	if p.Target != "" {
		parts = append(parts, p.Target)
	}
	if !p.Modified.IsZero() {
		parts = append(parts, humanizeDuration(time.Since(p.Modified)))
	}
	return strings.Join(parts, " • ")
}

func humanizeDuration(d time.Duration) string {
	if d < time.Minute {
		return "moments ago"
	}
	if d < time.Hour {
		return fmt.Sprintf("%d min ago", int(d.Minutes()))
	}
	if d < 24*time.Hour {
		return fmt.Sprintf("%d h ago", int(d.Hours()))
	}
	if d < 7*24*time.Hour {
		return fmt.Sprintf("%d d ago", int(d.Hours()/24))
	}
	return fmt.Sprintf("on %s", time.Now().Add(-d).Format("02 Jan"))
}

// matchProfiles returns the indexes of profiles whose name or type contains
// query. A blank query yields nil, meaning no filter.
func matchProfiles(items []profiles.Profile, query string) []int {
	query = strings.ToLower(strings.TrimSpace(query))
	if query == "" {
		return nil
	}
	matches := make([]int, 0)
	for i, profile := range items {
		if strings.Contains(strings.ToLower(profile.Name), query) ||
			strings.Contains(strings.ToLower(profile.Type), query) {
			matches = append(matches, i)
		}
	}
	return matches
}

func indexOfProfile(items []profiles.Profile, name string) int {
	for i, profile := range items {
		if profile.Name == name {
			return i
		}
	}
	return -1
}

var sourceNames = []string{"REST API", "PostgreSQL", "MongoDB"}

func normalizeSourceSelection(value string) string {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "rest api", "rest", "http":
		return config.SourceHTTP
	case "postgresql", "postgres":
		return config.SourcePostgres
	case "mongodb", "mongo":
		return config.SourceMongo
	default:
		return ""
	}
}

func renderSource(sourceType string) string {
	switch normalizeSourceSelection(sourceType) {
	case config.SourcePostgres:
		return "PostgreSQL"
	case config.SourceMongo:
		return "MongoDB"
	default:
		return "REST API"
	}
}

// profileValues is the raw text of the profile editor.
type profileValues struct {
	Source   string
	BaseURL  string
	TokenEnv string
	PageSize string

	Host     string
	Port     string
	Database string
	Schema   string
	Username string
	Password string
	SSLMode  string
	URI      string
	AuthDB   string
}

// buildConfig turns editor values into a validated configuration.
func buildConfig(v profileValues) (*config.Config, error) {
	source := normalizeSourceSelection(v.Source)
	if source == "" {
		return nil, errors.New("select a record source")
	}

	cfg := &config.Config{Source: config.SourceConfig{Type: source}}

	if text := strings.TrimSpace(v.PageSize); text != "" {
		size, err := strconv.Atoi(text)
		if err != nil || size < 1 {
			return nil, errors.New("page size must be a positive number")
		}
		cfg.Source.PageSize = size
	}

	switch source {
	case config.SourceHTTP:
		cfg.Source.BaseURL = strings.TrimSpace(v.BaseURL)
		cfg.Source.TokenEnv = strings.TrimSpace(v.TokenEnv)
	default:
		port := 0
		if text := strings.TrimSpace(v.Port); text != "" {
			parsed, err := strconv.Atoi(text)
			if err != nil {
				return nil, errors.New("port must be a valid number")
			}
			port = parsed
		}
		cfg.Database = config.DatabaseConfig{
			Type:         source,
			Host:         strings.TrimSpace(v.Host),
			Port:         port,
			Database:     strings.TrimSpace(v.Database),
			Schema:       strings.TrimSpace(v.Schema),
			Username:     strings.TrimSpace(v.Username),
			Password:     v.Password,
			URI:          strings.TrimSpace(v.URI),
			AuthDatabase: strings.TrimSpace(v.AuthDB),
		}
		if source == config.SourcePostgres {
			cfg.Database.SSLMode = v.SSLMode
			cfg.Database.URI = ""
			cfg.Database.AuthDatabase = ""
		} else {
			cfg.Database.Schema = ""
		}
	}

	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// tableTitle is the side list text for a table.
func tableTitle(table *catalog.Table, readOnly bool) string {
	if readOnly {
		return table.DisplayName + " (read-only)"
	}
	return table.DisplayName
}

type cellRenderer interface {
	Cell(column string, value any) string
}

// gridRows renders a page for the record table. Missing values show as NULL.
func gridRows(r cellRenderer, table *catalog.Table, items []envelope.Record) (columns []string, rows [][]string) {
	if table == nil {
		return nil, nil
	}
	columns = make([]string, len(table.Columns))
	for i, col := range table.Columns {
		columns[i] = col.Name
	}
	rows = make([][]string, len(items))
	for i, item := range items {
		row := make([]string, len(columns))
		for c, name := range columns {
			value, ok := item[name]
			if !ok || value == nil {
				row[c] = "NULL"
				continue
			}
			row[c] = r.Cell(name, value)
		}
		rows[i] = row
	}
	return columns, rows
}

// summary is the details line below the record table.
func summary(snap explorer.Snapshot) string {
	switch {
	case snap.State == explorer.Fatal:
		return snap.Message
	case snap.Table == nil:
		if snap.State == explorer.Error {
			return snap.Message
		}
		return "Select a table to inspect."
	}

	parts := []string{snap.Table.DisplayName}
	if snap.ReadOnly {
		parts = append(parts, "read-only")
	}
	switch snap.State {
	case explorer.Loading:
		parts = append(parts, "loading…")
	case explorer.Error:
		parts = append(parts, snap.Message)
	default:
		parts = append(parts, fmt.Sprintf("page %d", snap.Page), records.FormatTotal(snap.Total))
	}
	if snap.Notice != "" {
		parts = append(parts, snap.Notice)
	}
	return strings.Join(parts, " • ")
}

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

// selectChoices returns the option labels for a selector and a lookup from
// label to submitted value. Duplicate labels get the raw key appended.
func selectChoices(options []relation.Option) ([]string, map[string]string) {
	labels := []string{noSelection}
	values := map[string]string{noSelection: ""}
	for _, option := range options {
		label := option.Label
		if _, taken := values[label]; taken {
			label = fmt.Sprintf("%s (%s)", label, option.Value)
		}
		labels = append(labels, label)
		values[label] = option.Value
	}
	return labels, values
}

func fieldHint(field form.Field) string {
	switch field.Kind {
	case fieldkind.Number:
		return "number"
	case fieldkind.Datetime:
		return "YYYY-MM-DDTHH:MM"
	default:
		return field.Type
	}
}

// failureText is the message shown for a refused or failed create or delete.
func failureText(err error) string {
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
