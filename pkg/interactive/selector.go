package interactive

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/kadirbelkuyu/tablescope/internal/catalog"
)

// DumpOptions are the answers collected before exporting a table.
type DumpOptions struct {
	OutputPath string
	PerPage    int
}

type TableSelector struct {
	reader *bufio.Reader
	out    io.Writer
}

// NewTableSelector reads answers from r and prints prompts to out. Nil
// arguments fall back to the process stdin and stdout.
func NewTableSelector(r io.Reader, out io.Writer) *TableSelector {
	if r == nil {
		r = os.Stdin
	}
	if out == nil {
		out = os.Stdout
	}
	reader, ok := r.(*bufio.Reader)
	if !ok {
		reader = bufio.NewReader(r)
	}
	return &TableSelector{reader: reader, out: out}
}

func (ts *TableSelector) SelectTable(tables []*catalog.Table, readOnly func(slug string) bool) (*catalog.Table, error) {
	if len(tables) == 0 {
		return nil, fmt.Errorf("no tables found")
	}

	fmt.Fprintln(ts.out)
	fmt.Fprintln(ts.out, "Available tables:")
	fmt.Fprintln(ts.out, strings.Repeat("=", 80))
	fmt.Fprintf(ts.out, "%-4s %-30s %-10s %-10s %s\n", "No", "Table", "Columns", "Access", "Description")
	fmt.Fprintln(ts.out, strings.Repeat("-", 80))
	for i, table := range tables {
		access := "read-write"
		if readOnly != nil && readOnly(table.Slug) {
			access = "read-only"
		}
		fmt.Fprintf(ts.out, "%-4d %-30s %-10d %-10s %s\n", i+1, table.Slug, len(table.Columns), access, safeValue(table.Description, "-"))
	}
	fmt.Fprintln(ts.out, strings.Repeat("=", 80))

	for {
		fmt.Fprintf(ts.out, "\nSelect the table number (1-%d): ", len(tables))

		input, err := ts.readLine()
		if err != nil {
			return nil, fmt.Errorf("unable to read input: %w", err)
		}

		if input == "" {
			fmt.Fprintln(ts.out, "Please enter a number.")
			continue
		}

		choice, err := strconv.Atoi(input)
		if err != nil {
			if table := bySlug(tables, input); table != nil {
				return table, nil
			}
			fmt.Fprintln(ts.out, "Please enter a valid number.")
			continue
		}

		if choice < 1 || choice > len(tables) {
			fmt.Fprintf(ts.out, "Please select a number between 1 and %d.\n", len(tables))
			continue
		}

		selected := tables[choice-1]
		fmt.Fprintf(ts.out, "\nSelected table: %s\n", selected.DisplayName)
		return selected, nil
	}
}

func bySlug(tables []*catalog.Table, slug string) *catalog.Table {
	for _, table := range tables {
		if strings.EqualFold(table.Slug, slug) {
			return table
		}
	}
	return nil
}

func (ts *TableSelector) ConfirmAction(action, target string) bool {
	fmt.Fprintf(ts.out, "\nConfirm running %s for %s (y/N): ", action, target)

	input, err := ts.readLine()
	if err != nil {
		return false
	}

	input = strings.ToLower(input)
	return input == "y" || input == "yes"
}

// GetDumpOptions asks where to write the export and how many records to
// request per page.
func (ts *TableSelector) GetDumpOptions(table string, defaultPerPage int) DumpOptions {
	options := DumpOptions{PerPage: defaultPerPage}

	fmt.Fprintf(ts.out, "Output path (leave empty for %s.jsonl): ", table)
	output, _ := ts.readLine()
	options.OutputPath = output
	if options.OutputPath == "" {
		options.OutputPath = table + ".jsonl"
	}

	fmt.Fprintf(ts.out, "Records per request [%d]: ", defaultPerPage)
	perPageInput, _ := ts.readLine()
	if perPageInput != "" {
		if perPage, err := strconv.Atoi(perPageInput); err == nil && perPage > 0 {
			options.PerPage = perPage
		}
	}

	return options
}

func (ts *TableSelector) readLine() (string, error) {
	line, err := ts.reader.ReadString('\n')
	if err != nil && (err != io.EOF || line == "") {
		return "", err
	}
	return strings.TrimSpace(line), nil
}

func safeValue(value, fallback string) string {
	if strings.TrimSpace(value) == "" {
		return fallback
	}
	return value
}
