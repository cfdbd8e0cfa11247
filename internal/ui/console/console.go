// Package console is the terminal front end of the explorer.
package console

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"

	"github.com/kadirbelkuyu/tablescope/internal/envelope"
	"github.com/kadirbelkuyu/tablescope/internal/explorer"
	"github.com/kadirbelkuyu/tablescope/internal/fieldkind"
	"github.com/kadirbelkuyu/tablescope/pkg/logger"
)

const (
	mainPage   = "main"
	createPage = "create"
	deletePage = "delete"
)

// Shell draws the explorer state and turns key presses into explorer calls.
// Explorer calls never run on the UI goroutine.
type Shell struct {
	ctx context.Context
	ex  *explorer.Explorer
	log *logger.Logger

	app   *tview.Application
	pages *tview.Pages
	list  *tview.List
	grid  *tview.Table
	meta  *tview.TextView

	mu    sync.Mutex
	slugs []string
	items []envelope.Record
}

func New(ctx context.Context, ex *explorer.Explorer, log *logger.Logger) *Shell {
	if log == nil {
		log = logger.Discard()
	}
	s := &Shell{
		ctx:   ctx,
		ex:    ex,
		log:   log,
		app:   tview.NewApplication(),
		pages: tview.NewPages(),
		list:  tview.NewList().ShowSecondaryText(false),
		grid:  tview.NewTable().SetFixed(1, 0).SetSelectable(true, false),
		meta:  tview.NewTextView().SetDynamicColors(true),
	}

	s.list.AddItem("Loading tables…", "", 0, nil)
	s.meta.SetText("Connecting…")
	s.list.SetSelectedFunc(func(index int, _, _ string, _ rune) {
		s.selectTable(index)
	})

	layout := tview.NewFlex().
		SetDirection(tview.FlexColumn).
		AddItem(s.list.SetBorder(true).SetTitle("Tables"), 30, 1, true).
		AddItem(tview.NewFlex().SetDirection(tview.FlexRow).
			AddItem(s.grid.SetBorder(true).SetTitle("Records"), 0, 3, false).
			AddItem(s.meta.SetBorder(true).SetTitle("Details"), 7, 1, false),
			0, 3, false)
	s.pages.AddPage(mainPage, layout, true, true)

	ex.Subscribe(func(snap explorer.Snapshot) {
		queueUpdate(s.app, func() { s.render(snap) })
	})
	return s
}

// Run connects the explorer and blocks until the operator quits.
func (s *Shell) Run() error {
	var loadOnce sync.Once
	s.app.SetBeforeDrawFunc(func(screen tcell.Screen) bool {
		loadOnce.Do(func() { go s.connect() })
		return false
	})

	s.app.SetRoot(s.pages, true).SetInputCapture(s.handleKey)

	if err := s.app.Run(); err != nil {
		return fmt.Errorf("TUI error: %w", err)
	}
	return nil
}

func (s *Shell) connect() {
	if err := s.ex.Connect(s.ctx); err != nil {
		s.log.WithError(err).Error("failed to load schema")
		return
	}
	slugs := s.ex.Catalog().Slugs()
	if len(slugs) == 0 {
		queueUpdate(s.app, func() {
			s.list.Clear()
			s.list.AddItem("No tables found", "", 0, nil)
		})
		return
	}
	s.run(func(ctx context.Context) error {
		return s.ex.SelectTable(ctx, slugs[0])
	})
}

// run executes an explorer call off the UI goroutine and shows refused
// actions in the details pane.
func (s *Shell) run(call func(ctx context.Context) error) {
	go func() {
		err := call(s.ctx)
		if err == nil || errors.Is(err, context.Canceled) {
			return
		}
		s.log.WithError(err).Debug("explorer call failed")
		var action *explorer.ActionError
		if errors.As(err, &action) {
			s.flash(action.Message)
		}
	}()
}

// flash is for background goroutines; showMessage for the UI goroutine.
func (s *Shell) flash(message string) {
	queueUpdate(s.app, func() { s.showMessage(message) })
}

func (s *Shell) showMessage(message string) {
	s.meta.SetText(fmt.Sprintf("[red]%s[-]\n%s", tview.Escape(message), helpLine))
}

func (s *Shell) handleKey(event *tcell.EventKey) *tcell.EventKey {
	if front, _ := s.pages.GetFrontPage(); front != mainPage {
		return event
	}

	switch event.Key() {
	case tcell.KeyTab:
		if s.list.HasFocus() {
			s.app.SetFocus(s.grid)
		} else {
			s.app.SetFocus(s.list)
		}
		return nil
	case tcell.KeyRune:
	default:
		return event
	}

	switch event.Rune() {
	case 'q', 'Q':
		s.app.Stop()
	case 'r', 'R':
		s.run(s.ex.Refresh)
	case 'n', ']':
		s.run(s.ex.NextPage)
	case 'p', '[':
		s.run(s.ex.PrevPage)
	case 'c', 'C':
		s.showCreateForm()
	case 'd', 'D':
		s.deleteSelected()
	default:
		return event
	}
	return nil
}

func (s *Shell) selectTable(index int) {
	s.mu.Lock()
	if index < 0 || index >= len(s.slugs) {
		s.mu.Unlock()
		return
	}
	slug := s.slugs[index]
	s.mu.Unlock()

	s.run(func(ctx context.Context) error {
		return s.ex.SelectTable(ctx, slug)
	})
}

// render runs on the UI goroutine.
func (s *Shell) render(snap explorer.Snapshot) {
	slugs := make([]string, len(snap.Tables))
	for i, table := range snap.Tables {
		slugs[i] = table.Slug
	}

	s.mu.Lock()
	changed := !slices.Equal(slugs, s.slugs)
	s.slugs = slugs
	s.items = snap.Items
	s.mu.Unlock()

	if changed && len(snap.Tables) > 0 {
		current := s.list.GetCurrentItem()
		s.list.Clear()
		for _, table := range snap.Tables {
			s.list.AddItem(tableEntry(table, s.ex.ReadOnly(table.Slug)), "", 0, nil)
		}
		if current >= 0 && current < len(slugs) {
			s.list.SetCurrentItem(current)
		}
	}

	s.grid.Clear()
	for i, name := range headers(snap.Table) {
		cell := tview.NewTableCell(name).SetSelectable(false).SetAlign(tview.AlignCenter).SetAttributes(tcell.AttrBold)
		s.grid.SetCell(0, i, cell)
	}
	for r, row := range rows(s.ex, snap.Table, snap.Items) {
		for c, value := range row {
			s.grid.SetCell(r+1, c, tview.NewTableCell(tview.Escape(value)).SetExpansion(1))
		}
	}

	if snap.Table != nil {
		s.grid.SetTitle(snap.Table.DisplayName)
	}
	s.meta.SetText(statusText(snap))
}

func (s *Shell) selectedRecord() (envelope.Record, bool) {
	row, _ := s.grid.GetSelection()
	s.mu.Lock()
	defer s.mu.Unlock()
	if row < 1 || row > len(s.items) {
		return nil, false
	}
	return s.items[row-1], true
}

func (s *Shell) deleteSelected() {
	record, ok := s.selectedRecord()
	if !ok {
		s.showMessage("Select a record to delete.")
		return
	}
	s.run(func(ctx context.Context) error {
		_, err := s.ex.Delete(ctx, record, s.confirm)
		return err
	})
}

// confirm shows a yes/no dialog and blocks the calling goroutine until the
// operator answers.
func (s *Shell) confirm(prompt string) bool {
	answer := make(chan bool, 1)
	queueUpdate(s.app, func() {
		modal := tview.NewModal().
			SetText(prompt).
			AddButtons([]string{"Delete", "Cancel"}).
			SetDoneFunc(func(index int, _ string) {
				s.pages.RemovePage(deletePage)
				s.app.SetFocus(s.grid)
				answer <- index == 0
			})
		s.pages.AddPage(deletePage, modal, true, true)
		s.app.SetFocus(modal)
	})

	select {
	case ok := <-answer:
		return ok
	case <-s.ctx.Done():
		return false
	}
}

func (s *Shell) closeCreateForm() {
	s.pages.RemovePage(createPage)
	s.app.SetFocus(s.grid)
}

func (s *Shell) showCreateForm() {
	snap := s.ex.Snapshot()
	f := s.ex.Form()
	if snap.Table == nil || f == nil {
		s.showMessage("Select a table first.")
		return
	}
	if snap.ReadOnly {
		s.showMessage(explorer.MsgReadOnly)
		return
	}

	status := tview.NewTextView().SetDynamicColors(true)
	view := tview.NewForm()
	for _, field := range f.Fields() {
		name := field.Name
		set := func(value any) {
			if err := f.Set(name, value); err != nil {
				status.SetText("[red]" + tview.Escape(err.Error()))
			}
		}

		switch {
		case field.Selector():
			options, truncated := s.ex.Options(name)
			label := fieldLabel(field, truncated)
			if s.ex.OptionError(name) != nil {
				label += " (options unavailable)"
			}
			labels, values := choices(options)
			current, _ := f.Value(name).(string)
			initial := max(slices.Index(values, current), 0)
			view.AddDropDown(label, labels, initial, func(_ string, index int) {
				if index >= 0 && index < len(values) {
					set(values[index])
				}
			})
		case field.Kind == fieldkind.Checkbox:
			checked, _ := f.Value(name).(bool)
			view.AddCheckbox(fieldLabel(field, false), checked, func(on bool) { set(on) })
		case field.Kind == fieldkind.Multiline:
			text, _ := f.Value(name).(string)
			view.AddTextArea(fieldLabel(field, false), text, 0, 3, 0, func(value string) { set(value) })
		default:
			text, _ := f.Value(name).(string)
			input := tview.NewInputField().
				SetLabel(fieldLabel(field, false)).
				SetText(text).
				SetPlaceholder(placeholder(field)).
				SetChangedFunc(func(value string) { set(value) })
			view.AddFormItem(input)
		}
	}

	view.AddButton("Create", func() {
		if f.Submitting() {
			return
		}
		status.SetText("Saving…")
		go func() {
			_, err := s.ex.Create(s.ctx)
			queueUpdate(s.app, func() {
				if err != nil {
					status.SetText("[red]" + tview.Escape(actionMessage(err)))
					return
				}
				s.closeCreateForm()
			})
		}()
	})
	view.AddButton("Cancel", s.closeCreateForm)
	view.SetCancelFunc(s.closeCreateForm)
	view.SetBorder(true).SetTitle("New " + snap.Table.DisplayName)

	wrapper := tview.NewFlex().SetDirection(tview.FlexRow).
		AddItem(view, 0, 1, true).
		AddItem(status, 2, 0, false)

	height := min(2*len(f.Fields())+9, 40)
	s.pages.AddPage(createPage, newModal(wrapper, 90, height), true, true)
	s.app.SetFocus(view)
}
