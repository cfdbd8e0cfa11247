package desktop

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	fyne "fyne.io/fyne/v2"
	"fyne.io/fyne/v2/container"
	"fyne.io/fyne/v2/dialog"
	"fyne.io/fyne/v2/theme"
	"fyne.io/fyne/v2/widget"

	"github.com/kadirbelkuyu/tablescope/internal/catalog"
	"github.com/kadirbelkuyu/tablescope/internal/config"
	"github.com/kadirbelkuyu/tablescope/internal/database"
	"github.com/kadirbelkuyu/tablescope/internal/envelope"
	"github.com/kadirbelkuyu/tablescope/internal/explorer"
	"github.com/kadirbelkuyu/tablescope/internal/fieldkind"
	"github.com/kadirbelkuyu/tablescope/internal/form"
	"github.com/kadirbelkuyu/tablescope/internal/profiles"
)

// session is one connected profile. Its fields are only touched on the UI
// goroutine.
type session struct {
	profile profiles.Profile
	ctx     context.Context
	cancel  context.CancelFunc
	conn    *database.Connection
	ex      *explorer.Explorer
}

func (s *session) close() {
	s.cancel()
	if s.conn != nil {
		s.conn.Close()
	}
}

type explorerView struct {
	app *App

	content fyne.CanvasObject

	profilePicker *widget.Select
	profileLookup map[string]profiles.Profile

	tableList *widget.List
	grid      *widget.Table

	summaryLabel *widget.Label
	prevBtn      *widget.Button
	nextBtn      *widget.Button
	createBtn    *widget.Button
	deleteBtn    *widget.Button

	session *session
	snap    explorer.Snapshot
	columns []string
	rows    [][]string
	// selected is the index into snap.Items of the highlighted row, or -1.
	selected int
}

func newExplorerView(app *App) *explorerView {
	view := &explorerView{
		app:           app,
		profileLookup: make(map[string]profiles.Profile),
		selected:      -1,
	}

	view.profilePicker = widget.NewSelect([]string{}, func(value string) {
		profile, ok := view.profileLookup[value]
		if !ok || (view.session != nil && view.session.profile.Path == profile.Path) {
			return
		}
		view.openProfile(profile)
	})
	view.profilePicker.PlaceHolder = "Select profile…"

	view.tableList = widget.NewList(
		func() int { return len(view.snap.Tables) },
		func() fyne.CanvasObject {
			title := widget.NewLabel("")
			title.TextStyle = fyne.TextStyle{Bold: true}
			subtitle := widget.NewLabel("")
			subtitle.TextStyle = fyne.TextStyle{Italic: true}
			subtitle.Truncation = fyne.TextTruncateEllipsis
			return container.NewVBox(title, subtitle)
		},
		func(id widget.ListItemID, item fyne.CanvasObject) {
			if id < 0 || id >= len(view.snap.Tables) {
				return
			}
			table := view.snap.Tables[id]
			box := item.(*fyne.Container)
			if len(box.Objects) >= 2 {
				box.Objects[0].(*widget.Label).SetText(tableTitle(table, view.readOnly(table)))
				box.Objects[1].(*widget.Label).SetText(table.Description)
			}
		},
	)
	view.tableList.OnSelected = func(id widget.ListItemID) {
		if id < 0 || id >= len(view.snap.Tables) {
			return
		}
		slug := view.snap.Tables[id].Slug
		if view.snap.Table != nil && view.snap.Table.Slug == slug {
			return
		}
		view.run(func(ctx context.Context, ex *explorer.Explorer) error {
			return ex.SelectTable(ctx, slug)
		})
	}

	view.grid = widget.NewTable(
		view.gridSize,
		func() fyne.CanvasObject { return widget.NewLabel("") },
		view.updateCell,
	)
	view.grid.OnSelected = func(id widget.TableCellID) {
		view.selected = -1
		if id.Row > 0 && id.Row-1 < len(view.snap.Items) {
			view.selected = id.Row - 1
		}
		view.updateButtons()
	}

	view.summaryLabel = widget.NewLabel("Pick a profile to browse its tables.")
	view.summaryLabel.Wrapping = fyne.TextWrapWord

	refreshBtn := widget.NewButtonWithIcon("Refresh", theme.ViewRefreshIcon(), func() {
		view.run(func(ctx context.Context, ex *explorer.Explorer) error { return ex.Refresh(ctx) })
	})
	view.prevBtn = widget.NewButtonWithIcon("Previous", theme.NavigateBackIcon(), func() {
		view.run(func(ctx context.Context, ex *explorer.Explorer) error { return ex.PrevPage(ctx) })
	})
	view.nextBtn = widget.NewButtonWithIcon("Next", theme.NavigateNextIcon(), func() {
		view.run(func(ctx context.Context, ex *explorer.Explorer) error { return ex.NextPage(ctx) })
	})
	view.createBtn = widget.NewButtonWithIcon("New record", theme.ContentAddIcon(), func() {
		view.showCreateForm()
	})
	view.deleteBtn = widget.NewButtonWithIcon("Delete", theme.DeleteIcon(), func() {
		view.deleteSelected()
	})
	view.deleteBtn.Importance = widget.DangerImportance

	reconnectBtn := widget.NewButtonWithIcon("Reconnect", theme.ConfirmIcon(), func() {
		if profile, ok := view.profileLookup[view.profilePicker.Selected]; ok {
			view.openProfile(profile)
			return
		}
		dialog.ShowInformation("Select profile", "Pick a saved profile first.", view.app.window)
	})

	controls := container.NewBorder(nil, nil, widget.NewLabel("Profile"), reconnectBtn, view.profilePicker)
	actions := container.NewHBox(refreshBtn, view.prevBtn, view.nextBtn, widget.NewSeparator(), view.createBtn, view.deleteBtn)

	listCard := widget.NewCard("Tables", "", container.NewStack(view.tableList))
	recordsCard := widget.NewCard("Records", "", container.NewBorder(actions, nil, nil, nil, view.grid))
	detailsCard := widget.NewCard("Details", "", view.summaryLabel)

	right := container.NewBorder(nil, detailsCard, nil, nil, recordsCard)
	split := container.NewHSplit(listCard, right)
	split.SetOffset(0.25)

	view.content = container.NewBorder(controls, nil, nil, nil, split)
	view.updateButtons()
	return view
}

func (a *App) buildExplorerTab() fyne.CanvasObject {
	if a.explorer == nil {
		a.explorer = newExplorerView(a)
	}
	return a.explorer.canvas()
}

func (v *explorerView) canvas() fyne.CanvasObject {
	return v.content
}

func (v *explorerView) readOnly(table *catalog.Table) bool {
	return v.session != nil && v.session.ex != nil && v.session.ex.ReadOnly(table.Slug)
}

func (v *explorerView) gridSize() (int, int) {
	if len(v.columns) == 0 {
		return 1, 1
	}
	return len(v.rows) + 1, len(v.columns)
}

func (v *explorerView) updateCell(id widget.TableCellID, cell fyne.CanvasObject) {
	label := cell.(*widget.Label)
	label.Truncation = fyne.TextTruncateEllipsis
	if len(v.columns) == 0 || id.Col >= len(v.columns) {
		label.SetText("")
		return
	}
	if id.Row == 0 {
		label.TextStyle = fyne.TextStyle{Bold: true}
		label.SetText(v.columns[id.Col])
		return
	}
	label.TextStyle = fyne.TextStyle{}
	row := id.Row - 1
	if row < len(v.rows) {
		label.SetText(v.rows[row][id.Col])
	} else {
		label.SetText("")
	}
}

func (v *explorerView) updateProfiles(list []profiles.Profile) {
	v.profileLookup = make(map[string]profiles.Profile)
	options := make([]string, len(list))
	for i, profile := range list {
		label := fmt.Sprintf("%s (%s)", profile.Name, renderSource(profile.Type))
		options[i] = label
		v.profileLookup[label] = profile
	}
	v.profilePicker.Options = options
	v.profilePicker.Refresh()
}

// openProfile connects to the profile's source and loads its schema. A
// previous session is closed first.
func (v *explorerView) openProfile(profile profiles.Profile) {
	cfg, err := config.LoadConfig(profile.Path)
	if err != nil {
		dialog.ShowError(fmt.Errorf("load config: %w", err), v.app.window)
		v.app.setStatus("Cannot open %s: %v", profile.Name, err)
		return
	}

	v.disconnect()
	ctx, cancel := context.WithCancel(v.app.ctx)
	s := &session{profile: profile, ctx: ctx, cancel: cancel}
	v.session = s

	label := fmt.Sprintf("%s (%s)", profile.Name, renderSource(profile.Type))
	if v.profilePicker.Selected != label {
		v.profilePicker.SetSelected(label)
	}
	v.summaryLabel.SetText(fmt.Sprintf("Connecting to %s…", profile.Name))
	v.app.setStatus("Connecting to %s…", profile.Name)

	go v.connect(s, cfg)
}

func (v *explorerView) connect(s *session, cfg *config.Config) {
	log := v.app.log.WithField("profile", s.profile.Name)

	conn, err := database.NewConnection(s.ctx, cfg, v.app.log)
	if err != nil {
		log.WithError(err).Error("failed to open source")
		v.app.runOnUI(func() {
			if v.session != s {
				return
			}
			v.summaryLabel.SetText(fmt.Sprintf("Connection failed: %v", err))
			v.app.setStatus("Connection failed: %v", err)
		})
		return
	}

	ex := explorer.New(conn.API, explorer.Options{PerPage: cfg.Source.PageSize, Logger: v.app.log})
	ex.Subscribe(func(snap explorer.Snapshot) {
		v.app.runOnUI(func() {
			if v.session == s {
				v.render(ex, snap)
			}
		})
	})

	ready := make(chan bool, 1)
	v.app.runOnUI(func() {
		if v.session != s {
			conn.Close()
			ready <- false
			return
		}
		s.conn = conn
		s.ex = ex
		ready <- true
	})
	if !<-ready {
		return
	}

	if err := ex.Connect(s.ctx); err != nil {
		log.WithError(err).Error("failed to load schema")
		v.app.setStatus("Schema load failed: %v", err)
		return
	}
	v.app.setStatus("Connected to %s.", conn.Describe())

	slugs := ex.Catalog().Slugs()
	if len(slugs) == 0 {
		v.app.runOnUI(func() { v.summaryLabel.SetText("The schema lists no tables.") })
		return
	}
	if err := ex.SelectTable(s.ctx, slugs[0]); err != nil && !errors.Is(err, context.Canceled) {
		log.WithError(err).Warn("failed to load first table")
	}
}

func (v *explorerView) disconnect() {
	if v.session == nil {
		return
	}
	v.session.close()
	v.session = nil
	v.snap = explorer.Snapshot{}
	v.columns, v.rows = nil, nil
	v.selected = -1
	v.tableList.UnselectAll()
	v.tableList.Refresh()
	v.grid.Refresh()
	v.updateButtons()
}

// run executes an explorer call off the UI goroutine. Refused actions are
// reported in a dialog.
func (v *explorerView) run(call func(ctx context.Context, ex *explorer.Explorer) error) {
	s := v.session
	if s == nil || s.ex == nil {
		dialog.ShowInformation("Not connected", "Pick a saved profile first.", v.app.window)
		return
	}
	go func() {
		err := call(s.ctx, s.ex)
		if err == nil || errors.Is(err, context.Canceled) {
			return
		}
		v.app.log.WithError(err).Debug("explorer call failed")
		var action *explorer.ActionError
		if errors.As(err, &action) {
			v.app.runOnUI(func() {
				dialog.ShowInformation("Not possible", action.Message, v.app.window)
			})
		}
	}()
}

// render runs on the UI goroutine.
func (v *explorerView) render(ex *explorer.Explorer, snap explorer.Snapshot) {
	tablesChanged := len(snap.Tables) != len(v.snap.Tables)
	pageChanged := snap.Table != v.snap.Table || snap.Page != v.snap.Page || !sameItems(snap.Items, v.snap.Items)

	v.snap = snap
	v.columns, v.rows = gridRows(ex, snap.Table, snap.Items)

	if tablesChanged {
		v.tableList.Refresh()
	}
	if snap.Table != nil {
		index := slices.IndexFunc(snap.Tables, func(t *catalog.Table) bool { return t.Slug == snap.Table.Slug })
		if index >= 0 {
			v.tableList.Select(index)
		}
	}
	if pageChanged {
		v.selected = -1
		v.grid.UnselectAll()
	}
	v.grid.Refresh()
	v.summaryLabel.SetText(summary(snap))
	v.updateButtons()
}

func sameItems(a, b []envelope.Record) bool {
	if len(a) != len(b) {
		return false
	}
	if len(a) == 0 {
		return true
	}
	return &a[0] == &b[0]
}

func (v *explorerView) updateButtons() {
	connected := v.session != nil && v.snap.Table != nil && v.snap.State != explorer.Fatal
	toggle(v.prevBtn, connected && v.snap.HasPrev)
	toggle(v.nextBtn, connected && v.snap.HasNext)
	toggle(v.createBtn, connected && !v.snap.ReadOnly)
	toggle(v.deleteBtn, connected && !v.snap.ReadOnly && v.selected >= 0)
}

func toggle(button *widget.Button, enabled bool) {
	if enabled {
		button.Enable()
	} else {
		button.Disable()
	}
}

func (v *explorerView) deleteSelected() {
	if v.selected < 0 || v.selected >= len(v.snap.Items) {
		dialog.ShowInformation("Select record", "Select a record to delete.", v.app.window)
		return
	}
	record := v.snap.Items[v.selected]
	v.run(func(ctx context.Context, ex *explorer.Explorer) error {
		_, err := ex.Delete(ctx, record, func(prompt string) bool {
			return v.confirm(ctx, prompt)
		})
		return err
	})
}

// confirm blocks the calling goroutine until the operator answers.
func (v *explorerView) confirm(ctx context.Context, prompt string) bool {
	answer := make(chan bool, 1)
	v.app.runOnUI(func() {
		dialog.ShowConfirm("Delete record", prompt, func(ok bool) {
			answer <- ok
		}, v.app.window)
	})

	select {
	case ok := <-answer:
		return ok
	case <-ctx.Done():
		return false
	}
}

func (v *explorerView) showCreateForm() {
	s := v.session
	if s == nil || s.ex == nil || v.snap.Table == nil {
		dialog.ShowInformation("Select table", "Select a table first.", v.app.window)
		return
	}
	if v.snap.ReadOnly {
		dialog.ShowInformation("Read-only", explorer.MsgReadOnly, v.app.window)
		return
	}
	ex := s.ex
	f := ex.Form()
	if f == nil {
		return
	}

	status := widget.NewLabel("")
	status.Wrapping = fyne.TextWrapWord
	set := func(name string, value any) {
		if err := f.Set(name, value); err != nil {
			status.SetText(err.Error())
		}
	}

	var items []*widget.FormItem
	for _, field := range f.Fields() {
		items = append(items, v.formItem(ex, f, field, set))
	}
	if len(items) == 0 {
		items = append(items, widget.NewFormItem("", placeholder("Every column is filled in by the backend.")))
	}

	var dlg dialog.Dialog
	entryForm := widget.NewForm(items...)
	entryForm.SubmitText = "Create"
	entryForm.CancelText = "Cancel"
	entryForm.OnCancel = func() { dlg.Hide() }
	entryForm.OnSubmit = func() {
		if f.Submitting() {
			return
		}
		status.SetText("Saving…")
		go func() {
			_, err := ex.Create(s.ctx)
			v.app.runOnUI(func() {
				if err != nil {
					status.SetText(failureText(err))
					return
				}
				dlg.Hide()
			})
		}()
	}

	content := container.NewBorder(nil, status, nil, nil, container.NewVScroll(entryForm))
	dlg = dialog.NewCustomWithoutButtons("New "+v.snap.Table.DisplayName, content, v.app.window)
	dlg.Resize(fyne.NewSize(560, float32(min(120+60*len(items), 640))))
	dlg.Show()
}

func (v *explorerView) formItem(ex *explorer.Explorer, f *form.Form, field form.Field, set func(string, any)) *widget.FormItem {
	name := field.Name

	switch {
	case field.Selector():
		options, truncated := ex.Options(name)
		labels, values := selectChoices(options)
		picker := widget.NewSelect(labels, func(label string) {
			set(name, values[label])
		})
		current, _ := f.Value(name).(string)
		for label, value := range values {
			if value == current && current != "" {
				picker.SetSelected(label)
			}
		}
		item := widget.NewFormItem(fieldLabel(field, truncated), picker)
		if ex.OptionError(name) != nil {
			item.HintText = "Options unavailable."
		}
		return item

	case field.Kind == fieldkind.Checkbox:
		checked, _ := f.Value(name).(bool)
		check := widget.NewCheck("", func(on bool) { set(name, on) })
		check.SetChecked(checked)
		return widget.NewFormItem(fieldLabel(field, false), check)

	case field.Kind == fieldkind.Multiline:
		entry := widget.NewMultiLineEntry()
		entry.SetMinRowsVisible(3)
		text, _ := f.Value(name).(string)
		entry.SetText(text)
		entry.OnChanged = func(value string) { set(name, value) }
		return widget.NewFormItem(fieldLabel(field, false), entry)

	default:
		entry := widget.NewEntry()
		entry.SetPlaceHolder(fieldHint(field))
		text, _ := f.Value(name).(string)
		entry.SetText(text)
		entry.OnChanged = func(value string) { set(name, value) }
		item := widget.NewFormItem(fieldLabel(field, false), entry)
		if strings.TrimSpace(field.Type) != "" {
			item.HintText = field.Type
		}
		return item
	}
}
