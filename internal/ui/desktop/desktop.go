// Package desktop is the windowed front end: saved source profiles and the
// record explorer side by side.
package desktop

import (
	"context"
	"fmt"
	"sort"
	"strings"

	fyne "fyne.io/fyne/v2"
	fyneapp "fyne.io/fyne/v2/app"
	"fyne.io/fyne/v2/container"
	"fyne.io/fyne/v2/theme"
	"fyne.io/fyne/v2/widget"

	"github.com/kadirbelkuyu/tablescope/internal/profiles"
	"github.com/kadirbelkuyu/tablescope/pkg/logger"
)

const defaultConfigDir = "configs"

// Run starts the desktop window using profiles stored in configDir.
func Run(ctx context.Context, configDir string, log *logger.Logger) error {
	dir := strings.TrimSpace(configDir)
	if dir == "" {
		dir = defaultConfigDir
	}
	if log == nil {
		log = logger.Discard()
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	desktop := &App{
		ctx:                ctx,
		log:                log,
		configDir:          dir,
		manager:            profiles.NewManager(dir),
		profileSelectedIdx: -1,
	}

	return desktop.Run()
}

// App represents the desktop UI controller.
type App struct {
	ctx       context.Context
	log       *logger.Logger
	configDir string
	manager   *profiles.Manager

	app    fyne.App
	window fyne.Window

	status *widget.Label
	tabs   *container.AppTabs

	profileItems       []profiles.Profile
	profileFiltered    []int
	profileSelectedIdx int
	profileSearch      *widget.Entry
	profileList        *widget.List
	profileForm        *profileEditor

	explorer *explorerView
}

// Run bootstraps the fyne application and blocks until the window is closed.
func (a *App) Run() error {
	a.app = fyneapp.NewWithID("github.com/kadirbelkuyu/tablescope/desktop")
	a.window = a.app.NewWindow("Tablescope")
	a.window.Resize(fyne.NewSize(1280, 800))
	a.app.Settings().SetTheme(theme.DarkTheme())

	a.window.SetContent(a.buildShell())
	a.window.SetOnClosed(func() {
		if a.explorer != nil {
			a.explorer.disconnect()
		}
	})
	a.refreshProfiles()
	a.window.ShowAndRun()
	return nil
}

func (a *App) buildShell() fyne.CanvasObject {
	header := a.buildHeader()
	status := a.buildStatusBar()

	a.profileForm = newProfileEditor(a)
	a.explorer = newExplorerView(a)

	a.tabs = container.NewAppTabs(
		container.NewTabItemWithIcon("Profiles", theme.AccountIcon(), a.buildProfilesTab()),
		container.NewTabItemWithIcon("Explorer", theme.ViewRefreshIcon(), a.buildExplorerTab()),
	)
	a.tabs.SetTabLocation(container.TabLocationLeading)

	return container.NewBorder(header, status, nil, nil, a.tabs)
}

func (a *App) buildHeader() fyne.CanvasObject {
	title := widget.NewLabelWithStyle("Tablescope", fyne.TextAlignLeading, fyne.TextStyle{Bold: true})
	subtitle := widget.NewLabel("Browse, create and delete records of any table the schema describes.")
	subtitle.Wrapping = fyne.TextWrapWord

	return container.NewVBox(title, subtitle, widget.NewSeparator())
}

func (a *App) buildStatusBar() fyne.CanvasObject {
	a.status = widget.NewLabel("Ready.")
	return container.NewBorder(nil, nil, widget.NewLabel("Status"), nil, a.status)
}

func (a *App) setStatus(format string, args ...interface{}) {
	if a.status == nil {
		return
	}
	msg := format
	if len(args) > 0 {
		msg = fmt.Sprintf(format, args...)
	}
	a.runOnUI(func() {
		a.status.SetText(msg)
	})
}

func (a *App) runOnUI(fn func()) {
	if fn == nil {
		return
	}
	if a.app == nil {
		fn()
		return
	}
	fyne.Do(fn)
}

func (a *App) refreshProfiles() {
	profilesList, err := a.manager.List("")
	if err != nil {
		a.setStatus("Failed to load profiles: %v", err)
		return
	}
	sort.SliceStable(profilesList, func(i, j int) bool {
		return strings.ToLower(profilesList[i].Name) < strings.ToLower(profilesList[j].Name)
	})
	a.profileItems = profilesList
	a.profileSelectedIdx = -1
	if a.profileForm != nil && a.profileForm.currentProfile != nil {
		a.profileSelectedIdx = indexOfProfile(profilesList, a.profileForm.currentProfile.Name)
	}
	if a.profileSearch != nil {
		a.profileFiltered = matchProfiles(profilesList, a.profileSearch.Text)
	}
	if a.profileList != nil {
		a.profileList.Refresh()
	}
	if a.explorer != nil {
		a.explorer.updateProfiles(profilesList)
	}
	if len(profilesList) == 0 && a.profileForm != nil {
		a.profileForm.reset(nil, nil)
	}
}
