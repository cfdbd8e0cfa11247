package app

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/kadirbelkuyu/tablescope/internal/config"
	"github.com/kadirbelkuyu/tablescope/internal/profiles"
	"github.com/kadirbelkuyu/tablescope/pkg/interactive"
	"github.com/kadirbelkuyu/tablescope/pkg/logger"
)

const DefaultConfigDir = "configs"

// Options wires the guided menu to the rest of the program. Desktop is
// optional; the menu hides the entry when it is nil.
type Options struct {
	In          io.Reader
	Out         io.Writer
	ConfigDir   string
	LogPath     string
	Verbose     bool
	PrintBanner func()
	Desktop     func(ctx context.Context) error
}

type Application struct {
	reader         *bufio.Reader
	out            io.Writer
	opts           Options
	profileManager *profiles.Manager
	service        *Service
}

func NewApplication(opts Options) *Application {
	r := opts.In
	if r == nil {
		r = os.Stdin
	}
	if opts.Out == nil {
		opts.Out = os.Stdout
	}
	if opts.ConfigDir == "" {
		opts.ConfigDir = DefaultConfigDir
	}

	var reader *bufio.Reader
	if br, ok := r.(*bufio.Reader); ok {
		reader = br
	} else {
		reader = bufio.NewReader(r)
	}

	return &Application{
		reader:         reader,
		out:            opts.Out,
		opts:           opts,
		profileManager: profiles.NewManager(opts.ConfigDir),
		service:        NewService(opts.Out),
	}
}

type menuEntry struct {
	label   string
	aliases []string
	failure string
	run     func(ctx context.Context) error
}

func (a *Application) menu() []menuEntry {
	entries := []menuEntry{
		{"Explore records in the console UI", []string{"explore"}, "Explorer failed", a.handleExplore},
		{"List tables", []string{"tables", "list"}, "Listing failed", a.handleTables},
		{"Export a table as JSON lines", []string{"dump", "export"}, "Export failed", a.handleDump},
		{"Check a source is reachable", []string{"ping"}, "Check failed", a.handlePing},
	}
	if a.opts.Desktop != nil {
		entries = append(entries, menuEntry{"Open the desktop app", []string{"desktop"}, "Desktop app failed", a.opts.Desktop})
	}
	return entries
}

func (a *Application) RunInteractive(ctx context.Context) error {
	if a.opts.PrintBanner != nil {
		a.opts.PrintBanner()
	}

	entries := a.menu()
	exit := strconv.Itoa(len(entries) + 1)
	fmt.Fprintf(a.out, "Interactive mode is ready. Press Ctrl+C or choose option %s to exit.\n", exit)

	for {
		fmt.Fprintln(a.out)
		fmt.Fprintln(a.out, "Select an operation:")
		for i, entry := range entries {
			fmt.Fprintf(a.out, "  %d) %s\n", i+1, entry.label)
		}
		fmt.Fprintf(a.out, "  %s) Exit\n", exit)

		fmt.Fprint(a.out, "\nChoice: ")
		choice, err := a.readLine()
		if err != nil {
			if errors.Is(err, io.EOF) {
				a.sayGoodbye()
				return nil
			}
			return err
		}

		choice = strings.ToLower(strings.TrimSpace(choice))
		switch choice {
		case exit, "exit", "quit", "q":
			a.sayGoodbye()
			return nil
		}

		entry, ok := lookupEntry(entries, choice)
		if !ok {
			fmt.Fprintln(a.out, "Invalid selection. Try again.")
			continue
		}

		if err := entry.run(ctx); err != nil {
			if errors.Is(err, io.EOF) {
				a.sayGoodbye()
				return nil
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			fmt.Fprintf(a.out, "%s: %v\n", entry.failure, err)
		}
	}
}

func lookupEntry(entries []menuEntry, choice string) (menuEntry, bool) {
	if index, err := strconv.Atoi(choice); err == nil {
		if index >= 1 && index <= len(entries) {
			return entries[index-1], true
		}
		return menuEntry{}, false
	}
	for _, entry := range entries {
		for _, alias := range entry.aliases {
			if alias == choice {
				return entry, true
			}
		}
	}
	return menuEntry{}, false
}

func (a *Application) sayGoodbye() {
	fmt.Fprintln(a.out)
	fmt.Fprintln(a.out, "Exiting interactive mode.")
}

func (a *Application) handleExplore(ctx context.Context) error {
	fmt.Fprintln(a.out)
	fmt.Fprintln(a.out, "Explore records in the console UI")

	cfg, err := a.loadOrPromptConfig()
	if err != nil {
		return err
	}

	return a.service.Explore(ctx, cfg, a.opts.LogPath, a.opts.Verbose)
}

func (a *Application) handleTables(ctx context.Context) error {
	fmt.Fprintln(a.out)
	fmt.Fprintln(a.out, "List the tables a source exposes")

	cfg, err := a.loadOrPromptConfig()
	if err != nil {
		return err
	}

	return a.service.Tables(ctx, cfg, a.opts.Verbose)
}

func (a *Application) handlePing(ctx context.Context) error {
	fmt.Fprintln(a.out)
	fmt.Fprintln(a.out, "Check a source is reachable")

	cfg, err := a.loadOrPromptConfig()
	if err != nil {
		return err
	}

	return a.service.Ping(ctx, cfg, a.opts.Verbose)
}

func (a *Application) handleDump(ctx context.Context) error {
	fmt.Fprintln(a.out)
	fmt.Fprintln(a.out, "Export a table as JSON lines")

	cfg, err := a.loadOrPromptConfig()
	if err != nil {
		return err
	}

	log := logger.NewLogger(a.opts.Verbose)
	sess, err := a.service.open(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer sess.Close()

	selector := interactive.NewTableSelector(a.reader, a.out)
	table, err := selector.SelectTable(sess.ex.Catalog().Tables(), sess.ex.ReadOnly)
	if err != nil {
		return fmt.Errorf("table selection failed: %w", err)
	}

	options := selector.GetDumpOptions(table.Slug, cfg.Source.PageSize)
	if !selector.ConfirmAction("export", table.Slug) {
		log.Info("Operation cancelled by user.")
		return nil
	}

	written, err := a.service.dump(ctx, sess, DumpRequest{
		Table:   table.Slug,
		Output:  options.OutputPath,
		PerPage: options.PerPage,
	}, log)
	if err != nil {
		return err
	}

	fmt.Fprintln(a.out)
	fmt.Fprintln(a.out, "Export completed successfully.")
	fmt.Fprintf(a.out, "File: %s\n", options.OutputPath)
	fmt.Fprintf(a.out, "Records: %d\n", written)
	return nil
}

func (a *Application) promptString(label string, required bool) (string, error) {
	for {
		fmt.Fprintf(a.out, "%s: ", label)
		input, err := a.readLine()
		if err != nil {
			return "", err
		}
		if input == "" && required {
			fmt.Fprintln(a.out, "Please provide a value.")
			continue
		}
		return input, nil
	}
}

func (a *Application) promptYesNo(question string, defaultValue bool) (bool, error) {
	suffix := "(y/N)"
	if defaultValue {
		suffix = "(Y/n)"
	}

	for {
		fmt.Fprintf(a.out, "%s %s ", question, suffix)
		input, err := a.readLine()
		if err != nil {
			return false, err
		}

		if input == "" {
			return defaultValue, nil
		}

		switch strings.ToLower(input) {
		case "y", "yes":
			return true, nil
		case "n", "no":
			return false, nil
		default:
			fmt.Fprintln(a.out, "Please answer with y or n.")
		}
	}
}

func (a *Application) promptInt(question string, defaultValue int) (int, error) {
	for {
		fmt.Fprintf(a.out, "%s [%d]: ", question, defaultValue)
		input, err := a.readLine()
		if err != nil {
			return 0, err
		}

		if input == "" {
			return defaultValue, nil
		}

		value, err := strconv.Atoi(input)
		if err != nil || value < 0 {
			fmt.Fprintln(a.out, "Please enter a valid number.")
			continue
		}

		return value, nil
	}
}

func (a *Application) loadOrPromptConfig() (*config.Config, error) {
	for {
		fmt.Fprintln(a.out)
		fmt.Fprintln(a.out, "Configure the record source")

		if cfg, ok, err := a.selectProfile(); err != nil {
			return nil, err
		} else if ok {
			return cfg, nil
		}

		sourceType, err := a.promptSourceType()
		if err != nil {
			return nil, err
		}

		cfg, err := a.promptManualConfig(sourceType)
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil, err
			}
			fmt.Fprintf(a.out, "Error: %v\n", err)
			continue
		}

		if err := a.persistConfig(cfg); err != nil {
			if errors.Is(err, io.EOF) {
				return nil, err
			}
			fmt.Fprintf(a.out, "Warning: failed to save config: %v\n", err)
		}

		return cfg, nil
	}
}

func (a *Application) promptManualConfig(sourceType string) (*config.Config, error) {
	cfg := &config.Config{
		Source: config.SourceConfig{
			Type: sourceType,
		},
	}

	switch sourceType {
	case config.SourceHTTP:
		fmt.Fprintln(a.out)
		fmt.Fprintln(a.out, "Enter the REST backend details:")

		baseURL, err := a.promptString("Base URL", true)
		if err != nil {
			return nil, err
		}
		tokenEnv, err := a.promptStringWithDefault("Environment variable holding the token", config.DefaultTokenEnv)
		if err != nil {
			return nil, err
		}

		cfg.Source.BaseURL = strings.TrimSpace(baseURL)
		cfg.Source.TokenEnv = strings.TrimSpace(tokenEnv)

	case config.SourcePostgres:
		cfg.Database.Type = config.SourcePostgres
		fmt.Fprintln(a.out)
		fmt.Fprintln(a.out, "Enter PostgreSQL connection details:")

		host, err := a.promptStringWithDefault("Host", "localhost")
		if err != nil {
			return nil, err
		}
		port, err := a.promptInt("Port", 5432)
		if err != nil {
			return nil, err
		}
		dbName, err := a.promptStringWithDefault("Database name", "postgres")
		if err != nil {
			return nil, err
		}
		schema, err := a.promptStringWithDefault("Schema", "public")
		if err != nil {
			return nil, err
		}
		username, err := a.promptString("Username (leave blank for none)", false)
		if err != nil {
			return nil, err
		}
		password, err := a.promptString("Password (leave blank for none)", false)
		if err != nil {
			return nil, err
		}
		sslMode, err := a.promptStringWithDefault("SSL mode", "disable")
		if err != nil {
			return nil, err
		}

		cfg.Database.Host = host
		cfg.Database.Port = port
		cfg.Database.Database = dbName
		cfg.Database.Schema = schema
		cfg.Database.Username = username
		cfg.Database.Password = password
		cfg.Database.SSLMode = strings.TrimSpace(sslMode)

	case config.SourceMongo:
		cfg.Database.Type = config.SourceMongo
		fmt.Fprintln(a.out)
		fmt.Fprintln(a.out, "Enter MongoDB connection details:")

		useURI, err := a.promptYesNo("Provide a MongoDB URI?", false)
		if err != nil {
			return nil, err
		}

		if useURI {
			uri, err := a.promptString("MongoDB URI", true)
			if err != nil {
				return nil, err
			}
			cfg.Database.URI = uri
		} else {
			host, err := a.promptStringWithDefault("Host", "localhost")
			if err != nil {
				return nil, err
			}
			port, err := a.promptInt("Port", 27017)
			if err != nil {
				return nil, err
			}
			username, err := a.promptString("Username (leave blank for none)", false)
			if err != nil {
				return nil, err
			}
			password, err := a.promptString("Password (leave blank for none)", false)
			if err != nil {
				return nil, err
			}
			authDB := ""
			if username != "" {
				authDB, err = a.promptStringWithDefault("Auth database", "admin")
				if err != nil {
					return nil, err
				}
			}

			cfg.Database.Host = host
			cfg.Database.Port = port
			cfg.Database.Username = username
			cfg.Database.Password = password
			cfg.Database.AuthDatabase = strings.TrimSpace(authDB)
		}

		dbName, err := a.promptStringWithDefault("Database name", "test")
		if err != nil {
			return nil, err
		}
		cfg.Database.Database = dbName

	default:
		return nil, fmt.Errorf("unsupported source type: %s", sourceType)
	}

	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (a *Application) promptSourceType() (string, error) {
	for {
		fmt.Fprintln(a.out)
		fmt.Fprintln(a.out, "Select source type:")
		fmt.Fprintln(a.out, "1. REST API")
		fmt.Fprintln(a.out, "2. PostgreSQL")
		fmt.Fprintln(a.out, "3. MongoDB")
		fmt.Fprint(a.out, "Selection: ")

		input, err := a.readLine()
		if err != nil {
			return "", err
		}

		switch strings.ToLower(strings.TrimSpace(input)) {
		case "1", "rest", "http", "api":
			return config.SourceHTTP, nil
		case "2", "postgres", "postgresql":
			return config.SourcePostgres, nil
		case "3", "mongo", "mongodb":
			return config.SourceMongo, nil
		default:
			fmt.Fprintln(a.out, "Please choose 1, 2 or 3.")
		}
	}
}

func (a *Application) promptStringWithDefault(label, defaultValue string) (string, error) {
	for {
		if defaultValue != "" {
			fmt.Fprintf(a.out, "%s [%s]: ", label, defaultValue)
		} else {
			fmt.Fprintf(a.out, "%s: ", label)
		}

		input, err := a.readLine()
		if err != nil {
			return "", err
		}

		if input == "" {
			if defaultValue != "" {
				return defaultValue, nil
			}
			fmt.Fprintln(a.out, "Please provide a value.")
			continue
		}

		return input, nil
	}
}

func (a *Application) readLine() (string, error) {
	line, err := a.reader.ReadString('\n')
	if err != nil {
		if errors.Is(err, io.EOF) && len(line) > 0 {
			return strings.TrimSpace(line), nil
		}
		return "", err
	}
	return strings.TrimSpace(line), nil
}

func (a *Application) selectProfile() (*config.Config, bool, error) {
	profiles, err := a.profileManager.List("")
	if err != nil {
		return nil, false, err
	}

	if len(profiles) == 0 {
		return nil, false, nil
	}

	for {
		fmt.Fprintln(a.out, "Saved configurations:")
		for i, profile := range profiles {
			label := profile.Name
			if profile.Type != "" {
				label = fmt.Sprintf("%s (%s)", label, profile.Type)
			}
			fmt.Fprintf(a.out, "  %d) %s\n", i+1, label)
		}
		fmt.Fprintln(a.out, "  n) Create a new configuration")

		choice, err := a.promptString("Select a configuration (number) or 'n'", true)
		if err != nil {
			return nil, false, err
		}

		choice = strings.ToLower(strings.TrimSpace(choice))
		if choice == "n" || choice == "new" {
			return nil, false, nil
		}

		index, err := strconv.Atoi(choice)
		if err != nil || index < 1 || index > len(profiles) {
			fmt.Fprintln(a.out, "Please choose a valid option.")
			continue
		}

		cfg, err := config.LoadConfig(profiles[index-1].Path)
		if err != nil {
			fmt.Fprintf(a.out, "Failed to load %s: %v\n", profiles[index-1].Name, err)
			continue
		}

		return cfg, true, nil
	}
}

func (a *Application) persistConfig(cfg *config.Config) error {
	save, err := a.promptYesNo("Save this configuration for future use?", true)
	if err != nil || !save {
		return err
	}

	defaultName := fmt.Sprintf("%s_%s", cfg.Source.Type, time.Now().Format("20060102_150405"))
	name, err := a.promptStringWithDefault("Configuration name", defaultName)
	if err != nil {
		return err
	}

	profile, err := a.profileManager.Save(name, cfg)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "Saved %s\n", profile.Path)
	return nil
}
