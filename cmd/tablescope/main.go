package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/kadirbelkuyu/tablescope/internal/app"
	"github.com/kadirbelkuyu/tablescope/internal/config"
	"github.com/kadirbelkuyu/tablescope/internal/profiles"
	"github.com/kadirbelkuyu/tablescope/internal/ui/desktop"
	"github.com/kadirbelkuyu/tablescope/pkg/logger"
)

const appName = "Tablescope record explorer"

const asciiBanner = `
  _____     _     _
 |_   _|_ _| |__ | | ___  ___  ___ ___  _ __   ___
   | |/ _' | '_ \| |/ _ \/ __|/ __/ _ \| '_ \ / _ \
   | | (_| | |_) | |  __/\__ \ (_| (_) | |_) |  __/
   |_|\__,_|_.__/|_|\___||___/\___\___/| .__/ \___|
                                       |_|
`

var rootCmd = &cobra.Command{
	Use:   "tablescope",
	Short: "Browse and edit records of a schema-described backend",
	Long: `A developer-friendly explorer for the tables a REST backend describes in its
schema document. PostgreSQL and MongoDB can be read directly through the same views.`,
	RunE: runInteractive,
}

var interactiveCmd = &cobra.Command{
	Use:   "interactive",
	Short: "Launch the guided interactive workflow",
	RunE:  runInteractive,
}

var exploreCmd = &cobra.Command{
	Use:   "explore",
	Short: "Browse records with the interactive console",
	RunE:  runExplore,
}

var desktopCmd = &cobra.Command{
	Use:   "desktop",
	Short: "Open the desktop explorer",
	RunE:  runDesktop,
}

var tablesCmd = &cobra.Command{
	Use:   "tables",
	Short: "List the tables the source exposes",
	RunE:  runTables,
}

var dumpCmd = &cobra.Command{
	Use:   "dump",
	Short: "Export every record of a table as JSON lines",
	RunE:  runDump,
}

var pingCmd = &cobra.Command{
	Use:   "ping",
	Short: "Check that the source is reachable",
	RunE:  runPing,
}

var workflowService = app.NewService(os.Stdout)

var (
	configPath  string
	profileName string
	configDir   string
	baseURL     string
	logPath     string
	verbose     bool

	dumpTable   string
	dumpOutput  string
	dumpPerPage int
)

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&configPath, "config", "", "Path to the source configuration file")
	flags.StringVar(&profileName, "profile", "", "Name of a saved profile in the config directory")
	flags.StringVar(&configDir, "config-dir", app.DefaultConfigDir, "Directory holding saved profiles")
	flags.StringVar(&baseURL, "base-url", "", "Base URL of a REST backend, used when no config or profile is given")
	flags.StringVar(&logPath, "log-file", "tablescope.log", "Log file used by the full-screen explorers")
	flags.BoolVar(&verbose, "verbose", false, "Enable verbose logging")

	dumpCmd.Flags().StringVar(&dumpTable, "table", "", "Table to export")
	dumpCmd.Flags().StringVar(&dumpOutput, "output", "-", "Output file, - for stdout")
	dumpCmd.Flags().IntVar(&dumpPerPage, "page-size", 0, "Records per request (defaults to the configured page size)")
	dumpCmd.MarkFlagRequired("table")

	rootCmd.AddCommand(interactiveCmd)
	rootCmd.AddCommand(exploreCmd)
	rootCmd.AddCommand(desktopCmd)
	rootCmd.AddCommand(tablesCmd)
	rootCmd.AddCommand(dumpCmd)
	rootCmd.AddCommand(pingCmd)

	cobra.OnInitialize(func() {
		rootCmd.SilenceUsage = true
		rootCmd.SilenceErrors = true
	})
}

func main() {
	if err := config.LoadEnv(); err != nil {
		fmt.Fprintln(os.Stderr, err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil && !errors.Is(err, context.Canceled) {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// resolveConfig picks the source configuration: a profile, then a config
// file, then an ad-hoc REST base URL.
func resolveConfig() (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	switch {
	case profileName != "":
		cfg, err = profiles.NewManager(configDir).Load(profileName)
		if err != nil {
			return nil, fmt.Errorf("cannot load profile %s: %w", profileName, err)
		}
	case configPath != "":
		cfg, err = config.LoadConfig(configPath)
		if err != nil {
			return nil, fmt.Errorf("cannot load config: %w", err)
		}
	case baseURL != "":
		cfg = config.Default()
	default:
		return nil, errors.New("one of --profile, --config or --base-url is required")
	}

	if baseURL != "" {
		cfg.Source.Type = config.SourceHTTP
		cfg.Source.BaseURL = baseURL
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func runInteractive(cmd *cobra.Command, args []string) error {
	application := app.NewApplication(app.Options{
		In:          os.Stdin,
		Out:         os.Stdout,
		ConfigDir:   configDir,
		LogPath:     logPath,
		Verbose:     verbose,
		PrintBanner: printBanner,
		Desktop:     launchDesktop,
	})
	return application.RunInteractive(cmd.Context())
}

func runExplore(cmd *cobra.Command, args []string) error {
	cfg, err := resolveConfig()
	if err != nil {
		return err
	}
	return workflowService.Explore(cmd.Context(), cfg, logPath, verbose)
}

func runDesktop(cmd *cobra.Command, args []string) error {
	return launchDesktop(cmd.Context())
}

func launchDesktop(ctx context.Context) error {
	log, closer, err := logger.NewFileLogger(logPath, verbose)
	if err != nil {
		return err
	}
	defer closer.Close()
	return desktop.Run(ctx, configDir, log)
}

func runTables(cmd *cobra.Command, args []string) error {
	cfg, err := resolveConfig()
	if err != nil {
		return err
	}
	return workflowService.Tables(cmd.Context(), cfg, verbose)
}

func runDump(cmd *cobra.Command, args []string) error {
	cfg, err := resolveConfig()
	if err != nil {
		return err
	}

	perPage := dumpPerPage
	if perPage <= 0 {
		perPage = cfg.Source.PageSize
	}
	return workflowService.Dump(cmd.Context(), cfg, app.DumpRequest{
		Table:   strings.TrimSpace(dumpTable),
		Output:  dumpOutput,
		PerPage: perPage,
		Verbose: verbose,
	})
}

func runPing(cmd *cobra.Command, args []string) error {
	cfg, err := resolveConfig()
	if err != nil {
		return err
	}
	return workflowService.Ping(cmd.Context(), cfg, verbose)
}

func printBanner() {
	fmt.Print(asciiBanner)
	fmt.Println(appName)
	fmt.Println(strings.Repeat("-", len(appName)))
}
