package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/goccy/go-json"
	"github.com/sirupsen/logrus"

	"github.com/kadirbelkuyu/tablescope/internal/catalog"
	"github.com/kadirbelkuyu/tablescope/internal/config"
	"github.com/kadirbelkuyu/tablescope/internal/database"
	"github.com/kadirbelkuyu/tablescope/internal/explorer"
	"github.com/kadirbelkuyu/tablescope/internal/records"
	"github.com/kadirbelkuyu/tablescope/internal/ui/console"
	"github.com/kadirbelkuyu/tablescope/pkg/logger"
	"github.com/kadirbelkuyu/tablescope/pkg/progress"
)

// DumpRequest describes one table export. An empty or "-" Output writes to
// the service output.
type DumpRequest struct {
	Table   string
	Output  string
	PerPage int
	Verbose bool
}

// Service runs the non-interactive workflows shared by the CLI commands and
// the guided menu.
type Service struct {
	out      io.Writer
	progress io.Writer
}

func NewService(out io.Writer) *Service {
	if out == nil {
		out = os.Stdout
	}
	return &Service{out: out, progress: os.Stderr}
}

// session is an opened source with its schema loaded.
type session struct {
	conn *database.Connection
	ex   *explorer.Explorer
}

func (s *session) Close() error {
	return s.conn.Close()
}

func (s *Service) open(ctx context.Context, cfg *config.Config, log *logger.Logger) (*session, error) {
	conn, err := database.NewConnection(ctx, cfg, log)
	if err != nil {
		return nil, fmt.Errorf("failed to open source: %w", err)
	}

	ex := explorer.New(conn.API, explorer.Options{PerPage: cfg.Source.PageSize, Logger: log})
	if err := ex.Connect(ctx); err != nil {
		conn.Close()
		return nil, err
	}
	return &session{conn: conn, ex: ex}, nil
}

// Explore runs the console explorer. Logs go to logPath because the terminal
// belongs to the drawn screen.
func (s *Service) Explore(ctx context.Context, cfg *config.Config, logPath string, verbose bool) error {
	log, closer, err := logger.NewFileLogger(logPath, verbose)
	if err != nil {
		return err
	}
	defer closer.Close()

	conn, err := database.NewConnection(ctx, cfg, log)
	if err != nil {
		return fmt.Errorf("failed to open source: %w", err)
	}
	defer conn.Close()

	log.WithField("source", conn.Describe()).Info("starting console explorer")
	ex := explorer.New(conn.API, explorer.Options{PerPage: cfg.Source.PageSize, Logger: log})
	return console.New(ctx, ex, log).Run()
}

func (s *Service) Tables(ctx context.Context, cfg *config.Config, verbose bool) error {
	log := logger.NewLogger(verbose)
	sess, err := s.open(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer sess.Close()

	s.printTables(sess)
	return nil
}

func (s *Service) printTables(sess *session) {
	cat := sess.ex.Catalog()
	fmt.Fprintf(s.out, "\nTables on %s (%s):\n", sess.conn.Describe(), sess.conn.Config.Source.Type)
	fmt.Fprintln(s.out, strings.Repeat("=", 36))
	for i, table := range cat.Tables() {
		access := ""
		if sess.ex.ReadOnly(table.Slug) {
			access = ", read-only"
		}
		fmt.Fprintf(s.out, "%d. %s (Name: %s, Columns: %d%s)\n",
			i+1,
			table.Slug,
			table.DisplayName,
			len(table.Columns),
			access,
		)
	}
	fmt.Fprintf(s.out, "\nTotal tables: %d\n", cat.Len())
}

func (s *Service) Ping(ctx context.Context, cfg *config.Config, verbose bool) error {
	log := logger.NewLogger(verbose)
	conn, err := database.NewConnection(ctx, cfg, log)
	if err != nil {
		return fmt.Errorf("failed to open source: %w", err)
	}
	defer conn.Close()

	if err := conn.Ping(ctx); err != nil {
		return fmt.Errorf("%s is unreachable: %w", conn.Describe(), err)
	}
	fmt.Fprintf(s.out, "%s is reachable.\n", conn.Describe())
	return nil
}

// Dump writes every record of a table as JSON lines.
func (s *Service) Dump(ctx context.Context, cfg *config.Config, req DumpRequest) error {
	log := logger.NewLogger(req.Verbose)
	sess, err := s.open(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer sess.Close()

	_, err = s.dump(ctx, sess, req, log)
	return err
}

func (s *Service) dump(ctx context.Context, sess *session, req DumpRequest, log *logger.Logger) (int64, error) {
	table, ok := sess.ex.Catalog().Table(req.Table)
	if !ok {
		return 0, fmt.Errorf("unknown table %q", req.Table)
	}

	out := s.out
	target := "stdout"
	if req.Output != "" && req.Output != "-" {
		file, err := os.Create(req.Output)
		if err != nil {
			return 0, fmt.Errorf("failed to create %s: %w", req.Output, err)
		}
		defer file.Close()
		out, target = file, req.Output
	}

	written, err := s.exportPages(ctx, sess, table, out, req.PerPage)
	if err != nil {
		return written, err
	}

	log.WithFields(logrus.Fields{
		"table":   table.Slug,
		"records": written,
		"output":  target,
	}).Info("export completed")
	return written, nil
}

func (s *Service) exportPages(ctx context.Context, sess *session, table *catalog.Table, out io.Writer, perPage int) (int64, error) {
	controller := records.NewController(sess.conn.API, nil)
	encoder := json.NewEncoder(out)

	var (
		bar     *progress.Bar
		written int64
	)
	for page := 1; ; page++ {
		if bar != nil {
			bar.Page(table.Slug, page)
		}

		result, err := controller.FetchPage(ctx, table.Slug, page, perPage)
		if err != nil {
			if errors.Is(err, records.ErrSuperseded) {
				return written, ctx.Err()
			}
			return written, err
		}

		if bar == nil {
			max := int64(-1)
			if result.Total != nil {
				max = *result.Total
			}
			bar = progress.NewBar(max, fmt.Sprintf("%s page %d", table.Slug, page), s.progress)
		}

		for _, item := range result.Items {
			if err := encoder.Encode(item); err != nil {
				return written, fmt.Errorf("failed to write record: %w", err)
			}
			written++
		}
		bar.IncrementBy(int64(len(result.Items)))

		if len(result.Items) < result.PerPage {
			break
		}
		if result.Total != nil && written >= *result.Total {
			break
		}
	}

	bar.Finish()
	return written, nil
}
