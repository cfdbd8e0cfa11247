package records

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/kadirbelkuyu/tablescope/internal/backend"
	"github.com/kadirbelkuyu/tablescope/internal/envelope"
	"github.com/kadirbelkuyu/tablescope/pkg/logger"
)

// DefaultPageSize is used when a caller asks for a non-positive page size.
const DefaultPageSize = 50

// ErrSuperseded is returned when a newer fetch was issued while this one was
// in flight. Callers drop the result; it is not a failure.
var ErrSuperseded = errors.New("fetch superseded by a newer request")

// Page is one snapshot of a table. Total is nil when the backend did not
// report a usable count.
type Page struct {
	Table      string
	Number     int
	PerPage    int
	Items      []envelope.Record
	Total      *int64
	Generation uint64
}

// FetchError reports a page that could not be loaded. Either request failing
// fails the whole page.
type FetchError struct {
	Table string
	Err   error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("failed to load %s: %v", e.Table, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// Controller loads record pages for one view. Only the most recently issued
// fetch may complete successfully.
type Controller struct {
	api backend.API
	log *logger.Logger

	generation atomic.Uint64

	mu     sync.Mutex
	cancel context.CancelFunc
}

func NewController(api backend.API, log *logger.Logger) *Controller {
	if log == nil {
		log = logger.Discard()
	}
	return &Controller{api: api, log: log}
}

// Generation returns the token of the most recently issued fetch.
func (c *Controller) Generation() uint64 {
	return c.generation.Load()
}

// Current reports whether generation still belongs to the latest fetch.
func (c *Controller) Current(generation uint64) bool {
	return c.generation.Load() == generation
}

// Invalidate supersedes any fetch in flight without starting a new one.
func (c *Controller) Invalidate() {
	c.generation.Add(1)
	c.mu.Lock()
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	c.mu.Unlock()
}

// FetchPage loads items and count concurrently. The previous fetch, if still
// running, is cancelled first.
func (c *Controller) FetchPage(ctx context.Context, table string, page, perPage int) (*Page, error) {
	if page < 1 {
		page = 1
	}
	if perPage <= 0 {
		perPage = DefaultPageSize
	}
	perPage = backend.ClampPerPage(perPage)

	fetchCtx, cancel := context.WithCancel(ctx)
	generation := c.generation.Add(1)

	c.mu.Lock()
	if c.cancel != nil {
		c.cancel()
	}
	c.cancel = cancel
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		if c.generation.Load() == generation {
			c.cancel = nil
		}
		c.mu.Unlock()
		cancel()
	}()

	entry := c.log.WithField("table", table).WithField("generation", generation)
	entry.Debugf("fetching page %d (%d per page)", page, perPage)

	var (
		itemsPayload any
		countPayload any
	)
	group, groupCtx := errgroup.WithContext(fetchCtx)
	group.Go(func() error {
		payload, err := c.api.List(groupCtx, table, page, perPage)
		if err != nil {
			return fmt.Errorf("list request: %w", err)
		}
		itemsPayload = payload
		return nil
	})
	group.Go(func() error {
		payload, err := c.api.Count(groupCtx, table)
		if err != nil {
			return fmt.Errorf("count request: %w", err)
		}
		countPayload = payload
		return nil
	})
	err := group.Wait()

	if !c.Current(generation) {
		entry.Debug("discarding superseded page")
		return nil, ErrSuperseded
	}
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		entry.WithError(err).Warn("page fetch failed")
		return nil, &FetchError{Table: table, Err: err}
	}

	return &Page{
		Table:      table,
		Number:     page,
		PerPage:    perPage,
		Items:      envelope.List(itemsPayload),
		Total:      envelope.Count(countPayload),
		Generation: generation,
	}, nil
}

// FormatTotal renders a page total. An unknown total is never shown as zero.
func FormatTotal(total *int64) string {
	if total == nil {
		return "Total count unavailable"
	}
	if *total == 1 {
		return "1 total record"
	}
	return fmt.Sprintf("%d total records", *total)
}
