package relation

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/kadirbelkuyu/tablescope/internal/backend"
	"github.com/kadirbelkuyu/tablescope/internal/envelope"
	"github.com/kadirbelkuyu/tablescope/pkg/logger"
)

const maxConcurrentLookups = 8

// Resolver performs the network side of relation handling. All state lives in
// the Scope passed to each call.
type Resolver struct {
	api   backend.API
	log   *logger.Logger
	group singleflight.Group
}

func NewResolver(api backend.API, log *logger.Logger) *Resolver {
	if log == nil {
		log = logger.Discard()
	}
	return &Resolver{api: api, log: log}
}

// LoadOptions fetches one bounded page of rows per relation column and stores
// the resulting options in scope. A failing column gets an empty option list
// and a ResolutionError; the other columns are unaffected. The only error
// returned is the caller's context error.
func (r *Resolver) LoadOptions(ctx context.Context, scope *Scope, descriptors map[string]Descriptor) error {
	generation := scope.Generation()
	flight := flightPrefix(scope, generation)

	group := new(errgroup.Group)
	group.SetLimit(maxConcurrentLookups)
	for _, d := range sortedDescriptors(descriptors) {
		d := d
		group.Go(func() error {
			rows, err := r.optionRows(ctx, flight, d.TargetTable)
			if err != nil {
				if ctx.Err() != nil || isContextError(err) {
					return nil
				}
				r.log.WithField("column", d.SourceColumn).WithField("table", d.TargetTable).
					WithError(err).Warn("relation options unavailable")
				scope.setOptions(generation, d.SourceColumn, []Option{}, false,
					&ResolutionError{Column: d.SourceColumn, Table: d.TargetTable, Err: err})
				return nil
			}
			options := make([]Option, 0, len(rows))
			for _, row := range rows {
				value := envelope.Scalar(row[d.TargetKey])
				if value == "" {
					continue
				}
				options = append(options, Option{Value: value, Label: labelOf(row, d.TargetDisplay, value)})
			}
			scope.setOptions(generation, d.SourceColumn, options, len(rows) >= OptionLimit, nil)
			return nil
		})
	}
	_ = group.Wait()
	return ctx.Err()
}

// optionRows shares one list request between columns pointing at the same
// table within one scope generation.
func (r *Resolver) optionRows(ctx context.Context, flight, table string) ([]envelope.Record, error) {
	value, err, _ := r.group.Do(flight+"options:"+table, func() (any, error) {
		payload, err := r.api.List(ctx, table, 1, OptionLimit)
		if err != nil {
			return nil, err
		}
		return envelope.List(payload), nil
	})
	if err != nil {
		return nil, err
	}
	return value.([]envelope.Record), nil
}

type lookup struct {
	table   string
	raw     string
	display string
}

// ResolveLabels fetches the display label of every distinct relation value on
// the given page that the scope has not seen yet. Labels are merged into scope
// as they arrive; failed lookups cache the fallback label so they are not
// retried. Results for a scope that was reset meanwhile are dropped.
func (r *Resolver) ResolveLabels(ctx context.Context, scope *Scope, descriptors map[string]Descriptor, items []envelope.Record) error {
	generation := scope.Generation()

	pending := make(map[string]lookup)
	keys := make([]string, 0)
	for _, d := range sortedDescriptors(descriptors) {
		for _, item := range items {
			raw := envelope.Scalar(item[d.SourceColumn])
			if raw == "" {
				continue
			}
			key := cacheKey(d.TargetTable, raw)
			if _, seen := pending[key]; seen {
				continue
			}
			pending[key] = lookup{table: d.TargetTable, raw: raw, display: d.TargetDisplay}
			keys = append(keys, key)
		}
	}

	claimed := scope.claim(generation, keys)
	flight := flightPrefix(scope, generation)
	if len(claimed) == 0 {
		return nil
	}
	r.log.WithField("table", scope.Table()).Debugf("resolving %d relation labels", len(claimed))

	group := new(errgroup.Group)
	group.SetLimit(maxConcurrentLookups)
	for _, key := range claimed {
		key := key
		target := pending[key]
		group.Go(func() error {
			label, err := r.fetchLabel(ctx, flight, key, target)
			if err != nil {
				if ctx.Err() != nil || isContextError(err) {
					scope.release(generation, key)
					return nil
				}
				r.log.WithField("key", key).WithError(err).Debug("relation label unavailable")
				label = Fallback(target.raw)
			}
			scope.resolve(generation, key, label)
			return nil
		})
	}
	_ = group.Wait()
	return ctx.Err()
}

func (r *Resolver) fetchLabel(ctx context.Context, flight, key string, target lookup) (string, error) {
	value, err, _ := r.group.Do(flight+"label:"+key, func() (any, error) {
		payload, err := r.api.Get(ctx, target.table, target.raw)
		if err != nil {
			return "", err
		}
		record, ok := envelope.Single(payload)
		if !ok {
			return "", fmt.Errorf("unexpected %T payload for %s", payload, key)
		}
		return labelOf(record, target.display, target.raw), nil
	})
	if err != nil {
		return "", err
	}
	return value.(string), nil
}

// flightPrefix scopes shared requests to one generation of one scope, so a
// reset scope never joins a request started for the table it left.
func flightPrefix(scope *Scope, generation uint64) string {
	return fmt.Sprintf("%p/%d/", scope, generation)
}

// isContextError reports a cancellation that may belong to another caller of
// a shared request.
func isContextError(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

func labelOf(row envelope.Record, column, raw string) string {
	if label := envelope.Scalar(row[column]); label != "" {
		return label
	}
	return Fallback(raw)
}

func sortedDescriptors(descriptors map[string]Descriptor) []Descriptor {
	out := make([]Descriptor, 0, len(descriptors))
	for _, d := range descriptors {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SourceColumn < out[j].SourceColumn })
	return out
}
