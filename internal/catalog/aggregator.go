package catalog

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/EikeiDev/apkupdateross/internal/logging"
)

var log = logging.L("catalog")

// Aggregator fans queries out to every enabled catalog and merges what
// comes back. A failing catalog contributes nothing.
type Aggregator struct {
	catalogs []Catalog
	prefs    Preferences
}

// NewAggregator creates an Aggregator over the given catalogs.
func NewAggregator(prefs Preferences, catalogs ...Catalog) *Aggregator {
	return &Aggregator{catalogs: catalogs, prefs: prefs}
}

// Catalogs returns every registered catalog, enabled or not.
func (a *Aggregator) Catalogs() []Catalog {
	return a.catalogs
}

// Search queries all enabled catalogs for text and returns the ranked union.
func (a *Aggregator) Search(ctx context.Context, query string) ([]Candidate, error) {
	enabled := a.enabled()
	if len(enabled) == 0 {
		return []Candidate{}, nil
	}

	merged, err := a.fanOut(ctx, "search", enabled, func(ctx context.Context, c Catalog) ([]Candidate, error) {
		return c.Search(ctx, query)
	})
	if err != nil {
		return nil, err
	}

	merged = FilterVersions(merged, a.prefs)
	Rank(merged, query)
	return merged, nil
}

// CheckUpdates asks all enabled catalogs for newer versions of the installed
// packages. The result is unordered.
func (a *Aggregator) CheckUpdates(ctx context.Context, installed []InstalledApp) ([]Candidate, error) {
	enabled := a.enabled()
	if len(enabled) == 0 {
		return []Candidate{}, nil
	}

	merged, err := a.fanOut(ctx, "updates", enabled, func(ctx context.Context, c Catalog) ([]Candidate, error) {
		return c.Updates(ctx, installed)
	})
	if err != nil {
		return nil, err
	}

	merged = FilterSignatures(merged, installed)
	return FilterVersions(merged, a.prefs), nil
}

func (a *Aggregator) enabled() []Catalog {
	var out []Catalog
	for _, c := range a.catalogs {
		if a.prefs.CatalogEnabled(c.ID()) {
			out = append(out, c)
		}
	}
	return out
}

// fanOut runs query against every catalog concurrently and waits for all of
// them to settle before merging on the calling goroutine.
func (a *Aggregator) fanOut(ctx context.Context, op string, catalogs []Catalog, query func(context.Context, Catalog) ([]Candidate, error)) ([]Candidate, error) {
	results := make([][]Candidate, len(catalogs))
	failures := make([]error, len(catalogs))
	start := time.Now()

	var g errgroup.Group
	for i, c := range catalogs {
		g.Go(func() error {
			defer func() {
				if r := recover(); r != nil {
					log.Error("catalog panicked", logging.KeyCatalog, c.ID(), "panic", r, "stack", string(debug.Stack()))
					failures[i] = &QueryError{Catalog: c.ID(), Op: op, Err: fmt.Errorf("panic: %v", r)}
				}
			}()

			found, qerr := query(ctx, c)
			if qerr != nil {
				failures[i] = &QueryError{Catalog: c.ID(), Op: op, Err: qerr}
				return nil
			}
			results[i] = found
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var merged []Candidate
	failed := 0
	for i, c := range catalogs {
		if failures[i] != nil {
			failed++
			log.Warn("catalog query failed", logging.KeyCatalog, c.ID(), "op", op, logging.KeyError, failures[i])
			continue
		}
		merged = append(merged, a.decorate(c.ID(), results[i])...)
	}
	if merged == nil {
		merged = []Candidate{}
	}

	log.Debug("catalog fan-out settled",
		"op", op,
		"catalogs", len(catalogs),
		"failed", failed,
		"candidates", len(merged),
		logging.KeyDurationMs, time.Since(start).Milliseconds(),
	)
	return merged, nil
}

func (a *Aggregator) decorate(catalogID string, candidates []Candidate) []Candidate {
	external := a.prefs.IsExternal(catalogID)
	decorated := make([]Candidate, 0, len(candidates))
	for _, c := range candidates {
		if c.Source == "" {
			c.Source = catalogID
		}
		if c.ID == 0 {
			c.ID = CorrelationID(c.PackageName, c.VersionCode)
		}
		if c.Link == nil {
			c.Link = NoLink{}
		}
		c.External = c.External || external
		decorated = append(decorated, c)
	}
	return decorated
}
