package catalog

import (
	"context"
	"fmt"
)

// Catalog is a remote source of application versions.
type Catalog interface {
	ID() string
	Search(ctx context.Context, query string) ([]Candidate, error)
	Updates(ctx context.Context, installed []InstalledApp) ([]Candidate, error)
}

// Preferences are the persisted user settings the aggregator consults on
// every call.
type Preferences interface {
	CatalogEnabled(id string) bool
	IgnoreAlphaVersions() bool
	IgnoreBetaVersions() bool
	IgnorePreReleases() bool
	IsExternal(id string) bool
}

// QueryError records a catalog that failed during a fan-out.
type QueryError struct {
	Catalog string
	Op      string
	Err     error
}

func (e *QueryError) Error() string {
	return fmt.Sprintf("catalog %s %s failed: %v", e.Catalog, e.Op, e.Err)
}

func (e *QueryError) Unwrap() error { return e.Err }
