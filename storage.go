package registra

import (
	"context"
	"time"
)

// VersionRecord is one published version as stored by a backend: the document
// plus registry-assigned metadata. The record is immutable after publish.
type VersionRecord struct {
	Document    *SchemaDocument `json:"document"`
	Version     Version         `json:"version"`
	Fingerprint string          `json:"fingerprint"`
	CreatedAt   time.Time       `json:"created_at"`
}

// Clone returns a deep copy so callers can never mutate stored state.
func (r *VersionRecord) Clone() *VersionRecord {
	if r == nil {
		return nil
	}
	out := *r
	out.Document = r.Document.Clone()
	return &out
}

// SchemaStore provides versioned, cached, concurrency-safe access to schema
// documents. Reads never block writers; publishes on one id behave as if
// serialized (losers of a race receive a Conflict).
type SchemaStore interface {
	// Get retrieves one version, or the latest when version is nil.
	Get(ctx context.Context, id string, version *Version) (*VersionRecord, error)

	// ListVersions returns the published versions for an id, newest first.
	// The list is empty (not an error) when the id is unknown.
	ListVersions(ctx context.Context, id string) ([]Version, error)

	// ListSchemas returns all known schema ids, sorted.
	ListSchemas(ctx context.Context) ([]string, error)

	// Publish validates the candidate, diffs it against the current latest,
	// enforces the version policy, and atomically appends the new version
	// while advancing the latest pointer.
	Publish(ctx context.Context, id string, doc *SchemaDocument) (*VersionRecord, error)

	// Delete removes one version, or the id's whole history when version is
	// nil. Cache entries for the id are invalidated either way.
	Delete(ctx context.Context, id string, version *Version) error

	// Health reports backend reachability.
	Health(ctx context.Context) error
}

// Backend is the durable ordered key-value layer beneath the store. It is
// the single source of truth; the store's cache holds no authority.
//
// Publish must be a single-writer-wins transaction: the version record write
// and the latest-pointer advance are observable together or not at all, and
// the pointer only moves when it still equals expectLatest (nil for a fresh
// id). Losers receive a Conflict error.
type Backend interface {
	Publish(ctx context.Context, rec *VersionRecord, expectLatest *Version) error

	GetVersion(ctx context.Context, id string, version Version) (*VersionRecord, error)

	// LatestPointer returns the pointer value for an id, nil when unset.
	// The pointer is a derived value: if it dangles or lags, the store
	// re-derives latest from ListVersions and repairs it.
	LatestPointer(ctx context.Context, id string) (*Version, error)

	// SetLatestPointer conditionally moves the pointer (compare-and-swap on
	// expect; nil means unset). Used by the store's self-healing path.
	SetLatestPointer(ctx context.Context, id string, expect *Version, next Version) error

	// ListVersions returns all published versions for an id, newest first.
	ListVersions(ctx context.Context, id string) ([]Version, error)

	// ListIDs returns every schema id with at least one published version.
	ListIDs(ctx context.Context) ([]string, error)

	// DeleteVersion removes one version record. A pointer referencing the
	// deleted version is cleared in the same transaction; the next read
	// re-derives it from the remaining versions.
	DeleteVersion(ctx context.Context, id string, version Version) error

	// DeleteAll removes every version and the pointer for an id.
	DeleteAll(ctx context.Context, id string) error

	Ping(ctx context.Context) error
	Close() error
}
