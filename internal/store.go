package internal

import (
	"context"
	"errors"
	"time"

	"github.com/lychee-technology/registra"
	"go.uber.org/zap"
)

// VersionedStore implements registra.SchemaStore over a Backend with an
// optional read-through TTL cache. The backend is the single source of truth;
// publishes always diff against a fresh version scan, never a cached record.
type VersionedStore struct {
	backend registra.Backend
	cache   *recordCache
	timeout time.Duration
	logger  *zap.Logger
	now     func() time.Time
}

type storeOption func(*VersionedStore)

func withClock(now func() time.Time) storeOption {
	return func(s *VersionedStore) {
		s.now = now
		if s.cache != nil {
			s.cache.now = now
		}
	}
}

func NewVersionedStore(backend registra.Backend, cfg *registra.Config, logger *zap.Logger, opts ...storeOption) *VersionedStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &VersionedStore{
		backend: backend,
		timeout: cfg.Backend.Timeout.Std(),
		logger:  logger,
		now:     time.Now,
	}
	if cfg.Cache.Enabled {
		s.cache = newRecordCache(cfg.Cache.TTL.Std())
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *VersionedStore) opContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.timeout)
}

// wrapBackendErr maps raw backend failures into the registry taxonomy.
// Registry errors pass through untouched so a NotFound from the backend is
// never misreported as an outage.
func wrapBackendErr(ctx context.Context, op string, err error) error {
	var re *registra.RegistryError
	if errors.As(err, &re) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return registra.NewTimeoutError(op+" timed out", err)
	}
	return registra.NewUnavailableError(op+" failed", err)
}

func (s *VersionedStore) Get(ctx context.Context, id string, version *registra.Version) (*registra.VersionRecord, error) {
	key := CacheKey(id, version)
	if s.cache != nil {
		if rec, ok := s.cache.Get(key); ok {
			return rec, nil
		}
	}

	ctx, cancel := s.opContext(ctx)
	defer cancel()

	var (
		rec *registra.VersionRecord
		err error
	)
	if version != nil {
		rec, err = s.backend.GetVersion(ctx, id, *version)
	} else {
		rec, err = s.resolveLatest(ctx, id)
	}
	if err != nil {
		return nil, wrapBackendErr(ctx, "get schema", err)
	}

	if s.cache != nil {
		s.cache.Put(key, rec)
	}
	return rec, nil
}

// resolveLatest reads through the latest pointer. A missing or dangling
// pointer is repaired from the authoritative version list: latest is
// re-derived as the maximum published version and the pointer is re-written
// best effort.
func (s *VersionedStore) resolveLatest(ctx context.Context, id string) (*registra.VersionRecord, error) {
	ptr, err := s.backend.LatestPointer(ctx, id)
	if err != nil {
		return nil, err
	}
	if ptr != nil {
		rec, err := s.backend.GetVersion(ctx, id, *ptr)
		if err == nil {
			return rec, nil
		}
		if !registra.IsNotFound(err) {
			return nil, err
		}
		s.logger.Warn("latest pointer dangles, re-deriving",
			zap.String("schema_id", id), zap.String("pointer", ptr.String()))
	}

	versions, err := s.backend.ListVersions(ctx, id)
	if err != nil {
		return nil, err
	}
	if len(versions) == 0 {
		return nil, registra.NewSchemaNotFoundError(id)
	}
	latest := versions[0]

	if err := s.backend.SetLatestPointer(ctx, id, ptr, latest); err != nil && !registra.IsConflict(err) {
		s.logger.Warn("latest pointer repair failed",
			zap.String("schema_id", id), zap.Error(err))
	}
	return s.backend.GetVersion(ctx, id, latest)
}

func (s *VersionedStore) ListVersions(ctx context.Context, id string) ([]registra.Version, error) {
	ctx, cancel := s.opContext(ctx)
	defer cancel()

	versions, err := s.backend.ListVersions(ctx, id)
	if err != nil {
		return nil, wrapBackendErr(ctx, "list versions", err)
	}
	return versions, nil
}

func (s *VersionedStore) ListSchemas(ctx context.Context) ([]string, error) {
	ctx, cancel := s.opContext(ctx)
	defer cancel()

	ids, err := s.backend.ListIDs(ctx)
	if err != nil {
		return nil, wrapBackendErr(ctx, "list schemas", err)
	}
	return ids, nil
}

func (s *VersionedStore) Publish(ctx context.Context, id string, doc *registra.SchemaDocument) (*registra.VersionRecord, error) {
	doc = doc.Clone()
	if doc.ID == "" {
		doc.ID = id
	}
	if doc.ID != id {
		return nil, registra.NewMalformedDocumentError(id,
			"document id does not match target schema id",
			"document declares id "+doc.ID)
	}
	if err := registra.ValidateDocument(doc); err != nil {
		return nil, err
	}
	candidate, err := doc.SemVer()
	if err != nil {
		return nil, registra.NewMalformedDocumentError(id, "invalid version string", err.Error())
	}

	ctx, cancel := s.opContext(ctx)
	defer cancel()

	// The baseline comes from a fresh version scan, never the cache, and the
	// pointer is healed up front so the publish CAS compares against the true
	// latest.
	expect, baseline, err := s.publishBaseline(ctx, id)
	if err != nil {
		return nil, wrapBackendErr(ctx, "resolve publish baseline", err)
	}

	if baseline != nil {
		report := registra.Diff(baseline.Document, doc)
		if err := registra.CheckVersionPolicy(id, baseline.Version, candidate, report); err != nil {
			return nil, err
		}
	}

	rec := &registra.VersionRecord{
		Document:    doc,
		Version:     candidate,
		Fingerprint: Fingerprint(doc),
		CreatedAt:   s.now().UTC(),
	}

	if err := s.backend.Publish(ctx, rec, expect); err != nil {
		return nil, wrapBackendErr(ctx, "publish schema", err)
	}

	if s.cache != nil {
		s.cache.InvalidateID(id)
	}
	s.logger.Info("schema published",
		zap.String("schema_id", id),
		zap.String("version", candidate.String()),
		zap.String("fingerprint", rec.Fingerprint))
	return rec.Clone(), nil
}

// publishBaseline returns the pointer value the publish must CAS against and
// the record it must diff against. Both are nil for a fresh id.
func (s *VersionedStore) publishBaseline(ctx context.Context, id string) (*registra.Version, *registra.VersionRecord, error) {
	ptr, err := s.backend.LatestPointer(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	versions, err := s.backend.ListVersions(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	if len(versions) == 0 {
		return nil, nil, nil
	}

	latest := versions[0]
	if ptr == nil || *ptr != latest {
		if err := s.backend.SetLatestPointer(ctx, id, ptr, latest); err != nil {
			return nil, nil, err
		}
	}
	rec, err := s.backend.GetVersion(ctx, id, latest)
	if err != nil {
		return nil, nil, err
	}
	return &latest, rec, nil
}

func (s *VersionedStore) Delete(ctx context.Context, id string, version *registra.Version) error {
	ctx, cancel := s.opContext(ctx)
	defer cancel()

	var err error
	if version != nil {
		err = s.backend.DeleteVersion(ctx, id, *version)
	} else {
		err = s.backend.DeleteAll(ctx, id)
	}
	if err != nil {
		return wrapBackendErr(ctx, "delete schema", err)
	}

	if s.cache != nil {
		s.cache.InvalidateID(id)
	}
	s.logger.Info("schema deleted",
		zap.String("schema_id", id),
		zap.String("version", versionLabel(version)))
	return nil
}

func (s *VersionedStore) Health(ctx context.Context) error {
	ctx, cancel := s.opContext(ctx)
	defer cancel()

	if err := s.backend.Ping(ctx); err != nil {
		return wrapBackendErr(ctx, "backend ping", err)
	}
	return nil
}

func versionLabel(v *registra.Version) string {
	if v == nil {
		return "all"
	}
	return v.String()
}
