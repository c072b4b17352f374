package internal

import (
	"context"
	"sort"
	"sync"

	"github.com/lychee-technology/registra"
	"go.uber.org/zap"
)

// MemoryBackend keeps all state in process memory. It honors the same
// single-writer-wins publish contract as the durable backends, which makes it
// the reference implementation for store tests and a usable driver for
// ephemeral deployments.
type MemoryBackend struct {
	mu       sync.RWMutex
	records  map[string]map[registra.Version]*registra.VersionRecord
	pointers map[string]*registra.Version
	logger   *zap.Logger
}

func NewMemoryBackend(logger *zap.Logger) *MemoryBackend {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MemoryBackend{
		records:  make(map[string]map[registra.Version]*registra.VersionRecord),
		pointers: make(map[string]*registra.Version),
		logger:   logger,
	}
}

func (b *MemoryBackend) Publish(ctx context.Context, rec *registra.VersionRecord, expectLatest *registra.Version) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	id := rec.Document.ID

	b.mu.Lock()
	defer b.mu.Unlock()

	current := b.pointers[id]
	if !versionPtrEqual(current, expectLatest) {
		return registra.NewConflictError(id, "latest pointer moved during publish")
	}
	if _, exists := b.records[id][rec.Version]; exists {
		return registra.NewConflictError(id, "version already published").WithVersion(rec.Version.String())
	}

	if b.records[id] == nil {
		b.records[id] = make(map[registra.Version]*registra.VersionRecord)
	}
	b.records[id][rec.Version] = rec.Clone()
	next := rec.Version
	b.pointers[id] = &next
	return nil
}

func (b *MemoryBackend) GetVersion(ctx context.Context, id string, version registra.Version) (*registra.VersionRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	b.mu.RLock()
	defer b.mu.RUnlock()

	rec, ok := b.records[id][version]
	if !ok {
		return nil, registra.NewVersionNotFoundError(id, version)
	}
	return rec.Clone(), nil
}

func (b *MemoryBackend) LatestPointer(ctx context.Context, id string) (*registra.Version, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	b.mu.RLock()
	defer b.mu.RUnlock()

	ptr := b.pointers[id]
	if ptr == nil {
		return nil, nil
	}
	v := *ptr
	return &v, nil
}

func (b *MemoryBackend) SetLatestPointer(ctx context.Context, id string, expect *registra.Version, next registra.Version) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	if !versionPtrEqual(b.pointers[id], expect) {
		return registra.NewConflictError(id, "latest pointer moved during repair")
	}
	v := next
	b.pointers[id] = &v
	return nil
}

func (b *MemoryBackend) ListVersions(ctx context.Context, id string) ([]registra.Version, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	b.mu.RLock()
	defer b.mu.RUnlock()

	versions := make([]registra.Version, 0, len(b.records[id]))
	for v := range b.records[id] {
		versions = append(versions, v)
	}
	registra.SortVersionsDesc(versions)
	return versions, nil
}

func (b *MemoryBackend) ListIDs(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	b.mu.RLock()
	defer b.mu.RUnlock()

	ids := make([]string, 0, len(b.records))
	for id, versions := range b.records {
		if len(versions) > 0 {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

func (b *MemoryBackend) DeleteVersion(ctx context.Context, id string, version registra.Version) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.records[id][version]; !ok {
		return registra.NewVersionNotFoundError(id, version)
	}
	delete(b.records[id], version)
	if len(b.records[id]) == 0 {
		delete(b.records, id)
	}
	if ptr := b.pointers[id]; ptr != nil && *ptr == version {
		delete(b.pointers, id)
	}
	return nil
}

func (b *MemoryBackend) DeleteAll(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.records[id]; !ok {
		return registra.NewSchemaNotFoundError(id)
	}
	delete(b.records, id)
	delete(b.pointers, id)
	return nil
}

func (b *MemoryBackend) Ping(ctx context.Context) error {
	return ctx.Err()
}

func (b *MemoryBackend) Close() error {
	return nil
}

func versionPtrEqual(a, b *registra.Version) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
