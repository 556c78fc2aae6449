package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"path"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/andresuchdata/autopo-forecast/internal/config"
)

// Report kinds archived by the service.
const (
	KindForecastRun    = "forecast-runs"
	KindReconciliation = "reconciliations"
	KindLearning       = "learning"
)

// ReportArchive writes JSON reports to object storage. A disabled archive accepts and drops
// everything.
type ReportArchive struct {
	store  ObjectStorage
	prefix string
	now    func() time.Time
}

// NewReportArchive returns an archive backed by MinIO when storage is enabled.
func NewReportArchive(ctx context.Context, cfg config.StorageConfig) (*ReportArchive, error) {
	if !cfg.Enabled {
		return NewArchive(nil, cfg.Prefix), nil
	}

	client, err := NewMinioClient(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return NewArchive(client, cfg.Prefix), nil
}

// NewArchive wraps an object store; a nil store disables archiving.
func NewArchive(store ObjectStorage, prefix string) *ReportArchive {
	return &ReportArchive{
		store:  store,
		prefix: strings.Trim(prefix, "/"),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Enabled reports whether reports are actually stored.
func (a *ReportArchive) Enabled() bool {
	return a != nil && a.store != nil
}

// Put stores v as <prefix>/<kind>/<name>-<timestamp>.json and returns the key.
func (a *ReportArchive) Put(ctx context.Context, kind, name string, v any) (string, error) {
	if !a.Enabled() {
		return "", nil
	}

	payload, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encode %s report: %w", kind, err)
	}

	key := path.Join(a.prefix, kind, fmt.Sprintf("%s-%s.json", name, a.now().Format("20060102T150405Z")))
	if err := a.store.PutObject(ctx, key, payload, "application/json"); err != nil {
		return "", err
	}

	log.Info().Str("kind", kind).Str("key", key).Int("bytes", len(payload)).Msg("Report archived")
	return key, nil
}

// List returns archived reports of a kind, newest first.
func (a *ReportArchive) List(ctx context.Context, kind string) ([]ObjectInfo, error) {
	if !a.Enabled() {
		return nil, nil
	}

	objects, err := a.store.ListObjects(ctx, path.Join(a.prefix, kind)+"/")
	if err != nil {
		return nil, err
	}
	sort.Slice(objects, func(i, j int) bool { return objects[i].Key > objects[j].Key })
	return objects, nil
}

// Get decodes one archived report into dest.
func (a *ReportArchive) Get(ctx context.Context, key string, dest any) error {
	if !a.Enabled() {
		return fmt.Errorf("report archive is disabled")
	}
	data, err := a.store.GetObject(ctx, key)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, dest)
}

// MemoryStorage is an in-process ObjectStorage, used for dry runs and tests.
type MemoryStorage struct {
	mu      sync.RWMutex
	objects map[string][]byte
}

func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{objects: make(map[string][]byte)}
}

func (m *MemoryStorage) ListObjects(ctx context.Context, prefix string) ([]ObjectInfo, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []ObjectInfo
	for k, v := range m.objects {
		if strings.HasPrefix(k, prefix) {
			out = append(out, ObjectInfo{Key: k, Size: int64(len(v))})
		}
	}
	return out, nil
}

func (m *MemoryStorage) GetObject(ctx context.Context, key string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	data, ok := m.objects[key]
	if !ok {
		return nil, fmt.Errorf("object %s not found", key)
	}
	return append([]byte(nil), data...), nil
}

func (m *MemoryStorage) PutObject(ctx context.Context, key string, data []byte, contentType string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[key] = append([]byte(nil), data...)
	return nil
}

var _ ObjectStorage = (*MemoryStorage)(nil)
