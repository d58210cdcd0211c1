// Package archive provides the long-term sinks for flattened result copies.
package archive

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"path"
	"sort"
	"sync"

	"github.com/fairyhunter13/psychometric-engine/internal/domain"
)

// Key returns the object key of an archived result: <category>/<instrument>/<result>.json.
func Key(rec domain.ArchiveRecord) string {
	return path.Join(rec.Category, rec.InstrumentID, rec.ResultID+".json")
}

func encode(rec domain.ArchiveRecord) ([]byte, error) {
	b, err := json.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("op=archive.encode: %w", err)
	}
	return b, nil
}

// MemorySink keeps archived records in memory, keyed like the S3 sink.
type MemorySink struct {
	mu   sync.RWMutex
	objs map[string][]byte
}

// NewMemorySink returns an empty in-memory sink.
func NewMemorySink() *MemorySink { return &MemorySink{objs: make(map[string][]byte)} }

// Archive stores rec, overwriting any earlier copy of the same result.
func (m *MemorySink) Archive(_ context.Context, rec domain.ArchiveRecord) error {
	b, err := encode(rec)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objs[Key(rec)] = b
	return nil
}

// Keys lists stored keys in order.
func (m *MemorySink) Keys() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, 0, len(m.objs))
	for k := range m.objs {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Load decodes the record stored under key.
func (m *MemorySink) Load(key string) (domain.ArchiveRecord, bool) {
	m.mu.RLock()
	b, ok := m.objs[key]
	m.mu.RUnlock()
	if !ok {
		return domain.ArchiveRecord{}, false
	}
	var rec domain.ArchiveRecord
	if err := json.Unmarshal(b, &rec); err != nil {
		return domain.ArchiveRecord{}, false
	}
	return rec, true
}

// LogSink only logs that a record would have been archived. FromConfig
// selects it for ARCHIVE_DRIVER=none.
type LogSink struct{}

// Archive logs the key the record would have been stored under.
func (LogSink) Archive(ctx context.Context, rec domain.ArchiveRecord) error {
	slog.DebugContext(ctx, "archive disabled; record not stored", slog.String("key", Key(rec)))
	return nil
}
