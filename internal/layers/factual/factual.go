// Package factual implements the Factual Memory Layer L2 (C4): an O(1)
// n-gram hash index for cheap exact/near-exact lookup of short facts,
// backed by a SQLite-keyed content store so the index survives restarts.
package factual

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"cogmem/internal/hashing"
	"cogmem/internal/model"
)

// Layer is the Factual memory store. All index state is kept in memory and
// rebuilt from the SQLite content table on Open, so the index and the
// content store can never drift apart across a crash: the table alone is
// the durable source of truth.
type Layer struct {
	db            *sql.DB
	path          string
	hashTableSize int

	mu          sync.RWMutex
	bucketIndex map[uint64]map[string]struct{}
	idBuckets   map[string][]uint64
	cache       map[string]model.MemoryEntry
}

// Open opens (or creates) the SQLite-backed facts database at path and
// rebuilds the in-memory n-gram index from its current contents.
func Open(path string, hashTableSize int) (*Layer, error) {
	if hashTableSize <= 0 {
		hashTableSize = 1_000_000
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("factual: mkdir %s: %w", dir, err)
		}
	}
	db, err := sql.Open("sqlite", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("factual: open db: %w", err)
	}
	db.SetMaxOpenConns(1)

	l := &Layer{
		db:            db,
		path:          path,
		hashTableSize: hashTableSize,
		bucketIndex:   make(map[uint64]map[string]struct{}),
		idBuckets:     make(map[string][]uint64),
		cache:         make(map[string]model.MemoryEntry),
	}
	if err := l.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("factual: migrate: %w", err)
	}
	if err := l.rebuildIndex(); err != nil {
		db.Close()
		return nil, fmt.Errorf("factual: rebuild index: %w", err)
	}
	return l, nil
}

func (l *Layer) migrate() error {
	_, err := l.db.Exec(`
		CREATE TABLE IF NOT EXISTS facts (
			id         TEXT PRIMARY KEY,
			content    TEXT NOT NULL,
			layer      TEXT NOT NULL,
			timestamp  TEXT NOT NULL,
			metadata   TEXT NOT NULL DEFAULT '{}'
		);
	`)
	return err
}

func (l *Layer) rebuildIndex() error {
	rows, err := l.db.Query(`SELECT id, content, layer, timestamp, metadata FROM facts`)
	if err != nil {
		return err
	}
	defer rows.Close()

	l.mu.Lock()
	defer l.mu.Unlock()
	for rows.Next() {
		entry, err := scanFact(rows)
		if err != nil {
			return err
		}
		l.cache[entry.ID] = entry
		l.indexLocked(entry.ID, entry.Content)
	}
	return rows.Err()
}

func scanFact(rows *sql.Rows) (model.MemoryEntry, error) {
	var id, content, layer, ts, metaJSON string
	if err := rows.Scan(&id, &content, &layer, &ts, &metaJSON); err != nil {
		return model.MemoryEntry{}, err
	}
	timestamp, _ := time.Parse(time.RFC3339Nano, ts)
	entry := model.MemoryEntry{
		ID:        id,
		Content:   content,
		Layer:     model.Layer(layer),
		Timestamp: timestamp,
	}
	_ = unmarshalMetadata(metaJSON, &entry.Metadata)
	return entry, nil
}

// indexLocked adds id's n-gram buckets to bucketIndex/idBuckets. Caller must
// hold l.mu for writing.
func (l *Layer) indexLocked(id, content string) {
	buckets := hashing.Buckets(content, l.hashTableSize)
	l.idBuckets[id] = buckets
	for _, b := range buckets {
		set, ok := l.bucketIndex[b]
		if !ok {
			set = make(map[string]struct{})
			l.bucketIndex[b] = set
		}
		set[id] = struct{}{}
	}
}

func (l *Layer) unindexLocked(id string) {
	for _, b := range l.idBuckets[id] {
		if set, ok := l.bucketIndex[b]; ok {
			delete(set, id)
			if len(set) == 0 {
				delete(l.bucketIndex, b)
			}
		}
	}
	delete(l.idBuckets, id)
}

// Store persists entry and indexes its n-gram buckets. Failure is never
// surfaced to the caller beyond the returned error — the in-memory index
// is updated regardless so reads stay consistent for the running process
// even if the on-disk write failed transiently.
func (l *Layer) Store(ctx context.Context, entry model.MemoryEntry) error {
	metaJSON, err := marshalMetadata(entry.Metadata)
	if err != nil {
		return fmt.Errorf("factual: marshal metadata: %w", err)
	}
	_, dbErr := l.db.ExecContext(ctx, `
		INSERT INTO facts (id, content, layer, timestamp, metadata)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET content=excluded.content, metadata=excluded.metadata`,
		entry.ID, entry.Content, string(model.LayerFactual), entry.Timestamp.UTC().Format(time.RFC3339Nano), metaJSON,
	)

	l.mu.Lock()
	if _, existed := l.cache[entry.ID]; existed {
		l.unindexLocked(entry.ID)
	}
	l.cache[entry.ID] = entry
	l.indexLocked(entry.ID, entry.Content)
	l.mu.Unlock()

	return dbErr
}

// candidate pairs an id with its shared-bucket fraction against a query.
type candidate struct {
	id    string
	score float64
}

// Query ranks stored facts by the fraction of the query's n-gram buckets
// they share, highest first, truncated to limit.
func (l *Layer) Query(ctx context.Context, text string, limit int) ([]model.MemoryEntry, error) {
	_ = ctx
	qBuckets := hashing.Buckets(text, l.hashTableSize)
	if len(qBuckets) == 0 {
		return nil, nil
	}

	l.mu.RLock()
	counts := make(map[string]int)
	for _, b := range qBuckets {
		for id := range l.bucketIndex[b] {
			counts[id]++
		}
	}
	candidates := make([]candidate, 0, len(counts))
	for id, c := range counts {
		candidates = append(candidates, candidate{id: id, score: float64(c) / float64(len(qBuckets))})
	}
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].score != candidates[j].score {
			return candidates[i].score > candidates[j].score
		}
		return candidates[i].id < candidates[j].id
	})
	if limit > 0 && len(candidates) > limit {
		candidates = candidates[:limit]
	}
	out := make([]model.MemoryEntry, 0, len(candidates))
	for _, c := range candidates {
		if entry, ok := l.cache[c.id]; ok {
			out = append(out, entry)
		}
	}
	l.mu.RUnlock()
	return out, nil
}

// Get returns the entry with id, or nil if missing (no error surfaced —
// spec.md §4.4 failure semantics: missing ids return nil).
func (l *Layer) Get(ctx context.Context, id string) (*model.MemoryEntry, error) {
	_ = ctx
	l.mu.RLock()
	defer l.mu.RUnlock()
	if entry, ok := l.cache[id]; ok {
		return &entry, nil
	}
	return nil, nil
}

// Delete removes id from both the index and the content store.
func (l *Layer) Delete(ctx context.Context, id string) error {
	_, err := l.db.ExecContext(ctx, `DELETE FROM facts WHERE id = ?`, id)
	l.mu.Lock()
	l.unindexLocked(id)
	delete(l.cache, id)
	l.mu.Unlock()
	return err
}

// Count returns the number of stored facts.
func (l *Layer) Count(ctx context.Context) (int, error) {
	_ = ctx
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.cache), nil
}

// Close shuts down the underlying database connection.
func (l *Layer) Close() error {
	return l.db.Close()
}

// All returns every stored fact, for the export snapshot.
func (l *Layer) All(ctx context.Context) ([]model.MemoryEntry, error) {
	_ = ctx
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]model.MemoryEntry, 0, len(l.cache))
	for _, entry := range l.cache {
		out = append(out, entry)
	}
	return out, nil
}

// SnapshotBytes checkpoints the WAL and returns the on-disk database file's
// current bytes, for the export snapshot's facts.db archive member.
func (l *Layer) SnapshotBytes() ([]byte, error) {
	if _, err := l.db.Exec(`PRAGMA wal_checkpoint(FULL)`); err != nil {
		return nil, fmt.Errorf("factual: checkpoint before snapshot: %w", err)
	}
	return os.ReadFile(l.path)
}
