// Package episodic implements the Episodic Memory Layer L5 (C7): append-only
// daily logs, O(1) id-indexed lookup, LSH-candidate search across an optional
// date/project/tag filter, a pre-compaction flush that synthesizes tagged
// entries from a caller's working context, and a curated append-only
// notebook searched alongside the logs with a ranking boost.
package episodic

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"cogmem/internal/hashing"
	"cogmem/internal/model"
	"cogmem/internal/surprise"
	"cogmem/internal/wire"
)

// Entry is one episodic log line.
type Entry struct {
	ID         string
	Timestamp  time.Time
	Content    string
	SessionID  string
	ProjectID  string
	Tags       []string
	Importance float64
	Source     model.Source
	lsh        []string
}

func (e Entry) ToMemoryEntry() model.MemoryEntry {
	return model.MemoryEntry{
		ID:        e.ID,
		Content:   e.Content,
		Layer:     model.LayerEpisodic,
		Timestamp: e.Timestamp,
		Metadata: model.Metadata{
			Tags:      e.Tags,
			ProjectID: e.ProjectID,
			SessionID: e.SessionID,
			Source:    e.Source,
		},
	}
}

// day holds every entry logged on a single calendar date, plus an optional
// cached deterministic summary.
type day struct {
	date    string
	entries []Entry
	summary map[string][]string // tag -> content lines, lazily built
}

type idLoc struct {
	date  string
	index int
}

// NotebookEntry is one curated, addressable section of the notebook.
type NotebookEntry struct {
	Heading string
	Body    string
	lsh     []string
}

// Layer is the Episodic memory store.
type Layer struct {
	mu       sync.RWMutex
	logs     map[string]*day
	idIndex  map[string]idLoc
	lshIndex map[string]map[string]struct{} // band key -> entry ids

	notebook []NotebookEntry
}

// New returns an empty Episodic layer.
func New() *Layer {
	return &Layer{
		logs:     make(map[string]*day),
		idIndex:  make(map[string]idLoc),
		lshIndex: make(map[string]map[string]struct{}),
	}
}

func dateKey(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}

// Store timestamps a new entry with the current time, appends it to that
// day's log and updates every index. Returns the stored entry with its id
// assigned.
func (l *Layer) Store(ctx context.Context, content, sessionID, projectID string, tags []string, source model.Source) Entry {
	_ = ctx
	now := time.Now()
	e := Entry{
		ID:         wire.NewID("epi"),
		Timestamp:  now,
		Content:    content,
		SessionID:  sessionID,
		ProjectID:  projectID,
		Tags:       tags,
		Importance: surprise.ScoreImportance(content),
		Source:     source,
		lsh:        hashing.LSHSignatures(content, 10, 5),
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.appendLocked(e)
	return e
}

func (l *Layer) appendLocked(e Entry) {
	key := dateKey(e.Timestamp)
	d, ok := l.logs[key]
	if !ok {
		d = &day{date: key}
		l.logs[key] = d
	}
	d.entries = append(d.entries, e)
	d.summary = nil
	l.idIndex[e.ID] = idLoc{date: key, index: len(d.entries) - 1}
	for _, band := range e.lsh {
		set, ok := l.lshIndex[band]
		if !ok {
			set = make(map[string]struct{})
			l.lshIndex[band] = set
		}
		set[e.ID] = struct{}{}
	}
}

// insightTags lists the four category tags a pre-compaction entry can carry
// alongside "pre-compaction"; classifyInsight picks one of them for a
// free-form insight using its own keyword checks.
var insightTags = []string{"decision", "error", "solution", "learning"}

// FlushPreCompaction synthesizes pre-compaction entries from the caller's
// working context: explicit decisions/errors/solutions plus free-form
// insights, each tagged "pre-compaction" alongside its detected category.
func (l *Layer) FlushPreCompaction(ctx context.Context, sessionID, projectID string, decisions, errs, solutions, importantInsights []string) []Entry {
	_ = ctx
	var out []Entry
	add := func(content, tag string) {
		if strings.TrimSpace(content) == "" {
			return
		}
		e := Entry{
			ID:         wire.NewID("epi"),
			Timestamp:  time.Now(),
			Content:    content,
			SessionID:  sessionID,
			ProjectID:  projectID,
			Tags:       []string{"pre-compaction", tag},
			Importance: surprise.ScoreImportance(content),
			Source:     model.SourceCompaction,
			lsh:        hashing.LSHSignatures(content, 10, 5),
		}
		out = append(out, e)
	}
	for _, c := range decisions {
		add(c, "decision")
	}
	for _, c := range errs {
		add(c, "error")
	}
	for _, c := range solutions {
		add(c, "solution")
	}
	for _, insight := range importantInsights {
		tag := classifyInsight(insight)
		add(insight, tag)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	for _, e := range out {
		l.appendLocked(e)
	}
	return out
}

// classifyInsight labels a free-form insight with the first §4.2 pattern
// category it matches, defaulting to "learning" — the catch-all category
// for unclassified observations a pre-compaction flush still wants kept.
func classifyInsight(text string) string {
	lower := strings.ToLower(text)
	switch {
	case strings.Contains(lower, "decided") || strings.Contains(lower, "going with") || strings.Contains(lower, "chose"):
		return "decision"
	case strings.Contains(lower, "error") || strings.Contains(lower, "bug") || strings.Contains(lower, "failed"):
		return "error"
	case strings.Contains(lower, "fixed") || strings.Contains(lower, "solved") || strings.Contains(lower, "resolved"):
		return "solution"
	default:
		return "learning"
	}
}

// QueryOptions filters and shapes an episodic Query.
type QueryOptions struct {
	Limit     int
	Since     time.Time
	Until     time.Time
	ProjectID string
	Tags      []string
}

func (o QueryOptions) matches(e Entry) bool {
	if !o.Since.IsZero() && e.Timestamp.Before(o.Since) {
		return false
	}
	if !o.Until.IsZero() && e.Timestamp.After(o.Until) {
		return false
	}
	if o.ProjectID != "" && e.ProjectID != o.ProjectID {
		return false
	}
	for _, t := range o.Tags {
		found := false
		for _, et := range e.Tags {
			if et == t {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

type scoredEntry struct {
	entry Entry
	score float64
}

const notebookBoost = 1.5

// Query intersects LSH candidates across the filtered logs and the curated
// notebook, scores each by similarity×importance (notebook hits get ×1.5),
// and returns the top Limit by score.
func (l *Layer) Query(ctx context.Context, text string, opts QueryOptions) ([]model.MemoryEntry, error) {
	_ = ctx
	limit := opts.Limit
	if limit <= 0 {
		limit = 10
	}
	lsh := hashing.LSHSignatures(text, 10, 5)

	l.mu.RLock()
	defer l.mu.RUnlock()

	candidateIDs := make(map[string]struct{})
	for _, band := range lsh {
		for id := range l.lshIndex[band] {
			candidateIDs[id] = struct{}{}
		}
	}

	var scored []scoredEntry
	for id := range candidateIDs {
		loc, ok := l.idIndex[id]
		if !ok {
			continue
		}
		d := l.logs[loc.date]
		if d == nil || loc.index >= len(d.entries) {
			continue
		}
		e := d.entries[loc.index]
		if !opts.matches(e) {
			continue
		}
		sim := hashing.ShingleJaccard(text, e.Content)
		score := sim * e.Importance
		if score > 0.05 {
			scored = append(scored, scoredEntry{entry: e, score: score})
		}
	}

	for _, n := range l.notebook {
		if !hashing.BandOverlap(lsh, n.lsh) {
			continue
		}
		sim := hashing.ShingleJaccard(text, n.Body)
		score := sim * notebookBoost
		if score > 0.05 {
			scored = append(scored, scoredEntry{
				entry: Entry{
					ID:        "notebook_" + n.Heading,
					Content:   n.Body,
					Timestamp: time.Time{},
					Tags:      []string{"curated"},
					Source:    model.SourceManual,
				},
				score: score,
			})
		}
	}

	sort.Slice(scored, func(i, j int) bool { return scored[i].score > scored[j].score })
	if len(scored) > limit {
		scored = scored[:limit]
	}
	out := make([]model.MemoryEntry, len(scored))
	for i, s := range scored {
		out[i] = s.entry.ToMemoryEntry()
		if strings.HasPrefix(s.entry.ID, "notebook_") {
			out[i].Layer = model.LayerCurated
		}
	}
	return out, nil
}

// AppendNotebook adds a curated, addressable section to the notebook.
func (l *Layer) AppendNotebook(heading, body string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.notebook = append(l.notebook, NotebookEntry{
		Heading: heading,
		Body:    body,
		lsh:     hashing.LSHSignatures(body, 10, 5),
	})
}

// Notebook returns every curated section, in append order.
func (l *Layer) Notebook() []NotebookEntry {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]NotebookEntry, len(l.notebook))
	copy(out, l.notebook)
	return out
}

// Get returns the entry with id, or nil.
func (l *Layer) Get(id string) *Entry {
	l.mu.RLock()
	defer l.mu.RUnlock()
	loc, ok := l.idIndex[id]
	if !ok {
		return nil
	}
	d := l.logs[loc.date]
	if d == nil || loc.index >= len(d.entries) {
		return nil
	}
	e := d.entries[loc.index]
	return &e
}

// Delete removes id from its day log and every index. Deletion leaves a
// hole in the day's entries slice (nil-content placeholder) rather than
// re-indexing every later entry's idLoc, since logs are append-mostly.
func (l *Layer) Delete(id string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	loc, ok := l.idIndex[id]
	if !ok {
		return
	}
	d := l.logs[loc.date]
	if d == nil || loc.index >= len(d.entries) {
		delete(l.idIndex, id)
		return
	}
	e := d.entries[loc.index]
	for _, band := range e.lsh {
		if set, ok := l.lshIndex[band]; ok {
			delete(set, id)
			if len(set) == 0 {
				delete(l.lshIndex, band)
			}
		}
	}
	d.entries[loc.index] = Entry{ID: id} // tombstone: keeps index positions stable
	d.summary = nil
	delete(l.idIndex, id)
}

// GetToday returns today's log entries (UTC calendar day), newest last.
func (l *Layer) GetToday() []Entry {
	return l.GetDay(time.Now())
}

// GetDay returns the log entries for t's calendar date.
func (l *Layer) GetDay(t time.Time) []Entry {
	l.mu.RLock()
	defer l.mu.RUnlock()
	d, ok := l.logs[dateKey(t)]
	if !ok {
		return nil
	}
	out := make([]Entry, 0, len(d.entries))
	for _, e := range d.entries {
		if e.Content == "" && e.ID != "" {
			continue // tombstoned
		}
		out = append(out, e)
	}
	return out
}

// SummarizeDay deterministically groups t's log entries by tag, restricted
// to the four summary categories spec.md §4.7 names.
func (l *Layer) SummarizeDay(t time.Time) map[string][]string {
	key := dateKey(t)
	l.mu.Lock()
	defer l.mu.Unlock()
	d, ok := l.logs[key]
	if !ok {
		return map[string][]string{}
	}
	if d.summary != nil {
		return cloneSummary(d.summary)
	}
	summary := map[string][]string{"decision": {}, "error": {}, "solution": {}, "learning": {}}
	for _, e := range d.entries {
		if e.Content == "" && e.ID != "" {
			continue
		}
		for _, tag := range e.Tags {
			if _, tracked := summary[tag]; tracked {
				summary[tag] = append(summary[tag], e.Content)
			}
		}
	}
	d.summary = summary
	return cloneSummary(summary)
}

func cloneSummary(m map[string][]string) map[string][]string {
	out := make(map[string][]string, len(m))
	for k, v := range m {
		cp := make([]string, len(v))
		copy(cp, v)
		out[k] = cp
	}
	return out
}

// AllDays returns every day's non-tombstoned entries keyed by date, for the
// export snapshot.
func (l *Layer) AllDays() map[string][]Entry {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make(map[string][]Entry, len(l.logs))
	for date, d := range l.logs {
		entries := make([]Entry, 0, len(d.entries))
		for _, e := range d.entries {
			if e.Content == "" && e.ID != "" {
				continue
			}
			entries = append(entries, e)
		}
		out[date] = entries
	}
	return out
}

// Count returns the number of non-tombstoned entries across all days.
func (l *Layer) Count() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	n := 0
	for _, d := range l.logs {
		for _, e := range d.entries {
			if e.Content != "" || e.ID == "" {
				n++
			}
		}
	}
	return n
}
