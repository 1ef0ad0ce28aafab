package vectorstore

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"

	"cogmem/internal/model"
)

// Qdrant only allows UUIDs and positive integers as point IDs, so a
// deterministic UUID is derived from the entry id and the original id rides
// along in the payload for round-tripping.
const (
	payloadIDField    = "_original_id"
	payloadEntryField = "_entry_json"
	payloadSeqField   = "_insert_seq"
)

type qdrantVector struct {
	client     *qdrant.Client
	collection string
	dimension  int
	metric     string // cosine|l2|euclidean|ip|dot|manhattan
	seq        int64
}

// NewQdrantVector creates a Qdrant-backed VectorStore (config.Vector.Backend
// == "qdrant"). The Go client speaks Qdrant's gRPC API, default port 6334.
// An API key can be passed as a query parameter on dsn:
// "http://localhost:6334?api_key=your_api_key".
func NewQdrantVector(dsn string, collection string, dimensions int, metric string) (VectorStore, error) {
	if collection == "" {
		return nil, fmt.Errorf("collection name is required")
	}
	parsedURL, err := url.Parse(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse Qdrant DSN: %w", err)
	}
	host := parsedURL.Hostname()
	if host == "" {
		host = "localhost"
	}
	port := parsedURL.Port()
	if port == "" {
		port = "6334"
	}
	portNum, err := strconv.Atoi(port)
	if err != nil {
		return nil, fmt.Errorf("invalid port in Qdrant DSN: %w", err)
	}
	cfg := &qdrant.Config{Host: host, Port: portNum}
	if parsedURL.Scheme == "https" {
		cfg.UseTLS = true
	}
	if apiKey := parsedURL.Query().Get("api_key"); apiKey != "" {
		cfg.APIKey = apiKey
	}
	client, err := qdrant.NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("create Qdrant client: %w", err)
	}
	qv := &qdrantVector{
		client:     client,
		collection: collection,
		dimension:  dimensions,
		metric:     strings.ToLower(strings.TrimSpace(metric)),
	}
	return qv, nil
}

func (q *qdrantVector) Initialize(ctx context.Context) error {
	if err := q.ensureCollection(ctx); err != nil {
		return fmt.Errorf("ensure collection: %w", err)
	}
	return nil
}

func (q *qdrantVector) ensureCollection(ctx context.Context) error {
	exists, err := q.client.CollectionExists(ctx, q.collection)
	if err != nil {
		return fmt.Errorf("check collection exists: %w", err)
	}
	if exists {
		return nil
	}
	var distance qdrant.Distance
	switch q.metric {
	case "l2", "euclidean":
		distance = qdrant.Distance_Euclid
	case "ip", "dot":
		distance = qdrant.Distance_Dot
	case "manhattan":
		distance = qdrant.Distance_Manhattan
	default: // cosine
		distance = qdrant.Distance_Cosine
	}
	if q.dimension <= 0 {
		return fmt.Errorf("qdrant requires dimensions > 0")
	}
	return q.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: q.collection,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     uint64(q.dimension),
			Distance: distance,
		}),
	})
}

func pointIDFor(id string) string {
	if _, err := uuid.Parse(id); err == nil {
		return id
	}
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(id)).String()
}

func (q *qdrantVector) Insert(ctx context.Context, entry model.MemoryEntry, vector []float32) error {
	q.seq++
	entryJSON, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal entry: %w", err)
	}
	payload := qdrant.NewValueMap(map[string]any{
		payloadIDField:    entry.ID,
		payloadEntryField: string(entryJSON),
		payloadSeqField:   q.seq,
	})
	vec := make([]float32, len(vector))
	copy(vec, vector)
	points := []*qdrant.PointStruct{{
		Id:      qdrant.NewIDUUID(pointIDFor(entry.ID)),
		Vectors: qdrant.NewVectorsDense(vec),
		Payload: payload,
	}}
	_, err = q.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: q.collection,
		Points:         points,
	})
	return err
}

func (q *qdrantVector) Delete(ctx context.Context, id string) error {
	pointID := qdrant.NewIDUUID(pointIDFor(id))
	_, err := q.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: q.collection,
		Points:         qdrant.NewPointsSelector(pointID),
	})
	return err
}

func (q *qdrantVector) Count(ctx context.Context) (int, error) {
	count, err := q.client.Count(ctx, &qdrant.CountPoints{CollectionName: q.collection})
	if err != nil {
		return 0, err
	}
	return int(count), nil
}

func entryFromPayload(payload map[string]*qdrant.Value) (model.MemoryEntry, bool) {
	v, ok := payload[payloadEntryField]
	if !ok {
		return model.MemoryEntry{}, false
	}
	var entry model.MemoryEntry
	if err := json.Unmarshal([]byte(v.GetStringValue()), &entry); err != nil {
		return model.MemoryEntry{}, false
	}
	return entry, true
}

func (q *qdrantVector) Get(ctx context.Context, id string) (model.MemoryEntry, bool, error) {
	filter := &qdrant.Filter{Must: []*qdrant.Condition{qdrant.NewMatch(payloadIDField, id)}}
	limit := uint32(1)
	points, err := q.client.Scroll(ctx, &qdrant.ScrollPoints{
		CollectionName: q.collection,
		Filter:         filter,
		Limit:          &limit,
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return model.MemoryEntry{}, false, err
	}
	if len(points) == 0 {
		return model.MemoryEntry{}, false, nil
	}
	entry, ok := entryFromPayload(points[0].Payload)
	return entry, ok, nil
}

func (q *qdrantVector) GetRecent(ctx context.Context, k int) ([]model.MemoryEntry, error) {
	if k <= 0 {
		k = 10
	}
	// Scroll a generous window and sort client-side by insert sequence; Qdrant
	// scroll order is not guaranteed to match insertion order across segments.
	limit := uint32(k * 4)
	points, err := q.client.Scroll(ctx, &qdrant.ScrollPoints{
		CollectionName: q.collection,
		Limit:          &limit,
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, err
	}
	type seqEntry struct {
		entry model.MemoryEntry
		seq   int64
	}
	out := make([]seqEntry, 0, len(points))
	for _, p := range points {
		entry, ok := entryFromPayload(p.Payload)
		if !ok {
			continue
		}
		var seq int64
		if v, ok := p.Payload[payloadSeqField]; ok {
			seq = v.GetIntegerValue()
		}
		out = append(out, seqEntry{entry: entry, seq: seq})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].seq > out[j].seq })
	if len(out) > k {
		out = out[:k]
	}
	entries := make([]model.MemoryEntry, len(out))
	for i, e := range out {
		entries[i] = e.entry
	}
	return entries, nil
}

func (q *qdrantVector) Search(ctx context.Context, vector []float32, k int) ([]Result, error) {
	if k <= 0 {
		k = 10
	}
	vec := make([]float32, len(vector))
	copy(vec, vector)
	limit := uint64(k)
	hits, err := q.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: q.collection,
		Query:          qdrant.NewQueryDense(vec),
		Limit:          &limit,
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, err
	}
	results := make([]Result, 0, len(hits))
	for _, hit := range hits {
		entry, ok := entryFromPayload(hit.Payload)
		if !ok {
			continue
		}
		results = append(results, Result{Entry: entry, Score: float64(hit.Score)})
	}
	return results, nil
}

// HybridSearch delegates to the dense search: Qdrant's sparse-vector/BM25
// support requires a named sparse vector configured on the collection, which
// is out of scope here; the dense ranking alone still satisfies the
// interface (spec.md §4.3 marks hybridSearch optional per backend).
func (q *qdrantVector) HybridSearch(ctx context.Context, vector []float32, _ string, k int, _ HybridOpts) ([]Result, error) {
	return q.Search(ctx, vector, k)
}

func (q *qdrantVector) Close() error {
	return q.client.Close()
}
