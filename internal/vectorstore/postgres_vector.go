package vectorstore

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"

	"cogmem/internal/model"
)

type pgVector struct {
	pool       *pgxpool.Pool
	table      string
	dimensions int
	metric     string // cosine|l2|ip
}

// NewPostgresVector returns a pgvector-backed VectorStore. One table per
// collection (project_id+layer_tag), named after the collection so multiple
// layers sharing a pool don't collide.
func NewPostgresVector(pool *pgxpool.Pool, collection string, dimensions int, metric string) VectorStore {
	return &pgVector{
		pool:       pool,
		table:      sanitizeTableName(collection),
		dimensions: dimensions,
		metric:     strings.ToLower(strings.TrimSpace(metric)),
	}
}

func sanitizeTableName(collection string) string {
	var b strings.Builder
	b.WriteString("cogmem_")
	for _, r := range collection {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '_':
			b.WriteRune(r)
		case r >= 'A' && r <= 'Z':
			b.WriteRune(r + ('a' - 'A'))
		default:
			b.WriteByte('_')
		}
	}
	return b.String()
}

func (p *pgVector) Initialize(ctx context.Context) error {
	if _, err := p.pool.Exec(ctx, `CREATE EXTENSION IF NOT EXISTS vector`); err != nil {
		return fmt.Errorf("create vector extension: %w", err)
	}
	vecType := "vector"
	if p.dimensions > 0 {
		vecType = fmt.Sprintf("vector(%d)", p.dimensions)
	}
	_, err := p.pool.Exec(ctx, fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
  id TEXT PRIMARY KEY,
  vec %s,
  content TEXT NOT NULL,
  entry JSONB NOT NULL,
  seq BIGSERIAL
);
`, p.table, vecType))
	if err != nil {
		return fmt.Errorf("create table %s: %w", p.table, err)
	}
	return nil
}

func (p *pgVector) Insert(ctx context.Context, entry model.MemoryEntry, vector []float32) error {
	entryJSON, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal entry: %w", err)
	}
	vecLit := toVectorLiteral(vector)
	_, err = p.pool.Exec(ctx, fmt.Sprintf(`
INSERT INTO %s(id, vec, content, entry) VALUES($1, $2::vector, $3, $4)
ON CONFLICT (id) DO UPDATE SET vec=EXCLUDED.vec, content=EXCLUDED.content, entry=EXCLUDED.entry
`, p.table), entry.ID, vecLit, entry.Content, entryJSON)
	return err
}

func (p *pgVector) Delete(ctx context.Context, id string) error {
	_, err := p.pool.Exec(ctx, fmt.Sprintf(`DELETE FROM %s WHERE id=$1`, p.table), id)
	return err
}

func (p *pgVector) Count(ctx context.Context) (int, error) {
	var n int
	err := p.pool.QueryRow(ctx, fmt.Sprintf(`SELECT count(*) FROM %s`, p.table)).Scan(&n)
	return n, err
}

func (p *pgVector) Get(ctx context.Context, id string) (model.MemoryEntry, bool, error) {
	var raw []byte
	err := p.pool.QueryRow(ctx, fmt.Sprintf(`SELECT entry FROM %s WHERE id=$1`, p.table), id).Scan(&raw)
	if err != nil {
		if strings.Contains(err.Error(), "no rows") {
			return model.MemoryEntry{}, false, nil
		}
		return model.MemoryEntry{}, false, err
	}
	var entry model.MemoryEntry
	if err := json.Unmarshal(raw, &entry); err != nil {
		return model.MemoryEntry{}, false, err
	}
	return entry, true, nil
}

func (p *pgVector) GetRecent(ctx context.Context, k int) ([]model.MemoryEntry, error) {
	if k <= 0 {
		k = 10
	}
	rows, err := p.pool.Query(ctx, fmt.Sprintf(`SELECT entry FROM %s ORDER BY seq DESC LIMIT $1`, p.table), k)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]model.MemoryEntry, 0, k)
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		var entry model.MemoryEntry
		if err := json.Unmarshal(raw, &entry); err != nil {
			return nil, err
		}
		out = append(out, entry)
	}
	return out, rows.Err()
}

func (p *pgVector) scoreExprAndOp() (scoreExpr, op string) {
	switch p.metric {
	case "l2", "euclidean":
		return "-(vec <-> $1::vector)", "<->"
	case "ip", "dot":
		return "-(vec <#> $1::vector)", "<#>"
	default:
		return "1 - (vec <=> $1::vector)", "<=>"
	}
}

func (p *pgVector) Search(ctx context.Context, vector []float32, k int) ([]Result, error) {
	if k <= 0 {
		k = 10
	}
	vecLit := toVectorLiteral(vector)
	scoreExpr, op := p.scoreExprAndOp()
	query := fmt.Sprintf(`SELECT entry, %s AS score FROM %s ORDER BY vec %s $1::vector LIMIT $2`, scoreExpr, p.table, op)
	rows, err := p.pool.Query(ctx, query, vecLit, k)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanResults(rows)
}

// HybridSearch combines pgvector's nearest-neighbor ranking with Postgres
// full-text search (plainto_tsquery + ts_rank), always reciprocal-rank-fused
// in SQL with opts.RRFConstant. opts.RerankStrategy, DenseWeight and
// SparseWeight are not used by this backend.
func (p *pgVector) HybridSearch(ctx context.Context, vector []float32, text string, k int, opts HybridOpts) ([]Result, error) {
	if k <= 0 {
		k = 10
	}
	if text == "" {
		return p.Search(ctx, vector, k)
	}
	vecLit := toVectorLiteral(vector)
	_, op := p.scoreExprAndOp()
	candidatePool := k * 4
	query := fmt.Sprintf(`
WITH dense AS (
  SELECT id, row_number() OVER (ORDER BY vec %s $1::vector) AS rnk
  FROM %s
  ORDER BY vec %s $1::vector
  LIMIT $3
),
sparse AS (
  SELECT id, row_number() OVER (ORDER BY ts_rank(to_tsvector('english', content), plainto_tsquery('english', $2)) DESC) AS rnk
  FROM %s
  WHERE to_tsvector('english', content) @@ plainto_tsquery('english', $2)
  LIMIT $3
)
SELECT e.entry,
       COALESCE(1.0/($4 + d.rnk), 0) + COALESCE(1.0/($4 + s.rnk), 0) AS score
FROM %s e
LEFT JOIN dense d ON d.id = e.id
LEFT JOIN sparse s ON s.id = e.id
WHERE d.id IS NOT NULL OR s.id IS NOT NULL
ORDER BY score DESC
LIMIT $5
`, op, p.table, op, p.table, p.table)
	rrfK := opts.RRFConstant
	if rrfK <= 0 {
		rrfK = 60
	}
	rows, err := p.pool.Query(ctx, query, vecLit, text, candidatePool, rrfK, k)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanResults(rows)
}

func scanResults(rows interface {
	Next() bool
	Scan(...any) error
	Err() error
}) ([]Result, error) {
	var out []Result
	for rows.Next() {
		var raw []byte
		var score float64
		if err := rows.Scan(&raw, &score); err != nil {
			return nil, err
		}
		var entry model.MemoryEntry
		if err := json.Unmarshal(raw, &entry); err != nil {
			return nil, err
		}
		out = append(out, Result{Entry: entry, Score: score})
	}
	return out, rows.Err()
}

func (p *pgVector) Close() error {
	p.pool.Close()
	return nil
}

func toVectorLiteral(v []float32) string {
	if len(v) == 0 {
		return "[]"
	}
	var b strings.Builder
	b.WriteByte('[')
	for i, x := range v {
		if i > 0 {
			b.WriteByte(',')
		}
		fmt.Fprintf(&b, "%g", x)
	}
	b.WriteByte(']')
	return b.String()
}
