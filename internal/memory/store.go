// Package memory implements per-tenant, per-user long-term conversation
// memory over SQLite with vector similarity retrieval.
package memory

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"timeclerk/internal/embedding"
	"timeclerk/internal/logging"
)

// Record is one stored exchange. Records are append-only; nothing
// mutates them after the insert.
type Record struct {
	ID           int64
	TenantID     string
	UserID       string
	UserText     string
	ResponseText string
	Metadata     map[string]string
	Score        float64
	CreatedAt    time.Time
}

// Store is the tenant-scoped memory store.
type Store struct {
	db         *sql.DB
	mu         sync.RWMutex
	dbPath     string
	engine     embedding.Engine
	vectorExt  bool // sqlite-vec available
	requireVec bool // fail fast when the extension is missing
	expansion  bool
}

// Option configures a Store.
type Option func(*Store)

// WithRequireVec makes startup fail when sqlite-vec is not compiled in.
func WithRequireVec() Option {
	return func(s *Store) { s.requireVec = true }
}

// WithoutExpansion disables query expansion (used by tests asserting
// baseline recall).
func WithoutExpansion() Option {
	return func(s *Store) { s.expansion = false }
}

// NewStore initializes the SQLite database at the given path.
func NewStore(path string, engine embedding.Engine, opts ...Option) (*Store, error) {
	timer := logging.StartTimer(logging.CategoryMemory, "NewStore")
	defer timer.Stop()

	logging.Memory("Initializing memory store at %s", path)

	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("failed to create directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		logging.MemoryDebug("failed to set sqlite busy_timeout: %v", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		logging.MemoryDebug("failed to set sqlite journal_mode=WAL: %v", err)
	}
	// synchronous=NORMAL is safe under WAL and much faster than FULL.
	if _, err := db.Exec("PRAGMA synchronous = NORMAL"); err != nil {
		logging.MemoryDebug("failed to set sqlite synchronous=NORMAL: %v", err)
	}

	s := &Store{db: db, dbPath: path, engine: engine, expansion: true}
	for _, opt := range opts {
		opt(s)
	}

	if err := s.initialize(); err != nil {
		db.Close()
		return nil, err
	}

	s.detectVecExtension()
	if s.requireVec && !s.vectorExt {
		db.Close()
		return nil, fmt.Errorf("sqlite-vec extension required but not available (build with -tags sqlite_vec)")
	}

	return s, nil
}

func (s *Store) initialize() error {
	schema := `
	CREATE TABLE IF NOT EXISTS memories (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		tenant_id TEXT NOT NULL,
		user_id TEXT NOT NULL,
		user_text TEXT NOT NULL,
		response_text TEXT NOT NULL,
		metadata TEXT,
		embedding TEXT,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_memories_scope ON memories(tenant_id, user_id);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}
	return nil
}

// detectVecExtension probes for sqlite-vec.
func (s *Store) detectVecExtension() {
	var version string
	if err := s.db.QueryRow("SELECT vec_version()").Scan(&version); err == nil {
		s.vectorExt = true
		logging.Memory("sqlite-vec available: %s", version)
	} else {
		logging.MemoryDebug("sqlite-vec not available, using in-process similarity")
	}
}

// Add appends one exchange to the user's memory.
func (s *Store) Add(ctx context.Context, tenantID, userID, userText, responseText string, metadata map[string]string) error {
	if tenantID == "" || userID == "" {
		return fmt.Errorf("tenant and user ids are required")
	}

	// Embed the full exchange so either side of it can match later
	// queries.
	vec, err := s.engine.Embed(ctx, userText+"\n"+responseText)
	if err != nil {
		return fmt.Errorf("failed to generate embedding: %w", err)
	}
	vecJSON, err := json.Marshal(vec)
	if err != nil {
		return fmt.Errorf("failed to serialize embedding: %w", err)
	}
	metaJSON, _ := json.Marshal(metadata)

	s.mu.Lock()
	defer s.mu.Unlock()

	_, err = s.db.ExecContext(ctx,
		"INSERT INTO memories (tenant_id, user_id, user_text, response_text, metadata, embedding) VALUES (?, ?, ?, ?, ?, ?)",
		tenantID, userID, userText, responseText, string(metaJSON), string(vecJSON),
	)
	if err != nil {
		return fmt.Errorf("failed to insert memory: %w", err)
	}
	logging.MemoryDebug("stored memory for %s/%s", tenantID, userID)
	return nil
}

// Retrieve returns up to k records for (tenant, user) ranked by cosine
// similarity to the query. Query expansion adds augmented variants for
// known semantic categories; results merge by record identity keeping
// the highest score, then truncate to k.
func (s *Store) Retrieve(ctx context.Context, tenantID, userID, query string, k int) ([]Record, error) {
	timer := logging.StartTimer(logging.CategoryMemory, "Retrieve")
	defer timer.Stop()

	if k <= 0 {
		k = 5
	}

	queries := []string{query}
	if s.expansion {
		queries = ExpandQuery(query)
	}

	best := make(map[int64]Record)
	for _, q := range queries {
		records, err := s.search(ctx, tenantID, userID, q, k)
		if err != nil {
			return nil, err
		}
		for _, r := range records {
			if prev, ok := best[r.ID]; !ok || r.Score > prev.Score {
				best[r.ID] = r
			}
		}
	}

	merged := make([]Record, 0, len(best))
	for _, r := range best {
		merged = append(merged, r)
	}
	sort.Slice(merged, func(i, j int) bool { return merged[i].Score > merged[j].Score })
	if len(merged) > k {
		merged = merged[:k]
	}

	logging.MemoryDebug("retrieved %d records for %s/%s (%d query variants)", len(merged), tenantID, userID, len(queries))
	return merged, nil
}

// search runs one similarity query. Tenant and user scoping happens in
// the WHERE clause, never by filtering rows client-side: a misrouted
// query can then never observe another tenant's records.
func (s *Store) search(ctx context.Context, tenantID, userID, query string, k int) ([]Record, error) {
	queryVec, err := s.engine.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to generate query embedding: %w", err)
	}

	if s.vectorExt {
		records, err := s.searchVec(ctx, tenantID, userID, queryVec, k)
		if err == nil {
			return records, nil
		}
		logging.Get(logging.CategoryMemory).Warn("sqlite-vec search failed, falling back to in-process scan: %v", err)
	}
	return s.searchScan(ctx, tenantID, userID, queryVec, k)
}

// searchVec ranks inside SQLite with vec_distance_cosine. Stored
// embeddings are JSON arrays, which sqlite-vec reads directly.
func (s *Store) searchVec(ctx context.Context, tenantID, userID string, queryVec []float32, k int) ([]Record, error) {
	queryJSON, err := json.Marshal(queryVec)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize query embedding: %w", err)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, tenant_id, user_id, user_text, response_text, metadata, created_at,
		       vec_distance_cosine(embedding, ?) AS distance
		FROM memories
		WHERE tenant_id = ? AND user_id = ? AND embedding IS NOT NULL
		ORDER BY distance ASC
		LIMIT ?`,
		string(queryJSON), tenantID, userID, k,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		var r Record
		var metaJSON string
		var distance float64
		if err := rows.Scan(&r.ID, &r.TenantID, &r.UserID, &r.UserText, &r.ResponseText, &metaJSON, &r.CreatedAt, &distance); err != nil {
			return nil, err
		}
		r.Score = 1 - distance
		if metaJSON != "" && metaJSON != "null" {
			json.Unmarshal([]byte(metaJSON), &r.Metadata)
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

// searchScan decodes every scoped row and scores in Go. It is the
// fallback when sqlite-vec is not compiled in.
func (s *Store) searchScan(ctx context.Context, tenantID, userID string, queryVec []float32, k int) ([]Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		"SELECT id, tenant_id, user_id, user_text, response_text, metadata, embedding, created_at FROM memories WHERE tenant_id = ? AND user_id = ? AND embedding IS NOT NULL",
		tenantID, userID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var candidates []Record
	for rows.Next() {
		var r Record
		var metaJSON, vecJSON string
		if err := rows.Scan(&r.ID, &r.TenantID, &r.UserID, &r.UserText, &r.ResponseText, &metaJSON, &vecJSON, &r.CreatedAt); err != nil {
			continue
		}

		var vec []float32
		if err := json.Unmarshal([]byte(vecJSON), &vec); err != nil {
			continue
		}
		score, err := embedding.CosineSimilarity(queryVec, vec)
		if err != nil {
			continue
		}
		r.Score = score

		if metaJSON != "" && metaJSON != "null" {
			json.Unmarshal([]byte(metaJSON), &r.Metadata)
		}
		candidates = append(candidates, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sort.Slice(candidates, func(i, j int) bool { return candidates[i].Score > candidates[j].Score })
	if len(candidates) > k {
		candidates = candidates[:k]
	}
	return candidates, nil
}

// Snippets renders top retrieval hits as prompt-ready lines. Satisfies
// the planner's MemoryRecaller interface.
func (s *Store) Snippets(ctx context.Context, tenantID, userID, query string, k int) ([]string, error) {
	records, err := s.Retrieve(ctx, tenantID, userID, query, k)
	if err != nil {
		return nil, err
	}
	out := make([]string, len(records))
	for i, r := range records {
		out[i] = fmt.Sprintf("User asked: %q and the assistant answered: %q", r.UserText, r.ResponseText)
	}
	return out, nil
}

// Count returns how many records exist for a scope. Used by tests and
// diagnostics.
func (s *Store) Count(ctx context.Context, tenantID, userID string) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var n int64
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM memories WHERE tenant_id = ? AND user_id = ?",
		tenantID, userID,
	).Scan(&n)
	return n, err
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}
