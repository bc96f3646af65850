package retrieval

import (
	"container/heap"
	"context"
	"database/sql"
	"encoding/binary"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// Compile-time check that SQLiteIndexes implements IndexStore.
var _ IndexStore = (*SQLiteIndexes)(nil)

// fragmentSchema is applied when a domain index is first created.
const fragmentSchema = `
CREATE TABLE IF NOT EXISTS fragments (
	id TEXT PRIMARY KEY,
	source TEXT NOT NULL,
	kind TEXT NOT NULL DEFAULT 'text',
	content TEXT NOT NULL,
	embedding BLOB NOT NULL,
	seq INTEGER NOT NULL,
	created_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_fragments_seq ON fragments(seq);
`

// domainPattern restricts domain identifiers to filesystem-safe names.
var domainPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]*$`)

// SQLiteIndexes stores one SQLite database per knowledge domain under a
// directory, with brute-force cosine similarity search over little-endian
// float32 embedding blobs. Indexes are built offline and read-only at
// serving time; open handles are cached for the process lifetime.
//
// When a domain's fragment count exceeds ~100K and query latency becomes
// noticeable, swap in an ANN-backed IndexStore. ExportAll extracts all
// records for migration.
type SQLiteIndexes struct {
	dir string

	mu   sync.Mutex
	open map[string]*sql.DB
}

// NewSQLiteIndexes creates a store rooted at dir. The directory is created
// lazily on first insert.
func NewSQLiteIndexes(dir string) *SQLiteIndexes {
	return &SQLiteIndexes{
		dir:  dir,
		open: make(map[string]*sql.DB),
	}
}

// ValidDomain reports whether s is usable as a domain identifier.
func ValidDomain(s string) bool {
	return domainPattern.MatchString(s)
}

func (s *SQLiteIndexes) path(domain string) string {
	return filepath.Join(s.dir, domain+".db")
}

// Exists reports whether a domain has a persisted index file.
func (s *SQLiteIndexes) Exists(domain string) bool {
	if !ValidDomain(domain) {
		return false
	}
	_, err := os.Stat(s.path(domain))
	return err == nil
}

// Domains lists all domains with an index file, sorted by name.
func (s *SQLiteIndexes) Domains() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading index dir: %w", err)
	}

	var domains []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".db") {
			continue
		}
		domains = append(domains, strings.TrimSuffix(name, ".db"))
	}
	return domains, nil
}

// db returns the cached handle for a domain, opening it if necessary.
// When create is false and no index file exists, ErrIndexNotFound is returned.
func (s *SQLiteIndexes) db(domain string, create bool) (*sql.DB, error) {
	if !ValidDomain(domain) {
		return nil, fmt.Errorf("invalid domain %q", domain)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if db, ok := s.open[domain]; ok {
		return db, nil
	}

	p := s.path(domain)
	if _, err := os.Stat(p); err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("checking index for %s: %w", domain, err)
		}
		if !create {
			return nil, fmt.Errorf("domain %s: %w", domain, ErrIndexNotFound)
		}
		if err := os.MkdirAll(s.dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating index dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", p+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("opening index for %s: %w", domain, err)
	}
	// modernc.org/sqlite serializes writes; a single connection avoids
	// SQLITE_BUSY under concurrent access.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(fragmentSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("ensuring schema for %s: %w", domain, err)
	}

	s.open[domain] = db
	return db, nil
}

// CreateIndex ensures the index file and schema for a domain exist.
func (s *SQLiteIndexes) CreateIndex(domain string) error {
	_, err := s.db(domain, true)
	return err
}

// Insert adds records to a domain's index, creating the index if needed.
func (s *SQLiteIndexes) Insert(domain string, records []Record) error {
	db, err := s.db(domain, true)
	if err != nil {
		return err
	}

	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("beginning insert transaction: %w", err)
	}

	stmt, err := tx.Prepare(`
		INSERT INTO fragments (id, source, kind, content, embedding, seq, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("preparing insert statement: %w", err)
	}
	defer stmt.Close()

	for _, r := range records {
		blob := encodeFloat32s(r.Embedding)
		createdAt := r.CreatedAt
		if createdAt.IsZero() {
			createdAt = time.Now().UTC()
		}
		kind := r.Kind
		if kind == "" {
			kind = "text"
		}
		if _, err := stmt.Exec(r.ID, r.Source, kind, r.Text, blob, r.Seq, createdAt.Format(time.RFC3339)); err != nil {
			tx.Rollback()
			return fmt.Errorf("inserting record %s: %w", r.ID, err)
		}
	}

	return tx.Commit()
}

// idScore holds only the identity columns and score during the scan phase of
// Search. Full record details are fetched only for top-K winners.
type idScore struct {
	ID    string
	Score float32
	Seq   int
}

// Search performs brute-force cosine similarity search over a domain's
// vectors, returning the top-K records ordered by descending score with
// ties broken by corpus order.
func (s *SQLiteIndexes) Search(ctx context.Context, domain string, vector []float32, topK int) ([]ScoredRecord, error) {
	db, err := s.db(domain, false)
	if err != nil {
		return nil, err
	}
	if topK <= 0 {
		return nil, nil
	}

	// Phase 1: scan only id + seq + embedding to find top-K candidates.
	rows, err := db.QueryContext(ctx, `SELECT id, seq, embedding FROM fragments`)
	if err != nil {
		return nil, fmt.Errorf("querying vectors: %w", err)
	}
	defer rows.Close()

	queryNorm := norm(vector)
	if queryNorm == 0 {
		return nil, nil
	}

	h := &idScoreHeap{}
	heap.Init(h)

	// Reusable buffer for decoding embeddings to avoid per-row allocations.
	var buf []float32

	for rows.Next() {
		var id string
		var seq int
		var blob []byte
		if err := rows.Scan(&id, &seq, &blob); err != nil {
			return nil, fmt.Errorf("scanning row: %w", err)
		}

		buf, err = decodeFloat32sInto(buf, blob)
		if err != nil {
			return nil, fmt.Errorf("decoding embedding for %s: %w", id, err)
		}

		score := dotProduct(vector, buf, queryNorm)
		cand := idScore{ID: id, Score: score, Seq: seq}
		if h.Len() < topK {
			heap.Push(h, cand)
		} else if worse((*h)[0], cand) {
			(*h)[0] = cand
			heap.Fix(h, 0)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating rows: %w", err)
	}

	if h.Len() == 0 {
		return nil, nil
	}

	// Phase 2: fetch full records only for the top-K IDs.
	topIDs := make([]string, h.Len())
	scores := make(map[string]float32, h.Len())
	for i := len(topIDs) - 1; i >= 0; i-- {
		item := heap.Pop(h).(idScore)
		topIDs[i] = item.ID
		scores[item.ID] = item.Score
	}

	queryArgs := make([]interface{}, len(topIDs))
	for i, id := range topIDs {
		queryArgs[i] = id
	}
	fullQuery := `SELECT id, source, kind, content, embedding, seq, created_at
		FROM fragments WHERE id IN (?` + strings.Repeat(",?", len(topIDs)-1) + `)`

	fullRows, err := db.QueryContext(ctx, fullQuery, queryArgs...)
	if err != nil {
		return nil, fmt.Errorf("fetching top-K records: %w", err)
	}
	defer fullRows.Close()

	var results []ScoredRecord
	for fullRows.Next() {
		var r Record
		var blob []byte
		var createdAt string
		if err := fullRows.Scan(&r.ID, &r.Source, &r.Kind, &r.Text, &blob, &r.Seq, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning full record: %w", err)
		}
		embedding, err := decodeFloat32s(blob)
		if err != nil {
			return nil, fmt.Errorf("decoding embedding for %s: %w", r.ID, err)
		}
		r.Embedding = embedding
		t, err := time.Parse(time.RFC3339, createdAt)
		if err != nil {
			return nil, fmt.Errorf("parsing created_at: %w", err)
		}
		r.CreatedAt = t
		results = append(results, ScoredRecord{Record: r, Score: scores[r.ID]})
	}
	if err := fullRows.Err(); err != nil {
		return nil, fmt.Errorf("iterating full records: %w", err)
	}

	// Sort by score descending, ties by corpus order (IN query doesn't
	// preserve order).
	sortScored(results)

	return results, nil
}

// sortScored sorts ScoredRecords by score descending, ties by seq ascending.
// Insertion sort is fine for topK-sized slices.
func sortScored(results []ScoredRecord) {
	for i := 1; i < len(results); i++ {
		for j := i; j > 0 && scoredBefore(results[j], results[j-1]); j-- {
			results[j], results[j-1] = results[j-1], results[j]
		}
	}
}

func scoredBefore(a, b ScoredRecord) bool {
	if a.Score != b.Score {
		return a.Score > b.Score
	}
	return a.Seq < b.Seq
}

// Count returns the number of records in a domain's index.
func (s *SQLiteIndexes) Count(domain string) (int, error) {
	db, err := s.db(domain, false)
	if err != nil {
		return 0, err
	}
	var count int
	err = db.QueryRow("SELECT COUNT(*) FROM fragments").Scan(&count)
	return count, err
}

// ExportAll returns all records from a domain's index in corpus order.
// Used for data migration to another IndexStore backend.
func (s *SQLiteIndexes) ExportAll(domain string) ([]Record, error) {
	db, err := s.db(domain, false)
	if err != nil {
		return nil, err
	}

	rows, err := db.Query(`
		SELECT id, source, kind, content, embedding, seq, created_at
		FROM fragments ORDER BY seq ASC`)
	if err != nil {
		return nil, fmt.Errorf("querying all vectors: %w", err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		var r Record
		var blob []byte
		var createdAt string
		if err := rows.Scan(&r.ID, &r.Source, &r.Kind, &r.Text, &blob, &r.Seq, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning row: %w", err)
		}
		embedding, err := decodeFloat32s(blob)
		if err != nil {
			return nil, fmt.Errorf("decoding embedding for %s: %w", r.ID, err)
		}
		r.Embedding = embedding
		t, err := time.Parse(time.RFC3339, createdAt)
		if err != nil {
			return nil, fmt.Errorf("parsing created_at: %w", err)
		}
		r.CreatedAt = t
		records = append(records, r)
	}
	return records, rows.Err()
}

// Close releases all open index handles.
func (s *SQLiteIndexes) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var firstErr error
	for domain, db := range s.open {
		if err := db.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("closing index for %s: %w", domain, err)
		}
		delete(s.open, domain)
	}
	return firstErr
}

// encodeFloat32s serializes a float32 slice to little-endian bytes.
func encodeFloat32s(v []float32) []byte {
	buf := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

// decodeFloat32s deserializes little-endian bytes into a new float32 slice.
// Returns an error if the byte slice length is not a multiple of 4 (indicates data corruption).
func decodeFloat32s(b []byte) ([]float32, error) {
	if len(b)%4 != 0 {
		return nil, fmt.Errorf("byte slice length %d is not a multiple of 4", len(b))
	}
	n := len(b) / 4
	v := make([]float32, n)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return v, nil
}

// decodeFloat32sInto decodes little-endian bytes into the provided buffer,
// reusing it to avoid per-row allocations during search scans.
func decodeFloat32sInto(buf []float32, b []byte) ([]float32, error) {
	if len(b)%4 != 0 {
		return nil, fmt.Errorf("byte slice length %d is not a multiple of 4", len(b))
	}
	n := len(b) / 4
	if cap(buf) < n {
		buf = make([]float32, n)
	} else {
		buf = buf[:n]
	}
	for i := range buf {
		buf[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return buf, nil
}

// norm returns the L2 norm of a vector.
func norm(v []float32) float32 {
	var sum float64
	for _, f := range v {
		sum += float64(f) * float64(f)
	}
	return float32(math.Sqrt(sum))
}

// dotProduct computes cosine similarity as dot(a,b) / (aNorm * bNorm).
// aNorm is the precomputed L2 norm of vector a.
func dotProduct(a, b []float32, aNorm float32) float32 {
	if len(a) != len(b) {
		return 0
	}
	var dot float64
	var bNormSq float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		bNormSq += float64(b[i]) * float64(b[i])
	}
	bNorm := math.Sqrt(bNormSq)
	if bNorm == 0 {
		return 0
	}
	return float32(dot / (float64(aNorm) * bNorm))
}

// worse reports whether candidate a ranks below candidate b: lower score,
// or equal score and later corpus position. The heap keeps the worst
// candidate at the root so it can be displaced first.
func worse(a, b idScore) bool {
	if a.Score != b.Score {
		return a.Score < b.Score
	}
	return a.Seq > b.Seq
}

// idScoreHeap is a min-heap of idScore with the worst candidate at the root.
// Used during the scan phase of Search to track top-K candidates by ID only.
type idScoreHeap []idScore

func (h idScoreHeap) Len() int            { return len(h) }
func (h idScoreHeap) Less(i, j int) bool  { return worse(h[i], h[j]) }
func (h idScoreHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *idScoreHeap) Push(x interface{}) { *h = append(*h, x.(idScore)) }
func (h *idScoreHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}
