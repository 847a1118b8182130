package retrieval

import (
	"container/heap"
	"context"
	"database/sql"
	"encoding/binary"
	"errors"
	"fmt"
	"io/fs"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/kalambet/finassist/internal/chunker"

	_ "modernc.org/sqlite"
)

// indexSchema is the layout of a standalone index file. The file is rebuilt
// wholesale on every reindex and never migrated.
const indexSchema = `
CREATE TABLE meta (
	key   TEXT PRIMARY KEY,
	value TEXT NOT NULL
);
CREATE TABLE chunks (
	id          TEXT PRIMARY KEY,
	source_name TEXT NOT NULL,
	chunk_index INTEGER NOT NULL,
	text        TEXT NOT NULL,
	embedding   BLOB NOT NULL
);
`

// Build writes a new index file containing chunks and their vectors and
// swaps it into place at path. The file is written next to path under a
// temporary name, synced, and renamed, so a reader opening path sees either
// the previous index or the complete new one. On failure the previous index
// is left untouched.
func Build(ctx context.Context, path string, chunks []chunker.Chunk, vectors [][]float32, meta Meta) error {
	if len(chunks) != len(vectors) {
		return fmt.Errorf("building index: %d chunks but %d vectors", len(chunks), len(vectors))
	}
	if len(chunks) == 0 {
		return errors.New("building index: no chunks")
	}
	dim := len(vectors[0])
	for i, v := range vectors {
		if len(v) == 0 || len(v) != dim {
			return fmt.Errorf("building index: vector %d has dimension %d, want %d", i, len(v), dim)
		}
	}
	meta.Dimension = dim
	if meta.BuiltAt.IsZero() {
		meta.BuiltAt = time.Now().UTC()
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("creating index directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".tmp-"+filepath.Base(path)+"-*")
	if err != nil {
		return fmt.Errorf("creating temporary index: %w", err)
	}
	tmpPath := tmp.Name()
	tmp.Close()

	committed := false
	defer func() {
		if !committed {
			os.Remove(tmpPath)
			os.Remove(tmpPath + "-journal")
		}
	}()

	if err := writeIndex(ctx, tmpPath, chunks, vectors, meta); err != nil {
		return err
	}
	if err := syncFile(tmpPath); err != nil {
		return fmt.Errorf("syncing temporary index: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("replacing index: %w", err)
	}
	committed = true

	// Persist the rename itself. Failure here does not invalidate the swap.
	if d, err := os.Open(dir); err == nil {
		d.Sync()
		d.Close()
	}
	return nil
}

func writeIndex(ctx context.Context, path string, chunks []chunker.Chunk, vectors [][]float32, meta Meta) error {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return fmt.Errorf("opening temporary index: %w", err)
	}
	defer db.Close()
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, indexSchema); err != nil {
		return fmt.Errorf("creating index schema: %w", err)
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning index transaction: %w", err)
	}
	defer tx.Rollback()

	metaRows := map[string]string{
		"built_at":    meta.BuiltAt.UTC().Format(time.RFC3339),
		"embed_model": meta.EmbedModel,
		"dimension":   strconv.Itoa(meta.Dimension),
	}
	for k, v := range metaRows {
		if _, err := tx.ExecContext(ctx, `INSERT INTO meta (key, value) VALUES (?, ?)`, k, v); err != nil {
			return fmt.Errorf("writing index meta %s: %w", k, err)
		}
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO chunks (id, source_name, chunk_index, text, embedding)
		VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("preparing insert statement: %w", err)
	}
	defer stmt.Close()

	for i, c := range chunks {
		id := uuid.NewString()
		if _, err := stmt.ExecContext(ctx, id, c.SourceName, c.Index, c.Text, encodeFloat32s(vectors[i])); err != nil {
			return fmt.Errorf("inserting chunk %s#%d: %w", c.SourceName, c.Index, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing index: %w", err)
	}
	return db.Close()
}

func syncFile(path string) error {
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// openIndex opens the index file at path. A missing file is ErrNoIndex.
// The returned handle keeps reading the file it opened even if a reindex
// renames a new file over path in the meantime.
func openIndex(path string) (*sql.DB, error) {
	if err := checkIndex(path); err != nil {
		return nil, err
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening index: %w", err)
	}
	db.SetMaxOpenConns(1)
	return db, nil
}

func checkIndex(path string) error {
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return ErrNoIndex
		}
		return fmt.Errorf("checking index: %w", err)
	}
	return nil
}

func readMeta(ctx context.Context, db *sql.DB) (Meta, error) {
	rows, err := db.QueryContext(ctx, `SELECT key, value FROM meta`)
	if err != nil {
		return Meta{}, fmt.Errorf("reading index meta: %w", err)
	}
	defer rows.Close()

	var m Meta
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return Meta{}, fmt.Errorf("scanning index meta: %w", err)
		}
		switch k {
		case "built_at":
			m.BuiltAt, _ = time.Parse(time.RFC3339, v)
		case "embed_model":
			m.EmbedModel = v
		case "dimension":
			m.Dimension, _ = strconv.Atoi(v)
		}
	}
	return m, rows.Err()
}

// idScore holds only the ID and score during the scan phase of search.
// Full chunk details are fetched only for the top-K winners.
type idScore struct {
	ID    string
	Score float32
}

// searchFile performs brute-force cosine similarity search over every vector
// in the index file, returning the top-K chunks most similar first.
func searchFile(ctx context.Context, path string, vector []float32, topK int) ([]ScoredChunk, error) {
	if topK <= 0 {
		return nil, nil
	}
	db, err := openIndex(path)
	if err != nil {
		return nil, err
	}
	defer db.Close()

	meta, err := readMeta(ctx, db)
	if err != nil {
		return nil, err
	}
	if meta.Dimension != 0 && meta.Dimension != len(vector) {
		return nil, fmt.Errorf("query vector has dimension %d, index was built with %d (%s)", len(vector), meta.Dimension, meta.EmbedModel)
	}

	queryNorm := norm(vector)
	if queryNorm == 0 {
		return nil, nil
	}

	// Phase 1: scan only id + embedding to find top-K candidates.
	rows, err := db.QueryContext(ctx, `SELECT id, embedding FROM chunks`)
	if err != nil {
		return nil, fmt.Errorf("querying vectors: %w", err)
	}

	h := &idScoreHeap{}
	heap.Init(h)

	// Reusable buffer for decoding embeddings to avoid per-row allocations.
	var buf []float32

	for rows.Next() {
		var id string
		var blob []byte
		if err := rows.Scan(&id, &blob); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scanning row: %w", err)
		}

		buf, err = decodeFloat32sInto(buf, blob)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("decoding embedding for %s: %w", id, err)
		}

		score := dotProduct(vector, buf, queryNorm)
		if h.Len() < topK {
			heap.Push(h, idScore{ID: id, Score: score})
		} else if score > (*h)[0].Score {
			(*h)[0] = idScore{ID: id, Score: score}
			heap.Fix(h, 0)
		}
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, fmt.Errorf("iterating rows: %w", err)
	}
	rows.Close()

	if h.Len() == 0 {
		return nil, nil
	}

	// Phase 2: fetch full chunks only for the top-K IDs.
	topIDs := make([]string, h.Len())
	scores := make(map[string]float32, h.Len())
	for i := len(topIDs) - 1; i >= 0; i-- {
		item := heap.Pop(h).(idScore)
		topIDs[i] = item.ID
		scores[item.ID] = item.Score
	}

	args := make([]any, len(topIDs))
	for i, id := range topIDs {
		args[i] = id
	}
	fullQuery := `SELECT id, source_name, chunk_index, text
		FROM chunks WHERE id IN (?` + strings.Repeat(",?", len(topIDs)-1) + `)`

	fullRows, err := db.QueryContext(ctx, fullQuery, args...)
	if err != nil {
		return nil, fmt.Errorf("fetching top-K chunks: %w", err)
	}
	defer fullRows.Close()

	results := make([]ScoredChunk, 0, len(topIDs))
	for fullRows.Next() {
		var id string
		var c ScoredChunk
		if err := fullRows.Scan(&id, &c.SourceName, &c.Index, &c.Text); err != nil {
			return nil, fmt.Errorf("scanning chunk: %w", err)
		}
		c.Score = scores[id]
		results = append(results, c)
	}
	if err := fullRows.Err(); err != nil {
		return nil, fmt.Errorf("iterating chunks: %w", err)
	}

	// IN query doesn't preserve order.
	sortByScore(results)
	return results, nil
}

// ReadStats reports what the index file at path contains.
func ReadStats(ctx context.Context, path string) (Stats, error) {
	db, err := openIndex(path)
	if err != nil {
		return Stats{}, err
	}
	defer db.Close()

	meta, err := readMeta(ctx, db)
	if err != nil {
		return Stats{}, err
	}
	st := Stats{
		Path:       path,
		BuiltAt:    meta.BuiltAt,
		EmbedModel: meta.EmbedModel,
		Dimension:  meta.Dimension,
	}
	err = db.QueryRowContext(ctx, `SELECT COUNT(*), COUNT(DISTINCT source_name) FROM chunks`).Scan(&st.Chunks, &st.Sources)
	if err != nil {
		return Stats{}, fmt.Errorf("counting chunks: %w", err)
	}
	if fi, err := os.Stat(path); err == nil {
		st.SizeBytes = fi.Size()
	}
	return st, nil
}

// sortByScore sorts ScoredChunks by Score descending. Used for small slices (topK).
func sortByScore(results []ScoredChunk) {
	for i := 1; i < len(results); i++ {
		for j := i; j > 0 && results[j].Score > results[j-1].Score; j-- {
			results[j], results[j-1] = results[j-1], results[j]
		}
	}
}

// encodeFloat32s serializes a float32 slice to little-endian bytes.
func encodeFloat32s(v []float32) []byte {
	buf := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
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

// idScoreHeap is a min-heap of idScore ordered by Score.
type idScoreHeap []idScore

func (h idScoreHeap) Len() int           { return len(h) }
func (h idScoreHeap) Less(i, j int) bool { return h[i].Score < h[j].Score }
func (h idScoreHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *idScoreHeap) Push(x any)        { *h = append(*h, x.(idScore)) }
func (h *idScoreHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}
