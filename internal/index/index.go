// Package index implements the namespaced nearest-neighbor index over
// schema fragments. Records live in a single sqlite database; distance is
// computed by the vec_dist scalar function registered in the vec package.
// sqlite gives the index real deletion, so dropping a namespace is an actual
// DELETE rather than a tombstone layer, and every mutation is committed
// before the call returns.
package index

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/quillql/quill/internal/index/vec"
	_ "modernc.org/sqlite"
)

// Schema is the sqlite DDL for the record store.
const Schema = `
CREATE TABLE IF NOT EXISTS records
(
    id   TEXT PRIMARY KEY,

    namespace TEXT NOT NULL,

    content TEXT NOT NULL,
    metadata TEXT NOT NULL,

    embedding_model TEXT,
    embedding BLOB NOT NULL,

    created_at INTEGER DEFAULT (strftime('%s', 'now'))
);
CREATE INDEX IF NOT EXISTS idx_records_namespace ON records (namespace);
`

// DefaultOverfetch is the multiplier applied to k before metadata
// filtering. Distance ordering happens before the filter runs, so the
// search pulls overfetch*k candidates and filters down; fewer than k
// survivors is normal, not an error. Tunable, not a guarantee.
const DefaultOverfetch = 2

// Embedder maps text to a fixed-length vector. Failures are returned as
// errors for the caller to translate, never panics.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float64, error)
	Model() string
}

// Document is a fragment ready for insertion: the text that gets embedded
// plus its retrieval metadata.
type Document struct {
	Text     string
	Metadata map[string]string
}

// Record is a stored fragment. Distance is populated on search results,
// ascending, lower is more similar.
type Record struct {
	ID        string
	Namespace string
	Content   string
	Metadata  map[string]string
	Embedding []float64
	Distance  float64
}

// Index is the sqlite-backed vector index.
type Index struct {
	db        *sql.DB
	embedder  Embedder
	overfetch int
	log       *slog.Logger
}

// Open opens (or creates) the index database at path. An absent file simply
// starts an empty index.
func Open(path string, embedder Embedder, logger *slog.Logger) (*Index, error) {
	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open index database, %s: %w", "file://"+path, err)
	}
	if _, err := conn.Exec(Schema); err != nil {
		return nil, fmt.Errorf("failed to create index schema: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Index{
		db:        conn,
		embedder:  embedder,
		overfetch: DefaultOverfetch,
		log:       logger,
	}, nil
}

// SetOverfetch adjusts the candidate multiplier used by Search.
func (ix *Index) SetOverfetch(multiplier int) {
	if multiplier > 0 {
		ix.overfetch = multiplier
	}
}

// Close releases the underlying database handle.
func (ix *Index) Close() error {
	return ix.db.Close()
}

// Add embeds each document and inserts the batch for the given namespace in
// one transaction. Metadata is tagged with the namespace before insertion.
// Nothing becomes visible, on disk or to readers, unless the whole batch
// commits.
func (ix *Index) Add(ctx context.Context, namespace string, docs []Document) error {
	if len(docs) == 0 {
		ix.log.Warn("no documents to add", "namespace", namespace)
		return nil
	}

	type row struct {
		id       string
		content  string
		metadata []byte
		vector   []byte
	}

	// Embed before opening the transaction; embedding is the slow and
	// fallible part and must not hold the write lock.
	rows := make([]row, 0, len(docs))
	for _, doc := range docs {
		vector, err := ix.embedder.Embed(ctx, doc.Text)
		if err != nil {
			return fmt.Errorf("failed to embed document: %w", err)
		}

		metadata := map[string]string{}
		for k, v := range doc.Metadata {
			metadata[k] = v
		}
		metadata["namespace"] = namespace

		metabytes, err := json.Marshal(metadata)
		if err != nil {
			return fmt.Errorf("failed to marshal metadata: %w", err)
		}

		rows = append(rows, row{
			id:       uuid.NewString(),
			content:  doc.Text,
			metadata: metabytes,
			vector:   vec.EncodeVector(vector),
		})
	}

	tx, err := ix.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	const insert = `
INSERT INTO records (id, namespace, content, metadata, embedding_model, embedding)
VALUES (?, ?, ?, ?, ?, ?)
`
	for _, r := range rows {
		if _, err := tx.ExecContext(ctx, insert,
			r.id,
			namespace,
			r.content,
			r.metadata,
			ix.embedder.Model(),
			r.vector,
		); err != nil {
			return fmt.Errorf("failed to insert record: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit records: %w", err)
	}

	ix.log.Debug("added records", "namespace", namespace, "count", len(rows))
	return nil
}

// Search returns up to k records ranked by ascending distance to the query
// vector. filters is an exact-match conjunction over metadata fields,
// applied after retrieval: distance ordering has no filter pushdown, so the
// query over-fetches overfetch*k candidates first. May return fewer than k
// records when the filter thins the candidates out.
func (ix *Index) Search(ctx context.Context, vector []float64, k int, filters map[string]string) ([]Record, error) {
	if k <= 0 {
		return nil, nil
	}

	const search = `
SELECT id, namespace, content, metadata, embedding, vec_dist(?, embedding) AS dist
FROM records
ORDER BY dist
LIMIT ?
`
	rows, err := ix.db.QueryContext(ctx, search,
		vec.EncodeVector(vector),
		k*ix.overfetch,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query records: %w", err)
	}
	defer rows.Close()

	var items []Record
	for rows.Next() {
		var r Record
		var metabytes []byte
		var vecbytes []byte
		if err := rows.Scan(
			&r.ID,
			&r.Namespace,
			&r.Content,
			&metabytes,
			&vecbytes,
			&r.Distance,
		); err != nil {
			return nil, err
		}

		if err := json.Unmarshal(metabytes, &r.Metadata); err != nil {
			return nil, fmt.Errorf("failed to decode metadata: %w", err)
		}
		r.Embedding, err = vec.DecodeVector(vecbytes)
		if err != nil {
			return nil, fmt.Errorf("failed decoding embedding vector: %w", err)
		}

		if !matches(r.Metadata, filters) {
			continue
		}
		items = append(items, r)
		if len(items) >= k {
			break
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	ix.log.Debug("search complete", "k", k, "returned", len(items))
	return items, nil
}

// DeleteNamespace removes every record tagged with the namespace and
// reports how many were dropped.
func (ix *Index) DeleteNamespace(ctx context.Context, namespace string) (int64, error) {
	res, err := ix.db.ExecContext(ctx, `DELETE FROM records WHERE namespace = ?`, namespace)
	if err != nil {
		return 0, fmt.Errorf("failed to delete namespace %q: %w", namespace, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	if n > 0 {
		ix.log.Debug("deleted namespace records", "namespace", namespace, "count", n)
	}
	return n, nil
}

// Count returns the number of records stored for a namespace.
func (ix *Index) Count(ctx context.Context, namespace string) (int64, error) {
	row := ix.db.QueryRowContext(ctx, `SELECT count(*) FROM records WHERE namespace = ?`, namespace)
	var n int64
	if err := row.Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

func matches(metadata, filters map[string]string) bool {
	for key, want := range filters {
		if metadata[key] != want {
			return false
		}
	}
	return true
}
