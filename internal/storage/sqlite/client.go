package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/docqa/backend/internal/apperrors"
	"github.com/docqa/backend/internal/storage/models"
	"github.com/docqa/backend/pkg/logger"
)

type Client struct {
	db *sql.DB
}

func NewClient(dbPath string) (*Client, error) {
	if dir := filepath.Dir(dbPath); dir != "." && dbPath != ":memory:" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	// Connection settings go in the DSN so every pooled connection gets them.
	db, err := sql.Open("sqlite3", dbPath+"?_busy_timeout=5000&_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	logger.Info("SQLite client initialized", zap.String("path", dbPath))

	return &Client{db: db}, nil
}

func (c *Client) Close() error {
	return c.db.Close()
}

func (c *Client) Ping(ctx context.Context) error {
	return c.db.PingContext(ctx)
}

func (c *Client) InitSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS documents (
		id TEXT PRIMARY KEY,
		file_name TEXT UNIQUE NOT NULL,
		storage_ref TEXT NOT NULL,
		file_url TEXT NOT NULL,
		status TEXT NOT NULL,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_documents_created ON documents(created_at);

	CREATE TABLE IF NOT EXISTS chunks (
		id TEXT PRIMARY KEY,
		doc_id TEXT NOT NULL,
		page_number INTEGER NOT NULL,
		content TEXT NOT NULL,
		vector_id TEXT UNIQUE NOT NULL,
		created_at INTEGER NOT NULL,
		FOREIGN KEY (doc_id) REFERENCES documents(id)
	);
	CREATE INDEX IF NOT EXISTS idx_chunks_doc ON chunks(doc_id);
	`

	if _, err := c.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}

	logger.Info("SQLite schema initialized")
	return nil
}

func storeErr(op string, err error) error {
	return fmt.Errorf("%w: failed to %s: %w", apperrors.ErrMetadataStore, op, err)
}

func isUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	return errors.As(err, &sqliteErr) && sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique
}

// InsertDocument stores a new document. A second document with the same file
// name yields apperrors.ErrDuplicateDocument.
func (c *Client) InsertDocument(ctx context.Context, doc *models.Document) error {
	query := `
		INSERT INTO documents (id, file_name, storage_ref, file_url, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`

	_, err := c.db.ExecContext(ctx, query,
		doc.ID,
		doc.FileName,
		doc.StorageRef,
		doc.FileURL,
		string(doc.Status),
		doc.CreatedAt.UnixMilli(),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: %s", apperrors.ErrDuplicateDocument, doc.FileName)
		}
		return storeErr("insert document", err)
	}

	logger.Debug("Document inserted", zap.String("doc_id", doc.ID), zap.String("file_name", doc.FileName))
	return nil
}

const documentColumns = `id, file_name, storage_ref, file_url, status, created_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanDocument(row scanner, extra ...any) (*models.Document, error) {
	var doc models.Document
	var status string
	var createdAt int64

	dest := append([]any{&doc.ID, &doc.FileName, &doc.StorageRef, &doc.FileURL, &status, &createdAt}, extra...)
	if err := row.Scan(dest...); err != nil {
		return nil, err
	}

	doc.Status = models.DocumentStatus(status)
	doc.CreatedAt = time.UnixMilli(createdAt)
	return &doc, nil
}

func (c *Client) GetDocument(ctx context.Context, id string) (*models.Document, error) {
	row := c.db.QueryRowContext(ctx, `SELECT `+documentColumns+` FROM documents WHERE id = ?`, id)

	doc, err := scanDocument(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: document %s", apperrors.ErrNotFound, id)
	}
	if err != nil {
		return nil, storeErr("get document", err)
	}
	return doc, nil
}

func (c *Client) FindDocumentByFileName(ctx context.Context, fileName string) (*models.Document, error) {
	row := c.db.QueryRowContext(ctx, `SELECT `+documentColumns+` FROM documents WHERE file_name = ?`, fileName)

	doc, err := scanDocument(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: document %q", apperrors.ErrNotFound, fileName)
	}
	if err != nil {
		return nil, storeErr("find document", err)
	}
	return doc, nil
}

// ListDocuments returns every document newest first with its chunk count.
func (c *Client) ListDocuments(ctx context.Context) ([]models.DocumentSummary, error) {
	query := `
		SELECT d.id, d.file_name, d.storage_ref, d.file_url, d.status, d.created_at, COUNT(ch.id)
		FROM documents d
		LEFT JOIN chunks ch ON ch.doc_id = d.id
		GROUP BY d.id
		ORDER BY d.created_at DESC, d.rowid DESC
	`

	rows, err := c.db.QueryContext(ctx, query)
	if err != nil {
		return nil, storeErr("list documents", err)
	}
	defer rows.Close()

	summaries := make([]models.DocumentSummary, 0)
	for rows.Next() {
		var count int
		doc, err := scanDocument(rows, &count)
		if err != nil {
			return nil, storeErr("scan document", err)
		}
		summaries = append(summaries, models.DocumentSummary{Document: *doc, ChunkCount: count})
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("list documents", err)
	}

	return summaries, nil
}

// UpdateStatusIfProcessing moves a processing document to status. It reports
// false when the document is missing or already terminal, leaving it untouched.
func (c *Client) UpdateStatusIfProcessing(ctx context.Context, id string, status models.DocumentStatus) (bool, error) {
	res, err := c.db.ExecContext(ctx,
		`UPDATE documents SET status = ? WHERE id = ? AND status = ?`,
		string(status), id, string(models.StatusProcessing),
	)
	if err != nil {
		return false, storeErr("update document status", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, storeErr("update document status", err)
	}
	return n == 1, nil
}

// FailProcessingDocuments marks every document still in processing as failed.
// It is only safe before any ingestion worker has started.
func (c *Client) FailProcessingDocuments(ctx context.Context) (int64, error) {
	res, err := c.db.ExecContext(ctx,
		`UPDATE documents SET status = ? WHERE status = ?`,
		string(models.StatusFailed), string(models.StatusProcessing),
	)
	if err != nil {
		return 0, storeErr("fail stale documents", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return 0, storeErr("fail stale documents", err)
	}
	return n, nil
}

func (c *Client) DeleteDocument(ctx context.Context, id string) error {
	if _, err := c.db.ExecContext(ctx, `DELETE FROM documents WHERE id = ?`, id); err != nil {
		return storeErr("delete document", err)
	}
	return nil
}

func (c *Client) InsertChunk(ctx context.Context, chunk *models.Chunk) error {
	query := `INSERT INTO chunks (id, doc_id, page_number, content, vector_id, created_at) VALUES (?, ?, ?, ?, ?, ?)`

	_, err := c.db.ExecContext(ctx, query,
		chunk.ID,
		chunk.DocumentID,
		chunk.PageNumber,
		chunk.Content,
		chunk.VectorID,
		chunk.CreatedAt.UnixMilli(),
	)
	if err != nil {
		return storeErr("insert chunk", err)
	}
	return nil
}

func (c *Client) ListChunks(ctx context.Context, docID string) ([]models.Chunk, error) {
	rows, err := c.db.QueryContext(ctx,
		`SELECT id, doc_id, page_number, content, vector_id, created_at FROM chunks WHERE doc_id = ? ORDER BY page_number`,
		docID,
	)
	if err != nil {
		return nil, storeErr("list chunks", err)
	}
	defer rows.Close()

	var chunks []models.Chunk
	for rows.Next() {
		var ch models.Chunk
		var createdAt int64
		if err := rows.Scan(&ch.ID, &ch.DocumentID, &ch.PageNumber, &ch.Content, &ch.VectorID, &createdAt); err != nil {
			return nil, storeErr("scan chunk", err)
		}
		ch.CreatedAt = time.UnixMilli(createdAt)
		chunks = append(chunks, ch)
	}
	return chunks, rows.Err()
}

func (c *Client) DeleteChunksByDocument(ctx context.Context, docID string) (int64, error) {
	res, err := c.db.ExecContext(ctx, `DELETE FROM chunks WHERE doc_id = ?`, docID)
	if err != nil {
		return 0, storeErr("delete chunks", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// ChunkSources resolves vector ids to their chunk and owning document. Ids with
// no chunk row are absent from the result map.
func (c *Client) ChunkSources(ctx context.Context, vectorIDs []string) (map[string]models.ChunkSource, error) {
	sources := make(map[string]models.ChunkSource, len(vectorIDs))
	if len(vectorIDs) == 0 {
		return sources, nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(vectorIDs)), ",")
	args := make([]any, len(vectorIDs))
	for i, id := range vectorIDs {
		args[i] = id
	}

	query := `
		SELECT ch.vector_id, d.file_name, ch.page_number, ch.content, d.file_url
		FROM chunks ch
		JOIN documents d ON d.id = ch.doc_id
		WHERE ch.vector_id IN (` + placeholders + `)
	`

	rows, err := c.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, storeErr("resolve chunk sources", err)
	}
	defer rows.Close()

	for rows.Next() {
		var s models.ChunkSource
		if err := rows.Scan(&s.VectorID, &s.FileName, &s.PageNumber, &s.Content, &s.FileURL); err != nil {
			return nil, storeErr("scan chunk source", err)
		}
		sources[s.VectorID] = s
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("resolve chunk sources", err)
	}

	return sources, nil
}
