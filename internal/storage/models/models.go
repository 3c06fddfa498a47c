package models

import "time"

type DocumentStatus string

const (
	StatusProcessing DocumentStatus = "processing"
	StatusSuccess    DocumentStatus = "success"
	StatusFailed     DocumentStatus = "failed"
)

// Terminal reports whether no further transition is allowed from s.
func (s DocumentStatus) Terminal() bool {
	return s == StatusSuccess || s == StatusFailed
}

// Document is one uploaded source file and its processing status.
type Document struct {
	ID         string
	FileName   string
	StorageRef string
	FileURL    string
	Status     DocumentStatus
	CreatedAt  time.Time
}

// DocumentSummary is a Document annotated with its chunk count, as listed to clients.
type DocumentSummary struct {
	Document
	ChunkCount int
}

// Chunk is the text of one qualifying page, mirrored in the vector index under VectorID.
type Chunk struct {
	ID         string
	DocumentID string
	PageNumber int
	Content    string
	VectorID   string
	CreatedAt  time.Time
}

// ChunkSource is a Chunk joined to its owning Document.
type ChunkSource struct {
	VectorID   string
	FileName   string
	PageNumber int
	Content    string
	FileURL    string
}

// VectorRecord is one entry written to the vector index.
type VectorRecord struct {
	ID         string
	Embedding  []float32
	Content    string
	DocumentID string
	FileName   string
}

// VectorHit is one ranked query result. Content and Distance are nil when the
// index returned no value for them.
type VectorHit struct {
	ID       string
	Content  *string
	Distance *float64
}
