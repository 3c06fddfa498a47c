package milvus

import (
	"context"
	"fmt"
	"strings"

	"github.com/milvus-io/milvus-sdk-go/v2/client"
	"github.com/milvus-io/milvus-sdk-go/v2/entity"
	"go.uber.org/zap"

	"github.com/docqa/backend/internal/apperrors"
	"github.com/docqa/backend/internal/storage/models"
	"github.com/docqa/backend/pkg/logger"
)

const (
	fieldVectorID  = "vector_id"
	fieldEmbedding = "embedding"
	fieldContent   = "content"
	fieldDocID     = "doc_id"
	fieldFileName  = "file_name"
)

type Client struct {
	client         client.Client
	collectionName string
	vectorDim      int
}

func NewClient(ctx context.Context, endpoint, apiKey, collectionName string, vectorDim int) (*Client, error) {
	c, err := client.NewClient(ctx, client.Config{
		Address: endpoint,
		APIKey:  apiKey,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: failed to create milvus client: %w", apperrors.ErrVectorIndex, err)
	}

	logger.Info("Milvus client initialized",
		zap.String("endpoint", endpoint),
		zap.String("collection", collectionName),
	)

	return &Client{
		client:         c,
		collectionName: collectionName,
		vectorDim:      vectorDim,
	}, nil
}

func (m *Client) Close() error {
	return m.client.Close()
}

func indexErr(op string, err error) error {
	return fmt.Errorf("%w: failed to %s: %w", apperrors.ErrVectorIndex, op, err)
}

// EnsureCollection creates, indexes and loads the collection if it does not exist yet.
func (m *Client) EnsureCollection(ctx context.Context) error {
	has, err := m.client.HasCollection(ctx, m.collectionName)
	if err != nil {
		return indexErr("check collection", err)
	}

	if has {
		logger.Info("Collection already exists", zap.String("collection", m.collectionName))
		return m.load(ctx)
	}

	schema := entity.NewSchema().
		WithName(m.collectionName).
		WithDescription("Document page embeddings").
		WithField(entity.NewField().WithName(fieldVectorID).WithDataType(entity.FieldTypeVarChar).
			WithIsPrimaryKey(true).WithMaxLength(256)).
		WithField(entity.NewField().WithName(fieldEmbedding).WithDataType(entity.FieldTypeFloatVector).
			WithDim(int64(m.vectorDim))).
		WithField(entity.NewField().WithName(fieldContent).WithDataType(entity.FieldTypeVarChar).
			WithMaxLength(65535)).
		WithField(entity.NewField().WithName(fieldDocID).WithDataType(entity.FieldTypeVarChar).
			WithMaxLength(64)).
		WithField(entity.NewField().WithName(fieldFileName).WithDataType(entity.FieldTypeVarChar).
			WithMaxLength(1024))

	if err := m.client.CreateCollection(ctx, schema, entity.DefaultShardNumber); err != nil {
		return indexErr("create collection", err)
	}

	idx, err := entity.NewIndexIvfFlat(entity.L2, 1024)
	if err != nil {
		return indexErr("build index params", err)
	}
	if err := m.client.CreateIndex(ctx, m.collectionName, fieldEmbedding, idx, false); err != nil {
		return indexErr("create index", err)
	}

	logger.Info("Collection created", zap.String("collection", m.collectionName))
	return m.load(ctx)
}

func (m *Client) load(ctx context.Context) error {
	if err := m.client.LoadCollection(ctx, m.collectionName, false); err != nil {
		return indexErr("load collection", err)
	}
	return nil
}

func (m *Client) Ping(ctx context.Context) error {
	if _, err := m.client.HasCollection(ctx, m.collectionName); err != nil {
		return indexErr("reach milvus", err)
	}
	return nil
}

func (m *Client) Add(ctx context.Context, rec models.VectorRecord) error {
	_, err := m.client.Insert(
		ctx,
		m.collectionName,
		"",
		entity.NewColumnVarChar(fieldVectorID, []string{rec.ID}),
		entity.NewColumnFloatVector(fieldEmbedding, m.vectorDim, [][]float32{rec.Embedding}),
		entity.NewColumnVarChar(fieldContent, []string{rec.Content}),
		entity.NewColumnVarChar(fieldDocID, []string{rec.DocumentID}),
		entity.NewColumnVarChar(fieldFileName, []string{rec.FileName}),
	)
	if err != nil {
		return indexErr("insert vector", err)
	}

	logger.Debug("Vector inserted", zap.String("vector_id", rec.ID), zap.String("doc_id", rec.DocumentID))
	return nil
}

// Flush seals the vectors inserted so far. Call it once per document rather
// than per insert.
func (m *Client) Flush(ctx context.Context) error {
	if err := m.client.Flush(ctx, m.collectionName, false); err != nil {
		return indexErr("flush", err)
	}
	return nil
}

// Query returns up to topK nearest vectors in rank order. A non-empty docID
// restricts the search to that document's vectors.
func (m *Client) Query(ctx context.Context, embedding []float32, topK int, docID string) ([]models.VectorHit, error) {
	expr := ""
	if docID != "" {
		expr = docIDExpr(docID)
	}

	sp, _ := entity.NewIndexIvfFlatSearchParam(16)

	searchResult, err := m.client.Search(
		ctx,
		m.collectionName,
		[]string{},
		expr,
		[]string{fieldContent},
		[]entity.Vector{entity.FloatVector(embedding)},
		fieldEmbedding,
		entity.L2,
		topK,
		sp,
	)
	if err != nil {
		return nil, indexErr("search", err)
	}

	hits := make([]models.VectorHit, 0, topK)
	for _, sr := range searchResult {
		contentCol, _ := sr.Fields.GetColumn(fieldContent).(*entity.ColumnVarChar)

		for i := 0; i < sr.ResultCount; i++ {
			id, err := sr.IDs.GetAsString(i)
			if err != nil {
				return nil, indexErr("read result id", err)
			}

			hit := models.VectorHit{ID: id}
			if contentCol != nil {
				if content, err := contentCol.ValueByIdx(i); err == nil {
					hit.Content = &content
				}
			}
			if i < len(sr.Scores) {
				d := float64(sr.Scores[i])
				hit.Distance = &d
			}
			hits = append(hits, hit)
		}
	}

	logger.Debug("Vector search completed",
		zap.Int("topK", topK),
		zap.Int("results", len(hits)),
		zap.String("filter", expr),
	)

	return hits, nil
}

// DeleteByDocument removes every vector whose doc_id metadata equals docID.
func (m *Client) DeleteByDocument(ctx context.Context, docID string) error {
	if err := m.client.Delete(ctx, m.collectionName, "", docIDExpr(docID)); err != nil {
		return indexErr("delete document vectors", err)
	}
	logger.Info("Document vectors deleted", zap.String("doc_id", docID))
	return nil
}

func (m *Client) DeleteByIDs(ctx context.Context, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}
	if err := m.client.Delete(ctx, m.collectionName, "", vectorIDsExpr(ids)); err != nil {
		return indexErr("delete vectors", err)
	}
	return nil
}

func vectorIDsExpr(ids []string) string {
	quoted := make([]string, len(ids))
	for i, id := range ids {
		quoted[i] = fmt.Sprintf("%q", id)
	}
	return fmt.Sprintf("%s in [%s]", fieldVectorID, strings.Join(quoted, ", "))
}

func docIDExpr(docID string) string {
	return fmt.Sprintf("%s == %q", fieldDocID, docID)
}
