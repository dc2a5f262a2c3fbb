package zilliz

import (
	"context"
	"fmt"

	"github.com/milvus-io/milvus-sdk-go/v2/client"
	"github.com/milvus-io/milvus-sdk-go/v2/entity"
	"go.uber.org/zap"

	"github.com/papertrend/backend/internal/similarity"
	"github.com/papertrend/backend/internal/vector"
	"github.com/papertrend/backend/pkg/logger"
)

// Client indexes question embeddings in a Zilliz/Milvus collection.
// Vectors are unit-normalized before insertion so inner-product scores
// equal cosine similarity.
type Client struct {
	client         client.Client
	collectionName string
	vectorDim      int
}

func NewClient(endpoint, apiKey, collectionName string, vectorDim int) (*Client, error) {
	c, err := client.NewGrpcClient(
		context.Background(),
		endpoint,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create milvus client: %w", err)
	}

	logger.Info("Zilliz/Milvus client initialized",
		zap.String("endpoint", endpoint),
		zap.String("collection", collectionName),
	)

	return &Client{
		client:         c,
		collectionName: collectionName,
		vectorDim:      vectorDim,
	}, nil
}

func (z *Client) Close() error {
	return z.client.Close()
}

func (z *Client) CreateCollection(ctx context.Context) error {
	has, err := z.client.HasCollection(ctx, z.collectionName)
	if err != nil {
		return fmt.Errorf("failed to check collection: %w", err)
	}

	if has {
		logger.Info("Collection already exists", zap.String("collection", z.collectionName))
		return nil
	}

	schema := &entity.Schema{
		CollectionName: z.collectionName,
		Description:    "Normalized exam question embeddings",
		Fields: []*entity.Field{
			{
				Name:       "question_id",
				DataType:   entity.FieldTypeVarChar,
				PrimaryKey: true,
				AutoID:     false,
				TypeParams: map[string]string{
					"max_length": "64",
				},
			},
			{
				Name:     "embedding",
				DataType: entity.FieldTypeFloatVector,
				TypeParams: map[string]string{
					"dim": fmt.Sprintf("%d", z.vectorDim),
				},
			},
		},
	}

	err = z.client.CreateCollection(ctx, schema, entity.DefaultShardNumber)
	if err != nil {
		return fmt.Errorf("failed to create collection: %w", err)
	}

	idx, _ := entity.NewIndexIvfFlat(entity.IP, 1024)
	err = z.client.CreateIndex(ctx, z.collectionName, "embedding", idx, false)
	if err != nil {
		return fmt.Errorf("failed to create index: %w", err)
	}

	err = z.client.LoadCollection(ctx, z.collectionName, false)
	if err != nil {
		return fmt.Errorf("failed to load collection: %w", err)
	}

	logger.Info("Collection created and loaded", zap.String("collection", z.collectionName))

	return nil
}

func (z *Client) Add(ctx context.Context, id string, embedding []float32) error {
	normalized := similarity.Normalize(embedding)

	_, err := z.client.Insert(
		ctx,
		z.collectionName,
		"",
		entity.NewColumnVarChar("question_id", []string{id}),
		entity.NewColumnFloatVector("embedding", z.vectorDim, [][]float32{normalized}),
	)
	if err != nil {
		return fmt.Errorf("failed to insert embedding: %w", err)
	}

	err = z.client.Flush(ctx, z.collectionName, false)
	if err != nil {
		return fmt.Errorf("failed to flush: %w", err)
	}

	return nil
}

func (z *Client) Neighbors(ctx context.Context, embedding []float32, limit int) ([]vector.Neighbor, error) {
	normalized := similarity.Normalize(embedding)

	sp, _ := entity.NewIndexIvfFlatSearchParam(16)

	searchResult, err := z.client.Search(
		ctx,
		z.collectionName,
		[]string{},
		"",
		[]string{"question_id"},
		[]entity.Vector{entity.FloatVector(normalized)},
		"embedding",
		entity.IP,
		limit,
		sp,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to search: %w", err)
	}

	neighbors := make([]vector.Neighbor, 0)
	for _, sr := range searchResult {
		idCol := sr.Fields.GetColumn("question_id")
		for i := 0; i < sr.ResultCount; i++ {
			id, _ := idCol.Get(i)
			neighbors = append(neighbors, vector.Neighbor{
				ID:    id.(string),
				Score: float64(sr.Scores[i]),
			})
		}
	}

	logger.Debug("Vector search completed",
		zap.Int("limit", limit),
		zap.Int("results", len(neighbors)),
	)

	return neighbors, nil
}
