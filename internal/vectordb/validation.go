package vectordb

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"go.uber.org/zap"
)

// DimensionMismatchError is returned when embedding dimensions don't match collection dimensions
type DimensionMismatchError struct {
	Collection        string
	ExpectedDimension int
	ReceivedDimension int
}

func (e DimensionMismatchError) Error() string {
	return fmt.Sprintf("dimension mismatch for collection %s: expected %d, got %d; check the embedding model or recreate the collection",
		e.Collection, e.ExpectedDimension, e.ReceivedDimension)
}

// CollectionInfo holds basic information about a Qdrant collection
type CollectionInfo struct {
	Name        string
	VectorSize  int
	PointsCount int64
}

// GetCollectionInfo reads vector size and point count; ErrNotFound when absent
func (c *Client) GetCollectionInfo(ctx context.Context, collection string) (*CollectionInfo, error) {
	var result struct {
		Result struct {
			PointsCount int64 `json:"points_count"`
			Config      struct {
				Params struct {
					Vectors struct {
						Size int `json:"size"`
					} `json:"vectors"`
				} `json:"params"`
			} `json:"config"`
		} `json:"result"`
	}
	if err := c.do(ctx, http.MethodGet, "/collections/"+collection, nil, &result); err != nil {
		return nil, err
	}
	return &CollectionInfo{
		Name:        collection,
		VectorSize:  result.Result.Config.Params.Vectors.Size,
		PointsCount: result.Result.PointsCount,
	}, nil
}

// EnsureCollection creates collection with dims-sized vectors when missing
// and otherwise validates its dimension against ExpectedDim.
func (c *Client) EnsureCollection(ctx context.Context, collection string, dims int) error {
	info, err := c.GetCollectionInfo(ctx, collection)
	if errors.Is(err, ErrNotFound) {
		body := map[string]any{
			"vectors": map[string]any{"size": dims, "distance": c.cfg.Distance},
		}
		if err := c.do(ctx, http.MethodPut, "/collections/"+collection, body, nil); err != nil {
			return fmt.Errorf("create collection %s: %w", collection, err)
		}
		c.log.Info("Created Qdrant collection",
			zap.String("collection", collection),
			zap.Int("dimension", dims))
		return nil
	}
	if err != nil {
		return fmt.Errorf("get collection %s: %w", collection, err)
	}
	return c.validate(info)
}

// ValidateDimensions checks collections against ExpectedDim
func (c *Client) ValidateDimensions(ctx context.Context, collections ...string) error {
	for _, collection := range collections {
		info, err := c.GetCollectionInfo(ctx, collection)
		if err != nil {
			c.log.Warn("Failed to get collection info during validation",
				zap.String("collection", collection),
				zap.Error(err))
			continue
		}
		if err := c.validate(info); err != nil {
			return err
		}
	}
	return nil
}

func (c *Client) validate(info *CollectionInfo) error {
	if c.cfg.ExpectedDim > 0 && info.VectorSize != c.cfg.ExpectedDim {
		return DimensionMismatchError{
			Collection:        info.Name,
			ExpectedDimension: c.cfg.ExpectedDim,
			ReceivedDimension: info.VectorSize,
		}
	}
	c.log.Debug("Collection dimension validated",
		zap.String("collection", info.Name),
		zap.Int("dimension", info.VectorSize))
	return nil
}
