package vectordb

import (
	"context"
	"fmt"
	"net/http"
)

// Scroll returns up to limit points matching filter, without a query vector
func (c *Client) Scroll(ctx context.Context, collection string, filter *Filter, limit int) ([]Point, error) {
	points, _, err := c.ScrollPage(ctx, collection, filter, limit, nil)
	return points, err
}

// ScrollPage reads one page of points starting at offset, nil for the first
// page. next is the offset of the following page and nil on the last one.
func (c *Client) ScrollPage(ctx context.Context, collection string, filter *Filter, limit int, offset any) ([]Point, any, error) {
	if limit <= 0 {
		limit = 20
	}
	body := map[string]any{
		"limit":        limit,
		"with_payload": true,
	}
	if filter != nil {
		body["filter"] = filter
	}
	if offset != nil {
		body["offset"] = offset
	}
	var r struct {
		Result struct {
			Points         []wirePoint `json:"points"`
			NextPageOffset any         `json:"next_page_offset"`
		} `json:"result"`
	}
	if err := c.do(ctx, http.MethodPost, "/collections/"+collection+"/points/scroll", body, &r); err != nil {
		return nil, nil, fmt.Errorf("qdrant scroll: %w", err)
	}
	return toPoints(r.Result.Points), r.Result.NextPageOffset, nil
}
