package delta

import (
	"encoding/json"
	"fmt"
	"net/url"
)

// GetPosition returns position for a specific product
func (c *Client) GetPosition(productID int) (*Position, error) {
	query := url.Values{}
	query.Set("product_id", fmt.Sprintf("%d", productID))

	resp, err := c.Get("/positions", query)
	if err != nil {
		return nil, err
	}

	var position Position
	if err := json.Unmarshal(resp.Result, &position); err != nil {
		return nil, fmt.Errorf("failed to parse position: %v", err)
	}

	return &position, nil
}

