package delta

import (
	"encoding/json"
	"fmt"
	"math"
	"net/url"
	"strconv"
)

// GetProducts returns list of all products
func (c *Client) GetProducts() ([]Product, error) {
	resp, err := c.Get("/products", nil)
	if err != nil {
		return nil, err
	}

	var products []Product
	if err := json.Unmarshal(resp.Result, &products); err != nil {
		return nil, fmt.Errorf("failed to parse products: %v", err)
	}

	return products, nil
}

// GetProductBySymbol returns a product by its symbol
func (c *Client) GetProductBySymbol(symbol string) (*Product, error) {
	resp, err := c.Get("/products/"+symbol, nil)
	if err != nil {
		return nil, err
	}

	var product Product
	if err := json.Unmarshal(resp.Result, &product); err != nil {
		return nil, fmt.Errorf("failed to parse product: %v", err)
	}

	return &product, nil
}

// GetTicker returns ticker for a symbol
func (c *Client) GetTicker(symbol string) (*Ticker, error) {
	resp, err := c.Get("/tickers/"+symbol, nil)
	if err != nil {
		return nil, err
	}

	var ticker Ticker
	if err := json.Unmarshal(resp.Result, &ticker); err != nil {
		return nil, fmt.Errorf("failed to parse ticker: %v", err)
	}

	return &ticker, nil
}

// PlaceOrder places a new order
func (c *Client) PlaceOrder(req *OrderRequest) (*Order, error) {
	resp, err := c.Post("/orders", req)
	if err != nil {
		return nil, err
	}

	var order Order
	if err := json.Unmarshal(resp.Result, &order); err != nil {
		return nil, fmt.Errorf("failed to parse order: %v", err)
	}

	return &order, nil
}

// CancelOrder cancels an order by ID using Delta v2 API (JSON body, not query params)
func (c *Client) CancelOrder(orderID int64, productID int) error {
	body := map[string]interface{}{
		"id":         orderID,
		"product_id": productID,
	}

	_, err := c.DeleteWithBody("/orders", body)
	return err
}

// CancelAllOrders cancels all open orders using Delta v2 API (JSON body)
func (c *Client) CancelAllOrders(productID int) error {
	body := map[string]interface{}{}
	if productID > 0 {
		body["product_id"] = productID
	}

	_, err := c.DeleteWithBody("/orders/all", body)
	return err
}

// GetActiveOrders returns all active orders
func (c *Client) GetActiveOrders(productID int) ([]Order, error) {
	query := url.Values{}
	query.Set("state", "open")
	if productID > 0 {
		query.Set("product_id", fmt.Sprintf("%d", productID))
	}

	resp, err := c.Get("/orders", query)
	if err != nil {
		return nil, err
	}

	var orders []Order
	if err := json.Unmarshal(resp.Result, &orders); err != nil {
		return nil, fmt.Errorf("failed to parse orders: %v", err)
	}

	return orders, nil
}

// GetOrderByID returns an order by ID
func (c *Client) GetOrderByID(orderID int64) (*Order, error) {
	resp, err := c.Get(fmt.Sprintf("/orders/%d", orderID), nil)
	if err != nil {
		return nil, err
	}

	var order Order
	if err := json.Unmarshal(resp.Result, &order); err != nil {
		return nil, fmt.Errorf("failed to parse order: %v", err)
	}

	return &order, nil
}

// SetLeverage sets leverage for a product using Delta v2 API
// Correct endpoint: POST /v2/products/{product_id}/orders/leverage
func (c *Client) SetLeverage(productID int, leverage int) error {
	body := map[string]interface{}{
		"leverage": fmt.Sprintf("%d", leverage), // Delta expects string
	}

	_, err := c.Post(fmt.Sprintf("/products/%d/orders/leverage", productID), body)
	return err
}

// RoundToTickSize rounds a price to the nearest valid tick size
func RoundToTickSize(price float64, tickSize string) (string, error) {
	return RoundToTickSizeWithDirection(price, tickSize, "nearest")
}

// RoundToTickSizeWithDirection rounds price to tick size with directional control
// direction: "up" (for sells), "down" (for buys), "nearest" (default)
func RoundToTickSizeWithDirection(price float64, tickSize string, direction string) (string, error) {
	tick, err := strconv.ParseFloat(tickSize, 64)
	if err != nil || tick <= 0 {
		return fmt.Sprintf("%.2f", price), nil
	}

	var rounded float64
	switch direction {
	case "down":
		rounded = math.Floor(price/tick) * tick
	case "up":
		rounded = math.Ceil(price/tick) * tick
	default:
		rounded = math.Round(price/tick) * tick
	}

	precision := 0
	if tick < 1 {
		tickStr := tickSize
		if idx := len(tickStr) - 1; idx > 0 {
			for i := len(tickStr) - 1; i >= 0; i-- {
				if tickStr[i] == '.' {
					precision = len(tickStr) - 1 - i
					break
				}
			}
		}
	}

	return strconv.FormatFloat(rounded, 'f', precision, 64), nil
}

// OrderRejectedError indicates an order was rejected by the exchange
type OrderRejectedError struct {
	OrderID int64
	Reason  string
}

func (e *OrderRejectedError) Error() string {
	return fmt.Sprintf("order %d rejected: %s", e.OrderID, e.Reason)
}
