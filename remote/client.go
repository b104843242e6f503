package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"bitbucket.org/mmdatafocus/pos_sync_core/models"
	"bitbucket.org/mmdatafocus/pos_sync_core/utils"
)

// Client is the adapter for the authoritative backend: sales, sale items,
// expenses, purchases, purchase items and inventory stock levels.
//
// Every call goes through one http.Client with a hard timeout, so a hung
// connection can never wedge a reconciliation pass.
type Client struct {
	baseURL   string
	apiKey    string
	apiKeyHdr string
	http      *http.Client
}

func NewClient() (*Client, error) {
	baseURL := strings.TrimSpace(os.Getenv("POS_API_BASE_URL"))
	if baseURL == "" {
		return nil, errors.New("POS_API_BASE_URL is required")
	}
	apiKeyHeader := strings.TrimSpace(os.Getenv("POS_API_KEY_HEADER"))
	if apiKeyHeader == "" {
		apiKeyHeader = "X-API-Key"
	}
	apiKey := strings.TrimSpace(os.Getenv("POS_API_KEY"))
	if apiKey == "" {
		return nil, errors.New("POS_API_KEY is empty")
	}

	timeout := 30 * time.Second
	if v := strings.TrimSpace(os.Getenv("POS_API_TIMEOUT_SECONDS")); v != "" {
		if n, err := time.ParseDuration(v + "s"); err == nil && n > 0 {
			timeout = n
		}
	}

	return &Client{
		baseURL:   strings.TrimRight(baseURL, "/"),
		apiKey:    apiKey,
		apiKeyHdr: apiKeyHeader,
		http:      &http.Client{Timeout: timeout},
	}, nil
}

func (c *Client) do(ctx context.Context, method, path string, params url.Values, body any, out any) (int, error) {
	endpoint := c.baseURL + path
	if len(params) > 0 {
		endpoint = endpoint + "?" + params.Encode()
	}

	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return 0, err
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reqBody)
	if err != nil {
		return 0, err
	}
	req.Header.Set(c.apiKeyHdr, c.apiKey)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	data, _ := io.ReadAll(resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return resp.StatusCode, fmt.Errorf("pos api error %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}
	if out != nil && len(data) > 0 {
		if err := json.Unmarshal(data, out); err != nil {
			return resp.StatusCode, err
		}
	}
	return resp.StatusCode, nil
}

// Health probes the backend. Used by the connectivity monitor.
func (c *Client) Health(ctx context.Context) error {
	_, err := c.do(ctx, http.MethodGet, "/v1/health", nil, nil, nil)
	return err
}

func originParams(createdBy, logicalTimestamp string) url.Values {
	params := url.Values{}
	params.Set("created_by", createdBy)
	params.Set("created_at", logicalTimestamp)
	return params
}

// FindSaleByOrigin looks a sale up by its idempotency key
// (createdBy, logicalTimestamp). Returns nil when absent.
func (c *Client) FindSaleByOrigin(ctx context.Context, createdBy, logicalTimestamp string) (*models.RemoteSale, error) {
	var found []models.RemoteSale
	if _, err := c.do(ctx, http.MethodGet, "/v1/sales", originParams(createdBy, logicalTimestamp), nil, &found); err != nil {
		return nil, &utils.RemoteWriteError{Op: "find sale", Err: err}
	}
	if len(found) == 0 {
		return nil, nil
	}
	return &found[0], nil
}

func (c *Client) InsertSale(ctx context.Context, sale models.RemoteSale) (models.RemoteSale, error) {
	var created models.RemoteSale
	if _, err := c.do(ctx, http.MethodPost, "/v1/sales", nil, sale, &created); err != nil {
		return models.RemoteSale{}, &utils.RemoteWriteError{Op: "insert sale", Err: err}
	}
	return created, nil
}

func (c *Client) InsertSaleItem(ctx context.Context, item models.RemoteSaleItem) error {
	path := fmt.Sprintf("/v1/sales/%s/items", url.PathEscape(item.SaleId))
	if _, err := c.do(ctx, http.MethodPost, path, nil, item, nil); err != nil {
		return &utils.RemoteWriteError{Op: "insert sale item", Err: err}
	}
	return nil
}

func (c *Client) FindExpenseByOrigin(ctx context.Context, createdBy, logicalTimestamp string) (*models.RemoteExpense, error) {
	var found []models.RemoteExpense
	if _, err := c.do(ctx, http.MethodGet, "/v1/expenses", originParams(createdBy, logicalTimestamp), nil, &found); err != nil {
		return nil, &utils.RemoteWriteError{Op: "find expense", Err: err}
	}
	if len(found) == 0 {
		return nil, nil
	}
	return &found[0], nil
}

func (c *Client) InsertExpense(ctx context.Context, expense models.RemoteExpense) (models.RemoteExpense, error) {
	var created models.RemoteExpense
	if _, err := c.do(ctx, http.MethodPost, "/v1/expenses", nil, expense, &created); err != nil {
		return models.RemoteExpense{}, &utils.RemoteWriteError{Op: "insert expense", Err: err}
	}
	return created, nil
}

func (c *Client) FindPurchaseByOrigin(ctx context.Context, createdBy, logicalTimestamp string) (*models.RemotePurchase, error) {
	var found []models.RemotePurchase
	if _, err := c.do(ctx, http.MethodGet, "/v1/purchases", originParams(createdBy, logicalTimestamp), nil, &found); err != nil {
		return nil, &utils.RemoteWriteError{Op: "find purchase", Err: err}
	}
	if len(found) == 0 {
		return nil, nil
	}
	return &found[0], nil
}

func (c *Client) InsertPurchase(ctx context.Context, purchase models.RemotePurchase) (models.RemotePurchase, error) {
	var created models.RemotePurchase
	if _, err := c.do(ctx, http.MethodPost, "/v1/purchases", nil, purchase, &created); err != nil {
		return models.RemotePurchase{}, &utils.RemoteWriteError{Op: "insert purchase", Err: err}
	}
	return created, nil
}

func (c *Client) InsertPurchaseItem(ctx context.Context, item models.RemotePurchaseItem) error {
	path := fmt.Sprintf("/v1/purchases/%s/items", url.PathEscape(item.PurchaseId))
	if _, err := c.do(ctx, http.MethodPost, path, nil, item, nil); err != nil {
		return &utils.RemoteWriteError{Op: "insert purchase item", Err: err}
	}
	return nil
}

func (c *Client) GetStock(ctx context.Context, productId string) (int, error) {
	var level models.InventoryLevel
	path := "/v1/inventory/" + url.PathEscape(productId)
	if _, err := c.do(ctx, http.MethodGet, path, nil, nil, &level); err != nil {
		return 0, &utils.RemoteWriteError{Op: "get stock", Err: err}
	}
	return level.Stock, nil
}

type stockUpdate struct {
	Stock         int `json:"stock"`
	ExpectedStock int `json:"expected_stock"`
}

// UpdateStockGuarded writes a new stock value guarded by the expected
// current value. The backend rejects the write with 409 when the guard
// fails; callers re-read and retry a bounded number of times. This is the
// conditional form of the read-then-write stock adjustment.
func (c *Client) UpdateStockGuarded(ctx context.Context, productId string, expected, next int) error {
	path := "/v1/inventory/" + url.PathEscape(productId)
	status, err := c.do(ctx, http.MethodPatch, path, nil, stockUpdate{Stock: next, ExpectedStock: expected}, nil)
	if status == http.StatusConflict {
		return utils.ErrStockConflict
	}
	if err != nil {
		return &utils.RemoteWriteError{Op: "update stock", Err: err}
	}
	return nil
}

// ListStock returns all current stock levels; the projection refresh
// uses this as the authoritative snapshot.
func (c *Client) ListStock(ctx context.Context) ([]models.InventoryLevel, error) {
	var levels []models.InventoryLevel
	if _, err := c.do(ctx, http.MethodGet, "/v1/inventory", nil, nil, &levels); err != nil {
		return nil, &utils.RemoteWriteError{Op: "list stock", Err: err}
	}
	return levels, nil
}
