package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/brojonat/pentacle/service/nft"
	"github.com/brojonat/pentacle/service/sned"
)

// BatchAccepted is the server's answer to a new batch.
type BatchAccepted struct {
	BatchID    string                 `json:"batch_id"`
	WorkflowID string                 `json:"workflow_id"`
	Requests   []sned.TransferRequest `json:"requests"`
}

// Batch is a stored batch with its outcomes and report rows.
type Batch struct {
	ID            string             `json:"id"`
	Payer         string             `json:"payer"`
	Memo          string             `json:"memo"`
	Status        string             `json:"status"` // pending, completed, aborted
	WorkflowID    *string            `json:"workflow_id,omitempty"`
	RequestCount  int                `json:"request_count"`
	TotalLamports uint64             `json:"total_lamports"`
	Error         *string            `json:"error,omitempty"`
	CreatedAt     time.Time          `json:"created_at"`
	CompletedAt   *time.Time         `json:"completed_at,omitempty"`
	Outcomes      []sned.Outcome     `json:"outcomes"`
	Entries       []sned.ReportEntry `json:"entries"`
}

// NFTPage is one page of a wallet's NFTs.
type NFTPage struct {
	Owner   string         `json:"owner"`
	Total   int            `json:"total"`
	Page    int            `json:"page"`
	PerPage int            `json:"per_page"`
	Pages   int            `json:"pages"`
	NFTs    []nft.Metadata `json:"nfts"`
}

// Balance is a wallet's SOL balance.
type Balance struct {
	Address  string    `json:"address"`
	Lamports uint64    `json:"lamports"`
	SOL      string    `json:"sol"`
	AsOf     time.Time `json:"as_of"`
}

// StuckSOL is the SOL held by an authority's candy machine accounts.
type StuckSOL struct {
	Authority string   `json:"authority"`
	Accounts  []string `json:"accounts"`
	Lamports  uint64   `json:"lamports"`
	SOL       string   `json:"sol"`
	Message   string   `json:"message"`
}

// APIError is a non-2xx response from the server.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("request failed with status %d: %s", e.StatusCode, e.Message)
}

// Client is the HTTP client for the pentacle API.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient creates a new API client.
func NewClient(baseURL string, httpClient *http.Client, logger *slog.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	return &Client{
		baseURL:    baseURL,
		httpClient: httpClient,
		logger:     logger,
	}
}

// CreateBatch asks the server to send amountSOL to every address in
// addresses, which may be in any format the server's address parser accepts.
func (c *Client) CreateBatch(ctx context.Context, addresses, amountSOL string) (*BatchAccepted, error) {
	body := map[string]string{
		"addresses":  addresses,
		"amount_sol": amountSOL,
	}
	var out BatchAccepted
	if err := c.do(ctx, http.MethodPost, "/api/v1/batches", body, http.StatusAccepted, &out); err != nil {
		return nil, err
	}
	c.logger.Debug("batch created", "batch_id", out.BatchID, "requests", len(out.Requests))
	return &out, nil
}

// GetBatch retrieves a stored batch.
func (c *Client) GetBatch(ctx context.Context, id string) (*Batch, error) {
	var out Batch
	if err := c.do(ctx, http.MethodGet, "/api/v1/batches/"+url.PathEscape(id), nil, http.StatusOK, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// NFTs retrieves one page of the NFTs owner holds. Zero page or perPage
// uses the server default.
func (c *Client) NFTs(ctx context.Context, owner string, page, perPage int) (*NFTPage, error) {
	q := url.Values{}
	if page > 0 {
		q.Set("page", strconv.Itoa(page))
	}
	if perPage > 0 {
		q.Set("per_page", strconv.Itoa(perPage))
	}
	path := "/api/v1/wallets/" + url.PathEscape(owner) + "/nfts"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}

	var out NFTPage
	if err := c.do(ctx, http.MethodGet, path, nil, http.StatusOK, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Mints lists the mints owner holds.
func (c *Client) Mints(ctx context.Context, owner string) ([]string, error) {
	var out struct {
		Mints []string `json:"mints"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/v1/wallets/"+url.PathEscape(owner)+"/mints", nil, http.StatusOK, &out); err != nil {
		return nil, err
	}
	return out.Mints, nil
}

// Balance retrieves the SOL balance of address.
func (c *Client) Balance(ctx context.Context, address string) (*Balance, error) {
	var out Balance
	if err := c.do(ctx, http.MethodGet, "/api/v1/wallets/"+url.PathEscape(address)+"/balance", nil, http.StatusOK, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// StuckSOL retrieves the SOL held by authority's candy machine accounts.
func (c *Client) StuckSOL(ctx context.Context, authority string) (*StuckSOL, error) {
	var out StuckSOL
	if err := c.do(ctx, http.MethodGet, "/api/v1/wallets/"+url.PathEscape(authority)+"/stuck-sol", nil, http.StatusOK, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Metadata resolves metadata for mints, in order.
func (c *Client) Metadata(ctx context.Context, mints ...string) ([]nft.Metadata, error) {
	q := url.Values{"mint": mints}
	var out struct {
		Metadata []nft.Metadata `json:"metadata"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/v1/metadata?"+q.Encode(), nil, http.StatusOK, &out); err != nil {
		return nil, err
	}
	return out.Metadata, nil
}

// Health checks that the server is up.
func (c *Client) Health(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/health", nil, http.StatusOK, nil)
}

func (c *Client) do(ctx context.Context, method, path string, in any, want int, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != want {
		return c.parseErrorResponse(resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// parseErrorResponse attempts to parse an error response from the server.
func (c *Client) parseErrorResponse(resp *http.Response) error {
	var errResp struct {
		Error string `json:"error"`
	}

	body, _ := io.ReadAll(resp.Body)
	if err := json.Unmarshal(body, &errResp); err != nil || errResp.Error == "" {
		return &APIError{StatusCode: resp.StatusCode, Message: string(body)}
	}

	return &APIError{StatusCode: resp.StatusCode, Message: errResp.Error}
}
