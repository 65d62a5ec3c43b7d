// Package oracle is the HTTP client for the off-chain price service that
// signs the updates the vault-manager contract consumes on-chain.
package oracle

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/clearhedge/futuresd/internal/domain"
)

// Client talks to a Hermes-compatible price service over HTTP.
type Client struct {
	endpoint   string
	httpClient *http.Client
}

// NewClient creates a price-service client.
//
// endpoint is the service base URL, e.g. "https://hermes.pyth.network".
func NewClient(endpoint string) *Client {
	return &Client{
		endpoint: strings.TrimRight(endpoint, "/"),
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// latestResponse is the price service's response envelope for the latest
// price updates endpoint.
type latestResponse struct {
	Binary struct {
		Encoding string   `json:"encoding"`
		Data     []string `json:"data"`
	} `json:"binary"`
	Parsed []struct {
		ID    string `json:"id"`
		Price struct {
			Price       string `json:"price"`
			Expo        int32  `json:"expo"`
			PublishTime int64  `json:"publish_time"`
		} `json:"price"`
	} `json:"parsed"`
}

// PriceUpdateData returns the signed binary payloads for the given feed ids.
// The payloads go straight into the updateOracle leg of a bundle.
func (c *Client) PriceUpdateData(ctx context.Context, feedIDs []string) ([][]byte, error) {
	if len(feedIDs) == 0 {
		return nil, domain.ErrEmptyOracleUpdate
	}

	resp, err := c.fetchLatest(ctx, feedIDs)
	if err != nil {
		return nil, fmt.Errorf("oracle: price update data: %w", err)
	}
	if len(resp.Binary.Data) == 0 {
		return nil, domain.ErrEmptyOracleUpdate
	}

	payloads := make([][]byte, 0, len(resp.Binary.Data))
	for _, raw := range resp.Binary.Data {
		data, err := hex.DecodeString(strings.TrimPrefix(raw, "0x"))
		if err != nil {
			return nil, fmt.Errorf("oracle: decode update payload: %w", err)
		}
		payloads = append(payloads, data)
	}
	return payloads, nil
}

// LatestPrices returns current off-chain prices per feed id. Feeds the
// service does not know are simply absent from the result.
func (c *Client) LatestPrices(ctx context.Context, feedIDs []string) (map[string]decimal.Decimal, error) {
	if len(feedIDs) == 0 {
		return map[string]decimal.Decimal{}, nil
	}

	resp, err := c.fetchLatest(ctx, feedIDs)
	if err != nil {
		return nil, fmt.Errorf("oracle: latest prices: %w", err)
	}

	// The service echoes ids without the 0x prefix; key the result by the
	// exact ids the caller asked with.
	requested := make(map[string]string, len(feedIDs))
	for _, id := range feedIDs {
		requested[normalizeFeedID(id)] = id
	}

	prices := make(map[string]decimal.Decimal, len(resp.Parsed))
	for _, p := range resp.Parsed {
		key, ok := requested[normalizeFeedID(p.ID)]
		if !ok {
			continue
		}
		mantissa, err := decimal.NewFromString(p.Price.Price)
		if err != nil {
			return nil, fmt.Errorf("oracle: price for feed %s: %w", p.ID, err)
		}
		prices[key] = mantissa.Shift(p.Price.Expo)
	}
	return prices, nil
}

// fetchLatest calls GET /v2/updates/price/latest with the feed ids.
func (c *Client) fetchLatest(ctx context.Context, feedIDs []string) (*latestResponse, error) {
	params := url.Values{}
	for _, id := range feedIDs {
		params.Add("ids[]", id)
	}
	params.Set("encoding", "hex")
	params.Set("parsed", "true")

	reqURL := c.endpoint + "/v2/updates/price/latest?" + params.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("HTTP %d: %s", resp.StatusCode, string(body))
	}

	var decoded latestResponse
	if err := json.Unmarshal(body, &decoded); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return &decoded, nil
}

// normalizeFeedID strips the optional 0x prefix so map keys match whatever
// form the caller used.
func normalizeFeedID(id string) string {
	return strings.TrimPrefix(strings.ToLower(id), "0x")
}

var _ domain.OracleClient = (*Client)(nil)
