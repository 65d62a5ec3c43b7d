// Package indexer is a GraphQL client for the subgraph that indexes the
// vault-manager contract: assets, positions, and the indexer's block height.
package indexer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/clearhedge/futuresd/internal/domain"
)

// Client queries the vault subgraph over GraphQL.
type Client struct {
	graphqlURL string
	apiKey     string
	httpClient *http.Client
}

// NewClient creates a subgraph client.
func NewClient(graphqlURL, apiKey string) *Client {
	return &Client{
		graphqlURL: graphqlURL,
		apiKey:     strings.TrimSpace(apiKey),
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// graphqlRequest is the standard GraphQL request envelope.
type graphqlRequest struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables,omitempty"`
}

// graphqlResponse is the standard GraphQL response envelope.
type graphqlResponse struct {
	Data   json.RawMessage `json:"data"`
	Errors []struct {
		Message string `json:"message"`
	} `json:"errors"`
}

// currencyFields is shared by the asset and collateral sides of an asset.
type currencyFields struct {
	ID          string `json:"id"`
	Symbol      string `json:"symbol"`
	Name        string `json:"name"`
	Decimals    uint8  `json:"decimals"`
	PriceFeedID string `json:"priceFeedId"`
}

func (c currencyFields) toDomain() domain.Currency {
	return domain.Currency{
		ID:          strings.ToLower(c.ID),
		Symbol:      c.Symbol,
		Name:        c.Name,
		Decimals:    c.Decimals,
		PriceFeedID: c.PriceFeedID,
	}
}

// Assets returns every asset the subgraph knows about, including settled
// ones. The caller derives lifecycle state from expiration and settle price.
func (c *Client) Assets(ctx context.Context) ([]domain.Asset, error) {
	query := `
		query Assets {
			assets(first: 1000) {
				id
				expiration
				maxLTV
				liquidationThreshold
				ltvPrecision
				minDebt
				settlePrice
				openMinuteUTC
				closeMinuteUTC
				weekendClosed
				currency { id symbol name decimals priceFeedId }
				collateral { id symbol name decimals priceFeedId }
			}
		}
	`

	respData, err := c.doQuery(ctx, query, nil)
	if err != nil {
		return nil, fmt.Errorf("indexer: fetch assets: %w", err)
	}

	var result struct {
		Assets []struct {
			ID                   string         `json:"id"`
			Expiration           string         `json:"expiration"`
			MaxLTV               string         `json:"maxLTV"`
			LiquidationThreshold string         `json:"liquidationThreshold"`
			LTVPrecision         string         `json:"ltvPrecision"`
			MinDebt              string         `json:"minDebt"`
			SettlePrice          string         `json:"settlePrice"`
			OpenMinuteUTC        int            `json:"openMinuteUTC"`
			CloseMinuteUTC       int            `json:"closeMinuteUTC"`
			WeekendClosed        bool           `json:"weekendClosed"`
			Currency             currencyFields `json:"currency"`
			Collateral           currencyFields `json:"collateral"`
		} `json:"assets"`
	}
	if err := json.Unmarshal(respData, &result); err != nil {
		return nil, fmt.Errorf("indexer: decode assets: %w", err)
	}

	assets := make([]domain.Asset, 0, len(result.Assets))
	for _, a := range result.Assets {
		expiration, err := parseUnix(a.Expiration)
		if err != nil {
			return nil, fmt.Errorf("indexer: asset %s expiration: %w", a.ID, err)
		}
		settlePrice, err := parseDecimal(a.SettlePrice)
		if err != nil {
			return nil, fmt.Errorf("indexer: asset %s settle price: %w", a.ID, err)
		}

		asset := domain.Asset{
			ID:                   strings.ToLower(a.ID),
			Currency:             a.Currency.toDomain(),
			Collateral:           a.Collateral.toDomain(),
			Expiration:           expiration,
			MaxLTV:               parseUint(a.MaxLTV),
			LiquidationThreshold: parseUint(a.LiquidationThreshold),
			LTVPrecision:         parseUint(a.LTVPrecision),
			MinDebt:              parseBig(a.MinDebt),
			SettlePrice:          settlePrice,
			Hours: domain.TradingHours{
				OpenMinuteUTC:  a.OpenMinuteUTC,
				CloseMinuteUTC: a.CloseMinuteUTC,
				WeekendClosed:  a.WeekendClosed,
			},
		}
		if err := asset.Validate(); err != nil {
			return nil, fmt.Errorf("indexer: %w", err)
		}
		assets = append(assets, asset)
	}
	return assets, nil
}

// Positions returns the owner's positions across all vaults. Terminal
// positions are filtered out upstream by the subgraph.
func (c *Client) Positions(ctx context.Context, owner string) ([]domain.Position, error) {
	query := `
		query Positions($owner: String!) {
			positions(first: 1000, where: { owner: $owner }) {
				asset { id }
				owner
				collateralAmount
				debtAmount
				averagePrice
				indexedBlock
			}
		}
	`
	variables := map[string]any{"owner": strings.ToLower(owner)}

	respData, err := c.doQuery(ctx, query, variables)
	if err != nil {
		return nil, fmt.Errorf("indexer: fetch positions: %w", err)
	}

	var result struct {
		Positions []struct {
			Asset struct {
				ID string `json:"id"`
			} `json:"asset"`
			Owner            string `json:"owner"`
			CollateralAmount string `json:"collateralAmount"`
			DebtAmount       string `json:"debtAmount"`
			AveragePrice     string `json:"averagePrice"`
			IndexedBlock     uint64 `json:"indexedBlock"`
		} `json:"positions"`
	}
	if err := json.Unmarshal(respData, &result); err != nil {
		return nil, fmt.Errorf("indexer: decode positions: %w", err)
	}

	positions := make([]domain.Position, 0, len(result.Positions))
	for _, p := range result.Positions {
		avg, err := parseDecimal(p.AveragePrice)
		if err != nil {
			return nil, fmt.Errorf("indexer: position %s/%s average price: %w", p.Owner, p.Asset.ID, err)
		}
		positions = append(positions, domain.Position{
			AssetID:          strings.ToLower(p.Asset.ID),
			Owner:            strings.ToLower(p.Owner),
			CollateralAmount: parseBig(p.CollateralAmount),
			DebtAmount:       parseBig(p.DebtAmount),
			AveragePrice:     avg,
			IndexedBlock:     p.IndexedBlock,
		})
	}
	return positions, nil
}

// LatestBlock returns the newest block the subgraph has reflected.
func (c *Client) LatestBlock(ctx context.Context) (uint64, error) {
	query := `
		query LatestBlock {
			_meta {
				block {
					number
				}
			}
		}
	`

	respData, err := c.doQuery(ctx, query, nil)
	if err != nil {
		return 0, fmt.Errorf("indexer: fetch latest block: %w", err)
	}

	var result struct {
		Meta struct {
			Block struct {
				Number uint64 `json:"number"`
			} `json:"block"`
		} `json:"_meta"`
	}
	if err := json.Unmarshal(respData, &result); err != nil {
		return 0, fmt.Errorf("indexer: decode latest block: %w", err)
	}
	return result.Meta.Block.Number, nil
}

// --------------------------------------------------------------------------
// Internal helpers
// --------------------------------------------------------------------------

// doQuery executes a GraphQL query and returns the raw "data" field.
func (c *Client) doQuery(ctx context.Context, query string, variables map[string]any) (json.RawMessage, error) {
	reqBody := graphqlRequest{
		Query:     query,
		Variables: variables,
	}

	jsonBody, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("marshal graphql request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.graphqlURL, bytes.NewReader(jsonBody))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

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

	var gqlResp graphqlResponse
	if err := json.Unmarshal(body, &gqlResp); err != nil {
		return nil, fmt.Errorf("decode graphql response: %w", err)
	}

	if len(gqlResp.Errors) > 0 {
		return nil, fmt.Errorf("graphql error: %s", gqlResp.Errors[0].Message)
	}

	return gqlResp.Data, nil
}

func parseUnix(s string) (time.Time, error) {
	var ts int64
	if _, err := fmt.Sscanf(s, "%d", &ts); err != nil {
		return time.Time{}, fmt.Errorf("parse timestamp %q: %w", s, err)
	}
	return time.Unix(ts, 0).UTC(), nil
}

func parseUint(s string) uint64 {
	var v uint64
	fmt.Sscanf(s, "%d", &v)
	return v
}

func parseBig(s string) *big.Int {
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return new(big.Int)
	}
	return v
}

func parseDecimal(s string) (decimal.Decimal, error) {
	if s == "" {
		return decimal.Zero, nil
	}
	return decimal.NewFromString(s)
}

var _ domain.IndexerClient = (*Client)(nil)
