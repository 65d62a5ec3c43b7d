package handler

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/clearhedge/futuresd/internal/domain"
	"github.com/clearhedge/futuresd/internal/market"
)

// AssetHandler serves asset-related HTTP endpoints from the in-memory
// snapshot.
type AssetHandler struct {
	snapshots SnapshotSource
	logger    *slog.Logger
}

// NewAssetHandler creates an AssetHandler with the given snapshot source and
// logger.
func NewAssetHandler(snapshots SnapshotSource, logger *slog.Logger) *AssetHandler {
	return &AssetHandler{
		snapshots: snapshots,
		logger:    logger,
	}
}

// assetView is the JSON shape of one asset, with the lifecycle state and the
// latest prices resolved at render time.
type assetView struct {
	ID                   string `json:"id"`
	Symbol               string `json:"symbol"`
	Name                 string `json:"name"`
	CollateralSymbol     string `json:"collateral_symbol"`
	State                string `json:"state"`
	Expiration           string `json:"expiration"`
	MaxLTV               uint64 `json:"max_ltv"`
	LiquidationThreshold uint64 `json:"liquidation_threshold"`
	LTVPrecision         uint64 `json:"ltv_precision"`
	MinDebt              string `json:"min_debt"`
	SettlePrice          string `json:"settle_price,omitempty"`
	Price                string `json:"price,omitempty"`
	CollateralPrice      string `json:"collateral_price,omitempty"`
	MarketOpen           bool   `json:"market_open"`
}

// listAssetsResponse wraps the list assets response.
type listAssetsResponse struct {
	Assets []assetView `json:"assets"`
}

// ListAssets returns all known assets with derived state.
// GET /api/assets
func (h *AssetHandler) ListAssets(w http.ResponseWriter, r *http.Request) {
	snap := h.snapshots.Current()
	now := time.Now()

	views := make([]assetView, 0, len(snap.Assets))
	for _, a := range snap.Assets {
		views = append(views, buildAssetView(snap, a, now))
	}

	writeJSON(w, http.StatusOK, listAssetsResponse{Assets: views})
}

// GetAsset returns one asset by its debt-token address.
// GET /api/assets/{id}
func (h *AssetHandler) GetAsset(w http.ResponseWriter, r *http.Request) {
	id := strings.ToLower(pathParam(r, "id"))

	snap := h.snapshots.Current()
	asset, ok := snap.AssetByID(id)
	if !ok {
		writeError(w, http.StatusNotFound, "asset not found")
		return
	}

	writeJSON(w, http.StatusOK, buildAssetView(snap, asset, time.Now()))
}

// buildAssetView resolves the derived fields for one asset.
func buildAssetView(snap domain.Snapshot, a domain.Asset, now time.Time) assetView {
	v := assetView{
		ID:                   a.ID,
		Symbol:               a.Currency.Symbol,
		Name:                 a.Currency.Name,
		CollateralSymbol:     a.Collateral.Symbol,
		State:                string(a.State(now)),
		Expiration:           a.Expiration.UTC().Format(time.RFC3339),
		MaxLTV:               a.MaxLTV,
		LiquidationThreshold: a.LiquidationThreshold,
		LTVPrecision:         a.LTVPrecision,
		MinDebt:              bigString(a.MinDebt),
		MarketOpen:           market.IsOpen(a.Hours, now),
	}
	if a.SettlePrice.IsPositive() {
		v.SettlePrice = a.SettlePrice.String()
	}
	if p, ok := snap.PriceOf(a.Currency); ok {
		v.Price = p.String()
	}
	if p, ok := snap.PriceOf(a.Collateral); ok {
		v.CollateralPrice = p.String()
	}
	return v
}
