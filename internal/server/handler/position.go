package handler

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/clearhedge/futuresd/internal/domain"
	"github.com/clearhedge/futuresd/internal/risk"
)

// PositionHandler serves position-related HTTP endpoints.
type PositionHandler struct {
	snapshots SnapshotSource
	logger    *slog.Logger
}

// NewPositionHandler creates a PositionHandler with the given snapshot source
// and logger.
func NewPositionHandler(snapshots SnapshotSource, logger *slog.Logger) *PositionHandler {
	return &PositionHandler{
		snapshots: snapshots,
		logger:    logger,
	}
}

// positionView is the JSON shape of one position with its risk figures
// recomputed from the latest snapshot prices.
type positionView struct {
	AssetID          string `json:"asset_id"`
	Symbol           string `json:"symbol"`
	Owner            string `json:"owner"`
	CollateralAmount string `json:"collateral_amount"`
	DebtAmount       string `json:"debt_amount"`
	AveragePrice     string `json:"average_price"`
	LTV              string `json:"ltv"`
	LiquidationPrice string `json:"liquidation_price"`
	MaxLoanable      string `json:"max_loanable"`
	MinCollateral    string `json:"min_collateral"`
	IndexedBlock     uint64 `json:"indexed_block"`
}

// listPositionsResponse wraps the list positions response.
type listPositionsResponse struct {
	Positions []positionView `json:"positions"`
}

// ListPositions returns the address's open positions with live risk figures.
// GET /api/positions?address=0x...
func (h *PositionHandler) ListPositions(w http.ResponseWriter, r *http.Request) {
	address := strings.ToLower(r.URL.Query().Get("address"))
	if address == "" {
		writeError(w, http.StatusBadRequest, "address query parameter required")
		return
	}

	snap := h.snapshots.Current()

	views := make([]positionView, 0)
	for _, pos := range snap.Positions {
		if pos.Owner != address {
			continue
		}
		asset, ok := snap.AssetByID(pos.AssetID)
		if !ok {
			h.logger.WarnContext(r.Context(), "position references unknown asset",
				slog.String("asset", pos.AssetID),
				slog.String("owner", pos.Owner),
			)
			continue
		}
		views = append(views, buildPositionView(snap, asset, pos))
	}

	writeJSON(w, http.StatusOK, listPositionsResponse{Positions: views})
}

// buildPositionView computes the risk figures for one position. Prices
// missing from the snapshot leave the risk fields at their zero strings.
func buildPositionView(snap domain.Snapshot, asset domain.Asset, pos domain.Position) positionView {
	v := positionView{
		AssetID:          pos.AssetID,
		Symbol:           asset.Currency.Symbol,
		Owner:            pos.Owner,
		CollateralAmount: bigString(pos.CollateralAmount),
		DebtAmount:       bigString(pos.DebtAmount),
		AveragePrice:     pos.AveragePrice.String(),
		IndexedBlock:     pos.IndexedBlock,
	}

	debtPrice, okDebt := snap.PriceOf(asset.Currency)
	collPrice, okColl := snap.PriceOf(asset.Collateral)
	if okDebt && okColl {
		pr := risk.PositionRisk(asset, pos, debtPrice, collPrice)
		v.LTV = pr.LTV.String()
		v.LiquidationPrice = pr.LiquidationPrice.String()
		v.MaxLoanable = bigString(pr.MaxLoanable)
		v.MinCollateral = bigString(pr.MinCollateral)
	}

	return v
}
