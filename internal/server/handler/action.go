package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"math/big"
	"net/http"
	"strings"

	"github.com/clearhedge/futuresd/internal/domain"
)

// ActionService defines the position operations the action handler drives.
// It is implemented by the position orchestrator.
type ActionService interface {
	Adjust(ctx context.Context, owner string, req domain.AdjustRequest) (domain.TxRecord, error)
	RepayAll(ctx context.Context, owner, assetID string) (domain.TxRecord, error)
	Settle(ctx context.Context, owner, assetID string) (domain.TxRecord, error)
	Close(ctx context.Context, owner, assetID string, minCollateralOut *big.Int) (domain.TxRecord, error)
	Redeem(ctx context.Context, owner, assetID string, amount, minCollateralOut *big.Int) (domain.TxRecord, error)
	Preview(ctx context.Context, owner string, req domain.AdjustRequest) (domain.Confirmation, domain.PositionRisk, error)
}

// ActionHandler serves the transaction-submitting endpoints.
type ActionHandler struct {
	actions ActionService
	logger  *slog.Logger
}

// NewActionHandler creates an ActionHandler with the given service and logger.
func NewActionHandler(actions ActionService, logger *slog.Logger) *ActionHandler {
	return &ActionHandler{
		actions: actions,
		logger:  logger,
	}
}

// adjustRequest is the request body for adjust and preview. Amounts are
// signed base-10 integers in native token units.
type adjustRequest struct {
	Address         string `json:"address"`
	AssetID         string `json:"asset_id"`
	CollateralDelta string `json:"collateral_delta"`
	DebtDelta       string `json:"debt_delta"`
}

// assetRequest is the request body for asset-scoped actions without amounts.
type assetRequest struct {
	Address string `json:"address"`
	AssetID string `json:"asset_id"`
}

// closeRequest is the request body for close.
type closeRequest struct {
	Address          string `json:"address"`
	AssetID          string `json:"asset_id"`
	MinCollateralOut string `json:"min_collateral_out"`
}

// redeemRequest is the request body for redeem.
type redeemRequest struct {
	Address          string `json:"address"`
	AssetID          string `json:"asset_id"`
	Amount           string `json:"amount"`
	MinCollateralOut string `json:"min_collateral_out"`
}

// txRecordView is the JSON shape of a submitted transaction.
type txRecordView struct {
	ID      string `json:"id"`
	Address string `json:"address"`
	AssetID string `json:"asset_id"`
	Action  string `json:"action"`
	TxHash  string `json:"tx_hash"`
	Status  string `json:"status"`
	Block   uint64 `json:"block,omitempty"`
}

// previewResponse carries the confirmation summary and the projected risk of
// a planned adjustment.
type previewResponse struct {
	Title            string   `json:"title"`
	Lines            []string `json:"lines"`
	LTV              string   `json:"ltv"`
	LiquidationPrice string   `json:"liquidation_price"`
	MaxLoanable      string   `json:"max_loanable"`
	MinCollateral    string   `json:"min_collateral"`
}

// Adjust submits a collateral/debt adjustment.
// POST /api/actions/adjust
func (h *ActionHandler) Adjust(w http.ResponseWriter, r *http.Request) {
	owner, req, ok := h.decodeAdjust(w, r)
	if !ok {
		return
	}

	rec, err := h.actions.Adjust(r.Context(), owner, req)
	if err != nil {
		h.logFailure(r, "adjust", req.AssetID, err)
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, toTxRecordView(rec))
}

// Preview validates an adjustment without submitting it.
// POST /api/actions/preview
func (h *ActionHandler) Preview(w http.ResponseWriter, r *http.Request) {
	owner, req, ok := h.decodeAdjust(w, r)
	if !ok {
		return
	}

	conf, projected, err := h.actions.Preview(r.Context(), owner, req)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, previewResponse{
		Title:            conf.Title,
		Lines:            conf.Lines,
		LTV:              projected.LTV.String(),
		LiquidationPrice: projected.LiquidationPrice.String(),
		MaxLoanable:      bigString(projected.MaxLoanable),
		MinCollateral:    bigString(projected.MinCollateral),
	})
}

// RepayAll burns the address's entire outstanding debt in one asset.
// POST /api/actions/repay-all
func (h *ActionHandler) RepayAll(w http.ResponseWriter, r *http.Request) {
	var body assetRequest
	if !decodeBody(w, r, &body) {
		return
	}
	owner, ok := requireAddress(w, body.Address)
	if !ok {
		return
	}

	rec, err := h.actions.RepayAll(r.Context(), owner, strings.ToLower(body.AssetID))
	if err != nil {
		h.logFailure(r, "repay_all", body.AssetID, err)
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, toTxRecordView(rec))
}

// Settle records the settlement price for an expired asset.
// POST /api/actions/settle
func (h *ActionHandler) Settle(w http.ResponseWriter, r *http.Request) {
	var body assetRequest
	if !decodeBody(w, r, &body) {
		return
	}
	owner, ok := requireAddress(w, body.Address)
	if !ok {
		return
	}

	rec, err := h.actions.Settle(r.Context(), owner, strings.ToLower(body.AssetID))
	if err != nil {
		h.logFailure(r, "settle", body.AssetID, err)
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, toTxRecordView(rec))
}

// Close unwinds the address's position in a settled asset.
// POST /api/actions/close
func (h *ActionHandler) Close(w http.ResponseWriter, r *http.Request) {
	var body closeRequest
	if !decodeBody(w, r, &body) {
		return
	}
	owner, ok := requireAddress(w, body.Address)
	if !ok {
		return
	}
	minOut, ok := parseBig(body.MinCollateralOut)
	if !ok {
		writeError(w, http.StatusBadRequest, "min_collateral_out must be a base-10 integer")
		return
	}

	rec, err := h.actions.Close(r.Context(), owner, strings.ToLower(body.AssetID), minOut)
	if err != nil {
		h.logFailure(r, "close", body.AssetID, err)
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, toTxRecordView(rec))
}

// Redeem exchanges debt tokens for collateral at the settle price.
// POST /api/actions/redeem
func (h *ActionHandler) Redeem(w http.ResponseWriter, r *http.Request) {
	var body redeemRequest
	if !decodeBody(w, r, &body) {
		return
	}
	owner, ok := requireAddress(w, body.Address)
	if !ok {
		return
	}
	amount, ok := parseBig(body.Amount)
	if !ok || amount == nil {
		writeError(w, http.StatusBadRequest, "amount must be a base-10 integer")
		return
	}
	minOut, ok := parseBig(body.MinCollateralOut)
	if !ok {
		writeError(w, http.StatusBadRequest, "min_collateral_out must be a base-10 integer")
		return
	}

	rec, err := h.actions.Redeem(r.Context(), owner, strings.ToLower(body.AssetID), amount, minOut)
	if err != nil {
		h.logFailure(r, "redeem", body.AssetID, err)
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, toTxRecordView(rec))
}

// decodeAdjust parses and validates the shared adjust/preview request body.
func (h *ActionHandler) decodeAdjust(w http.ResponseWriter, r *http.Request) (string, domain.AdjustRequest, bool) {
	var body adjustRequest
	if !decodeBody(w, r, &body) {
		return "", domain.AdjustRequest{}, false
	}
	owner, ok := requireAddress(w, body.Address)
	if !ok {
		return "", domain.AdjustRequest{}, false
	}

	collDelta, ok := parseBig(body.CollateralDelta)
	if !ok {
		writeError(w, http.StatusBadRequest, "collateral_delta must be a base-10 integer")
		return "", domain.AdjustRequest{}, false
	}
	debtDelta, ok := parseBig(body.DebtDelta)
	if !ok {
		writeError(w, http.StatusBadRequest, "debt_delta must be a base-10 integer")
		return "", domain.AdjustRequest{}, false
	}

	return owner, domain.AdjustRequest{
		AssetID:         strings.ToLower(body.AssetID),
		CollateralDelta: collDelta,
		DebtDelta:       debtDelta,
	}, true
}

// logFailure records a rejected or failed action at a level matched to its
// cause: expected validation failures stay quiet, the rest are errors.
func (h *ActionHandler) logFailure(r *http.Request, action, assetID string, err error) {
	if httpStatus(err) == http.StatusInternalServerError {
		h.logger.ErrorContext(r.Context(), "action failed",
			slog.String("action", action),
			slog.String("asset", assetID),
			slog.String("error", err.Error()),
		)
		return
	}
	h.logger.DebugContext(r.Context(), "action rejected",
		slog.String("action", action),
		slog.String("asset", assetID),
		slog.String("reason", err.Error()),
	)
}

// decodeBody parses a JSON request body, replying 400 on malformed input.
func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	return true
}

// requireAddress validates and normalises the acting address.
func requireAddress(w http.ResponseWriter, address string) (string, bool) {
	a := strings.ToLower(strings.TrimSpace(address))
	if a == "" {
		writeError(w, http.StatusBadRequest, "address is required")
		return "", false
	}
	return a, true
}

// toTxRecordView converts a domain record into its JSON shape.
func toTxRecordView(rec domain.TxRecord) txRecordView {
	return txRecordView{
		ID:      rec.ID,
		Address: rec.Address,
		AssetID: rec.AssetID,
		Action:  string(rec.Action),
		TxHash:  rec.TxHash,
		Status:  string(rec.Status),
		Block:   rec.Block,
	}
}
