package position

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"

	"github.com/clearhedge/futuresd/internal/domain"
)

// Fixed gas ceilings. Estimation is skipped on purpose: estimate_gas runs
// against pre-update oracle state and fails spuriously right after feed
// publication, so every call carries a generous fixed limit instead.
const (
	gasSingleLeg = 1_000_000
	gasBundle    = 5_000_000
)

// TxBuilder turns a validated plan into one atomic on-chain call: the signed
// oracle price update first, then each vault leg, bundled through multicall
// with the oracle fee attached as call value.
type TxBuilder struct {
	vault  domain.VaultEncoder
	reader domain.VaultReader
	oracle domain.OracleClient
	logger *slog.Logger
}

// NewTxBuilder creates a TxBuilder with all required dependencies.
func NewTxBuilder(
	vault domain.VaultEncoder,
	reader domain.VaultReader,
	oracle domain.OracleClient,
	logger *slog.Logger,
) *TxBuilder {
	return &TxBuilder{
		vault:  vault,
		reader: reader,
		oracle: oracle,
		logger: logger.With(slog.String("component", "tx_builder")),
	}
}

// BuildAdjust assembles the legs for a collateral/debt adjustment. Leg order
// is fixed so intermediate states never dip below the contract's own LTV
// check: deposits land before mints, burns land before withdrawals.
func (b *TxBuilder) BuildAdjust(ctx context.Context, asset domain.Asset, owner string, req domain.AdjustRequest) (domain.Call, error) {
	var legs [][]byte

	if collDelta := req.CollateralDelta; collDelta != nil && collDelta.Sign() > 0 {
		leg, err := b.vault.Deposit(asset.ID, owner, collDelta)
		if err != nil {
			return domain.Call{}, fmt.Errorf("position: encode deposit: %w", err)
		}
		legs = append(legs, leg)
	}
	if debtDelta := req.DebtDelta; debtDelta != nil && debtDelta.Sign() > 0 {
		leg, err := b.vault.Mint(asset.ID, owner, debtDelta)
		if err != nil {
			return domain.Call{}, fmt.Errorf("position: encode mint: %w", err)
		}
		legs = append(legs, leg)
	}
	if debtDelta := req.DebtDelta; debtDelta != nil && debtDelta.Sign() < 0 {
		leg, err := b.vault.Burn(asset.ID, owner, new(big.Int).Neg(debtDelta))
		if err != nil {
			return domain.Call{}, fmt.Errorf("position: encode burn: %w", err)
		}
		legs = append(legs, leg)
	}
	if collDelta := req.CollateralDelta; collDelta != nil && collDelta.Sign() < 0 {
		leg, err := b.vault.Withdraw(asset.ID, owner, new(big.Int).Neg(collDelta))
		if err != nil {
			return domain.Call{}, fmt.Errorf("position: encode withdraw: %w", err)
		}
		legs = append(legs, leg)
	}

	if len(legs) == 0 {
		return domain.Call{}, domain.ErrZeroAmount
	}
	return b.bundle(ctx, asset, legs)
}

// BuildSettle assembles the settlement call for an expired asset.
func (b *TxBuilder) BuildSettle(ctx context.Context, asset domain.Asset) (domain.Call, error) {
	leg, err := b.vault.Settle(asset.ID)
	if err != nil {
		return domain.Call{}, fmt.Errorf("position: encode settle: %w", err)
	}
	return b.bundle(ctx, asset, [][]byte{leg})
}

// BuildClose assembles a full position close after settlement. Settlement
// froze the exchange rate, so no oracle update is attached.
func (b *TxBuilder) BuildClose(asset domain.Asset, owner string, minCollateralOut *big.Int) (domain.Call, error) {
	leg, err := b.vault.Close(asset.ID, owner, minCollateralOut)
	if err != nil {
		return domain.Call{}, fmt.Errorf("position: encode close: %w", err)
	}
	return b.single(leg), nil
}

// BuildRedeem assembles a token-holder redemption at the settle price. Like
// close, the rate is frozen and no oracle update is needed.
func (b *TxBuilder) BuildRedeem(asset domain.Asset, owner string, amount, minCollateralOut *big.Int) (domain.Call, error) {
	leg, err := b.vault.Redeem(asset.ID, owner, amount, minCollateralOut)
	if err != nil {
		return domain.Call{}, fmt.Errorf("position: encode redeem: %w", err)
	}
	return b.single(leg), nil
}

// single wraps one pre-encoded leg as a direct call.
func (b *TxBuilder) single(leg []byte) domain.Call {
	return domain.Call{
		To:   b.vault.Address(),
		Data: leg,
		Gas:  gasSingleLeg,
	}
}

// bundle prepends the oracle update to the legs and wraps everything in one
// multicall, quoting the update fee as call value.
func (b *TxBuilder) bundle(ctx context.Context, asset domain.Asset, legs [][]byte) (domain.Call, error) {
	feeds := feedIDs(asset)
	if len(feeds) == 0 {
		// Nothing to refresh; a lone leg can go out bare.
		if len(legs) == 1 {
			return b.single(legs[0]), nil
		}
		data, err := b.vault.Multicall(legs)
		if err != nil {
			return domain.Call{}, fmt.Errorf("position: encode multicall: %w", err)
		}
		return domain.Call{To: b.vault.Address(), Data: data, Gas: gasBundle}, nil
	}

	update, err := b.oracle.PriceUpdateData(ctx, feeds)
	if err != nil {
		return domain.Call{}, fmt.Errorf("position: fetch oracle update: %w", err)
	}
	if len(update) == 0 {
		return domain.Call{}, domain.ErrEmptyOracleUpdate
	}

	fee, err := b.reader.UpdateFee(ctx, update)
	if err != nil {
		return domain.Call{}, fmt.Errorf("position: quote oracle fee: %w", err)
	}

	oracleLeg, err := b.vault.UpdateOracle(update)
	if err != nil {
		return domain.Call{}, fmt.Errorf("position: encode oracle update: %w", err)
	}

	data, err := b.vault.Multicall(append([][]byte{oracleLeg}, legs...))
	if err != nil {
		return domain.Call{}, fmt.Errorf("position: encode multicall: %w", err)
	}

	b.logger.DebugContext(ctx, "bundle assembled",
		slog.String("asset", asset.ID),
		slog.Int("legs", len(legs)),
		slog.Int("feeds", len(feeds)),
		slog.String("oracle_fee", fee.String()),
	)

	return domain.Call{
		To:    b.vault.Address(),
		Data:  data,
		Value: fee,
		Gas:   gasBundle,
	}, nil
}

// feedIDs collects the distinct price feeds the asset's vault depends on.
func feedIDs(asset domain.Asset) []string {
	var feeds []string
	if id := asset.Currency.PriceFeedID; id != "" {
		feeds = append(feeds, id)
	}
	if id := asset.Collateral.PriceFeedID; id != "" && id != asset.Currency.PriceFeedID {
		feeds = append(feeds, id)
	}
	return feeds
}

// Summarize renders a human-readable confirmation for a planned adjustment.
func Summarize(asset domain.Asset, req domain.AdjustRequest) domain.Confirmation {
	var lines []string

	if d := req.CollateralDelta; d != nil && d.Sign() > 0 {
		lines = append(lines, fmt.Sprintf("Deposit %s %s",
			asset.Collateral.AmountToDecimal(d), asset.Collateral.Symbol))
	}
	if d := req.DebtDelta; d != nil && d.Sign() > 0 {
		lines = append(lines, fmt.Sprintf("Borrow %s %s",
			asset.Currency.AmountToDecimal(d), asset.Currency.Symbol))
	}
	if d := req.DebtDelta; d != nil && d.Sign() < 0 {
		lines = append(lines, fmt.Sprintf("Repay %s %s",
			asset.Currency.AmountToDecimal(new(big.Int).Neg(d)), asset.Currency.Symbol))
	}
	if d := req.CollateralDelta; d != nil && d.Sign() < 0 {
		lines = append(lines, fmt.Sprintf("Withdraw %s %s",
			asset.Collateral.AmountToDecimal(new(big.Int).Neg(d)), asset.Collateral.Symbol))
	}

	return domain.Confirmation{
		Title: fmt.Sprintf("Adjust %s position", asset.Currency.Symbol),
		Lines: lines,
	}
}
