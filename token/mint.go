package token

import (
	"context"
	"log/slog"

	"github.com/ruteri/pod-consent-gateway/interfaces"
	"github.com/ruteri/pod-consent-gateway/metrics"
)

// MintFor mints one token of contract for the counterparty, signed by the counterparty's own
// wallet and paying the on-chain price. Any holder of a wallet may mint while the sale is open.
func (i *Issuer) MintFor(ctx context.Context, counterparty interfaces.UserIdentity, contract interfaces.ContractAddress) (interfaces.MintReceipt, error) {
	state, err := i.ledger.SaleState(ctx, contract)
	if err != nil {
		return interfaces.MintReceipt{}, err
	}
	if !state.Active {
		return interfaces.MintReceipt{}, interfaces.NewOpError(interfaces.ErrSaleClosed, "mint", contract.String(), nil)
	}
	if state.MaxSupply > 0 && state.TotalSupply >= state.MaxSupply {
		return interfaces.MintReceipt{}, interfaces.NewOpError(interfaces.ErrSupplyExhausted, "mint", contract.String(), nil)
	}

	if _, err := i.wallets.EnsureWallet(ctx, counterparty); err != nil {
		return interfaces.MintReceipt{}, err
	}
	acct, err := i.wallets.Signer(ctx, counterparty)
	if err != nil {
		return interfaces.MintReceipt{}, err
	}

	receipt, err := i.ledger.Mint(ctx, contract, acct.Key, state.Price)
	metrics.RecordTxSubmission(string(interfaces.TxKindMint), err)
	if err != nil {
		i.log.Error("Mint failed",
			slog.String("counterparty", counterparty.String()),
			slog.String("contract", contract.String()),
			"err", err)
		return interfaces.MintReceipt{}, err
	}

	i.wallets.Track(ctx, counterparty, interfaces.PendingTx{
		Hash:     receipt.TxHash,
		Kind:     interfaces.TxKindMint,
		From:     acct.Address,
		Contract: &contract,
		Amount:   receipt.Price,
		Status:   receipt.Status,
	})

	i.log.Info("Consent token minted",
		slog.String("counterparty", counterparty.String()),
		slog.String("contract", contract.String()),
		slog.String("tx", receipt.TxHash),
		slog.String("status", string(receipt.Status)))
	return receipt, nil
}

// OwnersOf returns the distinct holders of the contract's tokens, sorted.
func (i *Issuer) OwnersOf(ctx context.Context, contract interfaces.ContractAddress) ([]interfaces.Address, error) {
	return i.ledger.OwnersOf(ctx, contract)
}

// Holds reports whether addr owns at least one token of the contract.
func (i *Issuer) Holds(ctx context.Context, contract interfaces.ContractAddress, addr interfaces.Address) (bool, error) {
	owners, err := i.OwnersOf(ctx, contract)
	if err != nil {
		return false, err
	}
	for _, owner := range owners {
		if owner == addr {
			return true, nil
		}
	}
	return false, nil
}
