package ledger

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/ruteri/pod-consent-gateway/interfaces"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryLedgerTokenLifecycle(t *testing.T) {
	ctx := context.Background()
	l := NewMemoryLedger(big.NewInt(1000), "consent-token-v1")

	issuer, err := l.CreateAccount(ctx)
	require.NoError(t, err)
	buyer, err := l.CreateAccount(ctx)
	require.NoError(t, err)

	_, err = l.DeployContract(ctx, "unknown", interfaces.DeployParams{}, issuer.Key)
	assert.ErrorIs(t, err, ErrUnknownTemplate)

	dep, err := l.DeployContract(ctx, "consent-token-v1", interfaces.DeployParams{
		Name:      "Consent",
		Symbol:    "CNST",
		MaxSupply: 2,
		Price:     big.NewInt(10),
	}, issuer.Key)
	require.NoError(t, err)

	status, err := l.TransactionStatus(ctx, dep.Tx.Hash)
	require.NoError(t, err)
	assert.Equal(t, interfaces.TxConfirmed, status)

	// Minting before the sale opens reverts.
	receipt, err := l.Mint(ctx, dep.Contract, buyer.Key, big.NewInt(10))
	require.NoError(t, err)
	assert.Equal(t, interfaces.TxFailed, receipt.Status)

	_, err = l.SetSaleActive(ctx, dep.Contract, true, issuer.Key)
	require.NoError(t, err)

	receipt, err = l.Mint(ctx, dep.Contract, buyer.Key, big.NewInt(10))
	require.NoError(t, err)
	assert.Equal(t, interfaces.TxConfirmed, receipt.Status)
	assert.Equal(t, buyer.Address, receipt.Minter)

	receipt, err = l.Mint(ctx, dep.Contract, buyer.Key, big.NewInt(10))
	require.NoError(t, err)
	assert.Equal(t, interfaces.TxConfirmed, receipt.Status)

	receipt, err = l.Mint(ctx, dep.Contract, issuer.Key, big.NewInt(10))
	require.NoError(t, err)
	assert.Equal(t, interfaces.TxFailed, receipt.Status, "supply exhausted")

	state, err := l.SaleState(ctx, dep.Contract)
	require.NoError(t, err)
	assert.True(t, state.Active)
	assert.Equal(t, uint64(2), state.TotalSupply)
	assert.Equal(t, uint64(2), state.MaxSupply)

	owners, err := l.OwnersOf(ctx, dep.Contract)
	require.NoError(t, err)
	assert.Equal(t, []interfaces.Address{buyer.Address}, owners)

	balance, err := l.GetBalance(ctx, buyer.Address)
	require.NoError(t, err)
	assert.Equal(t, big.NewInt(980), balance)
}

func TestMemoryLedgerManualMining(t *testing.T) {
	ctx := context.Background()
	l := NewMemoryLedger(big.NewInt(1000))
	l.SetManualMining(true)

	issuer, err := l.CreateAccount(ctx)
	require.NoError(t, err)

	dep, err := l.DeployContract(ctx, "any", interfaces.DeployParams{MaxSupply: 1}, issuer.Key)
	require.NoError(t, err)

	status, err := l.TransactionStatus(ctx, dep.Tx.Hash)
	require.NoError(t, err)
	assert.Equal(t, interfaces.TxPending, status)

	_, err = l.SaleState(ctx, dep.Contract)
	assert.ErrorIs(t, err, interfaces.ErrTokenNotFound)

	l.Mine()

	status, err = l.TransactionStatus(ctx, dep.Tx.Hash)
	require.NoError(t, err)
	assert.Equal(t, interfaces.TxConfirmed, status)

	second, err := l.DeployContract(ctx, "any", interfaces.DeployParams{MaxSupply: 1}, issuer.Key)
	require.NoError(t, err)
	assert.NotEqual(t, dep.Contract, second.Contract)

	l.FailTx(second.Tx.Hash)
	l.Mine()

	status, err = l.TransactionStatus(ctx, second.Tx.Hash)
	require.NoError(t, err)
	assert.Equal(t, interfaces.TxFailed, status)
}

func TestMemoryLedgerTransfers(t *testing.T) {
	ctx := context.Background()
	l := NewMemoryLedger(big.NewInt(100))

	alice, err := l.CreateAccount(ctx)
	require.NoError(t, err)
	bob, err := l.CreateAccount(ctx)
	require.NoError(t, err)

	_, err = l.SignAndSend(ctx, interfaces.TxRequest{From: alice.Address, To: &bob.Address, Value: big.NewInt(40), Nonce: 1}, alice.Key)
	assert.ErrorIs(t, err, interfaces.ErrTransactionSubmissionFailed, "stale nonce")

	_, err = l.SignAndSend(ctx, interfaces.TxRequest{From: alice.Address, To: &bob.Address, Value: big.NewInt(40)}, bob.Key)
	assert.ErrorIs(t, err, interfaces.ErrSigningFailed)

	_, err = l.SignAndSend(ctx, interfaces.TxRequest{From: alice.Address, To: &bob.Address, Value: big.NewInt(400)}, alice.Key)
	assert.ErrorIs(t, err, interfaces.ErrTransactionSubmissionFailed)

	l.FailNext(OpSend, errors.New("connection reset"))
	_, err = l.SignAndSend(ctx, interfaces.TxRequest{From: alice.Address, To: &bob.Address, Value: big.NewInt(40)}, alice.Key)
	assert.ErrorIs(t, err, interfaces.ErrTransactionSubmissionFailed)

	h, err := l.SignAndSend(ctx, interfaces.TxRequest{From: alice.Address, To: &bob.Address, Value: big.NewInt(40)}, alice.Key)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), h.Nonce)

	nonce, err := l.GetNonce(ctx, alice.Address)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), nonce)

	balance, err := l.GetBalance(ctx, bob.Address)
	require.NoError(t, err)
	assert.Equal(t, big.NewInt(140), balance)
}
