package wallet

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math/big"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ruteri/pod-consent-gateway/interfaces"
	"github.com/ruteri/pod-consent-gateway/kms"
	"github.com/ruteri/pod-consent-gateway/ledger"
	"github.com/ruteri/pod-consent-gateway/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

const (
	alice = interfaces.UserIdentity("https://alice.example/profile/card#me")
	bob   = interfaces.UserIdentity("https://bob.example/profile/card#me")
)

var oneEther = big.NewInt(1_000_000_000_000_000_000)

type testEnv struct {
	mem     *storage.MemoryStore
	layout  storage.Layout
	sealer  *kms.Sealer
	manager *Manager
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestEnv(t *testing.T, l interfaces.Ledger) *testEnv {
	t.Helper()

	log := testLogger()
	mem := storage.NewMemoryStore("mem://pods/", log)
	layout := storage.NewLayout(mem.Base())
	sealer, err := kms.NewSealer([]byte(strings.Repeat("k", 32)))
	require.NoError(t, err)

	return &testEnv{
		mem:     mem,
		layout:  layout,
		sealer:  sealer,
		manager: NewManager(mem, storage.NewPodSecretStore(mem, log), l, sealer, layout, Config{}, log),
	}
}

func (e *testEnv) writesTo(url string) int {
	n := 0
	for _, m := range e.mem.Mutations() {
		if m.Op == "write" && m.URL == url {
			n++
		}
	}
	return n
}

func TestEnsureWalletConcurrent(t *testing.T) {
	env := newTestEnv(t, ledger.NewMemoryLedger(oneEther))

	const callers = 16
	handles := make([]interfaces.WalletHandle, callers)
	var g errgroup.Group
	for i := 0; i < callers; i++ {
		g.Go(func() error {
			h, err := env.manager.EnsureWallet(context.Background(), alice)
			handles[i] = h
			return err
		})
	}
	require.NoError(t, g.Wait())

	created := 0
	for _, h := range handles {
		assert.Equal(t, handles[0].Address, h.Address)
		if h.Created {
			created++
		}
	}
	assert.Equal(t, 1, created)
	assert.Equal(t, 1, env.writesTo(env.layout.WalletAddressURL(alice)))
	assert.Equal(t, 1, env.writesTo(env.layout.WalletKeyURL(alice)))

	again, err := env.manager.EnsureWallet(context.Background(), alice)
	require.NoError(t, err)
	assert.False(t, again.Created)
	assert.Equal(t, handles[0].Address, again.Address)
}

func TestEnsureWalletTransientReadDoesNotProvision(t *testing.T) {
	led := new(ledger.MockLedger)
	env := newTestEnv(t, led)

	env.mem.InjectFault(func(op, url string) error {
		if op == "read" {
			return errors.New("connection reset")
		}
		return nil
	})

	_, err := env.manager.EnsureWallet(context.Background(), alice)
	require.Error(t, err)
	assert.ErrorIs(t, err, interfaces.ErrStorageUnavailable)
	assert.NotErrorIs(t, err, interfaces.ErrWalletNotFound)
	assert.True(t, interfaces.Retryable(err))

	led.AssertNotCalled(t, "CreateAccount", mock.Anything)
	assert.Empty(t, env.mem.Mutations())
}

func TestEnsureWalletPublishesAddressOnly(t *testing.T) {
	env := newTestEnv(t, ledger.NewMemoryLedger(oneEther))
	ctx := context.Background()

	h, err := env.manager.EnsureWallet(ctx, alice)
	require.NoError(t, err)
	assert.True(t, h.Created)

	addrAccess, err := env.mem.Access(ctx, env.layout.WalletAddressURL(alice))
	require.NoError(t, err)
	assert.True(t, addrAccess.Public.Read)

	keyAccess, err := env.mem.Access(ctx, env.layout.WalletKeyURL(alice))
	require.NoError(t, err)
	assert.False(t, keyAccess.Public.Read)

	stored, err := env.mem.Read(ctx, env.layout.WalletAddressURL(alice))
	require.NoError(t, err)
	assert.Equal(t, h.Address.String(), string(stored))

	acct, err := env.manager.Signer(ctx, alice)
	require.NoError(t, err)
	assert.Equal(t, h.Address, acct.Address)

	sealed, err := env.mem.Read(ctx, env.layout.WalletKeyURL(alice))
	require.NoError(t, err)
	assert.NotContains(t, string(sealed), string(crypto.FromECDSA(acct.Key)))
}

func TestProvisioningFailureLeavesNoWallet(t *testing.T) {
	env := newTestEnv(t, ledger.NewMemoryLedger(oneEther))
	ctx := context.Background()
	keyURL := env.layout.WalletKeyURL(alice)

	env.mem.InjectFault(func(op, url string) error {
		if op == "write" && url == keyURL {
			return errors.New("quota exceeded")
		}
		return nil
	})

	_, err := env.manager.EnsureWallet(ctx, alice)
	require.Error(t, err)
	assert.ErrorIs(t, err, interfaces.ErrWalletProvisioningFailed)

	env.mem.InjectFault(nil)

	_, err = env.manager.Address(ctx, alice)
	assert.ErrorIs(t, err, interfaces.ErrWalletNotFound)

	h, err := env.manager.EnsureWallet(ctx, alice)
	require.NoError(t, err)
	assert.True(t, h.Created)
}

func TestEnsureWalletRepublishesAddress(t *testing.T) {
	env := newTestEnv(t, ledger.NewMemoryLedger(oneEther))
	ctx := context.Background()
	addressURL := env.layout.WalletAddressURL(alice)

	env.mem.InjectFault(func(op, url string) error {
		if op == "set-access" && url == addressURL {
			return errors.New("acl server unavailable")
		}
		return nil
	})

	_, err := env.manager.EnsureWallet(ctx, alice)
	assert.ErrorIs(t, err, interfaces.ErrWalletProvisioningFailed)

	stored, err := env.manager.Address(ctx, alice)
	require.NoError(t, err)
	access, err := env.mem.Access(ctx, addressURL)
	require.NoError(t, err)
	assert.False(t, access.Public.Read)

	// Publishing keeps failing: the wallet is reported, not silently left private.
	_, err = env.manager.EnsureWallet(ctx, alice)
	assert.ErrorIs(t, err, interfaces.ErrWalletProvisioningFailed)

	env.mem.InjectFault(nil)

	h, err := env.manager.EnsureWallet(ctx, alice)
	require.NoError(t, err)
	assert.False(t, h.Created)
	assert.Equal(t, stored.Address, h.Address)
	assert.Equal(t, 1, env.writesTo(addressURL))

	access, err = env.mem.Access(ctx, addressURL)
	require.NoError(t, err)
	assert.True(t, access.Public.Read)
}

func TestEnsureWalletAccessReadFailure(t *testing.T) {
	env := newTestEnv(t, ledger.NewMemoryLedger(oneEther))
	ctx := context.Background()

	_, err := env.manager.EnsureWallet(ctx, alice)
	require.NoError(t, err)

	env.mem.InjectFault(func(op, url string) error {
		if op == "access" {
			return errors.New("connection reset")
		}
		return nil
	})

	_, err = env.manager.EnsureWallet(ctx, alice)
	assert.ErrorIs(t, err, interfaces.ErrStorageUnavailable)
	assert.True(t, interfaces.Retryable(err))
}

func TestProvisioningLedgerFailure(t *testing.T) {
	led := ledger.NewMemoryLedger(oneEther)
	env := newTestEnv(t, led)

	led.FailNext(ledger.OpCreateAccount, errors.New("rpc down"))

	_, err := env.manager.EnsureWallet(context.Background(), alice)
	assert.ErrorIs(t, err, interfaces.ErrWalletProvisioningFailed)
	assert.Empty(t, env.mem.Mutations())
}

func TestSignerRejectsForeignKey(t *testing.T) {
	env := newTestEnv(t, ledger.NewMemoryLedger(oneEther))
	ctx := context.Background()

	_, err := env.manager.EnsureWallet(ctx, alice)
	require.NoError(t, err)

	other, err := crypto.GenerateKey()
	require.NoError(t, err)
	sealed, err := env.sealer.Seal(alice, crypto.FromECDSA(other))
	require.NoError(t, err)
	_, err = env.mem.Write(ctx, env.layout.WalletKeyURL(alice), sealed, "application/octet-stream")
	require.NoError(t, err)

	_, err = env.manager.Signer(ctx, alice)
	assert.ErrorIs(t, err, interfaces.ErrSigningFailed)
	assert.False(t, interfaces.Retryable(err))
}

func TestBalanceAndTransactionCount(t *testing.T) {
	env := newTestEnv(t, ledger.NewMemoryLedger(oneEther))
	ctx := context.Background()

	_, err := env.manager.Balance(ctx, alice)
	assert.ErrorIs(t, err, interfaces.ErrWalletNotFound)

	_, err = env.manager.EnsureWallet(ctx, alice)
	require.NoError(t, err)
	bobWallet, err := env.manager.EnsureWallet(ctx, bob)
	require.NoError(t, err)

	balance, err := env.manager.Balance(ctx, alice)
	require.NoError(t, err)
	assert.Equal(t, 0, oneEther.Cmp(balance))

	count, err := env.manager.TransactionCount(ctx, alice)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), count)

	_, err = env.manager.Transfer(ctx, alice, bobWallet.Address, big.NewInt(1000))
	require.NoError(t, err)

	count, err = env.manager.TransactionCount(ctx, alice)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), count)

	balance, err = env.manager.Balance(ctx, alice)
	require.NoError(t, err)
	assert.Equal(t, 0, new(big.Int).Sub(oneEther, big.NewInt(1000)).Cmp(balance))
}

func TestTransferRetriesWithFreshNonce(t *testing.T) {
	led := ledger.NewMemoryLedger(oneEther)
	env := newTestEnv(t, led)
	ctx := context.Background()

	_, err := env.manager.EnsureWallet(ctx, alice)
	require.NoError(t, err)
	to := interfaces.Address{0x42}

	led.FailNext(ledger.OpSend, errors.New("nonce too low"))

	receipt, err := env.manager.Transfer(ctx, alice, to, big.NewInt(5))
	require.NoError(t, err)
	assert.Equal(t, interfaces.TxPending, receipt.Status)
	assert.Equal(t, to, receipt.To)
	assert.NotEmpty(t, receipt.TxHash)

	pending, err := env.manager.Pending(ctx, alice)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, receipt.TxHash, pending[0].Hash)
	assert.Equal(t, interfaces.TxKindTransfer, pending[0].Kind)
}

func TestTransferGivesUpAfterMaxAttempts(t *testing.T) {
	led := ledger.NewMemoryLedger(oneEther)
	env := newTestEnv(t, led)
	ctx := context.Background()

	_, err := env.manager.EnsureWallet(ctx, alice)
	require.NoError(t, err)

	led.FailNext(ledger.OpSend, errors.New("replacement underpriced"))
	led.FailNext(ledger.OpSend, errors.New("replacement underpriced"))

	_, err = env.manager.Transfer(ctx, alice, interfaces.Address{0x42}, big.NewInt(5))
	require.Error(t, err)
	assert.ErrorIs(t, err, interfaces.ErrTransactionSubmissionFailed)
	assert.True(t, interfaces.Retryable(err))

	pending, err := env.manager.Pending(ctx, alice)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestTransferSigningFailureIsFatal(t *testing.T) {
	led := new(ledger.MockLedger)
	env := newTestEnv(t, led)
	ctx := context.Background()

	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	addr := interfaces.Address(crypto.PubkeyToAddress(key.PublicKey))

	led.On("CreateAccount", mock.Anything).Return(interfaces.Account{Address: addr, Key: key}, nil).Once()
	led.On("GetNonce", mock.Anything, addr).Return(uint64(3), nil)
	led.On("SignAndSend", mock.Anything, mock.Anything, mock.Anything).
		Return(interfaces.TxHandle{}, interfaces.NewOpError(interfaces.ErrSigningFailed, "sign", addr.String(), errors.New("bad key"))).Once()

	_, err = env.manager.EnsureWallet(ctx, alice)
	require.NoError(t, err)

	_, err = env.manager.Transfer(ctx, alice, interfaces.Address{0x42}, big.NewInt(5))
	assert.ErrorIs(t, err, interfaces.ErrSigningFailed)

	led.AssertNumberOfCalls(t, "SignAndSend", 1)
	led.AssertExpectations(t)
}

func TestTransferRejectsInvalidAmount(t *testing.T) {
	env := newTestEnv(t, ledger.NewMemoryLedger(oneEther))

	_, err := env.manager.Transfer(context.Background(), alice, interfaces.Address{0x42}, big.NewInt(-1))
	assert.ErrorIs(t, err, interfaces.ErrInvalidAmount)

	_, err = env.manager.Transfer(context.Background(), alice, interfaces.Address{0x42}, nil)
	assert.ErrorIs(t, err, interfaces.ErrInvalidAmount)
}

func TestReconcile(t *testing.T) {
	led := ledger.NewMemoryLedger(oneEther)
	env := newTestEnv(t, led)
	ctx := context.Background()

	_, err := env.manager.EnsureWallet(ctx, alice)
	require.NoError(t, err)

	led.SetManualMining(true)
	first, err := env.manager.Transfer(ctx, alice, interfaces.Address{0x01}, big.NewInt(1))
	require.NoError(t, err)
	second, err := env.manager.Transfer(ctx, alice, interfaces.Address{0x02}, big.NewInt(2))
	require.NoError(t, err)

	txs, err := env.manager.Reconcile(ctx, alice)
	require.NoError(t, err)
	require.Len(t, txs, 2)
	for _, tx := range txs {
		assert.Equal(t, interfaces.TxPending, tx.Status)
	}

	led.FailTx(second.TxHash)
	led.Mine()

	txs, err = env.manager.Reconcile(ctx, alice)
	require.NoError(t, err)
	status := map[string]interfaces.TxStatus{}
	for _, tx := range txs {
		status[tx.Hash] = tx.Status
	}
	assert.Equal(t, interfaces.TxConfirmed, status[first.TxHash])
	assert.Equal(t, interfaces.TxFailed, status[second.TxHash])

	stored, err := env.manager.Pending(ctx, alice)
	require.NoError(t, err)
	for _, tx := range stored {
		assert.True(t, tx.Final(), tx.Hash)
	}
}

func TestReconcileLedgerFault(t *testing.T) {
	led := ledger.NewMemoryLedger(oneEther)
	env := newTestEnv(t, led)
	ctx := context.Background()

	_, err := env.manager.EnsureWallet(ctx, alice)
	require.NoError(t, err)
	led.SetManualMining(true)
	_, err = env.manager.Transfer(ctx, alice, interfaces.Address{0x01}, big.NewInt(1))
	require.NoError(t, err)

	led.FailNext(ledger.OpStatus, errors.New("rpc timeout"))
	_, err = env.manager.Reconcile(ctx, alice)
	assert.Error(t, err)

	txs, err := env.manager.Reconcile(ctx, alice)
	require.NoError(t, err)
	require.Len(t, txs, 1)
	assert.Equal(t, interfaces.TxPending, txs[0].Status)
}
