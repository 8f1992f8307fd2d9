// Package wallet provisions and operates the custodial ledger account of each user.
//
// The address resource in the pod is the "wallet exists" marker. It is written only after
// the sealed key has been stored, so a wallet is never referenced without its key. Absence
// is decided solely by ErrResourceNotFound; any other read fault aborts provisioning.
package wallet

import (
	"context"
	"errors"
	"log/slog"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ruteri/pod-consent-gateway/interfaces"
	"github.com/ruteri/pod-consent-gateway/kms"
	"github.com/ruteri/pod-consent-gateway/locks"
	"github.com/ruteri/pod-consent-gateway/metrics"
	"github.com/ruteri/pod-consent-gateway/storage"
)

// DefaultMaxSubmitAttempts is used when Config.MaxSubmitAttempts is not positive.
const DefaultMaxSubmitAttempts = 2

// Config tunes the wallet manager.
type Config struct {
	// MaxSubmitAttempts bounds submissions of one transfer, each with a fresh nonce.
	MaxSubmitAttempts int
}

// Manager provisions exactly one wallet per user and signs transactions with it.
type Manager struct {
	resources interfaces.ResourceStore
	secrets   interfaces.SecretStore
	ledger    interfaces.Ledger
	sealer    *kms.Sealer
	layout    storage.Layout
	locks     *locks.KeyedMutex
	pending   *Tracker
	cfg       Config
	log       *slog.Logger
}

// NewManager creates a wallet manager.
func NewManager(resources interfaces.ResourceStore, secrets interfaces.SecretStore, ledger interfaces.Ledger, sealer *kms.Sealer, layout storage.Layout, cfg Config, log *slog.Logger) *Manager {
	if cfg.MaxSubmitAttempts <= 0 {
		cfg.MaxSubmitAttempts = DefaultMaxSubmitAttempts
	}
	return &Manager{
		resources: resources,
		secrets:   secrets,
		ledger:    ledger,
		sealer:    sealer,
		layout:    layout,
		locks:     locks.NewKeyedMutex(),
		pending:   NewTracker(resources, layout, ledger, log),
		cfg:       cfg,
		log:       log,
	}
}

// Address returns the user's wallet without provisioning it. It returns ErrWalletNotFound
// only when the store reports the address as absent.
func (m *Manager) Address(ctx context.Context, user interfaces.UserIdentity) (interfaces.WalletHandle, error) {
	if err := user.Validate(); err != nil {
		return interfaces.WalletHandle{}, interfaces.NewOpError(interfaces.ErrWalletNotFound, "read-address", "", err)
	}

	data, err := m.resources.Read(ctx, m.layout.WalletAddressURL(user))
	if errors.Is(err, interfaces.ErrResourceNotFound) {
		return interfaces.WalletHandle{}, interfaces.NewOpError(interfaces.ErrWalletNotFound, "read-address", user.String(), nil)
	}
	if err != nil {
		return interfaces.WalletHandle{}, interfaces.NewOpError(interfaces.ErrStorageUnavailable, "read-address", user.String(), err)
	}

	addr, err := interfaces.NewAddressFromHex(strings.TrimSpace(string(data)))
	if err != nil {
		return interfaces.WalletHandle{}, interfaces.NewOpError(interfaces.ErrStorageUnavailable, "decode-address", user.String(), err)
	}
	return interfaces.WalletHandle{User: user, Address: addr}, nil
}

// EnsureWallet returns the user's wallet, provisioning it if the store reports it absent.
// Concurrent calls for the same user yield the same address.
func (m *Manager) EnsureWallet(ctx context.Context, user interfaces.UserIdentity) (interfaces.WalletHandle, error) {
	if err := user.Validate(); err != nil {
		return interfaces.WalletHandle{}, interfaces.NewOpError(interfaces.ErrWalletProvisioningFailed, "ensure-wallet", "", err)
	}

	h, err := m.Address(ctx, user)
	if err == nil {
		return m.ensurePublished(ctx, h)
	}
	if !errors.Is(err, interfaces.ErrWalletNotFound) {
		return h, err
	}

	unlock, err := m.locks.Lock(ctx, "wallet/"+user.String())
	if err != nil {
		return interfaces.WalletHandle{}, interfaces.NewOpError(interfaces.ErrWalletProvisioningFailed, "lock-wallet", user.String(), err)
	}
	defer unlock()

	// Another caller may have provisioned while we waited.
	h, err = m.Address(ctx, user)
	if err == nil {
		return m.ensurePublished(ctx, h)
	}
	if !errors.Is(err, interfaces.ErrWalletNotFound) {
		return h, err
	}

	return m.provision(ctx, user)
}

// ensurePublished makes a stored wallet address public-readable again when an earlier
// provisioning stopped between writing the address and publishing it.
func (m *Manager) ensurePublished(ctx context.Context, h interfaces.WalletHandle) (interfaces.WalletHandle, error) {
	addressURL := m.layout.WalletAddressURL(h.User)
	access, err := m.resources.Access(ctx, addressURL)
	if err != nil {
		return interfaces.WalletHandle{}, interfaces.NewOpError(interfaces.ErrStorageUnavailable, "address-access", h.User.String(), err)
	}
	if access.Public.Read {
		return h, nil
	}

	if _, err := m.resources.SetAccess(ctx, addressURL, interfaces.PublicRead()); err != nil {
		return interfaces.WalletHandle{}, interfaces.NewOpError(interfaces.ErrWalletProvisioningFailed, "publish-address", h.User.String(), err)
	}
	m.log.Warn("Published wallet address left private by an earlier provisioning",
		slog.String("user", h.User.String()),
		slog.String("address", h.Address.String()))
	return h, nil
}

func (m *Manager) provision(ctx context.Context, user interfaces.UserIdentity) (interfaces.WalletHandle, error) {
	fail := func(op string, err error) (interfaces.WalletHandle, error) {
		m.log.Error("Wallet provisioning failed",
			slog.String("user", user.String()),
			slog.String("op", op),
			"err", err)
		return interfaces.WalletHandle{}, interfaces.NewOpError(interfaces.ErrWalletProvisioningFailed, op, user.String(), err)
	}

	acct, err := m.ledger.CreateAccount(ctx)
	if err != nil {
		return fail("create-account", err)
	}

	sealed, err := m.sealer.Seal(user, crypto.FromECDSA(acct.Key))
	if err != nil {
		return fail("seal-key", err)
	}

	if err := m.secrets.WriteSecret(ctx, m.layout.WalletKeyURL(user), sealed); err != nil {
		return fail("write-key", err)
	}

	addressURL := m.layout.WalletAddressURL(user)
	if _, err := m.resources.Write(ctx, addressURL, []byte(acct.Address.String()), "text/plain"); err != nil {
		return fail("write-address", err)
	}

	if _, err := m.resources.SetAccess(ctx, addressURL, interfaces.PublicRead()); err != nil {
		return fail("publish-address", err)
	}

	metrics.RecordWalletProvisioned()
	m.log.Info("Wallet provisioned",
		slog.String("user", user.String()),
		slog.String("address", acct.Address.String()))

	return interfaces.WalletHandle{User: user, Address: acct.Address, Created: true}, nil
}

// Balance queries the live balance of the user's wallet.
func (m *Manager) Balance(ctx context.Context, user interfaces.UserIdentity) (*big.Int, error) {
	h, err := m.Address(ctx, user)
	if err != nil {
		return nil, err
	}
	return m.ledger.GetBalance(ctx, h.Address)
}

// TransactionCount returns the number of transactions sent from the user's wallet, as
// reported by the ledger nonce.
func (m *Manager) TransactionCount(ctx context.Context, user interfaces.UserIdentity) (uint64, error) {
	h, err := m.Address(ctx, user)
	if err != nil {
		return 0, err
	}
	return m.ledger.GetNonce(ctx, h.Address)
}

// Signer unseals the user's key. Callers must not expose it outside the process.
func (m *Manager) Signer(ctx context.Context, user interfaces.UserIdentity) (interfaces.Account, error) {
	h, err := m.Address(ctx, user)
	if err != nil {
		return interfaces.Account{}, err
	}

	sealed, err := m.secrets.ReadSecret(ctx, m.layout.WalletKeyURL(user))
	if errors.Is(err, interfaces.ErrResourceNotFound) {
		return interfaces.Account{}, interfaces.NewOpError(interfaces.ErrSigningFailed, "read-key", user.String(), err)
	}
	if err != nil {
		return interfaces.Account{}, interfaces.NewOpError(interfaces.ErrStorageUnavailable, "read-key", user.String(), err)
	}

	raw, err := m.sealer.Open(user, sealed)
	if err != nil {
		return interfaces.Account{}, interfaces.NewOpError(interfaces.ErrSigningFailed, "unseal-key", user.String(), err)
	}
	key, err := crypto.ToECDSA(raw)
	if err != nil {
		return interfaces.Account{}, interfaces.NewOpError(interfaces.ErrSigningFailed, "decode-key", user.String(), err)
	}
	if interfaces.Address(crypto.PubkeyToAddress(key.PublicKey)) != h.Address {
		return interfaces.Account{}, interfaces.NewOpError(interfaces.ErrSigningFailed, "verify-key", user.String(),
			errors.New("key does not match the published address"))
	}
	return interfaces.Account{Address: h.Address, Key: key}, nil
}

// Transfer signs and submits a value transfer. Submission failures are retried with a
// fresh nonce; signing failures are not. The receipt is pending and tracked until reconciled.
func (m *Manager) Transfer(ctx context.Context, user interfaces.UserIdentity, to interfaces.Address, amount *big.Int) (interfaces.TransactionReceipt, error) {
	if amount == nil || amount.Sign() < 0 {
		return interfaces.TransactionReceipt{}, interfaces.NewOpError(interfaces.ErrInvalidAmount, "transfer", user.String(), nil)
	}

	acct, err := m.Signer(ctx, user)
	if err != nil {
		return interfaces.TransactionReceipt{}, err
	}

	var handle interfaces.TxHandle
	for attempt := 1; ; attempt++ {
		handle, err = m.submitTransfer(ctx, acct, to, amount)
		metrics.RecordTxSubmission(string(interfaces.TxKindTransfer), err)
		if err == nil {
			break
		}
		if errors.Is(err, interfaces.ErrSigningFailed) || !errors.Is(err, interfaces.ErrTransactionSubmissionFailed) || attempt >= m.cfg.MaxSubmitAttempts {
			m.log.Error("Transfer failed",
				slog.String("user", user.String()),
				slog.Int("attempt", attempt),
				"err", err)
			return interfaces.TransactionReceipt{}, err
		}
		m.log.Warn("Transfer submission failed, retrying with a fresh nonce",
			slog.String("user", user.String()),
			slog.Int("attempt", attempt),
			"err", err)
	}

	receipt := interfaces.TransactionReceipt{
		TxHash: handle.Hash,
		From:   acct.Address,
		To:     to,
		Amount: new(big.Int).Set(amount),
		Nonce:  handle.Nonce,
		Status: interfaces.TxPending,
	}

	recipient := to
	m.Track(ctx, user, interfaces.PendingTx{
		Hash:        handle.Hash,
		Kind:        interfaces.TxKindTransfer,
		From:        acct.Address,
		To:          &recipient,
		Amount:      receipt.Amount,
		Status:      interfaces.TxPending,
		SubmittedAt: handle.SubmittedAt,
	})
	return receipt, nil
}

func (m *Manager) submitTransfer(ctx context.Context, acct interfaces.Account, to interfaces.Address, amount *big.Int) (interfaces.TxHandle, error) {
	nonce, err := m.ledger.GetNonce(ctx, acct.Address)
	if err != nil {
		return interfaces.TxHandle{}, interfaces.NewOpError(interfaces.ErrTransactionSubmissionFailed, "nonce", acct.Address.String(), err)
	}
	return m.ledger.SignAndSend(ctx, interfaces.TxRequest{
		From:  acct.Address,
		To:    &to,
		Value: amount,
		Nonce: nonce,
	}, acct.Key)
}

// Track records a broadcast transaction of the user. A transaction cannot be recalled once
// broadcast, so a failure to record it is logged and not returned.
func (m *Manager) Track(ctx context.Context, user interfaces.UserIdentity, tx interfaces.PendingTx) {
	if err := m.pending.Track(ctx, user, tx); err != nil {
		m.log.Error("Failed to track pending transaction",
			slog.String("user", user.String()),
			slog.String("tx", tx.Hash),
			"err", err)
	}
}

// Pending lists the tracked transactions of the user.
func (m *Manager) Pending(ctx context.Context, user interfaces.UserIdentity) ([]interfaces.PendingTx, error) {
	return m.pending.List(ctx, user)
}

// Reconcile refreshes tracked transactions from ledger receipts.
func (m *Manager) Reconcile(ctx context.Context, user interfaces.UserIdentity) ([]interfaces.PendingTx, error) {
	return m.pending.Reconcile(ctx, user)
}
