package token

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/ruteri/pod-consent-gateway/interfaces"
	"github.com/ruteri/pod-consent-gateway/locks"
	"github.com/ruteri/pod-consent-gateway/metrics"
	"github.com/ruteri/pod-consent-gateway/storage"
)

// Wallets is the part of the wallet manager the issuer signs with.
type Wallets interface {
	EnsureWallet(ctx context.Context, user interfaces.UserIdentity) (interfaces.WalletHandle, error)
	Signer(ctx context.Context, user interfaces.UserIdentity) (interfaces.Account, error)
	Track(ctx context.Context, user interfaces.UserIdentity, tx interfaces.PendingTx)
	Pending(ctx context.Context, user interfaces.UserIdentity) ([]interfaces.PendingTx, error)
}

// Config parameterizes deployed contracts.
type Config struct {
	// Template is the catalog name; empty selects the catalog default.
	Template  string
	Symbol    string
	MaxSupply uint64
	Price     *big.Int
}

// Issuance is the result of IssueConsentToken.
type Issuance struct {
	Record interfaces.TokenRecord

	// Pending is set while the deployment or the sale activation awaits confirmation.
	Pending bool

	// Deployed is set when this call submitted a deployment.
	Deployed bool
}

// Issuer deploys consent tokens and mints them for counterparties.
type Issuer struct {
	resources interfaces.ResourceStore
	publisher interfaces.MetadataPublisher
	ledger    interfaces.Ledger
	wallets   Wallets
	layout    storage.Layout
	locks     *locks.KeyedMutex
	cfg       Config
	now       func() time.Time
	log       *slog.Logger
}

// NewIssuer creates a token issuer.
func NewIssuer(resources interfaces.ResourceStore, publisher interfaces.MetadataPublisher, ledger interfaces.Ledger, wallets Wallets, layout storage.Layout, cfg Config, log *slog.Logger) *Issuer {
	return &Issuer{
		resources: resources,
		publisher: publisher,
		ledger:    ledger,
		wallets:   wallets,
		layout:    layout,
		locks:     locks.NewKeyedMutex(),
		cfg:       cfg,
		now:       func() time.Time { return time.Now().UTC() },
		log:       log,
	}
}

// IssueConsentToken returns the consent token of (user, scope.Name), deploying it if no
// deployment exists. Calls for the same user are serialized.
func (i *Issuer) IssueConsentToken(ctx context.Context, user interfaces.UserIdentity, scope interfaces.DataScope) (Issuance, error) {
	if err := user.Validate(); err != nil {
		return Issuance{}, interfaces.NewOpError(interfaces.ErrTokenDeployFailed, "issue", "", err)
	}
	if err := interfaces.ValidateScopeName(scope.Name); err != nil {
		return Issuance{}, interfaces.NewOpError(interfaces.ErrTokenDeployFailed, "issue", user.String(), err)
	}

	unlock, err := i.locks.Lock(ctx, "token/"+user.String())
	if err != nil {
		return Issuance{}, interfaces.NewOpError(interfaces.ErrTokenDeployFailed, "lock-token", user.String(), err)
	}
	defer unlock()

	rec, err := i.Record(ctx, user, scope.Name)
	switch {
	case err == nil:
		return i.resume(ctx, rec)
	case !errors.Is(err, interfaces.ErrTokenNotFound):
		return Issuance{}, err
	}

	rec, found, err := i.recoverDeploy(ctx, user, scope)
	if err != nil {
		return Issuance{}, err
	}
	if found {
		return i.resume(ctx, rec)
	}
	return i.deploy(ctx, user, scope, "")
}

// recoverDeploy rebuilds the record of a deployment that was broadcast but never recorded,
// from the user's tracked transactions. Only deploys that did not fail are adopted.
func (i *Issuer) recoverDeploy(ctx context.Context, user interfaces.UserIdentity, scope interfaces.DataScope) (interfaces.TokenRecord, bool, error) {
	txs, err := i.wallets.Pending(ctx, user)
	if err != nil {
		return interfaces.TokenRecord{}, false, interfaces.NewOpError(interfaces.ErrTokenDeployFailed, "recover-deploy", user.String(), err)
	}

	var latest *interfaces.PendingTx
	for n := range txs {
		tx := &txs[n]
		if tx.Kind != interfaces.TxKindDeploy || tx.Scope != scope.Name || tx.Contract == nil || tx.Status == interfaces.TxFailed {
			continue
		}
		latest = tx
	}
	if latest == nil {
		return interfaces.TokenRecord{}, false, nil
	}

	rec := interfaces.TokenRecord{
		User:         user,
		Scope:        scope.Name,
		Counterparty: scope.Counterparty,
		Template:     i.cfg.Template,
		Contract:     *latest.Contract,
		DeployTx:     latest.Hash,
		Status:       interfaces.TxPending,
		MetadataURI:  latest.MetadataURI,
		CreatedAt:    latest.SubmittedAt,
	}
	if err := i.writeRecord(ctx, rec); err != nil {
		return interfaces.TokenRecord{}, false, err
	}

	i.log.Warn("Recovered unrecorded consent token deployment",
		slog.String("user", user.String()),
		slog.String("scope", scope.Name),
		slog.String("contract", rec.Contract.String()),
		slog.String("tx", rec.DeployTx))
	return rec, true, nil
}

func (i *Issuer) resume(ctx context.Context, rec interfaces.TokenRecord) (Issuance, error) {
	switch rec.Status {
	case interfaces.TxConfirmed:
		if rec.SaleEnabled {
			return Issuance{Record: rec}, nil
		}
		return i.enableSale(ctx, rec)

	case interfaces.TxFailed:
		return i.redeploy(ctx, rec)
	}

	status, err := i.ledger.TransactionStatus(ctx, rec.DeployTx)
	if err != nil {
		return Issuance{}, interfaces.NewOpError(interfaces.ErrBackendUnavailable, "deploy-status", rec.Contract.String(), err)
	}

	switch status {
	case interfaces.TxConfirmed:
		rec.Status = interfaces.TxConfirmed
		if err := i.writeRecord(ctx, rec); err != nil {
			return Issuance{}, err
		}
		i.log.Info("Consent token deployment confirmed",
			slog.String("user", rec.User.String()),
			slog.String("scope", rec.Scope),
			slog.String("contract", rec.Contract.String()))
		return i.enableSale(ctx, rec)

	case interfaces.TxFailed:
		return i.redeploy(ctx, rec)
	}

	return Issuance{Record: rec, Pending: true}, nil
}

func (i *Issuer) redeploy(ctx context.Context, failed interfaces.TokenRecord) (Issuance, error) {
	i.log.Warn("Consent token deployment failed on chain, redeploying",
		slog.String("user", failed.User.String()),
		slog.String("scope", failed.Scope),
		slog.String("contract", failed.Contract.String()),
		slog.String("tx", failed.DeployTx))
	return i.deploy(ctx, failed.User, interfaces.DataScope{Name: failed.Scope, Counterparty: failed.Counterparty}, failed.MetadataURI)
}

// deploy publishes metadata unless metadataURI is already known, deploys the contract and
// persists its record before enabling the sale.
func (i *Issuer) deploy(ctx context.Context, user interfaces.UserIdentity, scope interfaces.DataScope, metadataURI string) (Issuance, error) {
	if _, err := i.wallets.EnsureWallet(ctx, user); err != nil {
		return Issuance{}, err
	}
	acct, err := i.wallets.Signer(ctx, user)
	if err != nil {
		return Issuance{}, err
	}

	if metadataURI == "" {
		metadataURI, err = i.publishMetadata(ctx, user, scope)
		if err != nil {
			return Issuance{}, interfaces.NewOpError(interfaces.ErrTokenDeployFailed, "publish-metadata", user.String(), err)
		}
	}

	params := interfaces.DeployParams{
		Name:      tokenName(scope.Name),
		Symbol:    i.cfg.Symbol,
		MaxSupply: i.cfg.MaxSupply,
		Price:     i.cfg.Price,
		TokenURI:  metadataURI,
	}
	dep, err := i.ledger.DeployContract(ctx, i.cfg.Template, params, acct.Key)
	if err != nil {
		metrics.RecordTokenDeployment("error")
		i.log.Error("Consent token deployment failed",
			slog.String("user", user.String()),
			slog.String("scope", scope.Name),
			"err", err)
		return Issuance{}, interfaces.NewOpError(interfaces.ErrTokenDeployFailed, "deploy", user.String(), err)
	}
	metrics.RecordTokenDeployment("submitted")

	contract := dep.Contract
	i.wallets.Track(ctx, user, interfaces.PendingTx{
		Hash:        dep.Tx.Hash,
		Kind:        interfaces.TxKindDeploy,
		From:        acct.Address,
		Contract:    &contract,
		Status:      interfaces.TxPending,
		SubmittedAt: dep.Tx.SubmittedAt,
		Scope:       scope.Name,
		MetadataURI: metadataURI,
	})

	rec := interfaces.TokenRecord{
		User:         user,
		Scope:        scope.Name,
		Counterparty: scope.Counterparty,
		Template:     i.cfg.Template,
		Contract:     dep.Contract,
		DeployTx:     dep.Tx.Hash,
		Status:       interfaces.TxPending,
		MetadataURI:  metadataURI,
		CreatedAt:    i.now(),
	}
	if status, err := i.ledger.TransactionStatus(ctx, dep.Tx.Hash); err == nil {
		rec.Status = status
	}

	if err := i.writeRecord(ctx, rec); err != nil {
		i.log.Error("Consent token deployed but its record could not be persisted",
			slog.String("user", user.String()),
			slog.String("scope", scope.Name),
			slog.String("contract", rec.Contract.String()),
			slog.String("tx", rec.DeployTx),
			"err", err)
		return Issuance{}, err
	}

	i.log.Info("Consent token deployment submitted",
		slog.String("user", user.String()),
		slog.String("scope", scope.Name),
		slog.String("contract", rec.Contract.String()),
		slog.String("status", string(rec.Status)))

	switch rec.Status {
	case interfaces.TxConfirmed:
		res, err := i.enableSale(ctx, rec)
		res.Deployed = true
		return res, err
	case interfaces.TxFailed:
		return Issuance{Record: rec, Deployed: true}, interfaces.NewOpError(interfaces.ErrTokenDeployFailed, "deploy", user.String(), errors.New("deployment reverted"))
	}
	return Issuance{Record: rec, Pending: true, Deployed: true}, nil
}

// enableSale opens minting on a confirmed contract, or checks an activation already submitted.
func (i *Issuer) enableSale(ctx context.Context, rec interfaces.TokenRecord) (Issuance, error) {
	if rec.SaleTx != "" {
		status, err := i.ledger.TransactionStatus(ctx, rec.SaleTx)
		if err != nil {
			return Issuance{}, interfaces.NewOpError(interfaces.ErrBackendUnavailable, "sale-status", rec.Contract.String(), err)
		}
		switch status {
		case interfaces.TxPending:
			return Issuance{Record: rec, Pending: true}, nil
		case interfaces.TxConfirmed:
			rec.SaleEnabled = true
			if err := i.writeRecord(ctx, rec); err != nil {
				return Issuance{}, err
			}
			return Issuance{Record: rec}, nil
		}
		// A failed activation is resubmitted.
	}

	acct, err := i.wallets.Signer(ctx, rec.User)
	if err != nil {
		return Issuance{}, err
	}

	h, err := i.ledger.SetSaleActive(ctx, rec.Contract, true, acct.Key)
	metrics.RecordTxSubmission(string(interfaces.TxKindSetSale), err)
	if err != nil {
		return Issuance{}, interfaces.NewOpError(interfaces.ErrTokenDeployFailed, "enable-sale", rec.Contract.String(), err)
	}

	contract := rec.Contract
	i.wallets.Track(ctx, rec.User, interfaces.PendingTx{
		Hash:        h.Hash,
		Kind:        interfaces.TxKindSetSale,
		From:        acct.Address,
		Contract:    &contract,
		Status:      interfaces.TxPending,
		SubmittedAt: h.SubmittedAt,
	})

	rec.SaleTx = h.Hash
	if status, err := i.ledger.TransactionStatus(ctx, h.Hash); err == nil && status == interfaces.TxConfirmed {
		rec.SaleEnabled = true
	}
	if err := i.writeRecord(ctx, rec); err != nil {
		return Issuance{}, err
	}
	return Issuance{Record: rec, Pending: !rec.SaleEnabled}, nil
}

func (i *Issuer) publishMetadata(ctx context.Context, user interfaces.UserIdentity, scope interfaces.DataScope) (string, error) {
	meta := interfaces.TokenMetadata{
		Name:         tokenName(scope.Name),
		Description:  fmt.Sprintf("Consent of %s to share %q with %s.", user, scope.Name, scope.Counterparty),
		Scope:        scope.Name,
		ScopeURL:     i.layout.ScopeURL(user, scope.Name),
		Issuer:       user,
		Counterparty: scope.Counterparty,
		IssuedAt:     i.now(),
	}
	data, err := json.Marshal(meta)
	if err != nil {
		return "", err
	}
	return i.publisher.Publish(ctx, i.layout.TokenMetadataURL(user, scope.Name), data)
}

func (i *Issuer) writeRecord(ctx context.Context, rec interfaces.TokenRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return interfaces.NewOpError(interfaces.ErrTokenDeployFailed, "encode-token-record", rec.User.String(), err)
	}
	url := i.layout.TokenRecordURL(rec.User, rec.Scope)
	if _, err := i.resources.Write(ctx, url, data, "application/json"); err != nil {
		return interfaces.NewOpError(interfaces.ErrTokenDeployFailed, "write-token-record", rec.User.String(), err)
	}
	if _, err := i.resources.SetAccess(ctx, url, interfaces.PublicRead()); err != nil {
		return interfaces.NewOpError(interfaces.ErrTokenDeployFailed, "publish-token-record", rec.User.String(), err)
	}
	return nil
}

// Record returns the persisted token record of (user, scopeName), or ErrTokenNotFound.
func (i *Issuer) Record(ctx context.Context, user interfaces.UserIdentity, scopeName string) (interfaces.TokenRecord, error) {
	if err := interfaces.ValidateScopeName(scopeName); err != nil {
		return interfaces.TokenRecord{}, interfaces.NewOpError(interfaces.ErrTokenNotFound, "read-token-record", user.String(), err)
	}

	data, err := i.resources.Read(ctx, i.layout.TokenRecordURL(user, scopeName))
	if errors.Is(err, interfaces.ErrResourceNotFound) {
		return interfaces.TokenRecord{}, interfaces.NewOpError(interfaces.ErrTokenNotFound, "read-token-record", user.String(), nil)
	}
	if err != nil {
		return interfaces.TokenRecord{}, interfaces.NewOpError(interfaces.ErrStorageUnavailable, "read-token-record", user.String(), err)
	}

	var rec interfaces.TokenRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return interfaces.TokenRecord{}, interfaces.NewOpError(interfaces.ErrStorageUnavailable, "decode-token-record", user.String(), err)
	}
	return rec, nil
}

func tokenName(scope string) string {
	return "Consent: " + scope
}
