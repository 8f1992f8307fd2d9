package gateway

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/ruteri/pod-consent-gateway/interfaces"
	"github.com/ruteri/pod-consent-gateway/locks"
	"github.com/ruteri/pod-consent-gateway/metrics"
	"github.com/ruteri/pod-consent-gateway/preferences"
	"github.com/ruteri/pod-consent-gateway/storage"
	"github.com/ruteri/pod-consent-gateway/token"
	"github.com/ruteri/pod-consent-gateway/wallet"
)

// Config selects the side effects of a grant.
type Config struct {
	// MintOnGrant mints a consent token for the requester with its own wallet.
	MintOnGrant bool

	// GrantAppend adds Append to the Read mode granted on the scope.
	GrantAppend bool
}

// Gateway is the access decision point.
type Gateway struct {
	prefs     *preferences.Store
	wallets   *wallet.Manager
	tokens    *token.Issuer
	resources interfaces.ResourceStore
	layout    storage.Layout
	mints     *locks.KeyedMutex
	cfg       Config
	now       func() time.Time
	log       *slog.Logger
}

// New creates a gateway.
func New(prefs *preferences.Store, wallets *wallet.Manager, tokens *token.Issuer, resources interfaces.ResourceStore, layout storage.Layout, cfg Config, log *slog.Logger) *Gateway {
	return &Gateway{
		prefs:     prefs,
		wallets:   wallets,
		tokens:    tokens,
		resources: resources,
		layout:    layout,
		mints:     locks.NewKeyedMutex(),
		cfg:       cfg,
		now:       func() time.Time { return time.Now().UTC() },
		log:       log,
	}
}

// Preferences returns the preference store.
func (g *Gateway) Preferences() *preferences.Store {
	return g.prefs
}

// Wallets returns the wallet manager.
func (g *Gateway) Wallets() *wallet.Manager {
	return g.wallets
}

// Tokens returns the token issuer.
func (g *Gateway) Tokens() *token.Issuer {
	return g.tokens
}

func (g *Gateway) modes() interfaces.AccessModes {
	return interfaces.AccessModes{Read: true, Append: g.cfg.GrantAppend}
}

// Authorize decides whether requester may access the scope of user. Policy denials return
// a nil error; faults return a Denied decision with ReasonUpstreamFault and the error.
func (g *Gateway) Authorize(ctx context.Context, requester, user interfaces.UserIdentity, scopeName string) (interfaces.Decision, error) {
	if err := requester.Validate(); err != nil {
		return g.fault(requester, user, scopeName, interfaces.NewOpError(interfaces.ErrUnauthenticated, "authorize", "", err))
	}
	if err := user.Validate(); err != nil {
		return g.fault(requester, user, scopeName, interfaces.NewOpError(interfaces.ErrGrantFailed, "authorize", "", err))
	}
	if err := interfaces.ValidateScopeName(scopeName); err != nil {
		return g.fault(requester, user, scopeName, interfaces.NewOpError(interfaces.ErrGrantFailed, "authorize", user.String(), err))
	}

	if requester == user {
		return g.decide(requester, user, scopeName, interfaces.Decision{Outcome: interfaces.Granted, Reason: interfaces.ReasonSelfAccess}), nil
	}

	pref, err := g.prefs.Get(ctx, user, requester)
	if err != nil {
		return g.fault(requester, user, scopeName, err)
	}

	if !pref.Flags.ThirdParty {
		reason := interfaces.ReasonExplicitDeny
		if !pref.Persisted {
			reason = interfaces.ReasonNoPreference
		}
		revoked, err := g.revoke(ctx, user, scopeName, requester)
		if err != nil {
			return g.fault(requester, user, scopeName, err)
		}
		return g.decide(requester, user, scopeName, interfaces.Decision{Outcome: interfaces.Denied, Reason: reason, Revoked: revoked}), nil
	}

	return g.grant(ctx, requester, user, scopeName)
}

func (g *Gateway) grant(ctx context.Context, requester, user interfaces.UserIdentity, scopeName string) (interfaces.Decision, error) {
	abort := func(op string) error {
		if err := ctx.Err(); err != nil {
			return interfaces.NewOpError(interfaces.ErrGrantFailed, op, user.String(), err)
		}
		return nil
	}

	if err := abort("ensure-wallet"); err != nil {
		return g.fault(requester, user, scopeName, err)
	}
	if _, err := g.wallets.EnsureWallet(ctx, user); err != nil {
		return g.fault(requester, user, scopeName, err)
	}

	if err := abort("issue-token"); err != nil {
		return g.fault(requester, user, scopeName, err)
	}
	issuance, err := g.tokens.IssueConsentToken(ctx, user, interfaces.DataScope{Name: scopeName, Counterparty: requester})
	if err != nil {
		return g.fault(requester, user, scopeName, err)
	}
	contract := issuance.Record.Contract

	prior, _, err := g.readGrant(ctx, user, scopeName, requester)
	if err != nil {
		return g.fault(requester, user, scopeName, err)
	}

	mintTx := prior.MintTx
	if g.cfg.MintOnGrant && !issuance.Pending {
		if err := abort("mint"); err != nil {
			return g.fault(requester, user, scopeName, err)
		}
		tx, err := g.mintIfNeeded(ctx, requester, contract)
		if err != nil {
			return g.fault(requester, user, scopeName, err)
		}
		if tx != "" {
			mintTx = tx
		}
	}

	if err := abort("grant-acl"); err != nil {
		return g.fault(requester, user, scopeName, err)
	}
	modes := g.modes()
	if _, err := g.resources.SetAccess(ctx, g.layout.ScopeURL(user, scopeName), interfaces.AgentAccess(requester, modes)); err != nil {
		return g.fault(requester, user, scopeName, interfaces.NewOpError(interfaces.ErrGrantFailed, "grant-acl", user.String(), err))
	}

	rec := interfaces.GrantRecord{
		ID:           prior.ID,
		User:         user,
		Scope:        scopeName,
		Counterparty: requester,
		Contract:     contract,
		Modes:        modes,
		MintTx:       mintTx,
		Active:       true,
		GrantedAt:    g.now(),
	}
	if prior.Active {
		rec.GrantedAt = prior.GrantedAt
	}
	if err := g.writeGrant(ctx, rec); err != nil {
		return g.fault(requester, user, scopeName, err)
	}

	return g.decide(requester, user, scopeName, interfaces.Decision{
		Outcome:      interfaces.Granted,
		Reason:       interfaces.ReasonConsented,
		Contract:     contract,
		TokenPending: issuance.Pending,
		MintTx:       mintTx,
	}), nil
}

// mintIfNeeded mints for the requester unless it already holds a token of the contract or
// a mint of it is still pending. It returns the hash of a submitted or pending mint.
func (g *Gateway) mintIfNeeded(ctx context.Context, requester interfaces.UserIdentity, contract interfaces.ContractAddress) (string, error) {
	unlock, err := g.mints.Lock(ctx, requester.String()+"/"+contract.String())
	if err != nil {
		return "", interfaces.NewOpError(interfaces.ErrGrantFailed, "lock-mint", requester.String(), err)
	}
	defer unlock()

	h, err := g.wallets.EnsureWallet(ctx, requester)
	if err != nil {
		return "", err
	}

	held, err := g.tokens.Holds(ctx, contract, h.Address)
	if err != nil {
		return "", err
	}
	if held {
		return "", nil
	}

	txs, err := g.wallets.Reconcile(ctx, requester)
	if err != nil {
		return "", err
	}
	for _, tx := range txs {
		if tx.Kind == interfaces.TxKindMint && tx.Contract != nil && *tx.Contract == contract && tx.Status == interfaces.TxPending {
			return tx.Hash, nil
		}
	}

	receipt, err := g.tokens.MintFor(ctx, requester, contract)
	if err != nil {
		return "", err
	}
	return receipt.TxHash, nil
}

// Revoke removes the ACL entry of counterparty on the scope. Tokens already minted are kept.
// It reports whether a grant was removed.
func (g *Gateway) Revoke(ctx context.Context, user interfaces.UserIdentity, scopeName string, counterparty interfaces.UserIdentity) (bool, error) {
	if err := interfaces.ValidateScopeName(scopeName); err != nil {
		return false, interfaces.NewOpError(interfaces.ErrGrantFailed, "revoke", user.String(), err)
	}
	return g.revoke(ctx, user, scopeName, counterparty)
}

// revoke writes only when the counterparty holds an ACL entry or an active grant record.
func (g *Gateway) revoke(ctx context.Context, user interfaces.UserIdentity, scopeName string, counterparty interfaces.UserIdentity) (bool, error) {
	rec, found, err := g.readGrant(ctx, user, scopeName, counterparty)
	if err != nil {
		return false, err
	}

	scopeURL := g.layout.ScopeURL(user, scopeName)
	access, err := g.resources.Access(ctx, scopeURL)
	if err != nil && !errors.Is(err, interfaces.ErrResourceNotFound) {
		return false, interfaces.NewOpError(interfaces.ErrGrantFailed, "read-acl", user.String(), err)
	}
	hasEntry := err == nil && !access.AgentModes(counterparty).None()
	activeRecord := found && rec.Active

	if !hasEntry && !activeRecord {
		return false, nil
	}

	if hasEntry {
		if _, err := g.resources.SetAccess(ctx, scopeURL, interfaces.AgentAccess(counterparty, interfaces.AccessModes{})); err != nil {
			return false, interfaces.NewOpError(interfaces.ErrGrantFailed, "revoke-acl", user.String(), err)
		}
	}

	if activeRecord {
		revokedAt := g.now()
		rec.Active = false
		rec.RevokedAt = &revokedAt
		if err := g.writeGrant(ctx, rec); err != nil {
			return false, err
		}
	}

	metrics.RecordRevocation()
	g.log.Info("Access revoked",
		slog.String("user", user.String()),
		slog.String("scope", scopeName),
		slog.String("counterparty", counterparty.String()),
		slog.String("contract", rec.Contract.String()))
	return true, nil
}

func (g *Gateway) decide(requester, user interfaces.UserIdentity, scopeName string, d interfaces.Decision) interfaces.Decision {
	metrics.RecordDecision(string(d.Outcome), string(d.Reason))
	g.log.Info("Authorization decided",
		slog.String("requester", requester.String()),
		slog.String("user", user.String()),
		slog.String("scope", scopeName),
		slog.String("outcome", string(d.Outcome)),
		slog.String("reason", string(d.Reason)))
	return d
}

func (g *Gateway) fault(requester, user interfaces.UserIdentity, scopeName string, err error) (interfaces.Decision, error) {
	metrics.RecordDecision(string(interfaces.Denied), string(interfaces.ReasonUpstreamFault))
	g.log.Warn("Authorization failed",
		slog.String("requester", requester.String()),
		slog.String("user", user.String()),
		slog.String("scope", scopeName),
		slog.Bool("retryable", interfaces.Retryable(err)),
		"err", err)
	return interfaces.Decision{Outcome: interfaces.Denied, Reason: interfaces.ReasonUpstreamFault}, err
}
