package httpserver

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/ruteri/pod-consent-gateway/gateway"
	"github.com/ruteri/pod-consent-gateway/identity"
	"github.com/ruteri/pod-consent-gateway/interfaces"
)

// maxBodySize is the maximum allowed request body size (1MB).
const maxBodySize = 1024 * 1024

// Handler serves the consent gateway API.
type Handler struct {
	gateway  *gateway.Gateway
	identity interfaces.IdentityProvider
	log      *slog.Logger
}

// NewHandler creates a new HTTP request handler.
func NewHandler(gw *gateway.Gateway, provider interfaces.IdentityProvider, log *slog.Logger) *Handler {
	return &Handler{
		gateway:  gw,
		identity: provider,
		log:      log,
	}
}

// Routes returns the /api router.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(requestID)
	r.Use(identity.Middleware(h.identity, h.log))

	r.Get("/tokens/record", h.HandleTokenRecord)
	r.Get("/tokens/{contract}/owners", h.HandleOwners)

	r.Group(func(r chi.Router) {
		r.Use(h.requireUser)

		r.Get("/preferences", h.HandleListPreferences)
		r.Get("/preferences/counterparty", h.HandleGetPreference)
		r.Put("/preferences", h.HandleSetPreference)

		r.Post("/authorize", h.HandleAuthorize)

		r.Get("/wallet", h.HandleWallet)
		r.Get("/wallet/balance", h.HandleBalance)
		r.Post("/wallet/transfer", h.HandleTransfer)
		r.Get("/wallet/transactions", h.HandleTransactions)

		r.Post("/tokens", h.HandleIssueToken)
		r.Post("/tokens/mint", h.HandleMint)

		r.Get("/grants", h.HandleGetGrant)
		r.Delete("/grants", h.HandleRevoke)
	})
	return r
}

func (h *Handler) requireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := identity.UserFromContext(r.Context()); !ok {
			h.writeError(w, r, interfaces.ErrUnauthenticated)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func caller(r *http.Request) interfaces.UserIdentity {
	user, _ := identity.UserFromContext(r.Context())
	return user
}

func decodeBody(r *http.Request, v any) error {
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodySize)).Decode(v); err != nil {
		return badRequest(fmt.Errorf("invalid request body: %w", err))
	}
	return nil
}

func requiredQuery(r *http.Request, name string) (string, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return "", badRequest(fmt.Errorf("missing %q query parameter", name))
	}
	return v, nil
}

func parseAddress(s string) (interfaces.Address, error) {
	addr, err := interfaces.NewAddressFromHex(s)
	if err != nil {
		return interfaces.Address{}, badRequest(fmt.Errorf("invalid address %q: %w", s, err))
	}
	return addr, nil
}

type preferenceRequest struct {
	Counterparty interfaces.UserIdentity `json:"counterparty"`
	Flags        interfaces.ConsentFlags `json:"flags"`
}

type preferenceResponse struct {
	interfaces.PreferenceRecord
	Persisted bool `json:"persisted"`
}

func toPreferenceResponse(rec interfaces.PreferenceRecord) preferenceResponse {
	return preferenceResponse{PreferenceRecord: rec, Persisted: rec.Persisted}
}

// HandleListPreferences lists the caller's persisted preferences.
func (h *Handler) HandleListPreferences(w http.ResponseWriter, r *http.Request) {
	records, err := h.gateway.Preferences().List(r.Context(), caller(r))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	res := make([]preferenceResponse, 0, len(records))
	for _, rec := range records {
		res = append(res, toPreferenceResponse(rec))
	}
	h.writeJSON(w, http.StatusOK, res)
}

// HandleGetPreference returns the caller's preference for one counterparty.
func (h *Handler) HandleGetPreference(w http.ResponseWriter, r *http.Request) {
	counterparty, err := requiredQuery(r, "id")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	rec, err := h.gateway.Preferences().Get(r.Context(), caller(r), interfaces.UserIdentity(counterparty))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, toPreferenceResponse(rec))
}

// HandleSetPreference sets the caller's flags for a counterparty. Only the caller's own
// records can be written.
func (h *Handler) HandleSetPreference(w http.ResponseWriter, r *http.Request) {
	var req preferenceRequest
	if err := decodeBody(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	if err := req.Counterparty.Validate(); err != nil {
		h.writeError(w, r, badRequest(err))
		return
	}

	rec, err := h.gateway.Preferences().Set(r.Context(), caller(r), req.Counterparty, req.Flags)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, toPreferenceResponse(rec))
}

type authorizeRequest struct {
	User  interfaces.UserIdentity `json:"user"`
	Scope string                  `json:"scope"`
}

// HandleAuthorize decides whether the caller may access the scope of a user.
func (h *Handler) HandleAuthorize(w http.ResponseWriter, r *http.Request) {
	var req authorizeRequest
	if err := decodeBody(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	if err := req.User.Validate(); err != nil {
		h.writeError(w, r, badRequest(err))
		return
	}
	if err := interfaces.ValidateScopeName(req.Scope); err != nil {
		h.writeError(w, r, badRequest(err))
		return
	}

	decision, err := h.gateway.Authorize(r.Context(), caller(r), req.User, req.Scope)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, decision)
}

type walletResponse struct {
	Address interfaces.Address `json:"address"`
	Created bool               `json:"created"`
	Balance string             `json:"balance"`
}

// HandleWallet ensures the caller's wallet and returns it with its live balance.
func (h *Handler) HandleWallet(w http.ResponseWriter, r *http.Request) {
	wallets := h.gateway.Wallets()
	handle, err := wallets.EnsureWallet(r.Context(), caller(r))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	balance, err := wallets.Balance(r.Context(), caller(r))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, walletResponse{Address: handle.Address, Created: handle.Created, Balance: balance.String()})
}

// HandleBalance returns the live balance of the caller's existing wallet.
func (h *Handler) HandleBalance(w http.ResponseWriter, r *http.Request) {
	wallets := h.gateway.Wallets()
	handle, err := wallets.Address(r.Context(), caller(r))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	balance, err := wallets.Balance(r.Context(), caller(r))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, walletResponse{Address: handle.Address, Balance: balance.String()})
}

type transferRequest struct {
	To     string `json:"to"`
	Amount string `json:"amount"`
}

// HandleTransfer submits a transfer from the caller's wallet. The amount is a base-10 wei string.
func (h *Handler) HandleTransfer(w http.ResponseWriter, r *http.Request) {
	var req transferRequest
	if err := decodeBody(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	to, err := parseAddress(req.To)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	amount, ok := new(big.Int).SetString(req.Amount, 10)
	if !ok {
		h.writeError(w, r, interfaces.NewOpError(interfaces.ErrInvalidAmount, "transfer", caller(r).String(), fmt.Errorf("cannot parse %q", req.Amount)))
		return
	}

	receipt, err := h.gateway.Wallets().Transfer(r.Context(), caller(r), to, amount)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusAccepted, receipt)
}

type transactionsResponse struct {
	Count        uint64                 `json:"count"`
	Transactions []interfaces.PendingTx `json:"transactions"`
}

// HandleTransactions reconciles and lists the caller's tracked transactions.
func (h *Handler) HandleTransactions(w http.ResponseWriter, r *http.Request) {
	wallets := h.gateway.Wallets()
	count, err := wallets.TransactionCount(r.Context(), caller(r))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	txs, err := wallets.Reconcile(r.Context(), caller(r))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if txs == nil {
		txs = []interfaces.PendingTx{}
	}
	h.writeJSON(w, http.StatusOK, transactionsResponse{Count: count, Transactions: txs})
}

type issueRequest struct {
	Scope        string                  `json:"scope"`
	Counterparty interfaces.UserIdentity `json:"counterparty"`
}

type issueResponse struct {
	Record   interfaces.TokenRecord `json:"record"`
	Pending  bool                   `json:"pending"`
	Deployed bool                   `json:"deployed"`
}

// HandleIssueToken issues the consent token of a scope of the caller. The gateway issues
// tokens as part of Authorize; this route lets owners pre-deploy and audit.
func (h *Handler) HandleIssueToken(w http.ResponseWriter, r *http.Request) {
	var req issueRequest
	if err := decodeBody(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	if err := interfaces.ValidateScopeName(req.Scope); err != nil {
		h.writeError(w, r, badRequest(err))
		return
	}

	res, err := h.gateway.Tokens().IssueConsentToken(r.Context(), caller(r), interfaces.DataScope{Name: req.Scope, Counterparty: req.Counterparty})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, issueResponse{Record: res.Record, Pending: res.Pending, Deployed: res.Deployed})
}

type mintRequest struct {
	Contract string `json:"contract"`
}

// HandleMint mints a token of a contract with the caller's wallet.
func (h *Handler) HandleMint(w http.ResponseWriter, r *http.Request) {
	var req mintRequest
	if err := decodeBody(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	contract, err := parseAddress(req.Contract)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	receipt, err := h.gateway.Tokens().MintFor(r.Context(), caller(r), contract)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusAccepted, receipt)
}

// HandleTokenRecord returns the public consent-token record of a user's scope.
func (h *Handler) HandleTokenRecord(w http.ResponseWriter, r *http.Request) {
	user, err := requiredQuery(r, "user")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	scope, err := requiredQuery(r, "scope")
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	rec, err := h.gateway.Tokens().Record(r.Context(), interfaces.UserIdentity(user), scope)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, rec)
}

// HandleOwners returns the distinct holders of a consent token.
func (h *Handler) HandleOwners(w http.ResponseWriter, r *http.Request) {
	contract, err := parseAddress(chi.URLParam(r, "contract"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	owners, err := h.gateway.Tokens().OwnersOf(r.Context(), contract)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if owners == nil {
		owners = []interfaces.Address{}
	}
	h.writeJSON(w, http.StatusOK, map[string]any{
		"contract": contract,
		"owners":   owners,
	})
}

func grantQuery(r *http.Request) (string, interfaces.UserIdentity, error) {
	scope, err := requiredQuery(r, "scope")
	if err != nil {
		return "", "", err
	}
	counterparty, err := requiredQuery(r, "counterparty")
	if err != nil {
		return "", "", err
	}
	if err := interfaces.ValidateScopeName(scope); err != nil {
		return "", "", badRequest(err)
	}
	return scope, interfaces.UserIdentity(counterparty), nil
}

// HandleGetGrant returns a grant record of the caller.
func (h *Handler) HandleGetGrant(w http.ResponseWriter, r *http.Request) {
	scope, counterparty, err := grantQuery(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	rec, err := h.gateway.Grant(r.Context(), caller(r), scope, counterparty)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, rec)
}

// HandleRevoke removes a counterparty's access to a scope of the caller.
func (h *Handler) HandleRevoke(w http.ResponseWriter, r *http.Request) {
	scope, counterparty, err := grantQuery(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	revoked, err := h.gateway.Revoke(r.Context(), caller(r), scope, counterparty)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]bool{"revoked": revoked})
}
