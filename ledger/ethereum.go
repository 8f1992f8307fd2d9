package ledger

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ruteri/pod-consent-gateway/interfaces"
	"golang.org/x/sync/errgroup"
)

const (
	transferGas     = uint64(21000)
	ownerQueryLimit = 8

	// defaultOwnerScanLimit bounds OwnersOf when no template sets a MaxSupply.
	defaultOwnerScanLimit = uint64(10000)
)

// ErrOwnerScanLimit is returned by OwnersOf for a contract reporting more tokens than any
// template can mint.
var ErrOwnerScanLimit = errors.New("token supply exceeds owner scan limit")

// Client is the subset of an Ethereum JSON-RPC client the ledger uses.
// Both *ethclient.Client and simulated.Client satisfy it.
type Client interface {
	bind.ContractBackend
	bind.DeployBackend
	BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error)
	ChainID(ctx context.Context) (*big.Int, error)
}

// EthereumLedger implements interfaces.Ledger on an EVM chain.
type EthereumLedger struct {
	client   Client
	catalog  *Catalog
	tokenABI abi.ABI
	log      *slog.Logger

	ownerScanLimit uint64

	mu      sync.Mutex
	chainID *big.Int
}

// NewEthereumLedger creates a ledger on client. The catalog may be nil when no
// deployments are made.
func NewEthereumLedger(client Client, catalog *Catalog, log *slog.Logger) (*EthereumLedger, error) {
	tokenABI, err := ConsentTokenABI()
	if err != nil {
		return nil, fmt.Errorf("failed to parse consent token ABI: %w", err)
	}
	if catalog == nil {
		catalog = NewCatalog("")
	}

	limit := catalog.MaxSupply()
	if limit == 0 {
		limit = defaultOwnerScanLimit
	}

	return &EthereumLedger{
		client:         client,
		catalog:        catalog,
		tokenABI:       tokenABI,
		log:            log,
		ownerScanLimit: limit,
	}, nil
}

// Dial connects to a JSON-RPC endpoint and creates a ledger on it.
func Dial(ctx context.Context, rpcURL string, catalog *Catalog, log *slog.Logger) (*EthereumLedger, error) {
	client, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to connect to %s: %v", interfaces.ErrBackendUnavailable, rpcURL, err)
	}
	return NewEthereumLedger(client, catalog, log)
}

func (l *EthereumLedger) getChainID(ctx context.Context) (*big.Int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.chainID != nil {
		return l.chainID, nil
	}
	id, err := l.client.ChainID(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to fetch chain id: %v", interfaces.ErrBackendUnavailable, err)
	}
	l.chainID = id
	return id, nil
}

func (l *EthereumLedger) transactOpts(ctx context.Context, key *ecdsa.PrivateKey) (*bind.TransactOpts, error) {
	if key == nil {
		return nil, interfaces.NewOpError(interfaces.ErrSigningFailed, "transact-opts", "", errors.New("missing key"))
	}
	chainID, err := l.getChainID(ctx)
	if err != nil {
		return nil, err
	}
	opts, err := bind.NewKeyedTransactorWithChainID(key, chainID)
	if err != nil {
		return nil, interfaces.NewOpError(interfaces.ErrSigningFailed, "transact-opts", "", err)
	}
	opts.Context = ctx
	return opts, nil
}

func (l *EthereumLedger) token(contract interfaces.ContractAddress) *bind.BoundContract {
	return bind.NewBoundContract(common.Address(contract), l.tokenABI, l.client, l.client, l.client)
}

func handle(tx *types.Transaction, from common.Address) interfaces.TxHandle {
	return interfaces.TxHandle{
		Hash:        tx.Hash().Hex(),
		From:        interfaces.Address(from),
		Nonce:       tx.Nonce(),
		SubmittedAt: time.Now().UTC(),
	}
}

// CreateAccount generates a new secp256k1 keypair.
func (l *EthereumLedger) CreateAccount(ctx context.Context) (interfaces.Account, error) {
	key, err := crypto.GenerateKey()
	if err != nil {
		return interfaces.Account{}, fmt.Errorf("failed to generate key: %w", err)
	}
	return interfaces.Account{
		Address: interfaces.Address(crypto.PubkeyToAddress(key.PublicKey)),
		Key:     key,
	}, nil
}

// GetBalance returns the balance at the latest block.
func (l *EthereumLedger) GetBalance(ctx context.Context, addr interfaces.Address) (*big.Int, error) {
	balance, err := l.client.BalanceAt(ctx, common.Address(addr), nil)
	if err != nil {
		return nil, interfaces.NewOpError(interfaces.ErrBackendUnavailable, "balance", addr.String(), err)
	}
	return balance, nil
}

// GetNonce returns the pending nonce.
func (l *EthereumLedger) GetNonce(ctx context.Context, addr interfaces.Address) (uint64, error) {
	nonce, err := l.client.PendingNonceAt(ctx, common.Address(addr))
	if err != nil {
		return 0, interfaces.NewOpError(interfaces.ErrBackendUnavailable, "nonce", addr.String(), err)
	}
	return nonce, nil
}

// SignAndSend signs an EIP-1559 transaction with key and broadcasts it.
func (l *EthereumLedger) SignAndSend(ctx context.Context, req interfaces.TxRequest, key *ecdsa.PrivateKey) (interfaces.TxHandle, error) {
	if key == nil || crypto.PubkeyToAddress(key.PublicKey) != common.Address(req.From) {
		return interfaces.TxHandle{}, interfaces.NewOpError(interfaces.ErrSigningFailed, "sign", req.From.String(), errors.New("key does not match sender"))
	}

	chainID, err := l.getChainID(ctx)
	if err != nil {
		return interfaces.TxHandle{}, interfaces.NewOpError(interfaces.ErrTransactionSubmissionFailed, "chain-id", req.From.String(), err)
	}

	tip, err := l.client.SuggestGasTipCap(ctx)
	if err != nil {
		return interfaces.TxHandle{}, interfaces.NewOpError(interfaces.ErrTransactionSubmissionFailed, "gas-tip", req.From.String(), err)
	}
	head, err := l.client.HeaderByNumber(ctx, nil)
	if err != nil {
		return interfaces.TxHandle{}, interfaces.NewOpError(interfaces.ErrTransactionSubmissionFailed, "head", req.From.String(), err)
	}
	feeCap := new(big.Int).Set(tip)
	if head.BaseFee != nil {
		feeCap.Add(feeCap, new(big.Int).Mul(head.BaseFee, big.NewInt(2)))
	}

	value := req.Value
	if value == nil {
		value = new(big.Int)
	}

	var to *common.Address
	if req.To != nil {
		addr := common.Address(*req.To)
		to = &addr
	}

	gas := req.GasLimit
	if gas == 0 {
		if to != nil && len(req.Data) == 0 {
			gas = transferGas
		} else {
			gas, err = l.client.EstimateGas(ctx, ethereum.CallMsg{
				From:  common.Address(req.From),
				To:    to,
				Value: value,
				Data:  req.Data,
			})
			if err != nil {
				return interfaces.TxHandle{}, interfaces.NewOpError(interfaces.ErrTransactionSubmissionFailed, "estimate-gas", req.From.String(), err)
			}
		}
	}

	tx, err := types.SignNewTx(key, types.LatestSignerForChainID(chainID), &types.DynamicFeeTx{
		ChainID:   chainID,
		Nonce:     req.Nonce,
		GasTipCap: tip,
		GasFeeCap: feeCap,
		Gas:       gas,
		To:        to,
		Value:     value,
		Data:      req.Data,
	})
	if err != nil {
		return interfaces.TxHandle{}, interfaces.NewOpError(interfaces.ErrSigningFailed, "sign", req.From.String(), err)
	}

	if err := l.client.SendTransaction(ctx, tx); err != nil {
		l.log.Warn("Failed to send transaction",
			slog.String("from", req.From.String()),
			slog.Uint64("nonce", req.Nonce),
			"err", err)
		return interfaces.TxHandle{}, interfaces.NewOpError(interfaces.ErrTransactionSubmissionFailed, "send", req.From.String(), err)
	}

	l.log.Debug("Submitted transaction",
		slog.String("hash", tx.Hash().Hex()),
		slog.String("from", req.From.String()),
		slog.Uint64("nonce", req.Nonce))

	return handle(tx, common.Address(req.From)), nil
}

// DeployContract deploys the named template with the consent-token constructor arguments.
func (l *EthereumLedger) DeployContract(ctx context.Context, template string, params interfaces.DeployParams, key *ecdsa.PrivateKey) (interfaces.Deployment, error) {
	tmpl, err := l.catalog.Template(template)
	if err != nil {
		return interfaces.Deployment{}, err
	}
	if !tmpl.Deployable() {
		return interfaces.Deployment{}, fmt.Errorf("template %s has no bytecode", tmpl.Name)
	}

	opts, err := l.transactOpts(ctx, key)
	if err != nil {
		return interfaces.Deployment{}, err
	}

	price := params.Price
	if price == nil {
		price = new(big.Int)
	}

	addr, tx, _, err := bind.DeployContract(opts, tmpl.ABI, tmpl.Bytecode, l.client,
		params.Name, params.Symbol, new(big.Int).SetUint64(params.MaxSupply), price, params.TokenURI)
	if err != nil {
		return interfaces.Deployment{}, interfaces.NewOpError(interfaces.ErrTransactionSubmissionFailed, "deploy", tmpl.Name, err)
	}

	l.log.Info("Submitted contract deployment",
		slog.String("template", tmpl.Name),
		slog.String("contract", addr.Hex()),
		slog.String("tx", tx.Hash().Hex()))

	return interfaces.Deployment{
		Contract: interfaces.ContractAddress(addr),
		Tx:       handle(tx, opts.From),
	}, nil
}

// SetSaleActive calls setSaleActive on a consent-token contract.
func (l *EthereumLedger) SetSaleActive(ctx context.Context, contract interfaces.ContractAddress, active bool, key *ecdsa.PrivateKey) (interfaces.TxHandle, error) {
	opts, err := l.transactOpts(ctx, key)
	if err != nil {
		return interfaces.TxHandle{}, err
	}

	tx, err := l.token(contract).Transact(opts, "setSaleActive", active)
	if err != nil {
		return interfaces.TxHandle{}, interfaces.NewOpError(interfaces.ErrTransactionSubmissionFailed, "set-sale-active", contract.String(), err)
	}
	return handle(tx, opts.From), nil
}

// Mint calls the payable mint function, paying cost.
func (l *EthereumLedger) Mint(ctx context.Context, contract interfaces.ContractAddress, key *ecdsa.PrivateKey, cost *big.Int) (interfaces.MintReceipt, error) {
	opts, err := l.transactOpts(ctx, key)
	if err != nil {
		return interfaces.MintReceipt{}, err
	}
	if cost == nil {
		cost = new(big.Int)
	}
	opts.Value = cost

	tx, err := l.token(contract).Transact(opts, "mint")
	if err != nil {
		return interfaces.MintReceipt{}, interfaces.NewOpError(interfaces.ErrTransactionSubmissionFailed, "mint", contract.String(), err)
	}

	return interfaces.MintReceipt{
		Contract: contract,
		Minter:   interfaces.Address(opts.From),
		TxHash:   tx.Hash().Hex(),
		Price:    cost,
		Status:   interfaces.TxPending,
	}, nil
}

func (l *EthereumLedger) call(ctx context.Context, contract interfaces.ContractAddress, method string, args ...any) (any, error) {
	var out []any
	if err := l.token(contract).Call(&bind.CallOpts{Context: ctx}, &out, method, args...); err != nil {
		if errors.Is(err, bind.ErrNoCode) {
			return nil, interfaces.NewOpError(interfaces.ErrTokenNotFound, method, contract.String(), err)
		}
		return nil, interfaces.NewOpError(interfaces.ErrBackendUnavailable, method, contract.String(), err)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("empty result from %s", method)
	}
	return out[0], nil
}

func (l *EthereumLedger) callUint(ctx context.Context, contract interfaces.ContractAddress, method string) (*big.Int, error) {
	res, err := l.call(ctx, contract, method)
	if err != nil {
		return nil, err
	}
	v, ok := res.(*big.Int)
	if !ok {
		return nil, fmt.Errorf("unexpected %s result type %T", method, res)
	}
	return v, nil
}

// SaleState reads saleActive, totalSupply, maxSupply and price concurrently.
func (l *EthereumLedger) SaleState(ctx context.Context, contract interfaces.ContractAddress) (interfaces.SaleState, error) {
	var (
		state                   interfaces.SaleState
		total, maxSupply, price *big.Int
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		res, err := l.call(gctx, contract, "saleActive")
		if err != nil {
			return err
		}
		active, ok := res.(bool)
		if !ok {
			return fmt.Errorf("unexpected saleActive result type %T", res)
		}
		state.Active = active
		return nil
	})
	g.Go(func() (err error) {
		total, err = l.callUint(gctx, contract, "totalSupply")
		return err
	})
	g.Go(func() (err error) {
		maxSupply, err = l.callUint(gctx, contract, "maxSupply")
		return err
	})
	g.Go(func() (err error) {
		price, err = l.callUint(gctx, contract, "price")
		return err
	})
	if err := g.Wait(); err != nil {
		return interfaces.SaleState{}, err
	}

	state.TotalSupply = total.Uint64()
	state.MaxSupply = maxSupply.Uint64()
	state.Price = price
	return state, nil
}

// OwnersOf queries ownerOf for every minted token id and returns the distinct owners, sorted.
// A totalSupply above the largest template MaxSupply fails with ErrOwnerScanLimit.
func (l *EthereumLedger) OwnersOf(ctx context.Context, contract interfaces.ContractAddress) ([]interfaces.Address, error) {
	total, err := l.callUint(ctx, contract, "totalSupply")
	if err != nil {
		return nil, err
	}
	if !total.IsUint64() || total.Uint64() > l.ownerScanLimit {
		return nil, interfaces.NewOpError(ErrOwnerScanLimit, "owners-of", contract.String(),
			fmt.Errorf("totalSupply %s, limit %d", total, l.ownerScanLimit))
	}

	n := total.Uint64()
	owners := make([]common.Address, n)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(ownerQueryLimit)
	for i := uint64(0); i < n; i++ {
		g.Go(func() error {
			res, err := l.call(gctx, contract, "ownerOf", new(big.Int).SetUint64(i+1))
			if err != nil {
				return err
			}
			owner, ok := res.(common.Address)
			if !ok {
				return fmt.Errorf("unexpected ownerOf result type %T", res)
			}
			owners[i] = owner
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	return distinctSorted(owners), nil
}

func distinctSorted(owners []common.Address) []interfaces.Address {
	seen := make(map[common.Address]struct{}, len(owners))
	res := make([]interfaces.Address, 0, len(owners))
	for _, o := range owners {
		if _, ok := seen[o]; ok {
			continue
		}
		seen[o] = struct{}{}
		res = append(res, interfaces.Address(o))
	}
	sort.Slice(res, func(i, j int) bool {
		return res[i].String() < res[j].String()
	})
	return res
}

// receiptPending reports whether a receipt lookup error means the transaction has no
// receipt yet. Nodes still building their transaction index answer with a plain error
// message rather than ethereum.NotFound.
func receiptPending(err error) bool {
	return errors.Is(err, ethereum.NotFound) ||
		strings.Contains(err.Error(), "transaction indexing is in progress")
}

// TransactionStatus maps the receipt of a transaction to a TxStatus. A transaction
// without a receipt is pending.
func (l *EthereumLedger) TransactionStatus(ctx context.Context, txHash string) (interfaces.TxStatus, error) {
	receipt, err := l.client.TransactionReceipt(ctx, common.HexToHash(txHash))
	if err != nil {
		if receiptPending(err) {
			return interfaces.TxPending, nil
		}
		return "", interfaces.NewOpError(interfaces.ErrBackendUnavailable, "receipt", txHash, err)
	}
	if receipt.Status == types.ReceiptStatusSuccessful {
		return interfaces.TxConfirmed, nil
	}
	return interfaces.TxFailed, nil
}
