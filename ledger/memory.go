package ledger

import (
	"context"
	"crypto/ecdsa"
	"encoding/binary"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ruteri/pod-consent-gateway/interfaces"
)

// Operation names accepted by MemoryLedger.FailNext.
const (
	OpCreateAccount = "create-account"
	OpBalance       = "balance"
	OpNonce         = "nonce"
	OpSend          = "send"
	OpDeploy        = "deploy"
	OpSetSale       = "set-sale"
	OpMint          = "mint"
	OpSaleState     = "sale-state"
	OpStatus        = "status"
)

type memContract struct {
	template string
	owner    common.Address
	params   interfaces.DeployParams
	active   bool
	tokens   []common.Address
	deployed bool
}

type memTx struct {
	hash   string
	status interfaces.TxStatus
	apply  func() error
}

// MemoryLedger is an in-process chain implementing interfaces.Ledger.
// Value moves without fees. Transactions are mined on submission unless manual mining
// is enabled; reverted transactions end up failed.
type MemoryLedger struct {
	mu             sync.Mutex
	balances       map[common.Address]*big.Int
	nonces         map[common.Address]uint64
	contracts      map[common.Address]*memContract
	txs            map[string]*memTx
	queue          []*memTx
	faults         map[string][]error
	manual         bool
	initialBalance *big.Int
	templates      map[string]struct{}
}

// NewMemoryLedger creates an empty chain. Accounts created through CreateAccount start with
// initialBalance, which may be nil. When templates are given, only those names deploy.
func NewMemoryLedger(initialBalance *big.Int, templates ...string) *MemoryLedger {
	l := &MemoryLedger{
		balances:       make(map[common.Address]*big.Int),
		nonces:         make(map[common.Address]uint64),
		contracts:      make(map[common.Address]*memContract),
		txs:            make(map[string]*memTx),
		faults:         make(map[string][]error),
		initialBalance: initialBalance,
		templates:      make(map[string]struct{}),
	}
	for _, t := range templates {
		l.templates[t] = struct{}{}
	}
	return l
}

// SetManualMining queues transactions as pending until Mine is called.
func (l *MemoryLedger) SetManualMining(manual bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.manual = manual
}

// Mine applies all queued transactions in submission order.
func (l *MemoryLedger) Mine() {
	l.mu.Lock()
	defer l.mu.Unlock()

	for _, tx := range l.queue {
		l.execute(tx)
	}
	l.queue = nil
}

// FailTx marks a queued transaction as failed without applying it.
func (l *MemoryLedger) FailTx(hash string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	for i, tx := range l.queue {
		if tx.hash == hash {
			tx.status = interfaces.TxFailed
			l.queue = append(l.queue[:i], l.queue[i+1:]...)
			return
		}
	}
}

// FailNext makes the next call of op return err.
func (l *MemoryLedger) FailNext(op string, err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.faults[op] = append(l.faults[op], err)
}

// Fund credits an address.
func (l *MemoryLedger) Fund(addr interfaces.Address, amount *big.Int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.credit(common.Address(addr), amount)
}

func (l *MemoryLedger) fault(op string) error {
	queued := l.faults[op]
	if len(queued) == 0 {
		return nil
	}
	l.faults[op] = queued[1:]
	return queued[0]
}

func (l *MemoryLedger) balance(addr common.Address) *big.Int {
	if b, ok := l.balances[addr]; ok {
		return b
	}
	return new(big.Int)
}

func (l *MemoryLedger) credit(addr common.Address, amount *big.Int) {
	if amount == nil {
		return
	}
	l.balances[addr] = new(big.Int).Add(l.balance(addr), amount)
}

func (l *MemoryLedger) debit(addr common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() == 0 {
		return nil
	}
	b := l.balance(addr)
	if b.Cmp(amount) < 0 {
		return errors.New("insufficient funds")
	}
	l.balances[addr] = new(big.Int).Sub(b, amount)
	return nil
}

func (l *MemoryLedger) execute(tx *memTx) {
	if err := tx.apply(); err != nil {
		tx.status = interfaces.TxFailed
		return
	}
	tx.status = interfaces.TxConfirmed
}

// submit consumes the sender's nonce and mines or queues the transaction.
func (l *MemoryLedger) submit(from common.Address, kind string, apply func() error) interfaces.TxHandle {
	nonce := l.nonces[from]
	l.nonces[from] = nonce + 1

	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], nonce)
	hash := crypto.Keccak256Hash(from.Bytes(), buf[:], []byte(kind)).Hex()

	tx := &memTx{hash: hash, status: interfaces.TxPending, apply: apply}
	l.txs[hash] = tx
	if l.manual {
		l.queue = append(l.queue, tx)
	} else {
		l.execute(tx)
	}

	return interfaces.TxHandle{
		Hash:        hash,
		From:        interfaces.Address(from),
		Nonce:       nonce,
		SubmittedAt: time.Now().UTC(),
	}
}

func sender(key *ecdsa.PrivateKey, op string) (common.Address, error) {
	if key == nil {
		return common.Address{}, interfaces.NewOpError(interfaces.ErrSigningFailed, op, "", errors.New("missing key"))
	}
	return crypto.PubkeyToAddress(key.PublicKey), nil
}

// CreateAccount generates a new keypair, funded with the initial balance.
func (l *MemoryLedger) CreateAccount(ctx context.Context) (interfaces.Account, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.fault(OpCreateAccount); err != nil {
		return interfaces.Account{}, err
	}

	key, err := crypto.GenerateKey()
	if err != nil {
		return interfaces.Account{}, err
	}
	addr := crypto.PubkeyToAddress(key.PublicKey)
	l.credit(addr, l.initialBalance)

	return interfaces.Account{Address: interfaces.Address(addr), Key: key}, nil
}

// GetBalance returns the balance of an address.
func (l *MemoryLedger) GetBalance(ctx context.Context, addr interfaces.Address) (*big.Int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.fault(OpBalance); err != nil {
		return nil, interfaces.NewOpError(interfaces.ErrBackendUnavailable, OpBalance, addr.String(), err)
	}
	return new(big.Int).Set(l.balance(common.Address(addr))), nil
}

// GetNonce returns the next nonce, counting queued transactions.
func (l *MemoryLedger) GetNonce(ctx context.Context, addr interfaces.Address) (uint64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.fault(OpNonce); err != nil {
		return 0, interfaces.NewOpError(interfaces.ErrBackendUnavailable, OpNonce, addr.String(), err)
	}
	return l.nonces[common.Address(addr)], nil
}

// SignAndSend submits a value transfer. Data is ignored.
func (l *MemoryLedger) SignAndSend(ctx context.Context, req interfaces.TxRequest, key *ecdsa.PrivateKey) (interfaces.TxHandle, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	from, err := sender(key, "sign")
	if err != nil {
		return interfaces.TxHandle{}, err
	}
	if from != common.Address(req.From) {
		return interfaces.TxHandle{}, interfaces.NewOpError(interfaces.ErrSigningFailed, "sign", req.From.String(), errors.New("key does not match sender"))
	}
	if err := l.fault(OpSend); err != nil {
		return interfaces.TxHandle{}, interfaces.NewOpError(interfaces.ErrTransactionSubmissionFailed, OpSend, req.From.String(), err)
	}
	if req.Nonce != l.nonces[from] {
		return interfaces.TxHandle{}, interfaces.NewOpError(interfaces.ErrTransactionSubmissionFailed, OpSend, req.From.String(),
			fmt.Errorf("invalid nonce %d, expected %d", req.Nonce, l.nonces[from]))
	}
	if req.To == nil {
		return interfaces.TxHandle{}, interfaces.NewOpError(interfaces.ErrTransactionSubmissionFailed, OpSend, req.From.String(), errors.New("missing recipient"))
	}

	value := new(big.Int)
	if req.Value != nil {
		value.Set(req.Value)
	}
	if l.balance(from).Cmp(value) < 0 {
		return interfaces.TxHandle{}, interfaces.NewOpError(interfaces.ErrTransactionSubmissionFailed, OpSend, req.From.String(), errors.New("insufficient funds"))
	}

	to := common.Address(*req.To)
	return l.submit(from, OpSend, func() error {
		if err := l.debit(from, value); err != nil {
			return err
		}
		l.credit(to, value)
		return nil
	}), nil
}

// DeployContract creates a consent-token contract at the address derived from the
// deployer and nonce.
func (l *MemoryLedger) DeployContract(ctx context.Context, template string, params interfaces.DeployParams, key *ecdsa.PrivateKey) (interfaces.Deployment, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	from, err := sender(key, OpDeploy)
	if err != nil {
		return interfaces.Deployment{}, err
	}
	if len(l.templates) > 0 {
		if _, ok := l.templates[template]; !ok {
			return interfaces.Deployment{}, fmt.Errorf("%w: %q", ErrUnknownTemplate, template)
		}
	}
	if err := l.fault(OpDeploy); err != nil {
		return interfaces.Deployment{}, interfaces.NewOpError(interfaces.ErrTransactionSubmissionFailed, OpDeploy, template, err)
	}

	addr := crypto.CreateAddress(from, l.nonces[from])
	contract := &memContract{template: template, owner: from, params: params}
	l.contracts[addr] = contract

	tx := l.submit(from, OpDeploy, func() error {
		contract.deployed = true
		return nil
	})
	return interfaces.Deployment{Contract: interfaces.ContractAddress(addr), Tx: tx}, nil
}

// SetSaleActive toggles minting. Only the deployer may call it.
func (l *MemoryLedger) SetSaleActive(ctx context.Context, contract interfaces.ContractAddress, active bool, key *ecdsa.PrivateKey) (interfaces.TxHandle, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	from, err := sender(key, OpSetSale)
	if err != nil {
		return interfaces.TxHandle{}, err
	}
	if err := l.fault(OpSetSale); err != nil {
		return interfaces.TxHandle{}, interfaces.NewOpError(interfaces.ErrTransactionSubmissionFailed, OpSetSale, contract.String(), err)
	}

	c := l.contracts[common.Address(contract)]
	return l.submit(from, OpSetSale, func() error {
		if c == nil || !c.deployed {
			return errors.New("no contract code")
		}
		if c.owner != from {
			return errors.New("not owner")
		}
		c.active = active
		return nil
	}), nil
}

// Mint claims the next token id for the key's address.
func (l *MemoryLedger) Mint(ctx context.Context, contract interfaces.ContractAddress, key *ecdsa.PrivateKey, cost *big.Int) (interfaces.MintReceipt, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	from, err := sender(key, OpMint)
	if err != nil {
		return interfaces.MintReceipt{}, err
	}
	if err := l.fault(OpMint); err != nil {
		return interfaces.MintReceipt{}, interfaces.NewOpError(interfaces.ErrTransactionSubmissionFailed, OpMint, contract.String(), err)
	}

	value := new(big.Int)
	if cost != nil {
		value.Set(cost)
	}
	if l.balance(from).Cmp(value) < 0 {
		return interfaces.MintReceipt{}, interfaces.NewOpError(interfaces.ErrTransactionSubmissionFailed, OpMint, contract.String(), errors.New("insufficient funds"))
	}

	addr := common.Address(contract)
	c := l.contracts[addr]
	tx := l.submit(from, OpMint, func() error {
		switch {
		case c == nil || !c.deployed:
			return errors.New("no contract code")
		case !c.active:
			return errors.New("sale closed")
		case uint64(len(c.tokens)) >= c.params.MaxSupply:
			return errors.New("sold out")
		case c.params.Price != nil && value.Cmp(c.params.Price) < 0:
			return errors.New("insufficient payment")
		}
		if err := l.debit(from, value); err != nil {
			return err
		}
		l.credit(addr, value)
		c.tokens = append(c.tokens, from)
		return nil
	})

	status := interfaces.TxPending
	if !l.manual {
		status = l.txs[tx.Hash].status
	}
	return interfaces.MintReceipt{
		Contract: contract,
		Minter:   interfaces.Address(from),
		TxHash:   tx.Hash,
		Price:    value,
		Status:   status,
	}, nil
}

func (l *MemoryLedger) deployedContract(op string, contract interfaces.ContractAddress) (*memContract, error) {
	c := l.contracts[common.Address(contract)]
	if c == nil || !c.deployed {
		return nil, interfaces.NewOpError(interfaces.ErrTokenNotFound, op, contract.String(), nil)
	}
	return c, nil
}

// SaleState returns the sale configuration of a deployed contract.
func (l *MemoryLedger) SaleState(ctx context.Context, contract interfaces.ContractAddress) (interfaces.SaleState, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.fault(OpSaleState); err != nil {
		return interfaces.SaleState{}, interfaces.NewOpError(interfaces.ErrBackendUnavailable, OpSaleState, contract.String(), err)
	}
	c, err := l.deployedContract(OpSaleState, contract)
	if err != nil {
		return interfaces.SaleState{}, err
	}

	price := new(big.Int)
	if c.params.Price != nil {
		price.Set(c.params.Price)
	}
	return interfaces.SaleState{
		Active:      c.active,
		TotalSupply: uint64(len(c.tokens)),
		MaxSupply:   c.params.MaxSupply,
		Price:       price,
	}, nil
}

// OwnersOf returns the distinct token owners, sorted.
func (l *MemoryLedger) OwnersOf(ctx context.Context, contract interfaces.ContractAddress) ([]interfaces.Address, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	c, err := l.deployedContract("owners", contract)
	if err != nil {
		return nil, err
	}
	return distinctSorted(c.tokens), nil
}

// TransactionStatus returns the state of a submitted transaction. Unknown hashes are pending,
// as a node reports for transactions it has not seen mined.
func (l *MemoryLedger) TransactionStatus(ctx context.Context, txHash string) (interfaces.TxStatus, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.fault(OpStatus); err != nil {
		return "", interfaces.NewOpError(interfaces.ErrBackendUnavailable, OpStatus, txHash, err)
	}
	tx, ok := l.txs[txHash]
	if !ok {
		return interfaces.TxPending, nil
	}
	return tx.status, nil
}
