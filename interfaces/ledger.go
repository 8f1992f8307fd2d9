package interfaces

import (
	"context"
	"crypto/ecdsa"
	"math/big"
	"time"
)

// TxStatus is the confirmation state of a broadcast transaction.
type TxStatus string

const (
	// TxPending means submitted with no receipt yet. It is a state, not a failure.
	TxPending   TxStatus = "pending"
	TxConfirmed TxStatus = "confirmed"
	TxFailed    TxStatus = "failed"
)

// Account is a freshly created ledger account.
type Account struct {
	Address Address
	Key     *ecdsa.PrivateKey
}

// TxRequest describes a value transfer or contract call to sign and broadcast.
type TxRequest struct {
	From     Address
	To       *Address
	Value    *big.Int
	Data     []byte
	Nonce    uint64
	GasLimit uint64 // zero means estimate
}

// TxHandle identifies a broadcast transaction.
type TxHandle struct {
	Hash        string    `json:"hash"`
	From        Address   `json:"from"`
	Nonce       uint64    `json:"nonce"`
	SubmittedAt time.Time `json:"submittedAt"`
}

// TransactionReceipt is the submission result of a transfer.
type TransactionReceipt struct {
	TxHash string   `json:"txHash"`
	From   Address  `json:"from"`
	To     Address  `json:"to"`
	Amount *big.Int `json:"amount"`
	Nonce  uint64   `json:"nonce"`
	Status TxStatus `json:"status"`
}

// DeployParams parameterize a consent-token template.
type DeployParams struct {
	Name      string
	Symbol    string
	MaxSupply uint64
	Price     *big.Int
	TokenURI  string
}

// Deployment is the result of submitting a contract deployment.
type Deployment struct {
	Contract ContractAddress
	Tx       TxHandle
}

// MintReceipt is the submission result of a mint.
type MintReceipt struct {
	Contract ContractAddress `json:"contract"`
	Minter   Address         `json:"minter"`
	TxHash   string          `json:"txHash"`
	Price    *big.Int        `json:"price"`
	Status   TxStatus        `json:"status"`
}

// SaleState is the on-chain sale configuration of a consent-token contract.
type SaleState struct {
	Active      bool
	TotalSupply uint64
	MaxSupply   uint64
	Price       *big.Int
}

// Ledger is the token ledger: accounts, signed transactions and consent-token contracts.
type Ledger interface {
	// CreateAccount generates a new keypair.
	CreateAccount(ctx context.Context) (Account, error)

	// GetBalance returns the live balance of an address.
	GetBalance(ctx context.Context, addr Address) (*big.Int, error)

	// GetNonce returns the next nonce of an address, including pending transactions.
	GetNonce(ctx context.Context, addr Address) (uint64, error)

	// SignAndSend signs the request with key and broadcasts it.
	SignAndSend(ctx context.Context, tx TxRequest, key *ecdsa.PrivateKey) (TxHandle, error)

	// DeployContract deploys a contract from a named template.
	DeployContract(ctx context.Context, template string, params DeployParams, key *ecdsa.PrivateKey) (Deployment, error)

	// SetSaleActive opens or closes minting on a consent-token contract.
	SetSaleActive(ctx context.Context, contract ContractAddress, active bool, key *ecdsa.PrivateKey) (TxHandle, error)

	// Mint claims one token from the contract, paying cost.
	Mint(ctx context.Context, contract ContractAddress, key *ecdsa.PrivateKey, cost *big.Int) (MintReceipt, error)

	// SaleState reads the sale configuration of a contract.
	SaleState(ctx context.Context, contract ContractAddress) (SaleState, error)

	// OwnersOf returns the owners of all minted tokens.
	OwnersOf(ctx context.Context, contract ContractAddress) ([]Address, error)

	// TransactionStatus returns the confirmation state of a transaction.
	TransactionStatus(ctx context.Context, txHash string) (TxStatus, error)
}

// TxKind names what a tracked transaction does.
type TxKind string

const (
	TxKindTransfer TxKind = "transfer"
	TxKindDeploy   TxKind = "deploy"
	TxKindSetSale  TxKind = "set-sale"
	TxKindMint     TxKind = "mint"
)

// PendingTx is a broadcast transaction tracked until its receipt is known.
type PendingTx struct {
	Hash        string           `json:"hash"`
	Kind        TxKind           `json:"kind"`
	From        Address          `json:"from"`
	To          *Address         `json:"to,omitempty"`
	Contract    *ContractAddress `json:"contract,omitempty"`
	Amount      *big.Int         `json:"amount,omitempty"`
	Status      TxStatus         `json:"status"`
	SubmittedAt time.Time        `json:"submittedAt"`
	UpdatedAt   time.Time        `json:"updatedAt"`

	// Scope and MetadataURI identify the token a deploy transaction creates.
	Scope       string `json:"scope,omitempty"`
	MetadataURI string `json:"metadataUri,omitempty"`
}

// Final reports whether the transaction reached a terminal state.
func (p PendingTx) Final() bool {
	return p.Status == TxConfirmed || p.Status == TxFailed
}
