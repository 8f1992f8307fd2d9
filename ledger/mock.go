package ledger

import (
	"context"
	"crypto/ecdsa"
	"math/big"

	"github.com/ruteri/pod-consent-gateway/interfaces"
	"github.com/stretchr/testify/mock"
)

// MockLedger mocks the Ledger interface
type MockLedger struct {
	mock.Mock
}

// CreateAccount mocks the CreateAccount method
func (m *MockLedger) CreateAccount(ctx context.Context) (interfaces.Account, error) {
	args := m.Called(ctx)
	return args.Get(0).(interfaces.Account), args.Error(1)
}

// GetBalance mocks the GetBalance method
func (m *MockLedger) GetBalance(ctx context.Context, addr interfaces.Address) (*big.Int, error) {
	args := m.Called(ctx, addr)
	balance, _ := args.Get(0).(*big.Int)
	return balance, args.Error(1)
}

// GetNonce mocks the GetNonce method
func (m *MockLedger) GetNonce(ctx context.Context, addr interfaces.Address) (uint64, error) {
	args := m.Called(ctx, addr)
	return args.Get(0).(uint64), args.Error(1)
}

// SignAndSend mocks the SignAndSend method
func (m *MockLedger) SignAndSend(ctx context.Context, tx interfaces.TxRequest, key *ecdsa.PrivateKey) (interfaces.TxHandle, error) {
	args := m.Called(ctx, tx, key)
	return args.Get(0).(interfaces.TxHandle), args.Error(1)
}

// DeployContract mocks the DeployContract method
func (m *MockLedger) DeployContract(ctx context.Context, template string, params interfaces.DeployParams, key *ecdsa.PrivateKey) (interfaces.Deployment, error) {
	args := m.Called(ctx, template, params, key)
	return args.Get(0).(interfaces.Deployment), args.Error(1)
}

// SetSaleActive mocks the SetSaleActive method
func (m *MockLedger) SetSaleActive(ctx context.Context, contract interfaces.ContractAddress, active bool, key *ecdsa.PrivateKey) (interfaces.TxHandle, error) {
	args := m.Called(ctx, contract, active, key)
	return args.Get(0).(interfaces.TxHandle), args.Error(1)
}

// Mint mocks the Mint method
func (m *MockLedger) Mint(ctx context.Context, contract interfaces.ContractAddress, key *ecdsa.PrivateKey, cost *big.Int) (interfaces.MintReceipt, error) {
	args := m.Called(ctx, contract, key, cost)
	return args.Get(0).(interfaces.MintReceipt), args.Error(1)
}

// SaleState mocks the SaleState method
func (m *MockLedger) SaleState(ctx context.Context, contract interfaces.ContractAddress) (interfaces.SaleState, error) {
	args := m.Called(ctx, contract)
	return args.Get(0).(interfaces.SaleState), args.Error(1)
}

// OwnersOf mocks the OwnersOf method
func (m *MockLedger) OwnersOf(ctx context.Context, contract interfaces.ContractAddress) ([]interfaces.Address, error) {
	args := m.Called(ctx, contract)
	owners, _ := args.Get(0).([]interfaces.Address)
	return owners, args.Error(1)
}

// TransactionStatus mocks the TransactionStatus method
func (m *MockLedger) TransactionStatus(ctx context.Context, txHash string) (interfaces.TxStatus, error) {
	args := m.Called(ctx, txHash)
	return args.Get(0).(interfaces.TxStatus), args.Error(1)
}

var _ interfaces.Ledger = (*MockLedger)(nil)
var _ interfaces.Ledger = (*MemoryLedger)(nil)
var _ interfaces.Ledger = (*EthereumLedger)(nil)
