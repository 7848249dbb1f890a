package memory

import (
	"context"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/jcmexdev/checkout-saga/internal/payment-service/domain"
)

var _ domain.Store = (*Store)(nil)

type operation struct {
	userID string
	kind   domain.OperationKind
	amount decimal.Decimal
}

// Store keeps accounts in process memory. Used by tests and local runs.
type Store struct {
	mu         sync.Mutex
	accounts   map[string]decimal.Decimal
	operations map[string]operation
}

func NewStore() *Store {
	return &Store{
		accounts:   make(map[string]decimal.Decimal),
		operations: make(map[string]operation),
	}
}

func (s *Store) CreateAccount(_ context.Context, userID string) (*domain.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.accounts[userID] = decimal.Zero
	return &domain.Account{UserID: userID, Credit: decimal.Zero}, nil
}

func (s *Store) GetAccount(_ context.Context, userID string) (*domain.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	credit, ok := s.accounts[userID]
	if !ok {
		return nil, domain.ErrAccountNotFound
	}
	return &domain.Account{UserID: userID, Credit: credit}, nil
}

func (s *Store) AddFunds(_ context.Context, userID string, amount decimal.Decimal) (*domain.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	credit, ok := s.accounts[userID]
	if !ok {
		return nil, domain.ErrAccountNotFound
	}
	credit = credit.Add(amount)
	s.accounts[userID] = credit
	return &domain.Account{UserID: userID, Credit: credit}, nil
}

func (s *Store) Charge(_ context.Context, userID string, amount decimal.Decimal, operationID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, seen := s.operations[operationID]; seen && operationID != "" {
		return false, nil
	}
	credit, ok := s.accounts[userID]
	if !ok {
		return false, domain.ErrAccountNotFound
	}
	if credit.LessThan(amount) {
		return false, domain.ErrInsufficientFunds
	}

	s.accounts[userID] = credit.Sub(amount)
	if operationID != "" {
		s.operations[operationID] = operation{userID: userID, kind: domain.OperationCharge, amount: amount}
	}
	return true, nil
}

func (s *Store) Refund(_ context.Context, userID string, amount decimal.Decimal, operationID, chargeOperationID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, seen := s.operations[operationID]; seen && operationID != "" {
		return false, nil
	}
	if chargeOperationID != "" {
		charge, ok := s.operations[chargeOperationID]
		if !ok {
			s.operations[chargeOperationID] = operation{userID: userID, kind: domain.OperationCancelled}
			return false, nil
		}
		if charge.kind != domain.OperationCharge {
			return false, nil
		}
		userID, amount = charge.userID, charge.amount
	}

	credit, ok := s.accounts[userID]
	if !ok {
		return false, domain.ErrAccountNotFound
	}
	s.accounts[userID] = credit.Add(amount)
	if operationID != "" {
		s.operations[operationID] = operation{userID: userID, kind: domain.OperationRefund, amount: amount}
	}
	return true, nil
}
