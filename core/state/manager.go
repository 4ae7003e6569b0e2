package state

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"dealmesh/core/types"
	"dealmesh/native/market"
	"dealmesh/storage"
)

const (
	dealKeyPrefix      = "deal/"
	agreementKeyPrefix = "agreement/"
	resultKeyPrefix    = "result/"
	accountKeyPrefix   = "account/"
)

// Manager is the durable state backend: deals, agreements, results and
// token accounts persisted as JSON records over a key-value database. It
// satisfies market.DealState and ledger.AccountStore.
type Manager struct {
	mu sync.RWMutex
	db storage.Database
}

// NewManager creates a state manager over the supplied database.
func NewManager(db storage.Database) *Manager {
	return &Manager{db: db}
}

func dealKey(id [32]byte) []byte {
	return []byte(dealKeyPrefix + hex.EncodeToString(id[:]))
}

func agreementKey(id [32]byte) []byte {
	return []byte(agreementKeyPrefix + hex.EncodeToString(id[:]))
}

func resultKey(id [32]byte) []byte {
	return []byte(resultKeyPrefix + hex.EncodeToString(id[:]))
}

func accountKey(addr [20]byte) []byte {
	return []byte(accountKeyPrefix + hex.EncodeToString(addr[:]))
}

func (m *Manager) getJSON(key []byte, out interface{}) (bool, error) {
	raw, err := m.db.Get(key)
	if err != nil {
		if errors.Is(err, storage.ErrKeyNotFound) {
			return false, nil
		}
		return false, err
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return false, err
	}
	return true, nil
}

func (m *Manager) putJSON(key []byte, value interface{}) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return m.db.Put(key, raw)
}

// --- market.DealState ---

// DealGet returns the stored deal record for the given id.
func (m *Manager) DealGet(id [32]byte) (*market.Deal, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	deal := &market.Deal{}
	ok, err := m.getJSON(dealKey(id), deal)
	if err != nil || !ok {
		return nil, false
	}
	return deal, true
}

// AddDeal persists a new deal record. The id must not already be in use.
func (m *Manager) AddDeal(deal *market.Deal) error {
	sanitized, err := market.SanitizeDeal(deal)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	exists, err := m.db.Has(dealKey(sanitized.ID))
	if err != nil {
		return err
	}
	if exists {
		return fmt.Errorf("state: deal %x already exists", sanitized.ID[:4])
	}
	return m.putJSON(dealKey(sanitized.ID), sanitized)
}

func (m *Manager) mutateAgreement(id [32]byte, fn func(*market.Agreement) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	exists, err := m.db.Has(dealKey(id))
	if err != nil {
		return err
	}
	if !exists {
		return fmt.Errorf("state: deal %x not found", id[:4])
	}
	agreement := &market.Agreement{DealID: id}
	if _, err := m.getJSON(agreementKey(id), agreement); err != nil {
		return err
	}
	if err := fn(agreement); err != nil {
		return err
	}
	return m.putJSON(agreementKey(id), agreement)
}

// AgreeResourceProvider marks the resource provider's consent flag.
func (m *Manager) AgreeResourceProvider(id [32]byte) error {
	return m.mutateAgreement(id, func(a *market.Agreement) error {
		a.ResourceProviderAgreed = true
		return nil
	})
}

// AgreeJobCreator marks the job creator's consent flag.
func (m *Manager) AgreeJobCreator(id [32]byte) error {
	return m.mutateAgreement(id, func(a *market.Agreement) error {
		a.JobCreatorAgreed = true
		return nil
	})
}

// MarkAgreed stamps the agreement timestamp and moves the deal to the
// agreed status. The timestamp is written exactly once.
func (m *Manager) MarkAgreed(id [32]byte, at int64) error {
	if err := m.mutateAgreement(id, func(a *market.Agreement) error {
		if !a.ResourceProviderAgreed || !a.JobCreatorAgreed {
			return fmt.Errorf("state: both parties must agree before stamping")
		}
		if a.AgreedAt != 0 {
			return fmt.Errorf("state: agreement timestamp already set")
		}
		a.AgreedAt = at
		return nil
	}); err != nil {
		return err
	}
	return m.SetDealStatus(id, market.DealAgreed)
}

// AgreementGet returns the consent record for the given deal.
func (m *Manager) AgreementGet(id [32]byte) (*market.Agreement, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	agreement := &market.Agreement{DealID: id}
	ok, err := m.getJSON(agreementKey(id), agreement)
	if err != nil || !ok {
		return nil, false
	}
	return agreement, true
}

// AddResult persists the submitted result and moves the deal to the
// results-submitted status.
func (m *Manager) AddResult(result *market.Result) error {
	if result == nil {
		return fmt.Errorf("state: nil result")
	}
	m.mu.Lock()
	exists, err := m.db.Has(resultKey(result.DealID))
	if err == nil && exists {
		err = fmt.Errorf("state: result for deal %x already exists", result.DealID[:4])
	}
	if err == nil {
		err = m.putJSON(resultKey(result.DealID), result)
	}
	m.mu.Unlock()
	if err != nil {
		return err
	}
	return m.SetDealStatus(result.DealID, market.DealResultsSubmitted)
}

// ResultGet returns the stored result for the given deal.
func (m *Manager) ResultGet(id [32]byte) (*market.Result, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	result := &market.Result{}
	ok, err := m.getJSON(resultKey(id), result)
	if err != nil || !ok {
		return nil, false
	}
	return result, true
}

// MarkTimedOut moves the deal to the timed-out status.
func (m *Manager) MarkTimedOut(id [32]byte) error {
	return m.SetDealStatus(id, market.DealTimedOut)
}

// SetDealStatus updates the runtime status of a stored deal.
func (m *Manager) SetDealStatus(id [32]byte, status market.DealStatus) error {
	if !status.Valid() {
		return fmt.Errorf("state: invalid deal status %d", status)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	deal := &market.Deal{}
	ok, err := m.getJSON(dealKey(id), deal)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("state: deal %x not found", id[:4])
	}
	deal.Status = status
	return m.putJSON(dealKey(id), deal)
}

// --- ledger.AccountStore ---

// GetAccount returns the stored account for the address, or an initialised
// empty account when none exists.
func (m *Manager) GetAccount(addr [20]byte) (*types.Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	account := types.NewAccount()
	if _, err := m.getJSON(accountKey(addr), account); err != nil {
		return nil, err
	}
	return account, nil
}

// PutAccount persists the account record for the address.
func (m *Manager) PutAccount(addr [20]byte, account *types.Account) error {
	if account == nil {
		return fmt.Errorf("state: nil account")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.putJSON(accountKey(addr), account)
}
