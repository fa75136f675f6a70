// Package testutil provides in-memory collaborators for tests.
package testutil

import (
	"context"
	"strings"
	"sync"

	"github.com/arkantrust/charge-ledger/directory"
	"github.com/arkantrust/charge-ledger/models"
	"github.com/arkantrust/charge-ledger/processor"
)

// Accounts is an in-memory account directory.
type Accounts struct {
	mu       sync.Mutex
	accounts map[string]*models.Account
	Err      error
}

// NewAccounts returns a directory holding accts.
func NewAccounts(accts ...*models.Account) *Accounts {
	a := &Accounts{accounts: map[string]*models.Account{}}
	for _, acct := range accts {
		a.accounts[acct.ID] = acct
	}
	return a
}

// FindByID implements owners.AccountDirectory.
func (a *Accounts) FindByID(ctx context.Context, id string) (*models.Account, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.Err != nil {
		return nil, a.Err
	}
	acct, ok := a.accounts[id]
	if !ok {
		return nil, directory.ErrNotFound
	}
	return acct, nil
}

// FindByEmail implements owners.AccountDirectory.
func (a *Accounts) FindByEmail(ctx context.Context, email string) (*models.Account, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.Err != nil {
		return nil, a.Err
	}
	for _, acct := range a.accounts {
		if email != "" && strings.EqualFold(acct.Email, email) {
			return acct, nil
		}
	}
	return nil, directory.ErrNotFound
}

// Subscriptions is an in-memory subscription registry.
type Subscriptions struct {
	byCustomer map[string]*models.Subscription
	Err        error
}

// NewSubscriptions returns a registry holding subs.
func NewSubscriptions(subs ...*models.Subscription) *Subscriptions {
	s := &Subscriptions{byCustomer: map[string]*models.Subscription{}}
	for _, sub := range subs {
		s.byCustomer[sub.ProcessorCustomerID] = sub
	}
	return s
}

// FindByProcessorCustomerID implements owners.SubscriptionRegistry.
func (s *Subscriptions) FindByProcessorCustomerID(ctx context.Context, customerID string) (*models.Subscription, error) {
	if s.Err != nil {
		return nil, s.Err
	}
	sub, ok := s.byCustomer[customerID]
	if !ok {
		return nil, directory.ErrNotFound
	}
	return sub, nil
}

// Processor is an in-memory payment processor that counts its calls.
type Processor struct {
	mu            sync.Mutex
	customers     map[string]*models.Customer
	invoices      map[string]*models.Invoice
	CustomerCalls int
	InvoiceCalls  int
	Err           error
	// Block, when set, makes every call wait until the context is done.
	Block bool
}

// NewProcessor returns an empty Processor.
func NewProcessor() *Processor {
	return &Processor{
		customers: map[string]*models.Customer{},
		invoices:  map[string]*models.Invoice{},
	}
}

// AddCustomer registers a customer.
func (p *Processor) AddCustomer(c *models.Customer) *Processor {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.customers[c.ID] = c
	return p
}

// AddInvoice registers an invoice.
func (p *Processor) AddInvoice(inv *models.Invoice) *Processor {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.invoices[inv.ID] = inv
	return p
}

// RetrieveCustomer implements owners.CustomerSource.
func (p *Processor) RetrieveCustomer(ctx context.Context, id string) (*models.Customer, error) {
	p.mu.Lock()
	p.CustomerCalls++
	c, ok := p.customers[id]
	err, block := p.Err, p.Block
	p.mu.Unlock()

	if block {
		<-ctx.Done()
		return nil, processor.Error.Wrap(ctx.Err())
	}
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, processor.ErrNotFound
	}
	return c, nil
}

// RetrieveInvoice implements ingest.InvoiceSource.
func (p *Processor) RetrieveInvoice(ctx context.Context, id string) (*models.Invoice, error) {
	p.mu.Lock()
	p.InvoiceCalls++
	inv, ok := p.invoices[id]
	err, block := p.Err, p.Block
	p.mu.Unlock()

	if block {
		<-ctx.Done()
		return nil, processor.Error.Wrap(ctx.Err())
	}
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, processor.ErrNotFound
	}
	return inv, nil
}
