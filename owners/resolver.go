// Package owners resolves processor charges to the internal account that
// incurred them.
//
// The subscription manager deletes the link between a processor customer and
// an account when the subscription is cancelled. Charges for cancelled
// subscriptions are therefore matched through the email address the customer
// signed up with.
package owners

import (
	"context"
	"errors"
	"time"

	"github.com/spacemonkeygo/monkit/v3"
	"github.com/zeebo/errs"
	"go.uber.org/zap"

	"github.com/arkantrust/charge-ledger/directory"
	"github.com/arkantrust/charge-ledger/models"
	"github.com/arkantrust/charge-ledger/processor"
)

var (
	// Error wraps transient failures of the collaborators.
	Error = errs.Class("owners")

	// ErrOwnerNotFound is returned when no account can be matched to a
	// charge. It is an expected outcome, not a failure.
	ErrOwnerNotFound = errors.New("owner not found")

	mon = monkit.Package()
)

// SubscriptionRegistry maps processor customers to subscriptions.
type SubscriptionRegistry interface {
	FindByProcessorCustomerID(ctx context.Context, customerID string) (*models.Subscription, error)
}

// CustomerSource retrieves customers from the payment processor.
type CustomerSource interface {
	RetrieveCustomer(ctx context.Context, customerID string) (*models.Customer, error)
}

// AccountDirectory looks up internal accounts.
type AccountDirectory interface {
	FindByID(ctx context.Context, id string) (*models.Account, error)
	FindByEmail(ctx context.Context, email string) (*models.Account, error)
}

// Config holds the resolver settings.
type Config struct {
	// CallTimeout bounds every external call. Zero disables the bound.
	CallTimeout time.Duration
}

// Resolver finds the owner of a charge.
type Resolver struct {
	log           *zap.Logger
	subscriptions SubscriptionRegistry
	customers     CustomerSource
	accounts      AccountDirectory
	config        Config
}

// NewResolver creates a Resolver.
func NewResolver(log *zap.Logger, subscriptions SubscriptionRegistry, customers CustomerSource, accounts AccountDirectory, config Config) *Resolver {
	return &Resolver{
		log:           log,
		subscriptions: subscriptions,
		customers:     customers,
		accounts:      accounts,
		config:        config,
	}
}

// IsNotFound reports whether err is a not-found answer from one of the
// collaborators.
func IsNotFound(err error) bool {
	return errors.Is(err, directory.ErrNotFound) ||
		errors.Is(err, processor.ErrNotFound) ||
		errors.Is(err, ErrOwnerNotFound)
}

// Resolve returns the account responsible for charge. It tries, in order:
// the subscription linked to the charge's customer, then the account
// registered with the customer's email. A customer deleted at the processor
// resolves to ErrOwnerNotFound. Any other error is transient.
func (r *Resolver) Resolve(ctx context.Context, charge models.ChargeEvent) (_ *models.Account, err error) {
	defer mon.Task()(&ctx)(&err)

	if charge.Customer == "" {
		r.log.Info("charge has no customer", zap.String("charge_id", charge.ID))
		return nil, ErrOwnerNotFound
	}

	owner, err := r.fromSubscription(ctx, charge)
	if err != nil {
		return nil, err
	}
	if owner != nil {
		return owner, nil
	}

	return r.fromCustomerEmail(ctx, charge)
}

// Owner loads the account a ledger row was resolved to.
func (r *Resolver) Owner(ctx context.Context, charge *models.Charge) (*models.Account, error) {
	callCtx, cancel := r.callContext(ctx)
	defer cancel()

	acct, err := r.accounts.FindByID(callCtx, charge.OwnerID)
	if err != nil {
		if IsNotFound(err) {
			return nil, ErrOwnerNotFound
		}
		return nil, Error.Wrap(err)
	}
	return acct, nil
}

// fromSubscription returns nil without error when the subscription link is
// missing or dead.
func (r *Resolver) fromSubscription(ctx context.Context, charge models.ChargeEvent) (*models.Account, error) {
	callCtx, cancel := r.callContext(ctx)
	defer cancel()

	sub, err := r.subscriptions.FindByProcessorCustomerID(callCtx, charge.Customer)
	if err != nil {
		if IsNotFound(err) {
			return nil, nil
		}
		return nil, Error.Wrap(err)
	}

	ownerID := sub.Owner()
	if ownerID == "" {
		r.log.Info("subscription has no owner, falling back to email",
			zap.String("charge_id", charge.ID),
			zap.String("customer_id", charge.Customer))
		return nil, nil
	}

	acct, err := r.accounts.FindByID(callCtx, ownerID)
	if err != nil {
		if IsNotFound(err) {
			r.log.Info("subscription owner no longer exists, falling back to email",
				zap.String("charge_id", charge.ID),
				zap.String("owner_id", ownerID))
			return nil, nil
		}
		return nil, Error.Wrap(err)
	}

	r.log.Debug("found owner via subscription",
		zap.String("charge_id", charge.ID),
		zap.String("owner_id", acct.ID))
	return acct, nil
}

func (r *Resolver) fromCustomerEmail(ctx context.Context, charge models.ChargeEvent) (*models.Account, error) {
	callCtx, cancel := r.callContext(ctx)
	defer cancel()

	customer, err := r.customers.RetrieveCustomer(callCtx, charge.Customer)
	if err != nil {
		if IsNotFound(err) {
			r.log.Info("customer not found at processor", zap.String("charge_id", charge.ID))
			return nil, ErrOwnerNotFound
		}
		return nil, Error.Wrap(err)
	}
	if customer.Deleted {
		r.log.Info("charge owner was deleted",
			zap.String("charge_id", charge.ID),
			zap.String("customer_id", charge.Customer))
		return nil, ErrOwnerNotFound
	}

	acct, err := r.accounts.FindByEmail(callCtx, customer.Email)
	if err != nil {
		if IsNotFound(err) {
			r.log.Info("no account for customer email", zap.String("charge_id", charge.ID))
			return nil, ErrOwnerNotFound
		}
		return nil, Error.Wrap(err)
	}

	r.log.Info("found owner via email",
		zap.String("charge_id", charge.ID),
		zap.String("owner_id", acct.ID))
	return acct, nil
}

func (r *Resolver) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if r.config.CallTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, r.config.CallTimeout)
}
