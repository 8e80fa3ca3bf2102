package billing

import (
	"context"
	"log/slog"

	"golang.org/x/sync/singleflight"

	"membergate/internal/external"
	"membergate/internal/types"
)

// CustomerCreator is the provider call the linker needs.
type CustomerCreator interface {
	CreateCustomer(ctx context.Context, p external.CustomerParams) (string, error)
}

// AccountLinker maps an internal user to exactly one provider customer.
type AccountLinker struct {
	store    AccountStore
	provider CustomerCreator
	metrics  *Metrics
	logger   *slog.Logger
	group    singleflight.Group
}

// NewAccountLinker creates an AccountLinker.
func NewAccountLinker(store AccountStore, provider CustomerCreator, metrics *Metrics, logger *slog.Logger) *AccountLinker {
	if logger == nil {
		logger = slog.Default()
	}
	if metrics == nil {
		metrics = NewMetrics(nil)
	}
	return &AccountLinker{store: store, provider: provider, metrics: metrics, logger: logger}
}

// EnsureExternalCustomer returns u's customer id, creating and linking one on
// first use. Concurrent calls for the same user in this process share one
// provider call. Across processes the NULL-guarded update picks a single
// winner and the loser adopts the stored id.
func (l *AccountLinker) EnsureExternalCustomer(ctx context.Context, u *types.UserBillingState) (string, error) {
	if id := u.CustomerID(); id != "" {
		return id, nil
	}

	// The flight outlives whichever caller started it, so it must not inherit
	// that caller's cancellation. Each caller still stops waiting on its own.
	flightCtx := context.WithoutCancel(ctx)
	ch := l.group.DoChan(u.UserID, func() (any, error) {
		return l.link(flightCtx, u)
	})
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}
		return res.Val.(string), nil
	}
}

func (l *AccountLinker) link(ctx context.Context, u *types.UserBillingState) (string, error) {
	// A caller that waited on a previous flight may hold a stale snapshot.
	current, err := l.store.GetByUserID(ctx, u.UserID)
	if err != nil {
		return "", err
	}
	if id := current.CustomerID(); id != "" {
		return id, nil
	}

	customerID, err := l.provider.CreateCustomer(ctx, external.CustomerParams{
		UserID: u.UserID,
		Email:  u.Email,
		Name:   u.DisplayName,
	})
	if err != nil {
		return "", err
	}
	l.metrics.CustomersCreatedTotal.Inc()

	linked, err := l.store.SetExternalCustomerID(ctx, u.UserID, customerID)
	if err != nil {
		return "", err
	}
	if linked {
		l.logger.InfoContext(ctx, "linked external customer",
			"user_id", u.UserID,
			"customer_id", customerID,
		)
		return customerID, nil
	}

	winner, err := l.store.GetByUserID(ctx, u.UserID)
	if err != nil {
		return "", err
	}
	l.logger.WarnContext(ctx, "lost customer link race; discarding duplicate customer",
		"user_id", u.UserID,
		"discarded_customer_id", customerID,
		"customer_id", winner.CustomerID(),
	)
	return winner.CustomerID(), nil
}
