package db

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"membergate/internal/types"
)

// billingColumns is the column list shared by every billing_accounts read.
// Order matters: scanBillingState scans in this order.
const billingColumns = `user_id, email, display_name,
	external_customer_id, external_subscription_id,
	subscription_status, membership_type, is_active,
	kyc_status, kyc_verified_at, is_legacy_paid, identity_session_id,
	account_created_at, created_at, updated_at`

// BillingRepository reads and writes billing_accounts rows.
type BillingRepository struct {
	db DBTX
}

// NewBillingRepository creates a BillingRepository backed by the given
// connection (pool or transaction).
func NewBillingRepository(db DBTX) *BillingRepository {
	return &BillingRepository{db: db}
}

func scanBillingState(row pgx.Row) (*types.UserBillingState, error) {
	var u types.UserBillingState
	err := row.Scan(
		&u.UserID,
		&u.Email,
		&u.DisplayName,
		&u.ExternalCustomerID,
		&u.ExternalSubscriptionID,
		&u.SubscriptionStatus,
		&u.MembershipType,
		&u.IsActive,
		&u.KycStatus,
		&u.KycVerifiedAt,
		&u.IsLegacyPaid,
		&u.IdentitySessionID,
		&u.AccountCreatedAt,
		&u.CreatedAt,
		&u.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// GetByUserID returns the billing state for userID, or a
// not_found_billing_account error.
func (r *BillingRepository) GetByUserID(ctx context.Context, userID string) (*types.UserBillingState, error) {
	u, err := scanBillingState(r.db.QueryRow(ctx,
		`SELECT `+billingColumns+` FROM billing_accounts WHERE user_id = $1`,
		userID,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, types.NewAppError(types.ErrCodeNotFoundBillingAccount, "billing account not found", nil)
		}
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to get billing account", err)
	}
	return u, nil
}

// FindByCustomerID returns the row owning the external customer id, or
// (nil, nil) when no row matches. The row is locked FOR UPDATE when called
// inside a transaction.
func (r *BillingRepository) FindByCustomerID(ctx context.Context, customerID string) (*types.UserBillingState, error) {
	return r.findOne(ctx, "external_customer_id", customerID)
}

// FindByIdentitySessionID returns the row currently awaiting the given
// verification session, or (nil, nil).
func (r *BillingRepository) FindByIdentitySessionID(ctx context.Context, sessionID string) (*types.UserBillingState, error) {
	return r.findOne(ctx, "identity_session_id", sessionID)
}

func (r *BillingRepository) findOne(ctx context.Context, column, value string) (*types.UserBillingState, error) {
	if value == "" {
		return nil, nil
	}
	u, err := scanBillingState(r.db.QueryRow(ctx,
		`SELECT `+billingColumns+` FROM billing_accounts WHERE `+column+` = $1 FOR UPDATE`,
		value,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to look up billing account by "+column, err)
	}
	return u, nil
}

// EnsureBillingAccount creates the row for actor if it does not exist yet and
// returns the current state. Existing rows are never overwritten, except to
// fill in profile fields or the account creation time that were previously
// unknown.
func (r *BillingRepository) EnsureBillingAccount(ctx context.Context, actor types.Actor) (*types.UserBillingState, error) {
	_, err := r.db.Exec(ctx,
		`INSERT INTO billing_accounts (user_id, email, display_name, account_created_at)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (user_id) DO NOTHING`,
		actor.UserID, actor.Email, actor.DisplayName, actor.AccountCreatedAt,
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to create billing account", err)
	}

	u, err := r.GetByUserID(ctx, actor.UserID)
	if err != nil {
		return nil, err
	}

	missingEmail := u.Email == "" && actor.Email != ""
	missingName := u.DisplayName == "" && actor.DisplayName != ""
	missingCreated := u.AccountCreatedAt == nil && actor.AccountCreatedAt != nil
	if missingEmail || missingName || missingCreated {
		_, err := r.db.Exec(ctx,
			`UPDATE billing_accounts
			 SET email = CASE WHEN email = '' THEN $2 ELSE email END,
			     display_name = CASE WHEN display_name = '' THEN $3 ELSE display_name END,
			     account_created_at = COALESCE(account_created_at, $4),
			     updated_at = NOW()
			 WHERE user_id = $1`,
			actor.UserID, actor.Email, actor.DisplayName, actor.AccountCreatedAt,
		)
		if err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to update billing profile", err)
		}
		if missingEmail {
			u.Email = actor.Email
		}
		if missingName {
			u.DisplayName = actor.DisplayName
		}
		if missingCreated {
			t := *actor.AccountCreatedAt
			u.AccountCreatedAt = &t
		}
	}
	return u, nil
}

// SetExternalCustomerID links customerID to userID only if no customer is
// linked yet. It reports whether this call performed the link.
func (r *BillingRepository) SetExternalCustomerID(ctx context.Context, userID, customerID string) (bool, error) {
	tag, err := r.db.Exec(ctx,
		`UPDATE billing_accounts
		 SET external_customer_id = $1, updated_at = NOW()
		 WHERE user_id = $2 AND external_customer_id IS NULL`,
		customerID, userID,
	)
	if err != nil {
		return false, types.NewAppError(types.ErrCodeInternalDB, "failed to link external customer", err)
	}
	return tag.RowsAffected() == 1, nil
}

// SetIdentitySession records a freshly created verification session and
// moves the user to PENDING.
func (r *BillingRepository) SetIdentitySession(ctx context.Context, userID, sessionID string) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE billing_accounts
		 SET identity_session_id = $1,
		     kyc_status = $2,
		     kyc_verified_at = NULL,
		     updated_at = NOW()
		 WHERE user_id = $3`,
		sessionID, types.KycPending, userID,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to record identity session", err)
	}
	if tag.RowsAffected() == 0 {
		return types.NewAppError(types.ErrCodeNotFoundBillingAccount, "billing account not found", nil)
	}
	return nil
}

// ApplyMutation writes only the columns set on m.
func (r *BillingRepository) ApplyMutation(ctx context.Context, userID string, m types.BillingMutation) error {
	if m.Empty() {
		return nil
	}

	var (
		sets []string
		args []any
	)
	set := func(column string, value any) {
		args = append(args, value)
		sets = append(sets, fmt.Sprintf("%s = $%d", column, len(args)))
	}

	if m.ExternalSubscriptionID != nil {
		set("external_subscription_id", *m.ExternalSubscriptionID)
	}
	if m.SubscriptionStatus != nil {
		set("subscription_status", *m.SubscriptionStatus)
	}
	if m.MembershipType != nil {
		set("membership_type", *m.MembershipType)
	}
	if m.IsActive != nil {
		set("is_active", *m.IsActive)
	}
	if m.KycStatus != nil {
		set("kyc_status", *m.KycStatus)
	}
	if m.ClearKycVerifiedAt {
		sets = append(sets, "kyc_verified_at = NULL")
	} else if m.KycVerifiedAt != nil {
		set("kyc_verified_at", *m.KycVerifiedAt)
	}
	if m.ClearIdentitySession {
		sets = append(sets, "identity_session_id = NULL")
	} else if m.IdentitySessionID != nil {
		set("identity_session_id", *m.IdentitySessionID)
	}
	sets = append(sets, "updated_at = NOW()")

	args = append(args, userID)
	query := fmt.Sprintf(`UPDATE billing_accounts SET %s WHERE user_id = $%d`,
		strings.Join(sets, ", "), len(args))

	tag, err := r.db.Exec(ctx, query, args...)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to update billing account", err)
	}
	if tag.RowsAffected() == 0 {
		return types.NewAppError(types.ErrCodeNotFoundBillingAccount, "billing account not found", nil)
	}
	return nil
}

// legacyCandidate matches unflagged rows whose account predates $1. The row's
// own created_at is the first billing access, which is never earlier than
// registration, so it stands in when the account time is unknown.
const legacyCandidate = `COALESCE(account_created_at, created_at) < $1 AND is_legacy_paid = false`

// BackfillLegacy flags every account created before cutoff as legacy-paid.
// Rows already flagged are skipped, so reruns affect zero rows. With dryRun
// set it only counts the rows that would change.
func (r *BillingRepository) BackfillLegacy(ctx context.Context, cutoff time.Time, dryRun bool) (int64, error) {
	if dryRun {
		var n int64
		err := r.db.QueryRow(ctx,
			`SELECT COUNT(*) FROM billing_accounts WHERE `+legacyCandidate,
			cutoff,
		).Scan(&n)
		if err != nil {
			return 0, types.NewAppError(types.ErrCodeInternalDB, "failed to count legacy candidates", err)
		}
		return n, nil
	}

	tag, err := r.db.Exec(ctx,
		`UPDATE billing_accounts
		 SET is_legacy_paid = true, updated_at = NOW()
		 WHERE `+legacyCandidate,
		cutoff,
	)
	if err != nil {
		return 0, types.NewAppError(types.ErrCodeInternalDB, "failed to backfill legacy accounts", err)
	}
	return tag.RowsAffected(), nil
}

// SeedLegacy flags the given users as legacy-paid, creating their rows when
// they have never touched billing. Users already flagged are not counted.
func (r *BillingRepository) SeedLegacy(ctx context.Context, userIDs []string, dryRun bool) (int64, error) {
	if len(userIDs) == 0 {
		return 0, nil
	}

	if dryRun {
		var n int64
		err := r.db.QueryRow(ctx,
			`SELECT COUNT(*)
			 FROM (SELECT DISTINCT unnest($1::text[]) AS user_id) ids
			 LEFT JOIN billing_accounts b USING (user_id)
			 WHERE b.is_legacy_paid IS DISTINCT FROM true`,
			userIDs,
		).Scan(&n)
		if err != nil {
			return 0, types.NewAppError(types.ErrCodeInternalDB, "failed to count legacy seed candidates", err)
		}
		return n, nil
	}

	tag, err := r.db.Exec(ctx,
		`INSERT INTO billing_accounts (user_id, is_legacy_paid)
		 SELECT DISTINCT unnest($1::text[]), true
		 ON CONFLICT (user_id) DO UPDATE
		 SET is_legacy_paid = true, updated_at = NOW()
		 WHERE billing_accounts.is_legacy_paid = false`,
		userIDs,
	)
	if err != nil {
		return 0, types.NewAppError(types.ErrCodeInternalDB, "failed to seed legacy accounts", err)
	}
	return tag.RowsAffected(), nil
}
