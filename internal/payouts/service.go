package payouts

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/multierr"
	"gorm.io/gorm"

	"github.com/bodyf1rst/billing-backend/internal/users"
	"github.com/bodyf1rst/billing-backend/pkg/db/models"
	"github.com/bodyf1rst/billing-backend/pkg/enums"
	pkgerrors "github.com/bodyf1rst/billing-backend/pkg/errors"
	"github.com/bodyf1rst/billing-backend/pkg/logger"
	"github.com/bodyf1rst/billing-backend/pkg/pagination"
	"github.com/bodyf1rst/billing-backend/pkg/stripe"
	"github.com/bodyf1rst/billing-backend/pkg/types"
)

// Gateway is the connected-account slice of the payment provider.
type Gateway interface {
	Environment() string
	Currency() string
	RetrieveBalance(ctx context.Context, accountID string) (*stripe.Balance, error)
	CreatePayout(ctx context.Context, params stripe.PayoutParams) (*stripe.Payout, error)
	RetrievePayout(ctx context.Context, accountID, payoutID string) (*stripe.Payout, error)
	CreateConnectedAccount(ctx context.Context, params stripe.AccountParams) (*stripe.Account, error)
	RetrieveAccount(ctx context.Context, accountID string) (*stripe.Account, error)
	CreateOnboardingLink(ctx context.Context, accountID string) (*stripe.AccountLink, error)
}

// Service defines the coach payout surface.
type Service interface {
	ConnectAccount(ctx context.Context, coachID uuid.UUID) (*ConnectResult, error)
	Status(ctx context.Context, coachID uuid.UUID) (*AccountStatus, error)
	RequestPayout(ctx context.Context, coachID uuid.UUID, amount decimal.Decimal) (*PayoutDTO, error)
	ListPayouts(ctx context.Context, coachID uuid.UUID, params pagination.Params) (*types.Page[PayoutDTO], error)
	RefreshPayout(ctx context.Context, coachID, payoutID uuid.UUID) (*PayoutDTO, error)
	RefreshOpenPayouts(ctx context.Context, limit int) (int, error)
	Earnings(ctx context.Context, coachID uuid.UUID) (*Earnings, error)
}

// ServiceParams groups dependencies for the payout service.
type ServiceParams struct {
	Repo           *Repository
	Users          *users.Repository
	Gateway        Gateway
	InstantPayouts bool
	Logger         *logger.Logger
}

type service struct {
	repo    *Repository
	users   *users.Repository
	gateway Gateway
	method  enums.PayoutMethod
	logg    *logger.Logger
}

func NewService(params ServiceParams) (Service, error) {
	if params.Repo == nil {
		return nil, fmt.Errorf("payout repo required")
	}
	if params.Users == nil {
		return nil, fmt.Errorf("users repo required")
	}
	if params.Gateway == nil {
		return nil, fmt.Errorf("gateway client required")
	}
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	method := enums.PayoutMethodStandard
	if params.InstantPayouts {
		method = enums.PayoutMethodInstant
	}
	return &service{
		repo:    params.Repo,
		users:   params.Users,
		gateway: params.Gateway,
		method:  method,
		logg:    params.Logger,
	}, nil
}

func (s *service) coach(ctx context.Context, coachID uuid.UUID) (*models.User, error) {
	user, err := s.users.FindByID(ctx, coachID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "coach not found")
	}
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load coach")
	}
	if user.Role != enums.RoleCoach {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "coach account required")
	}
	return user, nil
}

// ConnectAccount creates the connected account once and always issues a new
// onboarding link, since links are single use.
func (s *service) ConnectAccount(ctx context.Context, coachID uuid.UUID) (*ConnectResult, error) {
	user, err := s.coach(ctx, coachID)
	if err != nil {
		return nil, err
	}

	accountID := deref(user.StripeConnectAccountID)
	if accountID == "" {
		account, err := s.gateway.CreateConnectedAccount(ctx, stripe.AccountParams{
			UserID: user.ID.String(),
			Email:  user.Email,
		})
		if err != nil {
			return nil, s.gatewayFailure(ctx, coachID, "create_connected_account", err)
		}
		wrote, err := s.users.SetConnectAccountIDIfEmpty(ctx, user.ID, account.ID)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "store connected account")
		}
		accountID = account.ID
		if !wrote {
			// A concurrent request stored its account first; use that one.
			stored, err := s.coach(ctx, coachID)
			if err != nil {
				return nil, err
			}
			accountID = deref(stored.StripeConnectAccountID)
		}
	}

	link, err := s.gateway.CreateOnboardingLink(ctx, accountID)
	if err != nil {
		return nil, s.gatewayFailure(ctx, coachID, "create_onboarding_link", err)
	}
	return &ConnectResult{
		AccountID:     accountID,
		OnboardingURL: link.URL,
		ExpiresAt:     link.ExpiresAt,
	}, nil
}

func (s *service) Status(ctx context.Context, coachID uuid.UUID) (*AccountStatus, error) {
	user, err := s.coach(ctx, coachID)
	if err != nil {
		return nil, err
	}
	accountID := deref(user.StripeConnectAccountID)
	if accountID == "" {
		return &AccountStatus{Status: enums.ConnectStatusIncomplete}, nil
	}
	account, err := s.gateway.RetrieveAccount(ctx, accountID)
	if err != nil {
		return nil, s.gatewayFailure(ctx, coachID, "retrieve_account", err)
	}
	return &AccountStatus{
		Connected:        true,
		AccountID:        accountID,
		Status:           connectStatus(account),
		ChargesEnabled:   account.ChargesEnabled,
		PayoutsEnabled:   account.PayoutsEnabled,
		DetailsSubmitted: account.DetailsSubmitted,
	}, nil
}

func connectStatus(account *stripe.Account) enums.ConnectStatus {
	switch {
	case account.ChargesEnabled && account.PayoutsEnabled:
		return enums.ConnectStatusActive
	case account.DetailsSubmitted:
		return enums.ConnectStatusPending
	default:
		return enums.ConnectStatusIncomplete
	}
}

// RequestPayout checks the live balance and then creates the payout. The two
// gateway calls are not atomic; the gateway rejects an overdraw that slips
// between them and that rejection maps to the same InsufficientFunds error.
func (s *service) RequestPayout(ctx context.Context, coachID uuid.UUID, amount decimal.Decimal) (*PayoutDTO, error) {
	if !amount.IsPositive() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "amount must be greater than zero").WithDetails(map[string]string{"amount": "must be positive"})
	}
	if !amount.Equal(amount.Round(2)) {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "amount has too many decimal places").WithDetails(map[string]string{"amount": "at most two decimal places"})
	}
	cents := types.DecimalToCents(amount)

	user, err := s.coach(ctx, coachID)
	if err != nil {
		return nil, err
	}
	accountID := deref(user.StripeConnectAccountID)
	if accountID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "connect a payout account first")
	}

	currency := s.gateway.Currency()
	balance, err := s.gateway.RetrieveBalance(ctx, accountID)
	if err != nil {
		return nil, s.gatewayFailure(ctx, coachID, "retrieve_balance", err)
	}
	available := balance.Available[currency]
	if cents > available {
		return nil, insufficientFunds(available, currency)
	}

	requestID := uuid.New()
	payout, err := s.gateway.CreatePayout(ctx, stripe.PayoutParams{
		AccountID:      accountID,
		AmountCents:    cents,
		Currency:       currency,
		Method:         string(s.method),
		IdempotencyKey: requestID.String(),
	})
	if errors.Is(err, stripe.ErrInsufficientBalance) {
		return nil, insufficientFunds(available, currency)
	}
	if err != nil {
		return nil, s.gatewayFailure(ctx, coachID, "create_payout", err)
	}

	row := &models.PayoutRequest{
		ID:              requestID,
		CoachID:         coachID,
		Environment:     s.gateway.Environment(),
		StripeAccountID: accountID,
		StripePayoutID:  payout.ID,
		AmountCents:     cents,
		Currency:        currency,
		Method:          s.method,
		Status:          enums.PayoutStatusFromGateway(payout.Status),
		ArrivalDate:     payout.ArrivalDate,
		FailureMessage:  nonEmpty(payout.FailureMessage),
	}
	if err := s.repo.Create(ctx, row); err != nil {
		logCtx := s.logg.WithField(s.logg.WithCoachID(ctx, coachID.String()), "payout_id", payout.ID)
		s.logg.Error(logCtx, "payout created at gateway but not recorded", err)
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "record payout")
	}
	dto := PayoutFromModel(*row)
	return &dto, nil
}

func insufficientFunds(availableCents int64, currency string) error {
	return pkgerrors.New(pkgerrors.CodeInsufficientFunds, "amount exceeds available balance").
		WithDetails(map[string]any{"available": types.NewMoney(availableCents, currency)})
}

func (s *service) ListPayouts(ctx context.Context, coachID uuid.UUID, params pagination.Params) (*types.Page[PayoutDTO], error) {
	cursor, err := pagination.ParseCursor(params.Cursor)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid cursor")
	}
	rows, next, err := s.repo.List(ctx, coachID, params.Limit, cursor)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "list payouts")
	}
	page := &types.Page[PayoutDTO]{Items: make([]PayoutDTO, 0, len(rows))}
	for _, row := range rows {
		page.Items = append(page.Items, PayoutFromModel(row))
	}
	if next != nil {
		page.NextCursor = pagination.EncodeCursor(*next)
	}
	return page, nil
}

func (s *service) RefreshPayout(ctx context.Context, coachID, payoutID uuid.UUID) (*PayoutDTO, error) {
	row, err := s.repo.Find(ctx, coachID, payoutID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load payout")
	}
	if row == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "payout not found")
	}
	if err := s.refresh(ctx, row); err != nil {
		return nil, s.gatewayFailure(ctx, coachID, "retrieve_payout", err)
	}
	dto := PayoutFromModel(*row)
	return &dto, nil
}

// RefreshOpenPayouts re-reads pending and in-transit payouts from the gateway.
// Failures are collected per payout so one bad row does not stop the batch.
func (s *service) RefreshOpenPayouts(ctx context.Context, limit int) (int, error) {
	rows, err := s.repo.ListOpen(ctx, s.gateway.Environment(), limit)
	if err != nil {
		return 0, fmt.Errorf("list open payouts: %w", err)
	}
	var (
		refreshed int
		errs      error
	)
	for i := range rows {
		if err := ctx.Err(); err != nil {
			return refreshed, multierr.Append(errs, err)
		}
		if err := s.refresh(ctx, &rows[i]); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("payout %s: %w", rows[i].ID, err))
			continue
		}
		refreshed++
	}
	return refreshed, errs
}

func (s *service) refresh(ctx context.Context, row *models.PayoutRequest) error {
	payout, err := s.gateway.RetrievePayout(ctx, row.StripeAccountID, row.StripePayoutID)
	if err != nil {
		return err
	}
	update := StatusUpdate{
		Status:         enums.PayoutStatusFromGateway(payout.Status),
		ArrivalDate:    payout.ArrivalDate,
		FailureMessage: nonEmpty(payout.FailureMessage),
	}
	if err := s.repo.UpdateStatus(ctx, row.ID, update); err != nil {
		return fmt.Errorf("update payout: %w", err)
	}
	row.Status = update.Status
	row.ArrivalDate = update.ArrivalDate
	row.FailureMessage = update.FailureMessage
	return nil
}

// Earnings reads local data only.
func (s *service) Earnings(ctx context.Context, coachID uuid.UUID) (*Earnings, error) {
	totals, err := s.repo.Earnings(ctx, coachID, s.gateway.Environment())
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load earnings")
	}
	currency := s.gateway.Currency()
	return &Earnings{
		TotalEarned:    types.NewMoney(totals.EarnedCents, currency),
		PaymentCount:   totals.PaymentCount,
		PendingPayouts: types.NewMoney(totals.PendingCents, currency),
		PaidOut:        types.NewMoney(totals.PaidOutCents, currency),
		LastPaymentAt:  totals.LastPaymentAt,
	}, nil
}

func (s *service) gatewayFailure(ctx context.Context, coachID uuid.UUID, operation string, err error) error {
	logCtx := s.logg.WithField(s.logg.WithCoachID(ctx, coachID.String()), "operation", operation)
	s.logg.Error(logCtx, "payment gateway call failed", err)
	return pkgerrors.Gateway(err, operation)
}

func deref(value *string) string {
	if value == nil {
		return ""
	}
	return strings.TrimSpace(*value)
}

func nonEmpty(value string) *string {
	if strings.TrimSpace(value) == "" {
		return nil
	}
	return &value
}
