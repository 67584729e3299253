// Package customers resolves the gateway customer that owns a user's billing
// objects, creating it on first use.
package customers

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/bodyf1rst/billing-backend/pkg/db/models"
	pkgerrors "github.com/bodyf1rst/billing-backend/pkg/errors"
	"github.com/bodyf1rst/billing-backend/pkg/logger"
	"github.com/bodyf1rst/billing-backend/pkg/stripe"
)

type gateway interface {
	CreateCustomer(ctx context.Context, params stripe.CustomerParams) (*stripe.Customer, error)
}

type userStore interface {
	FindByID(ctx context.Context, id uuid.UUID) (*models.User, error)
	SetStripeCustomerIDIfEmpty(ctx context.Context, id uuid.UUID, customerID string) (bool, error)
}

type Service struct {
	users   userStore
	gateway gateway
	logg    *logger.Logger
}

func NewService(users userStore, gw gateway, logg *logger.Logger) (*Service, error) {
	if users == nil {
		return nil, fmt.Errorf("users repository required")
	}
	if gw == nil {
		return nil, fmt.Errorf("gateway client required")
	}
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &Service{users: users, gateway: gw, logg: logg}, nil
}

// Ensure returns the user's gateway customer ID, creating the customer when
// the user has none. Concurrent first calls converge on one stored ID: the
// gateway call is keyed per user and the local write only fills an empty column.
func (s *Service) Ensure(ctx context.Context, userID uuid.UUID) (*models.User, string, error) {
	user, err := s.users.FindByID(ctx, userID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, "", pkgerrors.New(pkgerrors.CodeNotFound, "user not found")
	}
	if err != nil {
		return nil, "", pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load user")
	}
	if user.StripeCustomerID != nil && *user.StripeCustomerID != "" {
		return user, *user.StripeCustomerID, nil
	}

	customer, err := s.gateway.CreateCustomer(ctx, stripe.CustomerParams{
		UserID: user.ID.String(),
		Email:  user.Email,
		Name:   user.FullName(),
	})
	if err != nil {
		logCtx := s.logg.WithFields(ctx, map[string]any{
			"user_id":   user.ID.String(),
			"operation": "create customer",
		})
		s.logg.Error(logCtx, "payment gateway call failed", err)
		return nil, "", pkgerrors.Gateway(err, "create customer")
	}

	written, err := s.users.SetStripeCustomerIDIfEmpty(ctx, user.ID, customer.ID)
	if err != nil {
		return nil, "", pkgerrors.Wrap(pkgerrors.CodeInternal, err, "store customer id")
	}
	if written {
		user.StripeCustomerID = &customer.ID
		return user, customer.ID, nil
	}

	stored, err := s.users.FindByID(ctx, user.ID)
	if err != nil {
		return nil, "", pkgerrors.Wrap(pkgerrors.CodeInternal, err, "reload user")
	}
	if stored.StripeCustomerID == nil || *stored.StripeCustomerID == "" {
		return nil, "", pkgerrors.New(pkgerrors.CodeInternal, "customer id not persisted")
	}
	if *stored.StripeCustomerID != customer.ID {
		logCtx := s.logg.WithFields(ctx, map[string]any{
			"user_id":         user.ID.String(),
			"stored_customer": *stored.StripeCustomerID,
			"orphan_customer": customer.ID,
		})
		s.logg.Warn(logCtx, "customer created concurrently; keeping stored id")
	}
	return stored, *stored.StripeCustomerID, nil
}
