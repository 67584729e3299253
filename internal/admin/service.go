package admin

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/bodyf1rst/billing-backend/internal/audit"
	"github.com/bodyf1rst/billing-backend/internal/billing"
	"github.com/bodyf1rst/billing-backend/internal/notifications"
	"github.com/bodyf1rst/billing-backend/internal/users"
	"github.com/bodyf1rst/billing-backend/pkg/db/models"
	"github.com/bodyf1rst/billing-backend/pkg/enums"
	pkgerrors "github.com/bodyf1rst/billing-backend/pkg/errors"
	"github.com/bodyf1rst/billing-backend/pkg/logger"
	"github.com/bodyf1rst/billing-backend/pkg/outbox"
)

// MaxBulkUsers caps the number of users one bulk request may touch.
const MaxBulkUsers = 100

const targetUser = "user"
const targetInvoice = "invoice"

type notifier interface {
	Enqueue(ctx context.Context, tx *gorm.DB, n notifications.Notification) error
}

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// Service defines privileged billing mutations. Every mutation writes its
// audit row in the same transaction.
type Service interface {
	SetBillingStatus(ctx context.Context, adminID, userID uuid.UUID, status enums.BillingStatus, reason string) (*BillingStatusChange, error)
	BulkDisableBilling(ctx context.Context, adminID uuid.UUID, userIDs []uuid.UUID, reason string) ([]UserResult, error)
	SendPaymentReminders(ctx context.Context, adminID uuid.UUID, userIDs []uuid.UUID) ([]UserResult, error)
	AttachInvoiceDocument(ctx context.Context, adminID, invoiceID uuid.UUID, documentPath string) error
	ListActions(ctx context.Context, filters audit.ListFilters) (*audit.ListResult, error)
}

type ServiceParams struct {
	Users             *users.Repository
	Billing           billing.Repository
	Audit             *audit.Recorder
	Notifications     notifier
	TransactionRunner txRunner
	Logger            *logger.Logger
}

type service struct {
	users   *users.Repository
	billing billing.Repository
	audit   *audit.Recorder
	notify  notifier
	tx      txRunner
	logg    *logger.Logger
}

func NewService(params ServiceParams) (Service, error) {
	if params.Users == nil {
		return nil, fmt.Errorf("users repo required")
	}
	if params.Billing == nil {
		return nil, fmt.Errorf("billing repo required")
	}
	if params.Audit == nil {
		return nil, fmt.Errorf("audit recorder required")
	}
	if params.Notifications == nil {
		return nil, fmt.Errorf("notification dispatcher required")
	}
	if params.TransactionRunner == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &service{
		users:   params.Users,
		billing: params.Billing,
		audit:   params.Audit,
		notify:  params.Notifications,
		tx:      params.TransactionRunner,
		logg:    params.Logger,
	}, nil
}

func (s *service) SetBillingStatus(ctx context.Context, adminID, userID uuid.UUID, status enums.BillingStatus, reason string) (*BillingStatusChange, error) {
	if !status.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "invalid billing status").WithDetails(map[string]string{"status": string(status)})
	}

	var change *BillingStatusChange
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		user, err := s.loadUser(ctx, tx, userID)
		if err != nil {
			return err
		}
		change = &BillingStatusChange{UserID: user.ID, Previous: user.BillingStatus, Current: status}
		if err := s.users.WithTx(tx).UpdateBillingStatus(ctx, user.ID, status); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "update billing status")
		}
		return s.record(ctx, tx, audit.Action{
			AdminID:    adminID,
			Action:     enums.AdminActionBillingStatusChanged,
			TargetType: targetUser,
			TargetID:   user.ID.String(),
			Details: map[string]any{
				"from":   user.BillingStatus,
				"to":     status,
				"reason": strings.TrimSpace(reason),
			},
		})
	})
	if err != nil {
		return nil, err
	}
	return change, nil
}

// BulkDisableBilling disables each user in its own transaction and reports
// the outcome per user. One failing user does not undo the others.
func (s *service) BulkDisableBilling(ctx context.Context, adminID uuid.UUID, userIDs []uuid.UUID, reason string) ([]UserResult, error) {
	ids, err := normalizeIDs(userIDs)
	if err != nil {
		return nil, err
	}
	reason = strings.TrimSpace(reason)

	results := make([]UserResult, 0, len(ids))
	for _, id := range ids {
		res := UserResult{UserID: id}
		err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
			user, err := s.loadUser(ctx, tx, id)
			if err != nil {
				return err
			}
			if user.BillingStatus == enums.BillingStatusDisabled {
				res.Outcome = OutcomeUnchanged
				return nil
			}
			if err := s.users.WithTx(tx).UpdateBillingStatus(ctx, id, enums.BillingStatusDisabled); err != nil {
				return err
			}
			res.Outcome = OutcomeApplied
			return s.record(ctx, tx, audit.Action{
				AdminID:    adminID,
				Action:     enums.AdminActionBillingDisabled,
				TargetType: targetUser,
				TargetID:   id.String(),
				Details:    map[string]any{"from": user.BillingStatus, "reason": reason},
			})
		})
		if err != nil {
			res = s.failedResult(ctx, id, "disable billing", err)
		}
		results = append(results, res)
	}
	return results, nil
}

// SendPaymentReminders notifies past-due users. Anyone else is skipped.
func (s *service) SendPaymentReminders(ctx context.Context, adminID uuid.UUID, userIDs []uuid.UUID) ([]UserResult, error) {
	ids, err := normalizeIDs(userIDs)
	if err != nil {
		return nil, err
	}

	results := make([]UserResult, 0, len(ids))
	for _, id := range ids {
		res := UserResult{UserID: id}
		err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
			user, err := s.loadUser(ctx, tx, id)
			if err != nil {
				return err
			}
			if user.BillingStatus != enums.BillingStatusPastDue {
				res.Outcome = OutcomeSkipped
				res.Reason = "billing status is " + string(user.BillingStatus)
				return nil
			}
			if err := s.notify.Enqueue(ctx, tx, notifications.Notification{
				UserID: user.ID,
				Email:  user.Email,
				Name:   user.FullName(),
				Kind:   enums.NotificationPaymentReminder,
				Actor:  outbox.AdminActor(adminID),
			}); err != nil {
				return err
			}
			res.Outcome = OutcomeApplied
			return s.record(ctx, tx, audit.Action{
				AdminID:    adminID,
				Action:     enums.AdminActionPaymentReminderSent,
				TargetType: targetUser,
				TargetID:   id.String(),
			})
		})
		if err != nil {
			res = s.failedResult(ctx, id, "send payment reminder", err)
		}
		results = append(results, res)
	}
	return results, nil
}

func (s *service) AttachInvoiceDocument(ctx context.Context, adminID, invoiceID uuid.UUID, documentPath string) error {
	cleaned, err := cleanDocumentPath(documentPath)
	if err != nil {
		return err
	}
	return s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		err := s.billing.WithTx(tx).SetInvoiceDocument(ctx, invoiceID, cleaned)
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return pkgerrors.New(pkgerrors.CodeNotFound, "invoice not found")
		}
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "attach invoice document")
		}
		return s.record(ctx, tx, audit.Action{
			AdminID:    adminID,
			Action:     enums.AdminActionInvoiceDocumentAttached,
			TargetType: targetInvoice,
			TargetID:   invoiceID.String(),
			Details:    map[string]any{"document_path": cleaned},
		})
	})
}

func (s *service) ListActions(ctx context.Context, filters audit.ListFilters) (*audit.ListResult, error) {
	return s.audit.List(ctx, filters)
}

func (s *service) loadUser(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*models.User, error) {
	user, err := s.users.WithTx(tx).FindByID(ctx, id)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "user not found")
	}
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load user")
	}
	return user, nil
}

func (s *service) record(ctx context.Context, tx *gorm.DB, action audit.Action) error {
	if err := s.audit.Record(ctx, tx, action); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "record admin action")
	}
	return nil
}

func (s *service) failedResult(ctx context.Context, id uuid.UUID, operation string, err error) UserResult {
	if pkgerrors.Is(err, pkgerrors.CodeNotFound) {
		return UserResult{UserID: id, Outcome: OutcomeNotFound}
	}
	logCtx := s.logg.WithFields(ctx, map[string]any{
		"user_id":   id.String(),
		"operation": operation,
	})
	s.logg.Error(logCtx, "admin bulk item failed", err)
	return UserResult{UserID: id, Outcome: OutcomeFailed}
}

func normalizeIDs(ids []uuid.UUID) ([]uuid.UUID, error) {
	if len(ids) == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "user_ids is required").WithDetails(map[string]string{"user_ids": "required"})
	}
	seen := make(map[uuid.UUID]struct{}, len(ids))
	out := make([]uuid.UUID, 0, len(ids))
	for _, id := range ids {
		if id == uuid.Nil {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "user_ids contains an empty id")
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	if len(out) > MaxBulkUsers {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("at most %d users per request", MaxBulkUsers))
	}
	return out, nil
}

// cleanDocumentPath accepts relative storage paths only.
func cleanDocumentPath(raw string) (string, error) {
	trimmed := strings.TrimSpace(raw)
	invalid := pkgerrors.New(pkgerrors.CodeValidation, "invalid document path").WithDetails(map[string]string{"document_path": "must be a relative storage path"})
	if trimmed == "" || strings.Contains(trimmed, "://") || strings.HasPrefix(trimmed, "/") || strings.Contains(trimmed, `\`) {
		return "", invalid
	}
	cleaned := path.Clean(trimmed)
	if cleaned == "." || cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return "", invalid
	}
	return cleaned, nil
}
