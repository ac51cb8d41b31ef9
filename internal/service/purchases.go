package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/arcade-backend/internal/config"
	"github.com/arcade-backend/internal/domain"
	"github.com/arcade-backend/internal/events"
	"github.com/arcade-backend/internal/quota"
	"github.com/arcade-backend/internal/store"
	"github.com/arcade-backend/internal/verify"
)

const actionPurchaseValidation = "purchase_validation"

// SubmitReceiptRequest is the client payload of a purchase receipt
type SubmitReceiptRequest struct {
	PlayerID      string          `json:"player_id"`
	ProductID     string          `json:"product_id"`
	ReceiptData   string          `json:"receipt_data"`
	Platform      domain.Platform `json:"platform"`
	Price         decimal.Decimal `json:"price"`
	TransactionID string          `json:"transaction_id"`
}

// PurchaseValidator verifies receipts with the issuing platform and grants
// the purchased reward bundle exactly once per transaction.
type PurchaseValidator struct {
	receipts  store.Receipts
	limiter   store.RateLimiter
	verifiers map[domain.Platform]verify.Verifier
	products  map[string]domain.RewardBundle
	publisher events.Publisher
	exec      *quota.Executor
	cfg       config.GameConfig
	logger    *slog.Logger
	now       func() time.Time
}

// NewPurchaseValidator creates a purchase validator
func NewPurchaseValidator(
	receipts store.Receipts,
	limiter store.RateLimiter,
	verifiers map[domain.Platform]verify.Verifier,
	products map[string]domain.RewardBundle,
	publisher events.Publisher,
	exec *quota.Executor,
	cfg config.GameConfig,
	logger *slog.Logger,
) *PurchaseValidator {
	return &PurchaseValidator{
		receipts:  receipts,
		limiter:   limiter,
		verifiers: verifiers,
		products:  products,
		publisher: publisher,
		exec:      exec,
		cfg:       cfg,
		logger:    logger,
		now:       time.Now,
	}
}

// SetClock replaces the validator's clock
func (v *PurchaseValidator) SetClock(now func() time.Time) {
	v.now = now
}

// Enqueue stores an unvalidated receipt and publishes its creation event
func (v *PurchaseValidator) Enqueue(ctx context.Context, req SubmitReceiptRequest) (*domain.PurchaseReceipt, error) {
	receipt := &domain.PurchaseReceipt{
		ID:            uuid.New().String(),
		PlayerID:      req.PlayerID,
		ProductID:     req.ProductID,
		ReceiptData:   req.ReceiptData,
		Platform:      req.Platform,
		Price:         req.Price,
		TransactionID: req.TransactionID,
		CreatedAt:     v.now(),
	}
	if err := v.receipts.CreateReceipt(ctx, receipt); err != nil {
		return nil, fmt.Errorf("creating receipt: %w", err)
	}

	env, err := events.New(events.TypeReceiptSubmitted, receipt.PlayerID, events.ReceiptSubmitted{Receipt: *receipt}, receipt.CreatedAt)
	if err != nil {
		return nil, err
	}
	if err := v.publisher.Publish(ctx, env); err != nil {
		return nil, fmt.Errorf("publishing receipt: %w", err)
	}
	return v.receipts.GetReceipt(ctx, receipt.ID)
}

// Get returns a receipt by id
func (v *PurchaseValidator) Get(ctx context.Context, id string) (*domain.PurchaseReceipt, error) {
	return v.receipts.GetReceipt(ctx, id)
}

// HandleSubmitted is the receipt.submitted event handler
func (v *PurchaseValidator) HandleSubmitted(ctx context.Context, env events.Envelope) error {
	var payload events.ReceiptSubmitted
	if err := env.Decode(&payload); err != nil {
		return err
	}
	receipt := payload.Receipt
	if receipt.ID == "" {
		receipt.ID = env.ID
	}
	if receipt.CreatedAt.IsZero() {
		receipt.CreatedAt = env.OccurredAt
	}
	receipt.Validated = nil
	receipt.Rewarded = false
	if err := v.receipts.CreateReceipt(ctx, &receipt); err != nil {
		return domain.Transient("creating receipt", err)
	}
	return v.Process(ctx, receipt.ID)
}

// Process validates one receipt. A receipt that already has a verdict is left
// untouched.
func (v *PurchaseValidator) Process(ctx context.Context, id string) error {
	receipt, err := v.receipts.GetReceipt(ctx, id)
	if err != nil {
		if errors.Is(err, domain.ErrReceiptNotFound) {
			return err
		}
		return domain.Transient("loading receipt", err)
	}
	if receipt.Terminal() {
		v.logger.Debug("receipt already processed", "receipt_id", id)
		return nil
	}

	grant, result, err := v.validate(ctx, receipt)
	if err == nil {
		err = v.receipts.CompletePurchase(ctx, *grant)
		if errors.Is(err, domain.ErrDuplicateTransaction) {
			err = &domain.ValidationError{Reason: domain.ReasonDuplicateTransaction}
		}
	}

	var (
		verr *domain.ValidationError
		xerr *domain.ExternalValidationFailure
	)
	switch {
	case err == nil:
		v.logger.Info("purchase validated",
			"receipt_id", receipt.ID,
			"player_id", receipt.PlayerID,
			"product_id", receipt.ProductID,
			"transaction_id", grant.TransactionID,
			"price", receipt.Price.String(),
		)
		return nil
	case errors.As(err, &verr):
		return v.reject(ctx, receipt, verr.Reason, result)
	case errors.As(err, &xerr):
		return v.reject(ctx, receipt, xerr.Error(), result)
	default:
		v.logger.Error("purchase processing failed", "receipt_id", receipt.ID, "error", err)
		if markErr := v.receipts.MarkReceiptErrored(ctx, receipt.ID, err.Error(), v.now()); markErr != nil {
			v.logger.Error("failed to mark receipt errored", "receipt_id", receipt.ID, "error", markErr)
		}
		return domain.Transient("processing receipt", err)
	}
}

// ReprocessErrored retries receipts without a verdict that either hit a
// processing failure or stayed pending past the grace period
func (v *PurchaseValidator) ReprocessErrored(ctx context.Context) (quota.Result, error) {
	staleBefore := v.now().Add(-v.cfg.PendingGracePeriod)
	fetch := func(ctx context.Context, after string, limit int) ([]domain.PurchaseReceipt, error) {
		return v.receipts.ListRetryableReceipts(ctx, staleBefore, after, limit)
	}
	key := func(r domain.PurchaseReceipt) string { return r.ID }
	process := func(ctx context.Context, batch []domain.PurchaseReceipt) error {
		for _, r := range batch {
			if err := v.Process(ctx, r.ID); err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				v.logger.Warn("receipt reprocessing failed", "receipt_id", r.ID, "error", err)
			}
		}
		return nil
	}
	return quota.Drain(ctx, v.exec, string(domain.JobReprocessReceipts), v.exec.NewBudget(), fetch, key, process)
}

func (v *PurchaseValidator) validate(ctx context.Context, r *domain.PurchaseReceipt) (*domain.PurchaseGrant, *domain.VerificationResult, error) {
	if r.PlayerID == "" || r.ProductID == "" || r.ReceiptData == "" || r.Platform == "" {
		return nil, nil, &domain.ValidationError{Reason: domain.ReasonMissingFields}
	}

	at := r.CreatedAt
	if at.IsZero() {
		at = v.now()
	}
	allowed, err := v.limiter.Allow(ctx, store.RateKey{
		Subject: r.PlayerID,
		Action:  actionPurchaseValidation,
		Window:  time.Hour,
	}, r.ID, v.cfg.MaxPurchaseValidationsPerHour, at)
	if err != nil {
		return nil, nil, fmt.Errorf("checking validation rate: %w", err)
	}
	if !allowed {
		return nil, nil, &domain.ValidationError{Reason: domain.ReasonRateLimited}
	}

	verifier, ok := v.verifiers[r.Platform]
	if !ok {
		return nil, nil, domain.NewValidationError("Unsupported platform: %s", r.Platform)
	}

	if r.TransactionID != "" {
		claimed, err := v.receipts.IsTransactionClaimed(ctx, r.Platform, r.TransactionID)
		if err != nil {
			return nil, nil, fmt.Errorf("checking transaction: %w", err)
		}
		if claimed {
			return nil, nil, &domain.ValidationError{Reason: domain.ReasonDuplicateTransaction}
		}
	}

	result, err := verifier.Verify(ctx, r.ReceiptData)
	if err != nil {
		return nil, nil, &domain.ExternalValidationFailure{Platform: r.Platform, Reason: err.Error()}
	}
	if !result.Valid {
		return nil, result, &domain.ExternalValidationFailure{Platform: r.Platform, Reason: result.Message}
	}
	if result.ProductID != "" && result.ProductID != r.ProductID {
		return nil, result, &domain.ExternalValidationFailure{
			Platform: r.Platform,
			Reason:   fmt.Sprintf("receipt is for product %s", result.ProductID),
		}
	}

	transactionID := result.TransactionID
	if transactionID == "" {
		transactionID = r.TransactionID
	}
	if transactionID == "" {
		return nil, result, &domain.ExternalValidationFailure{Platform: r.Platform, Reason: "no transaction identifier"}
	}

	rewards, ok := v.products[r.ProductID]
	if !ok {
		return nil, result, &domain.ValidationError{Reason: domain.ReasonUnknownProduct}
	}

	return &domain.PurchaseGrant{
		ReceiptID:     r.ID,
		PlayerID:      r.PlayerID,
		Platform:      r.Platform,
		TransactionID: transactionID,
		Rewards:       rewards,
		Price:         r.Price,
		Result:        *result,
		At:            v.now(),
	}, result, nil
}

func (v *PurchaseValidator) reject(ctx context.Context, r *domain.PurchaseReceipt, reason string, result *domain.VerificationResult) error {
	v.logger.Info("purchase rejected",
		"receipt_id", r.ID,
		"player_id", r.PlayerID,
		"platform", r.Platform,
		"reason", reason,
	)
	if err := v.receipts.RejectReceipt(ctx, r.ID, reason, result, v.now()); err != nil {
		return domain.Transient("rejecting receipt", err)
	}
	return nil
}
