package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/arcade-backend/internal/domain"
)

// CreateReceipt inserts an unvalidated receipt; an existing id is kept
func (r *Repository) CreateReceipt(ctx context.Context, receipt *domain.PurchaseReceipt) error {
	query := `
		INSERT INTO purchase_receipts (id, player_id, product_id, receipt_data, platform, price, transaction_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO NOTHING
	`
	_, err := r.pool.Exec(ctx, query,
		receipt.ID,
		receipt.PlayerID,
		receipt.ProductID,
		receipt.ReceiptData,
		string(receipt.Platform),
		receipt.Price,
		receipt.TransactionID,
		receipt.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("creating receipt: %w", err)
	}
	return nil
}

const receiptColumns = `id, player_id, product_id, receipt_data, platform, price, transaction_id, validated,
	rewarded, validation_error, verification_result, processing_error, created_at, validated_at, errored_at`

func scanReceipt(row scanner) (*domain.PurchaseReceipt, error) {
	var (
		receipt domain.PurchaseReceipt
		result  []byte
	)
	err := row.Scan(
		&receipt.ID,
		&receipt.PlayerID,
		&receipt.ProductID,
		&receipt.ReceiptData,
		&receipt.Platform,
		&receipt.Price,
		&receipt.TransactionID,
		&receipt.Validated,
		&receipt.Rewarded,
		&receipt.ValidationError,
		&result,
		&receipt.ProcessingError,
		&receipt.CreatedAt,
		&receipt.ValidatedAt,
		&receipt.ErroredAt,
	)
	if err != nil {
		return nil, err
	}
	if len(result) > 0 {
		receipt.VerificationResult = &domain.VerificationResult{}
		if err := json.Unmarshal(result, receipt.VerificationResult); err != nil {
			return nil, fmt.Errorf("decoding verification result: %w", err)
		}
	}
	return &receipt, nil
}

// GetReceipt retrieves a receipt by ID
func (r *Repository) GetReceipt(ctx context.Context, id string) (*domain.PurchaseReceipt, error) {
	query := `SELECT ` + receiptColumns + ` FROM purchase_receipts WHERE id = $1`
	receipt, err := scanReceipt(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrReceiptNotFound
		}
		return nil, fmt.Errorf("getting receipt: %w", err)
	}
	return receipt, nil
}

// IsTransactionClaimed reports whether a transaction was already rewarded
func (r *Repository) IsTransactionClaimed(ctx context.Context, platform domain.Platform, transactionID string) (bool, error) {
	query := `SELECT EXISTS(SELECT 1 FROM processed_transactions WHERE platform = $1 AND transaction_id = $2)`
	var exists bool
	if err := r.pool.QueryRow(ctx, query, string(platform), transactionID).Scan(&exists); err != nil {
		return false, fmt.Errorf("checking transaction: %w", err)
	}
	return exists, nil
}

// CompletePurchase claims the transaction, credits the wallet, updates the
// ledger and marks the receipt validated in one transaction. The primary key
// of processed_transactions makes a second claim fail.
func (r *Repository) CompletePurchase(ctx context.Context, grant domain.PurchaseGrant) error {
	result, err := json.Marshal(grant.Result)
	if err != nil {
		return fmt.Errorf("encoding verification result: %w", err)
	}

	return pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		claim, err := tx.Exec(ctx, `
			INSERT INTO processed_transactions (platform, transaction_id, receipt_id, player_id, processed_at)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (platform, transaction_id) DO NOTHING
		`, string(grant.Platform), grant.TransactionID, grant.ReceiptID, grant.PlayerID, grant.At)
		if err != nil {
			return fmt.Errorf("claiming transaction: %w", err)
		}
		if claim.RowsAffected() == 0 {
			return domain.ErrDuplicateTransaction
		}

		marked, err := tx.Exec(ctx, `
			UPDATE purchase_receipts
			SET validated = TRUE, rewarded = TRUE, validation_error = '', verification_result = $2, validated_at = $3
			WHERE id = $1
		`, grant.ReceiptID, result, grant.At)
		if err != nil {
			return fmt.Errorf("marking receipt: %w", err)
		}
		if marked.RowsAffected() == 0 {
			return domain.ErrReceiptNotFound
		}

		batch := &pgx.Batch{}
		batch.Queue(`
			INSERT INTO wallets (player_id, lifetime_spend, purchase_count, last_purchase_at, updated_at)
			VALUES ($1, $2, 1, $3, $3)
			ON CONFLICT (player_id)
			DO UPDATE SET
				lifetime_spend = wallets.lifetime_spend + EXCLUDED.lifetime_spend,
				purchase_count = wallets.purchase_count + 1,
				last_purchase_at = EXCLUDED.last_purchase_at,
				updated_at = EXCLUDED.updated_at
		`, grant.PlayerID, grant.Price, grant.At)
		for _, reward := range grant.Rewards {
			batch.Queue(incrementBalanceQuery, grant.PlayerID, reward.Currency, reward.Amount)
		}

		br := tx.SendBatch(ctx, batch)
		for i := 0; i < batch.Len(); i++ {
			if _, err := br.Exec(); err != nil {
				br.Close()
				return fmt.Errorf("crediting wallet: %w", err)
			}
		}
		return br.Close()
	})
}

// RejectReceipt marks a receipt without a verdict validated=false
func (r *Repository) RejectReceipt(ctx context.Context, id, reason string, result *domain.VerificationResult, at time.Time) error {
	var resultJSON []byte
	if result != nil {
		var err error
		resultJSON, err = json.Marshal(result)
		if err != nil {
			return fmt.Errorf("encoding verification result: %w", err)
		}
	}

	query := `
		UPDATE purchase_receipts
		SET validated = FALSE, rewarded = FALSE, validation_error = $2, verification_result = $3, validated_at = $4
		WHERE id = $1 AND validated IS NULL
	`
	tag, err := r.pool.Exec(ctx, query, id, reason, resultJSON, at)
	if err != nil {
		return fmt.Errorf("rejecting receipt: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}

	var exists bool
	if err := r.pool.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM purchase_receipts WHERE id = $1)`, id).Scan(&exists); err != nil {
		return fmt.Errorf("checking receipt existence: %w", err)
	}
	if !exists {
		return domain.ErrReceiptNotFound
	}
	return nil
}

// MarkReceiptErrored records a processing failure on a receipt still
// awaiting a verdict
func (r *Repository) MarkReceiptErrored(ctx context.Context, id, reason string, at time.Time) error {
	query := `
		UPDATE purchase_receipts
		SET processing_error = $2, errored_at = $3
		WHERE id = $1 AND validated IS NULL
	`
	tag, err := r.pool.Exec(ctx, query, id, reason, at)
	if err != nil {
		return fmt.Errorf("marking receipt errored: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}

	var exists bool
	if err := r.pool.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM purchase_receipts WHERE id = $1)`, id).Scan(&exists); err != nil {
		return fmt.Errorf("checking receipt existence: %w", err)
	}
	if !exists {
		return domain.ErrReceiptNotFound
	}
	return nil
}

// ListRetryableReceipts pages receipts without a verdict that either errored
// or were created before staleBefore, by id
func (r *Repository) ListRetryableReceipts(ctx context.Context, staleBefore time.Time, afterID string, limit int) ([]domain.PurchaseReceipt, error) {
	query := `SELECT ` + receiptColumns + `
		FROM purchase_receipts
		WHERE validated IS NULL AND (processing_error <> '' OR created_at < $1) AND id > $2
		ORDER BY id
		LIMIT $3
	`
	rows, err := r.pool.Query(ctx, query, staleBefore, afterID, limit)
	if err != nil {
		return nil, fmt.Errorf("listing retryable receipts: %w", err)
	}
	defer rows.Close()

	var receipts []domain.PurchaseReceipt
	for rows.Next() {
		receipt, err := scanReceipt(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning receipt: %w", err)
		}
		receipts = append(receipts, *receipt)
	}
	return receipts, rows.Err()
}
