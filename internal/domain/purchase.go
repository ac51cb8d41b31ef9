package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Platform is the store a receipt was issued by
type Platform string

const (
	PlatformIOS     Platform = "iOS"
	PlatformAndroid Platform = "Android"
)

// Reward is an amount of one currency
type Reward struct {
	Currency string `json:"currency" yaml:"currency"`
	Amount   int64  `json:"amount" yaml:"amount"`
}

// RewardBundle is a set of (currency, amount) pairs granted together
type RewardBundle []Reward

// Grants expands the bundle into per-player currency grants
func (b RewardBundle) Grants(playerID string) []CurrencyGrant {
	grants := make([]CurrencyGrant, 0, len(b))
	for _, r := range b {
		if r.Amount == 0 {
			continue
		}
		grants = append(grants, CurrencyGrant{PlayerID: playerID, Currency: r.Currency, Amount: r.Amount})
	}
	return grants
}

// PurchaseReceipt is a client-originated in-app purchase record
type PurchaseReceipt struct {
	ID                 string              `json:"id"`
	PlayerID           string              `json:"player_id"`
	ProductID          string              `json:"product_id"`
	ReceiptData        string              `json:"receipt_data"`
	Platform           Platform            `json:"platform"`
	Price              decimal.Decimal     `json:"price"`
	TransactionID      string              `json:"transaction_id"`
	Validated          *bool               `json:"validated,omitempty"`
	Rewarded           bool                `json:"rewarded"`
	ValidationError    string              `json:"validation_error,omitempty"`
	VerificationResult *VerificationResult `json:"verification_result,omitempty"`
	// ProcessingError holds the last store or backend failure. It never
	// carries a verdict; the receipt stays eligible for reprocessing.
	ProcessingError string     `json:"processing_error,omitempty"`
	ErroredAt       *time.Time `json:"errored_at,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	ValidatedAt     *time.Time `json:"validated_at,omitempty"`
}

// Terminal reports whether validation already ran to completion
func (r *PurchaseReceipt) Terminal() bool {
	return r.Validated != nil
}

// Errored reports whether processing failed before a verdict was reached
func (r *PurchaseReceipt) Errored() bool {
	return r.Validated == nil && r.ProcessingError != ""
}

// VerificationResult is what a platform verifier reports for a receipt
type VerificationResult struct {
	Valid         bool   `json:"valid"`
	TransactionID string `json:"transaction_id,omitempty"`
	ProductID     string `json:"product_id,omitempty"`
	Environment   string `json:"environment,omitempty"`
	Status        int    `json:"status"`
	Message       string `json:"message,omitempty"`
}

// PurchaseGrant is the single logical update applied for a confirmed receipt
type PurchaseGrant struct {
	ReceiptID     string
	PlayerID      string
	Platform      Platform
	TransactionID string
	Rewards       RewardBundle
	Price         decimal.Decimal
	Result        VerificationResult
	At            time.Time
}
