package verify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/valyala/fasthttp"

	"github.com/arcade-backend/internal/domain"
)

const (
	appleStatusValid          = 0
	appleStatusSandboxReceipt = 21007
)

// AppleVerifier validates App Store receipts with the verifyReceipt endpoint
type AppleVerifier struct {
	url          string
	sandboxURL   string
	sharedSecret string
	client       *fasthttp.Client
}

// NewAppleVerifier creates an App Store verifier
func NewAppleVerifier(url, sandboxURL, sharedSecret string, timeout time.Duration) *AppleVerifier {
	return &AppleVerifier{
		url:          url,
		sandboxURL:   sandboxURL,
		sharedSecret: sharedSecret,
		client:       newHTTPClient(timeout),
	}
}

type appleRequest struct {
	ReceiptData            string `json:"receipt-data"`
	Password               string `json:"password,omitempty"`
	ExcludeOldTransactions bool   `json:"exclude-old-transactions"`
}

type appleInApp struct {
	ProductID             string `json:"product_id"`
	TransactionID         string `json:"transaction_id"`
	OriginalTransactionID string `json:"original_transaction_id"`
}

type appleResponse struct {
	Status      int    `json:"status"`
	Environment string `json:"environment"`
	Receipt     struct {
		InApp []appleInApp `json:"in_app"`
	} `json:"receipt"`
}

// Verify posts the receipt to production and retries against the sandbox
// when Apple reports a sandbox receipt.
func (v *AppleVerifier) Verify(ctx context.Context, receiptData string) (*domain.VerificationResult, error) {
	body, err := json.Marshal(appleRequest{
		ReceiptData:            receiptData,
		Password:               v.sharedSecret,
		ExcludeOldTransactions: true,
	})
	if err != nil {
		return nil, fmt.Errorf("encoding apple request: %w", err)
	}

	resp, _, err := doRequest[appleResponse](ctx, v.client, request{method: fasthttp.MethodPost, url: v.url, body: body})
	if err != nil {
		return nil, fmt.Errorf("verifying apple receipt: %w", err)
	}
	if resp.Status == appleStatusSandboxReceipt && v.sandboxURL != "" {
		resp, _, err = doRequest[appleResponse](ctx, v.client, request{method: fasthttp.MethodPost, url: v.sandboxURL, body: body})
		if err != nil {
			return nil, fmt.Errorf("verifying apple sandbox receipt: %w", err)
		}
	}

	result := &domain.VerificationResult{
		Valid:       resp.Status == appleStatusValid,
		Status:      resp.Status,
		Environment: resp.Environment,
	}
	if !result.Valid {
		result.Message = fmt.Sprintf("apple status %d", resp.Status)
		return result, nil
	}

	// The latest in-app purchase is the one this receipt was issued for.
	if n := len(resp.Receipt.InApp); n > 0 {
		latest := resp.Receipt.InApp[n-1]
		result.ProductID = latest.ProductID
		result.TransactionID = latest.TransactionID
	} else {
		result.Valid = false
		result.Message = "receipt contains no in-app purchases"
	}
	return result, nil
}
