package verify

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"time"

	"github.com/valyala/fasthttp"

	"github.com/arcade-backend/internal/domain"
)

const googlePurchaseStatePurchased = 0

// GoogleReceipt is the receipt data a Play client submits
type GoogleReceipt struct {
	PackageName   string `json:"packageName"`
	ProductID     string `json:"productId"`
	PurchaseToken string `json:"purchaseToken"`
}

// GoogleVerifier validates Play purchases with the Android Publisher API
type GoogleVerifier struct {
	baseURL     string
	accessToken string
	client      *fasthttp.Client
}

// NewGoogleVerifier creates a Play verifier
func NewGoogleVerifier(baseURL, accessToken string, timeout time.Duration) *GoogleVerifier {
	return &GoogleVerifier{
		baseURL:     baseURL,
		accessToken: accessToken,
		client:      newHTTPClient(timeout),
	}
}

type googleProductPurchase struct {
	PurchaseState        int    `json:"purchaseState"`
	ConsumptionState     int    `json:"consumptionState"`
	OrderID              string `json:"orderId"`
	PurchaseType         *int   `json:"purchaseType,omitempty"`
	AcknowledgementState int    `json:"acknowledgementState"`
}

// Verify looks the purchase token up and accepts it when it is in the
// purchased state.
func (v *GoogleVerifier) Verify(ctx context.Context, receiptData string) (*domain.VerificationResult, error) {
	var receipt GoogleReceipt
	if err := json.Unmarshal([]byte(receiptData), &receipt); err != nil {
		return nil, fmt.Errorf("decoding google receipt: %w", err)
	}
	if receipt.PackageName == "" || receipt.ProductID == "" || receipt.PurchaseToken == "" {
		return nil, fmt.Errorf("google receipt is missing packageName, productId or purchaseToken")
	}

	endpoint := fmt.Sprintf("%s/applications/%s/purchases/products/%s/tokens/%s",
		v.baseURL,
		url.PathEscape(receipt.PackageName),
		url.PathEscape(receipt.ProductID),
		url.PathEscape(receipt.PurchaseToken),
	)
	purchase, status, err := doRequest[googleProductPurchase](ctx, v.client, request{
		method:  fasthttp.MethodGet,
		url:     endpoint,
		headers: map[string]string{"Authorization": "Bearer " + v.accessToken},
	})
	if err != nil {
		// Unknown or revoked tokens are a rejection, not an outage.
		if status == fasthttp.StatusNotFound || status == fasthttp.StatusGone || status == fasthttp.StatusBadRequest {
			return &domain.VerificationResult{
				Valid:     false,
				Status:    status,
				ProductID: receipt.ProductID,
				Message:   fmt.Sprintf("purchase token rejected with status %d", status),
			}, nil
		}
		return nil, fmt.Errorf("verifying google purchase: %w", err)
	}

	result := &domain.VerificationResult{
		Valid:         purchase.PurchaseState == googlePurchaseStatePurchased,
		TransactionID: purchase.OrderID,
		ProductID:     receipt.ProductID,
		Status:        purchase.PurchaseState,
		Environment:   "production",
	}
	if purchase.PurchaseType != nil && *purchase.PurchaseType == 0 {
		result.Environment = "sandbox"
	}
	if !result.Valid {
		result.Message = fmt.Sprintf("purchase state %d", purchase.PurchaseState)
	}
	return result, nil
}
