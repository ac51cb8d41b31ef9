// Package verify calls the platform receipt verification services.
package verify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/valyala/fasthttp"

	"github.com/arcade-backend/internal/domain"
)

// Verifier checks a receipt with the platform that issued it
type Verifier interface {
	Verify(ctx context.Context, receiptData string) (*domain.VerificationResult, error)
}

func newHTTPClient(timeout time.Duration) *fasthttp.Client {
	return &fasthttp.Client{
		MaxConnsPerHost:     100,
		ReadTimeout:         timeout,
		WriteTimeout:        timeout,
		MaxIdleConnDuration: 1 * time.Minute,
	}
}

type request struct {
	method  string
	url     string
	headers map[string]string
	body    []byte
}

// doRequest performs req and decodes a JSON body into T. The HTTP status is
// returned alongside so callers can tell a rejected receipt from an outage.
func doRequest[T any](ctx context.Context, client *fasthttp.Client, r request) (*T, int, error) {
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(r.url)
	req.Header.SetMethod(r.method)
	for k, v := range r.headers {
		req.Header.Set(k, v)
	}
	if r.body != nil {
		req.Header.SetContentType("application/json")
		req.SetBody(r.body)
	}

	deadline, ok := ctx.Deadline()
	if ok {
		if err := client.DoDeadline(req, resp, deadline); err != nil {
			return nil, 0, err
		}
	} else {
		if err := client.Do(req, resp); err != nil {
			return nil, 0, err
		}
	}

	status := resp.StatusCode()
	if status != fasthttp.StatusOK {
		return nil, status, fmt.Errorf("verification API error: %d", status)
	}

	var result T
	if err := json.Unmarshal(resp.Body(), &result); err != nil {
		return nil, status, fmt.Errorf("decoding verification response: %w", err)
	}
	return &result, status, nil
}
