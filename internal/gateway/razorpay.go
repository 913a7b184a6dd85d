// Package gateway is a thin client for a Razorpay-style payment provider:
// authenticated order creation plus HMAC verification of the confirmation
// callback. Amounts are already in paise end to end.
package gateway

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"

	"github.com/cockroachdb/errors"

	"github.com/campusgate/registrar/internal/config"
	"github.com/campusgate/registrar/internal/domain"
)

type Client struct {
	httpClient *http.Client
	baseURL    string
	keyID      string
	secret     string
}

func NewClient(cfg *config.Config) *Client {
	return &Client{
		httpClient: &http.Client{Timeout: cfg.GatewayTimeout},
		baseURL:    cfg.GatewayBaseURL,
		keyID:      cfg.GatewayKeyID,
		secret:     cfg.GatewaySecret,
	}
}

type orderRequest struct {
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
	Receipt  string `json:"receipt"`
}

type orderResponse struct {
	ID string `json:"id"`
}

// CreateOrder registers the order with the provider and returns its
// reference. The context bounds the call; on timeout the caller must treat
// the provider-side outcome as unknown.
func (c *Client) CreateOrder(ctx context.Context, amount int64, currency, receipt string) (string, error) {
	body, err := json.Marshal(orderRequest{Amount: amount, Currency: currency, Receipt: receipt})
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/orders", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.SetBasicAuth(c.keyID, c.secret)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", errors.Mark(err, domain.ErrGatewayUnavailable)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return "", errors.Mark(errors.Newf("gateway returned %d", resp.StatusCode), domain.ErrGatewayUnavailable)
	}
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return "", errors.Newf("gateway rejected order: %d", resp.StatusCode)
	}

	var parsed orderResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", err
	}
	if parsed.ID == "" {
		return "", errors.New("gateway response missing order id")
	}
	return parsed.ID, nil
}

// VerifySignature checks the provider's confirmation signature:
// HMAC-SHA256 over "orderRef|paymentRef" with the key secret, hex encoded.
func (c *Client) VerifySignature(orderRef, paymentRef, signature string) bool {
	mac := hmac.New(sha256.New, []byte(c.secret))
	mac.Write([]byte(orderRef + "|" + paymentRef))
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(signature))
}
