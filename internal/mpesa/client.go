package mpesa

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"sync"
	"time"
)

const (
	sandboxBaseURL    = "https://sandbox.safaricom.co.ke"
	productionBaseURL = "https://api.safaricom.co.ke"

	// The gateway's observed upper bound for a synchronous response.
	requestTimeout = 30 * time.Second

	transactionType = "CustomerPayBillOnline"
	timestampLayout = "20060102150405"
)

// Config holds the gateway credentials and endpoints.
type Config struct {
	Environment    string // "sandbox" or "production"
	ConsumerKey    string
	ConsumerSecret string
	ShortCode      string
	Passkey        string
	CallbackURL    string
	BaseURL        string // optional override, used by tests
}

// Client is a low-level HTTP client for the mobile-money gateway. It obtains
// OAuth bearer tokens and submits STK push charge requests. It has no
// knowledge of orders; callers supply fully normalized phone numbers.
type Client struct {
	cfg        Config
	httpClient *http.Client
	now        func() time.Time

	mu          sync.Mutex
	token       string
	tokenExpiry time.Time
}

// NewClient creates a gateway client from the given configuration.
func NewClient(cfg Config) *Client {
	if cfg.BaseURL == "" {
		if cfg.Environment == "production" {
			cfg.BaseURL = productionBaseURL
		} else {
			cfg.BaseURL = sandboxBaseURL
		}
	}
	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: requestTimeout},
		now:        time.Now,
	}
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   string `json:"expires_in"`
}

// AccessToken exchanges the configured client credentials for a bearer token.
// Tokens are cached until shortly before expiry. A transport failure is
// retried once with a short backoff; a definitive rejection is not.
func (c *Client) AccessToken(ctx context.Context) (string, error) {
	c.mu.Lock()
	if c.token != "" && c.now().Before(c.tokenExpiry) {
		token := c.token
		c.mu.Unlock()
		return token, nil
	}
	c.mu.Unlock()

	token, expiresIn, err := c.fetchToken(ctx)
	if err != nil {
		if _, ok := err.(*AuthError); ok {
			return "", err
		}
		// Transport-level failure: one retry with backoff.
		select {
		case <-time.After(500 * time.Millisecond):
		case <-ctx.Done():
			return "", &GatewayError{Op: "token fetch", Err: ctx.Err()}
		}
		token, expiresIn, err = c.fetchToken(ctx)
		if err != nil {
			return "", err
		}
	}

	c.mu.Lock()
	c.token = token
	// Refresh a little early rather than risk an expired token mid-charge.
	// The margin must stay below the fetched lifetime or the cache never holds.
	margin := 50 * time.Second
	if expiresIn <= margin {
		margin = expiresIn / 2
	}
	c.tokenExpiry = c.now().Add(expiresIn - margin)
	c.mu.Unlock()

	return token, nil
}

func (c *Client) fetchToken(ctx context.Context) (string, time.Duration, error) {
	url := c.cfg.BaseURL + "/oauth/v1/generate?grant_type=client_credentials"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", 0, &GatewayError{Op: "token fetch", Err: err}
	}
	req.SetBasicAuth(c.cfg.ConsumerKey, c.cfg.ConsumerSecret)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", 0, &GatewayError{Op: "token fetch", Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", 0, &GatewayError{Op: "token fetch", Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", 0, &AuthError{Reason: fmt.Sprintf("token endpoint returned status %d", resp.StatusCode)}
	}

	var tr tokenResponse
	if err := json.Unmarshal(raw, &tr); err != nil {
		return "", 0, &GatewayError{Op: "token fetch", Err: fmt.Errorf("malformed token response: %w", err)}
	}
	if tr.AccessToken == "" {
		return "", 0, &AuthError{Reason: "token missing from response"}
	}

	expiresIn := time.Hour
	if tr.ExpiresIn != "" {
		var secs int
		if _, err := fmt.Sscanf(tr.ExpiresIn, "%d", &secs); err == nil && secs > 0 {
			expiresIn = time.Duration(secs) * time.Second
		}
	}
	return tr.AccessToken, expiresIn, nil
}

// derivePassword builds the timestamp-salted request password from the
// business shortcode and passkey.
func (c *Client) derivePassword() (password, timestamp string) {
	timestamp = c.now().Format(timestampLayout)
	data := c.cfg.ShortCode + c.cfg.Passkey + timestamp
	return base64.StdEncoding.EncodeToString([]byte(data)), timestamp
}

type stkPushRequest struct {
	BusinessShortCode string `json:"BusinessShortCode"`
	Password          string `json:"Password"`
	Timestamp         string `json:"Timestamp"`
	TransactionType   string `json:"TransactionType"`
	Amount            int64  `json:"Amount"`
	PartyA            string `json:"PartyA"`
	PartyB            string `json:"PartyB"`
	PhoneNumber       string `json:"PhoneNumber"`
	CallBackURL       string `json:"CallBackURL"`
	AccountReference  string `json:"AccountReference"`
	TransactionDesc   string `json:"TransactionDesc"`
}

type stkPushResponse struct {
	MerchantRequestID   string `json:"MerchantRequestID"`
	CheckoutRequestID   string `json:"CheckoutRequestID"`
	ResponseCode        string `json:"ResponseCode"`
	ResponseDescription string `json:"ResponseDescription"`
	CustomerMessage     string `json:"CustomerMessage"`
	ErrorCode           string `json:"errorCode"`
	ErrorMessage        string `json:"errorMessage"`
}

// RequestCharge submits an STK push charge request for the given normalized
// phone number and whole-unit amount. On provider acknowledgement (response
// code "0") it returns the correlation ids the asynchronous callback will
// carry. A synchronous decline is a *ChargeRejectedError; a network failure,
// timeout or malformed response is a *GatewayError.
func (c *Client) RequestCharge(ctx context.Context, phone string, amount int64, reference, description string) (*ChargeAccepted, error) {
	token, err := c.AccessToken(ctx)
	if err != nil {
		return nil, err
	}

	password, timestamp := c.derivePassword()
	payload := stkPushRequest{
		BusinessShortCode: c.cfg.ShortCode,
		Password:          password,
		Timestamp:         timestamp,
		TransactionType:   transactionType,
		Amount:            amount,
		PartyA:            phone,
		PartyB:            c.cfg.ShortCode,
		PhoneNumber:       phone,
		CallBackURL:       c.cfg.CallbackURL,
		AccountReference:  reference,
		TransactionDesc:   description,
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, &GatewayError{Op: "charge request", Err: err}
	}

	url := c.cfg.BaseURL + "/mpesa/stkpush/v1/processrequest"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, &GatewayError{Op: "charge request", Err: err}
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &GatewayError{Op: "charge request", Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &GatewayError{Op: "charge request", Err: err}
	}

	if resp.StatusCode >= 500 {
		return nil, &GatewayError{Op: "charge request", Err: fmt.Errorf("gateway returned status %d", resp.StatusCode)}
	}

	var pr stkPushResponse
	if err := json.Unmarshal(raw, &pr); err != nil {
		return nil, &GatewayError{Op: "charge request", Err: fmt.Errorf("malformed charge response: %w", err)}
	}

	if resp.StatusCode != http.StatusOK {
		reason := pr.ErrorMessage
		if reason == "" {
			reason = fmt.Sprintf("gateway returned status %d", resp.StatusCode)
		}
		log.Printf("STK push rejected (status %d): %s", resp.StatusCode, reason)
		return nil, &ChargeRejectedError{Code: pr.ErrorCode, Reason: reason}
	}

	if pr.ResponseCode != "0" {
		reason := pr.CustomerMessage
		if reason == "" {
			reason = pr.ResponseDescription
		}
		if reason == "" {
			reason = "payment request failed"
		}
		return nil, &ChargeRejectedError{Code: pr.ResponseCode, Reason: reason}
	}

	return &ChargeAccepted{
		MerchantRequestID: pr.MerchantRequestID,
		CheckoutRequestID: pr.CheckoutRequestID,
		CustomerMessage:   pr.CustomerMessage,
	}, nil
}
