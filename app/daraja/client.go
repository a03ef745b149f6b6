package daraja

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"
)

const (
	SandboxBaseURL    = "https://sandbox.safaricom.co.ke"
	ProductionBaseURL = "https://api.safaricom.co.ke"

	oauthPath    = "/oauth/v1/generate?grant_type=client_credentials"
	stkPushPath  = "/mpesa/stkpush/v1/processrequest"
	stkQueryPath = "/mpesa/stkpushquery/v1/query"

	defaultHTTPTimeout = 15 * time.Second
	defaultTokenTTL    = time.Hour
)

// BaseURLForEnvironment maps the configured environment name to the fixed
// upstream base URL. Anything other than "production" selects the sandbox.
func BaseURLForEnvironment(environment string) string {
	if strings.EqualFold(strings.TrimSpace(environment), "production") {
		return ProductionBaseURL
	}
	return SandboxBaseURL
}

type Config struct {
	BaseURL        string
	ConsumerKey    string
	ConsumerSecret string
	ShortCode      string
	Passkey        string
	CallbackURL    string
	MaxAmount      int64
	HTTPTimeout    time.Duration
	TokenMargin    time.Duration
}

// Client talks to the two fixed Daraja endpoints: the OAuth token endpoint
// and the STK push initiation endpoint (plus the query endpoint used for
// reconciliation). It owns the token cache; the outbound payment call
// itself is made without holding any lock.
type Client struct {
	cfg    Config
	client *http.Client
	tokens *TokenCache
}

func NewClient(cfg Config) *Client {
	timeout := cfg.HTTPTimeout
	if timeout <= 0 {
		timeout = defaultHTTPTimeout
	}
	cfg.BaseURL = strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if cfg.BaseURL == "" {
		cfg.BaseURL = SandboxBaseURL
	}

	return &Client{
		cfg:    cfg,
		client: &http.Client{Timeout: timeout},
		tokens: NewTokenCache(cfg.TokenMargin),
	}
}

// FetchCredential performs one authenticated call to the OAuth endpoint.
// Daraja reports expires_in as a decimal string of seconds.
func (c *Client) FetchCredential(ctx context.Context) (Credential, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.BaseURL+oauthPath, nil)
	if err != nil {
		return Credential{}, &CredentialError{Err: err}
	}
	req.SetBasicAuth(c.cfg.ConsumerKey, c.cfg.ConsumerSecret)

	resp, err := c.client.Do(req)
	if err != nil {
		return Credential{}, &CredentialError{Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return Credential{}, &CredentialError{Err: err}
	}
	if resp.StatusCode != http.StatusOK {
		return Credential{}, &CredentialError{Err: fmt.Errorf("token endpoint returned status %d", resp.StatusCode)}
	}

	var payload struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   string `json:"expires_in"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return Credential{}, &CredentialError{Err: fmt.Errorf("decode token response: %w", err)}
	}
	if payload.AccessToken == "" {
		return Credential{}, &CredentialError{Err: errors.New("token response missing access_token")}
	}

	ttl := defaultTokenTTL
	if secs, err := strconv.Atoi(strings.TrimSpace(payload.ExpiresIn)); err == nil && secs > 0 {
		ttl = time.Duration(secs) * time.Second
	}

	return Credential{Token: payload.AccessToken, IssuedAt: time.Now(), TTL: ttl}, nil
}

// STKPush issues the payment-initiation call with a valid bearer token,
// refreshing the cached credential transparently when needed.
func (c *Client) STKPush(ctx context.Context, pushReq *STKPushRequest) (*STKPushResponse, error) {
	cred, err := c.tokens.Get(ctx, c)
	if err != nil {
		return nil, err
	}

	body, err := c.postJSON(ctx, stkPushPath, cred.Token, pushReq)
	if err != nil {
		return nil, err
	}

	var resp STKPushResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("decode stk push response: %w", err)
	}
	return &resp, nil
}

// STKQuery asks Daraja for the authoritative result of a previously
// initiated push, identified by its CheckoutRequestID.
func (c *Client) STKQuery(ctx context.Context, checkoutRequestID string) (*STKQueryResponse, error) {
	checkoutRequestID = strings.TrimSpace(checkoutRequestID)
	if checkoutRequestID == "" {
		return nil, &ValidationError{Field: "checkout_request_id", Reason: "is required"}
	}

	cred, err := c.tokens.Get(ctx, c)
	if err != nil {
		return nil, err
	}

	timestamp := time.Now().Format(timestampLayout)
	queryReq := &STKQueryRequest{
		BusinessShortCode: c.cfg.ShortCode,
		Password:          Password(c.cfg.ShortCode, c.cfg.Passkey, timestamp),
		Timestamp:         timestamp,
		CheckoutRequestID: checkoutRequestID,
	}

	body, err := c.postJSON(ctx, stkQueryPath, cred.Token, queryReq)
	if err != nil {
		return nil, err
	}

	var resp STKQueryResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("decode stk query response: %w", err)
	}
	return &resp, nil
}

func (c *Client) postJSON(ctx context.Context, path, token string, payload any) ([]byte, error) {
	buf := &bytes.Buffer{}
	if err := json.NewEncoder(buf).Encode(payload); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+path, buf)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode >= 400 {
		return nil, newRequestError(resp.StatusCode, body)
	}

	return body, nil
}

func newRequestError(statusCode int, body []byte) *RequestError {
	var payload struct {
		ErrorCode    string `json:"errorCode"`
		ErrorMessage string `json:"errorMessage"`
	}
	if err := json.Unmarshal(body, &payload); err == nil && payload.ErrorMessage != "" {
		return &RequestError{StatusCode: statusCode, Code: payload.ErrorCode, Message: payload.ErrorMessage}
	}
	return &RequestError{StatusCode: statusCode, Message: http.StatusText(statusCode)}
}
