// Package gateway wraps the payment backend's REST surface with typed calls.
//
// Every call runs under the configured timeout and performs at most one
// retry, with backoff, on transient failures (connection errors, 502/503/504).
// Definitive rejections (4xx) surface immediately as *RejectedError carrying
// the backend's reason.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"math/rand"
	"net/http"
	"net/url"
	"strings"
	"time"

	"paybot/pkg/logx"
)

// RetryConfig controls the single-retry backoff behavior.
type RetryConfig struct {
	MaxRetries   int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Backoff      float64
	Jitter       bool
}

// DefaultRetryConfig matches the client discipline the backend expects:
// one retry, short backoff.
var DefaultRetryConfig = RetryConfig{
	MaxRetries:   1,
	InitialDelay: 500 * time.Millisecond,
	MaxDelay:     5 * time.Second,
	Backoff:      2.0,
	Jitter:       true,
}

// Observer receives one sample per completed backend call. Wired to the
// Prometheus recorder in production; nil-safe.
type Observer func(op, status string, d time.Duration)

// Client is the typed backend API client.
type Client struct {
	baseURL  string
	http     *http.Client
	retry    RetryConfig
	logger   *logx.Logger
	observer Observer
}

// New creates a Client for the given base URL. timeout bounds every request
// attempt individually.
func New(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
		retry:   DefaultRetryConfig,
		logger:  logx.NewLogger("gateway"),
	}
}

// SetObserver installs a per-call metrics hook.
func (c *Client) SetObserver(o Observer) { c.observer = o }

// SetRetryConfig overrides the retry behavior (tests).
func (c *Client) SetRetryConfig(rc RetryConfig) { c.retry = rc }

func (c *Client) observe(op, status string, start time.Time) {
	if c.observer != nil {
		c.observer(op, status, time.Since(start))
	}
}

// delay computes the backoff before the given retry attempt (1-based).
func (c *Client) delay(attempt int) time.Duration {
	d := float64(c.retry.InitialDelay) * math.Pow(c.retry.Backoff, float64(attempt-1))
	if max := float64(c.retry.MaxDelay); d > max {
		d = max
	}
	if c.retry.Jitter {
		d *= 0.75 + rand.Float64()*0.5 //nolint:gosec // jitter, not crypto
	}
	return time.Duration(d)
}

// transientStatus reports whether an HTTP status is worth one more attempt.
func transientStatus(status int) bool {
	return status == http.StatusBadGateway ||
		status == http.StatusServiceUnavailable ||
		status == http.StatusGatewayTimeout
}

// do issues one logical call: build request, attempt, classify, retry once on
// transient failure. body is JSON-encoded when non-nil; out is filled from
// the response body when non-nil.
func (c *Client) do(ctx context.Context, op, method, path string, query url.Values, body, out any) error {
	var encoded []byte
	if body != nil {
		var err error
		encoded, err = json.Marshal(body)
		if err != nil {
			return fmt.Errorf("%s: marshal request: %w", op, err)
		}
	}

	build := func() (*http.Request, error) {
		u := c.baseURL + "/" + strings.TrimLeft(path, "/")
		if len(query) > 0 {
			u += "?" + query.Encode()
		}
		var rd io.Reader
		if encoded != nil {
			rd = bytes.NewReader(encoded)
		}
		req, err := http.NewRequestWithContext(ctx, method, u, rd)
		if err != nil {
			return nil, err
		}
		if encoded != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		return req, nil
	}

	return c.attempt(ctx, op, build, out)
}

// attempt runs the request/retry loop shared by JSON and multipart calls.
// build must return a fresh request each time so a retry re-reads the body.
func (c *Client) attempt(ctx context.Context, op string, build func() (*http.Request, error), out any) error {
	start := time.Now()
	var lastErr error

	for try := 0; try <= c.retry.MaxRetries; try++ {
		if try > 0 {
			c.logger.Warn("%s: retrying after transient failure: %v", op, lastErr)
			select {
			case <-ctx.Done():
				c.observe(op, "canceled", start)
				return ctx.Err()
			case <-time.After(c.delay(try)):
			}
		}

		req, err := build()
		if err != nil {
			c.observe(op, "error", start)
			return fmt.Errorf("%s: build request: %w", op, err)
		}

		resp, err := c.http.Do(req)
		if err != nil {
			// Connection failures and timeouts are transient.
			lastErr = &TransientError{Underlying: err}
			continue
		}

		data, readErr := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		if readErr != nil {
			lastErr = &TransientError{Underlying: readErr}
			continue
		}

		switch {
		case resp.StatusCode < 400:
			if out != nil {
				if err := json.Unmarshal(data, out); err != nil {
					c.observe(op, "error", start)
					return fmt.Errorf("%s: decode response: %w", op, err)
				}
			}
			c.observe(op, "ok", start)
			return nil
		case transientStatus(resp.StatusCode):
			lastErr = &TransientError{Underlying: fmt.Errorf("status %d", resp.StatusCode)}
		default:
			rej := parseRejection(resp.StatusCode, data)
			c.logger.Warn("%s: %v", op, rej)
			c.observe(op, "rejected", start)
			return rej
		}
	}

	c.observe(op, "transient", start)
	return fmt.Errorf("%s: %w", op, lastErr)
}

// parseRejection extracts the backend's error shape {error, message} from a
// 4xx body, tolerating non-JSON bodies.
func parseRejection(status int, body []byte) *RejectedError {
	var payload struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	_ = json.Unmarshal(body, &payload)
	msg := payload.Message
	if msg == "" {
		msg = payload.Error
	}
	return &RejectedError{Status: status, Code: payload.Error, Message: msg}
}

// Languages lists the bot languages offered by the backend.
func (c *Client) Languages(ctx context.Context) ([]Language, error) {
	var resp struct {
		Languages []Language `json:"languages"`
	}
	if err := c.do(ctx, "languages", http.MethodGet, "config/languages", nil, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Languages, nil
}

// Welcome fetches the welcome text for a language code.
func (c *Client) Welcome(ctx context.Context, lang string) (string, error) {
	var resp struct {
		Message      string `json:"message"`
		LanguageCode string `json:"languageCode"`
	}
	q := url.Values{"lang": {lang}}
	if err := c.do(ctx, "welcome", http.MethodGet, "config/welcome", q, nil, &resp); err != nil {
		return "", err
	}
	return resp.Message, nil
}

// DepositBanks lists deposit banks.
func (c *Client) DepositBanks(ctx context.Context) ([]DepositBank, error) {
	var raw json.RawMessage
	if err := c.do(ctx, "deposit_banks", http.MethodGet, "config/deposit-banks", nil, nil, &raw); err != nil {
		return nil, err
	}
	return decodeBankList[DepositBank](raw, "depositBanks")
}

// WithdrawalBanks lists withdrawal banks with their required-field sets.
func (c *Client) WithdrawalBanks(ctx context.Context) ([]WithdrawalBank, error) {
	var raw json.RawMessage
	if err := c.do(ctx, "withdrawal_banks", http.MethodGet, "config/withdrawal-banks", nil, nil, &raw); err != nil {
		return nil, err
	}
	return decodeBankList[WithdrawalBank](raw, "withdrawalBanks")
}

// BettingSites lists betting sites. When activeOnly is set, inactive entries
// are filtered out client-side as well, as a safety net over the query flag.
func (c *Client) BettingSites(ctx context.Context, activeOnly bool) ([]BettingSite, error) {
	var resp struct {
		BettingSites []BettingSite `json:"bettingSites"`
	}
	var q url.Values
	if activeOnly {
		q = url.Values{"isActive": {"true"}}
	}
	if err := c.do(ctx, "betting_sites", http.MethodGet, "config/betting-sites", q, nil, &resp); err != nil {
		return nil, err
	}
	if !activeOnly {
		return resp.BettingSites, nil
	}
	sites := make([]BettingSite, 0, len(resp.BettingSites))
	for _, s := range resp.BettingSites {
		if s.IsActive {
			sites = append(sites, s)
		}
	}
	return sites, nil
}

// playerEnvelope is the backend's {message, player} wrapper.
type playerEnvelope struct {
	Message string `json:"message"`
	Player  Player `json:"player"`
}

// CreateGuest creates a temporary subject for a chat user.
func (c *Client) CreateGuest(ctx context.Context, req GuestRequest) (Player, error) {
	var resp playerEnvelope
	if err := c.do(ctx, "create_guest", http.MethodPost, "players", nil, req, &resp); err != nil {
		return Player{}, err
	}
	return resp.Player, nil
}

// Register creates a full subject account.
func (c *Client) Register(ctx context.Context, req RegisterRequest) (Player, error) {
	payload := struct {
		Username string `json:"username"`
		RegisterRequest
	}{Username: req.Email, RegisterRequest: req}
	var resp playerEnvelope
	if err := c.do(ctx, "register", http.MethodPost, "players/register", nil, payload, &resp); err != nil {
		return Player{}, err
	}
	return resp.Player, nil
}

// Login authenticates a subject and returns the backend user id needed to
// resolve the player record.
func (c *Client) Login(ctx context.Context, username, password string) (int, error) {
	payload := map[string]string{"username": username, "password": password}
	var resp struct {
		User struct {
			ID int `json:"id"`
		} `json:"user"`
	}
	if err := c.do(ctx, "login", http.MethodPost, "auth/login", nil, payload, &resp); err != nil {
		return 0, err
	}
	if resp.User.ID == 0 {
		return 0, fmt.Errorf("login: response carried no user id")
	}
	return resp.User.ID, nil
}

// PlayerByUserID resolves the player record for an authenticated user id.
func (c *Client) PlayerByUserID(ctx context.Context, userID int) (Player, error) {
	var resp playerEnvelope
	path := fmt.Sprintf("players/user/%d", userID)
	if err := c.do(ctx, "player_by_user", http.MethodGet, path, nil, nil, &resp); err != nil {
		return Player{}, err
	}
	return resp.Player, nil
}

// Transactions lists one page of a subject's transactions.
func (c *Client) Transactions(ctx context.Context, playerUUID string, page, limit int) (TransactionPage, error) {
	q := url.Values{
		"playerUuid": {playerUUID},
		"page":       {fmt.Sprint(page)},
		"limit":      {fmt.Sprint(limit)},
	}
	var resp TransactionPage
	if err := c.do(ctx, "transactions", http.MethodGet, "transactions", q, nil, &resp); err != nil {
		return TransactionPage{}, err
	}
	return resp, nil
}

// Transaction fetches one transaction by its UUID.
func (c *Client) Transaction(ctx context.Context, txUUID, playerUUID string) (Transaction, error) {
	var q url.Values
	if playerUUID != "" {
		q = url.Values{"player_uuid": {playerUUID}}
	}
	var resp struct {
		Transaction Transaction `json:"transaction"`
	}
	if err := c.do(ctx, "transaction", http.MethodGet, "transactions/"+txUUID, q, nil, &resp); err != nil {
		return Transaction{}, err
	}
	return resp.Transaction, nil
}

// FetchUploadConfig fetches the backend's file intake policy.
func (c *Client) FetchUploadConfig(ctx context.Context) (UploadConfig, error) {
	var resp UploadConfig
	if err := c.do(ctx, "upload_config", http.MethodGet, "uploads/config", nil, nil, &resp); err != nil {
		return UploadConfig{}, err
	}
	return resp, nil
}
