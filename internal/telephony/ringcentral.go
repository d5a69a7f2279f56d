package telephony

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"crm-telephony/internal/calls"
	"crm-telephony/internal/credcache"
	"crm-telephony/internal/observability"

	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"
)

const (
	accountPath    = "/restapi/v1.0/account/~"
	callLogPath    = accountPath + "/extension/~/call-log"
	sessionsPath   = accountPath + "/telephony/sessions"
	tokenPath      = "/restapi/oauth/token"
	sipProvision   = "/restapi/v1.0/client-info/sip-provision"
	insightsTypes  = "Transcript,Summary,Highlights,AIScore,CallNotes"
	tokenCacheKey  = "ringcentral:access_token"
	callLogPerPage = 1000
	maxErrorBody   = 512
)

// RingCentralOptions configures the RingCentral REST client.
type RingCentralOptions struct {
	BaseURL      string
	ClientID     string
	ClientSecret string
	// JWT is the credential exchanged via the jwt-bearer grant.
	JWT string

	HTTP    *http.Client
	Limiter *rate.Limiter
	Breaker *gobreaker.CircuitBreaker
	// Tokens caches the access token; defaults to a process-local cache.
	Tokens credcache.Cache
}

// RingCentral implements Provider over the RingCentral REST API.
type RingCentral struct {
	opts RingCentralOptions
	base string
}

var _ Provider = (*RingCentral)(nil)

func NewRingCentral(opts RingCentralOptions) *RingCentral {
	if opts.HTTP == nil {
		opts.HTTP = &http.Client{Timeout: 15 * time.Second}
	}
	if opts.Tokens == nil {
		opts.Tokens = credcache.NewMemoryCache()
	}
	return &RingCentral{opts: opts, base: strings.TrimRight(opts.BaseURL, "/")}
}

// NewBreaker builds the circuit breaker used around provider calls. Only
// transient failures count against it; a 404 is an answer, not an outage.
func NewBreaker(name string, maxRequests uint32, interval, timeout time.Duration, failures uint32) *gobreaker.CircuitBreaker {
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: maxRequests,
		Interval:    interval,
		Timeout:     timeout,
		ReadyToTrip: func(c gobreaker.Counts) bool { return c.ConsecutiveFailures >= failures },
		IsSuccessful: func(err error) bool {
			return err == nil || !IsTransient(err)
		},
	})
}

func (c *RingCentral) ListCallLogs(ctx context.Context, q CallLogQuery) ([]CallLogRecord, error) {
	params := url.Values{}
	params.Set("view", "Detailed")
	params.Set("perPage", strconv.Itoa(callLogPerPage))
	if !q.From.IsZero() {
		params.Set("dateFrom", q.From.UTC().Format(time.RFC3339))
	}
	if !q.To.IsZero() {
		params.Set("dateTo", q.To.UTC().Format(time.RFC3339))
	}
	if q.Direction != "" {
		params.Set("direction", string(q.Direction))
	}

	var out []CallLogRecord
	for page := 1; ; page++ {
		params.Set("page", strconv.Itoa(page))
		var resp struct {
			Records    []json.RawMessage `json:"records"`
			Navigation struct {
				NextPage *struct {
					URI string `json:"uri"`
				} `json:"nextPage"`
			} `json:"navigation"`
		}
		if err := c.do(ctx, "list_call_logs", http.MethodGet, callLogPath, params, nil, &resp); err != nil {
			return nil, err
		}
		for _, raw := range resp.Records {
			var rec CallLogRecord
			if err := json.Unmarshal(raw, &rec); err != nil {
				return nil, fmt.Errorf("telephony: decode call log: %w", err)
			}
			rec.Raw = raw
			out = append(out, rec)
		}
		if resp.Navigation.NextPage == nil || len(resp.Records) == 0 {
			return out, nil
		}
	}
}

// GetCallLog finds the call-log record for id. Webhook-created calls are
// keyed by telephony session id, so that lookup runs first; synced calls
// carry the call-log id and fall through to the direct read.
func (c *RingCentral) GetCallLog(ctx context.Context, id string) (CallLogRecord, error) {
	var list struct {
		Records []json.RawMessage `json:"records"`
	}
	params := url.Values{"view": {"Detailed"}, "telephonySessionId": {id}}
	if err := c.do(ctx, "find_call_log", http.MethodGet, callLogPath, params, nil, &list); err != nil {
		return CallLogRecord{}, err
	}
	var raw json.RawMessage
	if len(list.Records) > 0 {
		raw = list.Records[0]
	} else if err := c.do(ctx, "get_call_log", http.MethodGet, callLogPath+"/"+url.PathEscape(id), url.Values{"view": {"Detailed"}}, nil, &raw); err != nil {
		return CallLogRecord{}, err
	}
	var rec CallLogRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return CallLogRecord{}, fmt.Errorf("telephony: decode call log: %w", err)
	}
	rec.Raw = raw
	return rec, nil
}

func (c *RingCentral) GetCallSession(ctx context.Context, sessionID string) (CallSession, error) {
	var s CallSession
	err := c.do(ctx, "get_session", http.MethodGet, sessionsPath+"/"+url.PathEscape(sessionID), nil, nil, &s)
	return s, err
}

func (c *RingCentral) GetRecording(ctx context.Context, recordingID string) (Recording, error) {
	var r Recording
	err := c.do(ctx, "get_recording", http.MethodGet, accountPath+"/recording/"+url.PathEscape(recordingID), nil, nil, &r)
	return r, err
}

func (c *RingCentral) GetInsights(ctx context.Context, recordingID string) (calls.Insights, error) {
	path := "/ai/ringsense/v1/public/accounts/~/domains/phone/records/" + url.PathEscape(recordingID) + "/insights"
	var env struct {
		Insights map[string]json.RawMessage `json:"insights"`
	}
	params := url.Values{"insightTypes": {insightsTypes}}
	if err := c.do(ctx, "get_insights", http.MethodGet, path, params, nil, &env); err != nil {
		return calls.Insights{}, err
	}
	if len(env.Insights) == 0 {
		return calls.Insights{}, ErrNotReady
	}
	return decodeInsights(env.Insights), nil
}

func (c *RingCentral) partyPath(sessionID, partyID string) string {
	return sessionsPath + "/" + url.PathEscape(sessionID) + "/parties/" + url.PathEscape(partyID)
}

func (c *RingCentral) AnswerParty(ctx context.Context, sessionID, partyID string) error {
	return c.do(ctx, "answer", http.MethodPost, c.partyPath(sessionID, partyID)+"/answer", nil, map[string]any{}, nil)
}

func (c *RingCentral) HangupParty(ctx context.Context, sessionID, partyID string) error {
	return c.do(ctx, "hangup", http.MethodDelete, c.partyPath(sessionID, partyID), nil, nil, nil)
}

func (c *RingCentral) SetMuted(ctx context.Context, sessionID, partyID string, muted bool) error {
	return c.do(ctx, "mute", http.MethodPatch, c.partyPath(sessionID, partyID), nil, map[string]bool{"muted": muted}, nil)
}

func (c *RingCentral) SetHold(ctx context.Context, sessionID, partyID string, hold bool) error {
	action := "/unhold"
	if hold {
		action = "/hold"
	}
	return c.do(ctx, "hold", http.MethodPost, c.partyPath(sessionID, partyID)+action, nil, map[string]any{}, nil)
}

func (c *RingCentral) SetRecording(ctx context.Context, sessionID, partyID string, active bool) error {
	path := c.partyPath(sessionID, partyID) + "/recordings"
	if active {
		return c.do(ctx, "record_start", http.MethodPost, path, nil, map[string]any{}, nil)
	}
	return c.do(ctx, "record_stop", http.MethodPatch, path, nil, map[string]bool{"active": false}, nil)
}

func (c *RingCentral) ProvisionSIP(ctx context.Context) (SIPInfo, error) {
	body := map[string]any{"sipInfo": []map[string]string{{"transport": "WSS"}}}
	var info SIPInfo
	err := c.do(ctx, "sip_provision", http.MethodPost, sipProvision, nil, body, &info)
	return info, err
}

// do issues one authenticated call. A 401 drops the cached token and
// retries once with a fresh one.
func (c *RingCentral) do(ctx context.Context, op, method, path string, query url.Values, body, out any) error {
	err := c.doOnce(ctx, op, method, path, query, body, out)
	if statusOf(err) == http.StatusUnauthorized {
		_ = c.opts.Tokens.Delete(ctx, tokenCacheKey)
		err = c.doOnce(ctx, op, method, path, query, body, out)
	}
	return err
}

func (c *RingCentral) doOnce(ctx context.Context, op, method, path string, query url.Values, body, out any) error {
	if c.opts.Limiter != nil {
		if err := c.opts.Limiter.Wait(ctx); err != nil {
			return err
		}
	}

	call := func() (any, error) {
		token, err := c.accessToken(ctx)
		if err != nil {
			return nil, err
		}
		return nil, c.send(ctx, op, method, path, query, body, out, token)
	}
	if c.opts.Breaker == nil {
		_, err := call()
		return err
	}
	_, err := c.opts.Breaker.Execute(call)
	return err
}

func (c *RingCentral) send(ctx context.Context, op, method, path string, query url.Values, body, out any, token string) error {
	endpoint := c.base + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("telephony: encode %s: %w", op, err)
		}
		reader = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := c.opts.HTTP.Do(req)
	observability.ProviderLatency.WithLabelValues(op).Observe(time.Since(start).Seconds())
	if err != nil {
		observability.ProviderRequests.WithLabelValues(op, "0").Inc()
		return fmt.Errorf("telephony: %s: %w", op, err)
	}
	defer resp.Body.Close()
	observability.ProviderRequests.WithLabelValues(op, strconv.Itoa(resp.StatusCode)).Inc()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &APIError{Op: op, StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(b))}
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("telephony: decode %s: %w", op, err)
	}
	return nil
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int    `json:"expires_in"`
}

func (c *RingCentral) accessToken(ctx context.Context) (string, error) {
	if v, ok, err := c.opts.Tokens.Get(ctx, tokenCacheKey); err == nil && ok {
		return string(v), nil
	}
	if c.opts.ClientID == "" || c.opts.JWT == "" {
		return "", ErrNotConfigured
	}

	form := url.Values{}
	form.Set("grant_type", "urn:ietf:params:oauth:grant-type:jwt-bearer")
	form.Set("assertion", c.opts.JWT)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+tokenPath, strings.NewReader(form.Encode()))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.SetBasicAuth(c.opts.ClientID, c.opts.ClientSecret)

	resp, err := c.opts.HTTP.Do(req)
	if err != nil {
		return "", fmt.Errorf("telephony: token: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return "", &APIError{Op: "token", StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(b))}
	}
	var tr tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tr); err != nil {
		return "", fmt.Errorf("telephony: decode token: %w", err)
	}
	if tr.AccessToken == "" {
		return "", errors.New("telephony: token response missing access_token")
	}

	ttl := time.Duration(tr.ExpiresIn)*time.Second - time.Minute
	if ttl < 30*time.Second {
		ttl = 30 * time.Second
	}
	_ = c.opts.Tokens.Set(ctx, tokenCacheKey, []byte(tr.AccessToken), ttl)
	return tr.AccessToken, nil
}
