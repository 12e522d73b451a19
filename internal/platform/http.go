package platform

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

	"github.com/jmehdipour/outreach/internal/model"
	"golang.org/x/time/rate"
)

var ErrBridgeUnavailable = errors.New("platform bridge unavailable")

// ErrCircuitOpen is returned without contacting the bridge. It wraps
// ErrBridgeUnavailable.
var ErrCircuitOpen = fmt.Errorf("%w: circuit open", ErrBridgeUnavailable)

type HTTPConfig struct {
	BaseURL       string
	Token         string
	Timeout       time.Duration
	RPS           int // process-wide ceiling across all accounts; 0 disables
	FailThreshold int
	OpenFor       time.Duration
}

// HTTPClient talks JSON to the platform bridge, the service that owns
// account sessions and the platform wire protocol.
type HTTPClient struct {
	baseURL string
	token   string
	client  *http.Client
	br      *Breaker
	limiter *rate.Limiter
}

var _ Client = (*HTTPClient)(nil)

func NewHTTPClient(cfg HTTPConfig) *HTTPClient {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	limiter := rate.NewLimiter(rate.Inf, 1)
	if cfg.RPS > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RPS), cfg.RPS)
	}
	return &HTTPClient{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		token:   cfg.Token,
		client:  &http.Client{Timeout: cfg.Timeout},
		br:      NewBreaker(cfg.FailThreshold, cfg.OpenFor),
		limiter: limiter,
	}
}

// BreakerState exposes the breaker position for health reporting.
func (c *HTTPClient) BreakerState() string { return c.br.State() }

type resolveReq struct {
	Ref string `json:"ref"`
}

type resolveRes struct {
	Handle Handle `json:"handle"`
}

type inviteReq struct {
	Channel string `json:"channel"`
	Handle  Handle `json:"handle"`
}

type sendReq struct {
	Handle    Handle `json:"handle"`
	Text      string `json:"text"`
	MediaPath string `json:"media_path,omitempty"`
}

// errorBody is what the bridge returns on non-2xx responses.
type errorBody struct {
	Error   string `json:"error"`
	Seconds int    `json:"seconds"`
	Message string `json:"message"`
}

func (c *HTTPClient) ResolveIdentity(ctx context.Context, accountID int64, ref string) (Handle, error) {
	var out resolveRes
	if err := c.post(ctx, accountPath(accountID, "resolve"), resolveReq{Ref: ref}, &out); err != nil {
		return Handle{}, err
	}
	return out.Handle, nil
}

func (c *HTTPClient) PerformInvite(ctx context.Context, accountID int64, channel string, h Handle) error {
	return c.post(ctx, accountPath(accountID, "invite"), inviteReq{Channel: channel, Handle: h}, nil)
}

func (c *HTTPClient) PerformSend(ctx context.Context, accountID int64, h Handle, p model.Payload) error {
	return c.post(ctx, accountPath(accountID, "send"), sendReq{Handle: h, Text: p.Text, MediaPath: p.MediaPath}, nil)
}

func accountPath(accountID int64, action string) string {
	return "/v1/accounts/" + strconv.FormatInt(accountID, 10) + "/" + action
}

func (c *HTTPClient) post(ctx context.Context, path string, in, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return RPC(err)
	}
	b, err := json.Marshal(in)
	if err != nil {
		return RPC(err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(b))
	if err != nil {
		return RPC(err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	// Allow may hand out the single half-open slot; every path below it must
	// report back to the breaker.
	if !c.br.Allow() {
		return RPC(ErrCircuitOpen)
	}
	res, err := c.client.Do(req)
	if err != nil {
		c.br.OnFailure()
		if ctx.Err() != nil {
			return RPC(err)
		}
		return RPC(fmt.Errorf("%w: %w", ErrBridgeUnavailable, err))
	}
	defer res.Body.Close()

	if res.StatusCode >= 500 {
		c.br.OnFailure()
		_, _ = io.Copy(io.Discard, res.Body)
		return RPC(fmt.Errorf("%w: path=%s status=%d", ErrBridgeUnavailable, path, res.StatusCode))
	}
	// Anything below 500 means the bridge itself is healthy.
	c.br.OnSuccess()

	if res.StatusCode/100 != 2 {
		return decodeError(res)
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, res.Body)
		return nil
	}
	if err := json.NewDecoder(res.Body).Decode(out); err != nil {
		return RPC(fmt.Errorf("decode bridge response: %w", err))
	}
	return nil
}

func decodeError(res *http.Response) error {
	var body errorBody
	_ = json.NewDecoder(io.LimitReader(res.Body, 64<<10)).Decode(&body)

	cause := fmt.Errorf("status=%d", res.StatusCode)
	if body.Message != "" {
		cause = fmt.Errorf("status=%d: %s", res.StatusCode, body.Message)
	}

	code := Code(strings.ToUpper(strings.TrimSpace(body.Error)))
	if code == "" {
		switch res.StatusCode {
		case http.StatusNotFound:
			code = CodeNotFound
		case http.StatusTooManyRequests:
			code = CodeFloodWait
		case http.StatusForbidden:
			code = CodePrivacy
		default:
			code = CodeRPC
		}
	}

	switch code {
	case CodeNotFound:
		return NotFound(cause)
	case CodeFloodWait:
		wait := time.Duration(body.Seconds) * time.Second
		if wait <= 0 {
			if s, err := strconv.Atoi(res.Header.Get("Retry-After")); err == nil && s > 0 {
				wait = time.Duration(s) * time.Second
			}
		}
		return &Error{Code: CodeFloodWait, Wait: wait, Err: cause}
	case CodePrivacy:
		return Privacy(cause)
	case CodePeerInvalid:
		return PeerInvalid(cause)
	default:
		return RPC(cause)
	}
}
