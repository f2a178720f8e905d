package stravaapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"sync"
	"time"

	"habitquest_backend/internal/config"
	"habitquest_backend/internal/util"
	"habitquest_backend/pkg/monitoring"

	"github.com/sethvargo/go-retry"
	"github.com/valyala/fasthttp"
)

const maxErrorBody = 512

// TokenResponse OAuth 令牌端点的响应
type TokenResponse struct {
	TokenType    string `json:"token_type"`
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresAt    int64  `json:"expires_at"`
	ExpiresIn    int64  `json:"expires_in"`
}

// Activity 活动列表中的一条记录，只保留同步需要的字段
type Activity struct {
	ID        int64   `json:"id"`
	Name      string  `json:"name"`
	Type      string  `json:"type"`
	SportType string  `json:"sport_type"`
	Distance  float64 `json:"distance"`
	StartDate string  `json:"start_date"`
	Manual    bool    `json:"manual"`
}

// StartUnix start_date 为 RFC3339 UTC 时间
func (a Activity) StartUnix() (int64, error) {
	t, err := time.Parse(time.RFC3339, a.StartDate)
	if err != nil {
		return 0, fmt.Errorf("parse start_date %q: %w", a.StartDate, err)
	}
	return t.Unix(), nil
}

// RawResponse 透传给调用方的原始响应
type RawResponse struct {
	StatusCode int
	Body       []byte
}

type Client struct {
	client *fasthttp.Client

	mu  sync.RWMutex
	cfg config.StravaConfig
}

func NewClient(cfg config.StravaConfig) *Client {
	return &Client{
		client: &fasthttp.Client{
			MaxConnsPerHost:     100,
			ReadTimeout:         cfg.RequestTimeout,
			WriteTimeout:        cfg.RequestTimeout,
			MaxIdleConnDuration: 1 * time.Minute,
		},
		cfg: cfg,
	}
}

// UpdateConfig 热更新凭证与端点
func (c *Client) UpdateConfig(cfg config.StravaConfig) {
	c.mu.Lock()
	c.cfg = cfg
	c.mu.Unlock()
}

func (c *Client) settings() config.StravaConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.cfg
}

// AuthorizationURL 用户授权跳转地址
func (c *Client) AuthorizationURL(state string) string {
	cfg := c.settings()
	q := url.Values{}
	q.Set("client_id", cfg.ClientID)
	q.Set("redirect_uri", cfg.RedirectURI)
	q.Set("response_type", "code")
	q.Set("approval_prompt", "force")
	q.Set("scope", cfg.Scope)
	if state != "" {
		q.Set("state", state)
	}
	return cfg.AuthorizeURL + "?" + q.Encode()
}

// ExchangeCode 授权码换取令牌
func (c *Client) ExchangeCode(ctx context.Context, code string) (*TokenResponse, error) {
	if code == "" {
		return nil, fmt.Errorf("%w: authorization code is required", util.ErrInvalidInput)
	}
	return c.token(ctx, "exchange_code", map[string]string{
		"code":       code,
		"grant_type": "authorization_code",
	})
}

// RefreshToken 400/401 按错误体区分：刷新令牌失效或客户端凭证错误，其余原样返回
func (c *Client) RefreshToken(ctx context.Context, refreshToken string) (*TokenResponse, error) {
	if refreshToken == "" {
		return nil, fmt.Errorf("%w: refresh token is required", util.ErrInvalidInput)
	}
	tok, err := c.token(ctx, "refresh_token", map[string]string{
		"refresh_token": refreshToken,
		"grant_type":    "refresh_token",
	})
	var perr *util.ProviderError
	if errors.As(err, &perr) && (perr.StatusCode == fasthttp.StatusBadRequest || perr.StatusCode == fasthttp.StatusUnauthorized) {
		return nil, classifyRefreshFault(perr)
	}
	return tok, err
}

// fault 令牌端点的错误体
type fault struct {
	Message string `json:"message"`
	Errors  []struct {
		Resource string `json:"resource"`
		Field    string `json:"field"`
		Code     string `json:"code"`
	} `json:"errors"`
}

func classifyRefreshFault(perr *util.ProviderError) error {
	var f fault
	if err := json.Unmarshal([]byte(perr.Body), &f); err != nil {
		return perr
	}
	for _, e := range f.Errors {
		switch {
		case e.Resource == "RefreshToken" || e.Field == "refresh_token":
			return fmt.Errorf("%w: %s", util.ErrTokenInvalid, perr.Body)
		case e.Resource == "Application" || e.Field == "client_id" || e.Field == "client_secret":
			return fmt.Errorf("%w: %s", util.ErrConfiguration, perr.Body)
		}
	}
	return perr
}

// Exchange 直接转发到令牌端点并原样返回响应，code 优先于 refresh_token；先校验凭证再校验参数
func (c *Client) Exchange(ctx context.Context, code, refreshToken string) (*RawResponse, error) {
	cfg := c.settings()
	if !cfg.Configured() {
		return nil, util.ErrConfiguration
	}

	params := map[string]string{
		"client_id":     cfg.ClientID,
		"client_secret": cfg.ClientSecret,
	}
	switch {
	case code != "":
		params["code"] = code
		params["grant_type"] = "authorization_code"
	case refreshToken != "":
		params["refresh_token"] = refreshToken
		params["grant_type"] = "refresh_token"
	default:
		return nil, fmt.Errorf("%w: code or refresh_token is required", util.ErrInvalidInput)
	}

	body, err := json.Marshal(params)
	if err != nil {
		return nil, err
	}

	var raw *RawResponse
	err = c.withRetry(ctx, cfg, func(ctx context.Context) error {
		status, respBody, err := c.do(ctx, "token_exchange", fasthttp.MethodPost, cfg.TokenURL, "", body)
		if err != nil {
			return classify(&util.ProviderError{Op: "token_exchange", Err: err})
		}
		if status >= 500 {
			return classify(&util.ProviderError{Op: "token_exchange", StatusCode: status, Body: truncate(respBody)})
		}
		raw = &RawResponse{StatusCode: status, Body: respBody}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return raw, nil
}

// ListActivities 拉取 after 之后开始的活动，升序
func (c *Client) ListActivities(ctx context.Context, accessToken string, after int64, page, perPage int) ([]Activity, error) {
	cfg := c.settings()
	q := url.Values{}
	q.Set("after", strconv.FormatInt(after, 10))
	q.Set("page", strconv.Itoa(page))
	q.Set("per_page", strconv.Itoa(perPage))
	uri := cfg.APIBaseURL + "/athlete/activities?" + q.Encode()

	var out []Activity
	err := c.withRetry(ctx, cfg, func(ctx context.Context) error {
		status, body, err := c.do(ctx, "list_activities", fasthttp.MethodGet, uri, accessToken, nil)
		if err != nil {
			return classify(&util.ProviderError{Op: "list_activities", Err: err})
		}
		if status != fasthttp.StatusOK {
			return classify(&util.ProviderError{Op: "list_activities", StatusCode: status, Body: truncate(body)})
		}
		out = out[:0]
		if err := json.Unmarshal(body, &out); err != nil {
			return &util.ProviderError{Op: "list_activities", StatusCode: status, Body: "malformed activity list", Err: err}
		}
		return nil
	})
	return out, err
}

func (c *Client) token(ctx context.Context, op string, params map[string]string) (*TokenResponse, error) {
	cfg := c.settings()
	if !cfg.Configured() {
		return nil, util.ErrConfiguration
	}
	params["client_id"] = cfg.ClientID
	params["client_secret"] = cfg.ClientSecret

	body, err := json.Marshal(params)
	if err != nil {
		return nil, err
	}

	var tok TokenResponse
	err = c.withRetry(ctx, cfg, func(ctx context.Context) error {
		status, respBody, err := c.do(ctx, op, fasthttp.MethodPost, cfg.TokenURL, "", body)
		if err != nil {
			return classify(&util.ProviderError{Op: op, Err: err})
		}
		if status != fasthttp.StatusOK {
			return classify(&util.ProviderError{Op: op, StatusCode: status, Body: truncate(respBody)})
		}
		if err := json.Unmarshal(respBody, &tok); err != nil {
			return &util.ProviderError{Op: op, StatusCode: status, Body: "malformed token response", Err: err}
		}
		if tok.AccessToken == "" {
			return &util.ProviderError{Op: op, StatusCode: status, Body: "token response without access_token", Err: util.ErrProvider}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &tok, nil
}

func (c *Client) do(ctx context.Context, op, method, uri, bearer string, body []byte) (int, []byte, error) {
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(uri)
	req.Header.SetMethod(method)
	req.Header.Set("Accept", "application/json")
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	if body != nil {
		req.Header.SetContentType("application/json")
		req.SetBody(body)
	}

	start := time.Now()
	var err error
	if deadline, ok := ctx.Deadline(); ok {
		err = c.client.DoDeadline(req, resp, deadline)
	} else {
		err = c.client.Do(req, resp)
	}
	monitoring.ProviderLatency.WithLabelValues(op).Observe(time.Since(start).Seconds())
	if err != nil {
		return 0, nil, err
	}

	// resp 归还到池后 Body 不再有效
	out := append([]byte(nil), resp.Body()...)
	return resp.StatusCode(), out, nil
}

// withRetry 仅对网络错误与 5xx 做有限次重试
func (c *Client) withRetry(ctx context.Context, cfg config.StravaConfig, fn retry.RetryFunc) error {
	backoff := cfg.RetryBackoff
	if backoff <= 0 {
		backoff = 200 * time.Millisecond
	}
	b := retry.WithMaxRetries(cfg.MaxRetries, retry.NewConstant(backoff))
	return retry.Do(ctx, b, fn)
}

func classify(err *util.ProviderError) error {
	if err.Transient() {
		return retry.RetryableError(err)
	}
	return err
}

func truncate(b []byte) string {
	if len(b) > maxErrorBody {
		return string(b[:maxErrorBody])
	}
	return string(b)
}
