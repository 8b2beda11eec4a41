package http

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/pkg/errors"

	"github.com/betbot/goexec/pkg/ratelimit"
)

// SignRequest 交给签名函数的请求视图。签名函数可以修改 RawQuery / Header。
type SignRequest struct {
	Method   string
	Path     string
	RawQuery string // 已编码的查询串（不含 ?）
	Body     []byte
	Header   http.Header
}

// Signer 交易所签名方案
type Signer func(r *SignRequest) error

// Config REST 客户端配置
type Config struct {
	BaseURL    string
	Timeout    time.Duration // 默认 10s
	RetryCount int           // 只对 GET 生效；下单/撤单不自动重试
	UserAgent  string
	Limiter    *ratelimit.Manager
	Signer     Signer
}

// Client 交易所 REST 客户端（resty）
type Client struct {
	client  *resty.Client
	limiter *ratelimit.Manager
	signer  Signer
	ua      string
}

// NewClient 创建客户端
func NewClient(cfg Config) *Client {
	host := strings.TrimSuffix(cfg.BaseURL, "/")
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = "goexec/1.0"
	}

	// resty 会自动从环境变量读取代理配置（HTTP_PROXY, HTTPS_PROXY）
	client := resty.New().
		SetBaseURL(host).
		SetTimeout(cfg.Timeout).
		SetRetryCount(cfg.RetryCount).
		SetRetryWaitTime(500 * time.Millisecond).
		SetRetryMaxWaitTime(5 * time.Second).
		AddRetryCondition(func(resp *resty.Response, err error) bool {
			// 非幂等请求重试可能导致重复下单
			if resp == nil || resp.Request == nil || resp.Request.Method != http.MethodGet {
				return false
			}
			return err != nil || resp.StatusCode() == http.StatusTooManyRequests || resp.StatusCode() >= 500
		}).
		SetRetryAfter(func(client *resty.Client, resp *resty.Response) (time.Duration, error) {
			// 429 限流优先使用 Retry-After 头
			if resp != nil && resp.StatusCode() == http.StatusTooManyRequests {
				if v := resp.Header().Get("Retry-After"); v != "" {
					if seconds, err := strconv.Atoi(v); err == nil {
						return time.Duration(seconds) * time.Second, nil
					}
				}
				return 2 * time.Second, nil
			}
			return 0, nil
		})

	return &Client{client: client, limiter: cfg.Limiter, signer: cfg.Signer, ua: cfg.UserAgent}
}

// RequestOptions 单次请求参数
type RequestOptions struct {
	Headers  map[string]string
	Params   map[string]any
	Data     any    // 结构体 / map 会编码为 JSON；string / []byte 原样发送
	Signed   bool   // 是否需要签名
	LimitKey string // 限速 key，空表示不限速
}

// APIError 非 2xx 响应
type APIError struct {
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("http %d: %s", e.Status, e.Body)
}

// Do 发送请求。out 非 nil 时按 JSON 解析 2xx 响应体。
// 网络错误与非 2xx 都以 error 返回（非 2xx 时 resp 仍然可用，便于解析交易所错误码）。
func (c *Client) Do(ctx context.Context, method, endpoint string, opt *RequestOptions, out any) (*resty.Response, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if opt == nil {
		opt = &RequestOptions{}
	}
	if err := c.limiter.Wait(ctx, opt.LimitKey); err != nil {
		return nil, errors.Wrap(err, "rate limit wait")
	}

	body, err := encodeBody(opt.Data)
	if err != nil {
		return nil, err
	}
	sr := &SignRequest{
		Method:   strings.ToUpper(method),
		Path:     endpoint,
		RawQuery: url.Values(toValues(opt.Params)).Encode(),
		Body:     body,
		Header:   http.Header{},
	}
	if opt.Signed {
		if c.signer == nil {
			return nil, errors.New("signed request but no signer configured")
		}
		if err := c.signer(sr); err != nil {
			return nil, errors.Wrap(err, "sign request")
		}
	}

	rc := c.client.R().SetContext(ctx)
	rc.SetHeader("Accept", "application/json")
	rc.SetHeader("User-Agent", c.ua)
	for k, v := range opt.Headers {
		rc.SetHeader(k, v)
	}
	for k, vs := range sr.Header {
		for _, v := range vs {
			rc.SetHeader(k, v)
		}
	}
	if len(sr.Body) > 0 {
		rc.SetHeader("Content-Type", "application/json")
		rc.SetBody(sr.Body)
	}

	target := endpoint
	if sr.RawQuery != "" {
		target += "?" + sr.RawQuery
	}

	var resp *resty.Response
	switch sr.Method {
	case http.MethodGet:
		resp, err = rc.Get(target)
	case http.MethodPost:
		resp, err = rc.Post(target)
	case http.MethodDelete:
		resp, err = rc.Delete(target)
	case http.MethodPut:
		resp, err = rc.Put(target)
	default:
		return nil, errors.Errorf("unsupported method: %s", method)
	}
	if err != nil {
		return resp, errors.Wrapf(err, "%s %s", sr.Method, endpoint)
	}
	if !resp.IsSuccess() {
		return resp, errors.WithStack(&APIError{Status: resp.StatusCode(), Body: strings.TrimSpace(string(resp.Body()))})
	}
	if out != nil {
		if err := json.Unmarshal(resp.Body(), out); err != nil {
			return resp, errors.Wrapf(err, "decode %s %s", sr.Method, endpoint)
		}
	}
	return resp, nil
}

func encodeBody(data any) ([]byte, error) {
	switch b := data.(type) {
	case nil:
		return nil, nil
	case string:
		return []byte(b), nil
	case []byte:
		return b, nil
	default:
		raw, err := json.Marshal(b)
		if err != nil {
			return nil, errors.Wrap(err, "encode request body")
		}
		return raw, nil
	}
}

func toValues(m map[string]any) map[string][]string {
	v := make(map[string][]string, len(m))
	for k, val := range m {
		switch t := val.(type) {
		case []string:
			v[k] = t
		case string:
			if t == "" {
				continue
			}
			v[k] = []string{t}
		default:
			v[k] = []string{fmt.Sprint(val)}
		}
	}
	return v
}

// ErrorBody 从错误中取出非 2xx 响应体（不是 APIError 时返回 err.Error()）
func ErrorBody(err error) string {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Body
	}
	if err == nil {
		return ""
	}
	return err.Error()
}
