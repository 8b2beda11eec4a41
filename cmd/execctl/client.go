package main

import (
	"context"
	"encoding/json"
	"net/url"
	"time"

	"github.com/pkg/errors"

	sdkhttp "github.com/betbot/goexec/pkg/sdk/http"
)

// apiClient 控制面客户端。失败的操作结果（4xx/5xx 但 body 是结果结构）照常解码，
// 只有 {"error": "..."} 形式的响应和网络错误才返回 error。
type apiClient struct {
	http  *sdkhttp.Client
	token string
}

func newAPIClient(baseURL, token string, timeout time.Duration) *apiClient {
	return &apiClient{
		http: sdkhttp.NewClient(sdkhttp.Config{
			BaseURL:   baseURL,
			Timeout:   timeout,
			UserAgent: "execctl/1.0",
		}),
		token: token,
	}
}

func (c *apiClient) call(ctx context.Context, method, path string, params map[string]any, body any, out any) error {
	opt := &sdkhttp.RequestOptions{Params: params, Data: body}
	if c.token != "" {
		opt.Headers = map[string]string{"Authorization": "Bearer " + c.token}
	}
	resp, err := c.http.Do(ctx, method, path, opt, out)
	if err == nil {
		return nil
	}
	var apiErr *sdkhttp.APIError
	if !errors.As(err, &apiErr) || resp == nil {
		return err
	}

	var probe struct {
		Error   *string `json:"error"`
		Success *bool   `json:"success"`
	}
	raw := resp.Body()
	if json.Unmarshal(raw, &probe) != nil {
		return err
	}
	if probe.Error != nil && probe.Success == nil {
		return errors.Errorf("%s (http %d)", *probe.Error, apiErr.Status)
	}
	if out == nil {
		return err
	}
	if uerr := json.Unmarshal(raw, out); uerr != nil {
		return errors.Wrap(uerr, "decode response")
	}
	return nil
}

func esc(s string) string { return url.PathEscape(s) }
