// Package client 访问运行中的切换服务，供命令行使用。
package client

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"trades-switch/internal/report"
)

// APIError 为服务端返回的非 2xx 响应。
type APIError struct {
	Status int
	Detail string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("client: 服务返回 %d: %s", e.Status, e.Detail)
}

// SignalResponse 为 webhook 响应。
type SignalResponse struct {
	Status string          `json:"status"`
	Reason string          `json:"reason,omitempty"`
	Result json.RawMessage `json:"result,omitempty"`
}

// AllReports 为 all=true 时的报告列表。
type AllReports struct {
	Profile string          `json:"profile"`
	Reports []report.Report `json:"reports"`
}

// Client 是切换服务的 HTTP 客户端。
type Client struct {
	http *resty.Client
}

// New 创建客户端，baseURL 例如 http://127.0.0.1:8000。
func New(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	c := resty.New()
	c.SetBaseURL(strings.TrimSuffix(baseURL, "/"))
	c.SetTimeout(timeout)
	c.SetHeader("Content-Type", "application/json")
	return &Client{http: c}
}

// Signal 向 webhookPath 发送一次动作信号。
func (c *Client) Signal(ctx context.Context, webhookPath, symbol, action string) (SignalResponse, error) {
	var out SignalResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(map[string]string{"symbol": symbol, "action": action}).
		SetResult(&out).
		Post(webhookPath)
	if err := check(resp, err); err != nil {
		return SignalResponse{}, err
	}
	return out, nil
}

// Report 查询单个交易对报告，symbol 为空时由服务端选择。
func (c *Client) Report(ctx context.Context, reportPath, symbol string) (report.Report, error) {
	var out report.Report
	req := c.http.R().SetContext(ctx).SetResult(&out)
	if symbol != "" {
		req.SetQueryParam("symbol", symbol)
	}
	resp, err := req.Get(reportPath)
	if err := check(resp, err); err != nil {
		return report.Report{}, err
	}
	return out, nil
}

// ReportAll 查询 profile 下全部报告。
func (c *Client) ReportAll(ctx context.Context, reportPath string) (AllReports, error) {
	var out AllReports
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParam("all", strconv.FormatBool(true)).
		SetResult(&out).
		Get(reportPath)
	if err := check(resp, err); err != nil {
		return AllReports{}, err
	}
	return out, nil
}

// Reset 重置账本基准。
func (c *Client) Reset(ctx context.Context, reportPath, symbol string) (report.ResetResult, error) {
	var out report.ResetResult
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParam("symbol", symbol).
		SetResult(&out).
		Post(strings.TrimSuffix(reportPath, "/") + "/reset")
	if err := check(resp, err); err != nil {
		return report.ResetResult{}, err
	}
	return out, nil
}

func check(resp *resty.Response, err error) error {
	if err != nil {
		return fmt.Errorf("client: 请求失败: %w", err)
	}
	if !resp.IsError() {
		return nil
	}
	var body struct {
		Detail string `json:"detail"`
	}
	detail := strings.TrimSpace(resp.String())
	if json.Unmarshal(resp.Body(), &body) == nil && body.Detail != "" {
		detail = body.Detail
	}
	return &APIError{Status: resp.StatusCode(), Detail: detail}
}
