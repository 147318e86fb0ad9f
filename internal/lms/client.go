// Package lms Canvas LMS 数据获取
//
// Client 负责调用 Canvas REST API（{base_url}/api/v1/...），每次调用携带调用方的 LMS 凭据，
// 将响应转换为 model 包中的领域类型。错误分为两类：
//   - ErrAuth：凭据被拒绝
//   - *UpstreamError：其余失败（含单课程权限拒绝 ErrPermissionDenied）
package lms

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"slices"
	"strings"
	"time"

	"github.com/tomnomnom/linkheader"

	"eagle-task/pkg/logging"
)

// ObserveFunc 上游调用观测回调（用于指标）
type ObserveFunc func(op string, status int, duration time.Duration, err error)

// Options Client 配置
type Options struct {
	BaseURL          string
	CurrentTermID    int64 // 0 表示不按学期过滤
	PerPage          int
	FetchConcurrency int
	Timeout          time.Duration
	MaxPages         int // 0 使用默认值

	HTTPClient *http.Client
	Now        func() time.Time
	Logger     *logging.Logger
	Observe    ObserveFunc
}

// Client Canvas API 客户端
type Client struct {
	baseURL     string
	termID      int64
	perPage     int
	concurrency int
	maxPages    int
	httpClient  *http.Client
	now         func() time.Time
	log         *logging.Logger
	observe     ObserveFunc
}

// defaultMaxPages 单个列表接口最多跟随的分页数
const defaultMaxPages = 50

// NewClient 创建 Canvas 客户端
func NewClient(opts Options) *Client {
	c := &Client{
		baseURL:     strings.TrimRight(opts.BaseURL, "/"),
		termID:      opts.CurrentTermID,
		perPage:     opts.PerPage,
		concurrency: opts.FetchConcurrency,
		maxPages:    opts.MaxPages,
		httpClient:  opts.HTTPClient,
		now:         opts.Now,
		log:         opts.Logger,
		observe:     opts.Observe,
	}
	if c.perPage <= 0 {
		c.perPage = 100
	}
	if c.concurrency <= 0 {
		c.concurrency = 4
	}
	if c.maxPages <= 0 {
		c.maxPages = defaultMaxPages
	}
	if c.httpClient == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = 20 * time.Second
		}
		c.httpClient = &http.Client{Timeout: timeout}
	}
	if c.now == nil {
		c.now = time.Now
	}
	if c.log == nil {
		c.log = logging.Nop()
	}
	return c
}

// getJSON 请求单个资源
func (c *Client) getJSON(ctx context.Context, apiKey, op, path string, query url.Values, out any) error {
	_, err := c.get(ctx, apiKey, op, c.endpoint(path, query), out)
	return err
}

// getAll 跟随 Link rel="next" 分页读取完整列表
func getAll[T any](ctx context.Context, c *Client, apiKey, op, path string, query url.Values) ([]T, error) {
	if query == nil {
		query = url.Values{}
	}
	query.Set("per_page", fmt.Sprint(c.perPage))

	items := make([]T, 0)
	next := c.endpoint(path, query)
	for page := 0; next != ""; page++ {
		if page == c.maxPages {
			c.log.WithContext(ctx).Warn().
				Str("operation", op).
				Int("pages", page).
				Int("items", len(items)).
				Msg("Pagination limit reached, list truncated")
			break
		}
		var batch []T
		link, err := c.get(ctx, apiKey, op, next, &batch)
		if err != nil {
			return nil, err
		}
		items = append(items, batch...)
		next = nextLink(link)
	}
	return items, nil
}

func (c *Client) endpoint(path string, query url.Values) string {
	u := c.baseURL + "/api/v1" + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	return u
}

// get 执行 GET 请求并解码 JSON，返回 Link 头
func (c *Client) get(ctx context.Context, apiKey, op, rawURL string, out any) (string, error) {
	start := time.Now()
	status, link, err := c.doGet(ctx, apiKey, op, rawURL, out)
	duration := time.Since(start)

	if c.observe != nil {
		c.observe(op, status, duration, err)
	}
	c.log.WithContext(ctx).UpstreamLog("lms", op, status, duration, err)
	return link, err
}

func (c *Client) doGet(ctx context.Context, apiKey, op, rawURL string, out any) (int, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return 0, "", &UpstreamError{Op: op, Err: err}
	}
	req.Header.Set("Authorization", "Bearer "+apiKey)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, "", &UpstreamError{Op: op, Message: transportMessage(err), Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 16<<20))
	if err != nil {
		return resp.StatusCode, "", &UpstreamError{Op: op, StatusCode: resp.StatusCode, Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return resp.StatusCode, "", classify(op, resp, body)
	}

	if err := json.Unmarshal(body, out); err != nil {
		return resp.StatusCode, "", &UpstreamError{
			Op:         op,
			StatusCode: resp.StatusCode,
			Message:    "malformed response body",
			Err:        err,
		}
	}
	return resp.StatusCode, resp.Header.Get("Link"), nil
}

// classify 将非 2xx 响应映射到错误分类
//
// Canvas 对无效 token 返回 401 且带 WWW-Authenticate 头；
// 对有效 token 访问无权资源返回 401 "user not authorized" 或 403。
func classify(op string, resp *http.Response, body []byte) error {
	var eb errorBody
	_ = json.Unmarshal(body, &eb)
	msg := eb.text()
	lower := strings.ToLower(msg)

	switch resp.StatusCode {
	case http.StatusUnauthorized:
		if strings.Contains(lower, "not authorized") && resp.Header.Get("WWW-Authenticate") == "" {
			return &UpstreamError{Op: op, StatusCode: resp.StatusCode, Message: msg, Err: ErrPermissionDenied}
		}
		return fmt.Errorf("lms %s: %w", op, ErrAuth)
	case http.StatusForbidden:
		return &UpstreamError{Op: op, StatusCode: resp.StatusCode, Message: msg, Err: ErrPermissionDenied}
	default:
		if msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}
		return &UpstreamError{Op: op, StatusCode: resp.StatusCode, Message: msg}
	}
}

func transportMessage(err error) string {
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return "request timed out"
	}
	return "request failed"
}

// nextLink 解析 Link 头中的 rel="next"
//
//	<https://canvas/api/v1/courses?page=2&per_page=100>; rel="next", <...>; rel="last"
func nextLink(header string) string {
	for _, link := range linkheader.Parse(header) {
		if slices.Contains(strings.Fields(strings.ToLower(link.Rel)), "next") {
			return link.URL
		}
	}
	return ""
}
