// Package cvesearch CVE-Search REST API 客户端及结果归一化
package cvesearch

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"golang.org/x/xerrors"

	"QianKunJing/internal/config"
	"QianKunJing/internal/cpe"
	"QianKunJing/internal/model"
	"QianKunJing/internal/telemetry"
	"QianKunJing/internal/utils"
)

// DefaultLimit cvefor 和 last 接口的默认条数
const DefaultLimit = 50

// ErrServerFault CVE-Search返回HTTP 500
var ErrServerFault = xerrors.New("Unknown CVE-Search API Error")

// QueryCriteria query接口允许的过滤条件
var QueryCriteria = []string{
	"rejected",      // show(默认) / hide
	"cvss_score",    // CVSS分数
	"cvss_modifier", // above, equals, below
	"time_start",    // dd-mm-yyyy 或 dd-mm-yy，分隔符 - 或 /
	"time_end",
	"time_modifier", // from, until, between, outside
	"time_type",     // Modified, Published, last-modified（区分大小写）
	"skip",          // 跳过最新的n条
	"limit",
}

// Client CVE-Search API客户端，可并发使用
type Client struct {
	cfg        config.ServiceConfig
	logger     *utils.Logger
	httpClient *http.Client
}

// New 创建客户端。cfg.BaseURL为空时所有查询直接返回空结果
func New(cfg config.ServiceConfig) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = config.DefaultTimeout
	}

	return &Client{
		cfg:    cfg,
		logger: utils.NewLogger("cvesearch"),
		httpClient: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				Proxy:               http.ProxyFromEnvironment,
				MaxIdleConns:        10,
				IdleConnTimeout:     30 * time.Second,
				MaxIdleConnsPerHost: 10,
				TLSClientConfig: &tls.Config{
					// 由配置显式开启，用于自签名证书的内网服务
					InsecureSkipVerify: cfg.SkipTLSVerify,
				},
			},
		},
	}
}

// Configured 是否配置了服务地址
func (c *Client) Configured() bool {
	return c.cfg.BaseURL != ""
}

// get 请求CVE-Search GET接口并解码JSON。
// headers 为已格式化好的 "key: value" 行，目前只有query接口使用。
// 未配置、网络错误、空响应或无法解析时返回 (nil, nil)；HTTP 500返回ErrServerFault。
func (c *Client) get(ctx context.Context, endpoint string, headers []string) (interface{}, error) {
	name := endpointName(endpoint)

	if c.cfg.BaseURL == "" {
		telemetry.RequestsTotal.WithLabelValues(name, "not_configured").Inc()
		return nil, nil
	}

	apiURL := strings.TrimSuffix(c.cfg.BaseURL, "/") + "/api/" + strings.TrimPrefix(endpoint, "/")
	c.logger.Debug("请求URL: %s", apiURL)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, apiURL, nil)
	if err != nil {
		return nil, xerrors.Errorf("创建请求失败: %w", err)
	}

	req.Header.Set("User-Agent", "QianKunJing/1.0")
	req.Header.Set("Accept", "application/json")
	for _, line := range headers {
		key, value, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		// 保持原始键名，不做规范化
		req.Header[strings.TrimSpace(key)] = []string{strings.TrimSpace(value)}
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	telemetry.RequestDuration.WithLabelValues(name).Observe(time.Since(start).Seconds())
	if err != nil {
		if ctx.Err() != nil {
			telemetry.RequestsTotal.WithLabelValues(name, "canceled").Inc()
			return nil, ctx.Err()
		}
		telemetry.RequestsTotal.WithLabelValues(name, "transport_error").Inc()
		c.logger.Warn("HTTP请求失败 %s: %v", apiURL, err)
		return nil, nil
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		telemetry.RequestsTotal.WithLabelValues(name, "transport_error").Inc()
		c.logger.Warn("读取响应失败 %s: %v", apiURL, err)
		return nil, nil
	}

	if len(bytes.TrimSpace(body)) == 0 {
		telemetry.RequestsTotal.WithLabelValues(name, "empty").Inc()
		return nil, nil
	}

	if resp.StatusCode == http.StatusInternalServerError {
		telemetry.RequestsTotal.WithLabelValues(name, "server_fault").Inc()
		return nil, xerrors.Errorf("%s: %w", apiURL, ErrServerFault)
	}

	if resp.StatusCode != http.StatusOK {
		c.logger.Debug("API返回 %s, 仍尝试解析响应", resp.Status)
	}

	var decoded interface{}
	if err := json.Unmarshal(body, &decoded); err != nil {
		telemetry.RequestsTotal.WithLabelValues(name, "decode_error").Inc()
		c.logger.Warn("解析JSON失败 %s: %v", apiURL, err)
		return nil, nil
	}

	telemetry.RequestsTotal.WithLabelValues(name, "ok").Inc()
	return decoded, nil
}

// GetCveForCpe 查询与CPE相关的CVE。limit<=0 时不带limit参数；带limit时服务端按CVSS排序
func (c *Client) GetCveForCpe(ctx context.Context, cpeString string, limit int) (model.RawBatch, error) {
	endpoint := "/cvefor/" + url.PathEscape(cpeString)
	if limit > 0 {
		endpoint += "?limit=" + strconv.Itoa(limit)
	}

	res, err := c.get(ctx, endpoint, nil)
	if err != nil {
		return nil, err
	}
	return asBatch(res), nil
}

// GetCve 查询单个CVE
func (c *Client) GetCve(ctx context.Context, id string) (model.RawCveEntry, error) {
	res, err := c.get(ctx, "/cve/"+url.PathEscape(id), nil)
	if err != nil {
		return nil, err
	}
	return asEntry(res), nil
}

// GetCwe id为空时返回全部CWE，否则返回指定CWE
func (c *Client) GetCwe(ctx context.Context, id string) (interface{}, error) {
	endpoint := "/cwe"
	if id != "" {
		endpoint += "/" + url.PathEscape(id)
	}
	return c.get(ctx, endpoint, nil)
}

// GetCapecForCwe 查询与CWE相关的CAPEC
func (c *Client) GetCapecForCwe(ctx context.Context, cweID string) (model.RawBatch, error) {
	res, err := c.get(ctx, "/capec/"+url.PathEscape(cweID), nil)
	if err != nil {
		return nil, err
	}
	return asBatch(res), nil
}

// GetCapec 查询单个CAPEC
func (c *Client) GetCapec(ctx context.Context, capecID string) (model.RawCveEntry, error) {
	res, err := c.get(ctx, "/capec/show/"+url.PathEscape(capecID), nil)
	if err != nil {
		return nil, err
	}
	return asEntry(res), nil
}

// GetRecentCve 最新的limit条CVE
func (c *Client) GetRecentCve(ctx context.Context, limit int) (model.RawBatch, error) {
	res, err := c.get(ctx, "/last?limit="+strconv.Itoa(limit), nil)
	if err != nil {
		return nil, err
	}
	return asBatch(res), nil
}

// Query 按过滤条件查询CVE。不在QueryCriteria中的键会被丢弃，每个条件作为一个请求头发送
func (c *Client) Query(ctx context.Context, filters map[string]string) (model.RawBatch, error) {
	res, err := c.get(ctx, "/query", queryHeaders(filters))
	if err != nil {
		return nil, err
	}
	return asBatch(unwrap(res, "results")), nil
}

// GetVendors 厂商列表
func (c *Client) GetVendors(ctx context.Context) ([]string, error) {
	res, err := c.get(ctx, "/browse", nil)
	if err != nil {
		return nil, err
	}
	return asStrings(unwrap(res, "vendor")), nil
}

// GetProductsByVendor 厂商的产品列表
func (c *Client) GetProductsByVendor(ctx context.Context, vendor string) ([]string, error) {
	vendor = cpe.FormatVendorName(vendor)
	res, err := c.get(ctx, "/browse/"+url.PathEscape(vendor), nil)
	if err != nil {
		return nil, err
	}
	return asStrings(unwrap(res, "product")), nil
}

// GetCveByVendorAndProduct 按厂商和产品搜索CVE，名称会先格式化
func (c *Client) GetCveByVendorAndProduct(ctx context.Context, vendor, product string) (model.RawBatch, error) {
	vendor = cpe.FormatVendorName(vendor)
	product = cpe.FormatProductName(product)

	res, err := c.get(ctx, "/search/"+url.PathEscape(vendor)+"/"+url.PathEscape(product), nil)
	if err != nil {
		return nil, err
	}
	return asBatch(unwrap(res, "results")), nil
}

// GetCveByLink 按关联字段查询，例如 key=cwe value=CWE-79
func (c *Client) GetCveByLink(ctx context.Context, key, value string) (interface{}, error) {
	return c.get(ctx, "/link/"+url.PathEscape(key)+"/"+url.PathEscape(value), nil)
}

// queryHeaders 过滤并按键名排序生成请求头行
func queryHeaders(filters map[string]string) []string {
	allowed := make(map[string]bool, len(QueryCriteria))
	for _, k := range QueryCriteria {
		allowed[k] = true
	}

	var keys []string
	for k := range filters {
		if allowed[k] {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	headers := make([]string, 0, len(keys))
	for _, k := range keys {
		headers = append(headers, k+": "+filters[k])
	}
	return headers
}

// endpointName 取接口第一段作为指标标签
func endpointName(endpoint string) string {
	endpoint = strings.TrimPrefix(endpoint, "/")
	if i := strings.IndexAny(endpoint, "/?"); i >= 0 {
		endpoint = endpoint[:i]
	}
	return endpoint
}

// unwrap 存在key时取出信封内容，否则原样返回
func unwrap(v interface{}, key string) interface{} {
	if m, ok := v.(map[string]interface{}); ok {
		if inner, ok := m[key]; ok {
			return inner
		}
	}
	return v
}

func asBatch(v interface{}) model.RawBatch {
	if list, ok := v.([]interface{}); ok {
		return list
	}
	return model.RawBatch{}
}

func asEntry(v interface{}) model.RawCveEntry {
	if m, ok := v.(map[string]interface{}); ok {
		return m
	}
	return model.RawCveEntry{}
}

func asStrings(v interface{}) []string {
	list, ok := v.([]interface{})
	if !ok {
		return []string{}
	}

	out := make([]string, 0, len(list))
	for _, item := range list {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}
