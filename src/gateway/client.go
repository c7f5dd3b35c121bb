// RATE-LIMITED REST GATEWAY FOR USDT-M FUTURES
// RESTY PER EGRESS ADDRESS + WEIGHT-AWARE ROTATION
package gateway

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"
	logger "github.com/sirupsen/logrus"

	"ladderexecutor/src/model"
)

// UsedWeightHeader carries the exchange-reported cost of the answered
// call; it refines the learned per-path weight for future calls.
const UsedWeightHeader = "X-Used-Weight"

type requestLogStore interface {
	Create(ctx context.Context, entry *model.ExchangeRequestLog) error
}

// Client issues signed HTTP calls to the exchange through the egress
// address chosen by the balancer. 429 responses rotate the address and
// retry (when more than one address is configured); every other HTTP
// failure surfaces as a typed transport error without retry.
type Client struct {
	cfg       Config
	apiKey    string
	apiSecret string

	balancer *Balancer
	logs     requestLogStore

	httpByAddr map[string]*resty.Client
	hostname   string
}

func NewClient(cfg Config, apiKey, apiSecret string, balancer *Balancer, logs requestLogStore) *Client {
	hostname, _ := os.Hostname()

	httpByAddr := make(map[string]*resty.Client, len(cfg.Addresses))
	for _, addr := range cfg.Addresses {
		httpByAddr[addr] = newRestyClient(cfg, addr)
	}

	return &Client{
		cfg:        cfg,
		apiKey:     apiKey,
		apiSecret:  apiSecret,
		balancer:   balancer,
		logs:       logs,
		httpByAddr: httpByAddr,
		hostname:   hostname,
	}
}

func newRestyClient(cfg Config, address string) *resty.Client {
	client := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(cfg.RequestTimeout)

	// Bind the dialer to the egress address when one is configured;
	// "default" (or anything unparsable) keeps the host's routing.
	if ip := net.ParseIP(address); ip != nil {
		dialer := &net.Dialer{
			Timeout:   30 * time.Second,
			LocalAddr: &net.TCPAddr{IP: ip},
		}
		client.SetTransport(&http.Transport{
			DialContext:         dialer.DialContext,
			TLSHandshakeTimeout: 10 * time.Second,
		})
	}

	return client
}

func signQuery(query, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(query))
	return hex.EncodeToString(mac.Sum(nil))
}

// Request performs one exchange call and returns the decoded body.
// Signed calls get recvWindow/timestamp parameters and an HMAC-SHA256
// signature over the query string.
func (c *Client) Request(ctx context.Context, method, path string, signed bool, params url.Values) ([]byte, error) {
	cost := c.balancer.CallCost(ctx, path)

	attempts := c.cfg.RetryAttempts
	if attempts < 1 || len(c.cfg.Addresses) <= 1 {
		// Rotation needs an alternate address to rotate to.
		attempts = 1
	}

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		address, err := c.balancer.Pick(ctx, path)
		if err != nil {
			return nil, err
		}

		body, retryable, err := c.execute(ctx, address, method, path, signed, params, cost)
		if err == nil {
			return body, nil
		}

		lastErr = err
		if !retryable {
			return nil, err
		}

		logger.WithFields(map[string]interface{}{
			"exchange": c.cfg.Exchange,
			"path":     path,
			"address":  address,
			"attempt":  attempt + 1,
		}).Warn("Rate limited, rotating egress address")
	}

	return nil, lastErr
}

func (c *Client) execute(
	ctx context.Context,
	address, method, path string,
	signed bool,
	params url.Values,
	cost int64,
) (body []byte, retryable bool, err error) {

	httpClient, ok := c.httpByAddr[address]
	if !ok {
		return nil, false, fmt.Errorf("no HTTP client for egress address %s", address)
	}

	query := url.Values{}
	for k, vs := range params {
		for _, v := range vs {
			query.Add(k, v)
		}
	}

	req := httpClient.R().SetContext(ctx)
	if signed {
		query.Set("recvWindow", strconv.FormatInt(c.cfg.RecvWindow, 10))
		query.Set("timestamp", strconv.FormatInt(time.Now().UnixMilli(), 10))
		encoded := query.Encode()
		query.Set("signature", signQuery(encoded, c.apiSecret))
		req.SetHeader("X-API-KEY", c.apiKey)
	}
	req.SetQueryParamsFromValues(query)

	resp, err := req.Execute(method, path)
	if err != nil {
		c.logCall(ctx, method, path, query, address, 0, "", 0)
		return nil, false, &TransportError{Exchange: c.cfg.Exchange, Path: path, Cause: err}
	}

	used := cost
	if header := resp.Header().Get(UsedWeightHeader); header != "" {
		if parsed, perr := strconv.ParseInt(header, 10, 64); perr == nil && parsed > 0 {
			used = parsed
		}
	}

	c.logCall(ctx, method, path, query, address, resp.StatusCode(), string(resp.Body()), used)

	if resp.StatusCode() == http.StatusTooManyRequests {
		c.balancer.Penalize(ctx, address)
		return nil, true, &RateLimitError{Exchange: c.cfg.Exchange, Address: address, Path: path}
	}

	if resp.StatusCode() != http.StatusOK {
		return nil, false, &TransportError{
			Exchange:   c.cfg.Exchange,
			Path:       path,
			StatusCode: resp.StatusCode(),
			Body:       string(resp.Body()),
		}
	}

	c.balancer.Settle(ctx, address, path, used)

	return resp.Body(), false, nil
}

func (c *Client) logCall(ctx context.Context, method, path string, query url.Values, address string, code int, body string, used int64) {
	logger.WithFields(map[string]interface{}{
		"exchange": c.cfg.Exchange,
		"method":   method,
		"path":     path,
		"address":  address,
		"code":     code,
		"hostname": c.hostname,
	}).Debug("Exchange call")

	if c.logs == nil {
		return
	}

	redacted := url.Values{}
	for k, vs := range query {
		if k == "signature" {
			continue
		}
		redacted[k] = vs
	}

	// Audit failures must never break the call path.
	_ = c.logs.Create(ctx, &model.ExchangeRequestLog{
		Exchange:     c.cfg.Exchange,
		Method:       method,
		Path:         path,
		Payload:      redacted.Encode(),
		ResponseCode: code,
		ResponseBody: body,
		UsedWeight:   used,
		Address:      address,
		Hostname:     c.hostname,
	})
}
