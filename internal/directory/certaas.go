package directory

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hashicorp/go-cleanhttp"

	"certinv/internal/certs"
	cierrors "certinv/internal/errors"
	"certinv/internal/logger"
)

const (
	DefaultTimeout = 15 * time.Second
	maxBodyBytes   = 10 << 20
)

// CertaaSConfig configures the HTTP certificate-as-a-service backend.
type CertaaSConfig struct {
	BaseURL string
	Token   string
	Timeout time.Duration
}

type certaasClient struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

func NewCertaaS(cfg CertaaSConfig) (Client, error) {
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		return nil, fmt.Errorf("certaas base url is empty")
	}
	if _, err := url.ParseRequestURI(base); err != nil {
		return nil, fmt.Errorf("invalid certaas base url: %w", err)
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	httpClient := cleanhttp.DefaultPooledClient()
	httpClient.Timeout = timeout
	return &certaasClient{baseURL: base, token: cfg.Token, httpClient: httpClient}, nil
}

func (c *certaasClient) newRequest(ctx context.Context, target string) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	return req, nil
}

// Search sends the supplied filters, and only those, to GET {base}/certs.
func (c *certaasClient) Search(ctx context.Context, q certs.Query) ([]certs.ExternalRecord, error) {
	params := url.Values{}
	if q.CommonName != "" {
		params.Set("commonName", q.CommonName)
	}
	if q.SerialNumber != "" {
		params.Set("serialNumber", q.SerialNumber)
	}
	target := c.baseURL + "/certs"
	if encoded := params.Encode(); encoded != "" {
		target += "?" + encoded
	}

	req, err := c.newRequest(ctx, target)
	if err != nil {
		return nil, fmt.Errorf("build certaas request: %w", err)
	}
	started := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", cierrors.ErrUpstream, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxBodyBytes))
		return nil, fmt.Errorf("%w: status %d", cierrors.ErrUpstream, resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("%w: read body: %v", cierrors.ErrUpstream, err)
	}
	records, err := DecodeRecords(body)
	if err != nil {
		return nil, err
	}
	logger.DirectoryEvent("certaas", len(records), time.Since(started)).Msg("Directory search completed")
	return records, nil
}

// CheckConnection treats any answer below 500 from the base URL as reachable.
func (c *certaasClient) CheckConnection(ctx context.Context) error {
	req, err := c.newRequest(ctx, c.baseURL)
	if err != nil {
		return fmt.Errorf("build certaas request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("certaas unreachable: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode >= 500 {
		return fmt.Errorf("certaas unhealthy: status %d", resp.StatusCode)
	}
	return nil
}

func (c *certaasClient) Shutdown() {
	c.httpClient.CloseIdleConnections()
}
