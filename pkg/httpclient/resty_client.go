package httpclient

import (
	"context"
	"time"

	"github.com/go-resty/resty/v2"
)

// RestyClient adapts resty.Client to the httpclient.Client interface.
type RestyClient struct {
	client *resty.Client
}

// NewRestyClient creates a new RestyClient with the specified timeout.
func NewRestyClient(timeout time.Duration) *RestyClient {
	return &RestyClient{client: newRestyBaseClient(timeout, "")}
}

// NewProxiedRestyClient creates a RestyClient routed through an HTTP(S) proxy.
// An empty proxy URL means a direct connection.
func NewProxiedRestyClient(timeout time.Duration, proxyURL string) *RestyClient {
	return &RestyClient{client: newRestyBaseClient(timeout, proxyURL)}
}

// NewRestyHTTPClient exposes a configured resty.Client for callers needing custom verbs.
func NewRestyHTTPClient(timeout time.Duration) *resty.Client {
	return newRestyBaseClient(timeout, "")
}

func newRestyBaseClient(timeout time.Duration, proxyURL string) *resty.Client {
	c := resty.New()
	c.SetTimeout(timeout)
	if proxyURL != "" {
		c.SetProxy(proxyURL)
	}
	return c
}

// Get performs an HTTP GET request with the specified context, URL, and headers.
func (r *RestyClient) Get(ctx context.Context, url string, headers map[string]string) (Response, error) {
	req := r.client.R().SetContext(ctx)
	if len(headers) > 0 {
		req.SetHeaders(headers)
	}
	resp, err := req.Get(url)
	if err != nil {
		return nil, err
	}
	return &restyResponseAdapter{resp: resp}, nil
}

// PostForm performs a form-encoded POST, used for credential exchanges.
func (r *RestyClient) PostForm(ctx context.Context, url string, form map[string]string, headers map[string]string) (Response, error) {
	req := r.client.R().SetContext(ctx).SetFormData(form)
	if len(headers) > 0 {
		req.SetHeaders(headers)
	}
	resp, err := req.Post(url)
	if err != nil {
		return nil, err
	}
	return &restyResponseAdapter{resp: resp}, nil
}

// restyResponseAdapter adapts resty.Response to the httpclient.Response interface.
type restyResponseAdapter struct {
	resp *resty.Response
}

func (r *restyResponseAdapter) Body() []byte    { return r.resp.Body() }
func (r *restyResponseAdapter) StatusCode() int { return r.resp.StatusCode() }
