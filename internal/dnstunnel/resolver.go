package dnstunnel

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"
)

// DefaultURL is the resolver used when none is configured.
const DefaultURL = "https://1.1.1.1/dns-query"

const mimetype = "application/dns-message"

// Resolver exchanges one raw DNS query for one raw answer.
type Resolver interface {
	Resolve(ctx context.Context, query []byte) ([]byte, error)
}

// DoHResolver implements DNS-over-HTTPS (RFC 8484) with POST requests.
type DoHResolver struct {
	url    string
	client *http.Client
}

// NewDoHResolver returns a resolver posting to url. A nil client gets a
// pooled HTTP/2-capable client.
func NewDoHResolver(url string, client *http.Client) *DoHResolver {
	if client == nil {
		client = &http.Client{
			Transport: &http.Transport{
				Proxy:                 http.ProxyFromEnvironment,
				ForceAttemptHTTP2:     true,
				MaxIdleConnsPerHost:   16,
				IdleConnTimeout:       90 * time.Second,
				TLSHandshakeTimeout:   10 * time.Second,
				ResponseHeaderTimeout: 20 * time.Second,
			},
		}
	}
	return &DoHResolver{url: url, client: client}
}

// URL returns the resolver endpoint.
func (r *DoHResolver) URL() string {
	return r.url
}

func (r *DoHResolver) Resolve(ctx context.Context, query []byte) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.url, bytes.NewReader(query))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", mimetype)
	req.Header.Set("Content-Type", mimetype)

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("got HTTP status %v", resp.StatusCode)
	}

	answer, err := io.ReadAll(io.LimitReader(resp.Body, MaxMessageSize+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if len(answer) > MaxMessageSize {
		return nil, fmt.Errorf("response exceeds %d bytes", MaxMessageSize)
	}
	return answer, nil
}
