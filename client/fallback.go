package client

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"time"

	"github.com/bytedance/sonic"
)

const defaultRetryDelay = 2 * time.Second

// Fallback configures the connection ladder: relay, relay again after a
// short delay, then a direct upstream connection using a short-lived
// credential minted by the relay's token endpoint.
type Fallback struct {
	ProxyURL   string // relay WebSocket endpoint
	DirectURL  string // upstream WebSocket endpoint for the direct leg
	TokenURL   string // relay HTTP endpoint minting ephemeral credentials
	RetryDelay time.Duration
	HTTPClient *http.Client
}

// ConnectWithFallback walks the ladder until a session connects. Every
// attempt uses a fresh Session: failed instances are never reused.
func ConnectWithFallback(ctx context.Context, cfg Config, cb Callbacks, fb Fallback) (*Session, error) {
	if fb.RetryDelay <= 0 {
		fb.RetryDelay = defaultRetryDelay
	}

	proxyCfg := cfg
	proxyCfg.URL = fb.ProxyURL

	sess := New(proxyCfg, cb)
	err := sess.Connect(ctx)
	if err == nil {
		return sess, nil
	}
	log.Printf("⚠️ Relay connect failed, retrying in %s: %v", fb.RetryDelay, err)

	select {
	case <-time.After(fb.RetryDelay):
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	sess = New(proxyCfg, cb)
	if err = sess.Connect(ctx); err == nil {
		return sess, nil
	}
	log.Printf("⚠️ Relay retry failed, falling back to direct connection: %v", err)

	if fb.DirectURL == "" || fb.TokenURL == "" {
		return nil, fmt.Errorf("relay unavailable and no direct fallback configured: %w", err)
	}

	token, terr := fetchEphemeralToken(ctx, fb.HTTPClient, fb.TokenURL)
	if terr != nil {
		return nil, fmt.Errorf("relay unavailable and token mint failed: %w", terr)
	}

	directCfg := cfg
	directCfg.URL = fb.DirectURL + "?access_token=" + url.QueryEscape(token)

	sess = New(directCfg, cb)
	if err = sess.Connect(ctx); err != nil {
		return nil, fmt.Errorf("direct connection failed: %w", err)
	}
	return sess, nil
}

// fetchEphemeralToken asks the relay for a single-use upstream credential.
func fetchEphemeralToken(ctx context.Context, client *http.Client, tokenURL string) (string, error) {
	if client == nil {
		client = http.DefaultClient
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, tokenURL, nil)
	if err != nil {
		return "", err
	}

	resp, err := client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	if err != nil {
		return "", err
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("token endpoint returned status %d", resp.StatusCode)
	}

	var payload struct {
		Name string `json:"name"`
	}
	if err := sonic.Unmarshal(body, &payload); err != nil {
		return "", fmt.Errorf("decode token response: %w", err)
	}
	if payload.Name == "" {
		return "", fmt.Errorf("token response missing credential name")
	}
	return payload.Name, nil
}
