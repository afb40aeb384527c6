package azure

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	"github.com/shihanpietersz/migration-manager/internal/config"
	"github.com/shihanpietersz/migration-manager/internal/models"
)

// TokenProvider yields a bearer credential for the management API.
type TokenProvider interface {
	Token(ctx context.Context) (string, error)
}

// ClientCredentialsProvider exchanges tenant/client identity for a bearer
// token and caches it process-wide. The token is refreshed lazily with a
// safety margin before expiry; concurrent callers share one refresh through
// a single-flight guard.
type ClientCredentialsProvider struct {
	cfg    *config.AzureConfig
	log    *logrus.Logger
	client *http.Client

	mu        sync.Mutex
	token     string
	expiresAt time.Time
	group     singleflight.Group
}

func NewClientCredentialsProvider(cfg *config.AzureConfig, log *logrus.Logger) *ClientCredentialsProvider {
	return &ClientCredentialsProvider{
		cfg:    cfg,
		log:    log,
		client: &http.Client{Timeout: 30 * time.Second},
	}
}

func (p *ClientCredentialsProvider) Token(ctx context.Context) (string, error) {
	if token, ok := p.cached(); ok {
		return token, nil
	}

	value, err, _ := p.group.Do("token", func() (interface{}, error) {
		// Another caller may have refreshed while we waited on the group.
		if token, ok := p.cached(); ok {
			return token, nil
		}
		return p.fetchToken(ctx)
	})
	if err != nil {
		return "", err
	}
	return value.(string), nil
}

func (p *ClientCredentialsProvider) cached() (string, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.token != "" && time.Now().Before(p.expiresAt.Add(-p.cfg.TokenExpiryMargin)) {
		return p.token, true
	}
	return "", false
}

func (p *ClientCredentialsProvider) fetchToken(ctx context.Context) (string, error) {
	form := url.Values{}
	form.Set("grant_type", "client_credentials")
	form.Set("client_id", p.cfg.ClientID)
	form.Set("client_secret", p.cfg.ClientSecret)
	form.Set("scope", p.cfg.ManagementBaseURL+"/.default")

	tokenURL := fmt.Sprintf("%s/%s/oauth2/v2.0/token", p.cfg.LoginBaseURL, p.cfg.TenantID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, tokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("failed to create token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := p.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to exchange client credentials: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read token response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("token endpoint returned status %d: %s", resp.StatusCode, string(body))
	}

	var tokenResp models.AzureTokenResponse
	if err := json.Unmarshal(body, &tokenResp); err != nil {
		return "", fmt.Errorf("failed to unmarshal token response: %w", err)
	}
	if tokenResp.AccessToken == "" {
		return "", fmt.Errorf("token endpoint returned empty access token")
	}

	p.mu.Lock()
	p.token = tokenResp.AccessToken
	p.expiresAt = time.Now().Add(time.Duration(tokenResp.ExpiresIn) * time.Second)
	p.mu.Unlock()

	p.log.WithField("expires_in", tokenResp.ExpiresIn).Debug("Refreshed management API token")

	return tokenResp.AccessToken, nil
}
