package netsuite

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	json "github.com/goccy/go-json"
	"go.uber.org/zap"

	"github.com/atlasfin/suitesync/pkg/config"
	"github.com/atlasfin/suitesync/pkg/syncerrors"
)

// tokenExpirySkew treats a token as expired this long before its actual
// expiry, so a token never dies mid-request.
const tokenExpirySkew = 60 * time.Second

// OAuth2Provider authenticates with an OAuth 2.0 client-credentials grant.
// The access token is cached in memory and re-requested synchronously once
// it enters the expiry skew. The caller is single-threaded, so there is no
// refresh coordination.
type OAuth2Provider struct {
	cfg        config.NetSuiteConfig
	tokenURL   string
	httpClient *http.Client
	logger     *zap.Logger

	token *accessToken
	now   func() time.Time
}

type accessToken struct {
	value     string
	tokenType string
	expiresAt time.Time
}

func (t *accessToken) expired(now time.Time) bool {
	return !now.Before(t.expiresAt.Add(-tokenExpirySkew))
}

// NewOAuth2Provider creates a bearer-token auth provider
func NewOAuth2Provider(cfg config.NetSuiteConfig, log *zap.Logger) *OAuth2Provider {
	return &OAuth2Provider{
		cfg:        cfg,
		tokenURL:   tokenEndpointURL(cfg.AccountID),
		httpClient: &http.Client{Timeout: 30 * time.Second},
		logger:     log.With(zap.String("component", "oauth2_auth")),
		now:        time.Now,
	}
}

// AuthHeaders returns a Bearer authorization header, acquiring or renewing
// the access token first when needed.
func (p *OAuth2Provider) AuthHeaders(ctx context.Context, method, fullURL string) (map[string]string, error) {
	if p.token == nil || p.token.expired(p.now()) {
		token, err := p.requestToken(ctx)
		if err != nil {
			return nil, err
		}
		p.token = token
	}

	return map[string]string{
		"Authorization": "Bearer " + p.token.value,
	}, nil
}

type tokenResponse struct {
	AccessToken string      `json:"access_token"`
	TokenType   string      `json:"token_type"`
	ExpiresIn   json.Number `json:"expires_in"`
}

func (p *OAuth2Provider) requestToken(ctx context.Context) (*accessToken, error) {
	form := url.Values{
		"grant_type":    {"client_credentials"},
		"client_id":     {p.cfg.ClientID},
		"client_secret": {p.cfg.ClientSecret},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.tokenURL,
		strings.NewReader(form.Encode()))
	if err != nil {
		return nil, syncerrors.Wrap(err, syncerrors.ErrorTypeConnection,
			"failed to build token request")
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, syncerrors.Wrap(err, syncerrors.ErrorTypeConnection,
			"failed to obtain access token")
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, syncerrors.Wrap(err, syncerrors.ErrorTypeConnection,
			"failed to read token response")
	}

	if resp.StatusCode != http.StatusOK {
		return nil, syncerrors.Newf(syncerrors.ErrorTypeConnection,
			"token endpoint returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var tr tokenResponse
	if err := json.Unmarshal(body, &tr); err != nil {
		return nil, syncerrors.Wrap(err, syncerrors.ErrorTypeConnection,
			"failed to parse token response")
	}
	if tr.AccessToken == "" {
		return nil, syncerrors.New(syncerrors.ErrorTypeConnection,
			"token response contained no access_token")
	}

	expiresIn, err := tr.ExpiresIn.Int64()
	if err != nil || expiresIn <= 0 {
		expiresIn = 3600
	}

	token := &accessToken{
		value:     tr.AccessToken,
		tokenType: tr.TokenType,
		expiresAt: p.now().Add(time.Duration(expiresIn) * time.Second),
	}

	p.logger.Debug("acquired access token",
		zap.Time("expires_at", token.expiresAt))

	return token, nil
}
