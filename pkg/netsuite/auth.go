// Package netsuite implements the read-only client for the NetSuite
// SuiteTalk REST API: request signing under two authentication schemes,
// retrying transport, bulk SuiteQL queries, and query builders for the
// sync engine.
package netsuite

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/atlasfin/suitesync/pkg/config"
	"github.com/atlasfin/suitesync/pkg/syncerrors"
)

// AuthProvider produces per-request authorization headers. Implementations
// are invoked once per outgoing HTTP attempt: a retried request re-signs
// under TBA and reuses the cached token under OAuth 2.0.
type AuthProvider interface {
	AuthHeaders(ctx context.Context, method, fullURL string) (map[string]string, error)
}

// NewAuthProvider selects the provider for the configured auth method.
// Selection happens once at startup; there is no per-request negotiation.
func NewAuthProvider(cfg *config.Config, log *zap.Logger) (AuthProvider, error) {
	switch strings.ToLower(cfg.Application.AuthMethod) {
	case config.AuthMethodTBA:
		return NewTBAProvider(cfg.NetSuite, log), nil
	case config.AuthMethodOAuth2:
		return NewOAuth2Provider(cfg.NetSuite, log), nil
	default:
		return nil, syncerrors.Newf(syncerrors.ErrorTypeConfig,
			"invalid auth_method %q: must be %q or %q",
			cfg.Application.AuthMethod, config.AuthMethodTBA, config.AuthMethodOAuth2)
	}
}

const apiDomainTemplate = "https://%s.suitetalk.api.netsuite.com"

// accountDomain returns the per-account API host. Account IDs are lowercased
// and underscores become dashes in the hostname.
func accountDomain(accountID string) string {
	host := strings.ReplaceAll(strings.ToLower(accountID), "_", "-")
	return fmt.Sprintf(apiDomainTemplate, host)
}

func recordBaseURL(accountID string) string {
	return accountDomain(accountID) + "/services/rest/record/v1"
}

func suiteQLURL(accountID string) string {
	return accountDomain(accountID) + "/services/rest/query/v1/suiteql"
}

func tokenEndpointURL(accountID string) string {
	return accountDomain(accountID) + "/services/rest/auth/oauth2/v1/token"
}
