package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/oriser/regroup"
)

// bearerChallenge captures the realm/service/scope triple a registry
// returns in its WWW-Authenticate header on a 401.
type bearerChallenge struct {
	Realm   string `regroup:"realm"`
	Service string `regroup:"service"`
	Scope   string `regroup:"scope"`
}

// bearerChallengeRegex matches a Bearer WWW-Authenticate header such as:
//
//	Bearer realm="https://auth.docker.io/token",service="registry.docker.io",scope="repository:library/alpine:pull"
var bearerChallengeRegex = regroup.MustCompile(
	`Bearer realm="(?P<realm>[^"]+)"(?:,\s*service="(?P<service>[^"]*)")?(?:,\s*scope="(?P<scope>[^"]*)")?`,
)

// tokenResponse is the JSON body returned by a bearer token endpoint.
// Registries vary between "token" and "access_token"; both are accepted.
type tokenResponse struct {
	Token       string `json:"token"`
	AccessToken string `json:"access_token"`
}

// parseBearerChallenge extracts realm/service/scope from a 401 response's
// WWW-Authenticate header. It returns ok=false when the header is absent
// or is not a Bearer challenge (e.g. Basic auth, which this client does
// not support).
func parseBearerChallenge(header http.Header) (bearerChallenge, bool) {
	raw := header.Get("WWW-Authenticate")
	if raw == "" || !strings.HasPrefix(raw, "Bearer ") {
		return bearerChallenge{}, false
	}
	var c bearerChallenge
	if err := bearerChallengeRegex.MatchToTarget(raw, &c); err != nil {
		return bearerChallenge{}, false
	}
	if c.Realm == "" {
		return bearerChallenge{}, false
	}
	return c, true
}

// exchangeToken fetches a bearer token from the challenge's realm,
// optionally authenticating with username/password (empty for anonymous
// pulls, which public registries like Docker Hub allow).
func exchangeToken(ctx context.Context, client *http.Client, c bearerChallenge, username, password string) (string, error) {
	q := url.Values{}
	if c.Service != "" {
		q.Set("service", c.Service)
	}
	if c.Scope != "" {
		q.Set("scope", c.Scope)
	}

	tokenURL := c.Realm
	if len(q) > 0 {
		sep := "?"
		if strings.Contains(tokenURL, "?") {
			sep = "&"
		}
		tokenURL += sep + q.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, tokenURL, http.NoBody)
	if err != nil {
		return "", fmt.Errorf("build token request: %w", err)
	}
	if username != "" {
		req.SetBasicAuth(username, password)
	}

	resp, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("request token: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("read token response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("token endpoint returned %s: %s", resp.Status, string(body))
	}

	var tr tokenResponse
	if err := json.Unmarshal(body, &tr); err != nil {
		return "", fmt.Errorf("decode token response: %w", err)
	}

	token := tr.Token
	if token == "" {
		token = tr.AccessToken
	}
	if token == "" {
		return "", fmt.Errorf("token endpoint returned no token")
	}
	return token, nil
}
