package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"maps"
	"net/http"
	"slices"
	"strings"
)

const (
	// DefaultMetadataURL serves the portal's MSAL configuration.
	DefaultMetadataURL = "https://mijn.fluvius.be/api/global/msal/config"
	DefaultAuthority   = "https://login.fluvius.be/klanten.onmicrosoft.com/B2C_1A_customer_signup_signin"
	DefaultRedirectURI = "https://mijn.fluvius.be/"
	// DefaultScope is the portal API impersonation scope; it is always
	// requested.
	DefaultScope = "https://klanten.onmicrosoft.com/MijnFluvius/user_impersonation"
)

// tenantMetadata is the subset of the MSAL config we need.
type tenantMetadata struct {
	ClientID    string
	RedirectURI string
	Authority   string
	Scopes      string
}

func (a *attempt) fetchMetadata(ctx context.Context) (tenantMetadata, error) {
	a.enter(ctx, StepFetchingMetadata)

	req, err := http.NewRequestWithContext(ctx, "GET", a.auth.metadataURL, nil)
	if err != nil {
		return tenantMetadata{}, a.fail("failed to create metadata request", nil, err)
	}
	req.Header.Set("Accept", "application/json")
	resp, err := a.client.Do(req)
	if err != nil {
		return tenantMetadata{}, a.fail("failed to fetch msal config", nil, err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return tenantMetadata{}, a.fail("failed to read msal config", nil, err)
	}
	if resp.StatusCode != http.StatusOK {
		return tenantMetadata{}, a.fail(fmt.Sprintf("msal config returned status %d", resp.StatusCode), body, nil)
	}

	var raw map[string]any
	if err := json.Unmarshal(body, &raw); err != nil {
		return tenantMetadata{}, a.fail("msal config is not json", body, &ProtocolError{Name: "msal config", Reason: "invalid json", Err: err})
	}
	md := parseMetadata(raw)
	if md.ClientID == "" {
		return tenantMetadata{}, a.fail("msal config does not expose a clientId", nil, nil)
	}
	return md, nil
}

func parseMetadata(raw map[string]any) tenantMetadata {
	nested, _ := raw["auth"].(map[string]any)
	pick := func(key, def string) string {
		if v := stringValue(raw[key]); v != "" {
			return v
		}
		if v := stringValue(nested[key]); v != "" {
			return v
		}
		return def
	}
	return tenantMetadata{
		ClientID:    pick("clientId", ""),
		RedirectURI: pick("redirectUri", DefaultRedirectURI),
		Authority:   strings.TrimRight(pick("authority", DefaultAuthority), "/"),
		Scopes:      normaliseScopes(raw),
	}
}

// normaliseScopes collects every scope the config declares, in first-seen
// order, and appends the scopes we always need.
func normaliseScopes(raw map[string]any) string {
	authRequest, _ := raw["authRequest"].(map[string]any)
	candidates := []any{
		raw["scopes"],
		raw["defaultScopes"],
		raw["apiScopes"],
		authRequest["scopes"],
		raw["protectedResourceMap"],
	}

	var scopes []string
	seen := map[string]bool{}
	add := func(s string) {
		if s == "" || seen[s] {
			return
		}
		seen[s] = true
		scopes = append(scopes, s)
	}
	addAll := func(v any) {
		switch vv := v.(type) {
		case string:
			for _, s := range strings.Fields(vv) {
				add(s)
			}
		case []any:
			for _, s := range vv {
				if str, ok := s.(string); ok {
					add(str)
				}
			}
		}
	}

	for _, c := range candidates {
		if m, ok := c.(map[string]any); ok {
			for _, k := range slices.Sorted(maps.Keys(m)) {
				addAll(m[k])
			}
			continue
		}
		addAll(c)
	}
	for _, s := range []string{"openid", "offline_access", DefaultScope} {
		add(s)
	}
	return strings.Join(scopes, " ")
}
