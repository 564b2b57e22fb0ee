package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/levenlabs/go-lflag"
	"golang.org/x/time/rate"

	"github.com/fluviusenergy/fluviusenergy/pkg/common"
	"github.com/fluviusenergy/fluviusenergy/pkg/log"
)

// MaxRedirectHops is how many 3xx responses, starting with the confirm step,
// we follow while waiting for the authorization code.
const MaxRedirectHops = 6

const requestTimeout = 30 * time.Second

// Credentials identify a portal account.
type Credentials struct {
	Username   string
	Password   string
	RememberMe bool
}

// Session is the state built up during one login attempt. It is never
// persisted.
type Session struct {
	State         string
	Nonce         string
	CSRFToken     string
	TransactionID string
	Policy        string
	TenantBase    string
	LoginField    string
	PasswordField string
	CombinedAPI   string
	// PageURL is the final URL of the login page, after redirects.
	PageURL string
}

// TokenResponse is the decoded token endpoint response.
type TokenResponse struct {
	AccessToken string
	IDToken     string
	Raw         map[string]any
}

// Authenticator logs into the portal's B2C tenant with the authorization code
// flow and PKCE, the way the portal's single page app does.
type Authenticator struct {
	metadataURL string
	timeout     time.Duration
	limiter     *rate.Limiter
	extractor   PageStateExtractor
	// verifier is nil unless id token verification is enabled
	verifier IDTokenVerifier
}

// New returns an Authenticator with the production defaults.
func New() *Authenticator {
	return &Authenticator{
		metadataURL: DefaultMetadataURL,
		timeout:     requestTimeout,
		extractor:   ScriptVariableExtractor{},
	}
}

// Configured registers the authenticator flags and returns the instance.
func Configured() *Authenticator {
	a := New()
	metadataURL := lflag.String("fluvius-msal-config-url", DefaultMetadataURL, "URL of the portal's MSAL configuration")
	verify := lflag.Bool("verify-id-token", false, "Verify the id_token signature and nonce after login")

	lflag.Do(func() {
		a.metadataURL = *metadataURL
		if *verify {
			a.verifier = &OIDCVerifier{}
		}
	})
	return a
}

// Validate ensures the configuration is valid.
func (a *Authenticator) Validate() error {
	if a.metadataURL == "" {
		return errors.New("fluvius-msal-config-url is required")
	}
	if _, err := url.Parse(a.metadataURL); err != nil {
		return fmt.Errorf("failed to parse msal config url (%s): %w", a.metadataURL, err)
	}
	return nil
}

// SetLimiter throttles every request made by future login attempts.
func (a *Authenticator) SetLimiter(l *rate.Limiter) {
	a.limiter = l
}

// SetExtractor replaces the login page reader.
func (a *Authenticator) SetExtractor(e PageStateExtractor) {
	a.extractor = e
}

// SetVerifier enables id token verification. Passing nil disables it.
func (a *Authenticator) SetVerifier(v IDTokenVerifier) {
	a.verifier = v
}

// GetBearerToken logs in and returns the access token along with the full
// token response.
func (a *Authenticator) GetBearerToken(ctx context.Context, creds Credentials) (string, TokenResponse, error) {
	tok, err := a.Authenticate(ctx, creds)
	if err != nil {
		return "", tok, err
	}
	if tok.AccessToken == "" {
		return "", tok, &AuthError{Step: StepExchangingToken, Reason: "token response does not contain an access_token"}
	}
	return tok.AccessToken, tok, nil
}

// Authenticate runs the whole login from the metadata fetch to the token
// exchange. Every call uses a new cookie jar and nothing is cached between
// calls.
func (a *Authenticator) Authenticate(ctx context.Context, creds Credentials) (TokenResponse, error) {
	att := &attempt{
		auth:   a,
		client: common.SessionClient(a.timeout, a.limiter),
	}
	ctx = log.With(ctx, log.Ctx(ctx).With(slog.String("user", log.MaskEmail(creds.Username))))

	md, err := att.fetchMetadata(ctx)
	if err != nil {
		return TokenResponse{}, err
	}

	att.enter(ctx, StepBuildingAuthorizeURL)
	pkce, err := GeneratePKCE()
	if err != nil {
		return TokenResponse{}, att.fail("failed to generate pkce pair", nil, err)
	}
	if att.session.State, err = randomURLSafe(32); err != nil {
		return TokenResponse{}, att.fail("failed to generate state", nil, err)
	}
	if att.session.Nonce, err = randomURLSafe(32); err != nil {
		return TokenResponse{}, att.fail("failed to generate nonce", nil, err)
	}
	authorizeURL := buildAuthorizeURL(md, pkce.Challenge, att.session.State, att.session.Nonce, creds.Username)

	html, err := att.fetchLoginPage(ctx, authorizeURL)
	if err != nil {
		return TokenResponse{}, err
	}

	if err := att.extractPageState(ctx, html); err != nil {
		return TokenResponse{}, err
	}
	if err := att.submitCredentials(ctx, creds); err != nil {
		return TokenResponse{}, err
	}

	code, err := att.followRedirects(ctx, confirmURL(att.session, creds.RememberMe))
	if err != nil {
		return TokenResponse{}, err
	}

	tok, err := att.exchangeCode(ctx, md, pkce.Verifier, code)
	if err != nil {
		return TokenResponse{}, err
	}
	att.enter(ctx, StepDone)
	return tok, nil
}

// attempt carries one login through the state machine. The client holds the
// cookie jar for the attempt and is dropped with it.
type attempt struct {
	auth    *Authenticator
	client  *http.Client
	session Session
	step    Step
}

func (a *attempt) enter(ctx context.Context, step Step) {
	a.step = step
	log.Verbose(ctx, "fluvius login step", slog.String("step", string(step)))
}

func (a *attempt) fail(reason string, body []byte, err error) error {
	return &AuthError{
		Step:   a.step,
		Reason: reason,
		Body:   truncateBody(body),
		Err:    err,
	}
}

func buildAuthorizeURL(md tenantMetadata, challenge, state, nonce, loginHint string) string {
	params := url.Values{
		"client_id":             {md.ClientID},
		"redirect_uri":          {md.RedirectURI},
		"response_type":         {"code"},
		"response_mode":         {"query"},
		"scope":                 {md.Scopes},
		"code_challenge":        {challenge},
		"code_challenge_method": {"S256"},
		"state":                 {state},
		"nonce":                 {nonce},
		"prompt":                {"login"},
		"client_info":           {"1"},
	}
	if loginHint != "" {
		params.Set("login_hint", loginHint)
	}
	return md.Authority + "/oauth2/v2.0/authorize?" + params.Encode()
}

func (a *attempt) fetchLoginPage(ctx context.Context, authorizeURL string) (string, error) {
	a.enter(ctx, StepFetchingLoginPage)

	req, err := http.NewRequestWithContext(ctx, "GET", authorizeURL, nil)
	if err != nil {
		return "", a.fail("failed to create authorize request", nil, err)
	}
	resp, err := a.client.Do(req)
	if err != nil {
		return "", a.fail("failed to fetch login page", nil, err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", a.fail("failed to read login page", nil, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", a.fail(fmt.Sprintf("login page returned status %d", resp.StatusCode), body, nil)
	}
	a.session.PageURL = resp.Request.URL.String()
	return string(body), nil
}

func (a *attempt) extractPageState(ctx context.Context, html string) error {
	a.enter(ctx, StepExtractingPageState)

	ps, err := a.auth.extractor.Extract(html)
	if err != nil {
		var authErr *AuthError
		if errors.As(err, &authErr) {
			return err
		}
		return a.fail("unable to read login page state", nil, err)
	}
	tenantBase, err := buildTenantBase(a.session.PageURL, ps.TenantPath)
	if err != nil {
		return a.fail("invalid tenant path", nil, err)
	}

	a.session.CSRFToken = ps.CSRFToken
	a.session.TransactionID = ps.TransactionID
	a.session.Policy = ps.Policy
	a.session.TenantBase = tenantBase
	a.session.LoginField = ps.LoginField
	a.session.PasswordField = ps.PasswordField
	a.session.CombinedAPI = ps.CombinedAPI
	if a.session.CombinedAPI == "" {
		a.session.CombinedAPI = defaultCombinedAPI
	}
	return nil
}

// buildTenantBase resolves the tenant path from SETTINGS. Absolute URLs are
// used as is, anything else is relative to the login page's origin.
func buildTenantBase(pageURL, tenantPath string) (string, error) {
	if strings.HasPrefix(tenantPath, "http") {
		return strings.TrimRight(tenantPath, "/"), nil
	}
	origin, err := originOf(pageURL)
	if err != nil {
		return "", err
	}
	return strings.TrimRight(origin+"/"+strings.TrimLeft(tenantPath, "/"), "/"), nil
}

func originOf(raw string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("failed to parse url (%s): %w", raw, err)
	}
	if u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("url has no origin: %s", raw)
	}
	return u.Scheme + "://" + u.Host, nil
}

func (a *attempt) submitCredentials(ctx context.Context, creds Credentials) error {
	a.enter(ctx, StepSubmittingCredentials)

	origin, err := originOf(a.session.TenantBase)
	if err != nil {
		return a.fail("invalid tenant base", nil, err)
	}
	form := url.Values{"request_type": {"RESPONSE"}}
	form.Set(a.session.LoginField, creds.Username)
	form.Set(a.session.PasswordField, creds.Password)
	params := url.Values{"tx": {a.session.TransactionID}, "p": {a.session.Policy}}

	req, err := http.NewRequestWithContext(ctx, "POST", a.session.TenantBase+"/SelfAsserted?"+params.Encode(), strings.NewReader(form.Encode()))
	if err != nil {
		return a.fail("failed to create credential request", nil, err)
	}
	req.Header.Set("X-CSRF-TOKEN", a.session.CSRFToken)
	req.Header.Set("X-Requested-With", "XMLHttpRequest")
	req.Header.Set("Accept", "application/json, text/javascript, */*; q=0.01")
	req.Header.Set("Origin", origin)
	req.Header.Set("Referer", a.session.TenantBase)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded; charset=UTF-8")

	resp, err := a.client.Do(req)
	if err != nil {
		return a.fail("failed to submit credentials", nil, err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return a.fail("failed to read credential response", nil, err)
	}
	if resp.StatusCode >= 400 {
		return a.fail(fmt.Sprintf("credential submission returned status %d", resp.StatusCode), body, nil)
	}

	var data map[string]any
	if err := json.Unmarshal(body, &data); err != nil {
		return a.fail("credential submission returned non-json", body, err)
	}
	status := stringValue(data["status"])
	if status != "200" && status != "success" {
		reason := "credential submission was rejected"
		if msg := stringValue(data["message"]); msg != "" {
			reason += ": " + msg
		}
		return a.fail(reason, body, nil)
	}
	return nil
}

func confirmURL(s Session, rememberMe bool) string {
	q := url.Values{
		"rememberMe": {strconv.FormatBool(rememberMe)},
		"csrf_token": {s.CSRFToken},
		"tx":         {s.TransactionID},
		"p":          {s.Policy},
	}
	return s.TenantBase + "/api/" + strings.Trim(s.CombinedAPI, "/") + "/confirmed?" + q.Encode()
}

func isRedirect(code int) bool {
	switch code {
	case http.StatusMovedPermanently, http.StatusFound, http.StatusSeeOther,
		http.StatusTemporaryRedirect, http.StatusPermanentRedirect:
		return true
	}
	return false
}

// followRedirects starts at the confirm URL and walks the Location headers
// until one of them carries the authorization code.
func (a *attempt) followRedirects(ctx context.Context, startURL string) (string, error) {
	a.enter(ctx, StepConfirmingSignIn)

	origin, err := originOf(a.session.PageURL)
	if err != nil {
		return "", a.fail("invalid login page url", nil, err)
	}
	base, _ := url.Parse(origin + "/")
	client := common.NoRedirects(a.client)

	next := startURL
	for hop := 0; hop < MaxRedirectHops; hop++ {
		if hop == 1 {
			a.enter(ctx, StepFollowingRedirects)
		}
		location, err := a.redirectLocation(ctx, client, next)
		if err != nil {
			return "", err
		}
		loc, err := url.Parse(location)
		if err != nil {
			return "", a.fail("redirect location is not a url", nil, err)
		}
		target := base.ResolveReference(loc)
		q := target.Query()
		log.Verbose(ctx, "fluvius login redirect", slog.Int("hop", hop), slog.String("host", target.Host), slog.String("path", target.Path))

		if q.Has("code") {
			if state := q.Get("state"); state != "" && state != a.session.State {
				return "", a.fail("state returned by identity provider does not match request state", nil, nil)
			}
			return q.Get("code"), nil
		}
		if q.Has("error") {
			return "", a.fail("identity provider returned "+q.Get("error")+": "+q.Get("error_description"), nil, nil)
		}
		next = target.String()
	}
	return "", a.fail(fmt.Sprintf("no authorization code after %d redirects", MaxRedirectHops), nil, nil)
}

func (a *attempt) redirectLocation(ctx context.Context, client *http.Client, target string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", target, nil)
	if err != nil {
		return "", a.fail("failed to create redirect request", nil, err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return "", a.fail("failed to follow redirect", nil, err)
	}
	defer resp.Body.Close()
	if !isRedirect(resp.StatusCode) {
		body, _ := io.ReadAll(resp.Body)
		return "", a.fail(fmt.Sprintf("expected a redirect but got status %d", resp.StatusCode), body, nil)
	}
	// drain so the connection can be reused
	_, _ = io.Copy(io.Discard, resp.Body)
	location := resp.Header.Get("Location")
	if location == "" {
		return "", a.fail("redirect response missing Location header", nil, nil)
	}
	return location, nil
}

func (a *attempt) exchangeCode(ctx context.Context, md tenantMetadata, verifier, code string) (TokenResponse, error) {
	a.enter(ctx, StepExchangingToken)

	form := url.Values{
		"grant_type":    {"authorization_code"},
		"client_id":     {md.ClientID},
		"scope":         {md.Scopes},
		"code":          {code},
		"redirect_uri":  {md.RedirectURI},
		"code_verifier": {verifier},
	}
	req, err := http.NewRequestWithContext(ctx, "POST", md.Authority+"/oauth2/v2.0/token", strings.NewReader(form.Encode()))
	if err != nil {
		return TokenResponse{}, a.fail("failed to create token request", nil, err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return TokenResponse{}, a.fail("failed to call token endpoint", nil, err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return TokenResponse{}, a.fail("failed to read token response", nil, err)
	}
	if resp.StatusCode != http.StatusOK {
		return TokenResponse{}, a.fail(fmt.Sprintf("token endpoint returned status %d", resp.StatusCode), body, nil)
	}

	var raw map[string]any
	if err := json.Unmarshal(body, &raw); err != nil {
		return TokenResponse{}, a.fail("token endpoint returned non-json", body, err)
	}
	tok := TokenResponse{
		AccessToken: stringValue(raw["access_token"]),
		IDToken:     stringValue(raw["id_token"]),
		Raw:         raw,
	}

	if a.auth.verifier != nil {
		if tok.IDToken == "" {
			return TokenResponse{}, a.fail("token response does not contain an id_token", nil, nil)
		}
		if err := a.auth.verifier.VerifyIDToken(ctx, a.client, md.Authority, md.ClientID, tok.IDToken, a.session.Nonce); err != nil {
			return TokenResponse{}, a.fail("id token rejected", nil, err)
		}
	}
	return tok, nil
}
