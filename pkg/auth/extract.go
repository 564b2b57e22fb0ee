package auth

import (
	"encoding/json"
	"fmt"
	"regexp"
	"sync"
)

var (
	varPatternsMu sync.Mutex
	varPatterns   = map[string]*regexp.Regexp{}
)

func varPattern(name string) *regexp.Regexp {
	varPatternsMu.Lock()
	defer varPatternsMu.Unlock()
	if re, ok := varPatterns[name]; ok {
		return re
	}
	re := regexp.MustCompile(`(?s)\bvar\s+` + regexp.QuoteMeta(name) + `\s*=\s*(\{.*?\});`)
	varPatterns[name] = re
	return re
}

// ExtractJSONVariable finds `var name = {...};` in a page and decodes the
// object.
func ExtractJSONVariable(name, html string) (map[string]any, error) {
	m := varPattern(name).FindStringSubmatch(html)
	if m == nil {
		return nil, &ProtocolError{Name: name, Reason: "variable not found in page"}
	}
	var out map[string]any
	if err := json.Unmarshal([]byte(m[1]), &out); err != nil {
		return nil, &ProtocolError{Name: name, Reason: "invalid json", Err: err}
	}
	return out, nil
}

// PageState is everything the login page has to give us before credentials
// can be posted.
type PageState struct {
	CSRFToken     string
	TransactionID string
	Policy        string
	TenantPath    string
	CombinedAPI   string
	LoginField    string
	PasswordField string
}

// PageStateExtractor reads PageState out of the B2C login page. The markup is
// undocumented, so everything that depends on it sits behind this interface.
type PageStateExtractor interface {
	Extract(html string) (PageState, error)
}

const defaultCombinedAPI = "CombinedSigninAndSignup"

// ScriptVariableExtractor reads the SETTINGS and SA_FIELDS variables that the
// B2C self-asserted page embeds in a script tag.
type ScriptVariableExtractor struct{}

// Extract implements PageStateExtractor.
func (ScriptVariableExtractor) Extract(html string) (PageState, error) {
	settings, err := ExtractJSONVariable("SETTINGS", html)
	if err != nil {
		return PageState{}, err
	}
	fields, err := ExtractJSONVariable("SA_FIELDS", html)
	if err != nil {
		return PageState{}, err
	}

	hosts, _ := settings["hosts"].(map[string]any)
	ps := PageState{
		CSRFToken:     stringValue(settings["csrf"]),
		TransactionID: stringValue(settings["transId"]),
		Policy:        stringValue(hosts["policy"]),
		TenantPath:    stringValue(hosts["tenant"]),
		CombinedAPI:   stringValue(settings["api"]),
	}
	if ps.CSRFToken == "" || ps.TransactionID == "" || ps.Policy == "" || ps.TenantPath == "" {
		return PageState{}, &AuthError{
			Step:   StepExtractingPageState,
			Reason: "SETTINGS is missing csrf, transId, hosts.policy or hosts.tenant",
		}
	}
	if ps.CombinedAPI == "" {
		ps.CombinedAPI = defaultCombinedAPI
	}

	ps.LoginField, ps.PasswordField, err = attributeFields(fields)
	if err != nil {
		return PageState{}, err
	}
	return ps, nil
}

func attributeFields(fields map[string]any) (string, string, error) {
	attrs, _ := fields["AttributeFields"].([]any)
	if len(attrs) == 0 {
		return "", "", &AuthError{Step: StepExtractingPageState, Reason: "SA_FIELDS.AttributeFields is empty"}
	}
	first, _ := attrs[0].(map[string]any)
	login := stringValue(first["ID"])

	var password string
	for _, a := range attrs {
		f, _ := a.(map[string]any)
		if truthy(f["IS_PASSWORD"]) {
			password = stringValue(f["ID"])
			break
		}
	}
	if login == "" || password == "" {
		return "", "", &AuthError{Step: StepExtractingPageState, Reason: "unable to detect login/password field identifiers"}
	}
	return login, password, nil
}

func stringValue(v any) string {
	switch s := v.(type) {
	case string:
		return s
	case nil:
		return ""
	default:
		return fmt.Sprint(s)
	}
}

func truthy(v any) bool {
	switch b := v.(type) {
	case bool:
		return b
	case float64:
		return b != 0
	case string:
		return b != "" && b != "false" && b != "0"
	default:
		return false
	}
}
