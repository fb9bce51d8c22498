package httpclient

import (
	"net/http"
)

// AuthType enumerates the supported auth injection strategies (spec.md §4.3).
type AuthType string

const (
	AuthBearer AuthType = "bearer"
	AuthAPIKey AuthType = "api_key"
	AuthBasic  AuthType = "basic"
	AuthOAuth2 AuthType = "oauth2"
)

// Auth declares how to inject credentials into an outbound request. Token
// is resolved by the caller (typically via the auth store, C6) before
// this struct is built — the HTTP primitive itself never talks to a
// keychain.
type Auth struct {
	Type     AuthType
	Token    string // bearer, api_key, oauth2
	Header   string // api_key header name, default "X-API-Key"
	Username string // basic
	Password string // basic
}

// Inject sets the appropriate header(s) on req.
func Inject(req *http.Request, auth *Auth) {
	if auth == nil {
		return
	}
	switch auth.Type {
	case AuthBearer, AuthOAuth2:
		if auth.Token != "" {
			req.Header.Set("Authorization", "Bearer "+auth.Token)
		}
	case AuthAPIKey:
		header := auth.Header
		if header == "" {
			header = "X-API-Key"
		}
		req.Header.Set(header, auth.Token)
	case AuthBasic:
		req.SetBasicAuth(auth.Username, auth.Password)
	}
}
