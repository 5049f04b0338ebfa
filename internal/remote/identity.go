package remote

import "net/http"

// Identity cookies, in priority order. Anonymous sessions only carry the second.
const (
	userIDCookie     = "x-userid"
	anonUserIDCookie = "x-anonuserid"
)

// IdentityFromCookies extracts the user identity from a Cookie header.
// It returns "" when neither identity cookie is present.
func IdentityFromCookies(header string) string {
	if header == "" {
		return ""
	}
	req := http.Request{Header: http.Header{"Cookie": {header}}}
	for _, name := range []string{userIDCookie, anonUserIDCookie} {
		if c, err := req.Cookie(name); err == nil && c.Value != "" {
			return c.Value
		}
	}
	return ""
}
