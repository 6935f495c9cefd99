package statestore

import (
	"net/http"
	"net/url"
	"strings"
	"time"
)

// SameSite mirrors the Set-Cookie SameSite attribute.
type SameSite string

const (
	SameSiteLax    SameSite = "Lax"
	SameSiteStrict SameSite = "Strict"
	SameSiteNone   SameSite = "None"
)

// Cookie is the canonical cookie representation shared by the HTTP
// transport and the browser engine. Scope attributes are preserved
// verbatim from whichever side last wrote the cookie.
type Cookie struct {
	Name     string   `json:"name"`
	Value    string   `json:"value"`
	Domain   string   `json:"domain"`
	Path     string   `json:"path"`
	Expires  int64    `json:"expiry,omitempty"` // unix seconds, 0 = session cookie
	Secure   bool     `json:"secure"`
	SameSite SameSite `json:"sameSite"`
	HTTPOnly bool     `json:"httpOnly"`
}

// Identity is the replacement key for a cookie: two cookies with the
// same identity are the same cookie as far as merging is concerned.
type Identity struct {
	Name   string
	Domain string
	Path   string
}

// Identity returns the (name, domain, path) replacement key.
func (c Cookie) Identity() Identity {
	return Identity{Name: c.Name, Domain: c.Domain, Path: c.Path}
}

// Expired reports whether the cookie has an expiry in the past.
// Session cookies (Expires == 0) never expire here.
func (c Cookie) Expired(now time.Time) bool {
	return c.Expires > 0 && c.Expires < now.Unix()
}

// MatchesURL reports whether the cookie should be sent for a request to u,
// per RFC 6265 §5.1.3 domain matching plus path and secure checks. Port is
// ignored for domain matching.
func (c Cookie) MatchesURL(u *url.URL) bool {
	if !domainMatch(u.Hostname(), c.Domain) {
		return false
	}
	if !pathMatch(u.EscapedPath(), c.Path) {
		return false
	}
	if c.Secure && u.Scheme != "https" {
		return false
	}
	return true
}

func domainMatch(host, cookieDomain string) bool {
	if cookieDomain == "" {
		return true
	}
	host = strings.ToLower(host)
	cd := strings.ToLower(strings.TrimPrefix(cookieDomain, "."))
	return host == cd || strings.HasSuffix(host, "."+cd)
}

func pathMatch(reqPath, cookiePath string) bool {
	if cookiePath == "" || cookiePath == "/" {
		return true
	}
	if reqPath == "" {
		reqPath = "/"
	}
	if !strings.HasSuffix(reqPath, "/") {
		reqPath += "/"
	}
	cp := cookiePath
	if !strings.HasSuffix(cp, "/") {
		cp += "/"
	}
	return strings.HasPrefix(reqPath, cp)
}

// FromSetCookie parses Set-Cookie header values into canonical cookies.
// Cookies without an explicit Domain attribute are scoped to defaultDomain
// (the request host).
func FromSetCookie(raw []string, defaultDomain string) []Cookie {
	if len(raw) == 0 {
		return nil
	}
	h := http.Header{}
	for _, v := range raw {
		h.Add("Set-Cookie", v)
	}
	parsed := (&http.Response{Header: h}).Cookies()

	out := make([]Cookie, 0, len(parsed))
	for _, sc := range parsed {
		out = append(out, FromHTTPCookie(sc, defaultDomain))
	}
	return out
}

// FromHTTPCookie converts one net/http cookie to canonical form. Missing
// Domain and Path default to defaultDomain and "/". An explicit Expires
// wins over Max-Age; a negative Max-Age (Set-Cookie "Max-Age=0") expires
// the cookie immediately.
func FromHTTPCookie(hc *http.Cookie, defaultDomain string) Cookie {
	c := Cookie{
		Name:     hc.Name,
		Value:    hc.Value,
		Domain:   strings.ToLower(hc.Domain),
		Path:     hc.Path,
		Secure:   hc.Secure,
		HTTPOnly: hc.HttpOnly,
		SameSite: SameSiteLax,
	}
	if c.Domain == "" {
		c.Domain = strings.ToLower(defaultDomain)
	}
	if c.Path == "" {
		c.Path = "/"
	}
	switch {
	case !hc.Expires.IsZero():
		c.Expires = hc.Expires.Unix()
	case hc.MaxAge > 0:
		c.Expires = time.Now().Unix() + int64(hc.MaxAge)
	case hc.MaxAge < 0:
		c.Expires = time.Now().Unix() - 1
	}
	switch hc.SameSite {
	case http.SameSiteStrictMode:
		c.SameSite = SameSiteStrict
	case http.SameSiteNoneMode:
		c.SameSite = SameSiteNone
	}
	return c
}

// HTTPCookie converts a canonical cookie to net/http form, used by the
// transport when handing cookies to an http.CookieJar consumer.
func (c Cookie) HTTPCookie() *http.Cookie {
	hc := &http.Cookie{
		Name:     c.Name,
		Value:    c.Value,
		Domain:   c.Domain,
		Path:     c.Path,
		Secure:   c.Secure,
		HttpOnly: c.HTTPOnly,
	}
	if c.Expires > 0 {
		hc.Expires = time.Unix(c.Expires, 0)
	}
	switch c.SameSite {
	case SameSiteStrict:
		hc.SameSite = http.SameSiteStrictMode
	case SameSiteNone:
		hc.SameSite = http.SameSiteNoneMode
	default:
		hc.SameSite = http.SameSiteLaxMode
	}
	return hc
}
