package statestore

import (
	"net/http"
	"net/url"
)

// Jar adapts a Store to net/http's CookieJar interface so a plain
// http.Client writes Set-Cookie results from every redirect hop straight
// into the canonical store.
type Jar struct {
	Store *Store
}

var _ http.CookieJar = (*Jar)(nil)

// Cookies implements http.CookieJar.
func (j *Jar) Cookies(u *url.URL) []*http.Cookie {
	matched := j.Store.CookiesFor(u)
	out := make([]*http.Cookie, 0, len(matched))
	for _, c := range matched {
		out = append(out, c.HTTPCookie())
	}
	return out
}

// SetCookies implements http.CookieJar.
func (j *Jar) SetCookies(u *url.URL, cookies []*http.Cookie) {
	if len(cookies) == 0 {
		return
	}
	incoming := make([]Cookie, 0, len(cookies))
	for _, hc := range cookies {
		incoming = append(incoming, FromHTTPCookie(hc, u.Hostname()))
	}
	j.Store.MergeCookies(incoming)
}
