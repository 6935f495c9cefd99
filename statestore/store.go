// Package statestore owns the canonical, origin-scoped session state:
// an ordered cookie jar plus a per-origin localStorage map. It is pure
// data with merge and snapshot operations; the HTTP transport and the
// browser sync adapter both read and write through it, so it is the
// single source of truth for what the session "knows".
//
// Merge policy: last writer wins. When the transport and the browser
// engine have independently mutated the same cookie or storage key
// between two sync points, whichever side merges later overwrites the
// other. Replacement identity for cookies is (name, domain, path).
package statestore

import (
	"net/url"
	"strings"
	"sync"
	"time"
)

// Store is the canonical session state. Safe for use from the transport
// and the sync adapter of a single session; independent sessions each own
// their own Store.
type Store struct {
	mu      sync.Mutex
	cookies []Cookie
	local   map[string]map[string]string // origin -> key -> value
}

// New creates an empty Store.
func New() *Store {
	return &Store{local: make(map[string]map[string]string)}
}

// MergeCookies merges incoming cookies into the jar. A cookie replaces any
// existing cookie with the same (name, domain, path) identity, keeping the
// original jar position; new identities append in input order. Cookies not
// mentioned in incoming are left untouched.
func (s *Store) MergeCookies(incoming []Cookie) {
	if len(incoming) == 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, in := range incoming {
		replaced := false
		for i, old := range s.cookies {
			if old.Identity() == in.Identity() {
				s.cookies[i] = in
				replaced = true
				break
			}
		}
		if !replaced {
			s.cookies = append(s.cookies, in)
		}
	}
}

// MergeLocalStorage merges key/value pairs for one origin. Keys present in
// incoming overwrite; keys not mentioned are preserved. Unknown origins are
// created. Keys are never merged across origins.
func (s *Store) MergeLocalStorage(origin string, incoming map[string]string) {
	if origin == "" || len(incoming) == 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	kv, ok := s.local[origin]
	if !ok {
		kv = make(map[string]string, len(incoming))
		s.local[origin] = kv
	}
	for k, v := range incoming {
		kv[k] = v
	}
}

// Snapshot returns an immutable deep copy of the current state. The copy
// shares no mutable memory with the Store, so a caller may hand it to the
// browser engine while the session keeps mutating.
func (s *Store) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := Snapshot{
		Cookies:      make([]Cookie, len(s.cookies)),
		LocalStorage: make(map[string]map[string]string, len(s.local)),
	}
	copy(snap.Cookies, s.cookies)
	for origin, kv := range s.local {
		dup := make(map[string]string, len(kv))
		for k, v := range kv {
			dup[k] = v
		}
		snap.LocalStorage[origin] = dup
	}
	return snap
}

// Restore replaces the entire Store contents with the snapshot. Used when
// loading a persisted session.
func (s *Store) Restore(snap Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.cookies = make([]Cookie, len(snap.Cookies))
	copy(s.cookies, snap.Cookies)
	s.local = make(map[string]map[string]string, len(snap.LocalStorage))
	for origin, kv := range snap.LocalStorage {
		dup := make(map[string]string, len(kv))
		for k, v := range kv {
			dup[k] = v
		}
		s.local[origin] = dup
	}
}

// CookiesFor returns the cookies that apply to a request URL, in jar
// order. Expired cookies are skipped.
func (s *Store) CookiesFor(u *url.URL) []Cookie {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	var out []Cookie
	for _, c := range s.cookies {
		if c.Expired(now) {
			continue
		}
		if c.MatchesURL(u) {
			out = append(out, c)
		}
	}
	return out
}

// CookieHeader composes the Cookie request header value for u. Empty when
// no cookie applies.
func (s *Store) CookieHeader(u *url.URL) string {
	matched := s.CookiesFor(u)
	if len(matched) == 0 {
		return ""
	}
	pairs := make([]string, 0, len(matched))
	for _, c := range matched {
		pairs = append(pairs, c.Name+"="+c.Value)
	}
	return strings.Join(pairs, "; ")
}

// Snapshot is the stable wire form of a Store, suitable for persisting a
// session across process restarts.
type Snapshot struct {
	Cookies      []Cookie                     `json:"cookies"`
	LocalStorage map[string]map[string]string `json:"localStorage"`
}
