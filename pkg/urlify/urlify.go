// Package urlify resolves endpoint paths against a service base URL.
package urlify

import (
	"fmt"
	"net/url"

	"github.com/downfa11-org/go-itest/pkg/common"
)

// Urlifier is anything that knows its service's base URL.
type Urlifier interface {
	BaseURL() *url.URL
}

// Base is a Urlifier over a fixed URL.
type Base struct {
	URL *url.URL
}

func (b Base) BaseURL() *url.URL { return b.URL }

// Parse builds a Base from a raw absolute URL.
func Parse(raw string) (Base, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return Base{}, fmt.Errorf("%w: %v", common.ErrURLResolution, err)
	}
	if !u.IsAbs() {
		return Base{}, fmt.Errorf("%w: base url %q has no scheme", common.ErrURLResolution, raw)
	}
	return Base{URL: u}, nil
}

// Urlify resolves path against the base URL using RFC 3986 reference
// resolution: "v1/x" against "http://h/api/" gives "http://h/api/v1/x",
// "/v1/x" replaces the base path.
func Urlify(u Urlifier, path string) (*url.URL, error) {
	base := u.BaseURL()
	if base == nil {
		return nil, fmt.Errorf("%w: no base url", common.ErrURLResolution)
	}
	if !base.IsAbs() {
		return nil, fmt.Errorf("%w: base url %q has no scheme", common.ErrURLResolution, base)
	}
	ref, err := url.Parse(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %v", common.ErrURLResolution, path, err)
	}
	return base.ResolveReference(ref), nil
}

// MustUrlify panics when path cannot be resolved; a bad path is a test defect.
func MustUrlify(u Urlifier, path string) *url.URL {
	r, err := Urlify(u, path)
	if err != nil {
		panic(err)
	}
	return r
}
