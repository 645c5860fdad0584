package urlutil

import (
	"net/url"
	"path"
	"strings"
)

// JoinPath appends path segments to base, keeping base's own path and a
// trailing slash on the last segment.
func JoinPath(base string, paths ...string) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", err
	}
	u.Path = path.Join(append([]string{u.Path}, paths...)...)
	if len(paths) > 0 && strings.HasSuffix(paths[len(paths)-1], "/") {
		u.Path += "/"
	}
	return u.String(), nil
}

// MustJoinPath is JoinPath for known-good base URLs.
func MustJoinPath(base string, paths ...string) string {
	result, err := JoinPath(base, paths...)
	if err != nil {
		panic(err)
	}
	return result
}

// Resolve joins p onto base and attaches query. Empty query values are
// dropped so optional filters can be passed unconditionally.
func Resolve(base, p string, query url.Values) (string, error) {
	joined, err := JoinPath(base, p)
	if err != nil {
		return "", err
	}
	if len(query) == 0 {
		return joined, nil
	}
	clean := url.Values{}
	for k, vs := range query {
		for _, v := range vs {
			if v != "" {
				clean.Add(k, v)
			}
		}
	}
	if len(clean) == 0 {
		return joined, nil
	}
	return joined + "?" + clean.Encode(), nil
}

// IsLocalPath reports whether p is an absolute path on the current origin:
// it starts with a single "/", carries no scheme or host, and cannot be
// reinterpreted by a browser as protocol-relative.
func IsLocalPath(p string) bool {
	if !strings.HasPrefix(p, "/") || strings.HasPrefix(p, "//") || strings.HasPrefix(p, `/\`) {
		return false
	}
	u, err := url.Parse(p)
	if err != nil {
		return false
	}
	return u.Scheme == "" && u.Host == ""
}
