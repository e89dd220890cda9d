package model

import "strings"

// TopLevelPath returns the first segment of a request path, used as the
// path label value. The root and empty paths map to "/".
//
//	/            -> /
//	/posts/42    -> posts
//	/hello?x=1   -> hello
func TopLevelPath(urlPath string) string {
	if i := strings.IndexAny(urlPath, "?#"); i >= 0 {
		urlPath = urlPath[:i]
	}
	p := strings.TrimLeft(urlPath, "/")
	if i := strings.IndexByte(p, '/'); i >= 0 {
		p = p[:i]
	}
	if p == "" {
		return "/"
	}
	return p
}
