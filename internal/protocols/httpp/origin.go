package httpp

import (
	"net"
	"net/url"
	"path"
)

func defaultPort(scheme string) string {
	switch scheme {
	case "http":
		return "80"
	case "https":
		return "443"
	}
	return ""
}

// hostWithPort returns the host of u, with the default port of its scheme
// when no port is given.
func hostWithPort(u *url.URL) string {
	if u.Port() != "" {
		return u.Host
	}
	if p := defaultPort(u.Scheme); p != "" {
		return net.JoinHostPort(u.Hostname(), p)
	}
	return u.Host
}

func matchOrigin(origin *url.URL, allowed string) bool {
	allowedURL, err := url.Parse(allowed)
	if err != nil || allowedURL.Scheme != origin.Scheme {
		return false
	}

	pattern := hostWithPort(allowedURL)
	host := hostWithPort(origin)

	if pattern == host {
		return true
	}

	// "*.example.com" also matches "example.com"
	if ok, _ := path.Match(pattern, host); ok {
		return true
	}
	if len(pattern) > 2 && pattern[:2] == "*." {
		ok, _ := path.Match(pattern[2:], host)
		return ok
	}

	return false
}

// AllowedOrigin returns the value of the Access-Control-Allow-Origin header
// that answers to a request coming from origin.
// allowOrigins contains URLs, eventually with a wildcard in the host, or "*".
func AllowedOrigin(origin string, allowOrigins []string) (string, bool) {
	for _, o := range allowOrigins {
		if o == "*" {
			return o, true
		}
	}

	if origin == "" {
		return "", false
	}

	originURL, err := url.Parse(origin)
	if err != nil || originURL.Scheme == "" {
		return "", false
	}

	for _, o := range allowOrigins {
		if matchOrigin(originURL, o) {
			return origin, true
		}
	}

	return "", false
}
