package guard

import (
	"net"
	"net/http"
	"strings"
)

// AddressKey identifies the caller by address: the first entry of X-Forwarded-For when
// present, otherwise the host part of the socket address.
func AddressKey(r *http.Request) (string, error) {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		if first = strings.TrimSpace(first); first != "" {
			return first, nil
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr, nil
	}
	return host, nil
}

// HeaderKey identifies the caller by the value of a request header, e.g. the user id
// set by an upstream authentication proxy.
func HeaderKey(name string) KeyFunc {
	return func(r *http.Request) (string, error) {
		return strings.TrimSpace(r.Header.Get(name)), nil
	}
}
