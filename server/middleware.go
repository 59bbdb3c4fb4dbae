package server

import (
	"fmt"
	"net/http"
	"net/netip"
	"runtime/debug"
	"strconv"
	"strings"

	"github.com/giygas/todo-api/apperrors"
	"github.com/giygas/todo-api/logging"
	"github.com/giygas/todo-api/metrics"
)

// RealIPMiddleware replaces RemoteAddr with the client address reported by a
// trusted proxy. Forwarding headers from any other peer are ignored, so a
// client cannot choose its own rate limit key.
func RealIPMiddleware(trusted []netip.Prefix) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if client, ok := forwardedClient(r, trusted); ok {
				r.RemoteAddr = client
			}
			next.ServeHTTP(w, r)
		})
	}
}

func isTrusted(addr netip.Addr, trusted []netip.Prefix) bool {
	for _, prefix := range trusted {
		if prefix.Contains(addr) {
			return true
		}
	}
	return false
}

// forwardedClient walks X-Forwarded-For from the right, skipping trusted
// hops, and returns the first untrusted address. X-Real-IP is the fallback.
func forwardedClient(r *http.Request, trusted []netip.Prefix) (string, bool) {
	if len(trusted) == 0 {
		return "", false
	}
	peer, err := netip.ParseAddr(metrics.SanitizeAddr(r.RemoteAddr))
	if err != nil || !isTrusted(peer, trusted) {
		return "", false
	}

	if xff := r.Header.Values("X-Forwarded-For"); len(xff) > 0 {
		hops := strings.Split(strings.Join(xff, ","), ",")
		for i := len(hops) - 1; i >= 0; i-- {
			addr, err := netip.ParseAddr(strings.TrimSpace(hops[i]))
			if err != nil {
				break
			}
			addr = addr.Unmap()
			if !isTrusted(addr, trusted) || i == 0 {
				return addr.String(), true
			}
		}
		return "", false
	}

	if addr, err := netip.ParseAddr(strings.TrimSpace(r.Header.Get("X-Real-IP"))); err == nil {
		return addr.Unmap().String(), true
	}
	return "", false
}

// RequestSizeMiddleware rejects oversized headers and bodies and caps the body
// reader so a lying Content-Length cannot get past the limit
func RequestSizeMiddleware(maxBody, maxHeader int64, eh *ErrorHandler) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if contentLength := r.Header.Get("Content-Length"); contentLength != "" {
				if length, err := strconv.ParseInt(contentLength, 10, 64); err == nil && length > maxBody {
					logging.Warn("Request body too large",
						"content_length", length,
						"max_allowed", maxBody)
					eh.Handle(w, r, apperrors.Validation(
						fmt.Sprintf("Request body too large. Maximum allowed size is %d bytes", maxBody),
					).WithStatus(http.StatusRequestEntityTooLarge))
					return
				}
			}

			headerSize := int64(0)
			for key, values := range r.Header {
				headerSize += int64(len(key))
				for _, value := range values {
					headerSize += int64(len(value))
				}
			}
			if headerSize > maxHeader {
				logging.Warn("Request headers too large",
					"header_size", headerSize,
					"max_allowed", maxHeader)
				eh.Handle(w, r, apperrors.Validation(
					fmt.Sprintf("Request headers too large. Maximum allowed size is %d bytes", maxHeader),
				).WithStatus(http.StatusRequestHeaderFieldsTooLarge))
				return
			}

			if r.Body != nil {
				r.Body = http.MaxBytesReader(w, r.Body, maxBody)
			}
			next.ServeHTTP(w, r)
		})
	}
}

// Recoverer turns a handler panic into a 500 rendered by eh.
// http.ErrAbortHandler is re-raised so net/http can abort the connection.
func Recoverer(eh *ErrorHandler) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				rec := recover()
				if rec == nil {
					return
				}
				if rec == http.ErrAbortHandler {
					panic(rec)
				}

				err := apperrors.Internal(fmt.Sprintf("panic: %v", rec), nil)
				err.Stack = string(debug.Stack())
				eh.Handle(w, r, err)
			}()

			next.ServeHTTP(w, r)
		})
	}
}
