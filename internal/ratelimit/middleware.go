package ratelimit

import (
	"encoding/json"
	"log/slog"
	"math"
	"net"
	"net/http"
	"strconv"
)

type errorBody struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// Middleware rejects requests over their rule's limit with 429 and a
// RATE_LIMITED error body. A nil limiter disables limiting. The client IP is
// taken from RemoteAddr, so mount chi's RealIP before it when running behind
// a proxy.
func Middleware(l *Limiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if l == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := clientIP(r)
			res, ok := l.Allow(ip, r.Method, r.URL.Path)
			if res.Limit > 0 {
				w.Header().Set("X-RateLimit-Limit", strconv.Itoa(res.Limit))
				w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(res.Remaining))
				w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(res.ResetAt.Unix(), 10))
			}
			if ok {
				next.ServeHTTP(w, r)
				return
			}

			slog.Warn("rate limit exceeded", "ip", ip, "method", r.Method, "path", r.URL.Path)

			retry := int(math.Ceil(res.RetryIn.Seconds()))
			if retry < 1 {
				retry = 1
			}
			var body errorBody
			body.Error.Code = "RATE_LIMITED"
			body.Error.Message = "Too many requests, retry in " + strconv.Itoa(retry) + "s"

			w.Header().Set("Retry-After", strconv.Itoa(retry))
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusTooManyRequests)
			_ = json.NewEncoder(w).Encode(body)
		})
	}
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
