package middleware

import (
	"log/slog"
	"net/http"
	"strings"
)

// blockRule answers a client telemetry call locally instead of forwarding it.
type blockRule struct {
	name    string
	match   func(host, path string) bool
	status  int
	body    string
	headers map[string]string
}

type BlockerMiddleware struct {
	rule   blockRule
	logger *slog.Logger
}

var statsigPaths = []string{
	"/v1/initialize",
	"/v1/log_event",
	"/v1/rgstr",
	"/statsig",
	"/telemetry",
	"/analytics",
}

var statsigRule = blockRule{
	name: "statsig",
	match: func(host, path string) bool {
		return strings.Contains(host, "statsig.anthropic.com") || hasAnyPrefix(path, statsigPaths)
	},
	status: http.StatusAccepted,
	body:   `{"success":true}`,
	headers: map[string]string{
		"X-Content-Type-Options":           "nosniff",
		"Access-Control-Allow-Credentials": "true",
		"Access-Control-Allow-Origin":      "*",
	},
}

var metricsPaths = []string{
	"/api/claude_code/metrics",
	"/claude_code/metrics",
}

var metricsRule = blockRule{
	name: "metrics",
	match: func(host, path string) bool {
		return strings.Contains(host, "api.anthropic.com") && hasAnyPrefix(path, metricsPaths)
	},
	status: http.StatusOK,
	body:   `{"accepted_count":0,"rejected_count":0}`,
}

// NewStatsigBlockerMiddleware answers feature-flag and event-logging calls.
func NewStatsigBlockerMiddleware(logger *slog.Logger) Middleware {
	return (&BlockerMiddleware{rule: statsigRule, logger: logger}).middleware
}

// NewMetricsBlockerMiddleware answers client usage-metrics uploads.
func NewMetricsBlockerMiddleware(logger *slog.Logger) Middleware {
	return (&BlockerMiddleware{rule: metricsRule, logger: logger}).middleware
}

func (bm *BlockerMiddleware) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		host := r.Host
		if host == "" {
			host = r.Header.Get("Host")
		}

		if !bm.rule.match(host, r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}

		bm.logger.Debug("Blocked telemetry request", "rule", bm.rule.name, "host", host, "path", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		for k, v := range bm.rule.headers {
			w.Header().Set(k, v)
		}
		w.WriteHeader(bm.rule.status)
		if _, err := w.Write([]byte(bm.rule.body)); err != nil {
			bm.logger.Debug("Failed to write blocked response", "error", err)
		}
	})
}

func hasAnyPrefix(s string, prefixes []string) bool {
	for _, p := range prefixes {
		if strings.HasPrefix(s, p) {
			return true
		}
	}
	return false
}
