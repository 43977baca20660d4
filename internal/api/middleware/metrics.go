// metrics.go — Prometheus HTTP метрики для Access Module.
// Регистрирует метрики: ac_http_requests_total, ac_http_request_duration_seconds.
package middleware

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// HTTP метрики
var (
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ac_http_requests_total",
			Help: "Общее количество HTTP-запросов к Access Module",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ac_http_request_duration_seconds",
			Help:    "Длительность HTTP-запросов к Access Module в секундах",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)
)

// MetricsMiddleware возвращает HTTP middleware для сбора Prometheus метрик.
func MetricsMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			normalizedPath := normalizePath(r.URL.Path)

			wrapped := newMetricsResponseWriter(w)
			next.ServeHTTP(wrapped, r)

			status := strconv.Itoa(wrapped.statusCode)
			httpRequestsTotal.WithLabelValues(r.Method, normalizedPath, status).Inc()
			httpRequestDuration.WithLabelValues(r.Method, normalizedPath).Observe(time.Since(start).Seconds())
		})
	}
}

// metricsResponseWriter — обёртка для перехвата статус-кода.
type metricsResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func newMetricsResponseWriter(w http.ResponseWriter) *metricsResponseWriter {
	return &metricsResponseWriter{ResponseWriter: w, statusCode: http.StatusOK}
}

func (rw *metricsResponseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Unwrap позволяет http.ResponseController получить доступ к оригинальному ResponseWriter.
func (rw *metricsResponseWriter) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}

// userActions — действия над назначением, допустимые в последнем сегменте пути.
var userActions = map[string]bool{
	"grant": true, "revoke": true, "deny": true, "allow": true,
}

// normalizePath заменяет идентификаторы в пути на шаблоны
// для ограничения кардинальности метрик.
// /api/v1/roles/user/u-1/permissions → /api/v1/roles/user/{userId}/permissions
func normalizePath(path string) string {
	const rolesPrefix = "/api/v1/roles/"

	if !strings.HasPrefix(path, rolesPrefix) {
		return path
	}

	segs := strings.Split(strings.TrimPrefix(path, rolesPrefix), "/")
	if segs[0] != "user" {
		if len(segs) == 1 && segs[0] != "" {
			return rolesPrefix + "{roleId}"
		}
		return path
	}

	base := rolesPrefix + "user/{userId}"
	switch {
	case len(segs) == 2:
		return base
	case len(segs) == 3 && segs[2] == "permissions":
		return base + "/permissions"
	case len(segs) == 4 && segs[2] == "permissions":
		return base + "/permissions/{permission}"
	case len(segs) == 3:
		return base + "/{roleId}"
	case len(segs) == 4 && userActions[segs[3]]:
		return base + "/{roleId}/" + segs[3]
	}
	return rolesPrefix + "user/{other}"
}
