package metrics

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gorm.io/gorm"
)

// Metrics holds the collectors recorded by the authenticator and permission
// checks. A nil *Metrics records nothing.
type Metrics struct {
	Registry *prometheus.Registry

	authentications  *prometheus.CounterVec
	permissionChecks *prometheus.CounterVec
}

// New creates a registry with the tokengate collectors. When db is not nil
// the connection pool statistics are exported too.
func New(db *gorm.DB) *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),
		authentications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tokengate",
			Name:      "authentications_total",
			Help:      "Token authentication attempts by outcome.",
		}, []string{"outcome"}),
		permissionChecks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tokengate",
			Name:      "permission_checks_total",
			Help:      "Permission checks by backend and result.",
		}, []string{"backend", "result"}),
	}

	m.Registry.MustRegister(m.authentications, m.permissionChecks)
	m.Registry.MustRegister(collectors.NewGoCollector())

	if db != nil {
		if rawDB, err := db.DB(); err == nil {
			m.Registry.MustRegister(collectors.NewDBStatsCollector(rawDB, db.Dialector.Name()))
		}
	}

	return m
}

// Authentication records one authentication outcome.
func (m *Metrics) Authentication(outcome string) {
	if m == nil {
		return
	}
	m.authentications.WithLabelValues(outcome).Inc()
}

// PermissionCheck records one permission check result.
func (m *Metrics) PermissionCheck(backend string, allowed bool) {
	if m == nil {
		return
	}
	result := "denied"
	if allowed {
		result = "allowed"
	}
	m.permissionChecks.WithLabelValues(backend, result).Inc()
}

// Handler serves the registry in the prometheus text format.
func (m *Metrics) Handler() gin.HandlerFunc {
	return gin.WrapH(promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{}))
}
