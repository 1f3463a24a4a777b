package metric

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Handler returns an HTTP handler serving the registry in Prometheus
// exposition format. Mounted by the gateway at its metrics path.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.prometheusRegistry, promhttp.HandlerOpts{})
}
