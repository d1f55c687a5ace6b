package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Handler exposes the default Prometheus registry. Every package registers
// its own collectors through promauto; this is the single scrape surface.
func Handler() http.Handler {
	return promhttp.Handler()
}
