package controllers

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/synnergy/hostnode/internal/httpapi/services"
)

// CatalogController serves the node's observability and discovery
// endpoints: GET /v1/models, GET /health, GET /metrics, and GET
// /v1/metrics/session_keys (spec §6.2).
type CatalogController struct {
	svc *services.InferenceService
}

func NewCatalogController(svc *services.InferenceService) *CatalogController {
	return &CatalogController{svc: svc}
}

func (c *CatalogController) Models(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, c.svc.ListModels(r.URL.Query().Get("type")))
}

func (c *CatalogController) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, c.svc.Health(r.Context()))
}

func (c *CatalogController) SessionKeyMetrics(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, c.svc.SessionKeyMetrics())
}

// Metrics is the Prometheus scrape endpoint, delegated directly to
// promhttp — every instrument in internal/metrics registers itself at
// package init via promauto, so this handler needs no further wiring.
func (c *CatalogController) Metrics() http.Handler {
	return promhttp.Handler()
}
