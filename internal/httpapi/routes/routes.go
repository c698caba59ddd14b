package routes

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/synnergy/hostnode/internal/httpapi/controllers"
	"github.com/synnergy/hostnode/internal/httpapi/middleware"
)

// Register wires every spec §6.2 HTTP endpoint plus the WebSocket upgrade
// path onto r. wsHandler is *wsproto.Router's ServeHTTP, passed as a plain
// http.Handler to avoid an import cycle between routes and wsproto.
func Register(r *mux.Router, inference *controllers.InferenceController, embed *controllers.EmbedController, vision *controllers.VisionController, catalog *controllers.CatalogController, wsHandler http.Handler, wsPath string) {
	r.Use(middleware.Logger)
	r.Use(middleware.Metrics)

	r.HandleFunc("/v1/inference", inference.Create).Methods(http.MethodPost)
	r.HandleFunc("/v1/embed", embed.Create).Methods(http.MethodPost)
	r.HandleFunc("/v1/ocr", vision.OCR).Methods(http.MethodPost)
	r.HandleFunc("/v1/describe-image", vision.DescribeImage).Methods(http.MethodPost)
	r.HandleFunc("/v1/models", catalog.Models).Methods(http.MethodGet)
	r.HandleFunc("/health", catalog.Health).Methods(http.MethodGet)
	r.HandleFunc("/v1/metrics/session_keys", catalog.SessionKeyMetrics).Methods(http.MethodGet)
	r.Handle("/metrics", catalog.Metrics()).Methods(http.MethodGet)

	r.Handle(wsPath, wsHandler)
}
