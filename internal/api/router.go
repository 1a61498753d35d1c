package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

func NewRouter(h *Handler) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(requestLogger(h.logger))
	r.Use(middleware.Recoverer)

	r.Get("/", h.Home)
	r.Get("/healthz", h.Healthz)

	r.Route("/app", func(r chi.Router) {
		r.Get("/start-checkout", h.StartCheckoutPage)
		r.Get("/capture-checkout", h.CaptureCheckoutPage)
		r.Get("/complete-checkout", h.CompleteCheckoutPage)
		r.Get("/cancel-checkout", h.CancelCheckoutPage)
		r.Get("/create-order-failure", h.CreateOrderFailurePage)
	})

	r.Route("/api/paypal", func(r chi.Router) {
		r.Post("/create-order", h.CreateOrder)
		r.Post("/capture-order", h.CaptureOrder)
	})

	return otelhttp.NewHandler(r, "checkout-http",
		otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
			return r.Method + " " + r.URL.Path
		}),
	)
}

// requestLogger is middleware.Logger on slog, so access lines carry
// trace ids.
func requestLogger(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			defer func() {
				logger.InfoContext(r.Context(), "http request",
					"method", r.Method,
					"path", r.URL.Path,
					"status", ww.Status(),
					"bytes", ww.BytesWritten(),
					"duration_ms", time.Since(start).Milliseconds(),
					"request_id", middleware.GetReqID(r.Context()),
				)
			}()
			next.ServeHTTP(ww, r)
		})
	}
}
