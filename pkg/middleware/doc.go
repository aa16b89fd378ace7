// Package middleware provides observability for teoweb.
//
// Metrics collects Prometheus metrics for the proxy binder and the page
// server. It implements the binder's Recorder so one value serves both:
//
//	m := middleware.NewMetrics(middleware.WithNamespace("teoweb"))
//	b := binder.New(doc, factory, binder.Options{Recorder: m})
//	r.Use(m.Handler)
//	r.Handle("/metrics", promhttp.Handler())
//
// OpenTelemetry traces HTTP requests using the global tracer provider:
//
//	r.Use(middleware.OpenTelemetry(
//	    middleware.WithRequestFilter(func(r *http.Request) bool {
//	        return r.URL.Path != "/healthz"
//	    }),
//	))
//
// Both wrappers keep http.Hijacker working so websocket upgrades pass
// through them.
package middleware
