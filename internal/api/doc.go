// Package api hosts the HTTP server, middleware, and handlers. Route groups:
//   - GET /healthz, /readyz and /metrics for probes and Prometheus.
//   - /companies for master-key signed tenant administration.
//   - /{company}/webhook/... for signed upstream pushes.
//   - /{company}/... public listings, enquiry, and geocoding for browser
//     widgets, subject to the company's domain policy.
package api
