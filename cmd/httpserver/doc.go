// Package main (cmd/httpserver) runs the artifact gateway: the REST object
// store that RestBackend talks to, backed by a local directory.
//
// Objects live under --storage-root. With the default prefix, the object
// /runs/1/artifacts/model.pkl is read with GET /dbfs/runs/1/artifacts/model.pkl,
// listed with GET /dbfs/runs/1/artifacts?list and written with PUT to the same
// URL. When --auth-token is set, every request must carry basic auth with the
// user "token" and the token as password.
//
// Health endpoints (/livez, /readyz, /drain, /undrain) and the Prometheus
// metrics server behave as in every other service built on httpserver.
//
// Example usage:
//
//	artifact-gateway --listen-addr=0.0.0.0:8080 \
//	    --storage-root=/var/lib/artifacts \
//	    --auth-token=dapi123 \
//	    --metrics-addr=0.0.0.0:8090
package main
