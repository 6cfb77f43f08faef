/*
Package httpserver implements the REST object store gateway for run artifacts.

The gateway serves any afero filesystem (the local disk, a mounted
distributed filesystem, or an in-memory filesystem in tests) with the
contract artifacts.RestBackend speaks:

  - PUT <prefix>/<path> stores the raw request body, creating parents
  - GET <prefix>/<path> returns the raw file
  - GET <prefix>/<path>?list returns {"files":[{"path","is_dir","file_size"}]}

Listed paths are medium paths without the prefix. Listing a file returns the
file itself. A missing target yields 404 with
{"error_code":"RESOURCE_DOES_NOT_EXIST"}, which clients treat as an empty
listing.

# Authentication

With a token configured every request must carry
"Authorization: Basic base64(token:<token>)".

# Operations

Besides the gateway routes the server exposes:

  - GET /livez - liveness probe
  - GET /readyz - readiness probe
  - GET /drain, GET /undrain - toggle readiness for load balancers
  - /debug/pprof when pprof is enabled

Request counts, latencies and transferred bytes are exported by the metrics
server on a separate address.

# Example Usage

	handler := httpserver.NewHandler(afero.NewBasePathFs(afero.NewOsFs(), "/srv/artifacts"), "/dbfs", logger).
	    WithAuthToken(token)
	server, err := httpserver.New(&httpserver.HTTPServerConfig{
	    ListenAddr:  ":8080",
	    MetricsAddr: ":8090",
	    Log:         logger,
	}, handler)
	if err != nil {
	    return err
	}
	server.RunInBackground()
	defer server.Shutdown()
*/
package httpserver
