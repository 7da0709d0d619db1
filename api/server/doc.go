/*
Package server runs the HTTP front of the eSIM operator registry.

The Server mounts a RouteRegistrar (normally an esimhandler.Handler) behind
HTTP basic auth, together with unauthenticated operational endpoints:

  - GET /livez - liveness probe
  - GET /readyz - readiness probe, 503 while draining
  - GET /drain, GET /undrain - toggle readiness ahead of a rollout
  - /debug/pprof/* - when EnablePprof is set

The credential is a single user with either a plaintext password, compared in
constant time, or a bcrypt hash. Failed authentication answers 401 with a
Basic challenge for the configured realm.

Prometheus metrics are served by a separate listener on MetricsAddr.

HTTPS is used when TLSCertFile and TLSKeyFile are set, or with a generated
self-signed certificate when SelfSignedTLS is set.

Usage:

	srv, err := server.New(cfg, handler)
	if err != nil {
		return err
	}
	srv.RunInBackground()
	// ...
	srv.Shutdown()
*/
package server
