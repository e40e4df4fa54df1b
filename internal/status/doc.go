// Package status serves live transfer progress over HTTP.
//
// Endpoints:
//
//	GET /status   JSON snapshot of the firmware and every device's progress
//	GET /healthz  liveness probe, always "ok"
//	GET /ws       WebSocket stream of transfer events, one JSON text frame each
//
// The event stream never slows the transfer down: each client has a small
// send buffer and events are dropped for clients that fall behind.
//
// # Usage Example
//
//	srv := status.New(status.Config{Listen: ":8080"}, engine.Registry(), info)
//	engine := ota.NewEngine(table, client, ota.WithObserver(srv.Observer()))
//
//	if err := srv.Start(); err != nil {
//	    log.Fatal(err)
//	}
//	defer srv.Shutdown(context.Background())
package status
