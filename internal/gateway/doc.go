// Package gateway wires timecard-gateway together and runs its servers.
//
// A Gateway owns the SQLite store, the session registry, the relay hub with
// its subscriber stream and optional webhook, the event router, the
// registration coordinator, the device socket server and the gRPC control
// API. Run listens on plain TCP or on a tailnet via tsnet and blocks until
// its context ends:
//
//	gw, err := gateway.New(cfg, logger)
//	if err != nil {
//		return err
//	}
//	return gw.Run(ctx)
//
// HTTP routes:
//
//	GET /socket        device WebSocket
//	GET /health        liveness
//	GET /health/ready  200 once a device is connected
//	GET /metrics       Prometheus scrape (metrics.enabled)
package gateway
