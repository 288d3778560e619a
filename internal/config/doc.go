// Package config loads timecard-gateway configuration.
//
// The file is YAML, or TOML when its name ends in .toml. Its location is
// TIMECARD_CONFIG, else $XDG_CONFIG_HOME/timecard/gateway.yaml, else
// ~/.config/timecard/gateway.yaml. ${VAR} references are expanded from the
// environment before parsing, and durations use time.ParseDuration syntax:
//
//	server:
//	  grpc_addr: "0.0.0.0:50051"   # operator control API
//	  http_addr: "0.0.0.0:8080"    # device sockets, health, metrics
//	database:
//	  path: "/var/lib/timecard/gateway.db"
//	  max_open_conns: 25
//	  acquire_timeout: "30s"
//	webhook:
//	  url: "https://hooks.example.com/timecard"
//	  timeout: "5s"
//	registration:
//	  reservation_offset: "9h"
//	  pending_window: "1h"
//	auth:
//	  jwt_secret: "${TIMECARD_JWT_SECRET}"
//
// Unset fields get the package defaults; Validate reports the first problem.
package config
