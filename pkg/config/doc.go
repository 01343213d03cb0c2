// Package config provides application configuration from environment variables
// and an optional YAML file.
//
// # Overview
//
// LoadConfig starts from Default, applies the YAML file named by
// TURNSTILE_CONFIG_FILE (if any), then applies environment variables, and
// finally validates the result.
//
// Server settings:
//
//	TURNSTILE_HOST="0.0.0.0"
//	TURNSTILE_PORT="8080"
//	TURNSTILE_REQUEST_TIMEOUT="10s"
//
// Database settings:
//
//	TURNSTILE_POSTGRES_URL="postgres://localhost/turnstile"
//	TURNSTILE_POSTGRES_REPLICA_URLS="postgres://replica1/turnstile,postgres://replica2/turnstile"
//	TURNSTILE_POSTGRES_MAX_CONNS="20"
//
// Cache settings:
//
//	TURNSTILE_CACHE_ENABLED="true"
//	TURNSTILE_CACHE_BACKEND="redis"          # redis, memory
//	TURNSTILE_CACHE_INVALIDATION="postgres"  # postgres, redis, none
//	TURNSTILE_REDIS_URL="redis://localhost:6379/0"
//
// Session settings:
//
//	TURNSTILE_SESSION_SECRET="change-me"
//	TURNSTILE_SESSION_IP_HEADER="X-Real-IP"
//	TURNSTILE_SESSION_SAVE_INTERVAL="60s"
//	TURNSTILE_SESSION_EXPIRE_TIMEOUT="720h"
//	TURNSTILE_SESSION_SWEEP_SCHEDULE="*/15 * * * *"
//	TURNSTILE_GEOIP_DATABASE="/usr/share/GeoIP/GeoLite2-City.mmdb"
//
// Observability settings:
//
//	TURNSTILE_LOG_LEVEL="info"   # debug, info, warn, error
//	TURNSTILE_LOG_FORMAT="json"  # json, text
//	TURNSTILE_METRICS_ENABLED="true"
//	TURNSTILE_OTEL_ENABLED="true"
//	TURNSTILE_OTEL_ENDPOINT="otel-collector:4317"
//
// The YAML file uses the same structure with snake_case keys:
//
//	project: acme
//	session:
//	  secret: change-me
//	  save_interval: 30s
//	cache:
//	  backend: memory
package config
