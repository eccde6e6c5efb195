// Package config provides traffic-stats configuration from environment
// variables and an optional YAML file.
//
// # Overview
//
// Values start from defaults, are overlaid by the YAML file named with -config
// or TRAFFIC_CONFIG_FILE, and finally by environment variables. The GitHub token
// is only ever read from the environment.
//
// # Configuration Structure
//
// GitHub settings:
//
//	TRAFFIC_GITHUB_TOKEN="ghp_..."   # falls back to GITHUB_TOKEN, then GH_TOKEN
//	TRAFFIC_OWNER="ccp-nc"
//	TRAFFIC_REPOSITORY="soprano"     # falls back to GITHUB_REPOSITORY=owner/repo
//	TRAFFIC_API_URL="https://api.github.com/"
//	TRAFFIC_HTTP_TIMEOUT="30s"
//	TRAFFIC_MAX_RETRIES="3"
//	TRAFFIC_RETRY_BASE_DELAY="1s"
//	TRAFFIC_RETRY_MAX_DELAY="1m"
//	TRAFFIC_MAX_RATE_LIMIT_WAITS="3"
//	TRAFFIC_CACHE_ENABLED="true"
//	TRAFFIC_CACHE_SIZE="64"
//	TRAFFIC_CACHE_TTL="1h"
//
// Collection and storage settings:
//
//	TRAFFIC_METRICS="views,clones,referrers,paths"
//	TRAFFIC_REPOSITORIES="soprano,magres-format"
//	TRAFFIC_WORKERS="2"
//	TRAFFIC_OUTPUT_DIR="traffic-stats"
//	TRAFFIC_SUMMARY_BACKEND="csv"    # csv, sqlite3, postgres
//	TRAFFIC_SUMMARY_DSN="postgres://localhost/traffic"
//	TRAFFIC_REDIS_URL="redis://localhost:6379/0"
//	TRAFFIC_LOCK_TTL="30m"
//
// Observability settings:
//
//	TRAFFIC_LOG_LEVEL="info"         # debug, info, warn, error
//	TRAFFIC_LOG_FILE="traffic-stats/traffic-stats.log"
//	TRAFFIC_METRICS_FILE="traffic-stats/metrics.prom"
//	TRAFFIC_OTEL_ENABLED="true"
//	TRAFFIC_OTEL_ENDPOINT="otel-collector:4317"
//
// # YAML File
//
//	github:
//	  owner: ccp-nc
//	  max_retries: 5
//	collection:
//	  repositories: [soprano, magres-format]
//	storage:
//	  summary_backend: sqlite3
//	  summary_dsn: traffic-stats/summary.db
//
// # Usage Example
//
//	cfg, err := config.Load("")
//	if err != nil {
//		log.Fatal(err)
//	}
//	if err := cfg.ValidateForCollect(); err != nil {
//		log.Fatal(err)
//	}
//	client, err := fetcher.New(cfg.FetcherConfig())
package config
