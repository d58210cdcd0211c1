package app

import (
	"context"

	"github.com/redis/go-redis/v9"

	httpserver "github.com/fairyhunter13/psychometric-engine/internal/adapter/httpserver"
)

// Pinger is any dependency that can report liveness (pgx pool, Kafka producer, S3 sink).
type Pinger interface{ Ping(ctx context.Context) error }

// RedisPinger is the subset of a go-redis client used for readiness.
type RedisPinger interface {
	Ping(ctx context.Context) *redis.StatusCmd
}

// Dependencies lists the optional backends checked by /readyz. Nil entries
// are not configured and are left out of the report.
type Dependencies struct {
	DB      Pinger
	Redis   RedisPinger
	Kafka   Pinger
	Archive Pinger
}

// BuildReadinessChecks returns one check per configured dependency.
func BuildReadinessChecks(deps Dependencies) []httpserver.ReadinessCheck {
	var checks []httpserver.ReadinessCheck
	if deps.DB != nil {
		checks = append(checks, httpserver.ReadinessCheck{Name: "db", Check: deps.DB.Ping})
	}
	if deps.Redis != nil {
		rdb := deps.Redis
		checks = append(checks, httpserver.ReadinessCheck{Name: "redis", Check: func(ctx context.Context) error {
			return rdb.Ping(ctx).Err()
		}})
	}
	if deps.Kafka != nil {
		checks = append(checks, httpserver.ReadinessCheck{Name: "kafka", Check: deps.Kafka.Ping})
	}
	if deps.Archive != nil {
		checks = append(checks, httpserver.ReadinessCheck{Name: "archive", Check: deps.Archive.Ping})
	}
	return checks
}
