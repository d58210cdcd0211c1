package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func Test_Load_Defaults(t *testing.T) {
	t.Setenv("APP_ENV", "dev")
	cfg, err := Load()
	require.NoError(t, err)
	assert.True(t, cfg.IsDev())
	assert.False(t, cfg.IsProd())
	assert.Equal(t, "postgres", cfg.StoreDriver)
	assert.Equal(t, "none", cfg.ArchiveDriver)
	assert.Equal(t, "result-analysis-requests", cfg.AnalysisTopic)
	assert.False(t, cfg.KafkaEnabled())
	assert.Equal(t, 90*24*time.Hour, cfg.Retention())
}

func Test_Load_ParsesBrokersAndDrivers(t *testing.T) {
	t.Setenv("STORE_DRIVER", "memory")
	t.Setenv("KAFKA_BROKERS", "a:9092,b:9092")
	t.Setenv("ARCHIVE_DRIVER", "s3")
	t.Setenv("ARCHIVE_S3_BUCKET", "results")
	t.Setenv("ARCHIVE_S3_PATH_STYLE", "true")
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, []string{"a:9092", "b:9092"}, cfg.KafkaBrokers)
	assert.True(t, cfg.KafkaEnabled())
	assert.True(t, cfg.ArchiveS3PathStyle)
	assert.Equal(t, "results", cfg.ArchiveS3Bucket)
}

func Test_Load_ErrorOnBadDuration(t *testing.T) {
	t.Setenv("HTTP_READ_TIMEOUT", "bad")
	_, err := Load()
	require.Error(t, err)
}

func Test_Load_RejectsUnknownDrivers(t *testing.T) {
	t.Setenv("STORE_DRIVER", "sqlite")
	_, err := Load()
	require.Error(t, err)

	t.Setenv("STORE_DRIVER", "memory")
	t.Setenv("ARCHIVE_DRIVER", "s3")
	_, err = Load()
	require.ErrorContains(t, err, "ARCHIVE_S3_BUCKET")
}

func Test_RetentionDisabled(t *testing.T) {
	assert.Zero(t, Config{DataRetentionDays: 0}.Retention())
}

func Test_DBConnectBackoff_TestEnvIsShort(t *testing.T) {
	maxElapsed, initial := Config{AppEnv: "test", DBConnectMaxElapsed: time.Minute}.GetDBConnectBackoff()
	assert.Equal(t, 2*time.Second, maxElapsed)
	assert.Equal(t, 50*time.Millisecond, initial)
	maxElapsed, _ = Config{AppEnv: "prod", DBConnectMaxElapsed: time.Minute}.GetDBConnectBackoff()
	assert.Equal(t, time.Minute, maxElapsed)
}
