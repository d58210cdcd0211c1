package archive

import (
	"context"
	"fmt"

	"github.com/fairyhunter13/psychometric-engine/internal/config"
	"github.com/fairyhunter13/psychometric-engine/internal/domain"
)

// FromConfig builds the sink named by ARCHIVE_DRIVER: s3, memory or none.
func FromConfig(ctx context.Context, cfg config.Config) (domain.ArchiveSink, error) {
	switch cfg.ArchiveDriver {
	case "s3":
		return NewS3Sink(ctx, S3Config{
			Bucket:    cfg.ArchiveS3Bucket,
			Region:    cfg.ArchiveS3Region,
			Endpoint:  cfg.ArchiveS3Endpoint,
			PathStyle: cfg.ArchiveS3PathStyle,
		})
	case "memory":
		return NewMemorySink(), nil
	case "none", "":
		return LogSink{}, nil
	}
	return nil, fmt.Errorf("op=archive.from_config: unknown driver %q", cfg.ArchiveDriver)
}
