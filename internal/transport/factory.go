package transport

import (
	"context"
	"fmt"

	"usm-go/internal/config"
	"usm-go/internal/usm"
)

// NewTransport creates a Transport from the given configuration. The Type
// field selects the backend; each backend validates its own required fields.
func NewTransport(ctx context.Context, cfg config.TransportConfig) (usm.Transport, error) {
	switch cfg.Type {
	case "filesystem":
		if cfg.FSRoot == "" {
			return nil, fmt.Errorf("filesystem transport %q requires fs_root", cfg.Name)
		}
		return NewFileSystemTransport(cfg.Name, cfg.FSRoot)
	case "s3":
		if cfg.S3Bucket == "" {
			return nil, fmt.Errorf("s3 transport %q requires s3_bucket", cfg.Name)
		}
		return NewS3Transport(ctx, S3Options{
			Name:            cfg.Name,
			Bucket:          cfg.S3Bucket,
			Prefix:          cfg.S3Prefix,
			Region:          cfg.S3Region,
			AccessKeyID:     cfg.S3AccessKeyID,
			SecretAccessKey: cfg.S3SecretKey,
		})
	case "memory":
		return NewMemoryTransport(cfg.Name), nil
	default:
		return nil, fmt.Errorf("unknown transport type: %q", cfg.Type)
	}
}
