package blob

import (
	"context"
	"fmt"
)

// Config selects and parameterizes a blob backend.
type Config struct {
	Driver Driver // fs|s3|memory, default fs
	FSRoot string // root directory when Driver=fs, default ./blobdata
	S3     S3Config
}

// Open constructs the configured blob.Store.
func Open(ctx context.Context, cfg Config) (Store, error) {
	driver := cfg.Driver
	if driver == "" {
		driver = DriverFilesystem
	}
	switch driver {
	case DriverFilesystem:
		return NewFilesystem(cfg.FSRoot)
	case DriverS3:
		return NewS3(ctx, cfg.S3)
	case DriverMemory:
		return NewMemory(), nil
	default:
		return nil, fmt.Errorf("unknown blob driver %s", driver)
	}
}
