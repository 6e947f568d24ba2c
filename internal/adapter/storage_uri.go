package adapter

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/wildfs/wildfs/internal/storage/local"
	"github.com/wildfs/wildfs/internal/storage/s3"
	"github.com/wildfs/wildfs/pkg/types"
)

// ParseStorageURI turns a storage URI into a storage with a fresh id.
//
//	s3://bucket/prefix?region=eu-west-1&endpoint=http://localhost:9000&path_style=true
//	mem://volume/base/dir
//	file:///absolute/root
func ParseStorageURI(uri string) (types.Storage, error) {
	parsed, err := url.Parse(uri)
	if err != nil {
		return types.Storage{}, fmt.Errorf("failed to parse URI: %w", err)
	}

	var (
		backendType string
		config      interface{}
	)
	switch parsed.Scheme {
	case "s3":
		if parsed.Host == "" {
			return types.Storage{}, fmt.Errorf("S3 URI must include bucket name")
		}
		q := parsed.Query()
		cfg := s3.Config{
			Bucket:   parsed.Host,
			Prefix:   strings.TrimPrefix(parsed.Path, "/"),
			Region:   q.Get("region"),
			Endpoint: q.Get("endpoint"),
		}
		if cfg.Prefix != "" && !strings.HasSuffix(cfg.Prefix, "/") {
			cfg.Prefix += "/"
		}
		if v := q.Get("path_style"); v != "" {
			if cfg.ForcePathStyle, err = strconv.ParseBool(v); err != nil {
				return types.Storage{}, fmt.Errorf("invalid path_style: %w", err)
			}
		}
		backendType, config = s3.TypeS3, cfg
	case "mem":
		if parsed.Host == "" {
			return types.Storage{}, fmt.Errorf("mem URI must include a volume name")
		}
		backendType = local.TypeInMemory
		config = local.MemoryConfig{Volume: parsed.Host, BaseDir: parsed.Path}
	case "file":
		if parsed.Path == "" {
			return types.Storage{}, fmt.Errorf("file URI must include a root directory")
		}
		backendType = local.TypeLocalFilesystem
		config = local.DiskConfig{Root: parsed.Path}
	default:
		return types.Storage{}, fmt.Errorf("unsupported storage scheme: %s (s3, mem and file are supported)", parsed.Scheme)
	}

	raw, err := json.Marshal(config)
	if err != nil {
		return types.Storage{}, err
	}
	return types.Storage{ID: uuid.New(), BackendType: backendType, Config: raw}, nil
}
