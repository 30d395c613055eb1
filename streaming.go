package streaming

import (
	"context"
	"fmt"
	"net/url"
	"sort"
	"strings"

	"github.com/aws/aws-sdk-go-v2/config"
	awss3 "github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/Landanjs/streaming/blobstore"
	"github.com/Landanjs/streaming/blobstore/s3"
	"github.com/Landanjs/streaming/shard"
)

// Record is one sample: a mapping from field name to raw payload.
type Record = shard.Record

// Schema maps field name to its encoding label, e.g.
// Schema{"x": "png", "y": "png"}. The storage layer treats payloads as
// opaque bytes; the label travels in the index for downstream decoders.
type Schema = shard.Schema

// fieldOrder returns the schema's field names in their canonical (sorted)
// order, which fixes the framing order inside every record.
func fieldOrder(schema Schema) []string {
	fields := make([]string, 0, len(schema))
	for name := range schema {
		fields = append(fields, name)
	}
	sort.Strings(fields)
	return fields
}

// OpenStore resolves a location string to a blob store:
//
//	s3://bucket/prefix        Amazon S3 (ambient AWS credentials)
//	http://..., https://...   read-only HTTP
//	anything else             local directory path
//
// MinIO deployments need endpoint credentials and are constructed directly
// via blobstore/minio.
func OpenStore(ctx context.Context, location string) (blobstore.BlobStore, error) {
	switch {
	case strings.HasPrefix(location, "s3://"):
		u, err := url.Parse(location)
		if err != nil {
			return nil, fmt.Errorf("streaming: parsing %q: %w", location, err)
		}
		cfg, err := config.LoadDefaultConfig(ctx)
		if err != nil {
			return nil, fmt.Errorf("streaming: loading AWS config: %w", err)
		}
		prefix := strings.TrimPrefix(u.Path, "/")
		return s3.NewStore(awss3.NewFromConfig(cfg), u.Host, prefix), nil

	case strings.HasPrefix(location, "http://"), strings.HasPrefix(location, "https://"):
		return blobstore.NewHTTPStore(location)

	default:
		return blobstore.NewLocalStore(location)
	}
}
