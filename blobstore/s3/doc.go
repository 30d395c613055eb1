// Package s3 provides the Amazon S3 backend for dataset storage.
//
// Construct a client with aws-sdk-go-v2 config and wrap it:
//
//	cfg, err := config.LoadDefaultConfig(ctx)
//	client := awss3.NewFromConfig(cfg)
//	store := s3.NewStore(client, "my-bucket", "datasets/laion/")
package s3
