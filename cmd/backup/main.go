package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	awsCreds "github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/lychee-technology/registra"
	"github.com/lychee-technology/registra/factory"
	"go.uber.org/zap"
)

// backup exports the full version history of every schema to S3 or a local
// directory: one JSON object per (id, version) plus a manifest.

type manifest struct {
	CreatedAt time.Time           `json:"created_at"`
	Schemas   map[string][]string `json:"schemas"`
}

type uploader interface {
	Put(ctx context.Context, key string, body []byte) error
}

func main() {
	var (
		configFile = flag.String("config", "", "registry config file (yaml or json)")
		bucket     = flag.String("bucket", "", "S3 bucket to write to")
		prefix     = flag.String("prefix", "registra-backup", "key prefix inside the bucket or directory")
		outDir     = flag.String("out", "", "local output directory (instead of S3)")
		region     = flag.String("region", "", "AWS region override")
		endpoint   = flag.String("endpoint", "", "S3 endpoint override, for S3-compatible stores")
	)
	flag.Parse()

	logger, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer logger.Sync()
	sugar := logger.Sugar()

	if *bucket == "" && *outDir == "" {
		sugar.Fatal("either -bucket or -out is required")
	}

	cfg := registra.DefaultConfig()
	if *configFile != "" {
		cfg, err = registra.LoadConfig(*configFile)
		if err != nil {
			sugar.Fatalf("failed to load config: %v", err)
		}
	}

	ctx := context.Background()
	store, closeFn, err := factory.NewSchemaStore(ctx, cfg, logger)
	if err != nil {
		sugar.Fatalf("failed to create schema store: %v", err)
	}
	defer closeFn()

	var dest uploader
	if *outDir != "" {
		dest = &dirUploader{root: *outDir}
	} else {
		dest, err = newS3Uploader(ctx, *bucket, *region, *endpoint)
		if err != nil {
			sugar.Fatalf("failed to create s3 client: %v", err)
		}
	}

	if err := runBackup(ctx, store, dest, *prefix, sugar); err != nil {
		sugar.Fatalf("backup failed: %v", err)
	}
}

func runBackup(ctx context.Context, store registra.SchemaStore, dest uploader, prefix string, sugar *zap.SugaredLogger) error {
	ids, err := store.ListSchemas(ctx)
	if err != nil {
		return fmt.Errorf("list schemas: %w", err)
	}

	m := manifest{CreatedAt: time.Now().UTC(), Schemas: make(map[string][]string)}
	exported := 0

	for _, id := range ids {
		versions, err := store.ListVersions(ctx, id)
		if err != nil {
			return fmt.Errorf("list versions for %s: %w", id, err)
		}
		for _, v := range versions {
			version := v
			rec, err := store.Get(ctx, id, &version)
			if err != nil {
				return fmt.Errorf("get %s@%s: %w", id, version, err)
			}
			body, err := json.MarshalIndent(rec, "", "  ")
			if err != nil {
				return fmt.Errorf("marshal %s@%s: %w", id, version, err)
			}
			key := fmt.Sprintf("%s/%s/%s.json", prefix, id, version)
			if err := dest.Put(ctx, key, body); err != nil {
				return fmt.Errorf("write %s: %w", key, err)
			}
			m.Schemas[id] = append(m.Schemas[id], version.String())
			exported++
		}
		sugar.Infow("schema exported", "schema_id", id, "versions", len(versions))
	}

	body, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal manifest: %w", err)
	}
	if err := dest.Put(ctx, prefix+"/manifest.json", body); err != nil {
		return fmt.Errorf("write manifest: %w", err)
	}

	sugar.Infow("backup complete", "schemas", len(ids), "records", exported)
	return nil
}

type dirUploader struct {
	root string
}

func (d *dirUploader) Put(_ context.Context, key string, body []byte) error {
	path := filepath.Join(d.root, filepath.FromSlash(key))
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, body, 0o644)
}

type s3Uploader struct {
	client *s3.Client
	bucket string
}

func newS3Uploader(ctx context.Context, bucket, region, endpoint string) (*s3Uploader, error) {
	awsCfg, err := config.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	if region != "" {
		awsCfg.Region = region
	}
	if envKey := os.Getenv("AWS_ACCESS_KEY_ID"); envKey != "" {
		awsCfg.Credentials = awsCreds.NewStaticCredentialsProvider(envKey, os.Getenv("AWS_SECRET_ACCESS_KEY"), "")
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
			o.UsePathStyle = true
		}
	})
	return &s3Uploader{client: client, bucket: bucket}, nil
}

func (u *s3Uploader) Put(ctx context.Context, key string, body []byte) error {
	_, err := u.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(u.bucket),
		Key:    aws.String(key),
		Body:   bytes.NewReader(body),
	})
	return err
}
