package writer

import (
	"bytes"
	"context"
	"fmt"
	"path"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	appconfig "cdsflow/config"
	"cdsflow/logger"
	"cdsflow/models"
)

// S3Archiver stores each cycle's raw upstream payload in S3 so a slice or
// API response can be replayed or audited later. Archival is best effort:
// failures are logged by the caller and never fail a cycle.
type S3Archiver struct {
	client *s3.Client
	bucket string
	prefix string
	log    *logger.Log
}

func NewS3Archiver(ctx context.Context, cfg appconfig.S3Config) (*S3Archiver, error) {
	loadOpts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(cfg.Region)}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("load aws configuration: %w", err)
	}

	creds, err := awsCfg.Credentials.Retrieve(ctx)
	if err != nil || !creds.HasKeys() {
		return nil, fmt.Errorf("aws credentials not found")
	}

	archiver := &S3Archiver{
		client: s3.NewFromConfig(awsCfg),
		bucket: cfg.Bucket,
		prefix: cfg.Prefix,
		log:    logger.GetLogger(),
	}

	archiver.log.WithComponent("s3_archiver").WithFields(logger.Fields{
		"bucket": cfg.Bucket,
		"region": cfg.Region,
	}).Info("s3 archiver initialized")

	return archiver, nil
}

// Archive uploads one raw payload under <prefix>/<mode>/<date>/<cycle-id>.
func (a *S3Archiver) Archive(ctx context.Context, mode models.Mode, cycleID string, payload []byte) error {
	if len(payload) == 0 {
		return nil
	}

	ext := ".json"
	if mode == models.ModeSlice {
		ext = ".zip"
	}
	key := path.Join(a.prefix, string(mode), time.Now().UTC().Format("2006/01/02"), cycleID+ext)

	if _, err := a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(a.bucket),
		Key:    aws.String(key),
		Body:   bytes.NewReader(payload),
	}); err != nil {
		return fmt.Errorf("put object %s: %w", key, err)
	}

	logger.IncrementArchiveWrite(int64(len(payload)))
	a.log.WithComponent("s3_archiver").WithFields(logger.Fields{
		"key":   key,
		"bytes": len(payload),
	}).Debug("archived raw payload")

	return nil
}
