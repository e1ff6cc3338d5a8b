package apkstore

import (
	"context"
	"fmt"
	"io"
	"path"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3manager"

	"github.com/jclement/droidmdm/internal/config"
)

// S3 keeps APKs in a bucket and hands out presigned download URLs.
type S3 struct {
	client   *s3.S3
	uploader *s3manager.Uploader
	bucket   string
	prefix   string
	urlTTL   time.Duration
}

func NewS3(cfg config.APKStoreConfig) (*S3, error) {
	conf := &aws.Config{}
	if cfg.Region != "" {
		conf.Region = aws.String(cfg.Region)
	}
	if cfg.Endpoint != "" {
		// MinIO and other S3-compatible stores
		conf.Endpoint = aws.String(cfg.Endpoint)
		conf.S3ForcePathStyle = aws.Bool(true)
	}

	// Use the default credential chain unless static keys are given
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		conf.Credentials = credentials.NewStaticCredentials(cfg.AccessKeyID, cfg.SecretAccessKey, "")
	}

	sess, err := session.NewSession(conf)
	if err != nil {
		return nil, fmt.Errorf("create S3 session: %w", err)
	}

	ttl := cfg.URLTTL
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}

	return &S3{
		client:   s3.New(sess),
		uploader: s3manager.NewUploader(sess),
		bucket:   cfg.Bucket,
		prefix:   cfg.Prefix,
		urlTTL:   ttl,
	}, nil
}

func (s *S3) Put(ctx context.Context, key string, content io.Reader) error {
	if !ValidKey(key) {
		return ErrInvalidKey
	}
	_, err := s.uploader.UploadWithContext(ctx, &s3manager.UploadInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(s.objectKey(key)),
		Body:        content,
		ContentType: aws.String("application/vnd.android.package-archive"),
	})
	if err != nil {
		return fmt.Errorf("upload %s to S3: %w", key, err)
	}
	return nil
}

func (s *S3) URL(_ context.Context, key string) (string, error) {
	if !ValidKey(key) {
		return "", ErrInvalidKey
	}
	req, _ := s.client.GetObjectRequest(&s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.objectKey(key)),
	})
	u, err := req.Presign(s.urlTTL)
	if err != nil {
		return "", fmt.Errorf("presign %s: %w", key, err)
	}
	return u, nil
}

func (s *S3) objectKey(key string) string {
	return path.Join(s.prefix, key)
}
