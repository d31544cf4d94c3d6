package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"mime"
	"os"
	"path/filepath"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3/s3manager"
	"github.com/aws/aws-sdk-go/service/s3/s3manager/s3manageriface"
)

// ErrS3UploaderNotInitialized is returned when a mirror has no uploader
var ErrS3UploaderNotInitialized = errors.New("S3 uploader not initialized")

// Mirror copies a local file to remote storage and returns its key
type Mirror interface {
	Upload(ctx context.Context, localPath string) (string, error)
}

// S3Mirror uploads exported files to an S3-compatible bucket
type S3Mirror struct {
	uploader s3manageriface.UploaderAPI
	bucket   string
	template *PathTemplate
	runID    string
	started  time.Time
	logger   *slog.Logger
}

// NewS3Mirror creates a mirror for one run. Static credentials are used when
// an access key is configured, otherwise the SDK's default chain applies.
func NewS3Mirror(cfg S3Config, runID string, started time.Time, logger *slog.Logger) (*S3Mirror, error) {
	awsConfig := &aws.Config{
		Region:           aws.String(cfg.Region),
		S3ForcePathStyle: aws.Bool(cfg.Endpoint != ""),
	}
	if cfg.Endpoint != "" {
		awsConfig.Endpoint = aws.String(cfg.Endpoint)
	}
	if cfg.AccessKey != "" {
		awsConfig.Credentials = credentials.NewStaticCredentials(cfg.AccessKey, cfg.SecretKey, "")
	}

	sess, err := session.NewSession(awsConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create S3 session: %w", err)
	}

	return newS3MirrorWithUploader(s3manager.NewUploader(sess), cfg, runID, started, logger), nil
}

func newS3MirrorWithUploader(uploader s3manageriface.UploaderAPI, cfg S3Config, runID string, started time.Time, logger *slog.Logger) *S3Mirror {
	return &S3Mirror{
		uploader: uploader,
		bucket:   cfg.Bucket,
		template: NewPathTemplate(cfg.PathTemplate),
		runID:    runID,
		started:  started,
		logger:   logger,
	}
}

// Key returns the object key a local file is mirrored to
func (m *S3Mirror) Key(localPath string) string {
	return m.template.Generate(filepath.Base(localPath), m.runID, m.started)
}

// Upload streams localPath to the bucket
func (m *S3Mirror) Upload(ctx context.Context, localPath string) (string, error) {
	if m.uploader == nil {
		return "", ErrS3UploaderNotInitialized
	}

	file, err := os.Open(localPath)
	if err != nil {
		return "", err
	}
	defer file.Close()

	key := m.Key(localPath)
	contentType := mime.TypeByExtension(filepath.Ext(localPath))
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	m.logger.Debug(fmt.Sprintf("  ☁️  Uploading to s3://%s/%s", m.bucket, key))

	_, err = m.uploader.UploadWithContext(ctx, &s3manager.UploadInput{
		Bucket:      aws.String(m.bucket),
		Key:         aws.String(key),
		Body:        file,
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return key, fmt.Errorf("failed to upload s3://%s/%s: %w", m.bucket, key, err)
	}
	return key, nil
}
