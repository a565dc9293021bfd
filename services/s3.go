package services

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path"

	"notesworker/config"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3/s3manager"
)

// S3Service archives job outputs under <prefix>/<mediaID>/.
type S3Service struct {
	session  *session.Session
	bucket   string
	prefix   string
	uploader *s3manager.Uploader
}

func NewS3Service(cfg *config.Config) *S3Service {
	awsCfg := &aws.Config{
		Region: aws.String(cfg.S3Region),
		Credentials: credentials.NewStaticCredentials(
			cfg.AWSS3AccessKey,
			cfg.AWSS3SecretKey,
			"",
		),
	}

	if cfg.S3Endpoint != "" {
		awsCfg.Endpoint = aws.String(cfg.S3Endpoint)
	}

	if cfg.S3UsePathStyle {
		awsCfg.S3ForcePathStyle = aws.Bool(true)
	}

	sess := session.Must(session.NewSession(awsCfg))

	return &S3Service{
		session:  sess,
		bucket:   cfg.S3Bucket,
		prefix:   cfg.S3ArchivePrefix,
		uploader: s3manager.NewUploader(sess),
	}
}

// ObjectKey returns the archive key for one artifact of a media id.
func (s *S3Service) ObjectKey(mediaID, name string) string {
	return path.Join(s.prefix, mediaID, name)
}

// UploadFile copies a local artifact into the archive and returns its key.
func (s *S3Service) UploadFile(ctx context.Context, mediaID, localPath, contentType string) (string, error) {
	file, err := os.Open(localPath)
	if err != nil {
		return "", fmt.Errorf("failed to open file: %w", err)
	}
	defer file.Close()

	key := s.ObjectKey(mediaID, path.Base(localPath))
	if err := s.upload(ctx, key, file, contentType); err != nil {
		return "", err
	}
	return key, nil
}

// UploadText stores an in-memory document in the archive and returns its key.
func (s *S3Service) UploadText(ctx context.Context, mediaID, name, body, contentType string) (string, error) {
	key := s.ObjectKey(mediaID, name)
	if err := s.upload(ctx, key, bytes.NewReader([]byte(body)), contentType); err != nil {
		return "", err
	}
	return key, nil
}

func (s *S3Service) upload(ctx context.Context, key string, body io.Reader, contentType string) error {
	_, err := s.uploader.UploadWithContext(ctx, &s3manager.UploadInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        body,
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return fmt.Errorf("failed to upload to S3: %w", err)
	}
	return nil
}
