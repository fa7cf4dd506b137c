// Package recording implements the object-storage collaborator (§6) that
// fetches a completed provider recording and uploads it to S3-compatible
// storage, satisfying telephony.RecordingUploader.
package recording

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/rs/zerolog"

	"github.com/voxreach/call-engine/internal/config"
)

// S3Uploader fetches a recording from the provider's recording URL and stores
// it under {prefix}/{recordingSID}.wav, returning an s3://{bucket}/{key} URI
// as the storage descriptor LP persists on the CallRecording row.
type S3Uploader struct {
	client *s3.Client
	bucket string
	prefix string
	http   *http.Client
	log    zerolog.Logger
}

// NewS3Uploader builds an uploader from RecordingsXXX config fields.
func NewS3Uploader(ctx context.Context, cfg *config.Config, log zerolog.Logger) (*S3Uploader, error) {
	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.RecordingsRegion),
	}
	if cfg.RecordingsAccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.RecordingsAccessKey, cfg.RecordingsSecretKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("recording uploader: aws config: %w", err)
	}

	var s3Opts []func(*s3.Options)
	if cfg.RecordingsEndpoint != "" {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(cfg.RecordingsEndpoint)
			o.UsePathStyle = true
		})
	}

	return &S3Uploader{
		client: s3.NewFromConfig(awsCfg, s3Opts...),
		bucket: cfg.RecordingsBucket,
		prefix: cfg.RecordingsPrefix,
		http:   &http.Client{Timeout: 30 * time.Second},
		log:    log.With().Str("component", "recording-uploader").Logger(),
	}, nil
}

// Upload implements telephony.RecordingUploader.
func (u *S3Uploader) Upload(ctx context.Context, recordingSID, sourceURL string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, sourceURL, nil)
	if err != nil {
		return "", fmt.Errorf("recording upload: build fetch request: %w", err)
	}
	resp, err := u.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("recording upload: fetch source: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("recording upload: source returned status %d", resp.StatusCode)
	}

	key := u.objectKey(recordingSID)
	contentType := "audio/wav"
	_, err = u.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      &u.bucket,
		Key:         &key,
		Body:        resp.Body,
		ContentType: &contentType,
	})
	if err != nil {
		return "", fmt.Errorf("recording upload: put object: %w", err)
	}

	u.log.Info().Str("recording_sid", recordingSID).Str("key", key).Msg("recording uploaded")
	return fmt.Sprintf("s3://%s/%s", u.bucket, key), nil
}

func (u *S3Uploader) objectKey(recordingSID string) string {
	if u.prefix != "" {
		return u.prefix + "/" + recordingSID + ".wav"
	}
	return recordingSID + ".wav"
}
