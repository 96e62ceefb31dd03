package transport

import (
	"context"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/ignite/campaign-mailer/internal/domain"
)

// maxAttachmentBytes caps a single attachment; SES rejects raw messages
// over 40MB once base64 expanded.
const maxAttachmentBytes = 25 << 20

// AttachmentStore loads attachment bodies referenced by a campaign.
type AttachmentStore interface {
	Load(ctx context.Context, refs []domain.Attachment) ([]domain.Attachment, error)
}

// S3API is the subset of the S3 client the store uses.
type S3API interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// S3AttachmentStore reads attachments from one S3 bucket.
type S3AttachmentStore struct {
	client S3API
	bucket string
}

// NewS3AttachmentStore creates a store using the default AWS credential chain.
func NewS3AttachmentStore(ctx context.Context, bucket, region string) (*S3AttachmentStore, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("loading AWS config: %w", err)
	}
	return NewS3AttachmentStoreWithClient(s3.NewFromConfig(cfg), bucket), nil
}

// NewS3AttachmentStoreWithClient wraps an existing S3 client.
func NewS3AttachmentStoreWithClient(client S3API, bucket string) *S3AttachmentStore {
	return &S3AttachmentStore{client: client, bucket: bucket}
}

// Load fetches every referenced object. Any failure fails the whole load.
func (s *S3AttachmentStore) Load(ctx context.Context, refs []domain.Attachment) ([]domain.Attachment, error) {
	out := make([]domain.Attachment, 0, len(refs))
	for _, ref := range refs {
		obj, err := s.client.GetObject(ctx, &s3.GetObjectInput{
			Bucket: aws.String(s.bucket),
			Key:    aws.String(ref.StorageKey),
		})
		if err != nil {
			return nil, fmt.Errorf("get attachment %s: %w", ref.StorageKey, err)
		}
		data, err := io.ReadAll(io.LimitReader(obj.Body, maxAttachmentBytes+1))
		obj.Body.Close()
		if err != nil {
			return nil, fmt.Errorf("read attachment %s: %w", ref.StorageKey, err)
		}
		if len(data) > maxAttachmentBytes {
			return nil, fmt.Errorf("attachment %s exceeds %d bytes", ref.StorageKey, maxAttachmentBytes)
		}

		a := ref
		a.Content = data
		if a.ContentType == "" && obj.ContentType != nil {
			a.ContentType = *obj.ContentType
		}
		out = append(out, a)
	}
	return out, nil
}
