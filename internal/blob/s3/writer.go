package s3blob

import (
	"bytes"
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/alanyoungcy/papersim/internal/domain"
)

const (
	// partSize is the S3 minimum multipart part (5 MiB). Batches above it
	// go through the upload manager.
	partSize int64 = 5 * 1024 * 1024

	jsonlContentType = "application/x-ndjson"
)

// Writer stores archive batches in the client's bucket.
type Writer struct {
	client   *Client
	uploader *manager.Uploader
}

// NewWriter creates a Writer on c.
func NewWriter(c *Client) *Writer {
	return &Writer{
		client: c,
		uploader: manager.NewUploader(c.s3, func(u *manager.Uploader) {
			u.PartSize = partSize
		}),
	}
}

// PutBatch uploads one JSONL batch, in parts once it outgrows a single part.
func (w *Writer) PutBatch(ctx context.Context, key string, body []byte) error {
	input := &s3.PutObjectInput{
		Bucket:      aws.String(w.client.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String(jsonlContentType),
	}

	var err error
	if int64(len(body)) > partSize {
		_, err = w.uploader.Upload(ctx, input)
	} else {
		_, err = w.client.s3.PutObject(ctx, input)
	}
	if err != nil {
		return fmt.Errorf("s3blob: put %s (%d bytes): %w", key, len(body), err)
	}
	return nil
}

var _ domain.ArchiveWriter = (*Writer)(nil)
