package s3blob

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/alanyoungcy/papersim/internal/domain"
)

// Reader browses the archive under one prefix. Objects in the bucket that
// do not follow the archive layout are invisible to it.
type Reader struct {
	client *Client
	layout layout
}

// NewReader creates a Reader for the archive rooted at prefix.
func NewReader(c *Client, prefix string) *Reader {
	return &Reader{client: c, layout: newLayout(prefix)}
}

// Open returns the body of one archive file. The caller closes it.
func (r *Reader) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	f, err := r.layout.parse(key)
	if err != nil {
		return nil, err
	}
	out, err := r.client.s3.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(r.client.bucket),
		Key:    aws.String(f.Key),
	})
	if err != nil {
		if isNotFound(err) {
			return nil, fmt.Errorf("s3blob: open %s: %w", f.Key, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("s3blob: open %s: %w", f.Key, err)
	}
	return out.Body, nil
}

// List returns the archive files of one kind, or of every kind when kind is
// empty, ordered by kind and then by their oldest row.
func (r *Reader) List(ctx context.Context, kind domain.ArchiveKind) ([]domain.ArchiveFile, error) {
	dir := r.layout.dir(kind)
	paginator := s3.NewListObjectsV2Paginator(r.client.s3, &s3.ListObjectsV2Input{
		Bucket: aws.String(r.client.bucket),
		Prefix: aws.String(dir),
	})

	var files []domain.ArchiveFile
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("s3blob: list %s: %w", dir, err)
		}
		for _, obj := range page.Contents {
			f, err := r.layout.parse(aws.ToString(obj.Key))
			if err != nil {
				continue
			}
			f.Size = aws.ToInt64(obj.Size)
			f.LastModified = aws.ToTime(obj.LastModified)
			files = append(files, f)
		}
	}

	sort.Slice(files, func(i, j int) bool {
		if files[i].Kind != files[j].Kind {
			return files[i].Kind < files[j].Kind
		}
		return files[i].FirstAt.Before(files[j].FirstAt)
	})
	return files, nil
}

// Exists reports whether key has been uploaded. The archiver uses it to
// confirm a batch before deleting its rows.
func (r *Reader) Exists(ctx context.Context, key string) (bool, error) {
	_, err := r.client.s3.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(r.client.bucket),
		Key:    aws.String(key),
	})
	switch {
	case err == nil:
		return true, nil
	case isNotFound(err):
		return false, nil
	default:
		return false, fmt.Errorf("s3blob: head %s: %w", key, err)
	}
}

// isNotFound recognises a missing object. GetObject reports NoSuchKey,
// HeadObject a bare NotFound, and some compatible stores only a 404.
func isNotFound(err error) bool {
	var nsk *types.NoSuchKey
	var nf *types.NotFound
	var status interface{ HTTPStatusCode() int }
	switch {
	case errors.As(err, &nsk), errors.As(err, &nf):
		return true
	case errors.As(err, &status):
		return status.HTTPStatusCode() == http.StatusNotFound
	}
	return false
}

var _ domain.ArchiveReader = (*Reader)(nil)
