package s3blob

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/alanyoungcy/breakoutbot/internal/domain"
)

// Reader reads objects from the configured bucket.
type Reader struct {
	api    *s3.Client
	bucket string
}

// NewReader creates a Reader over c's bucket.
func NewReader(c *Client) *Reader {
	return &Reader{api: c.s3, bucket: c.bucket}
}

// Get streams the object stored under key.
func (r *Reader) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	out, err := r.api.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(r.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, r.wrap("get", key, err)
	}
	return out.Body, nil
}

// Stat issues HeadObject for key.
func (r *Reader) Stat(ctx context.Context, key string) (domain.ObjectInfo, error) {
	out, err := r.api.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(r.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return domain.ObjectInfo{}, r.wrap("stat", key, err)
	}
	info := domain.ObjectInfo{Key: key, Size: aws.ToInt64(out.ContentLength)}
	if out.LastModified != nil {
		info.LastModified = *out.LastModified
	}
	return info, nil
}

func (r *Reader) wrap(op, key string, err error) error {
	if isNotFound(err) {
		err = domain.ErrNotFound
	}
	return fmt.Errorf("s3blob: %s s3://%s/%s: %w", op, r.bucket, key, err)
}

// isNotFound matches NoSuchKey (GetObject), NotFound (HeadObject) and a bare
// 404 from stores that send neither.
func isNotFound(err error) bool {
	var nsk *types.NoSuchKey
	var nf *types.NotFound
	if errors.As(err, &nsk) || errors.As(err, &nf) {
		return true
	}
	var status interface{ HTTPStatusCode() int }
	return errors.As(err, &status) && status.HTTPStatusCode() == http.StatusNotFound
}

var _ domain.BlobReader = (*Reader)(nil)
