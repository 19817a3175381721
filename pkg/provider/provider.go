// Package provider abstracts the object stores clipqueue reads remote inputs
// from and publishes finished artifacts to.
//
// Authentication uses SDK default credential chains; providers do not
// implement custom auth logic.
package provider

import (
	"context"
	"io"
	"time"
)

// Provider is an object store addressed by slash-separated keys.
//
// Implementations must be safe for concurrent use.
type Provider interface {
	// Put uploads body under key, replacing any existing object.
	Put(ctx context.Context, key string, body io.Reader, size int64) error

	// Get streams the object at key. Returns ErrNotFound if it does not exist.
	Get(ctx context.Context, key string) (io.ReadCloser, int64, error)

	// Head returns metadata for a single object.
	// Returns ErrNotFound if the object does not exist.
	Head(ctx context.Context, key string) (*ObjectMeta, error)

	// List returns a page of objects with the given prefix.
	List(ctx context.Context, opts ListOptions) (*ListResult, error)

	// URI renders key as a location users can act on ("s3://bucket/key").
	URI(key string) string

	// Close releases any resources held by the provider.
	Close() error
}

// ListOptions configures a List operation.
type ListOptions struct {
	// Prefix filters results to keys starting with this value.
	Prefix string

	// ContinuationToken resumes listing from a previous ListResult.
	ContinuationToken string

	// MaxKeys limits the number of objects returned per page.
	// Zero uses the provider default.
	MaxKeys int
}

// ListResult contains a page of objects from a List operation.
type ListResult struct {
	Objects []ObjectSummary

	// ContinuationToken retrieves the next page. Empty means no more pages.
	ContinuationToken string

	IsTruncated bool
}

// ObjectSummary is the listing view of an object.
type ObjectSummary struct {
	Key          string
	Size         int64
	ETag         string
	LastModified time.Time
}

// ObjectMeta contains full metadata for a single object.
type ObjectMeta struct {
	ObjectSummary

	ContentType string
	Metadata    map[string]string
}

// ProviderType identifies an object store implementation.
type ProviderType string

const (
	// ProviderS3 is AWS S3 or an S3-compatible store.
	ProviderS3 ProviderType = "s3"

	// ProviderFile is a directory on the local filesystem.
	ProviderFile ProviderType = "file"
)

// String returns the string representation of the provider type.
func (p ProviderType) String() string {
	return string(p)
}

// Walk pages through every object under prefix, calling fn for each.
func Walk(ctx context.Context, p Provider, prefix string, fn func(ObjectSummary) error) error {
	token := ""
	for {
		res, err := p.List(ctx, ListOptions{Prefix: prefix, ContinuationToken: token})
		if err != nil {
			return err
		}
		for _, obj := range res.Objects {
			if err := fn(obj); err != nil {
				return err
			}
		}
		if !res.IsTruncated || res.ContinuationToken == "" {
			return nil
		}
		token = res.ContinuationToken
	}
}
