// Package objectstore implements the Object Store (OS) binding: opaque
// blob upload returning an immutable public URL and size.
package objectstore

import (
	"context"
	"time"
)

// UploadResult describes the outcome of a successful upload. PublicURL is
// immutable once returned (spec: "public URLs are immutable").
type UploadResult struct {
	PublicURL     string
	FilePath      string
	ContentLength int64
	UploadTime    time.Time
}

// Store is the Object Store contract.
type Store interface {
	// UploadHTML uploads an HTML document under filename, tagging it with
	// meta, and returns its public location.
	UploadHTML(ctx context.Context, html []byte, filename string, meta map[string]string) (*UploadResult, error)
}
