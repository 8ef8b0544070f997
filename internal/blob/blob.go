// Package blob stores uploaded document files in object storage. Keys
// are prefixed with the document's security tier so bucket policies can
// partition access by prefix.
package blob

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/castellan-ai/castellan/internal/tier"
)

// Store is the object storage surface the pipeline depends on.
type Store interface {
	// Put uploads size bytes from r under key.
	Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error
	// Get streams the object at key. The caller closes the reader.
	Get(ctx context.Context, key string) (io.ReadCloser, error)
	// Delete removes the object at key. Deleting a missing key is not
	// an error.
	Delete(ctx context.Context, key string) error
	// Presign returns a time-limited download URL for key.
	Presign(ctx context.Context, key string, expiry time.Duration) (string, error)
}

// Key builds the storage key for a document: the tier prefix, the upload
// date, and the title slug joined to a fresh UUID so re-uploads of the
// same title never collide.
func Key(t tier.Tier, title, filename string, now time.Time) string {
	return fmt.Sprintf("%s/%s/%s_%s%s",
		t,
		now.UTC().Format("2006/01/02"),
		slugify(title),
		uuid.NewString(),
		strings.ToLower(filepath.Ext(filename)),
	)
}

// KeyTier reports the tier prefix of a storage key, failing closed to
// the lowest tier when the prefix is not a known tier.
func KeyTier(key string) tier.Tier {
	prefix, _, _ := strings.Cut(key, "/")
	t := tier.Tier(prefix)
	if !t.Valid() {
		return tier.Low
	}
	return t
}

// slugify lowers the title and squeezes everything outside [a-z0-9]
// into single hyphens.
func slugify(title string) string {
	var b strings.Builder
	lastHyphen := true
	for _, r := range strings.ToLower(title) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			lastHyphen = false
		default:
			if !lastHyphen {
				b.WriteByte('-')
				lastHyphen = true
			}
		}
	}
	s := strings.TrimSuffix(b.String(), "-")
	if s == "" {
		return "document"
	}
	return s
}
