package upload

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"mime"
	"path"
	"strings"
	"time"

	"github.com/graham924/blog-feng-yu/internal/domain"
	"github.com/graham924/blog-feng-yu/pkg/storage"
)

// Uploader stores files under a directory prefix using content-addressed
// names, so the same clip uploaded twice is written once.
type Uploader struct {
	store     storage.Storage
	prefix    string
	urlExpiry time.Duration
}

func NewUploader(store storage.Storage, prefix string, urlExpiry time.Duration) *Uploader {
	prefix = strings.Trim(prefix, "/")
	if prefix != "" {
		prefix += "/"
	}
	return &Uploader{store: store, prefix: prefix, urlExpiry: urlExpiry}
}

// Key returns the object key for content uploaded as fileName.
func (u *Uploader) Key(fileName string, content []byte) string {
	sum := md5.Sum(content)
	return u.prefix + hex.EncodeToString(sum[:]) + strings.ToLower(path.Ext(fileName))
}

// Upload stores content unless an object with the same key exists and
// returns its access URL. Failures wrap domain.ErrStorage.
func (u *Uploader) Upload(ctx context.Context, fileName string, content []byte) (string, error) {
	key := u.Key(fileName, content)

	exists, err := u.store.Exists(ctx, key)
	if err != nil {
		return "", fmt.Errorf("%w: check %s: %v", domain.ErrStorage, key, err)
	}

	if !exists {
		contentType := mime.TypeByExtension(path.Ext(key))
		if contentType == "" {
			contentType = "application/octet-stream"
		}
		if err := u.store.Write(ctx, key, bytes.NewReader(content), int64(len(content)), contentType); err != nil {
			return "", fmt.Errorf("%w: write %s: %v", domain.ErrStorage, key, err)
		}
	}

	url, err := u.store.GetURL(ctx, key, u.urlExpiry)
	if err != nil {
		return "", fmt.Errorf("%w: url for %s: %v", domain.ErrStorage, key, err)
	}
	return url, nil
}
