package pipeline

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/alanyoungcy/predictionhub/internal/domain"
)

// ImageFetcher downloads an image by gateway reference.
type ImageFetcher interface {
	FetchImage(ctx context.Context, ref string) ([]byte, string, error)
}

// BlobImageStore copies icons from the metadata gateway into object storage
// under images/<kind>/<key>.
type BlobImageStore struct {
	fetcher       ImageFetcher
	writer        domain.BlobWriter
	reader        domain.BlobReader
	publicBaseURL string
}

// NewBlobImageStore creates an image store. reader is optional; when set,
// objects that already exist are not downloaded again.
func NewBlobImageStore(fetcher ImageFetcher, writer domain.BlobWriter, reader domain.BlobReader, publicBaseURL string) *BlobImageStore {
	return &BlobImageStore{
		fetcher:       fetcher,
		writer:        writer,
		reader:        reader,
		publicBaseURL: strings.TrimRight(publicBaseURL, "/"),
	}
}

// StoreImage implements ImageStore.
func (s *BlobImageStore) StoreImage(ctx context.Context, kind, key, ref string) (string, error) {
	path := fmt.Sprintf("images/%s/%s", kind, url.PathEscape(key))

	if s.reader != nil {
		ok, err := s.reader.Exists(ctx, path)
		if err != nil {
			return "", fmt.Errorf("check %s: %w", path, err)
		}
		if ok {
			return s.publicURL(path), nil
		}
	}

	data, contentType, err := s.fetcher.FetchImage(ctx, ref)
	if err != nil {
		return "", err
	}
	if err := s.writer.Put(ctx, path, bytes.NewReader(data), contentType); err != nil {
		return "", fmt.Errorf("upload %s: %w", path, err)
	}
	return s.publicURL(path), nil
}

func (s *BlobImageStore) publicURL(path string) string {
	if s.publicBaseURL == "" {
		return path
	}
	return s.publicBaseURL + "/" + path
}
