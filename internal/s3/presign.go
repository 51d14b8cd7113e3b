package s3

import (
	"context"
	"fmt"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
)

// maxTTL is the longest expiry S3 accepts for a presigned URL.
const maxTTL = 7 * 24 * time.Hour

// Service presigns attachment downloads. Uploads always go through the API so
// the status gating applies.
type Service struct {
	Client *minio.Client
	Bucket string
	TTL    time.Duration
}

// ObjectKey is where an attachment of a ticket is stored.
func ObjectKey(ticketID, attachmentID string) string {
	return path.Join("tickets", ticketID, attachmentID)
}

// PresignGet creates a short-lived download URL that forces the original filename.
func (s Service) PresignGet(ctx context.Context, objectKey, filename string) (string, error) {
	ttl := s.TTL
	if ttl == 0 {
		ttl = 5 * time.Minute
	}
	if ttl < time.Second || ttl > maxTTL {
		return "", fmt.Errorf("invalid ttl %s", ttl)
	}
	vals := url.Values{}
	if name := dispositionName(filename); name != "" {
		vals.Set("response-content-disposition", "attachment; filename=\""+name+"\"")
	}
	u, err := s.Client.PresignedGetObject(ctx, s.Bucket, objectKey, ttl, vals)
	if err != nil {
		return "", err
	}
	return u.String(), nil
}

func dispositionName(filename string) string {
	name := path.Base(strings.ReplaceAll(filename, "\\", "/"))
	if name == "." || name == "/" {
		return ""
	}
	return strings.Map(func(r rune) rune {
		if r == '"' || r < 0x20 {
			return -1
		}
		return r
	}, name)
}
