package artifact

import (
	"bytes"
	"context"
	"fmt"
	"path"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// ObjectMirror uploads committed artifacts to an S3-compatible bucket.
// The local store remains the source of truth; the mirror exists so audit
// evidence survives the machine the run happened on.
type ObjectMirror struct {
	client *minio.Client
	bucket string
	prefix string
}

// MirrorConfig holds the connection settings for an ObjectMirror.
type MirrorConfig struct {
	Endpoint  string `yaml:"endpoint"`
	Bucket    string `yaml:"bucket"`
	Prefix    string `yaml:"prefix"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	UseSSL    bool   `yaml:"use_ssl"`
}

// Enabled reports whether the config names a mirror target at all.
func (c MirrorConfig) Enabled() bool { return c.Endpoint != "" && c.Bucket != "" }

// NewObjectMirror connects to the configured S3-compatible endpoint.
func NewObjectMirror(cfg MirrorConfig) (*ObjectMirror, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("connect artifact mirror %q: %w", cfg.Endpoint, err)
	}
	return &ObjectMirror{client: client, bucket: cfg.Bucket, prefix: cfg.Prefix}, nil
}

// Put implements Mirror.
func (m *ObjectMirror) Put(ctx context.Context, name string, data []byte, contentType string) error {
	key := name
	if m.prefix != "" {
		key = path.Join(m.prefix, name)
	}
	_, err := m.client.PutObject(ctx, m.bucket, key,
		bytes.NewReader(data), int64(len(data)),
		minio.PutObjectOptions{ContentType: contentType},
	)
	if err != nil {
		return fmt.Errorf("upload %s to %s/%s: %w", name, m.bucket, key, err)
	}
	return nil
}
