// Package archive ships closed projects to object storage. A bundle is a
// tar.gz of the artifact tree at the final revision plus the full audit
// ledger file, so a retired project can be inspected without the live system.
package archive

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"context"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// Config carries the object-store connection settings.
type Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

// Archiver uploads project bundles to an S3-compatible store.
type Archiver struct {
	client *minio.Client
	bucket string
}

// New connects to the object store and ensures the bucket exists.
func New(ctx context.Context, cfg Config) (*Archiver, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("connect object store: %w", err)
	}

	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("check bucket %s: %w", cfg.Bucket, err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("create bucket %s: %w", cfg.Bucket, err)
		}
	}

	return &Archiver{client: client, bucket: cfg.Bucket}, nil
}

// ArchiveProject bundles files (path -> content) and the ledger file at
// ledgerPath, then uploads the bundle. Returns the object key.
func (a *Archiver) ArchiveProject(ctx context.Context, projectKey string, files map[string][]byte, ledgerPath string) (string, error) {
	bundle, err := buildBundle(projectKey, files, ledgerPath)
	if err != nil {
		return "", err
	}

	key := fmt.Sprintf("%s/%s.tar.gz", projectKey, time.Now().UTC().Format("20060102T150405Z"))
	_, err = a.client.PutObject(ctx, a.bucket, key, bytes.NewReader(bundle), int64(len(bundle)), minio.PutObjectOptions{
		ContentType: "application/gzip",
	})
	if err != nil {
		return "", fmt.Errorf("upload bundle %s: %w", key, err)
	}
	return key, nil
}

// buildBundle produces a deterministic tar.gz: artifacts sorted by path under
// artifacts/, the ledger under audit/.
func buildBundle(projectKey string, files map[string][]byte, ledgerPath string) ([]byte, error) {
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gz)

	paths := make([]string, 0, len(files))
	for p := range files {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	for _, p := range paths {
		if err := writeEntry(tw, "artifacts/"+p, files[p]); err != nil {
			return nil, err
		}
	}

	if ledgerPath != "" {
		ledger, err := os.ReadFile(ledgerPath)
		if err != nil {
			return nil, fmt.Errorf("read ledger for %s: %w", projectKey, err)
		}
		if err := writeEntry(tw, "audit/"+projectKey+".log", ledger); err != nil {
			return nil, err
		}
	}

	if err := tw.Close(); err != nil {
		return nil, fmt.Errorf("close tar: %w", err)
	}
	if err := gz.Close(); err != nil {
		return nil, fmt.Errorf("close gzip: %w", err)
	}
	return buf.Bytes(), nil
}

func writeEntry(tw *tar.Writer, name string, content []byte) error {
	hdr := &tar.Header{
		Name: name,
		Mode: 0o644,
		Size: int64(len(content)),
	}
	if err := tw.WriteHeader(hdr); err != nil {
		return fmt.Errorf("write tar header %s: %w", name, err)
	}
	if _, err := tw.Write(content); err != nil {
		return fmt.Errorf("write tar entry %s: %w", name, err)
	}
	return nil
}
