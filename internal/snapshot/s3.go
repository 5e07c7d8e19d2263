// Copyright 2026 The Trackio Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package snapshot

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// MirrorConfig locates the remote object store used for snapshot and
// media mirroring.
type MirrorConfig struct {
	Bucket    string
	Prefix    string
	Region    string
	Endpoint  string
	AccessKey string
	SecretKey string
}

// Mirror copies snapshot files and the media tree to an S3-compatible
// bucket, and pulls missing snapshots back at startup.
type Mirror struct {
	client   *s3.Client
	uploader *manager.Uploader
	bucket   string
	prefix   string
	localDir string
	logger   *slog.Logger
}

// NewMirror creates a mirror for localDir. Custom endpoints (MinIO and
// friends) need path-style addressing.
func NewMirror(ctx context.Context, cfg MirrorConfig, localDir string, logger *slog.Logger) (*Mirror, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("mirror bucket is required")
	}
	if logger == nil {
		logger = slog.Default()
	}

	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}

	loadOpts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(region),
	}
	if cfg.AccessKey != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, "")))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})

	return &Mirror{
		client:   client,
		uploader: manager.NewUploader(client),
		bucket:   cfg.Bucket,
		prefix:   strings.Trim(cfg.Prefix, "/"),
		localDir: localDir,
		logger:   logger.With(slog.String("component", "mirror")),
	}, nil
}

func (m *Mirror) key(relPath string) string {
	key := filepath.ToSlash(relPath)
	if m.prefix != "" {
		key = m.prefix + "/" + key
	}
	return key
}

// UploadFile mirrors one file under localDir to the bucket.
func (m *Mirror) UploadFile(ctx context.Context, path string) error {
	rel, err := filepath.Rel(m.localDir, path)
	if err != nil {
		rel = filepath.Base(path)
	}

	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	_, err = m.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket: aws.String(m.bucket),
		Key:    aws.String(m.key(rel)),
		Body:   f,
	})
	if err != nil {
		return fmt.Errorf("failed to upload %s: %w", rel, err)
	}

	m.logger.Debug("mirrored file", slog.String("key", m.key(rel)))
	return nil
}

// UploadTree mirrors every file under root (a subdirectory of localDir).
func (m *Mirror) UploadTree(ctx context.Context, root string) error {
	return filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		return m.UploadFile(ctx, path)
	})
}

// Pull downloads a remote object into localDir when no local copy
// exists. Missing remote objects are not an error; fresh hosts simply
// have nothing to restore.
func (m *Mirror) Pull(ctx context.Context, relPath string) error {
	local := filepath.Join(m.localDir, filepath.FromSlash(relPath))
	if _, err := os.Stat(local); err == nil {
		return nil
	}

	out, err := m.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(m.bucket),
		Key:    aws.String(m.key(relPath)),
	})
	if err != nil {
		var noKey *types.NoSuchKey
		if errors.As(err, &noKey) {
			return nil
		}
		return fmt.Errorf("failed to fetch %s: %w", relPath, err)
	}
	defer out.Body.Close()

	if err := os.MkdirAll(filepath.Dir(local), 0o755); err != nil {
		return fmt.Errorf("failed to create local dir: %w", err)
	}

	tmp := local + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", local, err)
	}
	if _, err := io.Copy(f, out.Body); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("failed to download %s: %w", relPath, err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	if err := os.Rename(tmp, local); err != nil {
		os.Remove(tmp)
		return err
	}

	m.logger.Info("pulled snapshot", slog.String("path", relPath))
	return nil
}

// PullProject restores a project's snapshot files from the bucket.
func (m *Mirror) PullProject(ctx context.Context, project string) error {
	for _, name := range []string{
		project + ".parquet",
		project + "_system.parquet",
		project + "_configs.parquet",
	} {
		if err := m.Pull(ctx, name); err != nil {
			return err
		}
	}
	return nil
}
