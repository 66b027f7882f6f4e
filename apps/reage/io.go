package main

import (
	"context"
	"fmt"
	"image"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/PhantomInTheWire/reage-pipeline/pkg/imageio"
	"github.com/PhantomInTheWire/reage-pipeline/pkg/storage"
)

// storeFor connects to the configured object store, bound to bucket.
func (a *app) storeFor(ctx context.Context, bucket string) (*storage.Store, error) {
	cfg := a.cfg.Storage
	cfg.Bucket = bucket
	cfg.Prefix = ""
	return storage.New(ctx, cfg, a.logger)
}

func (a *app) readImage(ctx context.Context, loc string) (*image.NRGBA, error) {
	bucket, key, ok := storage.ParseURI(loc)
	if !ok {
		return imageio.Load(loc)
	}
	s, err := a.storeFor(ctx, bucket)
	if err != nil {
		return nil, err
	}
	return s.GetImage(ctx, key)
}

func (a *app) writeImage(ctx context.Context, loc string, img image.Image) error {
	bucket, key, ok := storage.ParseURI(loc)
	if !ok {
		if dir := filepath.Dir(loc); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return err
			}
		}
		return imageio.Save(img, loc)
	}
	s, err := a.storeFor(ctx, bucket)
	if err != nil {
		return err
	}
	if err := s.EnsureBucket(ctx); err != nil {
		return err
	}
	return s.PutImage(ctx, key, img)
}

// localInput returns a local path for loc, downloading s3 objects into
// tmp first.
func (a *app) localInput(ctx context.Context, loc, tmp string) (string, error) {
	bucket, key, ok := storage.ParseURI(loc)
	if !ok {
		return loc, nil
	}
	s, err := a.storeFor(ctx, bucket)
	if err != nil {
		return "", err
	}
	dst := filepath.Join(tmp, "in-"+path.Base(key))
	if err := s.Download(ctx, key, dst); err != nil {
		return "", err
	}
	return dst, nil
}

// localOutput maps loc to a local path. The returned publish function
// uploads the result when loc is an s3 URI and is a no-op otherwise.
func (a *app) localOutput(ctx context.Context, loc, tmp string) (string, func() error, error) {
	bucket, key, ok := storage.ParseURI(loc)
	if !ok {
		return loc, func() error { return nil }, nil
	}
	s, err := a.storeFor(ctx, bucket)
	if err != nil {
		return "", nil, err
	}
	local := filepath.Join(tmp, "out-"+path.Base(key))
	publish := func() error {
		if err := s.EnsureBucket(ctx); err != nil {
			return err
		}
		fi, err := os.Stat(local)
		if err != nil {
			return err
		}
		if fi.IsDir() {
			_, err := s.UploadDir(ctx, local, strings.TrimSuffix(key, "/"))
			return err
		}
		return s.Upload(ctx, local, key)
	}
	return local, publish, nil
}

func requireFlag(name, value string) error {
	if value == "" {
		return fmt.Errorf("--%s is required", name)
	}
	return nil
}

// parseUploadTarget accepts "s3://bucket" or "s3://bucket/prefix".
func parseUploadTarget(loc string) (bucket, prefix string, ok bool) {
	rest, found := strings.CutPrefix(loc, "s3://")
	if !found {
		return "", "", false
	}
	bucket, prefix, _ = strings.Cut(rest, "/")
	return bucket, strings.Trim(prefix, "/"), bucket != ""
}
