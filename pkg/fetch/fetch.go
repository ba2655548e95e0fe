package fetch

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/docker/go-units"
	"github.com/oneconcern/tcbuilder/pkg/storage"
	"github.com/oneconcern/tcbuilder/pkg/storage/gcs"
	"github.com/oneconcern/tcbuilder/pkg/storage/sthree"
	"github.com/segmentio/ksuid"
	"github.com/spf13/afero"
	"go.uber.org/zap"
)

// StoreFactory opens the object store holding a bucket
type StoreFactory func(ctx context.Context, bucket string) (storage.Store, error)

// Fetcher downloads images into a directory
type Fetcher struct {
	fs     afero.Fs
	client *http.Client
	stores map[string]StoreFactory
	cache  *cache
	l      *zap.Logger
}

// Option for a Fetcher
type Option func(*Fetcher)

// WithFs sets the filesystem downloads are written to
func WithFs(fs afero.Fs) Option {
	return func(f *Fetcher) {
		f.fs = fs
	}
}

// WithHTTPClient sets the client of http(s) downloads
func WithHTTPClient(c *http.Client) Option {
	return func(f *Fetcher) {
		if c != nil {
			f.client = c
		}
	}
}

// WithStore sets the object store used for a URL scheme
func WithStore(scheme string, factory StoreFactory) Option {
	return func(f *Fetcher) {
		f.stores[scheme] = factory
	}
}

// WithGCSCredentials sets the credentials file of gs:// downloads
func WithGCSCredentials(file string) Option {
	return WithStore("gs", func(ctx context.Context, bucket string) (storage.Store, error) {
		return gcs.New(ctx, bucket, file)
	})
}

// WithCache remembers downloads in a database at path. A source pinned with a sha256sum
// is not downloaded again while the file it was last written to is unchanged.
func WithCache(path string) Option {
	return func(f *Fetcher) {
		if path != "" {
			f.cache = &cache{path: path}
		}
	}
}

// WithLogger for downloads
func WithLogger(l *zap.Logger) Option {
	return func(f *Fetcher) {
		if l != nil {
			f.l = l
		}
	}
}

// New fetcher. S3 credentials and region come from the AWS environment, GCS ones from
// the Google application default credentials.
func New(opts ...Option) *Fetcher {
	f := &Fetcher{
		fs:     afero.NewOsFs(),
		client: http.DefaultClient,
		stores: map[string]StoreFactory{
			"s3": func(_ context.Context, bucket string) (storage.Store, error) {
				return sthree.New(sthree.Bucket(bucket))
			},
			"gs": func(ctx context.Context, bucket string) (storage.Store, error) {
				return gcs.New(ctx, bucket, "")
			},
		},
		l: zap.NewNop(),
	}
	for _, apply := range opts {
		apply(f)
	}
	return f
}

// Fetch downloads a source into dir and returns the path of the file
func (f *Fetcher) Fetch(ctx context.Context, raw, dir string) (string, error) {
	src, err := ParseSource(raw)
	if err != nil {
		return "", err
	}
	logger := f.l.With(zap.String("source", src.String()))
	if err := f.fs.MkdirAll(dir, 0755); err != nil {
		return "", err
	}
	dest := filepath.Join(dir, src.Filename)
	abs, err := filepath.Abs(dest)
	if err != nil {
		return "", err
	}

	rdr, cached := f.cached(src, logger)
	if cached == abs {
		digest, err := digestOf(rdr)
		_ = rdr.Close()
		if err == nil && digest == src.SHA256 {
			logger.Info("image already downloaded", zap.String("path", dest))
			return dest, nil
		}
		logger.Debug("downloaded image changed", zap.String("path", dest))
		cached = ""
	}
	if cached == "" {
		if rdr, err = f.open(ctx, src); err != nil {
			return "", err
		}
	}
	defer rdr.Close()

	partial := filepath.Join(dir, "."+src.Filename+"-"+ksuid.New().String()+".partial")
	n, digest, err := f.write(partial, rdr)
	if err != nil {
		_ = f.fs.Remove(partial)
		return "", ErrDownload.WrapMessage("%s", src).Wrap(err)
	}
	if src.SHA256 != "" && digest != src.SHA256 {
		_ = f.fs.Remove(partial)
		return "", ErrDigestMismatch.WrapMessage("%s: expected %s, got %s", src, src.SHA256, digest)
	}
	if err := f.fs.Rename(partial, dest); err != nil {
		_ = f.fs.Remove(partial)
		return "", err
	}
	logger.Info("image downloaded",
		zap.String("path", dest),
		zap.String("size", units.HumanSize(float64(n))),
		zap.String("sha256", digest),
		zap.Bool("verified", src.SHA256 != ""),
		zap.Bool("cached", cached != ""),
	)
	if f.cache != nil {
		if err := f.cache.record(src.String(), download{Path: abs, Size: n, SHA256: digest, At: time.Now().UTC()}); err != nil {
			logger.Warn("could not record the download", zap.Error(err))
		}
	}
	return dest, nil
}

// cached opens the file a pinned source was last downloaded to, if it is still there with
// the same size. Its content is verified again when copied.
func (f *Fetcher) cached(src Source, l *zap.Logger) (io.ReadCloser, string) {
	if f.cache == nil || src.SHA256 == "" {
		return nil, ""
	}
	d, err := f.cache.lookup(src.String())
	if err != nil {
		l.Warn("download cache unavailable", zap.Error(err))
		return nil, ""
	}
	if d == nil || d.SHA256 != src.SHA256 {
		return nil, ""
	}
	fi, err := f.fs.Stat(d.Path)
	if err != nil || fi.Size() != d.Size {
		l.Debug("cached download changed", zap.String("path", d.Path))
		return nil, ""
	}
	rdr, err := f.fs.Open(d.Path)
	if err != nil {
		return nil, ""
	}
	return rdr, d.Path
}

func (f *Fetcher) open(ctx context.Context, src Source) (io.ReadCloser, error) {
	switch src.URL.Scheme {
	case "http", "https":
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, src.URL.String(), nil)
		if err != nil {
			return nil, ErrInvalidSource.WrapMessage("%s", src).Wrap(err)
		}
		resp, err := f.client.Do(req)
		if err != nil {
			return nil, ErrDownload.WrapMessage("%s", src).Wrap(err)
		}
		if resp.StatusCode != http.StatusOK {
			_ = resp.Body.Close()
			return nil, ErrDownload.WrapMessage("%s: %s", src, resp.Status)
		}
		return resp.Body, nil
	}
	factory, ok := f.stores[src.URL.Scheme]
	if !ok {
		return nil, ErrUnsupportedScheme.WrapMessage("%q", src.URL.Scheme)
	}
	bucket, key := src.Bucket()
	if key == "" {
		return nil, ErrInvalidSource.WrapMessage("%s: no object key", src)
	}
	store, err := factory(ctx, bucket)
	if err != nil {
		return nil, ErrDownload.WrapMessage("%s", src).Wrap(err)
	}
	rdr, err := store.Get(ctx, key)
	if err != nil {
		return nil, ErrDownload.WrapMessage("%s", src).Wrap(err)
	}
	return rdr, nil
}

func digestOf(r io.Reader) (string, error) {
	h := sha256.New()
	if _, err := storage.PipeIO(h, r); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

func (f *Fetcher) write(name string, r io.Reader) (int64, string, error) {
	out, err := f.fs.OpenFile(name, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return 0, "", err
	}
	h := sha256.New()
	n, err := storage.PipeIO(io.MultiWriter(out, h), r)
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return n, "", fmt.Errorf("after %d bytes: %w", n, err)
	}
	return n, hex.EncodeToString(h.Sum(nil)), nil
}
