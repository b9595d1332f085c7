// Package stage materializes declared inputs before the source channels emit
// them: local paths are checked for existence, remote http(s) inputs are
// downloaded into the run's staging area with retries.
package stage

import (
	"crypto/sha256"
	"encoding/hex"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/hashicorp/go-retryablehttp"
	"github.com/pkg/errors"

	"nereus/pkg/api"
	"nereus/pkg/util/context"
)

// Stager resolves input declarations to local files.
type Stager struct {
	dir    string
	client *retryablehttp.Client
}

// New returns a stager writing downloads under dir.
func New(dir string) (*Stager, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, errors.Wrapf(err, "cannot resolve staging dir %s", dir)
	}
	if err := os.MkdirAll(abs, 0755); err != nil {
		return nil, errors.Wrapf(err, "cannot create staging dir %s", abs)
	}
	client := retryablehttp.NewClient()
	client.Logger = nil
	return &Stager{
		dir:    abs,
		client: client,
	}, nil
}

// Stage resolves one input declaration. Remote inputs are fetched once per
// URL; a second Stage of the same URL reuses the downloaded file.
// A missing local input is a ConfigurationError: absent input data aborts the
// run before work is scheduled, it never silently skips.
func (s *Stager) Stage(ctx context.Context, src string) (string, error) {
	if isRemote(src) {
		return s.download(ctx, src)
	}
	abs, err := filepath.Abs(src)
	if err != nil {
		return "", errors.Wrapf(err, "cannot resolve input path %s", src)
	}
	if _, err := os.Stat(abs); err != nil {
		return "", api.Configurationf("input file %s not found", src)
	}
	return abs, nil
}

func isRemote(src string) bool {
	return strings.HasPrefix(src, "http://") || strings.HasPrefix(src, "https://")
}

func (s *Stager) download(ctx context.Context, url string) (string, error) {
	sum := sha256.Sum256([]byte(url))
	name := hex.EncodeToString(sum[:8]) + "-" + filepath.Base(url)
	dst := filepath.Join(s.dir, name)
	if _, err := os.Stat(dst); err == nil {
		return dst, nil
	}

	ctx.Logger().Infof("downloading %s", url)
	req, err := retryablehttp.NewRequest("GET", url, nil)
	if err != nil {
		return "", errors.Wrapf(err, "cannot build request for %s", url)
	}
	resp, err := s.client.Do(req.WithContext(ctx))
	if err != nil {
		return "", errors.Wrapf(err, "cannot download %s", url)
	}
	defer resp.Body.Close()
	if resp.StatusCode != 200 {
		return "", api.Configurationf("input %s returned status %d", url, resp.StatusCode)
	}

	// Per-attempt temp name: concurrent downloads of the same URL each
	// write their own file, so a rename only ever publishes a complete one.
	tmp := dst + ".part-" + uuid.New().String()[:8]
	f, err := os.Create(tmp)
	if err != nil {
		return "", errors.Wrapf(err, "cannot create %s", tmp)
	}
	if _, err := io.Copy(f, resp.Body); err != nil {
		f.Close()
		os.Remove(tmp)
		return "", errors.Wrapf(err, "cannot write %s", tmp)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return "", errors.Wrapf(err, "cannot close %s", tmp)
	}
	if err := os.Rename(tmp, dst); err != nil {
		return "", errors.Wrapf(err, "cannot finalize %s", dst)
	}
	return dst, nil
}
