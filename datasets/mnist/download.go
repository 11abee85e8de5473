package mnist

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/vk/pagirun/internal/ctxlog"
)

const downloadTimeout = 5 * time.Minute

// newDownloadClient returns a client with connection pooling shared by the
// four file downloads.
func newDownloadClient(timeout time.Duration) *http.Client {
	return &http.Client{
		Timeout: timeout,
		Transport: &http.Transport{
			MaxIdleConns:        4,
			MaxIdleConnsPerHost: 4,
			IdleConnTimeout:     90 * time.Second,
		},
	}
}

// download fetches base/name into dir/name. The file is written under a
// temporary name and renamed so an interrupted download never leaves a
// partial file behind.
func download(ctx context.Context, client *http.Client, base, dir, name string) error {
	logger := ctxlog.FromContext(ctx)

	src, err := url.JoinPath(base, name)
	if err != nil {
		return fmt.Errorf("mnist: source url %q: %w", base, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, src, nil)
	if err != nil {
		return fmt.Errorf("mnist: failed to create request for %s: %w", src, err)
	}

	logger.Info("Downloading MNIST file.", "url", src)
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("mnist: downloading %s: %w", src, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("mnist: downloading %s: unexpected status %s", src, resp.Status)
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("mnist: %w", err)
	}
	tmp, err := os.CreateTemp(dir, name+".*.part")
	if err != nil {
		return fmt.Errorf("mnist: %w", err)
	}
	defer os.Remove(tmp.Name())

	n, err := io.Copy(tmp, resp.Body)
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return fmt.Errorf("mnist: writing %s: %w", name, err)
	}
	dst := filepath.Join(dir, name)
	if err := os.Rename(tmp.Name(), dst); err != nil {
		return fmt.Errorf("mnist: %w", err)
	}
	logger.Debug("MNIST file downloaded.", "path", dst, "bytes", n)
	return nil
}
