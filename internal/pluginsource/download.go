package pluginsource

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/hochfrequenz/phaseforge/internal/domain"
)

const (
	downloadTimeout = 5 * time.Minute
	markerFile      = ".artifact"
)

// errNotFound is returned by fetch helpers on HTTP 404
var errNotFound = fmt.Errorf("%w: remote returned 404", domain.ErrArtifactNotFound)

// diskCache remembers the artifact path of a completed download in its directory
type diskCache struct {
	root string
}

func (c diskCache) dir(source string, cfg Config) string {
	return filepath.Join(c.root, source, cfg.Name, cfg.Version)
}

// lookup returns the artifact recorded in dir, if it still exists
func (c diskCache) lookup(dir string) (string, bool) {
	data, err := os.ReadFile(filepath.Join(dir, markerFile))
	if err != nil {
		return "", false
	}
	path := strings.TrimSpace(string(data))
	if info, err := os.Stat(path); err != nil || !info.Mode().IsRegular() {
		return "", false
	}
	return path, true
}

func (c diskCache) store(dir, path string) error {
	return os.WriteFile(filepath.Join(dir, markerFile), []byte(path+"\n"), 0644)
}

// downloadFile downloads a URL to a local file
func downloadFile(ctx context.Context, client *http.Client, url, dest string, header http.Header) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}

	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return errNotFound
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("download failed with status %d", resp.StatusCode)
	}

	if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
		return err
	}
	tmp := dest + ".part"
	out, err := os.Create(tmp)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, resp.Body); err != nil {
		out.Close()
		os.Remove(tmp)
		return err
	}
	if err := out.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, dest)
}

// unpack returns the plugin file for a downloaded asset, extracting archives in place
func unpack(path string) (string, error) {
	if !strings.HasSuffix(path, ".tar.gz") && !strings.HasSuffix(path, ".tgz") {
		return path, nil
	}
	return extractTarGz(path, filepath.Dir(path))
}

// extractTarGz extracts the single shared object contained in a tar.gz archive
func extractTarGz(archivePath, destDir string) (string, error) {
	f, err := os.Open(archivePath)
	if err != nil {
		return "", err
	}
	defer f.Close()

	gzr, err := gzip.NewReader(f)
	if err != nil {
		return "", err
	}
	defer gzr.Close()

	tr := tar.NewReader(gzr)
	var extracted []string

	for {
		header, err := tr.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", err
		}

		// Only the plugin itself is of interest; it may sit in a subdirectory
		baseName := filepath.Base(header.Name)
		if header.Typeflag != tar.TypeReg || !strings.HasSuffix(baseName, ".so") {
			continue
		}
		destPath := filepath.Join(destDir, baseName)
		if err := writeFile(destPath, tr); err != nil {
			return "", err
		}
		extracted = append(extracted, destPath)
	}

	switch len(extracted) {
	case 0:
		return "", fmt.Errorf("%w: no .so file in %s", domain.ErrArtifactNotFound, filepath.Base(archivePath))
	case 1:
		return extracted[0], nil
	default:
		return "", fmt.Errorf("%w: %d .so files in %s", domain.ErrAmbiguousArtifact, len(extracted), filepath.Base(archivePath))
	}
}

func writeFile(dest string, r io.Reader) error {
	out, err := os.OpenFile(dest, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0755)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, r); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
