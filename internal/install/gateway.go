package install

import (
	"archive/tar"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/rs/zerolog/log"
)

const gatewayBinaryName = "event-gateway"

type release struct {
	TagName string `json:"tag_name"`
}

// ResolveLatestVersion asks the release source for the latest gateway
// version.
func (m *Manager) ResolveLatestVersion(ctx context.Context) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, m.cfg.ReleaseURL, nil)
	if err != nil {
		return "", fmt.Errorf("creating release request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := m.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetching latest release: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("fetching latest release: unexpected status %d", resp.StatusCode)
	}

	var rel release
	if err := json.NewDecoder(resp.Body).Decode(&rel); err != nil {
		return "", fmt.Errorf("decoding latest release: %w", err)
	}

	version := strings.TrimSpace(rel.TagName)
	if version == "" {
		return "", ErrNoVersion
	}

	log.Debug().Str("version", version).Msg("Resolved latest event gateway version")
	return version, nil
}

// DownloadURL expands the tarball URL template for version on this platform.
func (m *Manager) DownloadURL(version string) string {
	return strings.NewReplacer(
		"{version}", version,
		"{os}", runtime.GOOS,
		"{arch}", runtime.GOARCH,
	).Replace(m.cfg.DownloadURL)
}

func (m *Manager) installGateway(ctx context.Context, version string) error {
	url := m.DownloadURL(version)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("creating download request: %w", err)
	}

	resp, err := m.client.Do(req)
	if err != nil {
		return fmt.Errorf("downloading %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("downloading %s: unexpected status %d", url, resp.StatusCode)
	}

	gz, err := gzip.NewReader(resp.Body)
	if err != nil {
		return fmt.Errorf("opening archive: %w", err)
	}
	defer gz.Close()

	return extractBinary(tar.NewReader(gz), m.cfg.GatewayPath)
}

// extractBinary writes the gateway entry of the archive to dest. The file is
// written next to dest and renamed into place.
func extractBinary(tr *tar.Reader, dest string) error {
	for {
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			return ErrBinaryNotFound
		}
		if err != nil {
			return fmt.Errorf("reading archive: %w", err)
		}

		if hdr.Typeflag != tar.TypeReg {
			continue
		}
		name := strings.TrimSuffix(path.Base(hdr.Name), ".exe")
		if name != gatewayBinaryName {
			continue
		}

		return writeExecutable(tr, dest)
	}
}

func writeExecutable(r io.Reader, dest string) error {
	dir := filepath.Dir(dest)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, "."+gatewayBinaryName+"-*")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := io.Copy(tmp, r); err != nil {
		tmp.Close()
		return fmt.Errorf("writing binary: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("writing binary: %w", err)
	}
	if err := os.Chmod(tmpName, 0o755); err != nil { //nolint:gosec // Binary must be executable
		return fmt.Errorf("setting permissions: %w", err)
	}
	if err := os.Rename(tmpName, dest); err != nil {
		return fmt.Errorf("moving binary into place: %w", err)
	}

	return nil
}
