// Package geodb retrieves and decodes the DB-IP country database.
//
// The fetch half downloads the monthly MMDB archive and fingerprints the
// decompressed bytes; the decode half turns those bytes into per-country
// address ranges. Both halves are pure with respect to kernel state.
package geodb

import (
	"compress/gzip"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"grimm.is/geowall/internal/clock"
	"grimm.is/geowall/internal/logging"
)

// maxDatabaseSize bounds the decompressed database read. The country-lite
// database is currently ~60 MB decompressed.
const maxDatabaseSize = 512 * 1024 * 1024

// Fingerprint is the hex SHA-256 of the decompressed database bytes. Two
// runs that observe the same Fingerprint never re-decode or re-apply.
type Fingerprint string

// ComputeFingerprint hashes decompressed database bytes. The hash is always
// content-based; transport metadata (ETag, Last-Modified) never participates,
// so equivalent databases served differently compare equal.
func ComputeFingerprint(data []byte) Fingerprint {
	sum := sha256.Sum256(data)
	return Fingerprint(hex.EncodeToString(sum[:]))
}

// MonthlyURL expands a URL pattern with the current year and month. Patterns
// without fmt verbs are returned unchanged, which permits pinning a fixed
// snapshot URL in config.
func MonthlyURL(pattern string) string {
	if !strings.Contains(pattern, "%") {
		return pattern
	}
	now := clock.Now().UTC()
	return fmt.Sprintf(pattern, now.Year(), int(now.Month()))
}

// Fetcher downloads the geo database over HTTPS.
type Fetcher struct {
	client *http.Client
	logger *logging.Logger
}

// NewFetcher creates a fetcher with the given download timeout.
func NewFetcher(timeout time.Duration, logger *logging.Logger) *Fetcher {
	if logger == nil {
		logger = logging.Default()
	}
	return &Fetcher{
		client: &http.Client{Timeout: timeout},
		logger: logger.WithComponent("fetch"),
	}
}

// Fetch downloads the database at url, transparently decompressing gzip, and
// returns the decompressed bytes plus their Fingerprint. All failures are
// reported as *FetchError so callers can fall back to a cached snapshot.
func (f *Fetcher) Fetch(ctx context.Context, url string) ([]byte, Fingerprint, error) {
	f.logger.Info("downloading geo database", "url", url)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, "", &FetchError{URL: url, Err: err}
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, "", &FetchError{URL: url, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, "", &FetchError{URL: url, Err: fmt.Errorf("unexpected status %d", resp.StatusCode)}
	}

	var reader io.Reader = resp.Body
	if strings.HasSuffix(url, ".gz") || resp.Header.Get("Content-Encoding") == "gzip" {
		gz, err := gzip.NewReader(resp.Body)
		if err != nil {
			return nil, "", &FetchError{URL: url, Err: fmt.Errorf("gzip: %w", err)}
		}
		defer gz.Close()
		reader = gz
	}

	data, err := io.ReadAll(io.LimitReader(reader, maxDatabaseSize))
	if err != nil {
		return nil, "", &FetchError{URL: url, Err: err}
	}
	if len(data) == maxDatabaseSize {
		return nil, "", &FetchError{URL: url, Err: fmt.Errorf("database exceeds %d bytes", maxDatabaseSize)}
	}

	fp := ComputeFingerprint(data)
	f.logger.Info("download complete", "bytes", len(data), "fingerprint", string(fp[:16]))
	return data, fp, nil
}
