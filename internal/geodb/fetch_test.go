package geodb

import (
	"bytes"
	"compress/gzip"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"grimm.is/geowall/internal/clock"
)

func gzipBytes(t *testing.T, data []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	_, err := gz.Write(data)
	require.NoError(t, err)
	require.NoError(t, gz.Close())
	return buf.Bytes()
}

func TestFetch_Gzip(t *testing.T) {
	payload := []byte("pretend-mmdb-payload")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(gzipBytes(t, payload))
	}))
	defer srv.Close()

	f := NewFetcher(10*time.Second, nil)
	data, fp, err := f.Fetch(context.Background(), srv.URL+"/db.mmdb.gz")
	require.NoError(t, err)

	assert.Equal(t, payload, data)
	// Fingerprint covers the decompressed bytes, so it matches a fetch of
	// the same content served uncompressed.
	assert.Equal(t, ComputeFingerprint(payload), fp)
}

func TestFetch_PlainEqualsGzip(t *testing.T) {
	payload := []byte("identical-content")
	plain := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(payload)
	}))
	defer plain.Close()
	packed := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(gzipBytes(t, payload))
	}))
	defer packed.Close()

	f := NewFetcher(10*time.Second, nil)
	_, fpPlain, err := f.Fetch(context.Background(), plain.URL+"/db.mmdb")
	require.NoError(t, err)
	_, fpPacked, err := f.Fetch(context.Background(), packed.URL+"/db.mmdb.gz")
	require.NoError(t, err)

	assert.Equal(t, fpPlain, fpPacked)
}

func TestFetch_HTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer srv.Close()

	f := NewFetcher(10*time.Second, nil)
	_, _, err := f.Fetch(context.Background(), srv.URL)

	var fetchErr *FetchError
	require.ErrorAs(t, err, &fetchErr)
	assert.Contains(t, fetchErr.Error(), "404")
}

func TestFetch_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close() // refuse connections

	f := NewFetcher(time.Second, nil)
	_, _, err := f.Fetch(context.Background(), srv.URL)

	var fetchErr *FetchError
	assert.ErrorAs(t, err, &fetchErr)
}

func TestFetch_ContextCancelled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	f := NewFetcher(10*time.Second, nil)
	_, _, err := f.Fetch(ctx, srv.URL)

	var fetchErr *FetchError
	require.ErrorAs(t, err, &fetchErr)
	assert.True(t, errors.Is(err, context.DeadlineExceeded) || fetchErr.Err != nil)
}

func TestMonthlyURL(t *testing.T) {
	mock := clock.NewMockClock(time.Date(2026, 8, 29, 0, 0, 0, 0, time.UTC))
	clock.SetDefault(mock)
	defer clock.SetDefault(nil)

	got := MonthlyURL("https://download.db-ip.com/free/dbip-country-lite-%d-%02d.mmdb.gz")
	assert.Equal(t, "https://download.db-ip.com/free/dbip-country-lite-2026-08.mmdb.gz", got)

	// Pinned URLs pass through untouched.
	pinned := "https://example.com/fixed.mmdb"
	assert.Equal(t, pinned, MonthlyURL(pinned))
}

func TestComputeFingerprint(t *testing.T) {
	a := ComputeFingerprint([]byte("one"))
	b := ComputeFingerprint([]byte("one"))
	c := ComputeFingerprint([]byte("two"))

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.Len(t, string(a), 64)
}
