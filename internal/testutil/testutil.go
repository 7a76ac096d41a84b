// Package testutil provides shared test helpers and synthetic scan data.
package testutil

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/banshee-data/linescan/internal/scan"
)

// AssertNoError fails the test if err is not nil.
func AssertNoError(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

// AssertErrorIs fails the test unless err wraps target.
func AssertErrorIs(t *testing.T, err, target error) {
	t.Helper()
	if !errors.Is(err, target) {
		t.Fatalf("error = %v, want %v", err, target)
	}
}

// LocalRequest creates a request that appears to come from localhost, which
// the tsweb debug handlers accept.
func LocalRequest(method, path string, body io.Reader) *http.Request {
	req := httptest.NewRequest(method, path, body)
	req.RemoteAddr = "127.0.0.1:12345"
	return req
}

// Ramp returns n bytes counting up from start.
func Ramp(start byte, n int) []byte {
	out := make([]byte, n)
	for i := range out {
		out[i] = start + byte(i)
	}
	return out
}

// Interleave builds the scanline stream of one staggered colour pass: each
// step sends one line per channel in order, with the channel's per-pass index
// and width bytes set to 16*channel+step.
func Interleave(channels []scan.Channel, steps, width int) []scan.Scanline {
	lines := make([]scan.Scanline, 0, steps*len(channels))
	for step := 0; step < steps; step++ {
		for _, ch := range channels {
			data := make([]byte, width)
			for i := range data {
				data[i] = byte(16*int(ch) + step)
			}
			lines = append(lines, scan.Scanline{Channel: ch, Index: step, Depth: 8, Data: data})
		}
	}
	return lines
}
