// Package payload caps the size of provider responses.
package payload

import (
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net/http"
)

// ErrTooLarge is returned once a response body passes its limit.
var ErrTooLarge = errors.New("response payload too large")

// EncodedLimit is the base64 length of limit decoded bytes plus room for the JSON envelope.
func EncodedLimit(limit int64) int64 {
	const envelope = 64 * 1024
	return int64(base64.StdEncoding.EncodedLen(int(limit))) + envelope
}

// ReadAll reads r up to limit bytes and fails with ErrTooLarge beyond that.
func ReadAll(r io.Reader, limit int64) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(r, limit+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > limit {
		return nil, fmt.Errorf("%w: more than %d bytes", ErrTooLarge, limit)
	}
	return data, nil
}

// ReadHead drains r up to limit bytes and returns at most the first keep of them.
// It fails with ErrTooLarge when r holds more than limit bytes. Error bodies go
// through it so the size cap applies whatever the status.
func ReadHead(r io.Reader, limit, keep int64) ([]byte, error) {
	head := &headWriter{keep: keep}
	n, err := io.Copy(head, io.LimitReader(r, limit+1))
	if err != nil {
		return head.buf, err
	}
	if n > limit {
		return head.buf, fmt.Errorf("%w: more than %d bytes", ErrTooLarge, limit)
	}
	return head.buf, nil
}

// TooLarge reports whether the declared length of resp already exceeds limit.
func TooLarge(resp *http.Response, limit int64) bool {
	return resp.ContentLength > limit
}

type headWriter struct {
	buf  []byte
	keep int64
}

func (w *headWriter) Write(p []byte) (int, error) {
	if room := w.keep - int64(len(w.buf)); room > 0 {
		if int64(len(p)) < room {
			room = int64(len(p))
		}
		w.buf = append(w.buf, p[:room]...)
	}
	return len(p), nil
}

// Transport wraps an http.RoundTripper so response bodies fail with ErrTooLarge past Limit.
// It guards clients whose body reading happens inside an SDK.
type Transport struct {
	Base  http.RoundTripper
	Limit int64
}

// RoundTrip implements http.RoundTripper.
func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	base := t.Base
	if base == nil {
		base = http.DefaultTransport
	}

	resp, err := base.RoundTrip(req)
	if err != nil {
		return nil, err
	}

	if TooLarge(resp, t.Limit) {
		resp.Body.Close()
		return nil, fmt.Errorf("%w: content length %d", ErrTooLarge, resp.ContentLength)
	}

	resp.Body = &limitedBody{ReadCloser: resp.Body, remaining: t.Limit}
	return resp, nil
}

type limitedBody struct {
	io.ReadCloser
	remaining int64
}

func (b *limitedBody) Read(p []byte) (int, error) {
	if b.remaining <= 0 {
		// One more byte decides between a clean EOF and an oversized body.
		var extra [1]byte
		n, err := b.ReadCloser.Read(extra[:])
		if n > 0 {
			return 0, ErrTooLarge
		}
		return 0, err
	}
	if int64(len(p)) > b.remaining {
		p = p[:b.remaining]
	}
	n, err := b.ReadCloser.Read(p)
	b.remaining -= int64(n)
	return n, err
}
