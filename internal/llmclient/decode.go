package llmclient

import (
	"compress/gzip"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/andybalholm/brotli"
)

// maxResponseBytes caps buffered (non-streaming) vendor responses.
const maxResponseBytes = 32 << 20

// decodeBody wraps the response body in a decompressor matching its
// Content-Encoding. Closing the returned reader closes the original body.
func decodeBody(resp *http.Response) (io.ReadCloser, error) {
	encoding := strings.ToLower(strings.TrimSpace(resp.Header.Get("Content-Encoding")))
	switch encoding {
	case "", "identity":
		return resp.Body, nil
	case "br":
		return &decodedBody{Reader: brotli.NewReader(resp.Body), body: resp.Body}, nil
	case "gzip", "x-gzip":
		zr, err := gzip.NewReader(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("open gzip body: %w", err)
		}
		return &decodedBody{Reader: zr, body: resp.Body, closer: zr}, nil
	default:
		return nil, fmt.Errorf("unsupported content encoding %q", encoding)
	}
}

// readBody reads the full decoded body, bounded by maxResponseBytes.
func readBody(resp *http.Response) ([]byte, error) {
	body, err := decodeBody(resp)
	if err != nil {
		return nil, err
	}
	return io.ReadAll(io.LimitReader(body, maxResponseBytes))
}

type decodedBody struct {
	io.Reader
	body   io.Closer
	closer io.Closer
}

func (d *decodedBody) Close() error {
	if d.closer != nil {
		_ = d.closer.Close()
	}
	return d.body.Close()
}
