// internal/network/compression.go
package network

import (
	"bufio"
	"compress/flate"
	"compress/gzip"
	"compress/zlib"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"

	"github.com/andybalholm/brotli"
)

var (
	gzipPool   = sync.Pool{New: func() interface{} { return new(gzip.Reader) }}
	brotliPool = sync.Pool{New: func() interface{} { return brotli.NewReader(nil) }}
	drained    = strings.NewReader("")
)

// decoder opens one Content-Encoding layer over r. release, when non-nil,
// returns pooled state once the body is closed.
type decoder func(r io.Reader) (rc io.ReadCloser, release func(), err error)

var decoders = map[string]decoder{
	"gzip":    decodeGzip,
	"x-gzip":  decodeGzip,
	"br":      decodeBrotli,
	"deflate": decodeDeflate,
}

func decodeGzip(r io.Reader) (io.ReadCloser, func(), error) {
	zr := gzipPool.Get().(*gzip.Reader)
	if err := zr.Reset(r); err != nil {
		gzipPool.Put(zr)
		return nil, nil, fmt.Errorf("gzip: %w", err)
	}
	return zr, func() {
		_ = zr.Reset(drained)
		gzipPool.Put(zr)
	}, nil
}

func decodeBrotli(r io.Reader) (io.ReadCloser, func(), error) {
	br := brotliPool.Get().(*brotli.Reader)
	if err := br.Reset(r); err != nil {
		brotliPool.Put(br)
		return nil, nil, fmt.Errorf("brotli: %w", err)
	}
	return io.NopCloser(br), func() {
		_ = br.Reset(drained)
		brotliPool.Put(br)
	}, nil
}

// decodeDeflate accepts zlib-wrapped deflate and falls back to raw deflate,
// which some servers send despite the header.
func decodeDeflate(r io.Reader) (io.ReadCloser, func(), error) {
	buf := bufio.NewReader(r)
	if hdr, err := buf.Peek(2); err == nil && isZlibHeader(hdr[0], hdr[1]) {
		zr, err := zlib.NewReader(buf)
		if err != nil {
			return nil, nil, fmt.Errorf("deflate: %w", err)
		}
		return zr, nil, nil
	}
	return flate.NewReader(buf), nil, nil
}

// CompressionMiddleware advertises br, gzip and deflate and transparently
// decodes the response body.
type CompressionMiddleware struct {
	Transport http.RoundTripper
}

// NewCompressionMiddleware wraps transport, defaulting to http.DefaultTransport.
func NewCompressionMiddleware(transport http.RoundTripper) *CompressionMiddleware {
	if transport == nil {
		transport = http.DefaultTransport
	}
	return &CompressionMiddleware{Transport: transport}
}

func (cm *CompressionMiddleware) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.Header.Get("Accept-Encoding") == "" {
		req = req.Clone(req.Context())
		req.Header.Set("Accept-Encoding", "br, gzip, deflate")
	}

	resp, err := cm.Transport.RoundTrip(req)
	if err != nil {
		return nil, err
	}
	if err := DecompressResponse(resp); err != nil {
		_ = resp.Body.Close()
		return nil, fmt.Errorf("failed to initialize response decompression: %w", err)
	}
	return resp, nil
}

// CloseIdleConnections forwards to the wrapped transport.
func (cm *CompressionMiddleware) CloseIdleConnections() {
	closeIdle(cm.Transport)
}

func closeIdle(rt http.RoundTripper) {
	if c, ok := rt.(interface{ CloseIdleConnections() }); ok {
		c.CloseIdleConnections()
	}
}

// decodedBody closes the decoder and the wire body, then releases pooled
// decoder state exactly once.
type decodedBody struct {
	io.ReadCloser
	wire    io.ReadCloser
	release func()
}

func (b *decodedBody) Close() error {
	err := errors.Join(b.ReadCloser.Close(), b.wire.Close())
	if b.release != nil {
		b.release()
		b.release = nil
	}
	return err
}

// DecompressResponse unwraps every Content-Encoding layer of resp.Body, the
// last applied first. On error the body may be partially consumed.
func DecompressResponse(resp *http.Response) error {
	if resp == nil || resp.Body == nil {
		return nil
	}
	var layers []string
	for _, v := range resp.Header.Values("Content-Encoding") {
		for _, e := range strings.Split(v, ",") {
			if e = strings.ToLower(strings.TrimSpace(e)); e != "" && e != "identity" {
				layers = append(layers, e)
			}
		}
	}
	if len(layers) == 0 {
		resp.Header.Del("Content-Encoding")
		return nil
	}

	for i := len(layers) - 1; i >= 0; i-- {
		open, ok := decoders[layers[i]]
		if !ok {
			return fmt.Errorf("unsupported Content-Encoding %q", layers[i])
		}
		rc, release, err := open(resp.Body)
		if err != nil {
			return err
		}
		resp.Body = &decodedBody{ReadCloser: rc, wire: resp.Body, release: release}
	}

	resp.Header.Del("Content-Encoding")
	resp.Header.Del("Content-Length")
	resp.ContentLength = -1
	resp.Uncompressed = true
	return nil
}

// isZlibHeader checks the CMF/FLG pair from RFC 1950.
func isZlibHeader(cmf, flg byte) bool {
	return cmf&0x0f == 8 && (uint16(cmf)<<8|uint16(flg))%31 == 0
}
