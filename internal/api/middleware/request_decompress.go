package middleware

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/andybalholm/brotli"
	"github.com/gin-gonic/gin"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
)

// maxDecompressedBytes caps decoded request bodies.
const maxDecompressedBytes = 128 << 20

// RequestDecompressionMiddleware decodes gzip, br and zstd request bodies so
// the interception layer and upstreams see plain JSON. Unknown encodings pass
// through untouched.
func RequestDecompressionMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		enc := strings.ToLower(strings.TrimSpace(c.GetHeader("Content-Encoding")))
		if enc == "" || enc == "identity" || c.Request.Body == nil {
			c.Next()
			return
		}

		reader, closeFn, err := decoder(enc, c.Request.Body)
		if err != nil {
			abortInvalid(c, http.StatusBadRequest, fmt.Sprintf("invalid %s request body", enc))
			return
		}
		if reader == nil {
			c.Next()
			return
		}
		defer closeFn()

		decoded, err := io.ReadAll(io.LimitReader(reader, maxDecompressedBytes+1))
		if err != nil {
			abortInvalid(c, http.StatusBadRequest, fmt.Sprintf("failed to decompress %s request body", enc))
			return
		}
		if int64(len(decoded)) > maxDecompressedBytes {
			abortInvalid(c, http.StatusRequestEntityTooLarge, "decompressed request body too large")
			return
		}

		c.Request.Body = io.NopCloser(bytes.NewReader(decoded))
		c.Request.ContentLength = int64(len(decoded))
		c.Request.Header.Del("Content-Encoding")
		c.Request.Header.Del("Content-Length")
		c.Next()
	}
}

// decoder returns a nil reader for encodings it does not handle.
func decoder(enc string, body io.Reader) (io.Reader, func(), error) {
	switch enc {
	case "gzip", "x-gzip":
		zr, err := gzip.NewReader(body)
		if err != nil {
			return nil, nil, err
		}
		return zr, func() { _ = zr.Close() }, nil
	case "br":
		return brotli.NewReader(body), func() {}, nil
	case "zstd":
		zr, err := zstd.NewReader(body)
		if err != nil {
			return nil, nil, err
		}
		return zr, zr.Close, nil
	default:
		return nil, nil, nil
	}
}

func abortInvalid(c *gin.Context, status int, message string) {
	c.AbortWithStatusJSON(status, gin.H{
		"error": gin.H{
			"message": message,
			"type":    "invalid_request_error",
		},
	})
}
