// Package middleware holds HTTP middleware that is not tied to any one
// domain package.
package middleware

import (
	"compress/gzip"
	"io"
	"strings"
	"sync"

	"github.com/gin-gonic/gin"
)

// CompressionConfig holds configuration for response compression
type CompressionConfig struct {
	MinSize          int      // Minimum first-write size to compress (bytes)
	CompressionLevel int      // Gzip compression level (1-9, 9 is best compression)
	ContentTypes     []string // Content types to compress
}

// DefaultCompressionConfig returns the default compression configuration
func DefaultCompressionConfig() CompressionConfig {
	return CompressionConfig{
		MinSize:          1024,
		CompressionLevel: 6,
		ContentTypes: []string{
			"application/json",
			"text/plain",
			"text/html",
		},
	}
}

// CompressionMiddleware provides gzip compression for HTTP responses
type CompressionMiddleware struct {
	config CompressionConfig
	stats  *CompressionStats
	pool   sync.Pool
}

// NewCompressionMiddleware creates a new compression middleware
func NewCompressionMiddleware(config CompressionConfig) *CompressionMiddleware {
	cm := &CompressionMiddleware{
		config: config,
		stats:  NewCompressionStats(),
	}
	cm.pool.New = func() interface{} {
		gz, _ := gzip.NewWriterLevel(io.Discard, config.CompressionLevel)
		return gz
	}
	return cm
}

// Handler returns a Gin middleware that gzips responses for clients that
// accept it. Compression is decided on the first write: small bodies and
// non-compressible content types pass through untouched.
func (cm *CompressionMiddleware) Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !strings.Contains(c.GetHeader("Accept-Encoding"), "gzip") {
			c.Next()
			return
		}

		gw := &gzipResponseWriter{ResponseWriter: c.Writer, cm: cm}
		c.Writer = gw
		c.Next()
		gw.close()
	}
}

func (cm *CompressionMiddleware) shouldCompress(contentType string) bool {
	for _, ct := range cm.config.ContentTypes {
		if strings.Contains(contentType, ct) {
			return true
		}
	}
	return false
}

func (cm *CompressionMiddleware) getGzipWriter(w io.Writer) *gzip.Writer {
	gz := cm.pool.Get().(*gzip.Writer)
	gz.Reset(w)
	return gz
}

func (cm *CompressionMiddleware) putGzipWriter(gz *gzip.Writer) {
	cm.pool.Put(gz)
}

// gzipResponseWriter defers the compress-or-not decision to the first write,
// when the content type and body size are known.
type gzipResponseWriter struct {
	gin.ResponseWriter
	cm       *CompressionMiddleware
	gz       *gzip.Writer
	decided  bool
	rawBytes int64
}

func (gw *gzipResponseWriter) decide(firstChunk int) {
	gw.decided = true
	if firstChunk < gw.cm.config.MinSize {
		return
	}
	if !gw.cm.shouldCompress(gw.Header().Get("Content-Type")) {
		return
	}

	gw.Header().Set("Content-Encoding", "gzip")
	gw.Header().Set("Vary", "Accept-Encoding")
	gw.Header().Del("Content-Length")
	gw.gz = gw.cm.getGzipWriter(gw.ResponseWriter)
}

func (gw *gzipResponseWriter) Write(data []byte) (int, error) {
	if !gw.decided {
		gw.decide(len(data))
	}
	gw.rawBytes += int64(len(data))
	if gw.gz != nil {
		return gw.gz.Write(data)
	}
	return gw.ResponseWriter.Write(data)
}

func (gw *gzipResponseWriter) WriteString(s string) (int, error) {
	return gw.Write([]byte(s))
}

func (gw *gzipResponseWriter) close() {
	if gw.gz != nil {
		_ = gw.gz.Close()
		gw.cm.putGzipWriter(gw.gz)
		gw.cm.stats.RecordRequest(gw.rawBytes, int64(gw.Size()), true)
		return
	}
	gw.cm.stats.RecordRequest(gw.rawBytes, gw.rawBytes, false)
}

// CompressionStats tracks compression statistics
type CompressionStats struct {
	TotalRequests      int64
	CompressedRequests int64
	TotalBytes         int64
	CompressedBytes    int64
	mutex              sync.RWMutex
}

// NewCompressionStats creates new compression statistics
func NewCompressionStats() *CompressionStats {
	return &CompressionStats{}
}

// RecordRequest records a request's compression stats
func (cs *CompressionStats) RecordRequest(originalSize, compressedSize int64, compressed bool) {
	cs.mutex.Lock()
	defer cs.mutex.Unlock()

	cs.TotalRequests++
	cs.TotalBytes += originalSize

	if compressed {
		cs.CompressedRequests++
		cs.CompressedBytes += compressedSize
	}
}

// GetStats returns current compression statistics
func (cs *CompressionStats) GetStats() map[string]interface{} {
	cs.mutex.RLock()
	defer cs.mutex.RUnlock()

	compressionRatio := float64(0)
	if cs.TotalBytes > 0 {
		compressionRatio = float64(cs.CompressedBytes) / float64(cs.TotalBytes)
	}

	return map[string]interface{}{
		"total_requests":      cs.TotalRequests,
		"compressed_requests": cs.CompressedRequests,
		"total_bytes":         cs.TotalBytes,
		"compressed_bytes":    cs.CompressedBytes,
		"compression_ratio":   compressionRatio,
	}
}

// GetStats returns compression statistics
func (cm *CompressionMiddleware) GetStats() map[string]interface{} {
	return cm.stats.GetStats()
}
