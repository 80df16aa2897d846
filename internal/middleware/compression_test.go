package middleware

import (
	"compress/gzip"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func compressionRouter(cm *CompressionMiddleware) *gin.Engine {
	r := gin.New()
	r.Use(cm.Handler())
	r.GET("/large", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"payload": strings.Repeat("peer evaluation ", 200)})
	})
	r.GET("/small", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"ok": true})
	})
	r.GET("/binary", func(c *gin.Context) {
		c.Data(http.StatusOK, "application/octet-stream", make([]byte, 4096))
	})
	return r
}

func get(r *gin.Engine, path string, acceptGzip bool) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if acceptGzip {
		req.Header.Set("Accept-Encoding", "gzip")
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestCompressesLargeJSONResponses(t *testing.T) {
	cm := NewCompressionMiddleware(DefaultCompressionConfig())
	r := compressionRouter(cm)

	w := get(r, "/large", true)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "gzip", w.Header().Get("Content-Encoding"))

	gz, err := gzip.NewReader(w.Body)
	require.NoError(t, err)
	body, err := io.ReadAll(gz)
	require.NoError(t, err)
	assert.Contains(t, string(body), "peer evaluation")
}

func TestSkipsSmallResponses(t *testing.T) {
	cm := NewCompressionMiddleware(DefaultCompressionConfig())
	r := compressionRouter(cm)

	w := get(r, "/small", true)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, w.Header().Get("Content-Encoding"))
	assert.JSONEq(t, `{"ok":true}`, w.Body.String())
}

func TestSkipsClientsWithoutGzip(t *testing.T) {
	cm := NewCompressionMiddleware(DefaultCompressionConfig())
	r := compressionRouter(cm)

	w := get(r, "/large", false)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, w.Header().Get("Content-Encoding"))
}

func TestSkipsNonCompressibleContentTypes(t *testing.T) {
	cm := NewCompressionMiddleware(DefaultCompressionConfig())
	r := compressionRouter(cm)

	w := get(r, "/binary", true)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, w.Header().Get("Content-Encoding"))
}

func TestCompressionStats(t *testing.T) {
	cm := NewCompressionMiddleware(DefaultCompressionConfig())
	r := compressionRouter(cm)

	get(r, "/large", true)
	get(r, "/small", true)

	stats := cm.GetStats()
	assert.Equal(t, int64(2), stats["total_requests"])
	assert.Equal(t, int64(1), stats["compressed_requests"])
	assert.Less(t, stats["compressed_bytes"].(int64), stats["total_bytes"].(int64))
}
