package middleware

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

func TestBodyLimit(t *testing.T) {
	gin.SetMode(gin.TestMode)

	newRouter := func(maxBytes int64, handler gin.HandlerFunc) *gin.Engine {
		router := gin.New()
		router.Use(BodyLimit(maxBytes))
		router.POST("/api/v1/bulk-requests", handler)
		return router
	}

	echoOK := func(c *gin.Context) {
		c.String(http.StatusOK, "ok")
	}

	t.Run("passes a body under the limit", func(t *testing.T) {
		router := newRouter(1024, echoOK)

		req := httptest.NewRequest("POST", "/api/v1/bulk-requests",
			strings.NewReader(`{"taxpayer_rfc":"XAXX010101000"}`))
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
	})

	t.Run("rejects on declared Content-Length", func(t *testing.T) {
		router := newRouter(100, echoOK)

		req := httptest.NewRequest("POST", "/api/v1/bulk-requests",
			strings.NewReader(strings.Repeat("x", 200)))
		req.ContentLength = 200
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
		assert.Contains(t, w.Body.String(), "REQUEST_TOO_LARGE")
	})

	t.Run("caps chunked bodies without a Content-Length", func(t *testing.T) {
		router := newRouter(50, func(c *gin.Context) {
			if _, err := io.ReadAll(c.Request.Body); err != nil {
				c.String(http.StatusRequestEntityTooLarge, "body too large")
				return
			}
			c.String(http.StatusOK, "ok")
		})

		req := httptest.NewRequest("POST", "/api/v1/bulk-requests",
			strings.NewReader(strings.Repeat("x", 100)))
		req.ContentLength = -1
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
	})

	t.Run("lets bodyless requests through", func(t *testing.T) {
		router := gin.New()
		router.Use(BodyLimit(10))
		router.GET("/api/v1/bulk-requests", echoOK)

		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest("GET", "/api/v1/bulk-requests", nil))

		assert.Equal(t, http.StatusOK, w.Code)
	})
}
