package mw

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"golang.org/x/time/rate"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func serve(r *gin.Engine, method, path string, header map[string]string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req, _ := http.NewRequest(method, path, nil)
	for k, v := range header {
		req.Header.Set(k, v)
	}
	r.ServeHTTP(w, req)
	return w
}

func TestResponseCache(t *testing.T) {
	rc := NewResponseCache(time.Minute)
	hits := 0
	status := http.StatusOK

	r := gin.New()
	g := r.Group("/", rc.InvalidateOnWrite())
	g.GET("/logs", rc.Middleware(), func(c *gin.Context) {
		hits++
		c.JSON(status, gin.H{"hits": hits})
	})
	g.POST("/logs", func(c *gin.Context) { c.Status(http.StatusNoContent) })

	w := serve(r, http.MethodGet, "/logs?status=all", nil)
	assert.JSONEq(t, `{"hits":1}`, w.Body.String())

	w = serve(r, http.MethodGet, "/logs?status=all", nil)
	assert.JSONEq(t, `{"hits":1}`, w.Body.String())
	assert.Equal(t, "HIT", w.Header().Get("X-Cache"))
	assert.Equal(t, "application/json; charset=utf-8", w.Header().Get("Content-Type"))

	w = serve(r, http.MethodGet, "/logs?status=finished", nil)
	assert.JSONEq(t, `{"hits":2}`, w.Body.String(), "keyed by full URI")
	assert.Equal(t, 2, rc.Len())

	serve(r, http.MethodPost, "/logs", nil)
	assert.Zero(t, rc.Len(), "writes flush the cache")

	status = http.StatusBadGateway
	serve(r, http.MethodGet, "/logs?status=all", nil)
	w = serve(r, http.MethodGet, "/logs?status=all", nil)
	assert.JSONEq(t, `{"hits":4}`, w.Body.String(), "failures are not cached")

	status = http.StatusOK
	serve(r, http.MethodGet, "/logs?status=all", nil)
	rc.Invalidate()
	assert.Zero(t, rc.Len())
}

func TestRateLimiter(t *testing.T) {
	r := gin.New()
	r.Use(RateLimiter(rate.Every(time.Hour), 2, "X-Forwarded-For"))
	r.GET("/ping", func(c *gin.Context) { c.String(http.StatusOK, "pong") })

	a := map[string]string{"X-Forwarded-For": "10.0.0.1, 10.0.0.9"}
	b := map[string]string{"X-Forwarded-For": "10.0.0.2"}

	assert.Equal(t, http.StatusOK, serve(r, http.MethodGet, "/ping", a).Code)
	assert.Equal(t, http.StatusOK, serve(r, http.MethodGet, "/ping", a).Code)
	w := serve(r, http.MethodGet, "/ping", a)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.JSONEq(t, `{"error":"too many requests"}`, w.Body.String())

	assert.Equal(t, http.StatusOK, serve(r, http.MethodGet, "/ping", b).Code, "separate budget per client")
}

func TestClientRateLimiter_ReusesLimiter(t *testing.T) {
	l := NewClientRateLimiter(rate.Limit(1), 1, time.Minute)
	assert.Same(t, l.GetLimiter("a"), l.GetLimiter("a"))
	assert.NotSame(t, l.GetLimiter("a"), l.GetLimiter("b"))
}
