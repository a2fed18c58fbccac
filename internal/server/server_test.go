package server

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
)

func newSecretEcho(secret string) *echo.Echo {
	e := echo.New()
	e.Use(SecretMiddleware(secret))
	e.GET("/ping", func(c echo.Context) error { return c.NoContent(http.StatusOK) })
	e.POST("/webhooks/messages", func(c echo.Context) error { return c.NoContent(http.StatusOK) })
	return e
}

func TestSecretMiddleware(t *testing.T) {
	t.Parallel()

	e := newSecretEcho("s3cret")

	req := httptest.NewRequest(http.MethodPost, "/webhooks/messages", strings.NewReader("{}"))
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req = httptest.NewRequest(http.MethodPost, "/webhooks/messages", strings.NewReader("{}"))
	req.Header.Set(secretHeader, "wrong")
	rec = httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req = httptest.NewRequest(http.MethodPost, "/webhooks/messages", strings.NewReader("{}"))
	req.Header.Set(secretHeader, "s3cret")
	rec = httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestSecretMiddlewareLeavesHealthOpen(t *testing.T) {
	t.Parallel()

	e := newSecretEcho("s3cret")
	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestSecretMiddlewareDisabledWhenUnset(t *testing.T) {
	t.Parallel()

	e := newSecretEcho("")
	req := httptest.NewRequest(http.MethodPost, "/webhooks/messages", strings.NewReader("{}"))
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestNewServerDefaultsAddr(t *testing.T) {
	t.Parallel()

	s := NewServer("", "", nil, nil)
	assert.Equal(t, ":8080", s.addr)
}
