// Package server assembles the echo HTTP server for the gateway.
package server

import (
	"context"
	"crypto/subtle"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/loquahq/loqua/internal/handlers"
)

const secretHeader = "X-Webhook-Secret"

type Server struct {
	echo *echo.Echo
	addr string
}

type payloadValidator struct {
	validate *validator.Validate
}

func (v *payloadValidator) Validate(i any) error {
	return v.validate.Struct(i)
}

func NewServer(addr, webhookSecret string, pingHandler *handlers.PingHandler, webhookHandler *handlers.WebhookHandler) *Server {
	if addr == "" {
		addr = ":8080"
	}

	e := echo.New()
	e.HideBanner = true
	e.Validator = &payloadValidator{validate: validator.New()}
	e.Use(middleware.Recover())
	e.Use(middleware.Logger())
	e.Use(SecretMiddleware(webhookSecret))

	if pingHandler != nil {
		pingHandler.Register(e)
	}
	if webhookHandler != nil {
		webhookHandler.Register(e)
	}

	return &Server{
		echo: e,
		addr: addr,
	}
}

// SecretMiddleware rejects webhook deliveries without the shared secret.
// Health endpoints stay open; an empty configured secret disables the check.
func SecretMiddleware(secret string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if secret == "" {
				return next(c)
			}
			path := c.Request().URL.Path
			if path == "/ping" || path == "/health" {
				return next(c)
			}
			provided := c.Request().Header.Get(secretHeader)
			if subtle.ConstantTimeCompare([]byte(provided), []byte(secret)) != 1 {
				return echo.NewHTTPError(http.StatusUnauthorized, "invalid webhook secret")
			}
			return next(c)
		}
	}
}

func (s *Server) Start() error {
	return s.echo.Start(s.addr)
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}
