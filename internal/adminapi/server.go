// Package adminapi exposes instance lifecycle and send operations over HTTP.
package adminapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v4"
	jsoniter "github.com/json-iterator/go"
	echojwt "github.com/labstack/echo-jwt/v4"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"

	"github.com/talkincode/toughwa/config"
	"github.com/talkincode/toughwa/internal/whatsapp"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

type Server struct {
	echo *echo.Echo
	svc  *whatsapp.Service
	addr string
}

func NewServer(cfg config.WebConfig, svc *whatsapp.Service) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.JSONSerializer = jsonSerializer{}
	e.Use(middleware.Recover())
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogURI:    true,
		LogStatus: true,
		LogMethod: true,
		LogError:  true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			zap.L().Debug("adminapi: request",
				zap.String("method", v.Method),
				zap.String("uri", v.URI),
				zap.Int("status", v.Status),
				zap.Error(v.Error))
			return nil
		},
	}))

	s := &Server{echo: e, svc: svc, addr: fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)}
	api := e.Group("/api/v1")
	if cfg.Secret != "" {
		api.Use(echojwt.WithConfig(echojwt.Config{SigningKey: []byte(cfg.Secret)}))
	}
	s.registerInstanceRoutes(api)
	s.registerMessageRoutes(api)
	s.registerMetricRoutes(api)
	return s
}

// Handler returns the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.echo
}

// Start serves until Shutdown is called.
func (s *Server) Start() error {
	zap.L().Info("adminapi: listening", zap.String("addr", s.addr))
	if err := s.echo.Start(s.addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

// IssueToken signs an HS256 bearer token accepted by the api for ttl.
func IssueToken(secret, subject string, ttl time.Duration) (string, error) {
	if secret == "" {
		return "", errors.New("adminapi: web secret is empty")
	}
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Subject:   subject,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

func ok(c echo.Context, data interface{}) error {
	return c.JSON(http.StatusOK, map[string]interface{}{"data": data})
}

func fail(c echo.Context, status int, code, message string, details interface{}) error {
	return c.JSON(status, map[string]interface{}{
		"error":   code,
		"message": message,
		"details": details,
	})
}

func parseIDParam(c echo.Context, name string) (int64, error) {
	id, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid %s", name)
	}
	return id, nil
}

// failFor maps session core errors to HTTP responses.
func failFor(c echo.Context, err error) error {
	switch {
	case errors.Is(err, whatsapp.ErrInstanceNotFound):
		return fail(c, http.StatusNotFound, "INSTANCE_NOT_FOUND", "Instance not found", nil)
	case errors.Is(err, whatsapp.ErrNotConnected):
		return fail(c, http.StatusConflict, "NOT_CONNECTED", "Instance is not connected", nil)
	case errors.Is(err, whatsapp.ErrUnsupportedByProvider):
		return fail(c, http.StatusUnprocessableEntity, "UNSUPPORTED", "Operation not supported by the instance provider", err.Error())
	case errors.Is(err, whatsapp.ErrUnknownProvider):
		return fail(c, http.StatusBadRequest, "UNKNOWN_PROVIDER", "Unknown provider", err.Error())
	case errors.Is(err, whatsapp.ErrStopped):
		return fail(c, http.StatusServiceUnavailable, "STOPPED", "Service is shutting down", nil)
	default:
		zap.L().Warn("adminapi: request failed", zap.String("path", c.Path()), zap.Error(err))
		return fail(c, http.StatusInternalServerError, "INTERNAL_ERROR", "Request failed", err.Error())
	}
}

// jsonSerializer is echo's serializer on jsoniter.
type jsonSerializer struct{}

func (jsonSerializer) Serialize(c echo.Context, i interface{}, indent string) error {
	enc := json.NewEncoder(c.Response())
	if indent != "" {
		enc.SetIndent("", indent)
	}
	return enc.Encode(i)
}

func (jsonSerializer) Deserialize(c echo.Context, i interface{}) error {
	err := json.NewDecoder(c.Request().Body).Decode(i)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error()).SetInternal(err)
	}
	return nil
}
