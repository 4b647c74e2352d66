// Package webserver owns the echo instance shared by the REST API, the
// dashboard socket and the health endpoint.
package webserver

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	echojwt "github.com/labstack/echo-jwt/v4"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"

	"github.com/talkincode/wabot/config"
)

const apiPrefix = "/api"

var server *AdminServer

type AdminServer struct {
	root   *echo.Echo
	api    *echo.Group
	config *config.AppConfig
}

// Init builds the process wide server. Routes are registered afterwards
// through the Api* and Root* helpers.
func Init(cfg *config.AppConfig) {
	server = NewAdminServer(cfg)
}

func NewAdminServer(cfg *config.AppConfig) *AdminServer {
	s := &AdminServer{config: cfg}
	s.root = echo.New()
	s.root.HideBanner = true
	s.root.HidePort = true
	s.root.Debug = cfg.System.Debug
	s.root.Validator = &requestValidator{validate: validator.New()}
	s.root.HTTPErrorHandler = httpErrorHandler

	s.root.Use(middleware.RecoverWithConfig(middleware.RecoverConfig{
		LogErrorFunc: func(c echo.Context, err error, stack []byte) error {
			zap.S().Errorf("webserver: panic recovered %s %s: %v\n%s",
				c.Request().Method, c.Request().URL.Path, err, stack)
			return err
		},
	}))
	s.root.Use(middleware.RequestID())
	s.root.Use(accessLog())
	s.root.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins:     allowOrigins(cfg.Web.AllowedOrigins),
		AllowMethods:     []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowHeaders:     []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept, echo.HeaderAuthorization},
		AllowCredentials: true,
	}))

	s.api = s.root.Group(apiPrefix)
	s.api.Use(echojwt.WithConfig(echojwt.Config{
		Skipper: func(c echo.Context) bool {
			return isPublicPath(c.Path())
		},
		ParseTokenFunc: func(c echo.Context, auth string) (interface{}, error) {
			return ParseToken(cfg.Web.JwtSecret, auth)
		},
		ErrorHandler: func(c echo.Context, err error) error {
			return c.JSON(http.StatusUnauthorized, map[string]interface{}{
				"error":   "UNAUTHORIZED",
				"message": "Invalid or missing token",
			})
		},
	}))
	return s
}

func allowOrigins(origins []string) []string {
	if len(origins) == 0 {
		return []string{"*"}
	}
	return origins
}

func isPublicPath(p string) bool {
	return strings.HasPrefix(p, apiPrefix+"/auth/")
}

func accessLog() echo.MiddlewareFunc {
	return middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod:    true,
		LogURI:       true,
		LogStatus:    true,
		LogLatency:   true,
		LogRequestID: true,
		LogRemoteIP:  true,
		LogError:     true,
		HandleError:  true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			fields := []zap.Field{
				zap.String("method", v.Method),
				zap.String("uri", v.URI),
				zap.Int("status", v.Status),
				zap.Duration("latency", v.Latency),
				zap.String("request_id", v.RequestID),
				zap.String("remote_ip", v.RemoteIP),
			}
			if v.Error != nil {
				zap.L().Warn("webserver: request failed", append(fields, zap.Error(v.Error))...)
				return nil
			}
			zap.L().Debug("webserver: request", fields...)
			return nil
		},
	})
}

// httpErrorHandler renders router and middleware errors in the API envelope.
func httpErrorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}
	code := http.StatusInternalServerError
	msg := http.StatusText(code)
	var he *echo.HTTPError
	if errors.As(err, &he) {
		code = he.Code
		msg = fmt.Sprint(he.Message)
	}
	if code == http.StatusInternalServerError {
		zap.L().Error("webserver: unhandled error", zap.String("uri", c.Request().RequestURI), zap.Error(err))
	}
	var werr error
	if c.Request().Method == http.MethodHead {
		werr = c.NoContent(code)
	} else {
		werr = c.JSON(code, map[string]interface{}{
			"error":   http.StatusText(code),
			"message": msg,
		})
	}
	if werr != nil {
		zap.L().Debug("webserver: write error response", zap.Error(werr))
	}
}

type requestValidator struct {
	validate *validator.Validate
}

func (v *requestValidator) Validate(i interface{}) error {
	return v.validate.Struct(i)
}

// Echo returns the underlying instance, mostly for tests.
func Echo() *echo.Echo {
	return server.root
}

func ApiGET(path string, h echo.HandlerFunc, m ...echo.MiddlewareFunc) {
	server.api.GET(path, h, m...)
}

func ApiPOST(path string, h echo.HandlerFunc, m ...echo.MiddlewareFunc) {
	server.api.POST(path, h, m...)
}

func ApiPUT(path string, h echo.HandlerFunc, m ...echo.MiddlewareFunc) {
	server.api.PUT(path, h, m...)
}

func ApiDELETE(path string, h echo.HandlerFunc, m ...echo.MiddlewareFunc) {
	server.api.DELETE(path, h, m...)
}

// RootGET registers an unauthenticated route outside /api.
func RootGET(path string, h echo.HandlerFunc, m ...echo.MiddlewareFunc) {
	server.root.GET(path, h, m...)
}

// Listen serves until Shutdown is called.
func Listen() error {
	addr := fmt.Sprintf("%s:%d", server.config.Web.Host, server.config.Web.Port)
	zap.S().Infof("webserver: listening on %s", addr)
	err := server.root.Start(addr)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func Shutdown(ctx context.Context) error {
	if server == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	return server.root.Shutdown(ctx)
}
