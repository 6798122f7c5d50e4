package middleware

import (
	"net/http"

	"github.com/StorX2-0/Share-Tools/pkg/logger"
	"github.com/StorX2-0/Share-Tools/pkg/utils"

	"github.com/dgrijalva/jwt-go"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	echomiddleware "github.com/labstack/echo/v4/middleware"
)

// InitializeAllMiddleware sets up all middleware for the Echo server
func InitializeAllMiddleware(e *echo.Echo) {
	if utils.GetEnvWithKey("HTTP_LOGGING") == "true" {
		e.Use(echomiddleware.Logger())
	}
	e.Use(echomiddleware.Recover())
	e.Use(TraceIDMiddleware())
	e.Use(echomiddleware.CORS())
}

// TraceIDMiddleware stamps every request context with a trace ID so server
// logs correlate with engine logs.
func TraceIDMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			traceID := uuid.New().String()
			ctx := logger.WithTraceID(c.Request().Context(), traceID)
			c.SetRequest(c.Request().WithContext(ctx))
			c.Response().Header().Set("X-Trace-ID", traceID)
			return next(c)
		}
	}
}

// JWTMiddleware gates control endpoints when SHARE_JWT_SECRET is set. With
// no secret configured the gate is open (local single-user tool).
func JWTMiddleware(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		secret := utils.GetEnvWithKey("SHARE_JWT_SECRET")
		if secret == "" {
			return next(c)
		}

		token := c.Request().Header.Get("Authorization")
		if token == "" {
			return echo.NewHTTPError(http.StatusUnauthorized, "missing JWT token")
		}

		jwtToken, err := jwt.Parse(token, func(token *jwt.Token) (interface{}, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, echo.NewHTTPError(http.StatusUnauthorized, "invalid token")
			}
			return []byte(secret), nil
		})
		if err != nil || !jwtToken.Valid {
			return echo.NewHTTPError(http.StatusUnauthorized, "invalid token")
		}
		return next(c)
	}
}
