package http

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/yanqian/paper-synthesizer/internal/domain/session"
	apperrors "github.com/yanqian/paper-synthesizer/pkg/errors"
)

// sessionAuthMiddleware admits requests whose bearer token was issued for the :id session.
func sessionAuthMiddleware(tokens session.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if header == "" {
			abortWithError(c, NewHTTPError(http.StatusUnauthorized, "unauthorized", "missing authorization header", nil))
			return
		}
		parts := strings.SplitN(header, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
			abortWithError(c, NewHTTPError(http.StatusUnauthorized, "unauthorized", "invalid authorization header", nil))
			return
		}
		claims, err := tokens.Validate(strings.TrimSpace(parts[1]))
		if err != nil {
			status := http.StatusUnauthorized
			code := apperrors.CodeInvalidToken
			if !apperrors.IsCode(err, apperrors.CodeInvalidToken) {
				status = http.StatusInternalServerError
				code = "auth_failed"
			}
			abortWithError(c, NewHTTPError(status, code, errMessage(err), err))
			return
		}
		if claims.SessionID != c.Param("id") {
			abortWithError(c, NewHTTPError(http.StatusForbidden, "forbidden", "token was issued for another session", nil))
			return
		}
		setClaims(c, claims)
		c.Next()
	}
}
