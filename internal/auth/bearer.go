package auth

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/your-org/facecheck/internal/credential"
)

// Verifier checks a signed credential. *credential.Issuer implements it.
type Verifier interface {
	Verify(token string, accept ...credential.Tier) (*credential.Claims, error)
}

// BearerMiddleware requires an Authorization: Bearer credential of one of
// the accepted tiers and stores its claims on the request context.
func BearerMiddleware(v Verifier, accept ...credential.Tier) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, ok := bearerToken(c.GetHeader("Authorization"))
		if !ok {
			abort(c, http.StatusUnauthorized, "missing bearer credential")
			return
		}

		claims, err := v.Verify(token, accept...)
		if err != nil {
			slog.Debug("credential rejected", "path", c.FullPath(), "error", err)
			abort(c, http.StatusUnauthorized, "invalid or expired credential")
			return
		}

		c.Request = c.Request.WithContext(WithClaims(c.Request.Context(), claims))
		c.Next()
	}
}

func bearerToken(header string) (string, bool) {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}
