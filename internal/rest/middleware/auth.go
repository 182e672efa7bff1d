package middleware

import (
	"crypto/sha256"
	"encoding/hex"

	"github.com/flexprice/dealpay/internal/config"
	ierr "github.com/flexprice/dealpay/internal/errors"
	"github.com/flexprice/dealpay/internal/logger"
	"github.com/flexprice/dealpay/internal/types"
	"github.com/gin-gonic/gin"
)

// HashAPIKey returns the form api keys are stored in the config
func HashAPIKey(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}

// APIKeyMiddleware authenticates operator requests by the configured api key
// header. With no keys configured every request passes, which is only
// acceptable for local runs.
func APIKeyMiddleware(cfg *config.Configuration, log *logger.Logger) gin.HandlerFunc {
	keys := cfg.Auth.APIKey.Keys
	header := cfg.Auth.APIKey.Header
	if len(keys) == 0 {
		log.Warnw("no api keys configured, operator endpoints are unauthenticated")
		return func(c *gin.Context) {
			c.Next()
		}
	}

	return func(c *gin.Context) {
		key := c.GetHeader(header)
		if key == "" {
			c.Error(ierr.NewError("missing api key").
				WithHintf("Provide an api key in the %s header", header).
				Mark(ierr.ErrUnauthorized))
			c.Abort()
			return
		}

		details, ok := keys[HashAPIKey(key)]
		if !ok || !details.IsActive {
			log.Debugw("rejected api key", "path", c.FullPath())
			c.Error(ierr.NewError("invalid api key").
				WithHint("Invalid API key").
				Mark(ierr.ErrPermissionDenied))
			c.Abort()
			return
		}

		ctx := types.SetCaller(c.Request.Context(), details.Name)
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}
