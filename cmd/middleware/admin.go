// cmd/middleware/admin.go
package middleware

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
)

const cleanupTokenPrefix = "cleanup"

// adminToken pulls the credential from the places operators actually put it:
// Authorization header, custom header, or query string for curl convenience.
func adminToken(c *gin.Context) string {
	if auth := c.GetHeader("Authorization"); auth != "" {
		if tok := strings.TrimPrefix(auth, "Bearer "); tok != auth {
			return tok
		}
	}
	if tok := c.GetHeader("X-Admin-Token"); tok != "" {
		return tok
	}
	return c.Query("admin_token")
}

// RequireAdmin accepts either the static secret or a signed one-shot cleanup
// token minted with MintCleanupToken.
func RequireAdmin(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if secret == "" {
			c.AbortWithStatusJSON(503, gin.H{"error": "admin access not configured"})
			return
		}
		tok := adminToken(c)
		if tok == "" {
			c.AbortWithStatusJSON(401, gin.H{"error": "missing admin token"})
			return
		}
		if subtle.ConstantTimeCompare([]byte(tok), []byte(secret)) == 1 {
			c.Next()
			return
		}
		if verifyCleanupToken(tok, secret, time.Now()) {
			c.Next()
			return
		}
		c.AbortWithStatusJSON(401, gin.H{"error": "invalid admin token"})
	}
}

// MintCleanupToken signs a short-lived token an external scheduler can use
// without holding the static secret. Format:
// cleanup:<unix expiry>:<nonce>:<hex hmac-sha256>.
func MintCleanupToken(secret, nonce string, expiry time.Time) string {
	base := fmt.Sprintf("%s:%d:%s", cleanupTokenPrefix, expiry.Unix(), nonce)
	return base + ":" + signCleanupToken(base, secret)
}

func signCleanupToken(base, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(base))
	return hex.EncodeToString(mac.Sum(nil))
}

func verifyCleanupToken(tok, secret string, now time.Time) bool {
	parts := strings.Split(tok, ":")
	if len(parts) != 4 || parts[0] != cleanupTokenPrefix {
		return false
	}
	expiry, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil || now.Unix() > expiry {
		return false
	}
	base := strings.Join(parts[:3], ":")
	expected := signCleanupToken(base, secret)
	return hmac.Equal([]byte(parts[3]), []byte(expected))
}
