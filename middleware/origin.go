package middleware

import (
	"net/http"
	"net/url"
	"strings"

	"ChatRelay/logger"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Origin 校验 websocket 握手的 Origin。allowed 为空或含 "*" 时全部放行。
// 不调用 c.Next，可以挂在 MiddlewareManager 里
func Origin(allowed []string) gin.HandlerFunc {
	set, allowAll := normalizeOrigins(allowed)
	return func(c *gin.Context) {
		if allowAll || c.Request.Method != http.MethodGet {
			return
		}
		origin := c.GetHeader("Origin")
		if origin == "" {
			// 非浏览器客户端不带 Origin
			return
		}
		if n, ok := normalizeOrigin(origin); ok {
			if _, exists := set[n]; exists {
				return
			}
		}
		logger.Warn("blocked websocket origin", zap.String("origin", origin))
		c.AbortWithStatus(http.StatusForbidden)
	}
}

func normalizeOrigins(origins []string) (map[string]struct{}, bool) {
	set := make(map[string]struct{}, len(origins))
	if len(origins) == 0 {
		return set, true
	}
	allowAll := false
	for _, o := range origins {
		o = strings.TrimSpace(o)
		if o == "" {
			continue
		}
		if o == "*" {
			allowAll = true
			continue
		}
		n, ok := normalizeOrigin(o)
		if !ok {
			logger.Warn("ignoring invalid origin in configuration", zap.String("origin", o))
			continue
		}
		set[n] = struct{}{}
	}
	if len(set) == 0 {
		allowAll = true
	}
	return set, allowAll
}

func normalizeOrigin(origin string) (string, bool) {
	u, err := url.Parse(origin)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return "", false
	}
	return strings.ToLower(u.Scheme) + "://" + strings.ToLower(u.Host), true
}
