package livehttp

import (
	"mime"
	"net/http"
	"net/url"
	"strings"

	"botwatch/internal/logger"

	"github.com/gin-gonic/gin"
)

// ClientHeader 非浏览器客户端可用它代替 JSON Content-Type 发起写请求。
const ClientHeader = "X-Botwatch-Client"

// originGuard 拒绝来自其他站点的浏览器请求。写请求还必须是 JSON 或带
// ClientHeader，普通表单和无预检的 fetch 都无法满足。
func originGuard() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !sameOrigin(c.Request) {
			logger.Warnf("[api] rejected cross-origin %s %s origin=%q ip=%s", c.Request.Method, c.Request.URL.Path, c.GetHeader("Origin"), c.ClientIP())
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "cross-origin request rejected"})
			return
		}
		switch c.Request.Method {
		case http.MethodGet, http.MethodHead, http.MethodOptions:
			c.Next()
			return
		}
		if !explicitClient(c.Request) {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "write requests need Content-Type: application/json or " + ClientHeader})
			return
		}
		c.Next()
	}
}

// sameOrigin 没有 Origin 的请求（curl、脚本）放行；有则必须与 Host 一致。
func sameOrigin(r *http.Request) bool {
	if strings.EqualFold(r.Header.Get("Sec-Fetch-Site"), "cross-site") {
		return false
	}
	origin := strings.TrimSpace(r.Header.Get("Origin"))
	if origin == "" {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil || u.Host == "" {
		return false
	}
	return strings.EqualFold(u.Host, r.Host)
}

func explicitClient(r *http.Request) bool {
	if strings.TrimSpace(r.Header.Get(ClientHeader)) != "" {
		return true
	}
	mediaType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	return err == nil && mediaType == "application/json"
}
