package middleware

import (
	"net/http"

	"listing-desk/internal/validation"

	"github.com/gin-gonic/gin"
)

// DomainWhitelist 要求 Origin 或 Referer 的主机属于白名单，白名单为空时放行所有请求。
func DomainWhitelist(domains []string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if len(domains) == 0 {
			c.Next()
			return
		}
		host := validation.OriginHost(c.GetHeader("Origin"), c.GetHeader("Referer"))
		if !validation.MatchesDomain(host, domains) {
			abort(c, http.StatusForbidden, "Domain not allowed")
			return
		}
		c.Next()
	}
}

// Origin 返回用于条款校验的来源地址，优先 Origin。
func Origin(c *gin.Context) string {
	if o := c.GetHeader("Origin"); o != "" {
		return o
	}
	return c.GetHeader("Referer")
}
