package middleware

import (
	"strings"
	"time"

	"transtrack-api/config"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
)

var (
	corsMethods = []string{"GET", "POST", "PUT", "OPTIONS"}
	corsHeaders = []string{"Origin", "Content-Type", "Accept"}
)

// parseOrigins splits a comma-separated origin list, dropping blanks. An
// empty result or a lone "*" means any origin.
func parseOrigins(raw string) (origins []string, any bool) {
	for _, o := range strings.Split(raw, ",") {
		if o = strings.TrimSpace(o); o != "" {
			origins = append(origins, o)
		}
	}
	if len(origins) == 0 || (len(origins) == 1 && origins[0] == "*") {
		return nil, true
	}
	return origins, false
}

func SetupCORS(cfg config.CORSConfig) gin.HandlerFunc {
	origins, anyOrigin := parseOrigins(cfg.AllowedOrigins)

	c := cors.Config{
		AllowMethods:  corsMethods,
		AllowHeaders:  corsHeaders,
		ExposeHeaders: []string{"Content-Length"},
		MaxAge:        12 * time.Hour,
	}
	if anyOrigin {
		c.AllowAllOrigins = true
	} else {
		c.AllowOrigins = origins
		c.AllowCredentials = true
	}
	return cors.New(c)
}
