// Package middleware provides the gin middleware in front of the HTTP and
// WebSocket routes.
//
//   - CORS: gin-contrib/cors with configurable origins
//   - RateLimit: per-IP token bucket with idle client eviction
//   - CommandLimiter: per-connection token bucket for command messages
//   - Auth: HS256 bearer tokens (header or ?token=), anonymous unless
//     AUTH_REQUIRED is set
//
// Example Usage:
//
//	router.Use(middleware.CORS(middleware.CORSFromConfig(cfg.Server)))
//	router.Use(middleware.RateLimit(middleware.RateLimitFromConfig(cfg.RateLimit)))
//	router.Use(middleware.Auth(middleware.NewAuthenticator(cfg.Auth)))
package middleware
