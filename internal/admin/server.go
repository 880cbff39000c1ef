package admin

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/perch-irc/perch/internal/auth"
	"github.com/perch-irc/perch/internal/link"
	"github.com/perch-irc/perch/internal/state"
)

// Deps are the handles the admin API exposes.
type Deps struct {
	Auth      *auth.Service
	Queries   state.Queries
	LinkState func() link.State
	Plugins   PluginManager
}

// NewRouter builds the admin API router.
func NewRouter(deps Deps, logger *zerolog.Logger) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(LoggerMiddleware(logger))

	router.GET("/health", healthHandler)

	api := NewAPIHandlers(deps.Auth, logger)
	status := NewStatusHandlers(deps.Queries, deps.LinkState, logger)
	plugins := NewPluginHandlers(deps.Plugins, logger)

	router.POST("/api/login", api.Login)

	authorized := router.Group("/api", AuthMiddleware(deps.Auth, logger))
	authorized.GET("/status", status.Status)
	authorized.GET("/servers", status.Servers)
	authorized.GET("/plugins", plugins.ListPlugins)
	authorized.POST("/plugins", plugins.LoadPlugin)
	authorized.DELETE("/plugins/:name", plugins.UnloadPlugin)
	authorized.POST("/plugins/:name/reload", plugins.ReloadPlugin)

	return router
}

// NewServer builds the admin HTTP server.
func NewServer(addr string, deps Deps, logger *zerolog.Logger) *http.Server {
	return &http.Server{
		Addr:    addr,
		Handler: NewRouter(deps, logger),
	}
}

func healthHandler(c *gin.Context) {
	c.String(http.StatusOK, "ok")
}
