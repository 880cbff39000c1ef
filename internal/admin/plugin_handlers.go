package admin

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/perch-irc/perch/internal/plugin"
)

// PluginManager is the slice of the plugin host the admin API drives.
type PluginManager interface {
	List() []plugin.Info
	Load(path string) (plugin.Handle, error)
	Unload(name string) error
	Reload(name string) (plugin.Handle, error)
}

// PluginHandlers provides HTTP handlers for plugin lifecycle endpoints.
type PluginHandlers struct {
	host PluginManager
	log  *zerolog.Logger
}

// NewPluginHandlers creates a new plugin handlers instance.
func NewPluginHandlers(host PluginManager, logger *zerolog.Logger) *PluginHandlers {
	return &PluginHandlers{
		host: host,
		log:  logger,
	}
}

// LoadPluginRequest represents the load request body.
type LoadPluginRequest struct {
	Path string `json:"path" binding:"required"`
}

// PluginResponse represents a plugin in API responses.
type PluginResponse struct {
	ID            string   `json:"id"`
	Name          string   `json:"name"`
	Generation    int      `json:"generation"`
	Path          string   `json:"path"`
	Version       string   `json:"version"`
	Status        string   `json:"status"`
	Subscriptions []string `json:"subscriptions"`
	Clients       []string `json:"clients"`
}

func pluginResponse(info plugin.Info) PluginResponse {
	return PluginResponse{
		ID:            info.ID.String(),
		Name:          info.Name,
		Generation:    info.Generation,
		Path:          info.Path,
		Version:       info.Version,
		Status:        info.Status.String(),
		Subscriptions: info.Subscriptions,
		Clients:       info.Clients,
	}
}

// ListPlugins handles listing loaded plugins.
// GET /api/plugins
func (h *PluginHandlers) ListPlugins(c *gin.Context) {
	infos := h.host.List()
	response := make([]PluginResponse, 0, len(infos))
	for _, info := range infos {
		response = append(response, pluginResponse(info))
	}
	c.JSON(http.StatusOK, response)
}

// LoadPlugin handles loading a plugin binary.
// POST /api/plugins
func (h *PluginHandlers) LoadPlugin(c *gin.Context) {
	var req LoadPluginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.log.Debug().Err(err).Msg("invalid load plugin request")
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
		return
	}

	handle, err := h.host.Load(req.Path)
	if err != nil {
		h.log.Error().Err(err).Str("path", req.Path).Msg("failed to load plugin")
		c.JSON(http.StatusUnprocessableEntity, ErrorResponse{Error: err.Error()})
		return
	}

	h.log.Info().Str("name", handle.Name).Str("path", req.Path).Msg("plugin loaded via api")
	c.JSON(http.StatusCreated, gin.H{
		"id":         handle.ID.String(),
		"name":       handle.Name,
		"generation": handle.Generation,
	})
}

// UnloadPlugin handles unloading a plugin by name.
// DELETE /api/plugins/:name
func (h *PluginHandlers) UnloadPlugin(c *gin.Context) {
	name := c.Param("name")
	if err := h.host.Unload(name); err != nil {
		if errors.Is(err, plugin.ErrUnknownPlugin) {
			c.JSON(http.StatusNotFound, ErrorResponse{Error: "plugin not loaded"})
			return
		}
		h.log.Error().Err(err).Str("name", name).Msg("failed to unload plugin")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return
	}

	h.log.Info().Str("name", name).Msg("plugin unloaded via api")
	c.Status(http.StatusNoContent)
}

// ReloadPlugin handles reloading a plugin by name.
// POST /api/plugins/:name/reload
func (h *PluginHandlers) ReloadPlugin(c *gin.Context) {
	name := c.Param("name")
	handle, err := h.host.Reload(name)
	if err != nil {
		if errors.Is(err, plugin.ErrUnknownPlugin) {
			c.JSON(http.StatusNotFound, ErrorResponse{Error: "plugin not loaded"})
			return
		}
		h.log.Error().Err(err).Str("name", name).Msg("failed to reload plugin")
		c.JSON(http.StatusUnprocessableEntity, ErrorResponse{Error: err.Error()})
		return
	}

	h.log.Info().Str("name", name).Int("generation", handle.Generation).Msg("plugin reloaded via api")
	c.JSON(http.StatusOK, gin.H{
		"id":         handle.ID.String(),
		"name":       handle.Name,
		"generation": handle.Generation,
	})
}
