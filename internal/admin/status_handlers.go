package admin

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/perch-irc/perch/internal/link"
	"github.com/perch-irc/perch/internal/state"
)

// StatusHandlers provides HTTP handlers for network state endpoints.
type StatusHandlers struct {
	queries   state.Queries
	linkState func() link.State
	started   time.Time
	log       *zerolog.Logger
}

// NewStatusHandlers creates a new status handlers instance.
func NewStatusHandlers(q state.Queries, linkState func() link.State, logger *zerolog.Logger) *StatusHandlers {
	return &StatusHandlers{
		queries:   q,
		linkState: linkState,
		started:   time.Now(),
		log:       logger,
	}
}

// StatusResponse represents the server status in API responses.
type StatusResponse struct {
	Server        string `json:"server"`
	SID           string `json:"sid"`
	Link          string `json:"link"`
	UptimeSeconds int64  `json:"uptime_seconds"`
	Servers       int    `json:"servers"`
	Users         int    `json:"users"`
	Channels      int    `json:"channels"`
}

// ServerResponse represents one linked server in API responses.
type ServerResponse struct {
	SID         string `json:"sid"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Parent      string `json:"parent,omitempty"`
	Hops        int    `json:"hops"`
}

// Status reports the link state and network counters.
// GET /api/status
func (h *StatusHandlers) Status(c *gin.Context) {
	self, _ := h.queries.ServerByID(h.queries.Self())
	servers, users, channels := h.queries.Counts()

	c.JSON(http.StatusOK, StatusResponse{
		Server:        self.Name,
		SID:           string(self.ID),
		Link:          h.linkState().String(),
		UptimeSeconds: int64(time.Since(h.started).Seconds()),
		Servers:       servers,
		Users:         users,
		Channels:      channels,
	})
}

// Servers lists every server currently on the network.
// GET /api/servers
func (h *StatusHandlers) Servers(c *gin.Context) {
	servers := h.queries.Servers()

	response := make([]ServerResponse, 0, len(servers))
	for _, sv := range servers {
		response = append(response, ServerResponse{
			SID:         string(sv.ID),
			Name:        sv.Name,
			Description: sv.Description,
			Parent:      string(sv.Parent),
			Hops:        sv.Hops,
		})
	}

	c.JSON(http.StatusOK, response)
}
