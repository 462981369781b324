package http

import (
	"net/http"
	"sort"

	"github.com/dkeye/WorldRelay/internal/app"
	"github.com/dkeye/WorldRelay/internal/domain"
	"github.com/gin-gonic/gin"
)

type worldsAPI struct {
	orch *app.Orchestrator
}

type worldURI struct {
	ID string `uri:"id" binding:"required,max=128"`
}

func (a *worldsAPI) register(g *gin.RouterGroup) {
	g.GET("/worlds", a.list)
	g.GET("/worlds/:id", a.get)
	g.GET("/worlds/:id/members", a.members)
	g.GET("/worlds/:id/messages", a.messages)
	g.DELETE("/worlds/:id", a.evict)
}

// worldID resolves :id and answers 404 for worlds without a live session,
// so reads never create one.
func (a *worldsAPI) worldID(c *gin.Context) (domain.WorldID, bool) {
	var uri worldURI
	if err := c.ShouldBindUri(&uri); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return "", false
	}
	id := domain.WorldID(uri.ID)
	if !a.orch.Worlds.Exists(id) {
		c.JSON(http.StatusNotFound, gin.H{"error": "world not found"})
		return "", false
	}
	return id, true
}

func (a *worldsAPI) list(c *gin.Context) {
	worlds := a.orch.Worlds.List()
	sort.Slice(worlds, func(i, j int) bool { return worlds[i].ID < worlds[j].ID })
	c.JSON(http.StatusOK, gin.H{"worlds": worlds})
}

func (a *worldsAPI) get(c *gin.Context) {
	id, ok := a.worldID(c)
	if !ok {
		return
	}
	info, ok := a.orch.Worlds.Info(id)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "world not found"})
		return
	}
	c.JSON(http.StatusOK, info)
}

func (a *worldsAPI) members(c *gin.Context) {
	id, ok := a.worldID(c)
	if !ok {
		return
	}
	members := a.orch.Worlds.ListMembers(id)
	sort.Slice(members, func(i, j int) bool { return members[i].ID < members[j].ID })
	c.JSON(http.StatusOK, gin.H{"members": members})
}

func (a *worldsAPI) messages(c *gin.Context) {
	id, ok := a.worldID(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, gin.H{"messages": a.orch.Worlds.CurrentMessages(id)})
}

func (a *worldsAPI) evict(c *gin.Context) {
	id, ok := a.worldID(c)
	if !ok {
		return
	}
	n := a.orch.EvictWorld(id)
	c.JSON(http.StatusOK, gin.H{"world": id, "kicked": n})
}
