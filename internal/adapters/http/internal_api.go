package http

import (
	"crypto/subtle"
	"encoding/json"
	"net/http"

	"github.com/dkeye/Agora/internal/app/orch"
	"github.com/dkeye/Agora/internal/domain"
	"github.com/gin-gonic/gin"
)

const internalTokenHeader = "X-Internal-Token"

// InternalTokenMiddleware guards the backend-facing API with a shared token.
func InternalTokenMiddleware(token string) gin.HandlerFunc {
	want := []byte(token)
	return func(c *gin.Context) {
		got := []byte(c.GetHeader(internalTokenHeader))
		if subtle.ConstantTimeCompare(got, want) != 1 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid internal token"})
			return
		}
		c.Next()
	}
}

type notifyRequest struct {
	Event string          `json:"event" binding:"required"`
	Data  json.RawMessage `json:"data"`
}

type declareSessionRequest struct {
	ID          domain.SessionID   `json:"id" binding:"required"`
	CommunityID domain.CommunityID `json:"communityId" binding:"required"`
}

func registerInternal(g *gin.RouterGroup, o *orch.Orchestrator) {
	g.POST("/rooms/:room/notify", func(c *gin.Context) {
		key, ok := roomParam(c)
		if !ok {
			return
		}
		var req notifyRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		res := o.NotifyRoom(key, req.Event, req.Data)
		c.JSON(http.StatusOK, gin.H{"room": key, "delivered": res.SendTo, "dropped": len(res.Dropped)})
	})

	g.POST("/users/:id/notify", func(c *gin.Context) {
		var req notifyRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		delivered := o.NotifyUser(domain.IdentityID(c.Param("id")), req.Event, req.Data)
		c.JSON(http.StatusOK, gin.H{"delivered": delivered})
	})

	g.POST("/sessions", func(c *gin.Context) {
		var req declareSessionRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		if err := o.DeclareSession(req.ID, req.CommunityID); err != nil {
			c.JSON(statusOf(err), gin.H{"error": err.Error(), "code": domain.KindOf(err).String()})
			return
		}
		info, _ := o.Session(req.ID)
		c.JSON(http.StatusCreated, info)
	})

	g.GET("/sessions/:id", func(c *gin.Context) {
		info, ok := o.Session(domain.SessionID(c.Param("id")))
		if !ok {
			c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
			return
		}
		c.JSON(http.StatusOK, info)
	})

	g.GET("/rooms/:room", func(c *gin.Context) {
		key, ok := roomParam(c)
		if !ok {
			return
		}
		c.JSON(http.StatusOK, gin.H{"room": key, "memberCount": o.Rooms.MemberCount(key)})
	})

	g.GET("/presence/:id", func(c *gin.Context) {
		_, online := o.Presence.LookupConnection(domain.IdentityID(c.Param("id")))
		c.JSON(http.StatusOK, gin.H{"online": online})
	})
}

func health(o *orch.Orchestrator) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "connections": o.Presence.Count()})
	}
}

func roomParam(c *gin.Context) (domain.RoomKey, bool) {
	key, err := domain.ParseRoomKey(c.Param("room"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return domain.RoomKey{}, false
	}
	return key, true
}

func statusOf(err error) int {
	switch domain.KindOf(err) {
	case domain.KindValidation:
		return http.StatusBadRequest
	case domain.KindNotFound:
		return http.StatusNotFound
	case domain.KindConflict:
		return http.StatusConflict
	case domain.KindAuthorization:
		return http.StatusForbidden
	case domain.KindAuthentication, domain.KindIdentity:
		return http.StatusUnauthorized
	default:
		return http.StatusInternalServerError
	}
}
