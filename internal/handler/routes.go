package handler

import (
	"campusconnect/backend/internal/auth"
	"campusconnect/backend/internal/database"
	"campusconnect/backend/internal/idem"
	"campusconnect/backend/internal/ratelimit"
	"time"

	"github.com/gin-gonic/gin"
)

// Guards are the Redis-backed middlewares. Nil fields switch them off.
type Guards struct {
	Limiter      *ratelimit.Limiter
	MessageLimit int64
	Window       time.Duration
	Idempotency  *idem.Store
}

func (g Guards) sendLimit() gin.HandlerFunc {
	if g.Limiter == nil || g.MessageLimit <= 0 {
		return noop
	}
	return g.Limiter.Middleware("send_message", g.MessageLimit, g.Window)
}

func (g Guards) idempotent() gin.HandlerFunc {
	if g.Idempotency == nil {
		return noop
	}
	return g.Idempotency.Middleware()
}

func noop(c *gin.Context) { c.Next() }

// RegisterRoutes mounts the API under /api/v1.
func RegisterRoutes(router *gin.Engine, h *ChatHandler, g Guards) {
	apiV1 := router.Group("/api/v1")

	// Auth routes
	authRoutes := apiV1.Group("/auth")
	{
		authRoutes.POST("/register", RegisterUser)
		authRoutes.POST("/login", LoginUser)
	}

	protected := apiV1.Group("")
	protected.Use(auth.AuthMiddleware(), auth.ActiveUserMiddleware(database.DB))

	// User routes (protected)
	userRoutes := protected.Group("/users")
	{
		userRoutes.GET("", SearchUsers) // Must be before /:id
		userRoutes.GET("/me", GetMe)
		userRoutes.GET("/:id", GetUserByID)
	}

	// Chat routes (protected)
	chatRoutes := protected.Group("/chats")
	{
		chatRoutes.GET("", h.ListChats)
		chatRoutes.POST("/direct", h.CreateDirectChat)
		chatRoutes.POST("/group", g.idempotent(), h.CreateGroupChat)
		chatRoutes.GET("/:id", h.GetChat)
		chatRoutes.PUT("/:id", h.RenameChat)
		chatRoutes.DELETE("/:id", h.DeleteChat)

		chatRoutes.GET("/:id/members", h.ListMembers)
		chatRoutes.POST("/:id/members", h.AddMember)
		chatRoutes.DELETE("/:id/members/:userID", h.RemoveMember)
		chatRoutes.PUT("/:id/admin", h.PromoteAdmin)
		chatRoutes.POST("/:id/leave", h.LeaveChat)

		chatRoutes.GET("/:id/messages", h.ListMessages)
		chatRoutes.POST("/:id/messages", g.sendLimit(), g.idempotent(), h.SendMessage)
		chatRoutes.POST("/:id/read", h.MarkRead)
		chatRoutes.GET("/:id/events", h.StreamEvents)

		chatRoutes.POST("/:id/media", h.PresignUpload)
		chatRoutes.GET("/:id/media", h.PresignDownload)
	}

	// Poll routes (protected)
	pollRoutes := protected.Group("/polls")
	{
		pollRoutes.POST("", g.idempotent(), h.CreatePoll)
		pollRoutes.GET("/:id", h.GetPoll)
		pollRoutes.POST("/:id/votes", h.Vote)
		pollRoutes.DELETE("/:id", h.DeletePoll)
	}
}
