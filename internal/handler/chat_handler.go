package handler

import (
	"campusconnect/backend/internal/chat"
	"campusconnect/backend/internal/hub"
	"campusconnect/backend/internal/media"
	"campusconnect/backend/internal/models"
	"campusconnect/backend/internal/poll"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// ChatHandler serves the chat, message and poll routes.
type ChatHandler struct {
	Chats *chat.Service
	Polls *poll.Service
	Hub   *hub.Hub
	// Media is nil when no object store is configured; upload routes
	// then answer 503.
	Media *media.Storage
}

// region --- DTOs ---

type CreateDirectInput struct {
	UserID uint `json:"user_id" binding:"required" example:"2"`
}

type CreateGroupInput struct {
	Name        string `json:"name" binding:"required" example:"Algorithms study group"`
	Description string `json:"description" example:"Weekly problem sets"`
	MemberIDs   []uint `json:"member_ids"`
}

type RenameInput struct {
	Name string `json:"name" binding:"required" example:"Algorithms (spring)"`
}

type MemberInput struct {
	UserID uint `json:"user_id" binding:"required" example:"3"`
}

type ChatResponse struct {
	ID             uint                 `json:"id"`
	Kind           models.ChatKind      `json:"kind" example:"group"`
	Title          string               `json:"title"`
	Name           string               `json:"name,omitempty"`
	Description    string               `json:"description,omitempty"`
	AdminID        uint                 `json:"admin_id,omitempty"`
	Members        []uint               `json:"members"`
	CreatedAt      time.Time            `json:"created_at"`
	LastActivityAt time.Time            `json:"last_activity_at"`
	LastMessage    *chat.MessageSummary `json:"last_message,omitempty"`
	UnreadCount    int64                `json:"unread_count"`
}

func newChatResponse(c chat.Chat) ChatResponse {
	resp := ChatResponse{
		ID:             c.ID,
		Kind:           c.Kind(),
		Title:          c.Title,
		AdminID:        c.AdminID(),
		Members:        c.Members(),
		CreatedAt:      c.CreatedAt,
		LastActivityAt: c.LastActivityAt,
		LastMessage:    c.LastMessage,
		UnreadCount:    c.UnreadCount,
	}
	if g, ok := c.Variant.(chat.Group); ok {
		resp.Name = g.Name
		resp.Description = g.Description
	}
	return resp
}

// endregion

// ListChats godoc
// @Summary      List my chats
// @Description  Returns every chat the user belongs to, most recently active first, with the last message and the unread count.
// @Tags         chats
// @Produce      json
// @Security     BearerAuth
// @Success      200  {array}   ChatResponse
// @Failure      401  {object}  ErrorResponse
// @Router       /chats [get]
func (h *ChatHandler) ListChats(c *gin.Context) {
	chats, err := h.Chats.GetChatsForUser(c.Request.Context(), currentUser(c))
	if err != nil {
		respondError(c, err)
		return
	}
	response := make([]ChatResponse, 0, len(chats))
	for _, ch := range chats {
		response = append(response, newChatResponse(ch))
	}
	c.JSON(http.StatusOK, response)
}

// CreateDirectChat godoc
// @Summary      Open a direct chat
// @Description  Returns the direct chat with the given user, creating it on first use.
// @Tags         chats
// @Accept       json
// @Produce      json
// @Security     BearerAuth
// @Param        input body CreateDirectInput true "Other user"
// @Success      200  {object}  ChatResponse
// @Failure      400  {object}  ErrorResponse
// @Failure      404  {object}  ErrorResponse "User not found"
// @Router       /chats/direct [post]
func (h *ChatHandler) CreateDirectChat(c *gin.Context) {
	var input CreateDirectInput
	if err := c.ShouldBindJSON(&input); err != nil {
		badRequest(c, err.Error())
		return
	}
	ch, err := h.Chats.CreateDirectChat(c.Request.Context(), currentUser(c), input.UserID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, newChatResponse(*ch))
}

// CreateGroupChat godoc
// @Summary      Create a group chat
// @Description  Creates a group with the caller as its admin.
// @Tags         chats
// @Accept       json
// @Produce      json
// @Security     BearerAuth
// @Param        Idempotency-Key header string false "Replays the first response for repeated keys"
// @Param        input body CreateGroupInput true "Group Info"
// @Success      201  {object}  ChatResponse
// @Failure      400  {object}  ErrorResponse
// @Failure      404  {object}  ErrorResponse "Member not found"
// @Router       /chats/group [post]
func (h *ChatHandler) CreateGroupChat(c *gin.Context) {
	var input CreateGroupInput
	if err := c.ShouldBindJSON(&input); err != nil {
		badRequest(c, err.Error())
		return
	}
	ch, err := h.Chats.CreateGroupChat(c.Request.Context(), currentUser(c), chat.NewGroup{
		Name:        input.Name,
		Description: input.Description,
		MemberIDs:   input.MemberIDs,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, newChatResponse(*ch))
}

// GetChat godoc
// @Summary      Get a chat
// @Tags         chats
// @Produce      json
// @Security     BearerAuth
// @Param        id   path      int  true  "Chat ID"
// @Success      200  {object}  ChatResponse
// @Failure      403  {object}  ErrorResponse "Not a member"
// @Failure      404  {object}  ErrorResponse
// @Router       /chats/{id} [get]
func (h *ChatHandler) GetChat(c *gin.Context) {
	chatID, ok := idParam(c, "id")
	if !ok {
		return
	}
	ch, err := h.Chats.GetChat(c.Request.Context(), currentUser(c), chatID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, newChatResponse(*ch))
}

// RenameChat godoc
// @Summary      Rename a group
// @Description  Only the group admin may rename it.
// @Tags         chats
// @Accept       json
// @Security     BearerAuth
// @Param        id    path  int          true  "Chat ID"
// @Param        input body  RenameInput  true  "New name"
// @Success      204
// @Failure      400  {object}  ErrorResponse
// @Failure      403  {object}  ErrorResponse "Admin access required"
// @Router       /chats/{id} [put]
func (h *ChatHandler) RenameChat(c *gin.Context) {
	chatID, ok := idParam(c, "id")
	if !ok {
		return
	}
	var input RenameInput
	if err := c.ShouldBindJSON(&input); err != nil {
		badRequest(c, err.Error())
		return
	}
	if err := h.Chats.RenameChat(c.Request.Context(), currentUser(c), chatID, input.Name); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// DeleteChat godoc
// @Summary      Delete a chat
// @Description  Deletes the chat with its history. Either member may delete a direct chat; only the admin may delete a group.
// @Tags         chats
// @Security     BearerAuth
// @Param        id   path  int  true  "Chat ID"
// @Success      204
// @Failure      403  {object}  ErrorResponse
// @Failure      404  {object}  ErrorResponse
// @Router       /chats/{id} [delete]
func (h *ChatHandler) DeleteChat(c *gin.Context) {
	chatID, ok := idParam(c, "id")
	if !ok {
		return
	}
	if err := h.Chats.DeleteChat(c.Request.Context(), currentUser(c), chatID); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// ListMembers godoc
// @Summary      List chat members
// @Tags         chats
// @Produce      json
// @Security     BearerAuth
// @Param        id   path      int  true  "Chat ID"
// @Success      200  {array}   chat.Member
// @Failure      403  {object}  ErrorResponse "Not a member"
// @Router       /chats/{id}/members [get]
func (h *ChatHandler) ListMembers(c *gin.Context) {
	chatID, ok := idParam(c, "id")
	if !ok {
		return
	}
	members, err := h.Chats.ListMembers(c.Request.Context(), currentUser(c), chatID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, members)
}

// AddMember godoc
// @Summary      Add a member to a group
// @Tags         chats
// @Accept       json
// @Security     BearerAuth
// @Param        id    path  int          true  "Chat ID"
// @Param        input body  MemberInput  true  "User to add"
// @Success      204
// @Failure      403  {object}  ErrorResponse "Admin access required"
// @Failure      404  {object}  ErrorResponse "User not found"
// @Failure      409  {object}  ErrorResponse "Already a member"
// @Router       /chats/{id}/members [post]
func (h *ChatHandler) AddMember(c *gin.Context) {
	chatID, ok := idParam(c, "id")
	if !ok {
		return
	}
	var input MemberInput
	if err := c.ShouldBindJSON(&input); err != nil {
		badRequest(c, err.Error())
		return
	}
	if err := h.Chats.AddMember(c.Request.Context(), currentUser(c), chatID, input.UserID); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// RemoveMember godoc
// @Summary      Remove a member from a group
// @Description  The admin cannot remove themselves; they must promote someone else and leave.
// @Tags         chats
// @Security     BearerAuth
// @Param        id      path  int  true  "Chat ID"
// @Param        userID  path  int  true  "User ID"
// @Success      204
// @Failure      400  {object}  ErrorResponse
// @Failure      403  {object}  ErrorResponse "Admin access required"
// @Failure      404  {object}  ErrorResponse "Not a member"
// @Router       /chats/{id}/members/{userID} [delete]
func (h *ChatHandler) RemoveMember(c *gin.Context) {
	chatID, ok := idParam(c, "id")
	if !ok {
		return
	}
	userID, ok := idParam(c, "userID")
	if !ok {
		return
	}
	if err := h.Chats.RemoveMember(c.Request.Context(), currentUser(c), chatID, userID); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// PromoteAdmin godoc
// @Summary      Hand the admin role to another member
// @Tags         chats
// @Accept       json
// @Security     BearerAuth
// @Param        id    path  int          true  "Chat ID"
// @Param        input body  MemberInput  true  "New admin"
// @Success      204
// @Failure      400  {object}  ErrorResponse "Not a member"
// @Failure      403  {object}  ErrorResponse "Admin access required"
// @Router       /chats/{id}/admin [put]
func (h *ChatHandler) PromoteAdmin(c *gin.Context) {
	chatID, ok := idParam(c, "id")
	if !ok {
		return
	}
	var input MemberInput
	if err := c.ShouldBindJSON(&input); err != nil {
		badRequest(c, err.Error())
		return
	}
	if err := h.Chats.PromoteAdmin(c.Request.Context(), currentUser(c), chatID, input.UserID); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// LeaveChat godoc
// @Summary      Leave a group
// @Description  The admin must hand over the role first.
// @Tags         chats
// @Security     BearerAuth
// @Param        id   path  int  true  "Chat ID"
// @Success      204
// @Failure      400  {object}  ErrorResponse
// @Failure      403  {object}  ErrorResponse "Not a member"
// @Router       /chats/{id}/leave [post]
func (h *ChatHandler) LeaveChat(c *gin.Context) {
	chatID, ok := idParam(c, "id")
	if !ok {
		return
	}
	if err := h.Chats.LeaveChat(c.Request.Context(), currentUser(c), chatID); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
