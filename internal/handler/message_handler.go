package handler

import (
	"campusconnect/backend/internal/chat"
	"campusconnect/backend/internal/events"
	"campusconnect/backend/internal/hub"
	"campusconnect/backend/internal/models"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
)

// region --- DTOs ---

type MediaInput struct {
	Key  string           `json:"key" binding:"required" example:"chats/1/6f1c2d3e.png"`
	Kind models.MediaKind `json:"kind" binding:"required" example:"image"`
}

type SendMessageInput struct {
	Content string      `json:"content" binding:"required" example:"See you at six"`
	Media   *MediaInput `json:"media"`
	PollID  *uint       `json:"poll_id"`
}

type MarkReadResponse struct {
	Marked int64 `json:"marked"`
}

type PresignInput struct {
	Filename    string `json:"filename" binding:"required" example:"notes.pdf"`
	ContentType string `json:"content_type" binding:"required" example:"application/pdf"`
}

type DownloadResponse struct {
	URL string `json:"url"`
}

// endregion

// ListMessages godoc
// @Summary      Read a chat's history
// @Description  Messages come in sequence order. after_seq skips everything up to and including that sequence number.
// @Tags         messages
// @Produce      json
// @Security     BearerAuth
// @Param        id         path   int  true   "Chat ID"
// @Param        page       query  int  false  "Page number" default(1)
// @Param        limit      query  int  false  "Items per page" default(50)
// @Param        after_seq  query  int  false  "Only messages after this sequence number"
// @Success      200  {object}  PaginatedResponse[chat.Message]
// @Failure      403  {object}  ErrorResponse "Not a member"
// @Failure      404  {object}  ErrorResponse
// @Router       /chats/{id}/messages [get]
func (h *ChatHandler) ListMessages(c *gin.Context) {
	chatID, ok := idParam(c, "id")
	if !ok {
		return
	}
	page, limit := pageParams(c, chat.DefaultPageSize, chat.MaxPageSize)
	var afterSeq uint64
	if raw := c.Query("after_seq"); raw != "" {
		n, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			badRequest(c, "Invalid after_seq")
			return
		}
		afterSeq = n
	}

	result, err := h.Chats.ListMessages(c.Request.Context(), currentUser(c), chatID, chat.Page{Page: page, Limit: limit, AfterSeq: afterSeq})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, NewPaginatedResponse(result.Messages, result.Total, result.Page, result.Limit))
}

// SendMessage godoc
// @Summary      Send a message
// @Description  Appends a message to the chat. Media must have been uploaded through the presigned URL first.
// @Tags         messages
// @Accept       json
// @Produce      json
// @Security     BearerAuth
// @Param        id               path    int               true   "Chat ID"
// @Param        Idempotency-Key  header  string            false  "Replays the first response for repeated keys"
// @Param        input            body    SendMessageInput  true   "Message"
// @Success      201  {object}  chat.Message
// @Failure      400  {object}  ErrorResponse
// @Failure      403  {object}  ErrorResponse "Not a member"
// @Failure      429  {object}  ErrorResponse "Rate limited"
// @Router       /chats/{id}/messages [post]
func (h *ChatHandler) SendMessage(c *gin.Context) {
	chatID, ok := idParam(c, "id")
	if !ok {
		return
	}
	var input SendMessageInput
	if err := c.ShouldBindJSON(&input); err != nil {
		badRequest(c, err.Error())
		return
	}
	in := chat.SendInput{Content: input.Content, PollID: input.PollID}
	if input.Media != nil {
		in.Media = &chat.Media{Key: input.Media.Key, Kind: input.Media.Kind}
	}

	msg, err := h.Chats.SendMessage(c.Request.Context(), currentUser(c), chatID, in)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, msg)
}

// MarkRead godoc
// @Summary      Mark a chat as read
// @Description  Marks every unread message addressed to the caller as read. Repeating it marks nothing.
// @Tags         messages
// @Produce      json
// @Security     BearerAuth
// @Param        id   path      int  true  "Chat ID"
// @Success      200  {object}  MarkReadResponse
// @Failure      403  {object}  ErrorResponse "Not a member"
// @Router       /chats/{id}/read [post]
func (h *ChatHandler) MarkRead(c *gin.Context) {
	chatID, ok := idParam(c, "id")
	if !ok {
		return
	}
	n, err := h.Chats.MarkRead(c.Request.Context(), currentUser(c), chatID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, MarkReadResponse{Marked: n})
}

// StreamEvents godoc
// @Summary      Follow a chat live
// @Description  Server-sent events for every committed change in the chat. Pass the token as access_token when the client cannot set headers.
// @Tags         messages
// @Produce      text/event-stream
// @Security     BearerAuth
// @Param        id   path  int  true  "Chat ID"
// @Success      200
// @Failure      403  {object}  ErrorResponse "Not a member"
// @Router       /chats/{id}/events [get]
func (h *ChatHandler) StreamEvents(c *gin.Context) {
	chatID, ok := idParam(c, "id")
	if !ok {
		return
	}
	userID := currentUser(c)
	if err := h.Chats.RequireMember(c.Request.Context(), userID, chatID); err != nil {
		respondError(c, err)
		return
	}

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")

	client := make(hub.Client, 16)
	h.Hub.Subscribe(chatID, client)
	defer h.Hub.Unsubscribe(chatID, client)

	c.Stream(func(w io.Writer) bool {
		select {
		case payload, ok := <-client:
			if !ok {
				return false
			}
			send, more := h.admit(c.Request.Context(), userID, chatID, payload)
			if send {
				c.SSEvent("message", string(payload))
			}
			return more
		case <-c.Request.Context().Done():
			return false
		}
	})
}

// PresignUpload godoc
// @Summary      Get an upload URL for an attachment
// @Description  Returns a presigned PUT URL and the object key to reference in the message.
// @Tags         media
// @Accept       json
// @Produce      json
// @Security     BearerAuth
// @Param        id    path  int           true  "Chat ID"
// @Param        input body  PresignInput  true  "File info"
// @Success      201  {object}  media.Upload
// @Failure      403  {object}  ErrorResponse "Not a member"
// @Failure      503  {object}  ErrorResponse "Media storage not configured"
// @Router       /chats/{id}/media [post]
func (h *ChatHandler) PresignUpload(c *gin.Context) {
	if !h.mediaEnabled(c) {
		return
	}
	chatID, ok := idParam(c, "id")
	if !ok {
		return
	}
	var input PresignInput
	if err := c.ShouldBindJSON(&input); err != nil {
		badRequest(c, err.Error())
		return
	}
	if err := h.Chats.RequireMember(c.Request.Context(), currentUser(c), chatID); err != nil {
		respondError(c, err)
		return
	}

	upload, err := h.Media.PresignUpload(c.Request.Context(), chatID, input.Filename, input.ContentType)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusServiceUnavailable, ErrorResponse{Error: "Failed to presign upload", Code: "UNAVAILABLE"})
		return
	}
	c.JSON(http.StatusCreated, upload)
}

// PresignDownload godoc
// @Summary      Get a download URL for an attachment
// @Tags         media
// @Produce      json
// @Security     BearerAuth
// @Param        id   path   int     true  "Chat ID"
// @Param        key  query  string  true  "Object key from the message"
// @Success      200  {object}  DownloadResponse
// @Failure      400  {object}  ErrorResponse
// @Failure      403  {object}  ErrorResponse "Not a member"
// @Failure      503  {object}  ErrorResponse "Media storage not configured"
// @Router       /chats/{id}/media [get]
func (h *ChatHandler) PresignDownload(c *gin.Context) {
	if !h.mediaEnabled(c) {
		return
	}
	chatID, ok := idParam(c, "id")
	if !ok {
		return
	}
	key := c.Query("key")
	if !strings.HasPrefix(key, chat.MediaKeyPrefix(chatID)) {
		badRequest(c, "key does not belong to this chat")
		return
	}
	if err := h.Chats.RequireMember(c.Request.Context(), currentUser(c), chatID); err != nil {
		respondError(c, err)
		return
	}

	u, err := h.Media.PresignDownload(c.Request.Context(), key)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusServiceUnavailable, ErrorResponse{Error: "Failed to presign download", Code: "UNAVAILABLE"})
		return
	}
	c.JSON(http.StatusOK, DownloadResponse{URL: u.String()})
}

// admit decides whether one hub event goes out on userID's stream and
// whether the stream stays open afterwards. The stream ends with the event
// that took the user's access away; content published after that point,
// including anything queued behind a dropped removal, is never sent.
func (h *ChatHandler) admit(ctx context.Context, userID, chatID uint, payload []byte) (send, more bool) {
	var ev struct {
		Type events.Type `json:"type"`
	}
	if err := json.Unmarshal(payload, &ev); err != nil {
		return false, true
	}
	switch ev.Type {
	case events.ChatDeleted:
		return true, false
	case events.MemberRemoved:
		ok, err := h.Chats.IsMember(ctx, userID, chatID)
		return true, err == nil && ok
	}
	ok, err := h.Chats.IsMember(ctx, userID, chatID)
	if err != nil || !ok {
		return false, false
	}
	return true, true
}

func (h *ChatHandler) mediaEnabled(c *gin.Context) bool {
	if h.Media == nil {
		c.AbortWithStatusJSON(http.StatusServiceUnavailable, ErrorResponse{Error: "Media storage not configured", Code: "UNAVAILABLE"})
		return false
	}
	return true
}
