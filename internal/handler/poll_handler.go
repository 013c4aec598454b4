package handler

import (
	"campusconnect/backend/internal/models"
	"campusconnect/backend/internal/poll"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

type CreatePollInput struct {
	Question  string          `json:"question" binding:"required" example:"Where do we meet?"`
	Options   []string        `json:"options" binding:"required" example:"Library,Cafeteria"`
	Kind      models.PollKind `json:"kind" example:"opinion"`
	ChatID    *uint           `json:"chat_id"`
	ExpiresAt *time.Time      `json:"expires_at"`
}

type VoteInput struct {
	OptionID uint `json:"option_id" binding:"required" example:"4"`
}

// CreatePoll godoc
// @Summary      Create a poll
// @Description  Creates a poll with 2 to 10 options. A chat_id limits it to that chat's members.
// @Tags         polls
// @Accept       json
// @Produce      json
// @Security     BearerAuth
// @Param        input body CreatePollInput true "Poll"
// @Success      201  {object}  poll.Poll
// @Failure      400  {object}  ErrorResponse
// @Failure      403  {object}  ErrorResponse "Not a member of the chat"
// @Router       /polls [post]
func (h *ChatHandler) CreatePoll(c *gin.Context) {
	var input CreatePollInput
	if err := c.ShouldBindJSON(&input); err != nil {
		badRequest(c, err.Error())
		return
	}
	p, err := h.Polls.CreatePoll(c.Request.Context(), currentUser(c), poll.NewPoll{
		Question:  input.Question,
		Options:   input.Options,
		Kind:      input.Kind,
		ChatID:    input.ChatID,
		ExpiresAt: input.ExpiresAt,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, p)
}

// GetPoll godoc
// @Summary      Get poll results
// @Tags         polls
// @Produce      json
// @Security     BearerAuth
// @Param        id   path      int  true  "Poll ID"
// @Success      200  {object}  poll.Poll
// @Failure      403  {object}  ErrorResponse
// @Failure      404  {object}  ErrorResponse
// @Router       /polls/{id} [get]
func (h *ChatHandler) GetPoll(c *gin.Context) {
	pollID, ok := idParam(c, "id")
	if !ok {
		return
	}
	p, err := h.Polls.GetResults(c.Request.Context(), currentUser(c), pollID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, p)
}

// Vote godoc
// @Summary      Vote on a poll
// @Description  Each user votes once per poll; a second vote is rejected.
// @Tags         polls
// @Accept       json
// @Produce      json
// @Security     BearerAuth
// @Param        id    path  int        true  "Poll ID"
// @Param        input body  VoteInput  true  "Chosen option"
// @Success      200  {object}  poll.Poll
// @Failure      404  {object}  ErrorResponse "Option not found"
// @Failure      409  {object}  ErrorResponse "Already voted or poll expired"
// @Router       /polls/{id}/votes [post]
func (h *ChatHandler) Vote(c *gin.Context) {
	pollID, ok := idParam(c, "id")
	if !ok {
		return
	}
	var input VoteInput
	if err := c.ShouldBindJSON(&input); err != nil {
		badRequest(c, err.Error())
		return
	}
	p, err := h.Polls.Vote(c.Request.Context(), currentUser(c), pollID, input.OptionID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, p)
}

// DeletePoll godoc
// @Summary      Delete a poll
// @Description  Only the creator may delete a poll. Messages that carried it keep their text.
// @Tags         polls
// @Security     BearerAuth
// @Param        id   path  int  true  "Poll ID"
// @Success      204
// @Failure      403  {object}  ErrorResponse
// @Failure      404  {object}  ErrorResponse
// @Router       /polls/{id} [delete]
func (h *ChatHandler) DeletePoll(c *gin.Context) {
	pollID, ok := idParam(c, "id")
	if !ok {
		return
	}
	if err := h.Polls.DeletePoll(c.Request.Context(), currentUser(c), pollID); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
