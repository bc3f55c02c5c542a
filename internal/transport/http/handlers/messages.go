package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/jayceeit/password-expire/internal/transport/http/middleware"
	"github.com/jayceeit/password-expire/internal/usecase"
)

// MessagesHandler hands queued flash messages to the browser once.
type MessagesHandler struct {
	messages *usecase.MessageService
}

func NewMessagesHandler(messages *usecase.MessageService) *MessagesHandler {
	return &MessagesHandler{messages: messages}
}

// List returns and clears the messages of this browser, including the ones
// queued while serving this request.
func (h *MessagesHandler) List(c *gin.Context) {
	state := middleware.RequestState(c)
	if state == nil || h.messages == nil {
		c.JSON(http.StatusInternalServerError, NewErrorResponse(c, "messages handler not configured"))
		return
	}

	ctx := c.Request.Context()
	if err := state.Messages().Flush(ctx); err != nil {
		RespondWithMappedError(c, err, nil, http.StatusInternalServerError, "failed to load messages")
		return
	}
	stored, err := h.messages.Pop(ctx, state.ClientKey)
	if err != nil {
		RespondWithMappedError(c, err, nil, http.StatusInternalServerError, "failed to load messages")
		return
	}

	response := MessagesResponse{Messages: make([]FlashMessage, 0, len(stored))}
	for _, msg := range stored {
		response.Messages = append(response.Messages, FlashMessage{Level: string(msg.Level), Text: msg.Text, Tags: msg.Tags})
	}
	c.JSON(http.StatusOK, response)
}
