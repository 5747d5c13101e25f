package v1

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"jan-server/services/dm-api/internal/infrastructure/auth"
	"jan-server/services/dm-api/internal/interfaces/httpserver/handlers"
	"jan-server/services/dm-api/internal/interfaces/httpserver/middlewares"
	"jan-server/services/dm-api/internal/interfaces/httpserver/requests"
	"jan-server/services/dm-api/internal/interfaces/httpserver/responses"
	"jan-server/services/dm-api/internal/utils/idgen"
	"jan-server/services/dm-api/internal/utils/platformerrors"
)

const conversationIDParam = "conversation_id"

// RegisterConversationRoutes registers the conversation and message routes.
func RegisterConversationRoutes(
	router gin.IRoutes,
	conversations *handlers.ConversationHandler,
	messages *handlers.MessageHandler,
	stream *handlers.StreamHandler,
) {
	router.GET("/conversations", listConversations(conversations))
	router.POST("/conversations", startConversation(conversations))
	router.GET("/conversations/:conversation_id", requireConversationID, getConversation(conversations))
	router.GET("/conversations/:conversation_id/messages", requireConversationID, listMessages(messages))
	router.POST("/conversations/:conversation_id/messages", requireConversationID, sendMessage(messages))
	router.GET("/conversations/:conversation_id/stream", requireConversationID, streamConversation(stream))
}

// listConversations godoc
// @Summary      List conversations
// @Description  Lists the caller's conversations with the counterpart and last message, most recent first
// @Tags         Conversations
// @Produce      json
// @Success      200 {object} responses.ListConversationsResponse
// @Failure      401 {object} responses.ErrorResponse
// @Failure      500 {object} responses.ErrorResponse
// @Security     BearerAuth
// @Router       /conversations [get]
func listConversations(handler *handlers.ConversationHandler) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := auth.UserID(c)

		summaries, err := handler.ListConversations(c.Request.Context(), userID)
		if err != nil {
			responses.HandleError(c, err, "failed to list conversations")
			return
		}
		c.JSON(http.StatusOK, responses.NewListConversationsResponse(summaries, userID))
	}
}

// startConversation godoc
// @Summary      Start a conversation
// @Description  Returns the conversation between the caller and participant_id, creating it if needed
// @Tags         Conversations
// @Accept       json
// @Produce      json
// @Param        request body requests.CreateConversationRequest true "Counterpart"
// @Success      200 {object} responses.ConversationResponse
// @Failure      400 {object} responses.ErrorResponse
// @Failure      401 {object} responses.ErrorResponse
// @Failure      500 {object} responses.ErrorResponse
// @Security     BearerAuth
// @Router       /conversations [post]
func startConversation(handler *handlers.ConversationHandler) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req requests.CreateConversationRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			responses.HandleNewError(c, platformerrors.ErrorTypeValidation, requests.Describe(err))
			return
		}
		userID := auth.UserID(c)

		conv, err := handler.StartConversation(c.Request.Context(), userID, req.ParticipantID)
		if err != nil {
			responses.HandleError(c, err, "failed to start conversation")
			return
		}
		c.JSON(http.StatusOK, responses.NewConversationResponse(conv, userID))
	}
}

// getConversation godoc
// @Summary      Get a conversation
// @Tags         Conversations
// @Produce      json
// @Param        conversation_id path string true "Conversation ID"
// @Success      200 {object} responses.ConversationResponse
// @Failure      400 {object} responses.ErrorResponse
// @Failure      403 {object} responses.ErrorResponse
// @Failure      404 {object} responses.ErrorResponse
// @Security     BearerAuth
// @Router       /conversations/{conversation_id} [get]
func getConversation(handler *handlers.ConversationHandler) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := auth.UserID(c)

		conv, err := handler.GetConversation(c.Request.Context(), userID, c.Param(conversationIDParam))
		if err != nil {
			responses.HandleError(c, err, "failed to get conversation")
			return
		}
		c.JSON(http.StatusOK, responses.NewConversationResponse(conv, userID))
	}
}

// listMessages godoc
// @Summary      List messages
// @Description  Returns the full history of a conversation in ascending order
// @Tags         Messages
// @Produce      json
// @Param        conversation_id path string true "Conversation ID"
// @Success      200 {object} responses.ListMessagesResponse
// @Failure      400 {object} responses.ErrorResponse
// @Failure      403 {object} responses.ErrorResponse
// @Failure      404 {object} responses.ErrorResponse
// @Security     BearerAuth
// @Router       /conversations/{conversation_id}/messages [get]
func listMessages(handler *handlers.MessageHandler) gin.HandlerFunc {
	return func(c *gin.Context) {
		messages, err := handler.ListMessages(c.Request.Context(), auth.UserID(c), c.Param(conversationIDParam))
		if err != nil {
			responses.HandleError(c, err, "failed to list messages")
			return
		}
		c.JSON(http.StatusOK, responses.NewListMessagesResponse(messages))
	}
}

// sendMessage godoc
// @Summary      Send a message
// @Description  Persists a message from the caller; the committed row is returned once stored
// @Tags         Messages
// @Accept       json
// @Produce      json
// @Param        conversation_id path string true "Conversation ID"
// @Param        request body requests.SendMessageRequest true "Message"
// @Success      201 {object} responses.MessageResponse
// @Failure      400 {object} responses.ErrorResponse
// @Failure      404 {object} responses.ErrorResponse
// @Failure      500 {object} responses.ErrorResponse
// @Security     BearerAuth
// @Router       /conversations/{conversation_id}/messages [post]
func sendMessage(handler *handlers.MessageHandler) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req requests.SendMessageRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			responses.HandleNewError(c, platformerrors.ErrorTypeValidation, requests.Describe(err))
			return
		}

		msg, err := handler.SendMessage(c.Request.Context(), auth.UserID(c), c.Param(conversationIDParam), req.Text, req.AttachmentRef)
		if err != nil {
			responses.HandleError(c, err, "failed to send message")
			return
		}
		c.JSON(http.StatusCreated, responses.NewMessageResponse(msg))
	}
}

// streamConversation godoc
// @Summary      Stream a conversation
// @Description  Server-Sent Events stream of the live view: "message" events for inserted or replaced entries, "state" events for session state, "error" before the stream ends on failure
// @Tags         Messages
// @Produce      text/event-stream
// @Param        conversation_id path string true "Conversation ID"
// @Success      200 {string} string "event stream"
// @Failure      400 {object} responses.ErrorResponse
// @Failure      403 {object} responses.ErrorResponse
// @Failure      404 {object} responses.ErrorResponse
// @Security     BearerAuth
// @Router       /conversations/{conversation_id}/stream [get]
func streamConversation(handler *handlers.StreamHandler) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		userID := auth.UserID(c)
		conversationID := c.Param(conversationIDParam)

		if err := handler.Authorize(ctx, userID, conversationID); err != nil {
			responses.HandleError(c, err, "failed to open stream")
			return
		}

		flusher, ok := middlewares.PrepareSSE(c)
		if !ok {
			responses.HandleErrorWithStatus(c, http.StatusInternalServerError, "streaming not supported")
			return
		}

		if err := handler.Serve(ctx, userID, conversationID, &sseWriter{c: c, flusher: flusher}); err != nil {
			_ = c.Error(err)
		}
	}
}

// requireConversationID rejects ids that cannot name a conversation.
func requireConversationID(c *gin.Context) {
	if !idgen.IsUUID(c.Param(conversationIDParam)) {
		responses.HandleNewError(c, platformerrors.ErrorTypeValidation, "conversation_id must be a UUID")
		return
	}
	c.Next()
}

type sseWriter struct {
	c       *gin.Context
	flusher http.Flusher
}

func (w *sseWriter) Event(name string, payload any) error {
	w.c.SSEvent(name, payload)
	w.flusher.Flush()
	return w.c.Request.Context().Err()
}

func (w *sseWriter) Ping() error {
	if _, err := w.c.Writer.WriteString(": ping\n\n"); err != nil {
		return err
	}
	w.flusher.Flush()
	return nil
}
