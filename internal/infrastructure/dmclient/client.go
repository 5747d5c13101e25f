// Package dmclient is an HTTP client for the dm-api, used by dm-cli.
package dmclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"resty.dev/v3"

	"jan-server/services/dm-api/internal/domain/conversation"
	"jan-server/services/dm-api/internal/domain/ingest"
	"jan-server/services/dm-api/internal/interfaces/httpserver/requests"
	"jan-server/services/dm-api/internal/interfaces/httpserver/responses"
	"jan-server/services/dm-api/internal/utils/platformerrors"
)

// Config selects the server and the identity presented to it.
type Config struct {
	BaseURL string
	// Token is sent as a bearer token when set.
	Token string
	// UserID is sent as X-User-ID when set; used behind a gateway or with auth disabled.
	UserID  string
	Timeout time.Duration
}

// Client calls the dm-api v1 routes.
type Client struct {
	http    *resty.Client
	stream  *resty.Client
	baseURL string
	token   string
	userID  string
	log     zerolog.Logger
}

var _ ingest.Service = (*Client)(nil)

// New creates a client. The timeout applies to unary calls only; streams are
// bounded by their context.
func New(cfg Config, log zerolog.Logger) *Client {
	unary := resty.New()
	if cfg.Timeout > 0 {
		unary.SetTimeout(cfg.Timeout)
	}
	return &Client{
		http:    unary,
		stream:  resty.New(),
		baseURL: strings.TrimRight(cfg.BaseURL, "/") + "/v1",
		token:   strings.TrimSpace(cfg.Token),
		userID:  strings.TrimSpace(cfg.UserID),
		log:     log.With().Str("component", "dm-client").Logger(),
	}
}

// Close releases idle connections.
func (c *Client) Close() error {
	return errors.Join(c.http.Close(), c.stream.Close())
}

// ListConversations returns the caller's conversations, most recent first.
func (c *Client) ListConversations(ctx context.Context) ([]*responses.ConversationSummaryResponse, error) {
	var body responses.ListConversationsResponse
	resp, err := c.request(ctx).SetResult(&body).Get(c.endpoint("/conversations"))
	if err != nil {
		return nil, c.transportError(ctx, "list conversations", err)
	}
	if resp.IsError() {
		return nil, c.errorFromResponse(ctx, resp.StatusCode(), resp.Bytes(), "")
	}
	return body.Data, nil
}

// StartConversation returns the conversation with participantID, creating it if needed.
func (c *Client) StartConversation(ctx context.Context, participantID string) (*responses.ConversationResponse, error) {
	var body responses.ConversationResponse
	resp, err := c.request(ctx).
		SetBody(requests.CreateConversationRequest{ParticipantID: participantID}).
		SetResult(&body).
		Post(c.endpoint("/conversations"))
	if err != nil {
		return nil, c.transportError(ctx, "start conversation", err)
	}
	if resp.IsError() {
		return nil, c.errorFromResponse(ctx, resp.StatusCode(), resp.Bytes(), "")
	}
	return &body, nil
}

// ListMessages returns the full history of a conversation in ascending order.
func (c *Client) ListMessages(ctx context.Context, conversationID string) ([]conversation.Message, error) {
	var body responses.ListMessagesResponse
	resp, err := c.request(ctx).SetResult(&body).Get(c.endpoint("/conversations/" + conversationID + "/messages"))
	if err != nil {
		return nil, c.transportError(ctx, "list messages", err)
	}
	if resp.IsError() {
		return nil, c.errorFromResponse(ctx, resp.StatusCode(), resp.Bytes(), conversationID)
	}

	messages := make([]conversation.Message, 0, len(body.Data))
	for _, m := range body.Data {
		messages = append(messages, toMessage(m))
	}
	return messages, nil
}

// Send implements ingest.Service. The server attributes the message to the
// authenticated caller; senderID must name the same user.
func (c *Client) Send(ctx context.Context, conversationID, senderID, text string, opts ...ingest.SendOption) (*conversation.Message, error) {
	if c.userID != "" && senderID != c.userID {
		return nil, conversation.NewValidationError(ctx, "sender does not match the client identity", map[string]any{
			"sender_id": senderID,
		})
	}

	var body responses.MessageResponse
	resp, err := c.request(ctx).
		SetBody(requests.SendMessageRequest{Text: text, AttachmentRef: ingest.AttachmentRef(opts...)}).
		SetResult(&body).
		Post(c.endpoint("/conversations/" + conversationID + "/messages"))
	if err != nil {
		return nil, conversation.NewPersistenceError(ctx, "send message", err)
	}
	if resp.IsError() {
		return nil, c.errorFromResponse(ctx, resp.StatusCode(), resp.Bytes(), conversationID)
	}

	msg := toMessage(&body)
	return &msg, nil
}

func (c *Client) request(ctx context.Context) *resty.Request {
	return c.authorize(c.http.R().SetContext(ctx)).SetHeader("Content-Type", "application/json")
}

func (c *Client) authorize(req *resty.Request) *resty.Request {
	if c.token != "" {
		req.SetHeader("Authorization", "Bearer "+c.token)
	}
	if c.userID != "" {
		req.SetHeader("X-User-ID", c.userID)
	}
	return req
}

func (c *Client) endpoint(path string) string {
	return c.baseURL + path
}

func (c *Client) transportError(ctx context.Context, op string, err error) error {
	return platformerrors.NewError(ctx, platformerrors.LayerClient, platformerrors.ErrorTypeInternal, op+" failed", err, "")
}

// errorFromResponse rebuilds a typed error from the server's error body.
func (c *Client) errorFromResponse(ctx context.Context, status int, raw []byte, conversationID string) error {
	message := http.StatusText(status)
	var body platformerrors.HTTPErrorResponse
	if err := json.Unmarshal(raw, &body); err == nil && body.Error != nil && body.Error.Message != "" {
		message = body.Error.Message
	}

	c.log.Debug().Int("status", status).Str("message", message).Msg("request rejected")

	switch status {
	case http.StatusBadRequest:
		return conversation.NewValidationError(ctx, message, nil)
	case http.StatusNotFound:
		return conversation.NewNotFoundError(ctx, conversationID)
	case http.StatusForbidden:
		return conversation.NewForbiddenError(ctx, conversationID)
	case http.StatusUnauthorized:
		return platformerrors.NewError(ctx, platformerrors.LayerClient, platformerrors.ErrorTypeUnauthorized, message, nil, "")
	default:
		return conversation.NewPersistenceError(ctx, message, fmt.Errorf("status %d", status))
	}
}

func toMessage(m *responses.MessageResponse) conversation.Message {
	return conversation.Message{
		ID:             m.ID,
		ConversationID: m.ConversationID,
		SenderID:       m.SenderID,
		Text:           m.Text,
		AttachmentRef:  m.AttachmentRef,
		CreatedAt:      m.CreatedAt,
		UpdatedAt:      m.UpdatedAt,
		Edited:         m.Edited,
	}
}
