package server

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"llmgateway/internal/conversation"
	"llmgateway/internal/core"
	"llmgateway/internal/gateway"
)

// Handler holds the HTTP handlers
type Handler struct {
	gateway       *gateway.Gateway
	conversations conversation.Store
}

// NewHandler creates a new handler over the gateway and conversation store.
func NewHandler(gw *gateway.Gateway, conversations conversation.Store) *Handler {
	return &Handler{
		gateway:       gw,
		conversations: conversations,
	}
}

// Health handles GET /health
func (h *Handler) Health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

// ListModels handles GET /llm/models
func (h *Handler) ListModels(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]any{
		"providers": h.gateway.ListModels(c.Request().Context()),
	})
}

// ListProviders handles GET /llm/providers
func (h *Handler) ListProviders(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]any{
		"providers": h.gateway.Providers(),
	})
}

// Chat handles POST /llm/:provider/chat
func (h *Handler) Chat(c echo.Context) error {
	provider := c.Param("provider")

	var req core.ChatRequest
	if err := c.Bind(&req); err != nil {
		return handleError(c, core.NewInvalidRequestError("body", "invalid request body"))
	}

	ctx := c.Request().Context()
	if req.ConversationID != "" {
		if _, err := h.conversations.GetConversation(ctx, req.ConversationID); err != nil {
			return handleError(c, err)
		}
	}

	if req.Stream {
		return h.streamChat(c, provider, &req)
	}

	resp, err := h.gateway.Chat(ctx, provider, &req)
	if err != nil {
		return handleError(c, err)
	}
	h.persistExchange(ctx, &req, resp.Content)
	return c.JSON(http.StatusOK, resp)
}

// streamChat relays chunks as server-sent events. Errors raised before the
// first event is written are plain JSON responses with the mapped status;
// later ones become an error event.
func (h *Handler) streamChat(c echo.Context, provider string, req *core.ChatRequest) error {
	ctx := c.Request().Context()

	stream, err := h.gateway.Stream(ctx, provider, req)
	if err != nil {
		return handleError(c, err)
	}
	defer stream.Close()

	w := newEventWriter(c.Response())
	var reply strings.Builder
	for {
		chunk, err := stream.Recv()
		if err != nil {
			if errors.Is(err, io.EOF) || ctx.Err() != nil {
				return nil
			}
			if !w.started {
				return handleError(c, err)
			}
			if werr := w.writeEvent("error", errorBody(err)); werr != nil {
				slog.DebugContext(ctx, "failed to write stream error event", "error", werr)
			}
			return nil
		}

		reply.WriteString(chunk.Text)
		if err := w.writeEvent("", chunk); err != nil {
			slog.DebugContext(ctx, "client went away during stream", "provider", provider, "error", err)
			stream.Cancel()
			return nil
		}
		if chunk.IsFinal {
			h.persistExchange(ctx, req, reply.String())
			return nil
		}
	}
}

// persistExchange appends the request messages and the assistant reply to the
// request's conversation. Failures are logged; the reply was already served.
func (h *Handler) persistExchange(ctx context.Context, req *core.ChatRequest, reply string) {
	if req.ConversationID == "" || h.conversations == nil {
		return
	}
	msgs := make([]core.ChatMessage, 0, len(req.Messages)+1)
	msgs = append(msgs, req.Messages...)
	msgs = append(msgs, core.ChatMessage{Role: core.RoleAssistant, Content: reply})

	if _, err := h.conversations.AppendMessages(context.WithoutCancel(ctx), req.ConversationID, msgs); err != nil {
		slog.ErrorContext(ctx, "failed to persist conversation messages",
			"conversation_id", req.ConversationID,
			"error", err,
		)
	}
}

// handleError converts gateway and store errors to JSON responses
func handleError(c echo.Context, err error) error {
	var gwErr *core.GatewayError
	switch {
	case errors.As(err, &gwErr):
		return c.JSON(gwErr.HTTPStatusCode(), gwErr.ToJSON())
	case errors.Is(err, conversation.ErrNotFound):
		return c.JSON(http.StatusNotFound, map[string]any{
			"error": map[string]any{
				"kind":    "not_found",
				"message": "conversation not found",
			},
		})
	default:
		slog.ErrorContext(c.Request().Context(), "unexpected handler error", "error", err)
		return c.JSON(http.StatusInternalServerError,
			core.NewUnknownError("", "an unexpected error occurred", err).ToJSON())
	}
}

func errorBody(err error) map[string]interface{} {
	var gwErr *core.GatewayError
	if errors.As(err, &gwErr) {
		return gwErr.ToJSON()
	}
	return core.NewUnknownError("", err.Error(), err).ToJSON()
}
