package server

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"llmgateway/internal/core"
)

type conversationRequest struct {
	Title *string `json:"title"`
}

// CreateConversation handles POST /chats
func (h *Handler) CreateConversation(c echo.Context) error {
	var body conversationRequest
	if err := c.Bind(&body); err != nil {
		return handleError(c, core.NewInvalidRequestError("body", "invalid request body"))
	}
	conv, err := h.conversations.CreateConversation(c.Request().Context(), body.Title)
	if err != nil {
		return handleError(c, err)
	}
	return c.JSON(http.StatusCreated, conv)
}

// ListConversations handles GET /chats
func (h *Handler) ListConversations(c echo.Context) error {
	limit := 0
	if raw := c.QueryParam("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			return handleError(c, core.NewInvalidRequestError("limit", "limit must be a positive integer"))
		}
		limit = n
	}
	items, err := h.conversations.ListConversations(c.Request().Context(), limit)
	if err != nil {
		return handleError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]any{"conversations": items})
}

// GetConversation handles GET /chats/:id
func (h *Handler) GetConversation(c echo.Context) error {
	conv, err := h.conversations.GetConversation(c.Request().Context(), c.Param("id"))
	if err != nil {
		return handleError(c, err)
	}
	return c.JSON(http.StatusOK, conv)
}

// UpdateConversation handles PATCH /chats/:id. A null or missing title clears it.
func (h *Handler) UpdateConversation(c echo.Context) error {
	var body conversationRequest
	if err := c.Bind(&body); err != nil {
		return handleError(c, core.NewInvalidRequestError("body", "invalid request body"))
	}
	conv, err := h.conversations.UpdateConversation(c.Request().Context(), c.Param("id"), body.Title)
	if err != nil {
		return handleError(c, err)
	}
	return c.JSON(http.StatusOK, conv)
}

// DeleteConversation handles DELETE /chats/:id
func (h *Handler) DeleteConversation(c echo.Context) error {
	if err := h.conversations.DeleteConversation(c.Request().Context(), c.Param("id")); err != nil {
		return handleError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

// ListMessages handles GET /chats/:id/messages
func (h *Handler) ListMessages(c echo.Context) error {
	msgs, err := h.conversations.ListMessages(c.Request().Context(), c.Param("id"))
	if err != nil {
		return handleError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]any{"messages": msgs})
}
