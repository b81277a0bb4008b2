package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	appservice "github.com/turtacn/obo/internal/application/service"
	"github.com/turtacn/obo/internal/infrastructure/monitoring"
	"github.com/turtacn/obo/pkg/errors"
)

// CallbackHandler terminates the PKCE authorization-code flows. Authorization
// servers redirect the principal's browser here with either a code or an
// error.
type CallbackHandler struct {
	ledger  *appservice.SlipLedger
	metrics *monitoring.Metrics
}

// NewCallbackHandler wires the handler.
func NewCallbackHandler(ledger *appservice.SlipLedger, metrics *monitoring.Metrics) *CallbackHandler {
	return &CallbackHandler{ledger: ledger, metrics: metrics}
}

// Handle serves GET /v1/callback/:target.
func (h *CallbackHandler) Handle(c *gin.Context) {
	target := c.Param("target")
	state := c.Query("state")
	code := c.Query("code")
	oauthErr := c.Query("error")

	if state == "" {
		writeError(c, errors.ErrInvalidRequest("callback is missing the state parameter"))
		return
	}

	grant, err := h.ledger.HandleCallback(c.Request.Context(), target, state, code, oauthErr)
	if err != nil {
		h.metrics.RecordFlowCompletion(target, "denied")
		writeError(c, err)
		return
	}
	h.metrics.RecordFlowCompletion(target, "granted")

	// The browser lands here, so the response is intentionally minimal: the
	// credential itself is retrieved through the API, never shown in the
	// redirect response.
	c.JSON(http.StatusOK, gin.H{
		"slip_id": grant.Slip.ID,
		"status":  "authorized",
		"message": "Authorization complete. The requesting agent can now use its slip.",
	})
}
