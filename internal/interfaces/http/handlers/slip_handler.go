// Package handlers contains the gin handlers for the slip API: slip
// lifecycle, OAuth callbacks, signing-key metadata and health probes.
package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	appservice "github.com/turtacn/obo/internal/application/service"
	"github.com/turtacn/obo/internal/domain/models"
	"github.com/turtacn/obo/internal/infrastructure/monitoring"
	"github.com/turtacn/obo/pkg/errors"
)

// SlipHandler serves the slip lifecycle endpoints.
type SlipHandler struct {
	ledger  *appservice.SlipLedger
	metrics *monitoring.Metrics
}

// NewSlipHandler wires the handler.
func NewSlipHandler(ledger *appservice.SlipLedger, metrics *monitoring.Metrics) *SlipHandler {
	return &SlipHandler{ledger: ledger, metrics: metrics}
}

type slipRequestBody struct {
	Actor      string   `json:"actor" binding:"required"`
	ActorType  string   `json:"actor_type"`
	Principal  string   `json:"principal" binding:"required"`
	Target     string   `json:"target" binding:"required"`
	Scope      []string `json:"scope" binding:"required"`
	TTLSeconds int64    `json:"ttl_seconds"`
	Reason     string   `json:"reason"`
	Credential string   `json:"credential"`
}

// Create handles POST /v1/slips.
func (h *SlipHandler) Create(c *gin.Context) {
	var body slipRequestBody
	if err := c.ShouldBindJSON(&body); err != nil {
		writeError(c, errors.ErrInvalidRequest(err.Error()))
		return
	}

	req := &models.SlipRequest{
		Actor:      body.Actor,
		Principal:  body.Principal,
		Target:     body.Target,
		Scope:      body.Scope,
		TTL:        time.Duration(body.TTLSeconds) * time.Second,
		Reason:     body.Reason,
		Credential: body.Credential,
	}

	start := time.Now()
	grant, err := h.ledger.RequestSlip(c.Request.Context(), req)
	if err != nil {
		h.metrics.RecordSlipRequest(body.Target, "unknown", "error", time.Since(start))
		writeError(c, err)
		return
	}
	h.metrics.RecordSlipRequest(body.Target, string(grant.Slip.ProvisioningMethod), "ok", time.Since(start))

	status := http.StatusCreated
	if grant.Token == nil {
		// Provisioning is pending a user step.
		status = http.StatusAccepted
	}
	c.JSON(status, grant)
}

// Complete handles POST /v1/slips/:id/complete. For device-flow slips this
// call blocks on the bounded poll and may take tens of seconds.
func (h *SlipHandler) Complete(c *gin.Context) {
	grant, err := h.ledger.CompleteProvisioning(c.Request.Context(), c.Param("id"))
	if err != nil {
		if grantTarget := c.Query("target"); grantTarget != "" {
			h.metrics.RecordFlowCompletion(grantTarget, "error")
		}
		writeError(c, err)
		return
	}
	h.metrics.RecordFlowCompletion(grant.Slip.Target, "granted")
	c.JSON(http.StatusOK, grant)
}

// Get handles GET /v1/slips/:id.
func (h *SlipHandler) Get(c *gin.Context) {
	slip, err := h.ledger.GetSlip(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, slip)
}

// List handles GET /v1/slips with optional principal, target and active
// filters.
func (h *SlipHandler) List(c *gin.Context) {
	filter := models.SlipFilter{
		Principal:  c.Query("principal"),
		Target:     c.Query("target"),
		ActiveOnly: c.Query("active") == "true",
	}
	slips, err := h.ledger.ListSlips(c.Request.Context(), filter)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"slips": slips, "count": len(slips)})
}

// RevealToken handles GET /v1/slips/:id/token.
func (h *SlipHandler) RevealToken(c *gin.Context) {
	token, err := h.ledger.RevealToken(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, token)
}

// Revoke handles DELETE /v1/slips/:id.
func (h *SlipHandler) Revoke(c *gin.Context) {
	slip, err := h.ledger.RevokeSlip(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	h.metrics.RecordSlipRevocation(slip.Target)
	c.JSON(http.StatusOK, slip)
}

// Cleanup handles POST /v1/slips/cleanup.
func (h *SlipHandler) Cleanup(c *gin.Context) {
	n, err := h.ledger.CleanupExpiredSlips(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"expired": n})
}

func writeError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	if oe, ok := errors.As(err); ok {
		status = oe.HTTPStatus()
	}
	c.JSON(status, errors.ToErrorResponse(err))
}
