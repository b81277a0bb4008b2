package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/turtacn/obo/internal/domain/service"
)

// KeysHandler exposes signing-key metadata. Key IDs only; the symmetric key
// material never leaves the process.
type KeysHandler struct {
	issuer service.TokenIssuer
}

// NewKeysHandler wires the handler.
func NewKeysHandler(issuer service.TokenIssuer) *KeysHandler {
	return &KeysHandler{issuer: issuer}
}

// List serves GET /v1/keys.
func (h *KeysHandler) List(c *gin.Context) {
	keys := h.issuer.Keys()
	out := make([]gin.H, 0, len(keys))
	for i, key := range keys {
		out = append(out, gin.H{
			"kid":        key.KID(),
			"primary":    i == 0,
			"created_at": key.CreatedAt,
		})
	}
	c.JSON(http.StatusOK, gin.H{"keys": out})
}
