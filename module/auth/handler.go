package auth

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"RelayIM/service/storage"
	"RelayIM/tools/errs"
	"RelayIM/tools/security"
)

// Handler exposes the credential-refresh collaborator over HTTP. Login and
// registration live in the user service; the relay only rotates refresh
// tokens for its own reconnect path.
type Handler struct {
	Tokens     storage.TokenStore
	JWT        security.Options
	RefreshTTL time.Duration
}

type refreshRequest struct {
	RefreshToken string `json:"refreshToken" binding:"required"`
}

type refreshResponse struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
	ExpiresAt    int64  `json:"expiresAt"` // unix millis
}

// HandleRefresh rotates the presented refresh token and mints a new access
// token. An unknown or already-used token gets 401; replaying a consumed
// token can never mint a second pair.
func (h *Handler) HandleRefresh(c *gin.Context) {
	var req refreshRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errs.ErrValidation.WithDetail("refreshToken required"))
		return
	}

	userID, nextRefresh, err := h.Tokens.Rotate(c.Request.Context(), req.RefreshToken, h.RefreshTTL)
	if err != nil {
		c.JSON(http.StatusUnauthorized, errs.ErrCredentialExpired)
		return
	}

	access, expireAt, err := security.Generate(h.JWT, userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, errs.ErrPersistence.WithDetail("token mint failed"))
		return
	}

	c.JSON(http.StatusOK, refreshResponse{
		AccessToken:  access,
		RefreshToken: nextRefresh,
		ExpiresAt:    expireAt.UnixMilli(),
	})
}
