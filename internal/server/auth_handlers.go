package server

import (
	"errors"
	"net/http"

	"github.com/MarcoPoloResearchLab/dominotes/internal/users"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const actionSetup = "setup"

type pinRequestPayload struct {
	Pin string `json:"pin" binding:"required,len=4,numeric"`
}

func (h *httpHandler) handlePin(c *gin.Context) {
	var request pinRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil || users.ValidatePinFormat(request.Pin) != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid PIN format. Must be exactly 4 digits."})
		return
	}

	ctx := c.Request.Context()
	if c.GetHeader(actionHeader) == actionSetup {
		hasPin, err := h.credentials.HasPin(ctx)
		if err != nil {
			h.respondAuthFailure(c, err)
			return
		}
		if hasPin && !h.isAuthenticated(c.Request) {
			c.JSON(http.StatusConflict, gin.H{"error": "A PIN is already configured"})
			return
		}
		if err := h.credentials.SetupPin(ctx, request.Pin); err != nil {
			h.respondAuthFailure(c, err)
			return
		}
		if !h.setSessionCookie(c) {
			return
		}
		c.JSON(http.StatusOK, gin.H{"message": "PIN successfully set"})
		return
	}

	if err := h.credentials.VerifyPin(ctx, request.Pin); err != nil {
		if errors.Is(err, users.ErrPinMismatch) {
			h.logger.Info("pin verification failed")
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid PIN"})
			return
		}
		h.respondAuthFailure(c, err)
		return
	}
	if !h.setSessionCookie(c) {
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Login successful"})
}

func (h *httpHandler) handleLogout(c *gin.Context) {
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(h.sessions.CookieName(), "", -1, "/", "", h.secureCookies, true)
	c.JSON(http.StatusOK, gin.H{"message": "Logged out successfully"})
}

func (h *httpHandler) setSessionCookie(c *gin.Context) bool {
	token, expiresIn, err := h.sessions.IssueToken()
	if err != nil {
		h.respondAuthFailure(c, err)
		return false
	}
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(h.sessions.CookieName(), token, int(expiresIn), "/", "", h.secureCookies, true)
	return true
}

func (h *httpHandler) respondAuthFailure(c *gin.Context, err error) {
	h.logger.Error("pin authentication failed", zap.Error(err), zap.String("request_id", c.GetString(requestIDContextKey)))
	c.JSON(http.StatusInternalServerError, gin.H{"error": "An error occurred during authentication"})
}
