package handler

import (
	"context"
	"errors"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/eventhub-auth/internal/middleware"
	"github.com/noah-isme/eventhub-auth/internal/models"
	appErrors "github.com/noah-isme/eventhub-auth/pkg/errors"
	"github.com/noah-isme/eventhub-auth/pkg/response"
)

type sessionManager interface {
	Login(ctx context.Context, req models.LoginRequest) (*models.SessionResponse, error)
	Refresh(ctx context.Context, req models.RefreshRequest) (*models.SessionResponse, error)
	Logout(ctx context.Context, req models.LogoutRequest) *models.LogoutResponse
	Me(ctx context.Context, userID int64) (*models.UserInfo, error)
}

// AuthHandler wires HTTP endpoints to the session service.
type AuthHandler struct {
	sessions sessionManager
}

// NewAuthHandler creates a new handler.
func NewAuthHandler(sessions sessionManager) *AuthHandler {
	return &AuthHandler{sessions: sessions}
}

// Login godoc
// @Summary Authenticate user
// @Description Authenticate user by email and password and open a new session
// @Tags Authentication
// @Accept json
// @Produce json
// @Param payload body models.LoginRequest true "Login payload"
// @Success 200 {object} response.Envelope{data=models.SessionResponse}
// @Failure 400 {object} response.Envelope
// @Failure 401 {object} response.Envelope
// @Failure 503 {object} response.Envelope
// @Router /auth/login [post]
func (h *AuthHandler) Login(c *gin.Context) {
	var req models.LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.WrapAs(err, appErrors.ErrValidation, "invalid login payload"))
		return
	}
	req.IP = c.ClientIP()
	req.UserAgent = c.GetHeader("User-Agent")

	res, err := h.sessions.Login(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.OK(c, res)
}

// Refresh godoc
// @Summary Rotate refresh token
// @Description Exchange a refresh token for a new access and refresh token. The presented token is revoked.
// @Tags Authentication
// @Accept json
// @Produce json
// @Param payload body models.RefreshRequest true "Refresh payload"
// @Success 200 {object} response.Envelope{data=models.SessionResponse}
// @Failure 400 {object} response.Envelope
// @Failure 401 {object} response.Envelope
// @Failure 503 {object} response.Envelope
// @Router /auth/refresh [post]
func (h *AuthHandler) Refresh(c *gin.Context) {
	var req models.RefreshRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrMissingToken, ""))
		return
	}
	req.IP = c.ClientIP()
	req.UserAgent = c.GetHeader("User-Agent")

	res, err := h.sessions.Refresh(c.Request.Context(), req)
	if err != nil {
		response.Error(c, collapseAuthFailure(err))
		return
	}

	response.OK(c, res)
}

// Logout godoc
// @Summary Logout session
// @Description Revoke a refresh token. Always succeeds; revoked_count is 0 when nothing matched.
// @Tags Authentication
// @Accept json
// @Produce json
// @Param payload body models.LogoutRequest true "Refresh token"
// @Success 200 {object} response.Envelope{data=models.LogoutResponse}
// @Router /auth/logout [post]
func (h *AuthHandler) Logout(c *gin.Context) {
	var req models.LogoutRequest
	_ = c.ShouldBindJSON(&req)
	req.IP = c.ClientIP()
	req.UserAgent = c.GetHeader("User-Agent")

	response.OK(c, h.sessions.Logout(c.Request.Context(), req))
}

// Me godoc
// @Summary Get current user
// @Description Returns the authenticated user's current identity
// @Tags Authentication
// @Produce json
// @Security BearerAuth
// @Success 200 {object} response.Envelope{data=models.UserInfo}
// @Failure 401 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /auth/me [get]
func (h *AuthHandler) Me(c *gin.Context) {
	claims, ok := middleware.CurrentClaims(c)
	if !ok {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	userID, err := claims.UserID()
	if err != nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	info, err := h.sessions.Me(c.Request.Context(), userID)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.OK(c, info)
}

// collapseAuthFailure hides which refresh check failed. Missing input keeps
// its 400.
func collapseAuthFailure(err error) error {
	if errors.Is(err, appErrors.ErrMissingToken) {
		return err
	}
	if appErrors.IsAuthFailure(err) {
		return appErrors.Clone(appErrors.ErrUnauthorized, "")
	}
	return err
}

// Register mounts the auth routes on group. guard protects /auth/me.
func (h *AuthHandler) Register(group *gin.RouterGroup, guard gin.HandlerFunc) {
	auth := group.Group("/auth")
	auth.POST("/login", h.Login)
	auth.POST("/refresh", h.Refresh)
	auth.POST("/logout", h.Logout)
	auth.GET("/me", guard, h.Me)
}
