package handler

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/graham924/blog-feng-yu/internal/domain"
	"github.com/graham924/blog-feng-yu/internal/repository"
	"github.com/graham924/blog-feng-yu/internal/service"
	"github.com/graham924/blog-feng-yu/pkg/jwt"
	"github.com/graham924/blog-feng-yu/pkg/log"
	"github.com/graham924/blog-feng-yu/pkg/middleware"
	"github.com/graham924/blog-feng-yu/pkg/response"
)

// Handler handles the blog HTTP API.
type Handler struct {
	authService     service.AuthService
	resourceService service.ResourceService
	chatService     service.ChatService
	authMiddleware  *middleware.AuthMiddleware
	ipHeader        string
	maxVoiceSize    int64
}

// NewHandler creates a new HTTP handler.
func NewHandler(
	authService service.AuthService,
	resourceService service.ResourceService,
	chatService service.ChatService,
	authMiddleware *middleware.AuthMiddleware,
	ipHeader string,
	maxVoiceSize int64,
) *Handler {
	return &Handler{
		authService:     authService,
		resourceService: resourceService,
		chatService:     chatService,
		authMiddleware:  authMiddleware,
		ipHeader:        ipHeader,
		maxVoiceSize:    maxVoiceSize,
	}
}

// RegisterRoutes registers all routes. Role checks for /admin come from the
// access rules, not from the routes themselves.
func (h *Handler) RegisterRoutes(r gin.IRouter) {
	r.POST("/login", h.Login)
	r.POST("/refresh", h.RefreshToken)
	r.POST("/logout", h.authMiddleware.RequireAuth(), h.Logout)
	r.GET("/users/me", h.authMiddleware.RequireAuth(), h.GetMe)
	r.POST("/voice", h.SendVoice)

	admin := r.Group("/admin")
	admin.Use(h.authMiddleware.RequireAuth())
	{
		admin.GET("/resources", h.ListResources)
		admin.POST("/resources", h.CreateResource)
		admin.DELETE("/resources/:id", h.DeleteResource)
		admin.POST("/resources/refresh", h.RefreshResources)
	}
}

// Login handles user login.
func (h *Handler) Login(c *gin.Context) {
	ctx := c.Request.Context()
	l := log.Ctx(ctx)
	var req domain.LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		l.Warn().Err(err).Msg("invalid login request")
		response.BadRequest(c, err.Error())
		return
	}

	result, err := h.authService.Login(ctx, &req)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrInvalidCredentials):
			response.Unauthorized(c, "invalid username or password")
		case errors.Is(err, service.ErrUserDisabled):
			response.Forbidden(c, "user is disabled")
		default:
			l.Error().Err(err).Msg("login failed")
			response.InternalError(c, "failed to login")
		}
		return
	}

	response.Success(c, result)
}

// RefreshToken handles token refresh.
func (h *Handler) RefreshToken(c *gin.Context) {
	ctx := c.Request.Context()
	l := log.Ctx(ctx)
	var req domain.RefreshTokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		l.Warn().Err(err).Msg("invalid refresh token request")
		response.BadRequest(c, err.Error())
		return
	}

	result, err := h.authService.RefreshToken(ctx, &req)
	if err != nil {
		switch {
		case errors.Is(err, jwt.ErrInvalidToken), errors.Is(err, jwt.ErrExpiredToken),
			errors.Is(err, jwt.ErrRevokedToken), errors.Is(err, service.ErrUserNotFound):
			response.Unauthorized(c, "invalid or expired refresh token")
		case errors.Is(err, service.ErrUserDisabled):
			response.Forbidden(c, "user is disabled")
		default:
			l.Error().Err(err).Msg("refresh token failed")
			response.InternalError(c, "failed to refresh token")
		}
		return
	}

	response.Success(c, result)
}

// Logout handles user logout.
func (h *Handler) Logout(c *gin.Context) {
	ctx := c.Request.Context()
	l := log.Ctx(ctx)
	userID := middleware.GetUserID(c)

	if err := h.authService.Logout(ctx, userID); err != nil {
		l.Error().Err(err).Str(log.FieldUserID, userID).Msg("logout failed")
		response.InternalError(c, "failed to logout")
		return
	}

	response.Success(c, gin.H{"message": "logged out successfully"})
}

// GetMe returns the current principal.
func (h *Handler) GetMe(c *gin.Context) {
	ctx := c.Request.Context()
	l := log.Ctx(ctx)
	userID := middleware.GetUserID(c)

	p, err := h.authService.GetMe(ctx, userID)
	if err != nil {
		if errors.Is(err, service.ErrUserNotFound) {
			response.NotFound(c, "user not found")
			return
		}
		l.Error().Err(err).Str(log.FieldUserID, userID).Msg("get user failed")
		response.InternalError(c, "failed to get user")
		return
	}

	response.Success(c, p)
}

// SendVoice accepts a voice clip as multipart form data and posts it to
// the chat room.
func (h *Handler) SendVoice(c *gin.Context) {
	ctx := c.Request.Context()
	l := log.Ctx(ctx)

	fh, err := c.FormFile("file")
	if err != nil {
		response.BadRequest(c, "missing voice file")
		return
	}
	if h.maxVoiceSize > 0 && fh.Size > h.maxVoiceSize {
		response.Error(c, http.StatusRequestEntityTooLarge, response.CodeValidError, "voice file too large")
		return
	}

	f, err := fh.Open()
	if err != nil {
		l.Error().Err(err).Msg("failed to open uploaded voice file")
		response.InternalError(c, "failed to read voice file")
		return
	}
	defer f.Close()

	content, err := io.ReadAll(f)
	if err != nil {
		l.Error().Err(err).Msg("failed to read uploaded voice file")
		response.InternalError(c, "failed to read voice file")
		return
	}

	upload := &domain.VoiceUpload{
		UserID:    c.PostForm("user_id"),
		Nickname:  c.PostForm("nickname"),
		Avatar:    c.PostForm("avatar"),
		IPAddress: ClientIP(c.Request, h.ipHeader),
		FileName:  fh.Filename,
		Size:      fh.Size,
		Content:   content,
	}
	if userID := middleware.GetUserID(c); userID != "" {
		upload.UserID = userID
	}

	record, err := h.chatService.SendVoice(ctx, upload)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrValidation):
			response.BadRequest(c, err.Error())
		case errors.Is(err, domain.ErrStorage):
			l.Error().Err(err).Msg("voice upload failed")
			response.Fail(c, "failed to store voice message")
		default:
			l.Error().Err(err).Msg("voice message failed")
			response.InternalError(c, "failed to send voice message")
		}
		return
	}

	response.Success(c, record)
}

// ListResources returns every access rule.
func (h *Handler) ListResources(c *gin.Context) {
	ctx := c.Request.Context()
	rules, err := h.resourceService.List(ctx)
	if err != nil {
		l := log.Ctx(ctx)
		l.Error().Err(err).Msg("list resources failed")
		response.InternalError(c, "failed to list resources")
		return
	}
	response.Success(c, rules)
}

// CreateResource adds an access rule.
func (h *Handler) CreateResource(c *gin.Context) {
	ctx := c.Request.Context()
	l := log.Ctx(ctx)
	var req domain.CreateResourceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		l.Warn().Err(err).Msg("invalid create resource request")
		response.BadRequest(c, err.Error())
		return
	}

	rule, err := h.resourceService.Create(ctx, middleware.GetUserID(c), &req)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrInvalidPattern):
			response.BadRequest(c, err.Error())
		case errors.Is(err, repository.ErrResourceExists):
			response.Conflict(c, "resource already exists")
		default:
			l.Error().Err(err).Msg("create resource failed")
			response.InternalError(c, "failed to create resource")
		}
		return
	}

	response.Created(c, rule)
}

// DeleteResource removes an access rule.
func (h *Handler) DeleteResource(c *gin.Context) {
	ctx := c.Request.Context()
	id := c.Param("id")

	if err := h.resourceService.Delete(ctx, middleware.GetUserID(c), id); err != nil {
		if errors.Is(err, repository.ErrResourceNotFound) {
			response.NotFound(c, "resource not found")
			return
		}
		l := log.Ctx(ctx)
		l.Error().Err(err).Str(log.FieldRuleID, id).Msg("delete resource failed")
		response.InternalError(c, "failed to delete resource")
		return
	}

	response.Success(c, gin.H{"message": "resource deleted"})
}

// RefreshResources reloads the rule table on every instance.
func (h *Handler) RefreshResources(c *gin.Context) {
	ctx := c.Request.Context()
	n, err := h.resourceService.Refresh(ctx, middleware.GetUserID(c))
	if err != nil {
		l := log.Ctx(ctx)
		l.Error().Err(err).Msg("refresh access rules failed")
		response.Fail(c, "failed to refresh access rules")
		return
	}
	response.Success(c, gin.H{"rules": n})
}
