package http

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/kumbh-rakshak/kr-backend/internal/identity/domain"
	"github.com/kumbh-rakshak/kr-backend/internal/identity/session"
)

// Handler exposes the session reconciler to the mobile shell. The
// shell only ever talks to these endpoints; it never reaches the
// directory or the cache directly.
type Handler struct {
	rec *session.Reconciler
}

func NewHandler(rec *session.Reconciler) *Handler {
	return &Handler{rec: rec}
}

type registerRequest struct {
	Name     string      `json:"name"`
	Phone    string      `json:"phone"`
	Email    string      `json:"email"`
	Password string      `json:"password"`
	UserType domain.Role `json:"userType"`
}

// RegisterUser creates a new identity and opens a session.
func (h *Handler) RegisterUser(c *gin.Context) {
	var req registerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid JSON body", "details": err.Error()})
		return
	}
	if req.Email == "" || req.Password == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "email and password are required"})
		return
	}
	if req.UserType == "" {
		req.UserType = domain.RoleGeneralUser
	}

	sess, err := h.rec.Register(c.Request.Context(),
		domain.Credentials{Email: req.Email, Password: req.Password},
		domain.Profile{Name: req.Name, Phone: req.Phone},
		req.UserType,
	)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"session": sess})
}

type loginRequest struct {
	Email    string      `json:"email"`
	Password string      `json:"password"`
	UserType domain.Role `json:"userType"`
}

// Login authenticates and opens a session; userType = "volunteer"
// requests volunteer access and is cross-checked remotely.
func (h *Handler) Login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid JSON body", "details": err.Error()})
		return
	}
	if req.UserType == "" {
		req.UserType = domain.RoleGeneralUser
	}
	if !domain.ValidRole(req.UserType) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown userType"})
		return
	}

	sess, err := h.rec.Login(c.Request.Context(),
		domain.Credentials{Email: req.Email, Password: req.Password},
		req.UserType,
	)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"session": sess})
}

// Logout ends the session. The remote invalidation is best-effort;
// the local state is always cleared.
func (h *Handler) Logout(c *gin.Context) {
	if err := h.rec.Logout(c.Request.Context()); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

// ClearAllData is the full local reset used by the settings screen.
func (h *Handler) ClearAllData(c *gin.Context) {
	if err := h.rec.ClearAllData(c.Request.Context()); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

// GetSession returns the reconciled current session.
func (h *Handler) GetSession(c *gin.Context) {
	sess, err := h.rec.CurrentUser(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"session": sess})
}

// Bootstrap tells the shell which flow to present on cold start.
func (h *Handler) Bootstrap(c *gin.Context) {
	flow, err := h.rec.Bootstrap(c.Request.Context())
	if err != nil && !errors.Is(err, domain.ErrNoSession) {
		writeError(c, err)
		return
	}

	resp := gin.H{
		"flow":       flow,
		"registered": h.rec.Registered(c.Request.Context()),
	}
	if role, err := h.rec.UserType(c.Request.Context()); err == nil {
		resp["userType"] = role
	}

	c.JSON(http.StatusOK, resp)
}

type profileRequest struct {
	Name  string `json:"name"`
	Phone string `json:"phone"`
}

// UpdateProfile rewrites the self-reported profile attributes.
func (h *Handler) UpdateProfile(c *gin.Context) {
	var req profileRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid JSON body", "details": err.Error()})
		return
	}

	sess, err := h.rec.UpdateProfile(c.Request.Context(), domain.Profile{Name: req.Name, Phone: req.Phone})
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"session": sess})
}

// VerifyVolunteer re-checks the volunteer role before a gated screen.
// confirmed == false with HTTP 200 is the degraded/offline grant.
func (h *Handler) VerifyVolunteer(c *gin.Context) {
	confirmed, err := h.rec.AuthorizeVolunteer(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"confirmed": confirmed, "degraded": !confirmed})
}
