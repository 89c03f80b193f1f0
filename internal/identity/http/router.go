package http

import "github.com/gin-gonic/gin"

func (h *Handler) Register(rg *gin.RouterGroup) {
	rg.POST("/register", h.RegisterUser)
	rg.POST("/login", h.Login)
	rg.POST("/logout", h.Logout)
	rg.POST("/clear-data", h.ClearAllData)
	rg.GET("/session", h.GetSession)
	rg.GET("/bootstrap", h.Bootstrap)
	rg.PATCH("/profile", h.UpdateProfile)
	rg.POST("/volunteer/verify", h.VerifyVolunteer)
}
