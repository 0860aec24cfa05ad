package handlers

import (
	"errors"
	"log"
	"net/http"

	"class-poll-backend/auth"
	"class-poll-backend/middleware"
	"class-poll-backend/models"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

// AuthHandler 管理员认证
type AuthHandler struct {
	db     *gorm.DB
	tokens *auth.TokenService
}

// NewAuthHandler 创建认证处理器
func NewAuthHandler(db *gorm.DB, tokens *auth.TokenService) *AuthHandler {
	return &AuthHandler{db: db, tokens: tokens}
}

// LoginInput 登录请求体
type LoginInput struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// adminProfile 返回给前端的管理员信息（不含密码散列）
func adminProfile(admin *models.Admin) gin.H {
	return gin.H{
		"id":       admin.ID,
		"username": admin.Username,
		"name":     admin.Name,
	}
}

// Login 管理员登录，成功时签发JWT
func (h *AuthHandler) Login(c *gin.Context) {
	var input LoginInput
	if err := c.ShouldBindJSON(&input); err != nil {
		fail(c, http.StatusBadRequest, "用户名和密码不能为空")
		return
	}

	var admin models.Admin
	if err := h.db.Where("username = ?", input.Username).First(&admin).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			// 不区分用户不存在和密码错误
			fail(c, http.StatusUnauthorized, "用户名或密码错误")
		} else {
			log.Printf("查询管理员失败: %v", err)
			fail(c, http.StatusInternalServerError, "登录过程发生错误")
		}
		return
	}

	if !auth.CheckPassword(input.Password, admin.Password) {
		fail(c, http.StatusUnauthorized, "用户名或密码错误")
		return
	}

	token, err := h.tokens.Generate(admin.ID, admin.Username)
	if err != nil {
		log.Printf("签发令牌失败: %v", err)
		fail(c, http.StatusInternalServerError, "登录过程发生错误")
		return
	}

	log.Printf("管理员 %s 登录系统", admin.Username)

	respondDataMessage(c, http.StatusOK, gin.H{
		"token": token,
		"admin": adminProfile(&admin),
	}, "登录成功")
}

// Me 返回当前已认证的管理员信息
func (h *AuthHandler) Me(c *gin.Context) {
	admin := middleware.CurrentAdmin(c)
	if admin == nil {
		fail(c, http.StatusUnauthorized, "未提供认证令牌")
		return
	}
	respondData(c, http.StatusOK, gin.H{"admin": adminProfile(admin)})
}
