package middleware

import (
	"net/http"

	"class-poll-backend/auth"
	"class-poll-backend/models"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

// 上下文键：当前已认证的管理员
const AdminKey = "admin"

// AuthRequired 验证管理员JWT，校验通过后将管理员信息写入上下文。
// 管理路由（创建/更新/删除投票）必须挂载此中间件。
func AuthRequired(db *gorm.DB, tokens *auth.TokenService) gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenString := auth.ExtractToken(c.GetHeader("Authorization"))
		if tokenString == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"success": false, "message": "未提供认证令牌",
			})
			return
		}

		claims, err := tokens.Verify(tokenString)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"success": false, "message": "认证令牌无效或已过期",
			})
			return
		}

		// 令牌有效还不够，对应的管理员必须仍然存在
		var admin models.Admin
		if err := db.First(&admin, claims.AdminID).Error; err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"success": false, "message": "管理员账号不存在",
			})
			return
		}

		c.Set(AdminKey, &admin)
		c.Next()
	}
}

// CurrentAdmin 从上下文取出已认证的管理员
func CurrentAdmin(c *gin.Context) *models.Admin {
	if v, ok := c.Get(AdminKey); ok {
		if admin, ok := v.(*models.Admin); ok {
			return admin
		}
	}
	return nil
}
