package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/pquerna/otp/totp"
	"golang.org/x/crypto/bcrypt"
)

// handleLogin 管理员登录：bcrypt 密码 + 可选 TOTP 动态码，通过后签发24小时JWT
func (s *Server) handleLogin(c *gin.Context) {
	var req struct {
		Password string `json:"password"`
		OTPCode  string `json:"otp_code"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.Password) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "缺少密码"})
		return
	}

	if s.cfg.AdminPasswordHash == "" {
		c.JSON(http.StatusForbidden, gin.H{"error": "管理接口未启用（未配置 ADMIN_PASSWORD_HASH）"})
		return
	}

	if err := bcrypt.CompareHashAndPassword([]byte(s.cfg.AdminPasswordHash), []byte(req.Password)); err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "密码错误"})
		return
	}

	// 配置了 OTP_SECRET 就强制二步验证
	if s.cfg.OTPSecret != "" {
		if !totp.Validate(req.OTPCode, s.cfg.OTPSecret) {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "动态验证码错误"})
			return
		}
	}

	token, err := s.generateToken()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "生成token失败"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"token": token, "expires_in": int((24 * time.Hour).Seconds())})
}

// generateToken 签发24小时有效的JWT
func (s *Server) generateToken() (string, error) {
	claims := jwt.RegisteredClaims{
		Subject:   "admin",
		IssuedAt:  jwt.NewNumericDate(time.Now()),
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(24 * time.Hour)),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(s.cfg.JWTSecret))
}

// authMiddleware JWT认证中间件
func (s *Server) authMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "缺少Authorization头"})
			c.Abort()
			return
		}

		// 检查Bearer token格式
		tokenParts := strings.Split(authHeader, " ")
		if len(tokenParts) != 2 || tokenParts[0] != "Bearer" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "无效的Authorization格式"})
			c.Abort()
			return
		}

		// 锁定签名算法，防止 alg=none 一类的降级攻击
		token, err := jwt.ParseWithClaims(tokenParts[1], &jwt.RegisteredClaims{},
			func(t *jwt.Token) (interface{}, error) {
				return []byte(s.cfg.JWTSecret), nil
			},
			jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		)
		if err != nil || !token.Valid {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "无效的token"})
			c.Abort()
			return
		}

		c.Next()
	}
}
