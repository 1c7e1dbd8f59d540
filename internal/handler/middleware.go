package handler

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"dailybonus/internal/config"
	"dailybonus/internal/service"
	"dailybonus/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"
)

const (
	ctxUserID    = "user_id"
	ctxIsAdmin   = "is_admin"
	ctxRequestID = "request_id"

	headerRequestID = "X-Request-ID"
	headerAdminKey  = "X-Admin-Key"

	RoleAdmin = "admin"
)

// Claims 访问令牌，sub 为用户ID
type Claims struct {
	Role string `json:"role,omitempty"`
	jwt.RegisteredClaims
}

// GenerateToken 签发 HS256 令牌，供测试和内部工具使用
func GenerateToken(secret, userID, role string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		Role: role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

func parseToken(secret, tokenString string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		return []byte(secret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return nil, err
	}
	if !token.Valid || claims.Subject == "" {
		return nil, errors.New("令牌缺少用户信息")
	}
	return claims, nil
}

// AuthMiddleware 解析调用方身份
//
// Authorization: Bearer <jwt> 识别用户，role=admin 同时视为管理员；
// X-Admin-Key 与配置中的 bcrypt 哈希匹配时视为管理员（调度器等内部调用方）。
// 两者都没有时不终止请求，由具体操作决定是否需要身份；凭证存在但无效时返回 401。
func AuthMiddleware(cfg *config.AuthConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		if header := c.GetHeader("Authorization"); header != "" {
			tokenString, ok := strings.CutPrefix(header, "Bearer ")
			if !ok {
				response.Unauthorized(c, service.ErrUnauthorized.Error())
				return
			}
			claims, err := parseToken(cfg.JWTSecret, strings.TrimSpace(tokenString))
			if err != nil {
				logrus.WithError(err).WithField(ctxRequestID, c.GetString(ctxRequestID)).Debug("令牌校验失败")
				response.Unauthorized(c, service.ErrUnauthorized.Error())
				return
			}
			c.Set(ctxUserID, claims.Subject)
			if claims.Role == RoleAdmin {
				c.Set(ctxIsAdmin, true)
			}
		}

		if key := c.GetHeader(headerAdminKey); key != "" {
			if cfg.AdminKeyHash == "" || bcrypt.CompareHashAndPassword([]byte(cfg.AdminKeyHash), []byte(key)) != nil {
				response.Unauthorized(c, service.ErrUnauthorized.Error())
				return
			}
			c.Set(ctxIsAdmin, true)
		}

		c.Next()
	}
}

// RequireUser 必须携带有效的用户令牌
func RequireUser() gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.GetString(ctxUserID) == "" {
			response.Unauthorized(c, service.ErrUnauthorized.Error())
			return
		}
		c.Next()
	}
}

// RequestIDMiddleware 透传或生成请求ID
func RequestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader(headerRequestID)
		if requestID == "" {
			requestID = uuid.NewString()
		}
		c.Set(ctxRequestID, requestID)
		c.Header(headerRequestID, requestID)
		c.Next()
	}
}

// TimeoutMiddleware 给请求上下文加上截止时间，数据库和 Redis 调用都会继承
func TimeoutMiddleware(timeout time.Duration) gin.HandlerFunc {
	return func(c *gin.Context) {
		if timeout <= 0 {
			c.Next()
			return
		}
		ctx, cancel := context.WithTimeout(c.Request.Context(), timeout)
		defer cancel()
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

// LoggerMiddleware 日志中间件
func LoggerMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		query := c.Request.URL.RawQuery

		c.Next()

		if query != "" {
			path = path + "?" + query
		}

		entry := logrus.WithFields(logrus.Fields{
			"status":     c.Writer.Status(),
			"latency":    time.Since(start),
			"client_ip":  c.ClientIP(),
			"method":     c.Request.Method,
			"path":       path,
			"request_id": c.GetString(ctxRequestID),
		})
		if userID := c.GetString(ctxUserID); userID != "" {
			entry = entry.WithField("user_id", userID)
		}
		if c.Writer.Status() >= http.StatusInternalServerError {
			entry.Error("[HTTP]")
			return
		}
		entry.Info("[HTTP]")
	}
}

// RecoveryMiddleware 恢复中间件，防止 panic 导致服务崩溃
func RecoveryMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if err := recover(); err != nil {
				logrus.WithFields(logrus.Fields{
					"request_id": c.GetString(ctxRequestID),
					"panic":      fmt.Sprint(err),
				}).Error("[PANIC]")
				response.Abort(c, http.StatusInternalServerError, response.MsgInternalError)
			}
		}()
		c.Next()
	}
}

// CORSMiddleware 跨域中间件
func CORSMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Authorization, X-Request-ID, X-Admin-Key")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}
