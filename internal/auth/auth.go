package auth

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"net/http"
	"strings"
	"time"

	"chatterlite/internal/config"
	"chatterlite/internal/models"
	"chatterlite/internal/store"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
)

type Claims struct {
	UserID string `json:"uid"`
	Email  string `json:"email,omitempty"`
	jwt.RegisteredClaims
}

func HashPassword(pw string) (string, error) {
	b, err := bcrypt.GenerateFromPassword([]byte(pw), bcrypt.DefaultCost)
	return string(b), err
}

func VerifyPassword(hash, pw string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(pw)) == nil
}

func GenerateAccessToken(userID, email, secret string, ttlMinutes int) (string, error) {
	now := time.Now()
	claims := Claims{
		UserID: userID,
		Email:  email,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Duration(ttlMinutes) * time.Minute)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(secret))
}

func ParseAccessToken(tokenStr, secret string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenStr, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		return []byte(secret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return nil, err
	}
	if claims, ok := token.Claims.(*Claims); ok && token.Valid && claims.UserID != "" {
		return claims, nil
	}
	return nil, errors.New("invalid token")
}

func GenerateRefreshToken() (string, error) {
	b := make([]byte, 32)
	_, err := rand.Read(b)
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

// BearerToken 从 Authorization 头或 token 查询参数（WebSocket 场景）中取出 token。
func BearerToken(c *gin.Context) string {
	authz := c.GetHeader("Authorization")
	if len(authz) > 7 && strings.EqualFold(authz[:7], "bearer ") {
		return strings.TrimSpace(authz[7:])
	}
	return c.Query("token")
}

// verify 只校验 token 本身，不要求用户已存在。
func verify(c *gin.Context, cfg config.Config) (*Claims, int, string) {
	if cfg.AuthDisabled {
		return nil, http.StatusServiceUnavailable, "auth not configured"
	}
	tokenStr := BearerToken(c)
	if tokenStr == "" {
		return nil, http.StatusUnauthorized, "missing bearer token"
	}
	claims, err := ParseAccessToken(tokenStr, cfg.JWTSecret)
	if err != nil || claims.UserID == "" {
		return nil, http.StatusUnauthorized, "invalid token"
	}
	return claims, 0, ""
}

// Authenticate 校验 token 并加载对应用户。
func Authenticate(c *gin.Context, cfg config.Config, s store.Store) (*models.User, int, string) {
	claims, status, msg := verify(c, cfg)
	if claims == nil {
		return nil, status, msg
	}
	user, err := s.GetUser(c.Request.Context(), claims.UserID)
	if err != nil {
		return nil, http.StatusUnauthorized, "user not found"
	}
	return user, 0, ""
}

// TokenMiddleware 只要求 token 有效，用于资料同步这类首次写入用户的接口。
func TokenMiddleware(cfg config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		claims, status, msg := verify(c, cfg)
		if claims == nil {
			c.AbortWithStatusJSON(status, gin.H{"error": msg})
			return
		}
		c.Set("userID", claims.UserID)
		c.Next()
	}
}

func AuthMiddleware(cfg config.Config, s store.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		user, status, msg := Authenticate(c, cfg, s)
		if user == nil {
			c.AbortWithStatusJSON(status, gin.H{"error": msg})
			return
		}
		c.Set("userID", user.ID)
		c.Set("user", *user)
		c.Next()
	}
}

func GetUserID(c *gin.Context) string {
	if v, ok := c.Get("userID"); ok {
		if id, ok2 := v.(string); ok2 {
			return id
		}
	}
	return ""
}
