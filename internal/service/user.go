package service

import (
	"context"
	"errors"
	"net/mail"
	"strings"
	"time"

	"chatterlite/internal/auth"
	"chatterlite/internal/config"
	"chatterlite/internal/models"
	"chatterlite/internal/store"
)

const searchLimit = 20

// UserService 封装用户资料与本地身份认证。
type UserService struct {
	store store.Store
	cfg   config.Config
	now   func() time.Time
}

func NewUserService(s store.Store, cfg config.Config) *UserService {
	return &UserService{store: s, cfg: cfg, now: time.Now}
}

// SyncInput 对应外部身份提供方回传的用户资料。
type SyncInput struct {
	ID        string `json:"id"`
	Email     string `json:"email"`
	FullName  string `json:"fullName"`
	AvatarURL string `json:"avatarUrl"`
}

// Sync 按 id 插入或更新用户资料。
func (s *UserService) Sync(ctx context.Context, in SyncInput) (*models.User, error) {
	in.ID = strings.TrimSpace(in.ID)
	in.Email = strings.TrimSpace(in.Email)
	in.FullName = strings.TrimSpace(in.FullName)
	if in.ID == "" || in.Email == "" || in.FullName == "" {
		return nil, invalid("id, email and fullName are required")
	}
	u := &models.User{ID: in.ID, Email: in.Email, FullName: in.FullName, AvatarURL: in.AvatarURL}
	if err := s.store.UpsertUser(ctx, u); err != nil {
		if errors.Is(err, store.ErrConflict) {
			return nil, ErrEmailTaken
		}
		return nil, translate(err, "sync user")
	}
	return u, nil
}

func (s *UserService) Search(ctx context.Context, q string) ([]models.User, error) {
	q = strings.TrimSpace(q)
	if q == "" {
		return nil, invalid("q is required")
	}
	users, err := s.store.SearchUsers(ctx, q, searchLimit)
	if err != nil {
		return nil, translate(err, "search users")
	}
	if users == nil {
		users = []models.User{}
	}
	return users, nil
}

func (s *UserService) Get(ctx context.Context, id string) (*models.User, error) {
	u, err := s.store.GetUser(ctx, id)
	if err != nil {
		return nil, translate(err, "get user")
	}
	return u, nil
}

// SetOnline 更新在线状态与最后在线时间。
func (s *UserService) SetOnline(ctx context.Context, id string, online bool) error {
	return translate(s.store.SetPresence(ctx, id, online, s.now()), "set presence")
}

// RegisterInput 注册参数。
type RegisterInput struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	FullName string `json:"fullName"`
}

// Register 注册新用户。
func (s *UserService) Register(ctx context.Context, in RegisterInput) (*models.User, error) {
	if s.cfg.AuthDisabled {
		return nil, ErrAuthDisabled
	}
	in.Email = strings.TrimSpace(in.Email)
	in.FullName = strings.TrimSpace(in.FullName)
	if _, err := mail.ParseAddress(in.Email); err != nil {
		return nil, invalid("invalid email")
	}
	if in.FullName == "" || len(in.FullName) > 128 {
		return nil, invalid("invalid fullName")
	}
	if len(in.Password) < 6 || len(in.Password) > 72 {
		return nil, invalid("password must be 6-72 characters")
	}
	hash, err := auth.HashPassword(in.Password)
	if err != nil {
		return nil, err
	}
	u := &models.User{Email: in.Email, FullName: in.FullName, PasswordHash: hash}
	if err := s.store.CreateUser(ctx, u); err != nil {
		if errors.Is(err, store.ErrConflict) {
			return nil, ErrEmailTaken
		}
		return nil, translate(err, "create user")
	}
	return u, nil
}

// Session 登录或刷新后返回的 token 对。
type Session struct {
	AccessToken  string       `json:"accessToken"`
	RefreshToken string       `json:"refreshToken"`
	User         *models.User `json:"user"`
}

// Login 校验邮箱密码并签发 token 对。
func (s *UserService) Login(ctx context.Context, email, password string) (*Session, error) {
	if s.cfg.AuthDisabled {
		return nil, ErrAuthDisabled
	}
	u, err := s.store.GetUserByEmail(ctx, strings.TrimSpace(email))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, translate(err, "find user")
	}
	if u.PasswordHash == "" || !auth.VerifyPassword(u.PasswordHash, password) {
		return nil, ErrInvalidCredentials
	}
	return s.issue(ctx, u)
}

// Refresh 消费旧 refresh token 并签发新 token 对（旋转刷新）。
func (s *UserService) Refresh(ctx context.Context, refreshToken string) (*Session, error) {
	if s.cfg.AuthDisabled {
		return nil, ErrAuthDisabled
	}
	if refreshToken == "" {
		return nil, invalid("refreshToken is required")
	}
	rec, err := s.store.ConsumeRefreshToken(ctx, refreshToken, s.now())
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, translate(err, "consume refresh token")
	}
	u, err := s.store.GetUser(ctx, rec.UserID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, translate(err, "get user")
	}
	return s.issue(ctx, u)
}

// Logout 吊销 refresh token；未知 token 视为已登出。
func (s *UserService) Logout(ctx context.Context, refreshToken string) error {
	if refreshToken == "" {
		return invalid("refreshToken is required")
	}
	err := s.store.RevokeRefreshToken(ctx, refreshToken, s.now())
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return translate(err, "revoke refresh token")
	}
	return nil
}

func (s *UserService) issue(ctx context.Context, u *models.User) (*Session, error) {
	at, err := auth.GenerateAccessToken(u.ID, u.Email, s.cfg.JWTSecret, s.cfg.AccessTokenTTLMinutes)
	if err != nil {
		return nil, err
	}
	rt, err := auth.GenerateRefreshToken()
	if err != nil {
		return nil, err
	}
	exp := s.now().Add(time.Duration(s.cfg.RefreshTokenTTLDays) * 24 * time.Hour)
	if err := s.store.SaveRefreshToken(ctx, &models.RefreshToken{UserID: u.ID, Token: rt, ExpiresAt: exp}); err != nil {
		return nil, translate(err, "save refresh token")
	}
	return &Session{AccessToken: at, RefreshToken: rt, User: u}, nil
}
