package server

import (
	"errors"
	"net/http"
	"strings"

	"chatterlite/internal/auth"
	"chatterlite/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

// Handler 聚合所有 HTTP handler，依赖注入 service 层。
type Handler struct {
	users    *service.UserService
	chats    *service.ChatService
	messages *service.MessageService
	friends  *service.FriendService
	invites  *service.InviteService
}

func NewHandler(users *service.UserService, chats *service.ChatService, messages *service.MessageService, friends *service.FriendService, invites *service.InviteService) *Handler {
	return &Handler{users: users, chats: chats, messages: messages, friends: friends, invites: invites}
}

// statusFor 把业务错误映射为 HTTP 状态码，未知错误视为上游错误。
func statusFor(err error) int {
	switch {
	case errors.Is(err, service.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, service.ErrInvalidCredentials):
		return http.StatusUnauthorized
	case errors.Is(err, service.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, service.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, service.ErrConflict), errors.Is(err, service.ErrInvalidTransition), errors.Is(err, service.ErrEmailTaken):
		return http.StatusConflict
	case errors.Is(err, service.ErrInviteExpired):
		return http.StatusGone
	case errors.Is(err, service.ErrAuthDisabled):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// fail 写出错误响应；500 只记录日志，不把内部错误返回给客户端。
func fail(c *gin.Context, err error, what string) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		log.Error().Err(err).Str("path", c.FullPath()).Str("user_id", auth.GetUserID(c)).Msg(what)
		c.JSON(status, gin.H{"error": what + " failed"})
		return
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

func forbidden(c *gin.Context) {
	c.JSON(http.StatusForbidden, gin.H{"error": service.ErrForbidden.Error()})
}

// Register 处理用户注册请求。
func (h *Handler) Register(c *gin.Context) {
	var req service.RegisterInput
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	u, err := h.users.Register(c.Request.Context(), req)
	if err != nil {
		fail(c, err, "register")
		return
	}
	c.JSON(http.StatusCreated, u)
}

// Login 处理用户登录请求。
func (h *Handler) Login(c *gin.Context) {
	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.Email) == "" || req.Password == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	sess, err := h.users.Login(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		fail(c, err, "login")
		return
	}
	c.JSON(http.StatusOK, sess)
}

type refreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

// RefreshToken 处理 token 刷新请求。
func (h *Handler) RefreshToken(c *gin.Context) {
	var req refreshRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.RefreshToken == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	sess, err := h.users.Refresh(c.Request.Context(), req.RefreshToken)
	if err != nil {
		if statusFor(err) == http.StatusUnauthorized {
			log.Warn().Err(err).Msg("refresh token")
		}
		fail(c, err, "refresh")
		return
	}
	c.JSON(http.StatusOK, sess)
}

func (h *Handler) Logout(c *gin.Context) {
	var req refreshRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.RefreshToken == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	if err := h.users.Logout(c.Request.Context(), req.RefreshToken); err != nil {
		fail(c, err, "logout")
		return
	}
	c.Status(http.StatusNoContent)
}

// Session 返回当前登录用户。
func (h *Handler) Session(c *gin.Context) {
	u, err := h.users.Get(c.Request.Context(), auth.GetUserID(c))
	if err != nil {
		fail(c, err, "session")
		return
	}
	c.JSON(http.StatusOK, gin.H{"user": u})
}

// SyncUser 按 id 写入用户资料，只能同步自己的资料。
func (h *Handler) SyncUser(c *gin.Context) {
	var req service.SyncInput
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	if req.ID != "" && req.ID != auth.GetUserID(c) {
		forbidden(c)
		return
	}
	u, err := h.users.Sync(c.Request.Context(), req)
	if err != nil {
		fail(c, err, "sync user")
		return
	}
	c.JSON(http.StatusOK, u)
}

func (h *Handler) SearchUsers(c *gin.Context) {
	users, err := h.users.Search(c.Request.Context(), c.Query("q"))
	if err != nil {
		fail(c, err, "search users")
		return
	}
	c.JSON(http.StatusOK, users)
}

func (h *Handler) GetUser(c *gin.Context) {
	u, err := h.users.Get(c.Request.Context(), c.Param("userId"))
	if err != nil {
		fail(c, err, "get user")
		return
	}
	c.JSON(http.StatusOK, u)
}

// CreateFriendRequest 发送好友请求，发送方必须是当前用户。
func (h *Handler) CreateFriendRequest(c *gin.Context) {
	var req struct {
		SenderID   string `json:"senderId"`
		ReceiverID string `json:"receiverId"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	if req.SenderID != "" && req.SenderID != auth.GetUserID(c) {
		forbidden(c)
		return
	}
	fr, err := h.friends.Create(c.Request.Context(), req.SenderID, req.ReceiverID)
	if err != nil {
		fail(c, err, "create friend request")
		return
	}
	c.JSON(http.StatusOK, fr)
}

func (h *Handler) ListFriendRequests(c *gin.Context) {
	userID := c.Param("userId")
	if userID != auth.GetUserID(c) {
		forbidden(c)
		return
	}
	out, err := h.friends.ListForUser(c.Request.Context(), userID)
	if err != nil {
		fail(c, err, "list friend requests")
		return
	}
	c.JSON(http.StatusOK, out)
}

func (h *Handler) ListPendingFriendRequests(c *gin.Context) {
	userID := c.Param("userId")
	if userID != auth.GetUserID(c) {
		forbidden(c)
		return
	}
	out, err := h.friends.ListPending(c.Request.Context(), userID)
	if err != nil {
		fail(c, err, "list pending friend requests")
		return
	}
	c.JSON(http.StatusOK, out)
}

// UpdateFriendRequest 接受或拒绝好友请求，接受后会创建私聊。
func (h *Handler) UpdateFriendRequest(c *gin.Context) {
	var req struct {
		Status string `json:"status"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	status, err := service.ParseStatus(req.Status)
	if err != nil {
		fail(c, err, "update friend request")
		return
	}
	fr, err := h.friends.UpdateStatusAs(c.Request.Context(), auth.GetUserID(c), c.Param("requestId"), status)
	if err != nil {
		fail(c, err, "update friend request")
		return
	}
	c.JSON(http.StatusOK, fr)
}

func (h *Handler) ListChats(c *gin.Context) {
	out, err := h.chats.ListSummaries(c.Request.Context(), auth.GetUserID(c))
	if err != nil {
		fail(c, err, "list chats")
		return
	}
	c.JSON(http.StatusOK, gin.H{"chats": out})
}

// CreateChat 创建群聊；isGroup 为 false 且只有一个成员时返回（或创建）与其的私聊。
func (h *Handler) CreateChat(c *gin.Context) {
	var req struct {
		Name      string   `json:"name"`
		IsGroup   *bool    `json:"isGroup"`
		MemberIDs []string `json:"memberIds"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	uid := auth.GetUserID(c)
	if req.IsGroup != nil && !*req.IsGroup {
		if len(req.MemberIDs) != 1 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "direct chat needs exactly one other member"})
			return
		}
		if _, err := h.users.Get(c.Request.Context(), req.MemberIDs[0]); err != nil {
			fail(c, err, "create chat")
			return
		}
		chat, err := h.chats.EnsureDirect(c.Request.Context(), uid, req.MemberIDs[0], "")
		if err != nil {
			fail(c, err, "create chat")
			return
		}
		c.JSON(http.StatusOK, chat)
		return
	}
	chat, err := h.chats.CreateGroup(c.Request.Context(), uid, req.Name, req.MemberIDs)
	if err != nil {
		fail(c, err, "create chat")
		return
	}
	c.JSON(http.StatusCreated, chat)
}

func (h *Handler) ListMessages(c *gin.Context) {
	msgs, err := h.messages.List(c.Request.Context(), auth.GetUserID(c), c.Param("chatId"))
	if err != nil {
		fail(c, err, "list messages")
		return
	}
	c.JSON(http.StatusOK, gin.H{"messages": msgs})
}

// SendMessage 发送文本消息，不返回消息本身。
func (h *Handler) SendMessage(c *gin.Context) {
	var req service.SendInput
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	if err := h.messages.Send(c.Request.Context(), auth.GetUserID(c), c.Param("chatId"), req); err != nil {
		fail(c, err, "send message")
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) UploadAttachment(c *gin.Context) {
	fh, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "file is required"})
		return
	}
	f, err := fh.Open()
	if err != nil {
		fail(c, err, "upload attachment")
		return
	}
	defer f.Close()
	url, err := h.messages.UploadAttachment(c.Request.Context(), auth.GetUserID(c), c.Param("chatId"), service.Attachment{
		Filename:    fh.Filename,
		ContentType: fh.Header.Get("Content-Type"),
		Size:        fh.Size,
		Body:        f,
	})
	if err != nil {
		fail(c, err, "upload attachment")
		return
	}
	c.JSON(http.StatusCreated, gin.H{"url": url})
}

func (h *Handler) MarkRead(c *gin.Context) {
	if _, err := h.chats.MarkRead(c.Request.Context(), c.Param("chatId"), auth.GetUserID(c)); err != nil {
		fail(c, err, "mark read")
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) CreateInvite(c *gin.Context) {
	inv, err := h.invites.Create(c.Request.Context(), auth.GetUserID(c), c.Param("chatId"))
	if err != nil {
		fail(c, err, "create invite")
		return
	}
	c.JSON(http.StatusCreated, inv)
}

func (h *Handler) JoinInvite(c *gin.Context) {
	chatID, err := h.invites.Join(c.Request.Context(), auth.GetUserID(c), c.Param("code"))
	if err != nil {
		fail(c, err, "join invite")
		return
	}
	c.JSON(http.StatusOK, gin.H{"chatId": chatID})
}

// ToggleReaction 添加或取消当前用户对消息的某个 emoji。
func (h *Handler) ToggleReaction(c *gin.Context) {
	var req struct {
		Emoji string `json:"emoji"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	reacted, err := h.messages.ToggleReaction(c.Request.Context(), auth.GetUserID(c), c.Param("messageId"), req.Emoji)
	if err != nil {
		fail(c, err, "toggle reaction")
		return
	}
	c.JSON(http.StatusOK, gin.H{"reacted": reacted})
}
