package server

import (
	"net/http"
	"time"

	"chatterlite/internal/auth"
	"chatterlite/internal/config"
	"chatterlite/internal/events"
	"chatterlite/internal/metrics"
	"chatterlite/internal/mw"
	"chatterlite/internal/service"
	"chatterlite/internal/storage"
	"chatterlite/internal/store"
	"chatterlite/internal/ws"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"
)

// Deps 是路由需要的基础设施。Store 应当已包装变更通知并发布到 Bus。
type Deps struct {
	Store   store.Store
	Bus     *events.Bus
	Objects storage.ObjectStore
	// FilesDir 非空时以 /files 提供本地附件。
	FilesDir string
}

// SetupRouter 统一初始化 Gin 中间件、REST API 以及 WebSocket 端点。
func SetupRouter(cfg config.Config, d Deps, hub *ws.Hub) *gin.Engine {
	users := service.NewUserService(d.Store, cfg)
	chats := service.NewChatService(d.Store)
	messages := service.NewMessageService(d.Store, d.Objects, cfg.MaxUploadMB)
	friends := service.NewFriendService(d.Store, chats)
	invites := service.NewInviteService(d.Store, cfg.InviteTTLHours)
	h := NewHandler(users, chats, messages, friends, invites)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(metrics.GinMiddleware())
	r.Use(mw.CORS(cfg.Env, cfg.CORSOrigins))
	// 控制单个 IP+路由的速率。
	r.Use(mw.RateLimit(rate.Every(time.Second/20), 40, mw.ByIP))
	r.MaxMultipartMemory = 8 << 20

	r.GET("/healthz", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	if d.FilesDir != "" {
		r.Static("/files", d.FilesDir)
	}

	api := r.Group("/api")

	// 注册与登录单独收紧，抑制撞库。
	credLimit := mw.RateLimit(rate.Every(time.Second), 5, mw.ByIP)
	api.POST("/auth/register", credLimit, h.Register)
	api.POST("/auth/login", credLimit, h.Login)
	api.POST("/auth/refresh", h.RefreshToken)
	api.POST("/auth/logout", h.Logout)

	userLimit := mw.RateLimit(rate.Every(time.Second/10), 20, mw.ByUser)

	// 外部身份提供方签发的 token 对应的用户可能还不存在，同步接口只校验 token。
	api.POST("/users/sync", auth.TokenMiddleware(cfg), userLimit, h.SyncUser)

	// 需要 Bearer Token 的业务接口。
	authed := api.Group("")
	authed.Use(auth.AuthMiddleware(cfg, d.Store))
	authed.Use(userLimit)

	authed.GET("/auth/session", h.Session)

	authed.GET("/users/search", h.SearchUsers)
	authed.GET("/users/:userId", h.GetUser)

	authed.POST("/friend-requests", h.CreateFriendRequest)
	authed.GET("/friend-requests/pending/:userId", h.ListPendingFriendRequests)
	authed.GET("/friend-requests/:userId", h.ListFriendRequests)
	authed.PATCH("/friend-requests/:requestId", h.UpdateFriendRequest)

	authed.GET("/chats", h.ListChats)
	authed.POST("/chats", h.CreateChat)
	authed.GET("/chats/:chatId/messages", h.ListMessages)
	authed.POST("/chats/:chatId/messages", h.SendMessage)
	authed.POST("/chats/:chatId/attachments", h.UploadAttachment)
	authed.POST("/chats/:chatId/read", h.MarkRead)
	authed.POST("/chats/:chatId/invites", h.CreateInvite)
	authed.POST("/invites/:code/join", h.JoinInvite)
	authed.POST("/messages/:messageId/reactions", h.ToggleReaction)

	r.GET("/ws", ws.Serve(hub, ws.Deps{
		Store:    d.Store,
		Bus:      d.Bus,
		Users:    users,
		Chats:    chats,
		Messages: messages,
	}, cfg))

	return r
}
