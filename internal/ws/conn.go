package ws

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"chatterlite/internal/auth"
	"chatterlite/internal/config"
	"chatterlite/internal/events"
	"chatterlite/internal/metrics"
	"chatterlite/internal/service"
	"chatterlite/internal/store"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

// Deps 是实时会话依赖的服务。
type Deps struct {
	Store    store.Store
	Bus      *events.Bus
	Users    *service.UserService
	Chats    *service.ChatService
	Messages *service.MessageService
}

type Client struct {
	conn   *websocket.Conn
	send   chan []byte
	done   chan struct{}
	userID string
	uname  string
}

// trySend 非阻塞投递，连接已关闭或缓冲已满时返回 false。
func (c *Client) trySend(b []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- b:
		return true
	default:
		return false
	}
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

type InboundMessage struct {
	Type     string `json:"type"`
	ChatID   string `json:"chat_id"`
	Content  string `json:"content"`
	IsTyping bool   `json:"is_typing"`
}

type chatsEvent struct {
	Type  string                `json:"type"`
	Chats []service.ChatSummary `json:"chats"`
}

type messagesEvent struct {
	Type     string               `json:"type"`
	ChatID   string               `json:"chat_id"`
	Messages []service.MessageDTO `json:"messages"`
}

type typingEvent struct {
	Type     string `json:"type"`
	ChatID   string `json:"chat_id"`
	UserID   string `json:"user_id"`
	Username string `json:"username"`
	IsTyping bool   `json:"is_typing"`
}

type errorEvent struct {
	Type  string `json:"type"`
	Error string `json:"error"`
}

// session 是一个连接上的实时状态：聊天列表视图、当前聊天视图及其订阅。
type session struct {
	*Client
	hub  *Hub
	deps Deps
	ctx  context.Context

	chats *service.ChatListView
	msgs  *service.MessageView

	mu        sync.Mutex
	room      *RoomHub
	msgSub    *events.Subscription
	msgCancel context.CancelFunc
}

func Serve(h *Hub, d Deps, cfg config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		user, status, msg := auth.Authenticate(c, cfg, d.Store)
		if user == nil {
			c.JSON(status, gin.H{"error": msg})
			return
		}

		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			return
		}
		client := &Client{
			conn:   conn,
			send:   make(chan []byte, 64),
			done:   make(chan struct{}),
			userID: user.ID,
			uname:  user.FullName,
		}
		ctx, cancel := context.WithCancel(context.Background())
		s := &session{
			Client: client,
			hub:    h,
			deps:   d,
			ctx:    ctx,
			chats:  service.NewChatListView(d.Chats, user.ID),
			msgs:   service.NewMessageView(d.Messages, user.ID),
		}

		metrics.WsConnections.Inc()
		if h.Connect(user.ID) {
			s.setPresence(true)
		}
		chatSub := d.Bus.Subscribe(service.ChatListFilter(), 1)

		defer func() {
			cancel()
			chatSub.Close()
			s.leaveChat()
			close(client.done)
			if h.Disconnect(user.ID) {
				s.setPresence(false)
			}
			metrics.WsConnections.Dec()
		}()

		go client.writePump()
		go s.watchChats(chatSub)
		s.readPump()
	}
}

func (s *session) setPresence(online bool) {
	if err := s.deps.Users.SetOnline(context.Background(), s.userID, online); err != nil {
		log.Warn().Err(err).Str("user_id", s.userID).Bool("online", online).Msg("update presence")
	}
}

func (s *session) push(v any) {
	b, err := json.Marshal(v)
	if err != nil {
		log.Error().Err(err).Msg("ws marshal")
		return
	}
	if !s.trySend(b) {
		log.Debug().Str("user_id", s.userID).Msg("ws send buffer full, dropping event")
	}
}

func (s *session) pushError(err error) {
	msg := "internal error"
	switch {
	case errors.Is(err, service.ErrValidation), errors.Is(err, service.ErrForbidden), errors.Is(err, service.ErrNotFound):
		msg = err.Error()
	default:
		log.Error().Err(err).Str("user_id", s.userID).Msg("ws request")
	}
	s.push(errorEvent{Type: "error", Error: msg})
}

// watchChats 先推送一次聊天列表，之后每收到相关变更就完整刷新。
func (s *session) watchChats(sub *events.Subscription) {
	s.refreshChats()
	for {
		select {
		case <-s.ctx.Done():
			return
		case <-sub.C():
			s.refreshChats()
		}
	}
}

func (s *session) refreshChats() {
	if err := s.chats.Refresh(s.ctx); err != nil {
		return
	}
	s.push(chatsEvent{Type: "chats", Chats: s.chats.Snapshot()})
}

func (s *session) watchMessages(ctx context.Context, sub *events.Subscription) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-sub.C():
			if err := s.msgs.Refresh(ctx); err != nil {
				continue
			}
			s.pushMessages()
		}
	}
}

func (s *session) pushMessages() {
	chatID, items := s.msgs.Snapshot()
	s.push(messagesEvent{Type: "messages", ChatID: chatID, Messages: items})
}

// selectChat 切换当前聊天：先拆掉旧订阅，再按新聊天 id 重新订阅。
func (s *session) selectChat(chatID string) {
	if err := s.msgs.Select(s.ctx, chatID); err != nil {
		s.pushError(err)
		return
	}
	s.leaveChat()

	ctx, cancel := context.WithCancel(s.ctx)
	sub := s.deps.Bus.Subscribe(service.MessageFilter(chatID), 1)
	room := s.hub.GetRoom(chatID)
	room.register <- s.Client

	s.mu.Lock()
	s.msgSub, s.msgCancel, s.room = sub, cancel, room
	s.mu.Unlock()

	go s.watchMessages(ctx, sub)
	s.pushMessages()
}

func (s *session) leaveChat() {
	s.mu.Lock()
	sub, cancel, room := s.msgSub, s.msgCancel, s.room
	s.msgSub, s.msgCancel, s.room = nil, nil, nil
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	if sub != nil {
		sub.Close()
	}
	if room != nil {
		room.unregister <- s.Client
	}
}

func (s *session) currentRoom() *RoomHub {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.room
}

func (s *session) readPump() {
	defer func() {
		_ = s.conn.Close()
	}()
	s.conn.SetReadLimit(1 << 20) // 1MB
	s.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	s.conn.SetPongHandler(func(string) error {
		s.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})
	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			break
		}
		var in InboundMessage
		if err := json.Unmarshal(data, &in); err != nil {
			continue
		}
		switch in.Type {
		case "select_chat":
			if in.ChatID == "" {
				continue
			}
			s.selectChat(in.ChatID)
		case "typing":
			// 输入状态不落库，只转发给同一聊天中的其他连接
			room := s.currentRoom()
			if room == nil {
				continue
			}
			evt := typingEvent{Type: "typing", ChatID: room.chatID, UserID: s.userID, Username: s.uname, IsTyping: in.IsTyping}
			if b, err := json.Marshal(evt); err == nil {
				room.broadcast <- envelope{from: s.Client, data: b}
			}
		case "message":
			chatID := s.msgs.ChatID()
			if chatID == "" {
				continue
			}
			// 新消息通过变更通知回到各个会话
			if err := s.deps.Messages.Send(s.ctx, s.userID, chatID, service.SendInput{Content: in.Content}); err != nil {
				s.pushError(err)
			}
		}
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(30 * time.Second)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()
	for {
		select {
		case <-c.done:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return
		case message := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			_, _ = w.Write(message)
			_ = w.Close()
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
