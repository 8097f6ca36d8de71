package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"chatterlite/internal/metrics"
	"chatterlite/internal/models"
	"chatterlite/internal/storage"
	"chatterlite/internal/store"
)

const maxEmojiLen = 32

// MessageService 封装消息相关的业务逻辑。
type MessageService struct {
	store    store.Store
	objects  storage.ObjectStore
	maxBytes int64
	now      func() time.Time
}

func NewMessageService(s store.Store, objects storage.ObjectStore, maxUploadMB int) *MessageService {
	return &MessageService{
		store:    s,
		objects:  objects,
		maxBytes: int64(maxUploadMB) << 20,
		now:      time.Now,
	}
}

// Sender 消息发送者的公开资料。
type Sender struct {
	ID        string `json:"id"`
	FullName  string `json:"fullName"`
	AvatarURL string `json:"avatarUrl,omitempty"`
}

// MessageDTO 是对外输出的消息数据。
type MessageDTO struct {
	ID          string             `json:"id"`
	ChatID      string             `json:"chatId"`
	SenderID    string             `json:"senderId"`
	Content     string             `json:"content"`
	Kind        models.MessageKind `json:"kind"`
	FileURL     string             `json:"fileUrl,omitempty"`
	FileName    string             `json:"fileName,omitempty"`
	FileSize    int64              `json:"fileSize,omitempty"`
	ReplyToID   *string            `json:"replyToId,omitempty"`
	IsRead      bool               `json:"isRead"`
	IsDelivered bool               `json:"isDelivered"`
	CreatedAt   time.Time          `json:"createdAt"`
	Sender      Sender             `json:"sender"`
	Reactions   []ReactionSummary  `json:"reactions"`
}

func requireMember(ctx context.Context, s store.Store, chatID, userID string) error {
	if _, err := s.GetChat(ctx, chatID); err != nil {
		return translate(err, "get chat")
	}
	ok, err := s.IsMember(ctx, chatID, userID)
	if err != nil {
		return translate(err, "check membership")
	}
	if !ok {
		return ErrForbidden
	}
	return nil
}

// List 返回聊天的全部消息，按创建时间升序，附带发送者资料与聚合后的反应。
// 任一关联查询失败则整体失败。
func (s *MessageService) List(ctx context.Context, userID, chatID string) ([]MessageDTO, error) {
	if err := requireMember(ctx, s.store, chatID, userID); err != nil {
		return nil, err
	}
	msgs, err := s.store.ListMessages(ctx, chatID)
	if err != nil {
		return nil, translate(err, "list messages")
	}
	out := make([]MessageDTO, 0, len(msgs))
	if len(msgs) == 0 {
		return out, nil
	}

	// 批量获取发送者与反应
	senders, err := s.resolveSenders(ctx, msgs)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(msgs))
	for _, m := range msgs {
		ids = append(ids, m.ID)
	}
	rows, err := s.store.ReactionsFor(ctx, ids)
	if err != nil {
		return nil, translate(err, "list reactions")
	}
	byMessage := make(map[string][]models.Reaction, len(msgs))
	for _, r := range rows {
		byMessage[r.MessageID] = append(byMessage[r.MessageID], r)
	}

	for _, m := range msgs {
		sender, ok := senders[m.SenderID]
		if !ok {
			sender = Sender{ID: m.SenderID}
		}
		out = append(out, MessageDTO{
			ID:          m.ID,
			ChatID:      m.ChatID,
			SenderID:    m.SenderID,
			Content:     m.Content,
			Kind:        m.Kind,
			FileURL:     m.FileURL,
			FileName:    m.FileName,
			FileSize:    m.FileSize,
			ReplyToID:   m.ReplyToID,
			IsRead:      m.IsRead,
			IsDelivered: m.IsDelivered,
			CreatedAt:   m.CreatedAt,
			Sender:      sender,
			Reactions:   AggregateReactions(byMessage[m.ID]),
		})
	}
	return out, nil
}

func (s *MessageService) resolveSenders(ctx context.Context, msgs []models.Message) (map[string]Sender, error) {
	seen := make(map[string]struct{}, len(msgs))
	ids := make([]string, 0, len(msgs))
	for _, m := range msgs {
		if _, ok := seen[m.SenderID]; ok {
			continue
		}
		seen[m.SenderID] = struct{}{}
		ids = append(ids, m.SenderID)
	}
	users, err := s.store.UsersByIDs(ctx, ids)
	if err != nil {
		return nil, translate(err, "load senders")
	}
	out := make(map[string]Sender, len(users))
	for _, u := range users {
		out[u.ID] = Sender{ID: u.ID, FullName: u.FullName, AvatarURL: u.AvatarURL}
	}
	return out, nil
}

// SendInput 发送文本消息的参数。
type SendInput struct {
	Content   string  `json:"content"`
	ReplyToID *string `json:"replyToId"`
}

// Send 发送文本消息。去除首尾空白后为空时什么也不做。
// 不返回新消息，调用方依赖变更通知刷新列表。
func (s *MessageService) Send(ctx context.Context, userID, chatID string, in SendInput) error {
	content := strings.TrimSpace(in.Content)
	if content == "" {
		return nil
	}
	if err := requireMember(ctx, s.store, chatID, userID); err != nil {
		return err
	}
	var replyTo *string
	if in.ReplyToID != nil && *in.ReplyToID != "" {
		parent, err := s.store.GetMessage(ctx, *in.ReplyToID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return invalid("replyToId does not exist")
			}
			return translate(err, "get reply target")
		}
		if parent.ChatID != chatID {
			return invalid("replyToId belongs to another chat")
		}
		id := parent.ID
		replyTo = &id
	}
	m := &models.Message{
		ChatID:    chatID,
		SenderID:  userID,
		Content:   content,
		Kind:      models.KindText,
		ReplyToID: replyTo,
	}
	if err := s.store.CreateMessage(ctx, m); err != nil {
		return translate(err, "create message")
	}
	metrics.MessagesSentTotal.WithLabelValues(string(m.Kind)).Inc()
	return nil
}

// Attachment 待上传的文件。
type Attachment struct {
	Filename    string
	ContentType string
	Size        int64
	Body        io.Reader
}

// UploadAttachment 把文件写入对象存储，再插入一条引用其公开地址的消息，返回该地址。
func (s *MessageService) UploadAttachment(ctx context.Context, userID, chatID string, a Attachment) (string, error) {
	name := path.Base(strings.ReplaceAll(strings.TrimSpace(a.Filename), "\\", "/"))
	if name == "" || name == "." || name == "/" {
		return "", invalid("file name is required")
	}
	if a.Body == nil || a.Size <= 0 {
		return "", invalid("file is empty")
	}
	if s.maxBytes > 0 && a.Size > s.maxBytes {
		return "", invalid(fmt.Sprintf("file exceeds %d bytes", s.maxBytes))
	}
	if err := requireMember(ctx, s.store, chatID, userID); err != nil {
		return "", err
	}

	key := fmt.Sprintf("%s/%d%s", userID, s.now().UnixNano(), strings.ToLower(path.Ext(name)))
	contentType := a.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	if err := s.objects.Put(ctx, key, contentType, a.Body, a.Size); err != nil {
		return "", fmt.Errorf("upload attachment: %w", err)
	}
	url := s.objects.PublicURL(key)

	kind := models.KindFile
	if strings.HasPrefix(contentType, "image/") {
		kind = models.KindImage
	}
	m := &models.Message{
		ChatID:   chatID,
		SenderID: userID,
		Content:  "Shared " + name,
		Kind:     kind,
		FileURL:  url,
		FileName: name,
		FileSize: a.Size,
	}
	if err := s.store.CreateMessage(ctx, m); err != nil {
		return "", translate(err, "create message")
	}
	metrics.MessagesSentTotal.WithLabelValues(string(kind)).Inc()
	return url, nil
}

// ToggleReaction 已存在则取消，否则添加；返回操作后是否处于已反应状态。
func (s *MessageService) ToggleReaction(ctx context.Context, userID, messageID, emoji string) (bool, error) {
	if emoji == "" || strings.TrimSpace(emoji) == "" || len(emoji) > maxEmojiLen {
		return false, invalid("emoji must be 1-32 bytes")
	}
	msg, err := s.store.GetMessage(ctx, messageID)
	if err != nil {
		return false, translate(err, "get message")
	}
	if err := requireMember(ctx, s.store, msg.ChatID, userID); err != nil {
		return false, err
	}

	existing, err := s.store.FindReaction(ctx, messageID, userID, emoji)
	switch {
	case err == nil:
		if err := s.store.DeleteReaction(ctx, existing); err != nil && !errors.Is(err, store.ErrNotFound) {
			return false, translate(err, "delete reaction")
		}
		metrics.ReactionsToggledTotal.WithLabelValues("removed").Inc()
		return false, nil
	case !errors.Is(err, store.ErrNotFound):
		return false, translate(err, "find reaction")
	}

	r := &models.Reaction{MessageID: messageID, UserID: userID, Emoji: emoji}
	if err := s.store.CreateReaction(ctx, r); err != nil && !errors.Is(err, store.ErrConflict) {
		return false, translate(err, "create reaction")
	}
	metrics.ReactionsToggledTotal.WithLabelValues("added").Inc()
	return true, nil
}
