package store

import (
	"context"
	"time"

	"chatterlite/internal/events"
	"chatterlite/internal/models"
)

// Notifying 包装一个 Store，在每次写入成功后发布变更通知，相当于托管数据库的实时通道。
type Notifying struct {
	Store
	pub events.Publisher
	now func() time.Time
}

func WithNotifications(s Store, pub events.Publisher) *Notifying {
	return &Notifying{Store: s, pub: pub, now: time.Now}
}

func (n *Notifying) emit(table events.Table, op events.Op, rowID, chatID string, userIDs ...string) {
	n.pub.Publish(events.Change{Table: table, Op: op, RowID: rowID, ChatID: chatID, UserIDs: userIDs, At: n.now()})
}

func (n *Notifying) CreateUser(ctx context.Context, u *models.User) error {
	if err := n.Store.CreateUser(ctx, u); err != nil {
		return err
	}
	n.emit(events.TableUsers, events.OpInsert, u.ID, "", u.ID)
	return nil
}

func (n *Notifying) UpsertUser(ctx context.Context, u *models.User) error {
	if err := n.Store.UpsertUser(ctx, u); err != nil {
		return err
	}
	n.emit(events.TableUsers, events.OpUpdate, u.ID, "", u.ID)
	return nil
}

func (n *Notifying) SetPresence(ctx context.Context, id string, online bool, lastSeen time.Time) error {
	if err := n.Store.SetPresence(ctx, id, online, lastSeen); err != nil {
		return err
	}
	n.emit(events.TableUsers, events.OpUpdate, id, "", id)
	return nil
}

func (n *Notifying) CreateChat(ctx context.Context, c *models.Chat, memberIDs []string) error {
	if err := n.Store.CreateChat(ctx, c, memberIDs); err != nil {
		return err
	}
	n.emit(events.TableChats, events.OpInsert, c.ID, c.ID, memberIDs...)
	for _, uid := range memberIDs {
		n.emit(events.TableMembers, events.OpInsert, c.ID+":"+uid, c.ID, uid)
	}
	return nil
}

func (n *Notifying) AddMember(ctx context.Context, chatID, userID string) error {
	if err := n.Store.AddMember(ctx, chatID, userID); err != nil {
		return err
	}
	n.emit(events.TableMembers, events.OpInsert, chatID+":"+userID, chatID, userID)
	return nil
}

func (n *Notifying) CreateMessage(ctx context.Context, m *models.Message) error {
	if err := n.Store.CreateMessage(ctx, m); err != nil {
		return err
	}
	n.emit(events.TableMessages, events.OpInsert, m.ID, m.ChatID, m.SenderID)
	return nil
}

func (n *Notifying) MarkRead(ctx context.Context, chatID, readerID string) (int64, error) {
	cnt, err := n.Store.MarkRead(ctx, chatID, readerID)
	if err != nil {
		return cnt, err
	}
	if cnt > 0 {
		n.emit(events.TableMessages, events.OpUpdate, "", chatID, readerID)
	}
	return cnt, nil
}

// 反应行本身没有 chat_id，通知时从所属消息补齐，便于按聊天过滤。
func (n *Notifying) CreateReaction(ctx context.Context, r *models.Reaction) error {
	if err := n.Store.CreateReaction(ctx, r); err != nil {
		return err
	}
	n.emit(events.TableReactions, events.OpInsert, r.ID, n.chatOf(ctx, r.MessageID), r.UserID)
	return nil
}

func (n *Notifying) DeleteReaction(ctx context.Context, r *models.Reaction) error {
	if err := n.Store.DeleteReaction(ctx, r); err != nil {
		return err
	}
	n.emit(events.TableReactions, events.OpDelete, r.ID, n.chatOf(ctx, r.MessageID), r.UserID)
	return nil
}

func (n *Notifying) chatOf(ctx context.Context, messageID string) string {
	m, err := n.Store.GetMessage(ctx, messageID)
	if err != nil {
		return ""
	}
	return m.ChatID
}

func (n *Notifying) CreateFriendRequest(ctx context.Context, fr *models.FriendRequest) error {
	if err := n.Store.CreateFriendRequest(ctx, fr); err != nil {
		return err
	}
	n.emit(events.TableFriendRequests, events.OpInsert, fr.ID, "", fr.SenderID, fr.ReceiverID)
	return nil
}

func (n *Notifying) UpdateFriendRequestStatus(ctx context.Context, id string, from, to models.FriendRequestStatus, at time.Time) (*models.FriendRequest, error) {
	fr, err := n.Store.UpdateFriendRequestStatus(ctx, id, from, to, at)
	if err != nil {
		return nil, err
	}
	n.emit(events.TableFriendRequests, events.OpUpdate, fr.ID, "", fr.SenderID, fr.ReceiverID)
	return fr, nil
}

func (n *Notifying) CreateInvite(ctx context.Context, inv *models.ChatInvite) error {
	if err := n.Store.CreateInvite(ctx, inv); err != nil {
		return err
	}
	n.emit(events.TableInvites, events.OpInsert, inv.Code, inv.ChatID, inv.CreatedBy)
	return nil
}
