package models

import "time"

// MessageKind 消息类型。
type MessageKind string

const (
	KindText  MessageKind = "text"
	KindImage MessageKind = "image"
	KindFile  MessageKind = "file"
	KindVoice MessageKind = "voice"
)

// FriendRequestStatus 好友请求状态，pending 为初始态，accepted/rejected 为终态。
type FriendRequestStatus string

const (
	StatusPending  FriendRequestStatus = "pending"
	StatusAccepted FriendRequestStatus = "accepted"
	StatusRejected FriendRequestStatus = "rejected"
)

type User struct {
	ID           string     `gorm:"primaryKey;size:36" json:"id"`
	Email        string     `gorm:"uniqueIndex;size:255;not null" json:"email"`
	FullName     string     `gorm:"size:128" json:"fullName"`
	AvatarURL    string     `gorm:"size:512" json:"avatarUrl,omitempty"`
	PasswordHash string     `json:"-"`
	IsOnline     bool       `gorm:"not null;default:false" json:"isOnline"`
	LastSeen     *time.Time `json:"lastSeen,omitempty"`
	CreatedAt    time.Time  `json:"createdAt"`
	UpdatedAt    time.Time  `json:"updatedAt"`
}

type Chat struct {
	ID              string    `gorm:"primaryKey;size:36"`
	Name            string    `gorm:"size:128"`
	IsGroup         bool      `gorm:"not null;default:false"`
	AvatarURL       string    `gorm:"size:512"`
	CreatedBy       string    `gorm:"size:36;not null"`
	DirectKey       *string   `gorm:"uniqueIndex;size:80"`
	FriendRequestID *string   `gorm:"index;size:36"`
	CreatedAt       time.Time `gorm:"index"`
	UpdatedAt       time.Time
}

// ChatMember 聊天成员关系，(chat_id, user_id) 唯一。
type ChatMember struct {
	ChatID   string    `gorm:"primaryKey;size:36"`
	UserID   string    `gorm:"primaryKey;size:36;index"`
	JoinedAt time.Time `gorm:"not null"`
	// LastReadAt 是该成员已读到的最新消息时间，为空表示从未读过。
	LastReadAt *time.Time
	Chat       Chat `gorm:"foreignKey:ChatID"`
}

type Message struct {
	ID          string      `gorm:"primaryKey;size:36"`
	ChatID      string      `gorm:"index:idx_msg_chat_created,priority:1;size:36;not null"`
	SenderID    string      `gorm:"index;size:36;not null"`
	Content     string      `gorm:"type:text"`
	Kind        MessageKind `gorm:"size:16;not null;default:'text'"`
	FileURL     string      `gorm:"size:1024"`
	FileName    string      `gorm:"size:255"`
	FileSize    int64
	ReplyToID   *string   `gorm:"size:36"`
	IsRead      bool      `gorm:"not null;default:false"`
	IsDelivered bool      `gorm:"not null;default:false"`
	CreatedAt   time.Time `gorm:"index:idx_msg_chat_created,priority:2"`
}

// Reaction 表示某用户对某消息的一个 emoji，(message_id, user_id, emoji) 唯一。
type Reaction struct {
	ID        string    `gorm:"primaryKey;size:36"`
	MessageID string    `gorm:"uniqueIndex:idx_reaction_unique,priority:1;size:36;not null"`
	UserID    string    `gorm:"uniqueIndex:idx_reaction_unique,priority:2;size:36;not null"`
	Emoji     string    `gorm:"uniqueIndex:idx_reaction_unique,priority:3;size:32;not null"`
	CreatedAt time.Time
}

type FriendRequest struct {
	ID         string              `gorm:"primaryKey;size:36" json:"id"`
	SenderID   string              `gorm:"uniqueIndex:idx_friend_pair,priority:1;size:36;not null" json:"senderId"`
	ReceiverID string              `gorm:"uniqueIndex:idx_friend_pair,priority:2;size:36;not null;index" json:"receiverId"`
	Status     FriendRequestStatus `gorm:"size:16;not null;default:'pending'" json:"status"`
	CreatedAt  time.Time           `json:"createdAt"`
	UpdatedAt  time.Time           `json:"updatedAt"`
}

type ChatInvite struct {
	Code      string    `gorm:"primaryKey;size:64"`
	ChatID    string    `gorm:"index;size:36;not null"`
	CreatedBy string    `gorm:"size:36;not null"`
	ExpiresAt time.Time `gorm:"not null"`
	CreatedAt time.Time
}

type RefreshToken struct {
	ID        string     `gorm:"primaryKey;size:36"`
	UserID    string     `gorm:"index;size:36;not null"`
	Token     string     `gorm:"uniqueIndex;size:128;not null"`
	ExpiresAt time.Time  `gorm:"index;not null"`
	RevokedAt *time.Time
	CreatedAt time.Time
}

// All 返回需要迁移的全部模型。
func All() []any {
	return []any{
		&User{}, &Chat{}, &ChatMember{}, &Message{}, &Reaction{},
		&FriendRequest{}, &ChatInvite{}, &RefreshToken{},
	}
}
