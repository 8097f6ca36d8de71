package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"chatterlite/internal/metrics"
	"chatterlite/internal/models"
	"chatterlite/internal/store"

	"github.com/rs/zerolog/log"
)

// FriendService 好友请求工作流：pending -> accepted | rejected。
// 接受请求后会以尽力而为的方式创建两人的私聊。
type FriendService struct {
	store store.Store
	chats *ChatService
	now   func() time.Time
}

func NewFriendService(s store.Store, chats *ChatService) *FriendService {
	return &FriendService{store: s, chats: chats, now: time.Now}
}

// Create 创建好友请求。同方向已有 pending 或 accepted 的请求时冲突，
// 已被拒绝的请求会重新打开为 pending。反方向的请求互不影响。
func (s *FriendService) Create(ctx context.Context, senderID, receiverID string) (*models.FriendRequest, error) {
	senderID = strings.TrimSpace(senderID)
	receiverID = strings.TrimSpace(receiverID)
	if senderID == "" || receiverID == "" {
		return nil, invalid("senderId and receiverId are required")
	}
	if senderID == receiverID {
		return nil, invalid("cannot send a friend request to yourself")
	}
	users, err := s.store.UsersByIDs(ctx, []string{senderID, receiverID})
	if err != nil {
		return nil, translate(err, "load users")
	}
	if len(users) != 2 {
		return nil, translate(store.ErrNotFound, "user")
	}

	existing, err := s.store.FindFriendRequest(ctx, senderID, receiverID)
	switch {
	case err == nil:
		if existing.Status != models.StatusRejected {
			return nil, translate(store.ErrConflict, "friend request")
		}
		fr, err := s.store.UpdateFriendRequestStatus(ctx, existing.ID, models.StatusRejected, models.StatusPending, s.now())
		if err != nil {
			return nil, translate(err, "reopen friend request")
		}
		metrics.FriendRequestsTotal.WithLabelValues(string(models.StatusPending)).Inc()
		return fr, nil
	case !errors.Is(err, store.ErrNotFound):
		return nil, translate(err, "find friend request")
	}

	fr := &models.FriendRequest{SenderID: senderID, ReceiverID: receiverID, Status: models.StatusPending}
	if err := s.store.CreateFriendRequest(ctx, fr); err != nil {
		return nil, translate(err, "create friend request")
	}
	metrics.FriendRequestsTotal.WithLabelValues(string(models.StatusPending)).Inc()
	return fr, nil
}

func (s *FriendService) Get(ctx context.Context, id string) (*models.FriendRequest, error) {
	fr, err := s.store.GetFriendRequest(ctx, id)
	if err != nil {
		return nil, translate(err, "get friend request")
	}
	return fr, nil
}

// ListForUser 返回用户发出或收到的全部请求，新的在前。
func (s *FriendService) ListForUser(ctx context.Context, userID string) ([]models.FriendRequest, error) {
	out, err := s.store.FriendRequestsForUser(ctx, userID)
	if err != nil {
		return nil, translate(err, "list friend requests")
	}
	if out == nil {
		out = []models.FriendRequest{}
	}
	return out, nil
}

// ListPending 返回用户收到的待处理请求。
func (s *FriendService) ListPending(ctx context.Context, userID string) ([]models.FriendRequest, error) {
	out, err := s.store.PendingFriendRequests(ctx, userID)
	if err != nil {
		return nil, translate(err, "list pending friend requests")
	}
	if out == nil {
		out = []models.FriendRequest{}
	}
	return out, nil
}

// ParseStatus 只接受终态 accepted 与 rejected。
func ParseStatus(v string) (models.FriendRequestStatus, error) {
	switch st := models.FriendRequestStatus(strings.ToLower(strings.TrimSpace(v))); st {
	case models.StatusAccepted, models.StatusRejected:
		return st, nil
	default:
		return "", invalid("status must be accepted or rejected")
	}
}

// UpdateStatus 迁移请求状态。状态提交后才执行创建私聊的副作用，
// 副作用失败只记录日志，不回滚状态。对同一终态的重复调用不会报错，
// 并会重新执行幂等的副作用，用于修复已接受但没有私聊的情况。
func (s *FriendService) UpdateStatus(ctx context.Context, requestID string, status models.FriendRequestStatus) (*models.FriendRequest, error) {
	if status != models.StatusAccepted && status != models.StatusRejected {
		return nil, invalid("status must be accepted or rejected")
	}
	fr, err := s.store.GetFriendRequest(ctx, requestID)
	if err != nil {
		return nil, translate(err, "get friend request")
	}

	switch fr.Status {
	case status:
		// 重复提交
	case models.StatusPending:
		fr, err = s.store.UpdateFriendRequestStatus(ctx, requestID, models.StatusPending, status, s.now())
		if errors.Is(err, store.ErrConflict) {
			return nil, ErrInvalidTransition
		}
		if err != nil {
			return nil, translate(err, "update friend request")
		}
		metrics.FriendRequestsTotal.WithLabelValues(string(status)).Inc()
	default:
		return nil, ErrInvalidTransition
	}

	if fr.Status == models.StatusAccepted {
		s.createChat(ctx, fr)
	}
	return fr, nil
}

// UpdateStatusAs 与 UpdateStatus 相同，但只允许接收方处理请求。
func (s *FriendService) UpdateStatusAs(ctx context.Context, actorID, requestID string, status models.FriendRequestStatus) (*models.FriendRequest, error) {
	if status != models.StatusAccepted && status != models.StatusRejected {
		return nil, invalid("status must be accepted or rejected")
	}
	fr, err := s.Get(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if fr.ReceiverID != actorID {
		return nil, ErrForbidden
	}
	return s.UpdateStatus(ctx, requestID, status)
}

func (s *FriendService) createChat(ctx context.Context, fr *models.FriendRequest) {
	chat, err := s.chats.EnsureDirect(ctx, fr.SenderID, fr.ReceiverID, fr.ID)
	if err != nil {
		log.Error().Err(err).Str("request_id", fr.ID).Msg("create chat for accepted friend request failed")
		return
	}
	log.Debug().Str("request_id", fr.ID).Str("chat_id", chat.ID).Msg("friend request chat ready")
}
