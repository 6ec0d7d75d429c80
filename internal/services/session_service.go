// internal/services/session_service.go
package services

import (
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/publo/canvas-orchestrator/internal/models"
	"github.com/publo/canvas-orchestrator/internal/storage"
	"github.com/publo/canvas-orchestrator/internal/utils"
)

const sessionChatFile = "chat.json"

// sessionState 单个画布的会话状态
//
// 聊天记录只追加；待创建槽位最多一个，新的覆盖旧的。
type sessionState struct {
	mu       sync.Mutex
	canvasID string
	messages []models.ChatMessage
	pending  *models.PendingCreation
	lastTS   time.Time
}

// SessionService 管理按画布隔离的会话状态
type SessionService struct {
	mu       sync.Mutex
	sessions map[string]*sessionState
	storage  *storage.FileStorage
}

// NewSessionService 创建会话服务
//
// fileStorage 为 nil 时会话只存在内存中。
func NewSessionService(fileStorage *storage.FileStorage) *SessionService {
	return &SessionService{
		sessions: make(map[string]*sessionState),
		storage:  fileStorage,
	}
}

// session 获取（必要时创建并加载）画布的会话状态
func (s *SessionService) session(canvasID string) *sessionState {
	s.mu.Lock()
	defer s.mu.Unlock()

	if st, exists := s.sessions[canvasID]; exists {
		return st
	}

	st := &sessionState{canvasID: canvasID}
	if s.storage != nil {
		var saved []models.ChatMessage
		dir := filepath.Join("sessions", canvasID)
		if err := s.storage.LoadJSONFile(dir, sessionChatFile, &saved); err == nil {
			st.messages = saved
			if len(saved) > 0 {
				st.lastTS = saved[len(saved)-1].Timestamp
			}
		}
	}

	s.sessions[canvasID] = st
	return st
}

// AddMessage 追加一条聊天消息并返回它
//
// 时间戳严格单调递增：同一纳秒内的连续消息依次加1纳秒，保证
// 重放顺序稳定。
func (s *SessionService) AddMessage(canvasID string, role models.MessageRole, category models.MessageCategory, content string) models.ChatMessage {
	st := s.session(canvasID)
	st.mu.Lock()
	defer st.mu.Unlock()

	ts := time.Now()
	if !ts.After(st.lastTS) {
		ts = st.lastTS.Add(time.Nanosecond)
	}
	st.lastTS = ts

	msg := models.ChatMessage{
		ID:        uuid.New().String(),
		Timestamp: ts,
		Role:      role,
		Category:  category,
		Content:   content,
	}
	st.messages = append(st.messages, msg)

	s.persist(st)
	return msg
}

// GetMessages 返回聊天记录的副本（时间顺序）
func (s *SessionService) GetMessages(canvasID string) []models.ChatMessage {
	st := s.session(canvasID)
	st.mu.Lock()
	defer st.mu.Unlock()

	out := make([]models.ChatMessage, len(st.messages))
	copy(out, st.messages)
	return out
}

// ClearChat 清空聊天记录和待创建槽位
func (s *SessionService) ClearChat(canvasID string) {
	st := s.session(canvasID)
	st.mu.Lock()
	defer st.mu.Unlock()

	st.messages = nil
	st.pending = nil
	st.lastTS = time.Time{}

	s.persist(st)
}

// SetPendingCreation 设置待创建槽位，覆盖已有的
func (s *SessionService) SetPendingCreation(canvasID string, pending *models.PendingCreation) {
	st := s.session(canvasID)
	st.mu.Lock()
	defer st.mu.Unlock()

	if st.pending != nil {
		utils.GetLogger().Infof("画布 %s 的待创建槽位被新请求覆盖", canvasID)
	}
	st.pending = pending
}

// PendingCreation 返回当前的待创建槽位，没有时返回 nil
func (s *SessionService) PendingCreation(canvasID string) *models.PendingCreation {
	st := s.session(canvasID)
	st.mu.Lock()
	defer st.mu.Unlock()

	if st.pending == nil {
		return nil
	}
	p := *st.pending
	return &p
}

// ClearPending 清空待创建槽位
func (s *SessionService) ClearPending(canvasID string) {
	st := s.session(canvasID)
	st.mu.Lock()
	defer st.mu.Unlock()
	st.pending = nil
}

// IsAwaitingTemplateChoice 会话是否在等待用户选择模板
func (s *SessionService) IsAwaitingTemplateChoice(canvasID string) bool {
	st := s.session(canvasID)
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.pending != nil
}

// DeleteSession 删除画布的全部会话数据
func (s *SessionService) DeleteSession(canvasID string) error {
	s.mu.Lock()
	delete(s.sessions, canvasID)
	s.mu.Unlock()

	if s.storage != nil {
		dir := filepath.Join("sessions", canvasID)
		if err := s.storage.DeleteDir(dir); err != nil {
			return fmt.Errorf("删除会话数据失败: %w", err)
		}
	}
	return nil
}

// ListSessions 列出已持久化的画布会话
func (s *SessionService) ListSessions() ([]string, error) {
	if s.storage == nil {
		s.mu.Lock()
		defer s.mu.Unlock()
		ids := make([]string, 0, len(s.sessions))
		for id := range s.sessions {
			ids = append(ids, id)
		}
		return ids, nil
	}
	return s.storage.ListDirs("sessions")
}

// persist 把聊天记录写到磁盘，调用方持有 st.mu
func (s *SessionService) persist(st *sessionState) {
	if s.storage == nil {
		return
	}
	dir := filepath.Join("sessions", st.canvasID)
	if err := s.storage.SaveJSONFile(dir, sessionChatFile, st.messages); err != nil {
		utils.GetLogger().Warnf("保存会话记录失败 %s: %v", st.canvasID, err)
	}
}
