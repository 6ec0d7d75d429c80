// internal/services/session_service_test.go
package services

import (
	"testing"
	"time"

	"github.com/publo/canvas-orchestrator/internal/models"
	"github.com/publo/canvas-orchestrator/internal/storage"
)

func TestAddMessageMonotonicTimestamps(t *testing.T) {
	svc := NewSessionService(nil)

	var prev time.Time
	for i := 0; i < 50; i++ {
		msg := svc.AddMessage("canvas-1", models.RoleUser, models.CategoryUserEcho, "m")
		if !msg.Timestamp.After(prev) {
			t.Fatalf("时间戳必须严格递增: %v 之后出现 %v", prev, msg.Timestamp)
		}
		prev = msg.Timestamp
	}
}

func TestGetMessagesReturnsCopy(t *testing.T) {
	svc := NewSessionService(nil)
	svc.AddMessage("canvas-1", models.RoleUser, models.CategoryUserEcho, "hello")

	messages := svc.GetMessages("canvas-1")
	if len(messages) != 1 {
		t.Fatalf("消息数不对: got %d", len(messages))
	}
	messages[0].Content = "mutated"

	if svc.GetMessages("canvas-1")[0].Content != "hello" {
		t.Error("GetMessages 应返回副本，外部修改不应影响会话日志")
	}
}

func TestSessionsIsolatedByCanvas(t *testing.T) {
	svc := NewSessionService(nil)
	svc.AddMessage("canvas-a", models.RoleUser, models.CategoryUserEcho, "for a")
	svc.AddMessage("canvas-b", models.RoleUser, models.CategoryUserEcho, "for b")

	if len(svc.GetMessages("canvas-a")) != 1 || len(svc.GetMessages("canvas-b")) != 1 {
		t.Error("不同画布的会话必须相互隔离")
	}
}

func TestPendingCreationLifecycle(t *testing.T) {
	svc := NewSessionService(nil)

	if svc.IsAwaitingTemplateChoice("canvas-1") {
		t.Error("初始状态不应等待模板选择")
	}

	svc.SetPendingCreation("canvas-1", &models.PendingCreation{Format: "novel", UserMessage: "create a novel"})
	if !svc.IsAwaitingTemplateChoice("canvas-1") {
		t.Error("设置槽位后应处于等待状态")
	}

	// 新请求覆盖旧槽位
	svc.SetPendingCreation("canvas-1", &models.PendingCreation{Format: "podcast", UserMessage: "make a podcast"})
	pending := svc.PendingCreation("canvas-1")
	if pending == nil || pending.Format != "podcast" {
		t.Errorf("新槽位应覆盖旧槽位: %+v", pending)
	}

	svc.ClearPending("canvas-1")
	if svc.PendingCreation("canvas-1") != nil {
		t.Error("清空后槽位应为 nil")
	}
}

func TestPendingCreationReturnsCopy(t *testing.T) {
	svc := NewSessionService(nil)
	svc.SetPendingCreation("canvas-1", &models.PendingCreation{Format: "novel"})

	pending := svc.PendingCreation("canvas-1")
	pending.Format = "mutated"

	if svc.PendingCreation("canvas-1").Format != "novel" {
		t.Error("PendingCreation 应返回副本")
	}
}

func TestClearChatResetsEverything(t *testing.T) {
	svc := NewSessionService(nil)
	svc.AddMessage("canvas-1", models.RoleUser, models.CategoryUserEcho, "hello")
	svc.SetPendingCreation("canvas-1", &models.PendingCreation{Format: "novel"})

	svc.ClearChat("canvas-1")

	if len(svc.GetMessages("canvas-1")) != 0 {
		t.Error("清空后不应有消息")
	}
	if svc.IsAwaitingTemplateChoice("canvas-1") {
		t.Error("清空后不应等待模板选择")
	}
}

func TestSessionPersistenceRoundTrip(t *testing.T) {
	fs, err := storage.NewFileStorage(t.TempDir())
	if err != nil {
		t.Fatalf("创建文件存储失败: %v", err)
	}

	svc := NewSessionService(fs)
	svc.AddMessage("canvas-1", models.RoleUser, models.CategoryUserEcho, "first")
	svc.AddMessage("canvas-1", models.RoleOrchestrator, models.CategoryResult, "second")

	// 新实例从磁盘恢复会话
	restored := NewSessionService(fs)
	messages := restored.GetMessages("canvas-1")
	if len(messages) != 2 {
		t.Fatalf("恢复的消息数不对: got %d, want 2", len(messages))
	}
	if messages[0].Content != "first" || messages[1].Content != "second" {
		t.Errorf("恢复的消息顺序不对: %+v", messages)
	}

	// 恢复后继续追加仍保持时间戳单调
	msg := restored.AddMessage("canvas-1", models.RoleUser, models.CategoryUserEcho, "third")
	if !msg.Timestamp.After(messages[1].Timestamp) {
		t.Error("恢复后追加的消息时间戳应晚于已有消息")
	}
}

func TestDeleteSession(t *testing.T) {
	fs, err := storage.NewFileStorage(t.TempDir())
	if err != nil {
		t.Fatalf("创建文件存储失败: %v", err)
	}

	svc := NewSessionService(fs)
	svc.AddMessage("canvas-1", models.RoleUser, models.CategoryUserEcho, "hello")

	if err := svc.DeleteSession("canvas-1"); err != nil {
		t.Fatalf("删除会话失败: %v", err)
	}

	restored := NewSessionService(fs)
	if len(restored.GetMessages("canvas-1")) != 0 {
		t.Error("删除后的会话不应再有持久化消息")
	}
}

func TestListSessions(t *testing.T) {
	fs, err := storage.NewFileStorage(t.TempDir())
	if err != nil {
		t.Fatalf("创建文件存储失败: %v", err)
	}

	svc := NewSessionService(fs)
	svc.AddMessage("canvas-a", models.RoleUser, models.CategoryUserEcho, "a")
	svc.AddMessage("canvas-b", models.RoleUser, models.CategoryUserEcho, "b")

	sessions, err := svc.ListSessions()
	if err != nil {
		t.Fatalf("列出会话失败: %v", err)
	}
	if len(sessions) != 2 {
		t.Errorf("会话数不对: got %d, want 2", len(sessions))
	}

	// 内存模式同样可以列出
	mem := NewSessionService(nil)
	mem.AddMessage("canvas-x", models.RoleUser, models.CategoryUserEcho, "x")
	sessions, err = mem.ListSessions()
	if err != nil || len(sessions) != 1 {
		t.Errorf("内存模式会话列表不对: %v %v", sessions, err)
	}
}
