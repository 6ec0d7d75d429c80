// internal/llm/interface_test.go
package llm

import (
	"context"
	"testing"
	"time"
)

func TestEmitDelivers(t *testing.T) {
	ch := make(chan StreamResponse, 1)

	if !Emit(context.Background(), ch, StreamResponse{Text: "delta"}) {
		t.Fatal("消费方在读时发送应成功")
	}
	got := <-ch
	if got.Text != "delta" {
		t.Errorf("收到的增量不对: %q", got.Text)
	}
}

func TestEmitReturnsOnCancelledConsumer(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	// 无缓冲且无人读取：取消后发送必须立即返回而不是永久阻塞
	ch := make(chan StreamResponse)
	done := make(chan bool, 1)
	go func() {
		done <- Emit(ctx, ch, StreamResponse{Text: "orphan"})
	}()

	select {
	case ok := <-done:
		if ok {
			t.Error("取消后的发送不应报告成功")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("消费方退出后生产方不应卡死")
	}
}
