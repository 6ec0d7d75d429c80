// internal/services/lock_manager_test.go
package services

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestExecuteWithCanvasLockSerializes(t *testing.T) {
	lm := NewLockManager()

	var inside int32
	var overlap int32
	var wg sync.WaitGroup

	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			lm.ExecuteWithCanvasLock("canvas-1", func() {
				if atomic.AddInt32(&inside, 1) > 1 {
					atomic.StoreInt32(&overlap, 1)
				}
				time.Sleep(time.Millisecond)
				atomic.AddInt32(&inside, -1)
			})
		}()
	}
	wg.Wait()

	if overlap != 0 {
		t.Error("同一画布的调用必须串行执行")
	}
}

func TestExecuteWithCanvasLockIndependentCanvases(t *testing.T) {
	lm := NewLockManager()

	// 不同画布的锁相互独立：持有 canvas-a 锁时 canvas-b 不被阻塞
	release := make(chan struct{})
	started := make(chan struct{})
	go lm.ExecuteWithCanvasLock("canvas-a", func() {
		close(started)
		<-release
	})
	<-started

	done := make(chan struct{})
	go lm.ExecuteWithCanvasLock("canvas-b", func() {
		close(done)
	})

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Error("不同画布的调用不应相互阻塞")
	}
	close(release)
}

func TestGetCanvasLockReusesLock(t *testing.T) {
	lm := NewLockManager()

	first := lm.getCanvasLock("canvas-1")
	second := lm.getCanvasLock("canvas-1")
	if first != second {
		t.Error("同一画布应复用同一把锁")
	}

	other := lm.getCanvasLock("canvas-2")
	if first == other {
		t.Error("不同画布的锁应不同")
	}
}
