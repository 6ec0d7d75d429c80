// internal/services/lock_manager.go
package services

import (
	"sync"
	"time"
)

// LockManager 画布级别的锁管理器
//
// 编排调用按画布串行：同一画布的两次调用不会交错改写会话日志。
type LockManager struct {
	canvasLocks   map[string]*LockInfo
	globalLock    sync.RWMutex
	cleanupTicker *time.Ticker
}

// LockInfo 包装锁和相关信息
type LockInfo struct {
	Mutex    *sync.Mutex
	LastUsed time.Time
}

// NewLockManager 创建锁管理器
func NewLockManager() *LockManager {
	lm := &LockManager{
		canvasLocks: make(map[string]*LockInfo),
	}

	lm.startCleanup()
	return lm
}

// getCanvasLock 获取画布锁（线程安全）
func (lm *LockManager) getCanvasLock(canvasID string) *sync.Mutex {
	lm.globalLock.RLock()
	if lockInfo, exists := lm.canvasLocks[canvasID]; exists {
		lm.globalLock.RUnlock()
		lockInfo.LastUsed = time.Now()
		return lockInfo.Mutex
	}
	lm.globalLock.RUnlock()

	// 升级为写锁
	lm.globalLock.Lock()
	defer lm.globalLock.Unlock()

	// 双重检查（在写锁保护下是安全的）
	if lockInfo, exists := lm.canvasLocks[canvasID]; exists {
		lockInfo.LastUsed = time.Now()
		return lockInfo.Mutex
	}

	lock := &sync.Mutex{}
	lm.canvasLocks[canvasID] = &LockInfo{
		Mutex:    lock,
		LastUsed: time.Now(),
	}
	return lock
}

// ExecuteWithCanvasLock 在画布锁保护下执行操作
func (lm *LockManager) ExecuteWithCanvasLock(canvasID string, fn func()) {
	lock := lm.getCanvasLock(canvasID)
	lock.Lock()
	defer lock.Unlock()

	lm.globalLock.Lock()
	if lockInfo, exists := lm.canvasLocks[canvasID]; exists {
		lockInfo.LastUsed = time.Now()
	}
	lm.globalLock.Unlock()

	fn()
}

// 定期清理未使用的锁
func (lm *LockManager) startCleanup() {
	lm.cleanupTicker = time.NewTicker(5 * time.Minute)
	go func() {
		for range lm.cleanupTicker.C {
			lm.cleanupUnusedLocks()
		}
	}()
}

func (lm *LockManager) cleanupUnusedLocks() {
	lm.globalLock.Lock()
	defer lm.globalLock.Unlock()

	const maxLocks = 200
	const lockTimeout = 30 * time.Minute

	// 只有在锁数量过多时才清理
	if len(lm.canvasLocks) > maxLocks {
		now := time.Now()
		for canvasID, lockInfo := range lm.canvasLocks {
			if now.Sub(lockInfo.LastUsed) > lockTimeout {
				delete(lm.canvasLocks, canvasID)
			}
		}
	}
}
