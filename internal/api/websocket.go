// internal/api/websocket.go
package api

import (
	"encoding/json"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/publo/canvas-orchestrator/internal/utils"
)

// WebSocket 升级器配置
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// 在生产环境中应该进行更严格的检查
		return true
	},
}

// WebSocketClient 表示一个画布的实时订阅连接
type WebSocketClient struct {
	conn      *websocket.Conn
	canvasID  string
	send      chan []byte
	closed    int32 // 原子操作标志，0=开启，1=关闭
	lastPing  time.Time
	createdAt time.Time
}

// WebSocketManager 管理按画布分组的全部连接
type WebSocketManager struct {
	connections map[string]map[*WebSocketClient]bool // canvasID -> clients
	register    chan *WebSocketClient
	unregister  chan *WebSocketClient
	mutex       sync.RWMutex
	pingTimeout time.Duration
}

var wsManager = &WebSocketManager{
	connections: make(map[string]map[*WebSocketClient]bool),
	register:    make(chan *WebSocketClient, 256),
	unregister:  make(chan *WebSocketClient, 256),
	pingTimeout: 60 * time.Second,
}

func init() {
	go wsManager.run()
}

// Close 安全关闭客户端连接
func (client *WebSocketClient) Close() {
	if atomic.CompareAndSwapInt32(&client.closed, 0, 1) {
		if client.conn != nil {
			client.conn.Close()
		}
	}
}

// IsClosed 检查连接是否已关闭
func (client *WebSocketClient) IsClosed() bool {
	return atomic.LoadInt32(&client.closed) == 1
}

// SendMessage 安全发送消息到客户端，队列满时丢弃不阻塞
func (client *WebSocketClient) SendMessage(message map[string]interface{}) {
	if client.IsClosed() {
		return
	}

	msgBytes, err := json.Marshal(message)
	if err != nil {
		return
	}

	select {
	case client.send <- msgBytes:
	default:
		utils.GetLogger().Warnf("画布 %s 的客户端消息队列已满，消息被丢弃", client.canvasID)
	}
}

// run 管理器主循环
func (m *WebSocketManager) run() {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case client := <-m.register:
			m.mutex.Lock()
			if m.connections[client.canvasID] == nil {
				m.connections[client.canvasID] = make(map[*WebSocketClient]bool)
			}
			m.connections[client.canvasID][client] = true
			m.mutex.Unlock()

		case client := <-m.unregister:
			m.mutex.Lock()
			if clients, exists := m.connections[client.canvasID]; exists {
				if clients[client] {
					delete(clients, client)
					close(client.send)
					if len(clients) == 0 {
						delete(m.connections, client.canvasID)
					}
				}
			}
			m.mutex.Unlock()
			client.Close()

		case <-ticker.C:
			m.cleanupExpiredConnections()
		}
	}
}

// BroadcastToCanvas 向画布的全部订阅者广播消息
func (m *WebSocketManager) BroadcastToCanvas(canvasID string, message map[string]interface{}) {
	m.mutex.RLock()
	clients := make([]*WebSocketClient, 0, len(m.connections[canvasID]))
	for client := range m.connections[canvasID] {
		clients = append(clients, client)
	}
	m.mutex.RUnlock()

	for _, client := range clients {
		client.SendMessage(message)
	}
}

// cleanupExpiredConnections 清理超时的连接
func (m *WebSocketManager) cleanupExpiredConnections() {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	for canvasID, clients := range m.connections {
		for client := range clients {
			if time.Since(client.lastPing) > m.pingTimeout {
				delete(clients, client)
				close(client.send)
				client.Close()
			}
		}
		if len(clients) == 0 {
			delete(m.connections, canvasID)
		}
	}
}

// GetStatus 返回连接统计（调试用）
func (m *WebSocketManager) GetStatus() map[string]interface{} {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	total := 0
	perCanvas := make(map[string]int)
	for canvasID, clients := range m.connections {
		perCanvas[canvasID] = len(clients)
		total += len(clients)
	}

	return map[string]interface{}{
		"total_connections": total,
		"canvases":          perCanvas,
	}
}

// CanvasWebSocket 处理画布的 WebSocket 订阅
//
// 服务端推送编排过程的实时事件：意图、动作、内容增量、完成信号。
func (h *Handler) CanvasWebSocket(c *gin.Context) {
	canvasID := c.Param("id")
	if canvasID == "" {
		h.Response.BadRequest(c, "缺少画布ID")
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		utils.GetLogger().Warnf("WebSocket升级失败: %v", err)
		return
	}

	client := &WebSocketClient{
		conn:      conn,
		canvasID:  canvasID,
		send:      make(chan []byte, 256),
		lastPing:  time.Now(),
		createdAt: time.Now(),
	}

	wsManager.register <- client

	go client.writePump()
	go client.readPump()
}

// writePump 把发送队列写入连接
func (client *WebSocketClient) writePump() {
	ticker := time.NewTicker(30 * time.Second)
	defer func() {
		ticker.Stop()
		client.Close()
	}()

	for {
		select {
		case message, ok := <-client.send:
			client.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				client.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := client.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			client.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := client.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump 读取连接，维护存活时间
func (client *WebSocketClient) readPump() {
	defer func() {
		wsManager.unregister <- client
	}()

	client.conn.SetReadLimit(4096)
	client.conn.SetReadDeadline(time.Now().Add(wsManager.pingTimeout))
	client.conn.SetPongHandler(func(string) error {
		client.lastPing = time.Now()
		client.conn.SetReadDeadline(time.Now().Add(wsManager.pingTimeout))
		return nil
	})

	for {
		if _, _, err := client.conn.ReadMessage(); err != nil {
			return
		}
		client.lastPing = time.Now()
	}
}
