package pushbus

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/clipforge/clipforge/internal/logger"
)

const (
	// writeWait is the deadline for a single frame write.
	writeWait = 10 * time.Second

	// pongWait is how long to wait for a pong before dropping the peer.
	pongWait = 60 * time.Second

	// pingPeriod must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// maxInvocationSize bounds client invocation frames.
	maxInvocationSize = 4096
)

// TaskController is the subset of the task engine the hub endpoint needs
// for client invocations. Defined here to keep the dependency pointing
// from the task engine to the bus, not the other way around.
type TaskController interface {
	// CancelTask requests cancellation of a task.
	CancelTask(ctx context.Context, taskID string) error

	// TaskSnapshot returns the current task state for GetTaskStatus.
	TaskSnapshot(ctx context.Context, taskID string) (any, error)
}

// Invocation is a client-to-server frame on the hub connection.
type Invocation struct {
	Method     string `json:"method"`
	TaskID     string `json:"taskId,omitempty"`
	BatchID    string `json:"batchId,omitempty"`
	Identifier string `json:"identifier,omitempty"`
}

// invocationReply is the server response to GetTaskStatus and errors.
type invocationReply struct {
	Type    string `json:"type"`
	Method  string `json:"method,omitempty"`
	TaskID  string `json:"taskId,omitempty"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
	Success bool   `json:"success"`
}

// WSHandler serves the hub WebSocket endpoint.
//
// Each connection is auto-joined to the system topic. Clients then invoke
// JoinTaskGroup / JoinSpaceMonitoring / JoinBatchTaskGroup to receive the
// corresponding event streams, and may invoke GetTaskStatus and CancelTask
// inline. Event ordering is FIFO per connection.
type WSHandler struct {
	hub      *Hub
	resolver *Resolver
	tasks    TaskController
	upgrader websocket.Upgrader
}

// NewWSHandler creates the hub endpoint handler. The task controller may be
// nil, in which case GetTaskStatus and CancelTask invocations fail.
func NewWSHandler(hub *Hub, resolver *Resolver, tasks TaskController) *WSHandler {
	return &WSHandler{
		hub:      hub,
		resolver: resolver,
		tasks:    tasks,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// The API carries no authentication layer; origin checks
			// would only break non-browser clients.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

// conn tracks one hub connection and its topic subscriptions.
type conn struct {
	ws       *websocket.Conn
	outgoing chan any

	mu   sync.Mutex
	subs map[string]*Subscription

	closeOnce sync.Once
	done      chan struct{}
}

// ServeHTTP upgrades the request and runs the connection until either side
// closes it.
func (h *WSHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Warn("hub upgrade failed", "error", err, logger.KeyClientIP, r.RemoteAddr)
		return
	}

	c := &conn{
		ws:       ws,
		outgoing: make(chan any, subscriberBuffer),
		subs:     make(map[string]*Subscription),
		done:     make(chan struct{}),
	}

	logger.Debug("hub client connected", logger.KeyClientIP, r.RemoteAddr)

	// Every client receives system notifications.
	h.join(c, TopicSystem)

	go c.writeLoop()
	h.readLoop(r.Context(), c)

	c.close()
	logger.Debug("hub client disconnected", logger.KeyClientIP, r.RemoteAddr)
}

// join subscribes the connection to a topic and pumps its events into the
// connection's outgoing queue.
func (h *WSHandler) join(c *conn, topic string) {
	c.mu.Lock()
	if _, ok := c.subs[topic]; ok {
		c.mu.Unlock()
		return
	}
	sub := h.hub.Subscribe(topic)
	c.subs[topic] = sub
	c.mu.Unlock()

	go func() {
		for ev := range sub.C {
			select {
			case c.outgoing <- Wrap(ev):
			case <-c.done:
				return
			}
		}
	}()
}

// leave drops the connection's subscription on a topic.
func (h *WSHandler) leave(c *conn, topic string) {
	c.mu.Lock()
	sub, ok := c.subs[topic]
	if ok {
		delete(c.subs, topic)
	}
	c.mu.Unlock()
	if ok {
		sub.Close()
	}
}

func (h *WSHandler) readLoop(ctx context.Context, c *conn) {
	c.ws.SetReadLimit(maxInvocationSize)
	_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.Debug("hub read error", "error", err)
			}
			return
		}

		var inv Invocation
		if err := json.Unmarshal(data, &inv); err != nil {
			c.reply(invocationReply{Type: "Error", Error: "malformed invocation"})
			continue
		}

		h.dispatch(ctx, c, inv)
	}
}

// dispatch executes one client invocation.
func (h *WSHandler) dispatch(ctx context.Context, c *conn, inv Invocation) {
	switch inv.Method {
	case "JoinTaskGroup":
		taskID := h.resolveIdentifier(inv)
		if taskID == "" {
			c.reply(invocationReply{Type: "Error", Method: inv.Method, Error: "unknown task"})
			return
		}
		h.join(c, TaskTopic(taskID))
		c.reply(invocationReply{Type: "Joined", Method: inv.Method, TaskID: taskID, Success: true})

	case "LeaveTaskGroup":
		taskID := h.resolveIdentifier(inv)
		if taskID != "" {
			h.leave(c, TaskTopic(taskID))
		}
		c.reply(invocationReply{Type: "Left", Method: inv.Method, TaskID: taskID, Success: true})

	case "JoinSpaceMonitoring":
		h.join(c, TopicSpace)
		c.reply(invocationReply{Type: "Joined", Method: inv.Method, Success: true})

	case "JoinBatchTaskGroup":
		if inv.BatchID == "" {
			c.reply(invocationReply{Type: "Error", Method: inv.Method, Error: "batchId required"})
			return
		}
		h.join(c, BatchTopic(inv.BatchID))
		c.reply(invocationReply{Type: "Joined", Method: inv.Method, Success: true})

	case "GetTaskStatus":
		taskID := h.resolveIdentifier(inv)
		if taskID == "" || h.tasks == nil {
			c.reply(invocationReply{Type: "TaskStatus", Method: inv.Method, Error: "unknown task"})
			return
		}
		snapshot, err := h.tasks.TaskSnapshot(ctx, taskID)
		if err != nil {
			c.reply(invocationReply{Type: "TaskStatus", Method: inv.Method, TaskID: taskID, Error: err.Error()})
			return
		}
		c.reply(invocationReply{Type: "TaskStatus", Method: inv.Method, TaskID: taskID, Data: snapshot, Success: true})

	case "CancelTask":
		taskID := h.resolveIdentifier(inv)
		if taskID == "" || h.tasks == nil {
			c.reply(invocationReply{Type: "CancelResult", Method: inv.Method, Error: "unknown task"})
			return
		}
		if err := h.tasks.CancelTask(ctx, taskID); err != nil {
			c.reply(invocationReply{Type: "CancelResult", Method: inv.Method, TaskID: taskID, Error: err.Error()})
			return
		}
		c.reply(invocationReply{Type: "CancelResult", Method: inv.Method, TaskID: taskID, Success: true})

	default:
		c.reply(invocationReply{Type: "Error", Method: inv.Method, Error: "unknown method"})
	}
}

// resolveIdentifier picks the task id from the invocation, consulting the
// resolver for client-local identifiers.
func (h *WSHandler) resolveIdentifier(inv Invocation) string {
	identifier := inv.TaskID
	if identifier == "" {
		identifier = inv.Identifier
	}
	if identifier == "" {
		return ""
	}
	if h.resolver != nil {
		if id, ok := h.resolver.Resolve(identifier); ok {
			return id
		}
		return ""
	}
	return identifier
}

func (c *conn) reply(r invocationReply) {
	select {
	case c.outgoing <- r:
	case <-c.done:
	}
}

// writeLoop serializes all frames for the connection, interleaving events,
// invocation replies and keepalive pings.
func (c *conn) writeLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case msg := <-c.outgoing:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteJSON(msg); err != nil {
				c.close()
				return
			}
		case <-ticker.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.close()
				return
			}
		case <-c.done:
			return
		}
	}
}

func (c *conn) close() {
	c.closeOnce.Do(func() {
		close(c.done)

		c.mu.Lock()
		subs := c.subs
		c.subs = make(map[string]*Subscription)
		c.mu.Unlock()

		for _, sub := range subs {
			sub.Close()
		}
		_ = c.ws.Close()
	})
}
