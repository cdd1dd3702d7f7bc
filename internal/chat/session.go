// Package chat orchestrates a user's conversation with the AI personas: it
// routes each input to a memory command, a dashboard command or a persona,
// forwards persona turns to the chat backend, and keeps the history.
package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/ashureev/marketing-hub/internal/backend"
	"github.com/ashureev/marketing-hub/internal/command"
	"github.com/ashureev/marketing-hub/internal/domain"
	"github.com/ashureev/marketing-hub/internal/events"
	"github.com/ashureev/marketing-hub/internal/memory"
	"github.com/ashureev/marketing-hub/internal/metrics"
	"github.com/ashureev/marketing-hub/internal/router"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
)

// ErrEmptyMessage reports blank chat input.
var ErrEmptyMessage = errors.New("message is required")

// lastPersonaImportance keeps routing history below explicit user facts
// when the store is full.
const lastPersonaImportance = 0.3

// Connection is the part of backend.Manager a session drives.
type Connection interface {
	Connect(ctx context.Context, identity, token string) bool
	Reconnect(ctx context.Context) bool
	Disconnect()
	SendMessage(ctx context.Context, env backend.Envelope) bool
	Status() domain.ConnectionStatus
	CheckHealth(ctx context.Context) backend.HealthResult
	StartHealthPolling(ctx context.Context)
	Close()
}

// ConnectionFactory builds the connection for a new session.
type ConnectionFactory func(opts backend.Options) Connection

// Fallback performs one-shot chat when the socket is unavailable.
type Fallback interface {
	Chat(ctx context.Context, req backend.ChatRequest) (*backend.ChatResponse, error)
}

// Refresher drops cached dashboard data for a user.
type Refresher interface {
	Invalidate(ctx context.Context, userID string) error
}

// Route names how an input was handled.
type Route string

const (
	RouteSpecial  Route = "special"
	RouteCommand  Route = "command"
	RouteSocket   Route = "websocket"
	RouteFallback Route = "fallback"
	RouteFailed   Route = "failed"
)

// Result describes the outcome of one input. Messages lists what was
// appended to the history during the call; with Pending set the persona's
// reply arrives later over the socket.
type Result struct {
	Route    Route                `json:"route"`
	Persona  domain.PersonaID     `json:"persona,omitempty"`
	Command  *command.Command     `json:"command,omitempty"`
	Messages []domain.ChatMessage `json:"messages"`
	Pending  bool                 `json:"pending"`
}

// Outbound frame types pushed to the UI.
const (
	OutMessage = "message"
	OutHistory = "history"
	OutStatus  = "status"
	OutCommand = "command"
	OutRead    = "read"
	OutError   = "error"
	OutPong    = "pong"
)

// Outbound is a frame pushed to attached UI sockets.
type Outbound struct {
	Type     string                   `json:"type"`
	Message  *domain.ChatMessage      `json:"message,omitempty"`
	Messages []domain.ChatMessage     `json:"messages,omitempty"`
	Status   *domain.ConnectionStatus `json:"status,omitempty"`
	Command  *command.Command         `json:"command,omitempty"`
	ID       string                   `json:"id,omitempty"`
	Error    string                   `json:"error,omitempty"`
}

// SessionDeps are the collaborators of a Session.
type SessionDeps struct {
	NewConn   ConnectionFactory
	Fallback  Fallback
	Memory    *memory.Store
	Store     MessageStore
	Refresher Refresher
	Log       ConversationLogger
	Logger    *slog.Logger
}

// Session is one user's chat in one browser tab. It owns exactly one
// backend connection.
type Session struct {
	userID    string
	sessionID string
	conn      Connection
	fallback  Fallback
	memory    *memory.Store
	history   *History
	refresher Refresher
	convLog   ConversationLogger
	logger    *slog.Logger

	mu         sync.Mutex
	sinks      map[uint64]func(Outbound)
	nextSink   uint64
	lastActive time.Time
	lastState  domain.ConnectionState
	polling    bool
	closed     bool
}

// NewSession wires a session and its connection. The connection is not
// opened until Start.
func NewSession(userID, sessionID string, deps SessionDeps) *Session {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	convLog := deps.Log
	if convLog == nil {
		convLog = noopConversationLogger{}
	}
	mem := deps.Memory
	if mem == nil {
		mem = memory.NewStore(userID, nil, 0, logger)
	}

	s := &Session{
		userID:     userID,
		sessionID:  sessionID,
		fallback:   deps.Fallback,
		memory:     mem,
		history:    NewHistory(userID, sessionID, deps.Store, logger),
		refresher:  deps.Refresher,
		convLog:    convLog,
		logger:     logger.With("user_id", userID, "session_id", sessionID),
		sinks:      make(map[uint64]func(Outbound)),
		lastActive: time.Now(),
		lastState:  domain.StateDisconnected,
	}
	opts := backend.Options{
		OnMessage: s.onBackendMessage,
		OnStatus:  s.onStatus,
		Logger:    s.logger,
	}
	if deps.NewConn != nil {
		s.conn = deps.NewConn(opts)
	} else {
		s.conn = backend.NewManager(backend.DefaultConfig(), opts)
	}
	metrics.BackendConnections.WithLabelValues(string(domain.StateDisconnected)).Inc()
	return s
}

// UserID returns the owning user.
func (s *Session) UserID() string { return s.userID }

// ID returns the tab session id.
func (s *Session) ID() string { return s.sessionID }

// History returns the session's conversation history.
func (s *Session) History() *History { return s.history }

// Memory returns the user's memory store.
func (s *Session) Memory() *memory.Store { return s.memory }

// Status returns the backend connection status.
func (s *Session) Status() domain.ConnectionStatus { return s.conn.Status() }

// CheckHealth probes the chat backend.
func (s *Session) CheckHealth(ctx context.Context) backend.HealthResult {
	return s.conn.CheckHealth(ctx)
}

// Load restores the persisted history and greets an empty conversation.
func (s *Session) Load(ctx context.Context) {
	if err := s.history.Load(ctx); err != nil {
		s.logger.Warn("Failed to load chat history", "error", err)
	}
	if s.history.Len() == 0 {
		msg := domain.NewMessage(domain.SenderAI, memory.Greeting(s.memory))
		s.history.Append(ctx, msg)
	}
}

// Start opens the backend connection and begins health polling. It blocks
// for at most one dial.
func (s *Session) Start(ctx context.Context, token string) bool {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return false
	}
	startPolling := !s.polling
	s.polling = true
	s.mu.Unlock()

	if startPolling {
		s.conn.StartHealthPolling(context.Background())
	}
	return s.conn.Connect(ctx, s.userID, token)
}

// Reconnect is the manual retry after the connection gave up.
func (s *Session) Reconnect(ctx context.Context) bool {
	s.touch()
	return s.conn.Reconnect(ctx)
}

// Handle routes one chat input.
func (s *Session) Handle(ctx context.Context, text string) (*Result, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, ErrEmptyMessage
	}
	s.touch()

	user := s.record(ctx, domain.NewMessage(domain.SenderUser, text))
	s.logEvent(ctx, "inbound", "chat_user_message", "", text, nil)
	res := &Result{Messages: []domain.ChatMessage{user}}

	if sp, ok := memory.ParseSpecial(text); ok {
		s.handleSpecial(ctx, sp, res)
	} else if dc, ok := router.DetectCommand(text); ok {
		s.handleCommand(ctx, dc, res)
	} else {
		s.forward(ctx, text, user.ID, res)
	}

	metrics.ChatMessages.WithLabelValues(string(res.Route)).Inc()
	return res, nil
}

const rememberUsage = "الاستخدام: /remember المفتاح: القيمة"

func (s *Session) handleSpecial(ctx context.Context, sp memory.Special, res *Result) {
	res.Route = RouteSpecial
	switch sp.Kind {
	case memory.SpecialRemember:
		if sp.Arg == "" {
			s.reply(ctx, res, systemMessage(rememberUsage))
			return
		}
		key, value := memory.FactFromText(sp.Arg)
		err := s.memory.Remember(ctx, key, value)
		if errors.Is(err, memory.ErrEmptyKey) {
			s.reply(ctx, res, systemMessage(rememberUsage))
			return
		}
		if err != nil {
			s.logger.Warn("Remembered fact not persisted", "key", key, "error", err)
		}
		s.reply(ctx, res, systemMessage(fmt.Sprintf("تم الحفظ: %s", key)))

	case memory.SpecialForget:
		key := strings.ToLower(sp.Arg)
		if key == "" {
			s.reply(ctx, res, systemMessage("الاستخدام: /forget المفتاح"))
			return
		}
		found, err := s.memory.Forget(ctx, key)
		if err != nil {
			s.logger.Warn("Forget not persisted", "key", key, "error", err)
		}
		if !found {
			s.reply(ctx, res, systemMessage(fmt.Sprintf("لا توجد معلومة محفوظة باسم %s", key)))
			return
		}
		s.reply(ctx, res, systemMessage(fmt.Sprintf("تم حذف: %s", key)))

	case memory.SpecialCreate:
		if sp.Arg == "" {
			s.reply(ctx, res, systemMessage("الاستخدام: /create وصف المحتوى المطلوب"))
			return
		}
		res.Persona = domain.PersonaCreative
		if !s.chatFallback(ctx, sp.Arg, domain.PersonaCreative, res) {
			res.Route = RouteFailed
		}
	}
}

func (s *Session) handleCommand(ctx context.Context, dc *domain.DashboardCommand, res *Result) {
	cmd, err := command.Process(dc)
	if err != nil {
		s.logger.Warn("Dashboard command rejected", "type", dc.Type, "error", err)
		res.Route = RouteFailed
		s.reply(ctx, res, systemMessage("تعذر تنفيذ الأمر على لوحة التحكم"))
		return
	}
	res.Route = RouteCommand
	res.Command = &cmd

	if cmd.Type == domain.CommandDataRefresh && s.refresher != nil {
		if err := s.refresher.Invalidate(ctx, s.userID); err != nil {
			s.logger.Warn("Failed to invalidate dashboard cache", "error", err)
		}
	}

	msg := domain.NewMessage(domain.SenderSystem, commandAck(cmd))
	msg.Kind = domain.KindCommand
	msg.Action = &domain.MessageAction{Label: commandLabel(cmd.Type), Command: dc}
	s.reply(ctx, res, msg)
	s.push(Outbound{Type: OutCommand, Command: &cmd})
	s.logEvent(ctx, "outbound", "dashboard_command", "", string(cmd.Type), map[string]any{
		"params":     cmd.Params,
		"confidence": cmd.Confidence,
	})
}

func (s *Session) forward(ctx context.Context, text, messageID string, res *Result) {
	persona := router.ClassifyPersona(text)
	res.Persona = persona
	metrics.PersonaRouted.WithLabelValues(string(persona)).Inc()
	if err := s.memory.RememberWeighted(ctx, memory.KeyLastPersona, string(persona), lastPersonaImportance); err != nil {
		s.logger.Debug("Failed to record last persona", "error", err)
	}

	env := backend.Envelope{
		Type:      backend.FrameMessage,
		Content:   text,
		Agent:     string(persona),
		UserID:    s.userID,
		SessionID: s.sessionID,
		MessageID: messageID,
	}
	if s.conn.SendMessage(ctx, env) {
		res.Route = RouteSocket
		res.Pending = true
		return
	}

	if s.chatFallback(ctx, text, persona, res) {
		res.Route = RouteFallback
		return
	}
	res.Route = RouteFailed
}

// chatFallback sends text over REST and appends the reply or an error
// notice. It reports whether a reply arrived.
func (s *Session) chatFallback(ctx context.Context, text string, persona domain.PersonaID, res *Result) bool {
	if s.fallback == nil {
		s.reply(ctx, res, systemMessage("فريقك الذكي غير متصل حالياً. حاول مرة أخرى بعد قليل."))
		return false
	}
	resp, err := s.fallback.Chat(ctx, backend.ChatRequest{
		Message:   text,
		Agent:     string(persona),
		UserID:    s.userID,
		SessionID: s.sessionID,
	})
	if err != nil {
		s.logger.Warn("Chat fallback failed", "persona", persona, "error", err)
		s.reply(ctx, res, systemMessage("تعذر الوصول إلى فريقك الذكي حالياً. حاول مرة أخرى."))
		return false
	}
	if p := domain.PersonaID(resp.Agent); p.Valid() {
		persona = p
	}
	msg := domain.NewMessage(domain.SenderAI, resp.Response)
	msg.Persona = persona
	s.reply(ctx, res, msg)
	s.logEvent(ctx, "outbound", "chat_assistant_message", string(persona), resp.Response, map[string]any{"route": "fallback"})
	return true
}

func (s *Session) reply(ctx context.Context, res *Result, msg domain.ChatMessage) {
	res.Messages = append(res.Messages, s.record(ctx, msg))
}

// record appends msg to the history and pushes it to attached sockets.
func (s *Session) record(ctx context.Context, msg domain.ChatMessage) domain.ChatMessage {
	msg = s.history.Append(ctx, msg)
	m := msg
	s.push(Outbound{Type: OutMessage, Message: &m})
	return msg
}

func (s *Session) onBackendMessage(env backend.Envelope) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	switch env.Type {
	case backend.FrameResponse, backend.FrameMessage:
		if strings.TrimSpace(env.Content) == "" {
			return
		}
		persona := domain.PersonaID(env.Agent)
		if !persona.Valid() {
			persona = s.lastPersona()
		}
		msg := domain.NewMessage(domain.SenderAI, env.Content)
		msg.Persona = persona
		s.record(ctx, msg)
		s.logEvent(ctx, "outbound", "chat_assistant_message", string(persona), env.Content, map[string]any{"route": "websocket"})
	case backend.FrameError:
		s.logger.Warn("Chat backend reported an error", "content", env.Content)
		s.record(ctx, systemMessage("حدث خطأ لدى فريقك الذكي: "+env.Content))
	default:
		s.logger.Debug("Ignoring chat backend frame", "type", env.Type)
	}
}

func (s *Session) lastPersona() domain.PersonaID {
	if e, ok := s.memory.Recall(memory.KeyLastPersona); ok {
		if v, ok := e.Value.(string); ok && domain.PersonaID(v).Valid() {
			return domain.PersonaID(v)
		}
	}
	return domain.PersonaStrategic
}

func (s *Session) onStatus(st domain.ConnectionStatus) {
	s.mu.Lock()
	prev := s.lastState
	s.lastState = st.State
	s.mu.Unlock()
	if prev != st.State {
		metrics.BackendConnections.WithLabelValues(string(prev)).Dec()
		metrics.BackendConnections.WithLabelValues(string(st.State)).Inc()
	}
	s.push(Outbound{Type: OutStatus, Status: &st})
}

// Notify appends a notification for ev when it concerns this session's
// user.
func (s *Session) Notify(ctx context.Context, ev events.Event) bool {
	if ev.UserID != "" && ev.UserID != s.userID {
		return false
	}
	text, ok := events.Notice(ev)
	if !ok {
		return false
	}
	msg := domain.NewMessage(domain.SenderSystem, text)
	msg.Kind = domain.KindNotification
	s.record(ctx, msg)
	return true
}

// MarkRead acknowledges a notification and tells attached sockets.
func (s *Session) MarkRead(ctx context.Context, id string) error {
	if err := s.history.MarkRead(ctx, id); err != nil {
		return err
	}
	s.push(Outbound{Type: OutRead, ID: id})
	return nil
}

// Reset clears the conversation.
func (s *Session) Reset(ctx context.Context) error {
	if err := s.history.Reset(ctx); err != nil {
		return err
	}
	s.push(Outbound{Type: OutHistory, Messages: []domain.ChatMessage{}})
	return nil
}

// Attach registers a sink for outbound frames. Sinks must not block.
func (s *Session) Attach(sink func(Outbound)) (detach func()) {
	s.mu.Lock()
	id := s.nextSink
	s.nextSink++
	s.sinks[id] = sink
	s.lastActive = time.Now()
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.sinks, id)
			s.lastActive = time.Now()
			s.mu.Unlock()
		})
	}
}

// Attached returns the number of attached sinks.
func (s *Session) Attached() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sinks)
}

// IdleSince reports whether the session has had no sockets and no input
// since t.
func (s *Session) IdleSince(t time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sinks) == 0 && s.lastActive.Before(t)
}

func (s *Session) touch() {
	s.mu.Lock()
	s.lastActive = time.Now()
	s.mu.Unlock()
}

func (s *Session) push(out Outbound) {
	s.mu.Lock()
	sinks := make([]func(Outbound), 0, len(s.sinks))
	for _, sink := range s.sinks {
		sinks = append(sinks, sink)
	}
	s.mu.Unlock()
	for _, sink := range sinks {
		sink(out)
	}
}

// Close tears down the backend connection. It is idempotent.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()

	s.conn.Close()

	s.mu.Lock()
	state := s.lastState
	s.mu.Unlock()
	metrics.BackendConnections.WithLabelValues(string(state)).Dec()
}

func (s *Session) logEvent(ctx context.Context, direction, eventType, persona, content string, meta map[string]any) {
	s.convLog.Log(ConversationLogEvent{
		Timestamp:  time.Now().UTC().Format(time.RFC3339Nano),
		UserID:     s.userID,
		SessionID:  s.sessionID,
		RequestID:  requestIDFromContext(ctx),
		Channel:    "chat",
		Direction:  direction,
		EventType:  eventType,
		Persona:    persona,
		ContentRaw: content,
		Meta:       meta,
	})
}

func requestIDFromContext(ctx context.Context) string {
	return chiMiddleware.GetReqID(ctx)
}

func systemMessage(text string) domain.ChatMessage {
	return domain.NewMessage(domain.SenderSystem, text)
}

func commandLabel(t domain.CommandType) string {
	switch t {
	case domain.CommandTabChange:
		return "فتح التبويب"
	case domain.CommandDataRefresh:
		return "تحديث البيانات"
	case domain.CommandChartCreate:
		return "إنشاء الرسم"
	case domain.CommandFilterApply:
		return "تطبيق الفلتر"
	case domain.CommandWidgetUpdate:
		return "تحديث الودجت"
	case domain.CommandStatsUpdate:
		return "تحديث الإحصائيات"
	}
	return string(t)
}

func commandAck(cmd command.Command) string {
	switch cmd.Type {
	case domain.CommandTabChange:
		return "جارٍ فتح تبويب " + cmd.Params["tab"]
	case domain.CommandDataRefresh:
		return "جارٍ تحديث بيانات لوحة التحكم"
	case domain.CommandChartCreate:
		return "جارٍ إنشاء رسم بياني من نوع " + cmd.Params["chart_type"]
	case domain.CommandFilterApply:
		return "تم تطبيق فلتر الفترة: " + cmd.Params["period"]
	case domain.CommandWidgetUpdate:
		return "جارٍ تحديث ودجت " + cmd.Params["widget"]
	case domain.CommandStatsUpdate:
		return "جارٍ تحديث الإحصائيات: " + cmd.Params["scope"]
	}
	return string(cmd.Type)
}
