package monitor

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/net/websocket"

	"dbshell/internal/events"
	"dbshell/internal/logger"
	"dbshell/internal/metrics"
	"dbshell/internal/registry"
	"dbshell/internal/table"
)

const component = "monitor"

// Variables はモニターが参照するテーブルの読み取り専用ビュー
type Variables interface {
	Snapshot() []table.Variable
	Len() int
	Capacity() int
}

// Option は Server の設定
type Option func(*Server)

// WithRegistry は /api/connections を有効にする
func WithRegistry(r *registry.Registry) Option {
	return func(s *Server) {
		s.registry = r
	}
}

// WithMetrics は /api/status にメトリクスを追加する
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Server) {
		s.metrics = m
	}
}

// WithEventBus は /ws のイベント配信を有効にする
func WithEventBus(b *events.Bus) Option {
	return func(s *Server) {
		s.bus = b
	}
}

// WithState は /api/status にリスナーの状態を追加する
func WithState(fn func() string) Option {
	return func(s *Server) {
		s.state = fn
	}
}

// WithLogger は logger.Default の代わりに使うロガーを設定する
func WithLogger(l *logger.Logger) Option {
	return func(s *Server) {
		s.log = l
	}
}

// Server はHTTPモニターサーバー
type Server struct {
	addr     string
	vars     Variables
	registry *registry.Registry
	metrics  *metrics.Metrics
	bus      *events.Bus
	state    func() string
	log      *logger.Logger

	mu        sync.Mutex
	wsClients map[*websocket.Conn]struct{}
}

// NewServer は新しいモニターサーバーを作成する
func NewServer(addr string, vars Variables, opts ...Option) *Server {
	s := &Server{
		addr:      addr,
		vars:      vars,
		wsClients: make(map[*websocket.Conn]struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.log == nil {
		s.log = logger.Default
	}
	return s
}

// Handler はモニターのルートを返す
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/status", s.handleStatus)
	mux.HandleFunc("/api/connections", s.handleConnections)
	mux.HandleFunc("/api/connections/", s.handleConnection)
	mux.HandleFunc("/api/variables", s.handleVariables)
	mux.Handle("/ws", websocket.Handler(s.handleWebSocket))
	return mux
}

// Start は設定されたアドレスでリッスンし、ctx が終了するまで処理する
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return errors.Wrapf(err, "monitor listen on %s", s.addr)
	}
	return s.Serve(ctx, ln)
}

// Serve は ctx が終了するまで ln で処理する。シャットダウン完了後に戻る
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	serveDone := make(chan struct{})
	shutdownDone := make(chan struct{})
	go func() {
		defer close(shutdownDone)
		select {
		case <-ctx.Done():
		case <-serveDone:
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		// hijacked websocket connections are not closed by Shutdown
		s.closeWebSockets()
		_ = srv.Shutdown(shutdownCtx)
	}()

	s.log.Info(component, "monitor listening on http://%s", ln.Addr())

	err := srv.Serve(ln)
	close(serveDone)
	<-shutdownDone
	s.log.Info(component, "monitor stopped")

	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return errors.Wrap(err, "monitor")
	}
	return nil
}

// StatusResponse はステータスレスポンス
type StatusResponse struct {
	State             string            `json:"state,omitempty"`
	Variables         int               `json:"variables"`
	Capacity          int               `json:"capacity"`
	ActiveConnections int               `json:"active_connections"`
	Metrics           *metrics.Snapshot `json:"metrics,omitempty"`
	EventsDropped     uint64            `json:"events_dropped"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	resp := StatusResponse{
		Variables: s.vars.Len(),
		Capacity:  s.vars.Capacity(),
	}
	if s.state != nil {
		resp.State = s.state()
	}
	if s.registry != nil {
		resp.ActiveConnections = s.registry.Count()
	}
	if s.metrics != nil {
		snap := s.metrics.Snapshot()
		resp.Metrics = &snap
	}
	if s.bus != nil {
		resp.EventsDropped = s.bus.Dropped()
	}

	s.writeJSON(w, resp)
}

func (s *Server) handleConnections(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	conns := []registry.Info{}
	if s.registry != nil {
		conns = s.registry.List()
	}
	s.writeJSON(w, conns)
}

// handleConnection は /api/connections/{id} を処理する
func (s *Server) handleConnection(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	id := strings.TrimPrefix(r.URL.Path, "/api/connections/")
	if s.registry == nil || id == "" {
		http.NotFound(w, r)
		return
	}
	c, ok := s.registry.Get(id)
	if !ok {
		http.NotFound(w, r)
		return
	}
	s.writeJSON(w, c.Info())
}

func (s *Server) handleVariables(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	vars := s.vars.Snapshot()
	if vars == nil {
		vars = []table.Variable{}
	}
	s.writeJSON(w, vars)
}

// handleWebSocket は切断されるまでイベントをJSONで配信する
func (s *Server) handleWebSocket(ws *websocket.Conn) {
	defer ws.Close()
	if s.bus == nil {
		return
	}

	s.mu.Lock()
	s.wsClients[ws] = struct{}{}
	s.mu.Unlock()

	sub := s.bus.Subscribe()
	defer func() {
		s.bus.Unsubscribe(sub)
		s.mu.Lock()
		delete(s.wsClients, ws)
		s.mu.Unlock()
	}()

	// the peer never sends anything we need; a failed receive means it left
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			var msg string
			if err := websocket.Message.Receive(ws, &msg); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-gone:
			return
		case ev, ok := <-sub:
			if !ok {
				return
			}
			if err := websocket.JSON.Send(ws, ev); err != nil {
				s.log.Debug(component, "websocket send: %v", err)
				return
			}
		}
	}
}

func (s *Server) closeWebSockets() {
	s.mu.Lock()
	clients := make([]*websocket.Conn, 0, len(s.wsClients))
	for ws := range s.wsClients {
		clients = append(clients, ws)
	}
	s.mu.Unlock()

	for _, ws := range clients {
		_ = ws.Close()
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.log.Error(component, "failed to encode JSON: %v", err)
	}
}
