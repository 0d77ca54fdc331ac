package remote

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/bazelment/agentdesk/agent-cli-wrapper/agentstream"
	"github.com/bazelment/agentdesk/agentdesk/session"
	"github.com/bazelment/agentdesk/agentdesk/store"
	"github.com/bazelment/agentdesk/logging"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = pongWait * 9 / 10
	maxMessageSize = 8 << 20
	// subscriberBuffer bounds how far a client may lag before it is dropped.
	subscriberBuffer = 1024
)

var errInvalidCommand = errors.New("invalid command")

// SessionService is the part of session.Manager the server drives.
type SessionService interface {
	Start(ctx context.Context, req session.StartRequest) (*store.Session, error)
	Continue(ctx context.Context, id, prompt string, attachments []agentstream.Attachment) error
	Stop(ctx context.Context, id string) error
	Delete(ctx context.Context, id string) error
	RespondPermission(ans session.PermissionAnswer) bool
	Get(ctx context.Context, id string) (*store.Session, error)
	List(ctx context.Context) ([]*store.Session, error)
	History(ctx context.Context, id string) ([]agentstream.Message, error)
}

// ServerConfig configures a Server.
type ServerConfig struct {
	Sessions    SessionService
	Broadcaster *Broadcaster
	Logger      *slog.Logger
	// AllowedOrigins lists accepted websocket Origin headers. Empty or "*"
	// accepts any origin.
	AllowedOrigins []string
}

// Server serves the websocket endpoint and the REST API.
type Server struct {
	sessions    SessionService
	broadcaster *Broadcaster
	logger      *slog.Logger
	upgrader    websocket.Upgrader
}

// NewServer creates a Server.
func NewServer(config ServerConfig) *Server {
	s := &Server{
		sessions:    config.Sessions,
		broadcaster: config.Broadcaster,
		logger:      logging.OrDiscard(config.Logger),
	}
	allowed := make(map[string]bool, len(config.AllowedOrigins))
	for _, o := range config.AllowedOrigins {
		allowed[o] = true
	}
	s.upgrader = websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			if len(allowed) == 0 || allowed["*"] {
				return true
			}
			return allowed[r.Header.Get("Origin")]
		},
	}
	return s
}

// Routes registers the server's handlers on mux.
func (s *Server) Routes(mux *http.ServeMux) {
	mux.HandleFunc("GET /ws", s.handleWebSocket)
	mux.HandleFunc("GET /api/sessions", s.handleListSessions)
	mux.HandleFunc("GET /api/sessions/{id}", s.handleGetSession)
	mux.HandleFunc("GET /api/sessions/{id}/messages", s.handleHistory)
}

// Handler returns a mux with the server's routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.Routes(mux)
	return mux
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	list, err := s.sessions.List(r.Context())
	if err != nil {
		s.httpError(w, err)
		return
	}
	if list == nil {
		list = []*store.Session{}
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	sess, err := s.sessions.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		s.httpError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	history, err := s.sessions.History(r.Context(), r.PathValue("id"))
	if err != nil {
		s.httpError(w, err)
		return
	}
	if history == nil {
		history = []agentstream.Message{}
	}
	writeJSON(w, http.StatusOK, history)
}

func (s *Server) httpError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	if errors.Is(err, session.ErrSessionNotFound) {
		status = http.StatusNotFound
	} else {
		s.logger.Warn("api request failed", "error", err)
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// client is one websocket connection. Writes are serialized by writeMu;
// gorilla allows one concurrent writer.
type client struct {
	conn    *websocket.Conn
	logger  *slog.Logger
	subID   int
	writeMu sync.Mutex
}

func (c *client) write(v interface{}) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteJSON(v)
}

func (c *client) control(messageType int, data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteControl(messageType, data, time.Now().Add(writeWait))
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	subID, events := s.broadcaster.Subscribe(subscriberBuffer)
	c := &client{conn: conn, subID: subID, logger: s.logger.With("subscriber", subID)}
	defer s.broadcaster.Unsubscribe(subID)
	c.logger.Info("websocket client connected", "remote", r.RemoteAddr)

	done := make(chan struct{})
	defer close(done)
	go c.pump(events, done)

	conn.SetReadLimit(maxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		var cmd Command
		if err := conn.ReadJSON(&cmd); err != nil {
			var syntaxErr *json.SyntaxError
			var typeErr *json.UnmarshalTypeError
			if errors.As(err, &syntaxErr) || errors.As(err, &typeErr) {
				_ = c.write(Envelope{Type: EnvelopeError, Code: CodeInvalid, Error: err.Error()})
				continue
			}
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Warn("websocket read failed", "error", err)
			}
			break
		}
		reply := s.dispatch(r.Context(), c, cmd)
		if err := c.write(reply); err != nil {
			c.logger.Debug("websocket write failed", "error", err)
			break
		}
	}
	c.logger.Info("websocket client disconnected")
}

// pump forwards broadcast events and keeps the connection alive. When the
// broadcaster drops the subscriber the connection is closed so the client
// reconnects and reloads history.
func (c *client) pump(events <-chan session.Event, done <-chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case ev, ok := <-events:
			if !ok {
				_ = c.control(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseTryAgainLater, "subscriber fell behind"))
				_ = c.conn.Close()
				return
			}
			if err := c.write(Envelope{Type: EnvelopeEvent, SessionID: ev.SessionID, Event: &ev}); err != nil {
				_ = c.conn.Close()
				return
			}
		case <-ticker.C:
			if err := c.control(websocket.PingMessage, nil); err != nil {
				_ = c.conn.Close()
				return
			}
		}
	}
}

func (s *Server) dispatch(ctx context.Context, c *client, cmd Command) Envelope {
	reply := Envelope{Type: EnvelopeAck, ID: cmd.ID, SessionID: cmd.SessionID}
	var err error
	switch cmd.Type {
	case CommandStart:
		var sess *store.Session
		sess, err = s.sessions.Start(ctx, session.StartRequest{
			Prompt:      cmd.Prompt,
			CWD:         cmd.CWD,
			Title:       cmd.Title,
			Attachments: cmd.Attachments,
		})
		if err == nil {
			reply.Session = sess
			reply.SessionID = sess.ID
		}
	case CommandContinue:
		err = s.sessions.Continue(ctx, cmd.SessionID, cmd.Prompt, cmd.Attachments)
	case CommandStop:
		err = s.sessions.Stop(ctx, cmd.SessionID)
	case CommandDelete:
		err = s.sessions.Delete(ctx, cmd.SessionID)
	case CommandPermissionResponse:
		if cmd.Result == nil || cmd.ToolUseID == "" {
			err = fmt.Errorf("%w: permission_response needs tool_use_id and result", errInvalidCommand)
			break
		}
		accepted := s.sessions.RespondPermission(session.PermissionAnswer{
			SessionID: cmd.SessionID,
			ToolUseID: cmd.ToolUseID,
			Result:    *cmd.Result,
		})
		reply.Accepted = &accepted
	case CommandSubscribe:
		s.broadcaster.Filter(c.subID, cmd.SessionIDs)
	default:
		err = fmt.Errorf("%w: unknown type %q", errInvalidCommand, cmd.Type)
	}
	if err != nil {
		c.logger.Info("command failed", "type", cmd.Type, "session", cmd.SessionID, "error", err)
		return Envelope{Type: EnvelopeError, ID: cmd.ID, SessionID: cmd.SessionID, Code: errorCode(err), Error: err.Error()}
	}
	return reply
}
