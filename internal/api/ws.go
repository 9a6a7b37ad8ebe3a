package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/nugget/loresmith/internal/agent"
	"github.com/nugget/loresmith/internal/prompts"
	"github.com/nugget/loresmith/internal/tools"
)

// Frame types exchanged over /ws.
const (
	FrameStart   = "start"
	FrameStop    = "stop"
	FrameStatus  = "status"
	FrameMessage = "message"
	FrameError   = "error"
	FrameDone    = "done"
)

const writeTimeout = 10 * time.Second

// ClientFrame is sent by the UI.
type ClientFrame struct {
	Type         string          `json:"type"`
	Messages     []agent.Message `json:"messages,omitempty"`
	Mode         string          `json:"mode,omitempty"`
	Instructions string          `json:"instructions,omitempty"`
	// Session names the transcript to save when the run ends. Empty
	// means the transcript is not saved.
	Session string `json:"session,omitempty"`
}

// ServerFrame is sent to the UI.
type ServerFrame struct {
	Type    string         `json:"type"`
	Run     int            `json:"run,omitempty"`
	Status  agent.Status   `json:"status,omitempty"`
	Message *agent.Message `json:"message,omitempty"`
	Error   string         `json:"error,omitempty"`
}

// conn is one UI connection and the orchestrator it owns.
type conn struct {
	ws     *websocket.Conn
	writeM sync.Mutex
	logger *slog.Logger

	orch *agent.Orchestrator
	runs sync.WaitGroup

	// Runs are reserved in frame order on the read goroutine. Each run
	// waits for its predecessor to finish, and cancelRun ends the newest
	// one whether it is loading or already started.
	mu         sync.Mutex
	runSeq     int
	cancelRun  context.CancelFunc
	lastRun    chan struct{}
	transcript *agent.Transcript
}

// stop cancels the newest run, including one still loading its workspace.
func (c *conn) stop() {
	c.mu.Lock()
	if c.cancelRun != nil {
		c.cancelRun()
	}
	c.mu.Unlock()
	c.orch.Stop()
}

func (c *conn) collect(m agent.Message) {
	c.mu.Lock()
	t := c.transcript
	c.mu.Unlock()
	if t != nil {
		t.Add(m)
	}
}

func (c *conn) send(f ServerFrame) {
	c.writeM.Lock()
	defer c.writeM.Unlock()
	_ = c.ws.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := c.ws.WriteJSON(f); err != nil {
		c.logger.Debug("failed to write frame", "type", f.Type, "error", err)
	}
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "error", err)
		return
	}
	defer ws.Close()

	c := &conn{
		ws:     ws,
		logger: s.logger.With("conn_id", uuid.NewString()),
	}
	opts := []agent.Option{
		agent.WithLogger(c.logger),
		agent.WithHooks(agent.Hooks{
			OnStatus: func(st agent.Status) {
				c.send(ServerFrame{Type: FrameStatus, Status: st})
			},
			OnMessage: func(m agent.Message) {
				c.collect(m)
				c.send(ServerFrame{Type: FrameMessage, Message: &m})
			},
		}),
	}
	if s.cfg.MaxSteps > 0 {
		opts = append(opts, agent.WithMaxSteps(s.cfg.MaxSteps))
	}
	c.orch = agent.New(s.client, s.registry, opts...)

	ctx, cancel := context.WithCancel(r.Context())
	defer func() {
		c.stop()
		cancel()
		c.runs.Wait()
		c.logger.Info("websocket closed")
	}()

	c.logger.Info("websocket connected", "remote", r.RemoteAddr)
	c.send(ServerFrame{Type: FrameStatus, Status: c.orch.Status()})

	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.logger.Debug("websocket read ended", "error", err)
			}
			return
		}

		var f ClientFrame
		if err := json.Unmarshal(data, &f); err != nil {
			c.send(ServerFrame{Type: FrameError, Error: "invalid frame: " + err.Error()})
			continue
		}

		switch f.Type {
		case FrameStart:
			s.startRun(ctx, c, f)
		case FrameStop:
			c.stop()
		default:
			c.send(ServerFrame{Type: FrameError, Error: "unknown frame type " + strconv.Quote(f.Type)})
		}
	}
}

func (s *Server) startRun(ctx context.Context, c *conn, f ClientFrame) {
	mode := s.cfg.Mode
	if f.Mode != "" {
		m, err := prompts.ParseMode(f.Mode)
		if err != nil {
			c.send(ServerFrame{Type: FrameError, Error: err.Error()})
			return
		}
		mode = m
	}
	if len(f.Messages) == 0 {
		c.send(ServerFrame{Type: FrameError, Error: "start requires at least one message"})
		return
	}

	// A new run supersedes any earlier one, started or not.
	c.stop()

	runCtx, cancelRun := context.WithCancel(ctx)
	finished := make(chan struct{})
	c.mu.Lock()
	c.runSeq++
	seq := c.runSeq
	c.cancelRun = cancelRun
	prev := c.lastRun
	c.lastRun = finished
	c.mu.Unlock()

	c.runs.Add(1)
	go func() {
		defer c.runs.Done()
		defer close(finished)
		defer cancelRun()
		log := c.logger.With("run", seq)

		if prev != nil {
			<-prev
		}

		ws, err := s.loadWorkspace(runCtx)
		if runCtx.Err() != nil {
			log.Info("run cancelled before start")
			c.send(ServerFrame{Type: FrameDone, Run: seq, Status: agent.StatusIdle})
			return
		}
		if err != nil {
			log.Error("failed to load workspace", "error", err)
			c.send(ServerFrame{Type: FrameError, Run: seq, Error: "failed to load workspace"})
			c.send(ServerFrame{Type: FrameDone, Run: seq, Status: agent.StatusError})
			return
		}

		settings := s.cfg.Settings
		env := tools.Env{
			Workspace:   ws,
			Settings:    &settings,
			Completion:  s.client,
			Mode:        mode,
			SearchLimit: s.cfg.SearchLimit,
			MaxChars:    s.cfg.MaxChars,
		}
		if s.store != nil {
			env.Effects = s.store
		}

		run := agent.Run{
			Transcript:   f.Messages,
			Env:          env,
			Instructions: joinInstructions(s.cfg.Instructions, f.Instructions),
		}

		// The predecessor has returned, so nothing else collects now.
		transcript := agent.NewTranscript(f.Messages)
		c.mu.Lock()
		c.transcript = transcript
		c.mu.Unlock()

		runErr := c.orch.Start(runCtx, run)
		if runErr != nil {
			c.send(ServerFrame{Type: FrameError, Run: seq, Error: runErr.Error()})
		}

		if f.Session != "" && s.store != nil {
			if err := s.store.SaveTranscript(ctx, f.Session, transcript.Messages()); err != nil {
				log.Error("failed to save transcript", "session", f.Session, "error", err)
			} else {
				log.Debug("saved transcript", "session", f.Session)
			}
		}
		c.send(ServerFrame{Type: FrameDone, Run: seq, Status: c.orch.Status()})
	}()
}

func joinInstructions(parts ...string) string {
	var out []string
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return strings.Join(out, "\n\n")
}
