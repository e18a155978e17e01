package server

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/asktra/asktra/internal/audit"
	"github.com/asktra/asktra/internal/reasoning/engine"
	apitypes "github.com/asktra/asktra/pkg/types"
)

const (
	wsWriteTimeout      = 10 * time.Second
	wsReadTimeout       = 60 * time.Second
	wsHeartbeatInterval = 30 * time.Second
)

// wsConnection is one /ws/ask session: a single question streamed to
// completion.
type wsConnection struct {
	conn   *websocket.Conn
	logger *zap.Logger
	mu     sync.Mutex
	ctx    context.Context
	cancel context.CancelFunc
}

// handleWSAsk streams one reasoning run over a websocket. The first client
// message is an ask request. The server answers with progress frames and a
// single result or error frame, then closes. A client disconnect cancels
// the run.
func (s *Server) handleWSAsk(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Debug("WebSocket upgrade failed", zap.Error(err))
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	wsc := &wsConnection{
		conn:   conn,
		logger: s.logger.With(zap.String("request_id", audit.GetCorrelationID(r.Context()))),
		ctx:    ctx,
		cancel: cancel,
	}
	defer func() {
		wsc.cancel()
		wsc.conn.Close()
	}()

	conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
	var body apitypes.AskRequest
	if err := conn.ReadJSON(&body); err != nil {
		wsc.sendError("invalid request: "+err.Error(), engine.KindInvalidRequest)
		return
	}
	conn.SetReadDeadline(time.Time{})

	if err := s.validate.Struct(&body); err != nil {
		wsc.sendError(validationMessage(err), engine.KindInvalidRequest)
		return
	}
	req, err := toEngineRequest(body)
	if err != nil {
		wsc.sendError(err.Error(), engine.KindInvalidRequest)
		return
	}

	go wsc.watchClose()
	go wsc.heartbeat()

	for ev := range s.reasoner.Stream(ctx, req) {
		var err error
		switch ev.Kind {
		case engine.EventResult:
			err = wsc.send(&apitypes.WSMessage{Type: apitypes.WSMessageResult, Result: toAskResponse(ev.Result)})
		case engine.EventError:
			err = wsc.sendError(ev.Error, ev.ErrorKind)
		default:
			err = wsc.send(&apitypes.WSMessage{Type: apitypes.WSMessageProgress, Message: ev.Message})
		}
		if err != nil {
			wsc.logger.Debug("WebSocket write failed", zap.Error(err))
			return
		}
		if ev.Terminal() {
			break
		}
	}

	wsc.mu.Lock()
	wsc.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	wsc.conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "done"))
	wsc.mu.Unlock()
}

// watchClose cancels the run when the client goes away. Clients send
// nothing after the request, so any read error means the peer closed.
func (wsc *wsConnection) watchClose() {
	defer wsc.cancel()
	for {
		if _, _, err := wsc.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				wsc.logger.Debug("WebSocket read error", zap.Error(err))
			}
			return
		}
	}
}

func (wsc *wsConnection) send(msg *apitypes.WSMessage) error {
	msg.Timestamp = time.Now().UnixMilli()
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	wsc.mu.Lock()
	defer wsc.mu.Unlock()
	wsc.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	return wsc.conn.WriteMessage(websocket.TextMessage, data)
}

func (wsc *wsConnection) sendError(msg, kind string) error {
	if kind == "" {
		kind = engine.KindInternal
	}
	return wsc.send(&apitypes.WSMessage{Type: apitypes.WSMessageError, Error: msg, Kind: kind})
}

// heartbeat sends periodic heartbeat messages
func (wsc *wsConnection) heartbeat() {
	ticker := time.NewTicker(wsHeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-wsc.ctx.Done():
			return
		case <-ticker.C:
			if err := wsc.send(&apitypes.WSMessage{Type: apitypes.WSMessageHeartbeat}); err != nil {
				return
			}
		}
	}
}
