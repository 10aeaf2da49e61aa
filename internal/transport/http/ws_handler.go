package http

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
	"live-quiz-service/internal/app"
	"live-quiz-service/internal/auth"
	"live-quiz-service/internal/domain"
	"live-quiz-service/internal/metrics"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = pongWait * 9 / 10
	maxMessageSize = 4096
	sendBuffer     = 32
)

// WSHandler bridges one websocket to a session: it relays bus events out and
// accepts answer and sync requests in.
type WSHandler struct {
	service  *app.GameService
	tokens   *auth.Issuer
	log      logrus.FieldLogger
	upgrader websocket.Upgrader
}

// NewWSHandler accepts browser connections only from allowOrigins; an empty
// list or "*" allows any origin. Requests without an Origin header are not
// from a browser and are always allowed.
func NewWSHandler(service *app.GameService, tokens *auth.Issuer, log logrus.FieldLogger, allowOrigins []string) *WSHandler {
	return &WSHandler{
		service: service,
		tokens:  tokens,
		log:     log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     originChecker(allowOrigins),
		},
	}
}

func originChecker(allowOrigins []string) func(r *http.Request) bool {
	allowed := make(map[string]bool, len(allowOrigins))
	for _, origin := range allowOrigins {
		if origin == "*" {
			return func(*http.Request) bool { return true }
		}
		allowed[strings.TrimSuffix(origin, "/")] = true
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		return len(allowed) == 0 || origin == "" || allowed[origin]
	}
}

// ServeWS upgrades an authenticated request. The first message on every
// connection is a sync snapshot; bus events newer than it follow in publish
// order.
func (h *WSHandler) ServeWS(w http.ResponseWriter, r *http.Request) {
	raw := bearerToken(r)
	if raw == "" {
		http.Error(w, "missing token", http.StatusUnauthorized)
		return
	}
	claims, err := h.tokens.Parse(raw)
	if err != nil {
		http.Error(w, "invalid token", http.StatusUnauthorized)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.WithError(err).Warn("ws upgrade failed")
		return
	}
	defer conn.Close()

	ctx := r.Context()
	sessionID, playerID := claims.SessionID, claims.PlayerID
	log := h.log.WithFields(logrus.Fields{"session": sessionID, "player": playerID, "role": claims.Role, "remote": r.RemoteAddr})
	log.Info("WebSocket connected")
	metrics.WSConnected()
	defer metrics.WSDisconnected()

	if claims.Role == auth.RolePlayer {
		if err := h.service.Connect(ctx, sessionID, playerID); err != nil {
			h.writeFatal(conn, err)
			return
		}
		defer h.service.Disconnect(context.WithoutCancel(ctx), sessionID, playerID)
	}

	// subscribe before the snapshot so nothing between the two is lost
	sub, err := h.service.Subscribe(ctx, sessionID)
	if err != nil {
		h.writeFatal(conn, err)
		return
	}
	defer sub.Close()

	send := make(chan domain.Event, sendBuffer)
	closeSignals := make(chan struct{})
	writerDone := make(chan struct{})
	relayDone := make(chan struct{})
	synced := make(chan struct{})
	resync := make(chan struct{}, 1)

	push := func(event domain.Event) bool {
		select {
		case send <- event:
			return true
		case <-closeSignals:
			return false
		case <-writerDone:
			return false
		}
	}

	go h.writeLoop(conn, send, writerDone, log)

	// The relay is the only goroutine taking snapshots, so a sync never lands
	// behind an event newer than itself. Events the snapshot already covers
	// are skipped.
	go func() {
		defer close(relayDone)
		floor, ok := h.pushSync(ctx, sessionID, playerID, push, log)
		close(synced)
		if !ok {
			return
		}
		for {
			select {
			case event, ok := <-sub.Events():
				if !ok {
					// the bus cut this subscriber off; make the client redial and resync
					log.Warn("subscription lost, closing connection")
					_ = conn.WriteControl(websocket.CloseMessage,
						websocket.FormatCloseMessage(websocket.CloseTryAgainLater, "resubscribe"),
						time.Now().Add(writeWait))
					_ = conn.Close()
					return
				}
				if event.Seq != 0 && event.Seq <= floor {
					continue
				}
				if !push(event) {
					return
				}
			case <-resync:
				seq, ok := h.pushSync(ctx, sessionID, playerID, push, log)
				if !ok {
					return
				}
				if seq > floor {
					floor = seq
				}
			case <-closeSignals:
				return
			}
		}
	}()

	select {
	case <-synced:
	case <-writerDone:
	}

	conn.SetReadLimit(maxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	var readErr error
	for {
		var inbound domain.Event
		if readErr = conn.ReadJSON(&inbound); readErr != nil {
			break
		}
		var reply domain.Event
		var ok bool
		switch inbound.Type {
		case domain.EventAnswer:
			reply, ok = h.handleAnswer(ctx, claims, inbound, log)
		case domain.EventSync:
			// answered by the relay, in order with the events around it
			select {
			case resync <- struct{}{}:
			default:
			}
			continue
		default:
			reply, ok = rejection(domain.EventError, domain.CodeInvalidRequest, "unsupported message type")
		}
		if ok && !push(reply) {
			break
		}
	}

	close(closeSignals)
	<-relayDone
	close(send)
	<-writerDone

	if websocket.IsUnexpectedCloseError(readErr, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		log.WithError(readErr).Info("WebSocket disconnected")
	} else {
		log.Info("WebSocket disconnected")
	}
}

func (h *WSHandler) handleAnswer(ctx context.Context, claims *auth.Claims, inbound domain.Event, log logrus.FieldLogger) (domain.Event, bool) {
	if claims.Role != auth.RolePlayer {
		return rejection(domain.EventAnswerRejected, domain.CodeForbidden, "only players can answer")
	}
	var payload domain.AnswerPayload
	if err := inbound.Decode(&payload); err != nil {
		return rejection(domain.EventAnswerRejected, domain.CodeInvalidRequest, "invalid answer payload")
	}

	receipt, err := h.service.SubmitAnswer(ctx, claims.SessionID, claims.PlayerID, payload.QuestionIndex, payload.AnswerIndex)
	if err != nil {
		code := domain.Code(err)
		if code == domain.CodeInternal {
			log.WithError(err).Error("submit answer failed")
			return rejection(domain.EventAnswerRejected, code, "internal error")
		}
		return rejection(domain.EventAnswerRejected, code, err.Error())
	}
	event, err := domain.NewEvent(domain.EventAnswerAccepted, receipt)
	if err != nil {
		log.WithError(err).Error("encode receipt failed")
		return domain.Event{}, false
	}
	return event, true
}

// pushSync sends a fresh snapshot and returns its sequence. A failed snapshot
// is reported to the client as an error and leaves the sequence at zero.
func (h *WSHandler) pushSync(ctx context.Context, sessionID, playerID string, push func(domain.Event) bool, log logrus.FieldLogger) (uint64, bool) {
	snapshot, err := h.service.Snapshot(ctx, sessionID, playerID)
	if err != nil {
		log.WithError(err).Warn("snapshot failed")
		event, ok := rejection(domain.EventError, domain.Code(err), "could not load game state")
		return 0, !ok || push(event)
	}
	event, err := domain.NewEvent(domain.EventSync, snapshot)
	if err != nil {
		log.WithError(err).Error("encode snapshot failed")
		return 0, true
	}
	return snapshot.Seq, push(event)
}

// writeLoop is the only writer on conn.
func (h *WSHandler) writeLoop(conn *websocket.Conn, send <-chan domain.Event, done chan<- struct{}, log logrus.FieldLogger) {
	defer close(done)
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case event, ok := <-send:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := conn.WriteJSON(event); err != nil {
				log.WithError(err).Debug("ws write failed")
				// unblock the reader
				_ = conn.Close()
				return
			}
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				_ = conn.Close()
				return
			}
		}
	}
}

func (h *WSHandler) writeFatal(conn *websocket.Conn, err error) {
	event, _ := rejection(domain.EventError, domain.Code(err), err.Error())
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	_ = conn.WriteJSON(event)
}

func rejection(t domain.EventType, code, message string) (domain.Event, bool) {
	event, err := domain.NewEvent(t, domain.RejectionPayload{Code: code, Message: message})
	return event, err == nil
}
