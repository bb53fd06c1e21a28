package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"roomchat/internal/apperror"
	"roomchat/internal/auth"
	"roomchat/internal/database"
	"roomchat/internal/guard"
	"roomchat/internal/models"
	"roomchat/internal/protocol"
	"roomchat/internal/pubsub"
	"roomchat/internal/websocket"
	"roomchat/pkg/logger"

	"github.com/google/uuid"
)

type State int32

const (
	StateConnecting State = iota
	StateJoined
	StateDisconnected
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateJoined:
		return "joined"
	default:
		return "disconnected"
	}
}

// Session is the per-connection protocol state. Its lock is only held while
// reading or swapping the binding, never across a store or broker call.
type Session struct {
	conn websocket.Connection

	mu       sync.Mutex
	state    State
	userID   string
	roomID   string
	lastSeen time.Time // last join or client ping
}

func (s *Session) ID() string {
	return s.conn.ID()
}

func (s *Session) Conn() websocket.Connection {
	return s.conn
}

func (s *Session) snapshot() (State, string, string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state, s.userID, s.roomID
}

func (s *Session) State() State {
	st, _, _ := s.snapshot()
	return st
}

func (s *Session) UserID() string {
	_, u, _ := s.snapshot()
	return u
}

func (s *Session) RoomID() string {
	_, _, r := s.snapshot()
	return r
}

func (s *Session) bind(userID, roomID string, at time.Time) {
	s.mu.Lock()
	s.state = StateJoined
	s.userID = userID
	s.roomID = roomID
	s.lastSeen = at
	s.mu.Unlock()
}

func (s *Session) touch(at time.Time) {
	s.mu.Lock()
	s.lastSeen = at
	s.mu.Unlock()
}

// stale reports a joined session whose client has been silent for d or more.
func (s *Session) stale(now time.Time, d time.Duration) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state == StateJoined && now.Sub(s.lastSeen) >= d
}

// unbind moves a joined session to Disconnected and returns what it was
// bound to. ok is false when the session was not joined.
func (s *Session) unbind() (userID, roomID string, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateJoined {
		s.state = StateDisconnected
		return "", "", false
	}
	userID, roomID = s.userID, s.roomID
	s.state = StateDisconnected
	s.userID = ""
	s.roomID = ""
	return userID, roomID, true
}

type SendResult struct {
	Message    models.Message
	Recipients int
}

type Stats struct {
	OpenSessions     int   `json:"openSessions"`
	JoinedSessions   int   `json:"joinedSessions"`
	StaleSessions    int   `json:"staleSessions"`
	LocalRooms       int   `json:"localRooms"`
	Subscriptions    int   `json:"subscriptions"`
	MessagesAccepted int64 `json:"messagesAccepted"`
	MessagesRejected int64 `json:"messagesRejected"`
	Evictions        int64 `json:"evictions"`
	PublishFailures  int64 `json:"publishFailures"`
}

type OrchestratorConfig struct {
	NodeID          string
	MaxMessageBytes int
	// StaleAfter is how long a joined client may go without a ping before
	// it is reported stale.
	StaleAfter time.Duration
}

type Orchestrator struct {
	rooms    database.RoomRepository
	presence database.PresenceRepository
	guard    *guard.Guard
	broker   pubsub.Broker
	registry *websocket.Registry
	tokens   auth.TokenResolver
	catalog  database.ErrorCatalog

	nodeID     string
	maxBytes   int
	staleAfter time.Duration
	now        func() time.Time

	// users serializes join and release for one user id.
	users *keyedMutex

	mu       sync.Mutex
	sessions map[string]*Session

	accepted  atomic.Int64
	rejected  atomic.Int64
	evictions atomic.Int64
	pubFails  atomic.Int64
}

func NewOrchestrator(
	rooms database.RoomRepository,
	presence database.PresenceRepository,
	g *guard.Guard,
	broker pubsub.Broker,
	registry *websocket.Registry,
	tokens auth.TokenResolver,
	catalog database.ErrorCatalog,
	cfg OrchestratorConfig,
) *Orchestrator {
	if cfg.MaxMessageBytes <= 0 {
		cfg.MaxMessageBytes = 2048
	}
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = 30 * time.Second
	}
	if cfg.NodeID == "" {
		cfg.NodeID = uuid.NewString()
	}
	if catalog == nil {
		catalog = database.NewStaticCatalog(database.DefaultErrorInfo)
	}
	return &Orchestrator{
		rooms:    rooms,
		presence: presence,
		guard:    g,
		broker:   broker,
		registry: registry,
		tokens:   tokens,
		catalog:  catalog,
		nodeID:   cfg.NodeID,
		maxBytes:   cfg.MaxMessageBytes,
		staleAfter: cfg.StaleAfter,
		now:        time.Now,
		users:      newKeyedMutex(),
		sessions:   make(map[string]*Session),
	}
}

// Open registers a new connection in the Connecting state.
func (o *Orchestrator) Open(conn websocket.Connection) *Session {
	s := &Session{conn: conn, state: StateConnecting}
	o.mu.Lock()
	o.sessions[conn.ID()] = s
	o.mu.Unlock()
	logger.Debug("Connection %s opened", conn.ID())
	return s
}

func (o *Orchestrator) session(connID string) (*Session, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	s, ok := o.sessions[connID]
	return s, ok
}

// lockSession takes the user lock for the session's current user and for
// extra, retrying if the session was rebound while waiting.
func (o *Orchestrator) lockSession(s *Session, extra string) func() {
	for {
		_, userID, _ := s.snapshot()
		unlock := o.users.Lock(userID, extra)
		if _, now, _ := s.snapshot(); now == userID {
			return unlock
		}
		unlock()
	}
}

// HandleFrame decodes one inbound frame and applies it. Every failure,
// including a panic, is answered with an error envelope on the same
// connection; the connection itself stays open.
func (o *Orchestrator) HandleFrame(ctx context.Context, s *Session, frame []byte) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("Recovered panic handling frame on %s: %v", s.ID(), r)
			o.sendError(ctx, s.conn, apperror.Internal(fmt.Errorf("panic: %v", r)))
		}
	}()

	in, err := protocol.Decode(frame)
	if err != nil {
		var perr *protocol.ParseError
		if errors.As(err, &perr) {
			err = perr.AppError()
		}
		o.sendError(ctx, s.conn, err)
		return
	}

	switch in.T {
	case protocol.TypeJoin:
		err = o.Join(ctx, s, in.RoomID, in.Token)
	case protocol.TypeMsg:
		_, err = o.SendMessage(ctx, s, in.RoomID, in.Text, in.ClientMsgID)
	case protocol.TypePing:
		o.Ping(ctx, s)
	case protocol.TypeLeave:
		err = o.Leave(ctx, s, in.RoomID)
	default:
		err = apperror.New(apperror.KindProtocol, apperror.CodeUnsupportedMessage, string(in.T))
	}

	if err != nil {
		o.sendError(ctx, s.conn, err)
	}
}

func (o *Orchestrator) Join(ctx context.Context, s *Session, roomID, token string) error {
	roomID = strings.TrimSpace(roomID)
	if !ValidRoomID(roomID) {
		return apperror.Validation(apperror.CodeInvalidRoomID)
	}
	if strings.TrimSpace(token) == "" {
		return apperror.Validation(apperror.CodeInvalidToken)
	}

	userID, err := o.tokens.Resolve(ctx, token)
	if err != nil {
		return err
	}

	unlock := o.lockSession(s, userID)
	defer unlock()

	if state, curUser, curRoom := s.snapshot(); state == StateJoined {
		if curUser == userID && curRoom == roomID {
			members, err := o.rooms.Members(ctx, roomID)
			if err != nil {
				return err
			}
			s.conn.Send(protocol.Encode(protocol.Joined(roomID, userID, members)))
			return nil
		}
		o.release(ctx, s, "rejoin")
	}

	res, err := o.rooms.Join(ctx, roomID, userID)
	if err != nil {
		return err
	}
	if err := o.presence.Refresh(ctx, userID); err != nil {
		logger.Warn("Presence refresh failed for %s: %v", userID, err)
	}

	s.bind(userID, roomID, o.now())
	evicted := o.registry.Register(s.conn, userID, roomID)

	if err := o.broker.Subscribe(ctx, roomID, o); err != nil {
		// The handler table already holds the room, so a broker reconnect
		// restores the subscription.
		logger.Warn("Subscribe to room %s failed: %v", roomID, err)
	}

	announce := true
	if evicted != nil {
		announce = evicted.RoomID != roomID
		o.evict(ctx, *evicted, roomID)
	}

	s.conn.Send(protocol.Encode(protocol.Joined(roomID, userID, res.Members)))
	if announce {
		o.broadcast(ctx, roomID, protocol.UserJoined(roomID, userID), s.ID(), models.Message{
			Kind:   models.KindUserJoined,
			RoomID: roomID,
			From:   userID,
		})
	}

	logger.Info("User %s joined room %s (%d members)", userID, roomID, len(res.Members))
	return nil
}

// evict unbinds the connection that previously held the user's session. Room
// membership is released only when the new session is in a different room.
func (o *Orchestrator) evict(ctx context.Context, b websocket.Binding, newRoomID string) {
	o.evictions.Add(1)
	if prev, ok := o.session(b.Conn.ID()); ok {
		prev.unbind()
	}

	o.sendError(ctx, b.Conn, apperror.Domain(apperror.CodeSessionReplaced))
	logger.Info("Session for %s on %s replaced", b.UserID, b.Conn.ID())

	if b.RoomID == newRoomID {
		return
	}
	o.leaveRoom(ctx, b.UserID, b.RoomID)
}

func (o *Orchestrator) SendMessage(ctx context.Context, s *Session, roomID, text, clientMsgID string) (*SendResult, error) {
	result, err := o.sendMessage(ctx, s, roomID, text, clientMsgID)
	if err != nil {
		o.rejected.Add(1)
		return nil, err
	}
	o.accepted.Add(1)
	return result, nil
}

func (o *Orchestrator) sendMessage(ctx context.Context, s *Session, roomID, text, clientMsgID string) (*SendResult, error) {
	state, userID, boundRoom := s.snapshot()
	if state != StateJoined {
		return nil, apperror.Domain(apperror.CodeNotJoined)
	}
	if roomID != "" && roomID != boundRoom {
		return nil, apperror.Validation(apperror.CodeInvalidRoomID, roomID)
	}
	if strings.TrimSpace(text) == "" {
		return nil, apperror.Validation(apperror.CodeEmptyMessage)
	}
	if size := len(text); size > o.maxBytes {
		return nil, apperror.MessageTooLarge(size, o.maxBytes)
	}

	if err := o.guard.Admit(userID, clientMsgID); err != nil {
		return nil, err
	}

	msg := models.Message{
		ID:          uuid.NewString(),
		ClientMsgID: clientMsgID,
		RoomID:      boundRoom,
		From:        userID,
		Text:        text,
		Timestamp:   o.now().UTC(),
	}
	o.broadcast(ctx, boundRoom, protocol.MessageEnvelope(msg), "", msg)

	members, err := o.rooms.Members(ctx, boundRoom)
	count := len(members)
	if err != nil {
		logger.Warn("Member count for %s unavailable: %v", boundRoom, err)
		count = o.registry.RoomSize(boundRoom)
	}
	recipients := count - 1
	if recipients < 0 {
		recipients = 0
	}

	return &SendResult{Message: msg, Recipients: recipients}, nil
}

// Ping refreshes presence for a joined session and always answers pong.
func (o *Orchestrator) Ping(ctx context.Context, s *Session) {
	s.touch(o.now())
	if state, userID, _ := s.snapshot(); state == StateJoined {
		if err := o.presence.Refresh(ctx, userID); err != nil {
			logger.Warn("Presence refresh failed for %s: %v", userID, err)
		}
	}
	s.conn.Send(protocol.Encode(protocol.Pong()))
}

// Leave releases the current room. Leaving when not joined is a no-op; the
// connection stays open and may join again.
func (o *Orchestrator) Leave(ctx context.Context, s *Session, roomID string) error {
	unlock := o.lockSession(s, "")
	defer unlock()

	state, _, boundRoom := s.snapshot()
	if state != StateJoined {
		return nil
	}
	if roomID != "" && roomID != boundRoom {
		return apperror.Validation(apperror.CodeInvalidRoomID, roomID)
	}
	o.release(ctx, s, "leave")
	return nil
}

// Disconnect runs connection cleanup. It is safe to call more than once.
func (o *Orchestrator) Disconnect(ctx context.Context, s *Session, reason string) {
	o.mu.Lock()
	_, tracked := o.sessions[s.ID()]
	delete(o.sessions, s.ID())
	o.mu.Unlock()

	unlock := o.lockSession(s, "")
	defer unlock()

	userID, _, joined := o.release(ctx, s, reason)
	if joined {
		if err := o.presence.Clear(ctx, userID); err != nil {
			logger.Warn("Presence clear failed for %s: %v", userID, err)
		}
	}
	if tracked {
		logger.Debug("Connection %s closed (%s)", s.ID(), reason)
	}
}

// release unbinds a joined session and leaves its room. Callers hold the
// user lock. Errors are logged.
func (o *Orchestrator) release(ctx context.Context, s *Session, reason string) (string, string, bool) {
	userID, roomID, ok := s.unbind()
	if !ok {
		return "", "", false
	}

	if b, found := o.registry.Lookup(s.ID()); found && b.UserID == userID {
		o.registry.Unregister(s.ID())
	}
	o.leaveRoom(ctx, userID, roomID)

	logger.Info("User %s left room %s (%s)", userID, roomID, reason)
	return userID, roomID, true
}

// leaveRoom removes the user from the room store, drops the local
// subscription once no local session remains, and announces the departure.
func (o *Orchestrator) leaveRoom(ctx context.Context, userID, roomID string) {
	res, err := o.rooms.Leave(ctx, roomID, userID)
	if err != nil {
		logger.Error("Room leave failed for %s in %s: %v", userID, roomID, err)
	} else if res.LeaseArmed {
		logger.Info("Room %s is empty and scheduled for deletion", roomID)
	}

	if o.registry.RoomSize(roomID) == 0 {
		if err := o.broker.Unsubscribe(ctx, roomID); err != nil {
			logger.Warn("Unsubscribe from room %s failed: %v", roomID, err)
		}
		// A local join that registered meanwhile found the old handler and
		// skipped subscribing.
		if o.registry.RoomSize(roomID) > 0 {
			if err := o.broker.Subscribe(ctx, roomID, o); err != nil {
				logger.Warn("Resubscribe to room %s failed: %v", roomID, err)
			}
		}
	}

	if err == nil && !res.Removed {
		return
	}
	o.broadcast(ctx, roomID, protocol.UserLeft(roomID, userID), "", models.Message{
		Kind:   models.KindUserLeft,
		RoomID: roomID,
		From:   userID,
	})
}

// broadcast delivers env to local connections in the room, skipping
// excludeConn, and publishes event for other processes.
func (o *Orchestrator) broadcast(ctx context.Context, roomID string, env protocol.Outbound, excludeConn string, event models.Message) {
	event.Origin = o.nodeID
	if err := o.broker.Publish(ctx, roomID, event); err != nil {
		o.pubFails.Add(1)
		logger.Warn("Publish to room %s failed: %v", roomID, err)
	}
	o.deliverLocal(roomID, env, excludeConn, "")
}

func (o *Orchestrator) deliverLocal(roomID string, env protocol.Outbound, excludeConn, excludeUser string) int {
	frame := protocol.Encode(env)
	delivered := 0
	for _, conn := range o.registry.ConnectionsInRoom(roomID) {
		if conn.ID() == excludeConn {
			continue
		}
		if excludeUser != "" {
			if b, ok := o.registry.Lookup(conn.ID()); ok && b.UserID == excludeUser {
				continue
			}
		}
		if conn.Send(frame) {
			delivered++
		}
	}
	return delivered
}

// HandleMessage receives room traffic from the broker. Events this process
// published were already delivered locally and are skipped.
func (o *Orchestrator) HandleMessage(roomID string, msg models.Message) {
	if msg.Origin == o.nodeID {
		return
	}

	switch msg.Kind {
	case models.KindChat:
		o.deliverLocal(roomID, protocol.MessageEnvelope(msg), "", "")
	case models.KindUserJoined:
		o.deliverLocal(roomID, protocol.UserJoined(roomID, msg.From), "", msg.From)
	case models.KindUserLeft:
		o.deliverLocal(roomID, protocol.UserLeft(roomID, msg.From), "", "")
	default:
		logger.Debug("Ignoring %q event on room %s", msg.Kind, roomID)
	}
}

// SweepDeadSessions disconnects sessions whose connection has closed and
// drops registry entries no session owns.
func (o *Orchestrator) SweepDeadSessions(ctx context.Context) int {
	o.mu.Lock()
	var dead []*Session
	for _, s := range o.sessions {
		if !s.conn.IsOpen() {
			dead = append(dead, s)
		}
	}
	o.mu.Unlock()

	for _, s := range dead {
		o.Disconnect(ctx, s, "sweep")
	}

	orphans := o.registry.SweepDeadConnections()
	for _, b := range orphans {
		unlock := o.users.Lock(b.UserID)
		o.leaveRoom(ctx, b.UserID, b.RoomID)
		unlock()
	}
	return len(dead) + len(orphans)
}

func (o *Orchestrator) Stats() Stats {
	now := o.now()
	o.mu.Lock()
	open := len(o.sessions)
	stale := 0
	for _, s := range o.sessions {
		if s.stale(now, o.staleAfter) {
			stale++
		}
	}
	o.mu.Unlock()

	return Stats{
		OpenSessions:     open,
		JoinedSessions:   o.registry.Count(),
		StaleSessions:    stale,
		LocalRooms:       len(o.registry.Rooms()),
		Subscriptions:    len(o.broker.Subscriptions()),
		MessagesAccepted: o.accepted.Load(),
		MessagesRejected: o.rejected.Load(),
		Evictions:        o.evictions.Load(),
		PublishFailures:  o.pubFails.Load(),
	}
}

// sendError maps err to an error envelope with catalog text.
func (o *Orchestrator) sendError(ctx context.Context, conn websocket.Connection, err error) {
	ae := apperror.From(err)
	switch ae.Kind {
	case apperror.KindInternal:
		logger.Error("Internal error on %s: %v", conn.ID(), err)
	case apperror.KindInfrastructure:
		logger.Error("Infrastructure error on %s: %v", conn.ID(), err)
	default:
		logger.Debug("Rejected frame on %s: %v", conn.ID(), err)
	}

	conn.Send(protocol.Encode(protocol.Error(ae.Code, o.describe(ctx, ae), ae.RetryAfter)))
}

func (o *Orchestrator) describe(ctx context.Context, ae *apperror.Error) string {
	info, err := o.catalog.Lookup(ctx, string(ae.Code))
	if err != nil || info == nil {
		return string(ae.Code)
	}
	params := ae.Params
	if ae.Kind == apperror.KindInfrastructure {
		// Params name the failing operation; keep them out of client text.
		params = nil
	}
	return database.Render(info.Message, params)
}

// Shutdown disconnects every session and closes its connection.
func (o *Orchestrator) Shutdown(ctx context.Context) int {
	o.mu.Lock()
	all := make([]*Session, 0, len(o.sessions))
	for _, s := range o.sessions {
		all = append(all, s)
	}
	o.mu.Unlock()

	for _, s := range all {
		o.Disconnect(ctx, s, "shutdown")
		s.conn.Close()
	}
	return len(all)
}
