package gateway

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/shanks/boardgame-server/internal/account"
	"github.com/shanks/boardgame-server/internal/boardimg"
	"github.com/shanks/boardgame-server/internal/broadcast"
	"github.com/shanks/boardgame-server/internal/metrics"
	"github.com/shanks/boardgame-server/internal/msgcat"
	"github.com/shanks/boardgame-server/internal/obslog"
	"github.com/shanks/boardgame-server/internal/presence"
	"github.com/shanks/boardgame-server/internal/session"
)

const (
	subscriptionBuffer = 32
	writeTimeout       = 5 * time.Second
)

// Gateway is the websocket surface: one connection per player, envelopes
// in, typed frames out. Session and state changes reach clients through
// the broadcast router; direct replies go straight to the requesting
// connection.
type Gateway struct {
	directory *session.Directory
	states    *session.StateStore
	presence  *presence.Registry
	router    *broadcast.Router
	accounts  account.Store
	renderer  boardimg.Renderer
	catalog   *msgcat.Catalog
	recorder  metrics.Recorder

	moveLimit rate.Limit
	moveBurst int

	limMu    sync.Mutex
	limiters map[string]*rate.Limiter
}

type Options struct {
	Directory *session.Directory
	States    *session.StateStore
	Presence  *presence.Registry
	Router    *broadcast.Router
	Accounts  account.Store
	Renderer  boardimg.Renderer
	Catalog   *msgcat.Catalog
	Recorder  metrics.Recorder

	MoveRatePerMin int
	MoveBurst      int
}

func New(opts Options) *Gateway {
	perMin := opts.MoveRatePerMin
	if perMin <= 0 {
		perMin = 60
	}
	burst := opts.MoveBurst
	if burst <= 0 {
		burst = 10
	}
	rec := opts.Recorder
	if rec == nil {
		rec = metrics.Nop{}
	}
	return &Gateway{
		directory: opts.Directory,
		states:    opts.States,
		presence:  opts.Presence,
		router:    opts.Router,
		accounts:  opts.Accounts,
		renderer:  opts.Renderer,
		catalog:   opts.Catalog,
		recorder:  rec,
		moveLimit: rate.Limit(float64(perMin) / 60.0),
		moveBurst: burst,
		limiters:  make(map[string]*rate.Limiter),
	}
}

// Routes mounts the websocket endpoint and the health probe.
func (g *Gateway) Routes(r chi.Router) {
	r.Get("/ws", g.handleWS)
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
}

func (g *Gateway) limiterFor(userID string) *rate.Limiter {
	g.limMu.Lock()
	defer g.limMu.Unlock()
	lim, ok := g.limiters[userID]
	if !ok {
		lim = rate.NewLimiter(g.moveLimit, g.moveBurst)
		g.limiters[userID] = lim
	}
	return lim
}

func (g *Gateway) handleWS(w http.ResponseWriter, r *http.Request) {
	userID := strings.TrimSpace(r.URL.Query().Get("user"))
	if userID == "" {
		http.Error(w, "missing user query parameter", http.StatusBadRequest)
		return
	}
	if _, err := g.accounts.GetByID(r.Context(), userID); err != nil {
		http.Error(w, "unknown user", http.StatusUnauthorized)
		return
	}

	sock, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		CompressionMode: websocket.CompressionNoContextTakeover,
	})
	if err != nil {
		obslog.L().Warn("ws_accept_fail", zap.Error(err))
		return
	}

	c := &conn{
		sock:   sock,
		userID: userID,
		out:    make(chan Frame, 64),
		subs:   make(map[string]*broadcast.Subscription),
		closed: make(chan struct{}),
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	c.wg.Add(1)
	go c.writeLoop(ctx)

	g.connOpened(c)
	obslog.L().Info("ws_connect", zap.String("user_id", userID))

	g.readLoop(ctx, c)

	c.shutdown()
	g.connClosed(c)
	c.wg.Wait()
	_ = sock.Close(websocket.StatusNormalClosure, "bye")
	obslog.L().Info("ws_disconnect", zap.String("user_id", userID))
}

// connOpened registers presence and pushes the post-connect snapshots.
func (g *Gateway) connOpened(c *conn) {
	snap := g.presence.MarkOnline(c.userID)
	g.recorder.SetOnlineUsers(len(snap))
	g.publish(broadcast.TopicPresence, snap)
	g.publish(broadcast.TopicFriendStatus, friendStatusEvent{UserID: c.userID, Online: true})

	g.subscribe(c, broadcast.TopicPresence)
	g.subscribe(c, broadcast.TopicFriendStatus)

	// Those publishes predate the subscriptions; hand the connecting
	// client the snapshot it just missed.
	c.trySend(Frame{Type: FramePresence, Topic: broadcast.TopicPresence, Data: snap})
}

func (g *Gateway) connClosed(c *conn) {
	snap := g.presence.MarkOffline(c.userID)
	g.recorder.SetOnlineUsers(len(snap))
	g.publish(broadcast.TopicPresence, snap)
	if !g.presence.Online(c.userID) {
		g.publish(broadcast.TopicFriendStatus, friendStatusEvent{UserID: c.userID, Online: false})
		g.dropLimiter(c.userID)
	}
}

// dropLimiter forgets the rate state of a user whose last connection
// closed, keeping the limiter map bounded by the connected population.
func (g *Gateway) dropLimiter(userID string) {
	g.limMu.Lock()
	delete(g.limiters, userID)
	g.limMu.Unlock()
}

func (g *Gateway) publish(topic string, msg any) {
	delivered := g.router.Publish(topic, msg)
	g.recorder.RecordBroadcast(topic, delivered)
}

func (g *Gateway) readLoop(ctx context.Context, c *conn) {
	for {
		var env Envelope
		if err := wsjson.Read(ctx, c.sock, &env); err != nil {
			return
		}
		g.dispatch(ctx, c, &env)
	}
}

func (g *Gateway) dispatch(ctx context.Context, c *conn, env *Envelope) {
	var err error
	switch env.Type {
	case TypeMatch:
		err = g.handleMatch(ctx, c)
	case TypeJoin:
		err = g.handleJoin(ctx, c, env)
	case TypeMove:
		err = g.handleMove(ctx, c, env)
	case TypeEnd:
		err = g.handleEnd(ctx, c, env)
	case TypeState:
		err = g.handleState(ctx, c, env)
	case TypeBoard:
		err = g.handleBoard(ctx, c, env)
	case TypeChat:
		err = g.handleChat(ctx, c, env)
	default:
		err = session.ErrMalformedPayload
	}
	if err != nil {
		obslog.L().Warn("ws_request_fail",
			zap.String("user_id", c.userID),
			zap.String("type", env.Type),
			zap.Error(err),
		)
		c.trySend(errorFrame(g.catalog, err, env.SessionID))
	}
}

func (g *Gateway) handleMatch(ctx context.Context, c *conn) error {
	sess, err := g.directory.RequestSession(ctx, c.userID)
	if err != nil {
		return err
	}
	if sess.Status == session.StatusWaiting {
		g.recorder.RecordSessionCreated()
	} else {
		g.recorder.RecordSessionClaimed()
	}
	g.subscribe(c, broadcast.SessionTopic(sess.ID))
	if sess.Status == session.StatusInProgress {
		// The waiting creator is listening on the session topic.
		g.publish(broadcast.SessionTopic(sess.ID), sess)
	}
	c.trySend(Frame{Type: FrameSession, Data: sess})
	return nil
}

func (g *Gateway) handleJoin(ctx context.Context, c *conn, env *Envelope) error {
	var d joinData
	if err := json.Unmarshal(env.Data, &d); err != nil {
		return session.ErrMalformedPayload
	}
	sess, err := g.directory.PlayerJoin(ctx, env.SessionID, d.Username)
	if err != nil {
		return err
	}
	g.subscribe(c, broadcast.SessionTopic(sess.ID))
	g.publish(broadcast.SessionTopic(sess.ID), sess)
	c.trySend(Frame{Type: FrameSession, Data: sess})
	return nil
}

func (g *Gateway) handleMove(ctx context.Context, c *conn, env *Envelope) error {
	if !g.limiterFor(c.userID).Allow() {
		return errRateLimited
	}
	p, err := session.ParseMovePayload(env.Data)
	if err != nil {
		return err
	}
	// Subscribe only once the session is known to exist, and before the
	// commit so the mover sees its own published state.
	if _, err := g.directory.Get(ctx, env.SessionID); err != nil {
		return err
	}
	g.subscribe(c, broadcast.SessionTopic(env.SessionID))
	if _, err := g.states.ProcessMove(ctx, env.SessionID, p.PlayerID, p.Board, p.Turn); err != nil {
		if errors.Is(err, session.ErrTurnViolation) {
			g.recorder.RecordTurnViolation()
		}
		return err
	}
	g.recorder.RecordMoveCommitted()
	return nil
}

func (g *Gateway) handleEnd(ctx context.Context, c *conn, env *Envelope) error {
	var d endData
	if err := json.Unmarshal(env.Data, &d); err != nil {
		return session.ErrMalformedPayload
	}
	if _, err := g.states.Finalize(ctx, env.SessionID, d.WinnerID); err != nil {
		return err
	}
	g.recorder.RecordFinalize()
	return nil
}

func (g *Gateway) handleState(ctx context.Context, c *conn, env *Envelope) error {
	st, err := g.states.EnsureState(ctx, env.SessionID)
	if err != nil {
		return err
	}
	g.subscribe(c, broadcast.SessionTopic(env.SessionID))
	c.trySend(Frame{Type: FrameState, Data: st})
	return nil
}

func (g *Gateway) handleBoard(ctx context.Context, c *conn, env *Envelope) error {
	st, err := g.states.EnsureState(ctx, env.SessionID)
	if err != nil {
		return err
	}
	png, err := g.renderer.RenderPNG(ctx, st.Payload)
	if err != nil {
		return err
	}
	c.trySend(Frame{Type: FrameBoard, Data: boardSnapshot{
		SessionID: st.SessionID,
		PNGBase64: base64.StdEncoding.EncodeToString(png),
	}})
	return nil
}

// handleChat relays chat lines to the session topic. Chat is ephemeral:
// delivery shares the router's at-most-once behavior and nothing is stored.
func (g *Gateway) handleChat(ctx context.Context, c *conn, env *Envelope) error {
	var d chatData
	if err := json.Unmarshal(env.Data, &d); err != nil {
		return session.ErrMalformedPayload
	}
	text := strings.TrimSpace(d.Text)
	if text == "" {
		return session.ErrMalformedPayload
	}
	if _, err := g.directory.Get(ctx, env.SessionID); err != nil {
		return err
	}
	g.subscribe(c, broadcast.SessionTopic(env.SessionID))
	g.publish(broadcast.SessionTopic(env.SessionID), chatEvent{
		SessionID: env.SessionID,
		SenderID:  c.userID,
		Text:      text,
	})
	return nil
}

// subscribe attaches the connection to topic once and starts the pump that
// forwards broadcast messages to the socket.
func (g *Gateway) subscribe(c *conn, topic string) {
	c.subsMu.Lock()
	if _, ok := c.subs[topic]; ok {
		c.subsMu.Unlock()
		return
	}
	sub := g.router.Subscribe(topic, subscriptionBuffer)
	c.subs[topic] = sub
	c.subsMu.Unlock()

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		for msg := range sub.C() {
			f, ok := frameFor(topic, msg)
			if !ok {
				continue
			}
			if !c.trySend(f) {
				obslog.L().Warn("ws_send_drop",
					zap.String("user_id", c.userID),
					zap.String("topic", topic),
				)
			}
		}
	}()
}

// frameFor types a routed message for the wire.
func frameFor(topic string, msg any) (Frame, bool) {
	switch v := msg.(type) {
	case *session.Session:
		return Frame{Type: FrameSession, Topic: topic, Data: v}, true
	case *session.TurnState:
		return Frame{Type: FrameState, Topic: topic, Data: v}, true
	case []string:
		return Frame{Type: FramePresence, Topic: topic, Data: v}, true
	case friendStatusEvent:
		return Frame{Type: FrameFriendStatus, Topic: topic, Data: v}, true
	case chatEvent:
		return Frame{Type: FrameChat, Topic: topic, Data: v}, true
	default:
		return Frame{}, false
	}
}

// conn is one websocket connection and its fan-out plumbing.
type conn struct {
	sock   *websocket.Conn
	userID string

	out    chan Frame
	closed chan struct{}
	once   sync.Once

	subsMu sync.Mutex
	subs   map[string]*broadcast.Subscription

	wg sync.WaitGroup
}

// trySend queues a frame without blocking. A full outbound queue drops the
// frame; the caller decides whether that is worth a log line.
func (c *conn) trySend(f Frame) bool {
	select {
	case <-c.closed:
		return false
	default:
	}
	select {
	case c.out <- f:
		return true
	default:
		return false
	}
}

func (c *conn) writeLoop(ctx context.Context) {
	defer c.wg.Done()
	for {
		select {
		case <-c.closed:
			return
		case f := <-c.out:
			wctx, cancel := context.WithTimeout(ctx, writeTimeout)
			err := wsjson.Write(wctx, c.sock, f)
			cancel()
			if err != nil {
				return
			}
		}
	}
}

// shutdown cancels every subscription and unblocks the pumps and writer.
func (c *conn) shutdown() {
	c.once.Do(func() {
		c.subsMu.Lock()
		subs := make([]*broadcast.Subscription, 0, len(c.subs))
		for _, s := range c.subs {
			subs = append(subs, s)
		}
		c.subs = make(map[string]*broadcast.Subscription)
		c.subsMu.Unlock()
		for _, s := range subs {
			s.Cancel()
		}
		close(c.closed)
	})
}
