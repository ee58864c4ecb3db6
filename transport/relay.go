package transport

import (
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/phroun/cellrope"
)

const (
	writeWait         = 10 * time.Second
	defaultSendBuffer = 256
)

// RelayOptions configures a Relay.
type RelayOptions struct {
	// Log journals every relayed op under its matrix id. Optional; without it
	// the since parameter replays nothing.
	Log cellrope.OpLog

	// Logger defaults to slog.Default().
	Logger *slog.Logger

	// SendBuffer is the per-connection queue length. A peer whose queue is
	// full is disconnected.
	SendBuffer int
}

// Relay is an http server that rebroadcasts ops between the connections of
// each matrix id in arrival order.
type Relay struct {
	log      cellrope.OpLog
	logger   *slog.Logger
	buffer   int
	upgrader websocket.Upgrader

	mu    sync.Mutex
	rooms map[string]map[*peer]struct{}
}

type peer struct {
	session string
	conn    *websocket.Conn
	send    chan Message
	done    chan struct{}
}

// NewRelay creates a relay.
func NewRelay(opts RelayOptions) *Relay {
	r := &Relay{
		log:    opts.Log,
		logger: opts.Logger,
		buffer: opts.SendBuffer,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
		rooms: make(map[string]map[*peer]struct{}),
	}
	if r.logger == nil {
		r.logger = slog.Default()
	}
	if r.buffer <= 0 {
		r.buffer = defaultSendBuffer
	}
	return r
}

// Handler returns a mux serving MatrixPath.
func (r *Relay) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET "+MatrixPath, r.ServeMatrix)
	return mux
}

// Peers returns the number of open connections on id.
func (r *Relay) Peers(id string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.rooms[id])
}

// Close disconnects every peer.
func (r *Relay) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, room := range r.rooms {
		for p := range room {
			p.conn.Close()
		}
	}
}

// ServeMatrix upgrades the request and relays ops for the matrix named by the
// id path value.
func (r *Relay) ServeMatrix(w http.ResponseWriter, req *http.Request) {
	id := req.PathValue("id")
	if id == "" {
		http.Error(w, "matrix id is required", http.StatusBadRequest)
		return
	}
	since := int64(-1)
	if raw := req.URL.Query().Get("since"); raw != "" {
		v, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || v < 0 {
			http.Error(w, "invalid since", http.StatusBadRequest)
			return
		}
		since = v
	}

	ws, err := r.upgrader.Upgrade(w, req, nil)
	if err != nil {
		r.logger.Error("failed to upgrade the websocket", "error", err)
		return
	}

	p := &peer{
		session: uuid.NewString(),
		conn:    ws,
		done:    make(chan struct{}),
	}
	logger := r.logger.With("matrix", id, "session", p.session)

	err = r.join(req, id, p, since)
	go p.writeLoop(r.logger)
	if err != nil {
		logger.Warn("journal replay failed", "error", err)
		p.send <- Message{Action: ActionError, Error: err.Error()}
		close(p.send)
		<-p.done
		return
	}
	relayPeers.Inc()
	logger.Info("relay peer connected")

	for {
		var msg Message
		if err := ws.ReadJSON(&msg); err != nil {
			logger.Info("relay peer disconnected", "error", err.Error())
			break
		}
		if msg.Action != ActionOp || msg.Op == nil {
			r.reply(p, "unexpected action "+strconv.Quote(msg.Action))
			continue
		}
		r.publish(req, id, p, *msg.Op)
	}

	r.leave(id, p)
	relayPeers.Dec()
	close(p.send)
	<-p.done
}

// join queues the greeting and the journal entries after since for p, then
// adds p to the room. The queue is sized to hold the whole replay on top of
// the usual buffer, so nothing here blocks on the peer. Holding the relay
// lock keeps ops published meanwhile from being lost or reordered.
func (r *Relay) join(req *http.Request, id string, p *peer, since int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var (
		replay []cellrope.JournalEntry
		err    error
	)
	if since >= 0 && r.log != nil {
		replay, err = r.log.OpsSince(req.Context(), id, since)
	}
	p.send = make(chan Message, r.buffer+len(replay)+1)
	if err != nil {
		return err
	}

	p.send <- Message{Action: ActionSessionCreated, SessionID: p.session}
	for i := range replay {
		p.send <- Message{Action: ActionOp, Op: &replay[i].Op, Pos: replay[i].Pos}
	}

	room := r.rooms[id]
	if room == nil {
		room = make(map[*peer]struct{})
		r.rooms[id] = room
	}
	room[p] = struct{}{}
	return nil
}

func (r *Relay) leave(id string, p *peer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.rooms[id], p)
	if len(r.rooms[id]) == 0 {
		delete(r.rooms, id)
	}
}

// publish journals op, acknowledges its position to the sender and forwards
// it to every other peer on id.
func (r *Relay) publish(req *http.Request, id string, from *peer, op cellrope.Op) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var pos int64
	if r.log != nil {
		var err error
		pos, err = r.log.AppendOp(req.Context(), id, op)
		if err != nil {
			relayOps.WithLabelValues("journal_error").Inc()
			r.logger.Warn("journal append failed", "matrix", id, "op", op.String(), "error", err)
			r.replyLocked(from, err.Error())
			return
		}
		// A lost ack only leaves the sender's journal position behind.
		select {
		case from.send <- Message{Action: ActionAck, Pos: pos}:
		default:
		}
	}
	relayOps.WithLabelValues("relayed").Inc()

	for p := range r.rooms[id] {
		if p == from {
			continue
		}
		select {
		case p.send <- Message{Action: ActionOp, Op: &op, Pos: pos}:
		default:
			relayDropped.Inc()
			r.logger.Warn("dropping slow relay peer", "matrix", id, "session", p.session)
			delete(r.rooms[id], p)
			p.conn.Close()
		}
	}
}

func (r *Relay) reply(p *peer, text string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.replyLocked(p, text)
}

func (r *Relay) replyLocked(p *peer, text string) {
	select {
	case p.send <- Message{Action: ActionError, Error: text}:
	default:
	}
}

// writeLoop is the only writer on p.conn. After a write error it keeps
// draining until send is closed.
func (p *peer) writeLoop(logger *slog.Logger) {
	defer close(p.done)
	defer p.conn.Close()

	failed := false
	for msg := range p.send {
		if failed {
			continue
		}
		p.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := p.conn.WriteJSON(msg); err != nil {
			logger.Warn("Failed to write WebSocket JSON", "session", p.session, "error", err)
			p.conn.Close()
			failed = true
		}
	}
	p.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(writeWait))
}
