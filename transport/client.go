package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/phroun/cellrope"
)

// ErrClientClosed is returned by Submit after Close or a lost connection.
var ErrClientClosed = errors.New("transport: client closed")

// ClientOptions configures Dial.
type ClientOptions struct {
	// Logger defaults to slog.Default().
	Logger *slog.Logger

	// Dialer defaults to websocket.DefaultDialer.
	Dialer *websocket.Dialer

	// Header is sent with the upgrade request.
	Header http.Header
}

// Client connects one matrix to a relay. It submits the matrix's local ops
// and applies the ops other replicas publish.
type Client struct {
	conn      *websocket.Conn
	matrix    *cellrope.Matrix
	logger    *slog.Logger
	sessionID string

	writeMu sync.Mutex
	done    chan struct{}

	mu     sync.Mutex
	closed bool
	err    error
}

var _ cellrope.Submitter = (*Client)(nil)

// Dial connects m to the relay at url and waits for the session greeting.
func Dial(ctx context.Context, url string, m *cellrope.Matrix, opts ClientOptions) (*Client, error) {
	dialer := opts.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	conn, _, err := dialer.DialContext(ctx, url, opts.Header)
	if err != nil {
		return nil, fmt.Errorf("dial relay %s: %w", url, err)
	}

	if deadline, ok := ctx.Deadline(); ok {
		conn.SetReadDeadline(deadline)
	}
	var hello Message
	if err := conn.ReadJSON(&hello); err != nil {
		conn.Close()
		return nil, fmt.Errorf("read session greeting: %w", err)
	}
	if hello.Action != ActionSessionCreated {
		conn.Close()
		return nil, fmt.Errorf("unexpected greeting %q: %s", hello.Action, hello.Error)
	}
	conn.SetReadDeadline(time.Time{})

	c := &Client{
		conn:      conn,
		matrix:    m,
		logger:    logger.With("matrix", m.ID(), "session", hello.SessionID),
		sessionID: hello.SessionID,
		done:      make(chan struct{}),
	}
	go c.receive()
	c.logger.Info("connected to relay", "url", url)
	return c, nil
}

// Submitters returns a cellrope.SubmitterFactory dialing the relay at base
// for each attached matrix. Each connection asks for the journal entries after
// the matrix's journal position.
func Submitters(ctx context.Context, base string, opts ClientOptions) cellrope.SubmitterFactory {
	return func(m *cellrope.Matrix) (cellrope.Submitter, error) {
		return Dial(ctx, MatrixURL(base, m.ID(), m.JournalPos()), m, opts)
	}
}

// SessionID returns the id the relay assigned to this connection.
func (c *Client) SessionID() string {
	return c.sessionID
}

// Submit sends op to the relay.
func (c *Client) Submit(op cellrope.Op) error {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return ErrClientClosed
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := c.conn.WriteJSON(Message{Action: ActionOp, Op: &op}); err != nil {
		return fmt.Errorf("send %s: %w", op, err)
	}
	return nil
}

// Done is closed when the receive loop stops.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// Err returns the error that ended the receive loop, or nil after Close.
func (c *Client) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// Close sends a close frame, closes the connection and waits for the receive
// loop to finish.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		<-c.done
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(writeWait))
	err := c.conn.Close()
	<-c.done
	return err
}

func (c *Client) receive() {
	defer close(c.done)
	for {
		var msg Message
		if err := c.conn.ReadJSON(&msg); err != nil {
			c.mu.Lock()
			if !c.closed {
				c.closed = true
				c.err = err
				c.logger.Warn("relay connection lost", "error", err)
			}
			c.mu.Unlock()
			return
		}

		switch msg.Action {
		case ActionOp:
			if msg.Op == nil {
				continue
			}
			e := cellrope.JournalEntry{Pos: msg.Pos, Op: *msg.Op}
			if err := c.matrix.ApplyJournaled(e); err != nil {
				c.logger.Warn("remote op rejected", "op", msg.Op.String(), "error", err)
			}
		case ActionAck:
			c.matrix.ObserveJournalPos(msg.Pos)
		case ActionError:
			c.logger.Warn("relay error", "error", msg.Error)
		default:
			c.logger.Debug("ignoring relay message", "action", msg.Action)
		}
	}
}
