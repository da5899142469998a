// Package client talks to the gateway's WebSocket channel.
package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"sync"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"

	"github.com/JakeFAU/anttp-gateway/internal/frame"
)

// RemoteError is an error reply sent by the gateway as a text message.
type RemoteError struct {
	Text string
}

func (e *RemoteError) Error() string {
	return e.Text
}

// Result is a decoded success frame.
type Result struct {
	Meta    frame.Metadata
	Payload []byte
}

// ErrClosed is returned by Get once the connection is closed or has failed.
var ErrClosed = errors.New("client connection closed")

// Client holds one channel connection. Get calls are serialized because the
// protocol has no request ids; replies are matched to requests by order.
// A Get that fails on the connection, including by ctx, closes the Client: a
// late reply would otherwise be read as the answer to the next address.
type Client struct {
	conn net.Conn
	rw   io.ReadWriter

	mu     sync.Mutex
	closed error
}

// Dial opens a channel connection to url (ws:// or wss://).
func Dial(ctx context.Context, url string) (*Client, error) {
	conn, br, _, err := ws.Dial(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}
	var r io.Reader = conn
	if br != nil && br.Buffered() > 0 {
		r = io.MultiReader(io.LimitReader(br, int64(br.Buffered())), conn)
	}
	return &Client{
		conn: conn,
		rw: struct {
			io.Reader
			io.Writer
		}{r, conn},
	}, nil
}

// Get submits address and waits for its reply. A gateway error reply is
// returned as *RemoteError.
func (c *Client) Get(ctx context.Context, address string) (Result, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed != nil {
		return Result{}, c.closed
	}

	deadline, _ := ctx.Deadline()
	if err := c.conn.SetDeadline(deadline); err != nil {
		return Result{}, fmt.Errorf("set deadline: %w", err)
	}

	stop := context.AfterFunc(ctx, func() {
		_ = c.conn.SetDeadline(time.Now())
	})
	defer stop()

	if err := wsutil.WriteClientText(c.conn, []byte(address)); err != nil {
		return Result{}, c.fail(c.wrap(ctx, "send address", err))
	}
	for {
		data, op, err := wsutil.ReadServerData(c.rw)
		if err != nil {
			return Result{}, c.fail(c.wrap(ctx, "read reply", err))
		}
		switch op {
		case ws.OpBinary:
			meta, payload, err := frame.Decode(data)
			if err != nil {
				return Result{}, c.fail(fmt.Errorf("decode frame: %w", err))
			}
			return Result{Meta: meta, Payload: payload}, nil
		case ws.OpText:
			return Result{}, &RemoteError{Text: string(data)}
		}
	}
}

// Close sends a normal close frame and closes the connection.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed != nil {
		return nil
	}
	c.closed = ErrClosed
	body := ws.NewCloseFrameBody(ws.StatusNormalClosure, "")
	_ = wsutil.WriteClientMessage(c.conn, ws.OpClose, body)
	if err := c.conn.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
		return fmt.Errorf("close: %w", err)
	}
	return nil
}

// fail closes the connection after err. Callers hold mu.
func (c *Client) fail(err error) error {
	c.closed = fmt.Errorf("%w: %w", ErrClosed, err)
	_ = c.conn.Close()
	return err
}

func (c *Client) wrap(ctx context.Context, op string, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return fmt.Errorf("%s: %w", op, ctxErr)
	}
	// the conn deadline mirrors ctx and may fire before ctx observes it
	if _, ok := ctx.Deadline(); ok && errors.Is(err, os.ErrDeadlineExceeded) {
		return fmt.Errorf("%s: %w", op, context.DeadlineExceeded)
	}
	return fmt.Errorf("%s: %w", op, err)
}
