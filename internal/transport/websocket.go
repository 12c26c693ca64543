// Package transport carries encoded commands and raw inbound frames over a
// websocket to the Rhodes server.
package transport

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ent0n29/rhodes-client/internal/protocol"
)

// ErrClosed is returned by Next and Send once the channel has gone away.
var ErrClosed = errors.New("transport: channel closed")

// Channel is one open duplex connection.
type Channel interface {
	Send(cmd protocol.Command) error
	Next(ctx context.Context) ([]byte, error)
	Close() error
}

// Dialer opens channels. Dial returns once the channel is open.
type Dialer interface {
	Dial(ctx context.Context, url string) (Channel, error)
}

// WSDialer dials gorilla websockets.
type WSDialer struct {
	dialer       websocket.Dialer
	writeTimeout time.Duration
	header       http.Header
}

// NewWSDialer returns a dialer with the given per-frame write deadline.
func NewWSDialer(writeTimeout time.Duration, userAgent string) *WSDialer {
	header := http.Header{}
	if userAgent != "" {
		header.Set("User-Agent", userAgent)
	}
	return &WSDialer{
		dialer: websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: 10 * time.Second,
		},
		writeTimeout: writeTimeout,
		header:       header,
	}
}

func (d *WSDialer) Dial(ctx context.Context, url string) (Channel, error) {
	conn, resp, err := d.dialer.DialContext(ctx, url, d.header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("rhodes dial failed (%s): %w", resp.Status, err)
		}
		return nil, fmt.Errorf("rhodes dial failed: %w", err)
	}
	return newWSChannel(conn, d.writeTimeout), nil
}

type wsChannel struct {
	conn         *websocket.Conn
	writeTimeout time.Duration

	msgs chan []byte
	errs chan error
	done chan struct{}

	writeMu   sync.Mutex
	closeOnce sync.Once
}

func newWSChannel(conn *websocket.Conn, writeTimeout time.Duration) *wsChannel {
	ch := &wsChannel{
		conn:         conn,
		writeTimeout: writeTimeout,
		msgs:         make(chan []byte, 256),
		errs:         make(chan error, 1),
		done:         make(chan struct{}),
	}
	go ch.readLoop()
	return ch
}

func (ch *wsChannel) readLoop() {
	defer close(ch.msgs)
	for {
		_, data, err := ch.conn.ReadMessage()
		if err != nil {
			ch.errs <- err
			return
		}
		select {
		case ch.msgs <- data:
		case <-ch.done:
			return
		}
	}
}

func (ch *wsChannel) Next(ctx context.Context) ([]byte, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case err := <-ch.errs:
		if err == nil {
			return nil, ErrClosed
		}
		return nil, err
	case data, ok := <-ch.msgs:
		if !ok {
			select {
			case err := <-ch.errs:
				if err != nil {
					return nil, err
				}
			default:
			}
			return nil, ErrClosed
		}
		return data, nil
	}
}

func (ch *wsChannel) Send(cmd protocol.Command) error {
	select {
	case <-ch.done:
		return ErrClosed
	default:
	}
	raw, err := cmd.Encode()
	if err != nil {
		return fmt.Errorf("encode %s: %w", cmd.Type, err)
	}

	ch.writeMu.Lock()
	defer ch.writeMu.Unlock()
	if ch.writeTimeout > 0 {
		_ = ch.conn.SetWriteDeadline(time.Now().Add(ch.writeTimeout))
		defer ch.conn.SetWriteDeadline(time.Time{})
	}
	return ch.conn.WriteMessage(websocket.TextMessage, raw)
}

func (ch *wsChannel) Close() error {
	var err error
	ch.closeOnce.Do(func() {
		close(ch.done)
		ch.writeMu.Lock()
		_ = ch.conn.SetWriteDeadline(time.Now().Add(time.Second))
		_ = ch.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		ch.writeMu.Unlock()
		err = ch.conn.Close()
	})
	return err
}
