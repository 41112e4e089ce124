// Package gateway is the participant's websocket connection to the relay.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/dkeye/Meet/internal/adapters/wire"
	"github.com/dkeye/Meet/internal/domain"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var ErrClosed = errors.New("gateway closed")

type Options struct {
	PingPeriod   time.Duration
	WriteTimeout time.Duration
	ReadLimit    int64
	Header       http.Header
}

func (o Options) withDefaults() Options {
	if o.PingPeriod <= 0 {
		o.PingPeriod = 30 * time.Second
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = 5 * time.Second
	}
	if o.ReadLimit <= 0 {
		o.ReadLimit = 1 << 20
	}
	return o
}

// Client implements core.Gateway over one websocket.
type Client struct {
	conn   *websocket.Conn
	codec  wire.Codec
	opts   Options
	logger zerolog.Logger

	send     chan []byte
	incoming chan domain.SignalingMessage

	closeOnce sync.Once
	closed    chan struct{}
	done      chan struct{}
}

// Dial connects to the relay at url.
func Dial(ctx context.Context, url string, codec wire.Codec, opts Options) (*Client, error) {
	opts = opts.withDefaults()
	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, url, opts.Header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial %s: %s: %w", url, resp.Status, err)
		}
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}
	c := &Client{
		conn:     conn,
		codec:    codec,
		opts:     opts,
		logger:   log.With().Str("module", "gateway").Str("codec", codec.Name()).Logger(),
		send:     make(chan []byte, 32),
		incoming: make(chan domain.SignalingMessage, 64),
		closed:   make(chan struct{}),
		done:     make(chan struct{}),
	}
	conn.SetReadLimit(opts.ReadLimit)
	_ = conn.SetReadDeadline(time.Now().Add(2 * opts.PingPeriod))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(2 * opts.PingPeriod))
	})
	go c.writePump()
	go c.readPump()
	c.logger.Info().Str("url", url).Msg("connected to relay")
	return c, nil
}

// Send queues msg for the relay. It blocks while the write buffer is full.
func (c *Client) Send(ctx context.Context, msg domain.SignalingMessage) error {
	data, err := wire.Encode(c.codec, msg)
	if err != nil {
		return err
	}
	select {
	case <-c.closed:
		return ErrClosed
	default:
	}
	select {
	case c.send <- data:
		return nil
	case <-c.closed:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Incoming is closed when the connection ends.
func (c *Client) Incoming() <-chan domain.SignalingMessage { return c.incoming }

func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		close(c.closed)
	})
	<-c.done
	return nil
}

func (c *Client) writePump() {
	ticker := time.NewTicker(c.opts.PingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
		close(c.done)
	}()
	for {
		select {
		case <-c.closed:
			c.flush()
			_ = c.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(c.opts.WriteTimeout))
			return
		case data := <-c.send:
			if err := c.conn.SetWriteDeadline(time.Now().Add(c.opts.WriteTimeout)); err != nil {
				c.logger.Error().Err(err).Msg("writePump set deadline")
				c.shutdown()
				return
			}
			if err := c.conn.WriteMessage(c.codec.MessageType(), data); err != nil {
				c.logger.Error().Err(err).Msg("writePump write error")
				c.shutdown()
				return
			}
		case <-ticker.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.opts.WriteTimeout)); err != nil {
				c.logger.Warn().Err(err).Msg("ping failed")
				c.shutdown()
				return
			}
		}
	}
}

// flush writes the frames queued before Close so a final leave-room still
// reaches the relay.
func (c *Client) flush() {
	for {
		select {
		case data := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(c.opts.WriteTimeout))
			if err := c.conn.WriteMessage(c.codec.MessageType(), data); err != nil {
				c.logger.Warn().Err(err).Msg("flush on close")
				return
			}
		default:
			return
		}
	}
}

func (c *Client) readPump() {
	defer func() {
		close(c.incoming)
		c.shutdown()
		c.logger.Info().Msg("readPump closing")
	}()
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			select {
			case <-c.closed:
			default:
				c.logger.Warn().Err(err).Msg("readPump read error")
			}
			return
		}
		msg, err := wire.Decode(c.codec, data)
		if err != nil {
			c.logger.Warn().Err(err).Msg("dropping frame")
			continue
		}
		select {
		case c.incoming <- msg:
		case <-c.closed:
			return
		}
	}
}

func (c *Client) shutdown() {
	c.closeOnce.Do(func() { close(c.closed) })
}
