package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/danmuck/edgemsg/internal/edgedata"
	"github.com/danmuck/edgemsg/internal/event"
	"github.com/danmuck/edgemsg/internal/logging"
	"github.com/danmuck/edgemsg/internal/memory"
	"github.com/danmuck/edgemsg/internal/protocol/frame"
	"github.com/danmuck/edgemsg/internal/protocol/wire"
	"github.com/rs/zerolog"
)

var ErrClosed = errors.New("session: connection closed")

// Conn exchanges edge data frames with one peer.
type Conn struct {
	conn   net.Conn
	cfg    Config
	limits frame.Limits
	cb     event.Callback
	log    zerolog.Logger

	nextID  atomic.Uint64
	writeMu sync.Mutex
	closed  atomic.Bool
	ended   sync.Once
}

// New attaches to an established stream and reports ConnectionCompleted to
// cb with the peer address as payload.
func New(c net.Conn, cfg Config, limits frame.Limits, cb event.Callback) *Conn {
	peer := c.RemoteAddr().String()
	conn := &Conn{
		conn:   c,
		cfg:    cfg,
		limits: limits,
		cb:     cb,
		log:    logging.For("session").With().Str("peer", peer).Logger(),
	}
	conn.log.Debug().Msg("connection established")
	if err := event.Invoke(cb, event.ConnectionCompleted, memory.Borrowed([]byte(peer))); err != nil {
		conn.log.Warn().Err(err).Msg("connection completed callback failed")
	}
	return conn
}

// Dial connects to addr, retrying with backoff up to cfg.DialAttempts
// times or until ctx is done.
func Dial(ctx context.Context, addr string, cfg Config, limits frame.Limits, cb event.Callback) (*Conn, error) {
	log := logging.For("session")
	attempts := max(cfg.DialAttempts, 1)
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	dialer := net.Dialer{Timeout: cfg.ConnectTimeout}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		c, err := dialer.DialContext(ctx, "tcp", addr)
		if err == nil {
			return New(c, cfg, limits, cb), nil
		}
		lastErr = err
		if attempt == attempts {
			break
		}
		delay := NextBackoffDelay(cfg.Backoff, attempt, rng)
		log.Debug().Str("addr", addr).Int("attempt", attempt).Dur("retry_in", delay).Err(err).Msg("dial failed")
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
	}
	log.Error().Str("addr", addr).Int("attempts", attempts).Err(lastErr).Msg("failed to connect")
	return nil, fmt.Errorf("session: dial %s: %w", addr, lastErr)
}

// SendData writes d as one data frame and returns its message id.
func (c *Conn) SendData(d *edgedata.Data) (uint64, error) {
	id := c.nextID.Add(1)
	f, err := wire.BuildDataFrame(id, d)
	if err != nil {
		return 0, err
	}
	return id, c.write(f)
}

// SendCapability announces a capability descriptor to the peer.
func (c *Conn) SendCapability(caps string) error {
	f, err := wire.BuildCapabilityFrame(c.nextID.Add(1), caps)
	if err != nil {
		return err
	}
	return c.write(f)
}

func (c *Conn) write(f frame.Frame) error {
	if c.closed.Load() {
		return ErrClosed
	}
	if c.cfg.AuthToken != "" {
		f.Auth = []byte(c.cfg.AuthToken)
	}
	b, err := wire.Marshal(f, c.limits)
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if c.cfg.WriteTimeout > 0 {
		_ = c.conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
	}
	if _, err := c.conn.Write(b); err != nil {
		c.log.Error().Err(err).Msg("failed to write frame")
		return err
	}
	return nil
}

// Serve reads frames until the stream ends, ctx is done or a frame cannot
// be read, dispatching each to the callback. Frames failing auth
// validation are dropped. Callback and decode errors are logged and do not
// stop the loop. ConnectionClosed is reported once on return, and a clean
// end of stream returns nil.
func (c *Conn) Serve(ctx context.Context) error {
	stop := context.AfterFunc(ctx, func() { _ = c.Close() })
	defer stop()
	defer c.end()

	for {
		f, err := frame.ReadFrame(c.conn, c.limits)
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) || c.closed.Load() {
				return nil
			}
			c.log.Error().Err(err).Msg("failed to read frame")
			_ = c.Close()
			return err
		}
		if c.cfg.Validator != nil {
			if err := c.cfg.Validator.Validate(f.Auth); err != nil {
				c.log.Warn().Uint64("message_id", f.Header.MessageID).Err(err).Msg("dropping unauthorized frame")
				continue
			}
		}
		if err := wire.Dispatch(f, c.cb); err != nil {
			c.log.Warn().Uint64("message_id", f.Header.MessageID).Err(err).Msg("frame dispatch failed")
		}
	}
}

func (c *Conn) end() {
	c.ended.Do(func() {
		c.log.Debug().Msg("connection closed")
		if err := event.Invoke(c.cb, event.ConnectionClosed, memory.Buffer{}); err != nil {
			c.log.Warn().Err(err).Msg("connection closed callback failed")
		}
	})
}

// Close shuts the stream. It is safe to call more than once.
func (c *Conn) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	return c.conn.Close()
}

func (c *Conn) RemoteAddr() net.Addr {
	return c.conn.RemoteAddr()
}
