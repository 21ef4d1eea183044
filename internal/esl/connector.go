// Package esl implements a minimal FreeSWITCH Event Socket Layer client.
// It authenticates, subscribes to all events in plain format, and hands
// parsed header/body records to a caller-provided handler. The connection
// is re-established with backoff after any failure.
package esl

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/OrbitaAI/call-orchestrator/pkg/logger"
)

// DefaultReconnectWait is the pause between connection attempts.
const DefaultReconnectWait = 2 * time.Second

// commandQueueSize bounds pending fire-and-forget API commands.
const commandQueueSize = 64

// Event is one parsed record from the event socket.
type Event struct {
	Headers map[string]string
	Body    string
}

// Handler receives parsed events. It is invoked from the connector's read
// goroutine, so it must hand work off rather than block.
type Handler func(evt Event)

// Config holds connection parameters for the switch's event socket.
type Config struct {
	Host          string
	Port          int
	Password      string
	ReconnectWait time.Duration
}

// Connector maintains the event socket session. Events flow to the handler;
// API commands flow back through SendAPI on a dedicated sender goroutine.
type Connector struct {
	cfg     Config
	handler Handler
	cmds    chan string

	mu      sync.Mutex
	started bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewConnector creates a connector for the given switch. Events are passed
// to handler as they arrive.
func NewConnector(cfg Config, handler Handler) *Connector {
	if cfg.ReconnectWait <= 0 {
		cfg.ReconnectWait = DefaultReconnectWait
	}
	return &Connector{
		cfg:     cfg,
		handler: handler,
		cmds:    make(chan string, commandQueueSize),
	}
}

// Start launches the connection loop. Calling Start on a running connector
// is a no-op.
func (c *Connector) Start() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.started {
		return
	}
	c.started = true

	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	c.wg.Add(1)
	go c.run(ctx)
	logger.Base().Info("ESL connector started",
		zap.String("host", c.cfg.Host),
		zap.Int("port", c.cfg.Port))
}

// Stop shuts the connector down, waiting up to timeout for the connection
// loop to exit.
func (c *Connector) Stop(timeout time.Duration) {
	c.mu.Lock()
	if !c.started {
		c.mu.Unlock()
		return
	}
	c.started = false
	cancel := c.cancel
	c.mu.Unlock()

	cancel()
	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(timeout):
		logger.Base().Warn("Timed out waiting for ESL connector to stop")
	}
	logger.Base().Info("ESL connector stopped")
}

// SendAPI queues a fire-and-forget API command for the switch. The call
// never blocks; commands are dropped with a warning when the connector is
// down or the queue is full.
func (c *Connector) SendAPI(cmd string) {
	c.mu.Lock()
	started := c.started
	c.mu.Unlock()
	if !started {
		logger.Base().Warn("ESL connector not ready to send commands",
			zap.String("command", cmd))
		return
	}

	select {
	case c.cmds <- cmd:
	default:
		logger.Base().Warn("ESL command queue full, dropping command",
			zap.String("command", cmd))
	}
}

func (c *Connector) run(ctx context.Context) {
	defer c.wg.Done()
	for {
		if err := c.session(ctx); err != nil && ctx.Err() == nil {
			logger.Base().Error("ESL connection error, retrying",
				zap.Error(err),
				zap.Duration("retry_in", c.cfg.ReconnectWait))
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(c.cfg.ReconnectWait):
		}
	}
}

// session runs one connection to completion: dial, authenticate, subscribe,
// then read events until the connection breaks or the context is canceled.
func (c *Connector) session(ctx context.Context) error {
	addr := net.JoinHostPort(c.cfg.Host, strconv.Itoa(c.cfg.Port))
	logger.Base().Info("Connecting to FreeSWITCH ESL", zap.String("addr", addr))

	dialer := net.Dialer{Timeout: 10 * time.Second}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return err
	}
	defer conn.Close()

	sessCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		// Unblocks pending reads when the connector stops.
		<-sessCtx.Done()
		conn.Close()
	}()

	reader := bufio.NewReader(conn)
	if err := c.handshake(conn, reader); err != nil {
		return err
	}
	go c.commandSender(sessCtx, conn)

	for {
		evt, err := readEvent(reader)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		c.dispatch(evt)
	}
}

func (c *Connector) handshake(conn net.Conn, reader *bufio.Reader) error {
	if _, err := fmt.Fprintf(conn, "auth %s\n\n", c.cfg.Password); err != nil {
		return fmt.Errorf("failed to send auth: %w", err)
	}
	if err := drainResponse(reader); err != nil {
		return fmt.Errorf("failed to read auth response: %w", err)
	}
	if _, err := conn.Write([]byte("event plain ALL\n\n")); err != nil {
		return fmt.Errorf("failed to subscribe to events: %w", err)
	}
	return nil
}

func (c *Connector) commandSender(ctx context.Context, conn net.Conn) {
	for {
		select {
		case <-ctx.Done():
			return
		case cmd := <-c.cmds:
			if _, err := fmt.Fprintf(conn, "api %s\n\n", cmd); err != nil {
				logger.Base().Error("Failed to send command to ESL",
					zap.String("command", cmd),
					zap.Error(err))
				return
			}
		}
	}
}

func (c *Connector) dispatch(evt Event) {
	if c.handler == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			logger.Base().Error("Panic in ESL event handler", zap.Any("panic", r))
		}
	}()
	c.handler(evt)
}

// drainResponse consumes one response block: lines up to and including the
// first blank line.
func drainResponse(reader *bufio.Reader) error {
	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			return err
		}
		if strings.TrimRight(line, "\r\n") == "" {
			return nil
		}
	}
}

// readEvent parses one event record: "key: value" header lines terminated by
// a blank line, then a body of Content-Length bytes when one is declared.
func readEvent(reader *bufio.Reader) (Event, error) {
	headers := make(map[string]string)
	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			return Event{}, err
		}
		line = strings.TrimRight(line, "\r\n")
		if line == "" {
			break
		}
		if key, value, ok := strings.Cut(line, ":"); ok {
			headers[strings.TrimSpace(key)] = strings.TrimSpace(value)
		}
	}

	body := ""
	if raw, ok := headers["Content-Length"]; ok {
		n, err := strconv.Atoi(strings.TrimSpace(raw))
		if err == nil && n > 0 {
			data := make([]byte, n)
			if _, err := io.ReadFull(reader, data); err != nil {
				return Event{}, fmt.Errorf("failed to read event body: %w", err)
			}
			body = string(data)
		}
	}
	return Event{Headers: headers, Body: body}, nil
}
