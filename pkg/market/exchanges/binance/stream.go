package binance

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/zeromicro/go-zero/core/logx"
)

const (
	defaultStreamURL        = "wss://stream.binance.com:9443"
	defaultHandshakeTimeout = 10 * time.Second
	defaultReadTimeout      = 60 * time.Second
	defaultWriteTimeout     = 10 * time.Second
	defaultPingInterval     = 30 * time.Second
	initialReconnectDelay   = time.Second
	maxReconnectDelay       = 30 * time.Second
)

// streamConfig tunes websocket sessions.
type streamConfig struct {
	baseURL          string
	handshakeTimeout time.Duration
	readTimeout      time.Duration
	writeTimeout     time.Duration
	pingInterval     time.Duration
	initialReconnect time.Duration
	maxReconnect     time.Duration
}

func defaultStreamConfig() streamConfig {
	return streamConfig{
		baseURL:          defaultStreamURL,
		handshakeTimeout: defaultHandshakeTimeout,
		readTimeout:      defaultReadTimeout,
		writeTimeout:     defaultWriteTimeout,
		pingInterval:     defaultPingInterval,
		initialReconnect: initialReconnectDelay,
		maxReconnect:     maxReconnectDelay,
	}
}

// combinedURL builds <base>/stream?streams=a/b/c.
func (c streamConfig) combinedURL(streams []string) (string, error) {
	u, err := url.Parse(strings.TrimRight(c.baseURL, "/") + "/stream")
	if err != nil {
		return "", fmt.Errorf("binance: invalid stream url %q: %w", c.baseURL, err)
	}
	// stream names contain '@' and '!' which Binance expects unescaped
	u.RawQuery = "streams=" + strings.Join(streams, "/")
	return u.String(), nil
}

// wsWorker keeps one combined-stream connection alive and hands every frame to onMessage.
type wsWorker struct {
	name      string
	streams   []string
	cfg       streamConfig
	onMessage func([]byte)
}

// run reconnects with exponential backoff until ctx is cancelled.
func (w *wsWorker) run(ctx context.Context) error {
	endpoint, err := w.cfg.combinedURL(w.streams)
	if err != nil {
		return err
	}
	delay := w.cfg.initialReconnect
	for {
		connected, err := w.session(ctx, endpoint)
		if ctx.Err() != nil {
			return nil
		}
		if connected {
			delay = w.cfg.initialReconnect
		}
		logx.Errorf("binance: stream dropped name=%s err=%v reconnect_in=%s", w.name, err, delay)
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(delay):
		}
		delay *= 2
		if delay > w.cfg.maxReconnect {
			delay = w.cfg.maxReconnect
		}
	}
}

// session runs a single connection. connected reports whether the dial succeeded.
func (w *wsWorker) session(ctx context.Context, endpoint string) (connected bool, err error) {
	dialer := websocket.Dialer{HandshakeTimeout: w.cfg.handshakeTimeout}
	conn, _, err := dialer.DialContext(ctx, endpoint, nil)
	if err != nil {
		return false, fmt.Errorf("dial: %w", err)
	}
	defer conn.Close()

	sessionID := uuid.NewString()
	logx.Infof("binance: stream open name=%s session=%s streams=%d", w.name, sessionID, len(w.streams))
	defer logx.Infof("binance: stream closed name=%s session=%s", w.name, sessionID)

	conn.SetPingHandler(func(data string) error {
		_ = conn.SetReadDeadline(time.Now().Add(w.cfg.readTimeout))
		err := conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(w.cfg.writeTimeout))
		if errors.Is(err, websocket.ErrCloseSent) {
			return nil
		}
		return err
	})
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(w.cfg.readTimeout))
	})

	connCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	messages := make(chan []byte, 64)
	readErr := make(chan error, 1)
	go func() {
		defer close(messages)
		for {
			_ = conn.SetReadDeadline(time.Now().Add(w.cfg.readTimeout))
			_, payload, err := conn.ReadMessage()
			if err != nil {
				readErr <- err
				return
			}
			select {
			case messages <- payload:
			case <-connCtx.Done():
				return
			}
		}
	}()

	ping := time.NewTicker(w.cfg.pingInterval)
	defer ping.Stop()

	for {
		select {
		case <-ctx.Done():
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(w.cfg.writeTimeout))
			return true, nil
		case payload, ok := <-messages:
			if !ok {
				return true, fmt.Errorf("read: %w", <-readErr)
			}
			w.onMessage(payload)
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(w.cfg.writeTimeout)); err != nil {
				return true, fmt.Errorf("ping: %w", err)
			}
		}
	}
}
