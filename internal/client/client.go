package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/sirupsen/logrus"
	"live-quiz-service/internal/domain"
)

const (
	readLimit    = 1 << 20
	writeTimeout = 5 * time.Second
	replyTimeout = 10 * time.Second
)

// ErrClosed is returned once Close was called.
var ErrClosed = errors.New("client closed")

// Client is a remote player's connection to one session. It redials with
// backoff after a drop; the server opens every connection with a sync
// snapshot, so a redial doubles as a resync.
type Client struct {
	wsURL string
	log   logrus.FieldLogger

	// MinBackoff and MaxBackoff bound the redial delay.
	MinBackoff time.Duration
	MaxBackoff time.Duration

	mu      sync.Mutex
	conn    *websocket.Conn
	closed  bool
	pending chan domain.Event

	// serializes SubmitAnswer so replies pair with requests
	submitMu sync.Mutex
}

// New prepares a client for baseURL (http or https) authenticated by token.
// No connection is made until Next.
func New(baseURL, token string, log logrus.FieldLogger) (*Client, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return nil, fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + "/ws"
	u.RawQuery = url.Values{"token": {token}}.Encode()

	return &Client{
		wsURL:      u.String(),
		log:        log,
		MinBackoff: 250 * time.Millisecond,
		MaxBackoff: 5 * time.Second,
	}, nil
}

// Next returns the next event, dialing or redialing as needed. Answer replies
// are also handed to a waiting SubmitAnswer.
func (c *Client) Next(ctx context.Context) (domain.Event, error) {
	for {
		conn, err := c.connection(ctx)
		if err != nil {
			return domain.Event{}, err
		}

		var event domain.Event
		err = wsjson.Read(ctx, conn, &event)
		if err == nil {
			c.deliverReply(event)
			return event, nil
		}
		if ctx.Err() != nil {
			return domain.Event{}, ctx.Err()
		}

		c.drop(conn)
		if c.isClosed() {
			return domain.Event{}, io.EOF
		}
		c.log.WithError(err).Warn("connection lost, reconnecting")
	}
}

// SubmitAnswer sends an answer and waits for the server's verdict. It must not
// be called from the goroutine that drives Next.
func (c *Client) SubmitAnswer(ctx context.Context, questionIndex, answerIndex int) (domain.AnswerReceipt, error) {
	c.submitMu.Lock()
	defer c.submitMu.Unlock()

	c.mu.Lock()
	conn := c.conn
	if conn == nil {
		c.mu.Unlock()
		return domain.AnswerReceipt{}, errors.New("not connected")
	}
	reply := make(chan domain.Event, 1)
	c.pending = reply
	c.mu.Unlock()
	defer c.clearPending(reply)

	message, err := domain.NewEvent(domain.EventAnswer, domain.AnswerPayload{QuestionIndex: questionIndex, AnswerIndex: answerIndex})
	if err != nil {
		return domain.AnswerReceipt{}, err
	}
	writeCtx, cancel := context.WithTimeout(ctx, writeTimeout)
	err = wsjson.Write(writeCtx, conn, message)
	cancel()
	if err != nil {
		return domain.AnswerReceipt{}, fmt.Errorf("send answer: %w", err)
	}

	timer := time.NewTimer(replyTimeout)
	defer timer.Stop()
	select {
	case event := <-reply:
		return decodeReply(event)
	case <-timer.C:
		return domain.AnswerReceipt{}, errors.New("no reply to answer")
	case <-ctx.Done():
		return domain.AnswerReceipt{}, ctx.Err()
	}
}

// Resync asks the server for a fresh snapshot; it arrives through Next.
func (c *Client) Resync(ctx context.Context) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return errors.New("not connected")
	}
	writeCtx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return wsjson.Write(writeCtx, conn, domain.Event{Type: domain.EventSync})
}

func (c *Client) Close() error {
	c.mu.Lock()
	conn := c.conn
	c.conn = nil
	c.closed = true
	c.mu.Unlock()
	if conn == nil {
		return nil
	}
	return conn.Close(websocket.StatusNormalClosure, "bye")
}

func (c *Client) connection(ctx context.Context) (*websocket.Conn, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, io.EOF
	}
	if c.conn != nil {
		conn := c.conn
		c.mu.Unlock()
		return conn, nil
	}
	c.mu.Unlock()

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.MinBackoff
	b.MaxInterval = c.MaxBackoff
	b.MaxElapsedTime = 0

	var conn *websocket.Conn
	dial := func() error {
		if c.isClosed() {
			return backoff.Permanent(io.EOF)
		}
		dialed, resp, err := websocket.Dial(ctx, c.wsURL, nil)
		if err != nil {
			if resp != nil && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) {
				return backoff.Permanent(fmt.Errorf("dial: %w", domain.ErrUnauthorized))
			}
			return err
		}
		dialed.SetReadLimit(readLimit)
		conn = dialed
		return nil
	}
	notify := func(err error, wait time.Duration) {
		c.log.WithError(err).WithField("retry_in", wait).Warn("dial failed")
	}
	if err := backoff.RetryNotify(dial, backoff.WithContext(b, ctx), notify); err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		_ = conn.Close(websocket.StatusNormalClosure, "bye")
		return nil, io.EOF
	}
	c.conn = conn
	c.log.Info("connected")
	return conn, nil
}

func (c *Client) drop(conn *websocket.Conn) {
	c.mu.Lock()
	if c.conn == conn {
		c.conn = nil
	}
	c.mu.Unlock()
	_ = conn.Close(websocket.StatusGoingAway, "reconnecting")
}

func (c *Client) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *Client) deliverReply(event domain.Event) {
	if event.Type != domain.EventAnswerAccepted && event.Type != domain.EventAnswerRejected {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pending == nil {
		return
	}
	select {
	case c.pending <- event:
	default:
	}
	c.pending = nil
}

func (c *Client) clearPending(reply chan domain.Event) {
	c.mu.Lock()
	if c.pending == reply {
		c.pending = nil
	}
	c.mu.Unlock()
}

func decodeReply(event domain.Event) (domain.AnswerReceipt, error) {
	if event.Type == domain.EventAnswerAccepted {
		var receipt domain.AnswerReceipt
		err := event.Decode(&receipt)
		return receipt, err
	}
	var rejection domain.RejectionPayload
	if err := event.Decode(&rejection); err != nil {
		return domain.AnswerReceipt{}, err
	}
	if sentinel := domain.ErrorFromCode(rejection.Code); sentinel != nil {
		return domain.AnswerReceipt{}, fmt.Errorf("%s: %w", rejection.Message, sentinel)
	}
	return domain.AnswerReceipt{}, fmt.Errorf("answer rejected: %s (%s)", rejection.Message, rejection.Code)
}
