package relay

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/puzpuzpuz/xsync/v3"

	"nostr-messenger/internal/metrics"
	"nostr-messenger/internal/types"
)

// maxTotalConnections caps how many relay connections the pool keeps
// open at once.
const maxTotalConnections = 20

// Transport is the relay-facing contract the fan-out layer depends on.
// *Pool implements it; tests substitute an in-process fake.
type Transport interface {
	Subscribe(ctx context.Context, relayURL string, subID string, filters []types.Filter) (*Subscription, error)
	Unsubscribe(relayURL string, sub *Subscription)
	Publish(ctx context.Context, relayURL string, evt *types.Event) error
}

// Subscription represents an active subscription on a relay connection.
type Subscription struct {
	ID        string
	EventChan chan types.Event
	EOSEChan  chan bool
	Done      chan struct{}
	closeOnce sync.Once
}

// Close safely closes the Done channel exactly once.
func (s *Subscription) Close() {
	s.closeOnce.Do(func() {
		close(s.Done)
	})
}

// okResult is the outcome a relay reports for one published event.
type okResult struct {
	accepted bool
	reason   string
}

// relayConn manages a single websocket connection with multiple
// subscriptions multiplexed over it.
type relayConn struct {
	ws            *websocket.Conn
	relayURL      string
	mu            sync.Mutex
	writeMu       sync.Mutex
	subscriptions *xsync.MapOf[string, *Subscription]
	pendingOKs    *xsync.MapOf[string, chan okResult]
	closed        bool
	lastActivity  time.Time
}

// Pool manages websocket connections to multiple relays, one per URL.
type Pool struct {
	mu          sync.RWMutex
	connections map[string]*relayConn
	dialer      *websocket.Dialer
	stopCh      chan struct{}
	closeOnce   sync.Once
}

// NewPool creates a connection pool and starts its idle reaper.
func NewPool() *Pool {
	pool := &Pool{
		connections: make(map[string]*relayConn),
		dialer: &websocket.Dialer{
			HandshakeTimeout: 10 * time.Second,
		},
		stopCh: make(chan struct{}),
	}
	go pool.cleanupLoop()
	return pool
}

// getOrCreateConn gets an existing connection or dials a new one.
func (p *Pool) getOrCreateConn(ctx context.Context, relayURL string) (*relayConn, error) {
	if !isRelayURLSafe(relayURL) {
		return nil, errors.New("relay URL blocked: unsafe destination")
	}

	p.mu.RLock()
	rc := p.connections[relayURL]
	p.mu.RUnlock()

	if rc != nil && !rc.isClosed() {
		return rc, nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	// Double-check after acquiring write lock
	rc = p.connections[relayURL]
	if rc != nil && !rc.isClosed() {
		return rc, nil
	}

	if len(p.connections) >= maxTotalConnections {
		return nil, fmt.Errorf("connection pool full (%d relays)", maxTotalConnections)
	}

	slog.Debug("pool: creating new connection", "relay", relayURL)
	ws, _, err := p.dialer.DialContext(ctx, relayURL, nil)
	if err != nil {
		return nil, err
	}

	rc = &relayConn{
		ws:            ws,
		relayURL:      relayURL,
		subscriptions: xsync.NewMapOf[string, *Subscription](),
		pendingOKs:    xsync.NewMapOf[string, chan okResult](),
		lastActivity:  time.Now(),
	}

	p.connections[relayURL] = rc

	go rc.readLoop()

	return rc, nil
}

// Subscribe opens a subscription on the relay with one or more filters:
// ["REQ", id, f1, f2, ...].
func (p *Pool) Subscribe(ctx context.Context, relayURL string, subID string, filters []types.Filter) (*Subscription, error) {
	if len(filters) == 0 {
		return nil, errors.New("subscribe requires at least one filter")
	}

	const maxRetries = 3
	var rc *relayConn
	var err error
	var connected bool

	for attempt := 0; attempt < maxRetries; attempt++ {
		rc, err = p.getOrCreateConn(ctx, relayURL)
		if err != nil {
			return nil, err
		}
		if rc.isClosed() {
			// Connection died under us, remove and retry
			p.mu.Lock()
			if p.connections[relayURL] == rc {
				delete(p.connections, relayURL)
			}
			p.mu.Unlock()
			continue
		}
		connected = true
		break
	}
	if !connected {
		return nil, errors.New("failed to establish connection after retries")
	}

	sub := &Subscription{
		ID:        subID,
		EventChan: make(chan types.Event, 100),
		EOSEChan:  make(chan bool, 1),
		Done:      make(chan struct{}),
	}
	rc.subscriptions.Store(subID, sub)
	if rc.isClosed() {
		// Connection died between the check and registration
		rc.subscriptions.Delete(subID)
		sub.Close()
		return nil, errors.New("connection closed")
	}

	req := make([]interface{}, 0, 2+len(filters))
	req = append(req, "REQ", subID)
	for _, f := range filters {
		req = append(req, f)
	}

	rc.writeMu.Lock()
	err = rc.ws.WriteJSON(req)
	rc.writeMu.Unlock()
	if err != nil {
		rc.subscriptions.Delete(subID)
		rc.markClosed()
		return nil, err
	}

	rc.touch()
	return sub, nil
}

// Unsubscribe closes a subscription, sending CLOSE when the connection
// is still up.
func (p *Pool) Unsubscribe(relayURL string, sub *Subscription) {
	if sub == nil {
		return
	}

	p.mu.RLock()
	rc := p.connections[relayURL]
	p.mu.RUnlock()

	if rc == nil {
		sub.Close()
		return
	}

	_, exists := rc.subscriptions.LoadAndDelete(sub.ID)
	if exists && !rc.isClosed() {
		// Best effort; the connection may be gone already
		closeMsg := []interface{}{"CLOSE", sub.ID}
		rc.writeMu.Lock()
		rc.ws.WriteJSON(closeMsg)
		rc.writeMu.Unlock()
	}

	sub.Close()
}

// Publish sends ["EVENT", ...] to the relay and waits for the matching
// ["OK", id, accepted, reason] frame. A rejection or missing OK within
// the context deadline is an error.
func (p *Pool) Publish(ctx context.Context, relayURL string, evt *types.Event) error {
	rc, err := p.getOrCreateConn(ctx, relayURL)
	if err != nil {
		return err
	}

	// Encode without HTML escaping so the relay's recomputed hash
	// matches ours.
	var buf bytes.Buffer
	encoder := json.NewEncoder(&buf)
	encoder.SetEscapeHTML(false)
	if err := encoder.Encode(evt); err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	eventJSON := bytes.TrimSuffix(buf.Bytes(), []byte("\n"))
	msg := fmt.Sprintf(`["EVENT",%s]`, eventJSON)

	okCh, loaded := rc.pendingOKs.LoadOrStore(evt.ID, make(chan okResult, 1))
	if !loaded {
		defer rc.pendingOKs.Delete(evt.ID)
	}

	rc.writeMu.Lock()
	rc.ws.SetWriteDeadline(time.Now().Add(10 * time.Second))
	err = rc.ws.WriteMessage(websocket.TextMessage, []byte(msg))
	rc.ws.SetWriteDeadline(time.Time{})
	rc.writeMu.Unlock()
	if err != nil {
		rc.markClosed()
		return err
	}
	rc.touch()

	select {
	case res := <-okCh:
		if !res.accepted {
			return fmt.Errorf("relay rejected event: %s", res.reason)
		}
		return nil
	case <-ctx.Done():
		return fmt.Errorf("no OK from %s: %w", relayURL, ctx.Err())
	}
}

// readLoop continuously reads from the connection and routes messages
// to subscriptions and pending publishes.
func (rc *relayConn) readLoop() {
	defer rc.markClosed()

	for {
		var msg []interface{}
		err := rc.ws.ReadJSON(&msg)
		if err != nil {
			if !rc.isClosed() {
				slog.Debug("pool: read error", "relay", rc.relayURL, "error", err)
			}
			return
		}

		rc.touch()

		if len(msg) < 2 {
			continue
		}
		msgType, ok := msg[0].(string)
		if !ok {
			continue
		}

		switch msgType {
		case "EVENT":
			if len(msg) < 3 {
				continue
			}
			subID, ok := msg[1].(string)
			if !ok {
				continue
			}

			evt, ok := parseEvent(msg[2])
			if !ok {
				continue
			}
			evt.RelaysSeen = []string{rc.relayURL}

			if sub, ok := rc.subscriptions.Load(subID); ok {
				select {
				case sub.EventChan <- evt:
				case <-sub.Done:
				default:
					// Subscriber not keeping up, drop
					metrics.IncrementEventDropped()
				}
			}

		case "EOSE":
			subID, ok := msg[1].(string)
			if !ok {
				continue
			}
			if sub, ok := rc.subscriptions.Load(subID); ok {
				select {
				case sub.EOSEChan <- true:
				default:
				}
			}

		case "OK":
			if len(msg) < 3 {
				continue
			}
			eventID, _ := msg[1].(string)
			accepted, _ := msg[2].(bool)
			reason := ""
			if len(msg) >= 4 {
				reason, _ = msg[3].(string)
			}
			if ch, ok := rc.pendingOKs.LoadAndDelete(eventID); ok {
				select {
				case ch <- okResult{accepted: accepted, reason: reason}:
				default:
				}
			}

		case "CLOSED":
			subID, _ := msg[1].(string)
			if sub, ok := rc.subscriptions.LoadAndDelete(subID); ok {
				sub.Close()
			}

		case "NOTICE":
			notice, _ := msg[1].(string)
			slog.Info("pool: NOTICE", "relay", rc.relayURL, "notice", notice)
		}
	}
}

func (rc *relayConn) isClosed() bool {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	return rc.closed
}

func (rc *relayConn) touch() {
	rc.mu.Lock()
	rc.lastActivity = time.Now()
	rc.mu.Unlock()
}

// markClosed marks the connection as closed and releases every
// subscription and pending publish on it.
func (rc *relayConn) markClosed() {
	rc.mu.Lock()
	if rc.closed {
		rc.mu.Unlock()
		return
	}
	rc.closed = true
	rc.mu.Unlock()

	rc.ws.Close()

	rc.subscriptions.Range(func(id string, sub *Subscription) bool {
		sub.Close()
		return true
	})
	rc.subscriptions.Clear()

	rc.pendingOKs.Range(func(id string, ch chan okResult) bool {
		select {
		case ch <- okResult{accepted: false, reason: "connection closed"}:
		default:
		}
		return true
	})
	rc.pendingOKs.Clear()
}

// cleanupLoop periodically removes stale connections.
func (p *Pool) cleanupLoop() {
	ticker := time.NewTicker(60 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-p.stopCh:
			return
		case <-ticker.C:
			p.cleanup()
		}
	}
}

// cleanup removes closed connections and those idle for too long.
func (p *Pool) cleanup() {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := time.Now()
	for url, rc := range p.connections {
		rc.mu.Lock()
		idle := rc.subscriptions.Size() == 0 && now.Sub(rc.lastActivity) > 2*time.Minute
		closed := rc.closed
		rc.mu.Unlock()

		if closed || idle {
			if !closed {
				slog.Debug("pool: closing idle connection", "relay", url)
				rc.markClosed()
			}
			delete(p.connections, url)
		}
	}
}

// CloseRelay closes a specific relay connection.
func (p *Pool) CloseRelay(relayURL string) {
	p.mu.Lock()
	rc := p.connections[relayURL]
	delete(p.connections, relayURL)
	p.mu.Unlock()

	if rc != nil {
		rc.markClosed()
	}
}

// Close shuts the pool down: stops the reaper and closes every
// connection. The pool is not usable afterwards.
func (p *Pool) Close() {
	p.closeOnce.Do(func() {
		close(p.stopCh)
	})

	p.mu.Lock()
	conns := make([]*relayConn, 0, len(p.connections))
	for url, rc := range p.connections {
		conns = append(conns, rc)
		delete(p.connections, url)
	}
	p.mu.Unlock()

	for _, rc := range conns {
		rc.markClosed()
	}
}

// GetConnectionStats returns current connection pool statistics.
func (p *Pool) GetConnectionStats() (active int, max int) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.connections), maxTotalConnections
}
