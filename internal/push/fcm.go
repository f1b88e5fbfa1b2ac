// Package push delivers FCM data messages so the mobile app can catch up on
// sync traffic while its socket is dead or backgrounded. Delivery is
// best-effort: failures are logged and counted, never surfaced to the
// signaling path.
package push

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/clipboardpush/clipboard-push-server/internal/metrics"
)

// Dispatcher holds the push token registry and posts data messages to the
// FCM endpoint behind a circuit breaker. Tokens outlive socket sessions:
// a device that reconnects under the same client ID keeps its token.
type Dispatcher struct {
	endpoint   string
	serverKey  string
	httpClient *http.Client
	cb         *gobreaker.CircuitBreaker
	logger     *zap.Logger

	mu     sync.Mutex
	tokens map[string]string

	wg sync.WaitGroup
}

// NewDispatcher creates a push dispatcher. An empty serverKey disables
// delivery; registration still works so enabling push later needs no app
// changes.
func NewDispatcher(serverKey, endpoint string, logger *zap.Logger) *Dispatcher {
	st := gobreaker.Settings{
		Name:        "fcm",
		MaxRequests: 5,
		Interval:    1 * time.Minute,
		Timeout:     15 * time.Second,
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.Info("Push circuit breaker state change",
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		},
	}

	return &Dispatcher{
		endpoint:   endpoint,
		serverKey:  serverKey,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		cb:         gobreaker.NewCircuitBreaker(st),
		logger:     logger,
		tokens:     map[string]string{},
	}
}

// Enabled reports whether a server key is configured.
func (d *Dispatcher) Enabled() bool {
	return d.serverKey != ""
}

// Register stores a client's push token, replacing any previous one.
func (d *Dispatcher) Register(clientID, token string) {
	if clientID == "" || token == "" {
		return
	}
	d.mu.Lock()
	d.tokens[clientID] = token
	d.mu.Unlock()
	d.logger.Debug("Push token registered", zap.String("client_id", clientID))
}

// Forget drops a client's push token.
func (d *Dispatcher) Forget(clientID string) {
	d.mu.Lock()
	delete(d.tokens, clientID)
	d.mu.Unlock()
}

// Notify sends a data message to the client's registered device. It never
// blocks: delivery happens on its own goroutine and failures stay internal.
func (d *Dispatcher) Notify(clientID string, data map[string]string) {
	if !d.Enabled() {
		metrics.PushDispatches.WithLabelValues("disabled").Inc()
		return
	}

	d.mu.Lock()
	token, ok := d.tokens[clientID]
	d.mu.Unlock()
	if !ok {
		return
	}

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.deliver(clientID, token, data)
	}()
}

// Close waits for in-flight deliveries to finish.
func (d *Dispatcher) Close() {
	d.wg.Wait()
}

type fcmMessage struct {
	To   string            `json:"to"`
	Data map[string]string `json:"data"`
}

func (d *Dispatcher) deliver(clientID, token string, data map[string]string) {
	body, err := json.Marshal(fcmMessage{To: token, Data: data})
	if err != nil {
		metrics.PushDispatches.WithLabelValues("failed").Inc()
		return
	}

	_, err = d.cb.Execute(func() (interface{}, error) {
		req, err := http.NewRequest(http.MethodPost, d.endpoint, bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "key="+d.serverKey)

		resp, err := d.httpClient.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()
		_, _ = io.Copy(io.Discard, resp.Body)

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return nil, fmt.Errorf("fcm responded %d", resp.StatusCode)
		}
		return nil, nil
	})

	switch {
	case err == nil:
		metrics.PushDispatches.WithLabelValues("sent").Inc()
		d.logger.Debug("Push delivered", zap.String("client_id", clientID))
	case errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests):
		metrics.PushDispatches.WithLabelValues("breaker_open").Inc()
		d.logger.Debug("Push circuit breaker open, dropping notification",
			zap.String("client_id", clientID))
	default:
		metrics.PushDispatches.WithLabelValues("failed").Inc()
		d.logger.Debug("Push delivery failed",
			zap.String("client_id", clientID),
			zap.Error(err))
	}
}
