package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/cskr/pubsub"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

const stateTopic = "state"

// statusTTL bounds how stale a cached bridge status may get before Ready()
// re-asks the bridge. The dispatcher polls Ready() once per recipient, so a
// short TTL keeps mid-campaign disconnects visible without a status call
// before every single send.
const statusTTL = 2 * time.Second

// BridgeClient talks to the local session bridge, the sidecar process that
// owns the actual browser-automation messaging session. One BridgeClient
// maps to exactly one session.
type BridgeClient struct {
	baseURL string
	http    *http.Client
	limiter *rate.Limiter
	ps      *pubsub.PubSub
	log     zerolog.Logger

	mu          sync.Mutex
	state       State
	pairingCode string
	checkedAt   time.Time
}

func NewBridgeClient(baseURL string, timeout, minSendInterval time.Duration, log zerolog.Logger) *BridgeClient {
	if minSendInterval <= 0 {
		minSendInterval = time.Second
	}
	return &BridgeClient{
		baseURL: baseURL,
		http:    &http.Client{Timeout: timeout},
		limiter: rate.NewLimiter(rate.Every(minSendInterval), 1),
		ps:      pubsub.New(16),
		log:     log,
		state:   StateDisconnected,
	}
}

type bridgeStatus struct {
	State       string `json:"state"`
	PairingCode string `json:"pairing_code"`
}

type bridgeSendRequest struct {
	Phone   string `json:"phone"`
	Message string `json:"message"`
}

type bridgeSendResponse struct {
	Status string `json:"status"`
	Error  string `json:"error"`
}

func (c *BridgeClient) State() State {
	c.refresh(false)
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *BridgeClient) Ready() bool {
	return c.State() == StateReady
}

func (c *BridgeClient) PairingCode() string {
	c.refresh(false)
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pairingCode
}

func (c *BridgeClient) SubscribeState() (<-chan State, func()) {
	raw := c.ps.Sub(stateTopic)
	out := make(chan State, 16)
	done := make(chan struct{})

	go func() {
		defer close(out)
		for {
			select {
			case <-done:
				return
			case v, ok := <-raw:
				if !ok {
					return
				}
				if st, ok := v.(State); ok {
					select {
					case out <- st:
					case <-done:
						return
					}
				}
			}
		}
	}()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			close(done)
			c.ps.Unsub(raw, stateTopic)
		})
	}
	return out, cancel
}

// refresh re-reads bridge status when the cache is stale or force is set.
// A bridge that cannot be reached counts as disconnected.
func (c *BridgeClient) refresh(force bool) {
	c.mu.Lock()
	if !force && time.Since(c.checkedAt) < statusTTL {
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()

	st, code := c.fetchStatus()

	c.mu.Lock()
	prev := c.state
	c.state = st
	c.pairingCode = code
	c.checkedAt = time.Now()
	c.mu.Unlock()

	if prev != st {
		c.log.Info().Str("from", string(prev)).Str("to", string(st)).Msg("gateway session state changed")
		c.ps.TryPub(st, stateTopic)
	}
}

func (c *BridgeClient) fetchStatus() (State, string) {
	req, err := http.NewRequest(http.MethodGet, c.baseURL+"/status", nil)
	if err != nil {
		return StateDisconnected, ""
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return StateDisconnected, ""
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return StateDisconnected, ""
	}

	var status bridgeStatus
	if err := json.NewDecoder(io.LimitReader(resp.Body, 4096)).Decode(&status); err != nil {
		return StateDisconnected, ""
	}

	switch status.State {
	case "ready":
		return StateReady, ""
	case "authenticated":
		return StateAuthenticated, ""
	case "pairing_required", "qr":
		return StatePairingRequired, status.PairingCode
	default:
		return StateDisconnected, ""
	}
}

func (c *BridgeClient) Send(ctx context.Context, phone, body string) error {
	if !c.Ready() {
		return ErrNotReady
	}

	// Floor under the dispatcher's jitter. The remote platform penalizes
	// bursty sends even when the jitter window is misconfigured to zero.
	if err := c.limiter.Wait(ctx); err != nil {
		return &TransportError{Op: "throttle", Err: err}
	}

	payload, _ := json.Marshal(bridgeSendRequest{Phone: phone, Message: body})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/send", bytes.NewReader(payload))
	if err != nil {
		return &TransportError{Op: "send", Err: err}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return &TransportError{Op: "send", Err: err}
	}
	defer resp.Body.Close()

	var out bridgeSendResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 4096)).Decode(&out); err != nil {
		if resp.StatusCode != http.StatusOK {
			return &TransportError{Op: "send", Err: fmt.Errorf("bridge returned status %d", resp.StatusCode)}
		}
		// A 200 with an unreadable body is not a confirmed send.
		return &TransportError{Op: "send", Err: fmt.Errorf("decode bridge response: %w", err)}
	}

	if resp.StatusCode == http.StatusOK && out.Error == "" {
		return nil
	}

	switch out.Error {
	case "not_registered":
		return ErrNotRegistered
	case "rate_limited":
		return ErrRateLimited
	case "not_ready":
		c.refresh(true)
		return ErrNotReady
	default:
		return &TransportError{Op: "send", Err: fmt.Errorf("bridge returned status %d: %s", resp.StatusCode, out.Error)}
	}
}
