package display

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"
)

const (
	pushTimeout  = 10 * time.Second
	pushAttempts = 3
	pushBackoff  = time.Second
)

// Pusher delivers rendered payloads to the display device. Delivery is
// best effort: the device keeps showing its last payload until the next
// successful push, so an exhausted retry budget is logged and dropped.
type Pusher struct {
	endpoint   string
	token      string
	titleField string
	bodyField  string
	client     *http.Client
	log        *zap.Logger
	sleep      func(time.Duration)
}

// NewPusher creates a Pusher. The device's JSON field names differ per
// firmware, so titleField and bodyField are configurable.
func NewPusher(endpoint, token, titleField, bodyField string, log *zap.Logger) *Pusher {
	return &Pusher{
		endpoint:   endpoint,
		token:      token,
		titleField: titleField,
		bodyField:  bodyField,
		client:     &http.Client{Timeout: pushTimeout},
		log:        log,
		sleep:      time.Sleep,
	}
}

// Push sends the payload to the device, retrying with doubling backoff
// (1s, 2s) for up to three attempts in total. The returned flag reports
// whether any attempt was accepted; Push itself never fails the caller.
func (p *Pusher) Push(ctx context.Context, payload Payload) bool {
	if p.endpoint == "" || p.token == "" {
		p.log.Info("display device not configured, skipping push")
		return false
	}

	body, err := json.Marshal(map[string]string{
		p.titleField: payload.Header,
		p.bodyField:  payload.Body,
	})
	if err != nil {
		p.log.Warn("encode device payload", zap.Error(err))
		return false
	}

	delay := pushBackoff
	for attempt := 1; attempt <= pushAttempts; attempt++ {
		err := p.send(ctx, body)
		if err == nil {
			p.log.Info("display updated", zap.Int("attempt", attempt))
			return true
		}
		p.log.Warn("device push attempt failed",
			zap.Int("attempt", attempt),
			zap.Error(err))
		if attempt < pushAttempts {
			p.sleep(delay)
			delay *= 2
		}
	}

	p.log.Warn("device unreachable, giving up until next run")
	return false
}

func (p *Pusher) send(ctx context.Context, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build device request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+p.token)

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("call device: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("device returned status %d", resp.StatusCode)
	}
	return nil
}
