package email

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/dropDatabas3/quotamail/internal/observability/logger"
)

// RelayGateway delega el envío a un relay HTTP que habla con el proveedor.
//
//	POST {URL}
//	Authorization: Bearer <access token delegado>
//	{"from":"...","to":"...","subject":"...","text":"..."}
//
// 2xx => {"messageId":"..."}; 401/403 => token rechazado.
type RelayGateway struct {
	url    string
	apiKey string
	client *http.Client
}

// NewRelayGateway crea un RelayGateway. apiKey es opcional (header X-Relay-Key).
func NewRelayGateway(url, apiKey string, timeout time.Duration) *RelayGateway {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &RelayGateway{
		url:    strings.TrimSpace(url),
		apiKey: apiKey,
		client: &http.Client{Timeout: timeout},
	}
}

type relayRequest struct {
	From    string `json:"from"`
	To      string `json:"to"`
	Subject string `json:"subject"`
	Text    string `json:"text"`
}

type relayResponse struct {
	MessageID string `json:"messageId"`
	Error     string `json:"error,omitempty"`
}

func (g *RelayGateway) Send(ctx context.Context, msg Message, accessToken string) (Receipt, error) {
	body, err := json.Marshal(relayRequest{From: msg.From, To: msg.To, Subject: msg.Subject, Text: msg.Body})
	if err != nil {
		return Receipt{}, newSendError(CodeUnknown, false, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.url, bytes.NewReader(body))
	if err != nil {
		return Receipt{}, newSendError(CodeUnknown, false, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+accessToken)
	if g.apiKey != "" {
		req.Header.Set("X-Relay-Key", g.apiKey)
	}

	resp, err := g.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return Receipt{}, newSendError(CodeTimeout, true, err)
		}
		return Receipt{}, newSendError(CodeNetwork, true, err)
	}
	defer resp.Body.Close()

	var out relayResponse
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	_ = json.Unmarshal(raw, &out)

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		logger.From(ctx).Debug("relay send ok", logger.Component("relay_gateway"), logger.MessageID(out.MessageID))
		return Receipt{MessageID: out.MessageID}, nil
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return Receipt{}, newSendError(CodeAuth, false, relayErr(resp.StatusCode, out.Error))
	case resp.StatusCode == http.StatusTooManyRequests:
		return Receipt{}, newSendError(CodeRateLimited, true, relayErr(resp.StatusCode, out.Error))
	case resp.StatusCode >= 500:
		return Receipt{}, newSendError(CodeNetwork, true, relayErr(resp.StatusCode, out.Error))
	default:
		return Receipt{}, newSendError(CodeRejected, false, relayErr(resp.StatusCode, out.Error))
	}
}

func relayErr(status int, msg string) error {
	if msg == "" {
		msg = http.StatusText(status)
	}
	return fmt.Errorf("relay status %d: %s", status, msg)
}
