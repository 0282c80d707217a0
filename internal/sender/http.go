package sender

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/carepulse/notify/internal/domain"
)

// sendRequest is the JSON body posted to an HTTP channel integration.
type sendRequest struct {
	To       string `json:"to"`
	Channel  string `json:"channel"`
	Subject  string `json:"subject,omitempty"`
	Text     string `json:"text,omitempty"`
	HTML     string `json:"html,omitempty"`
	Priority string `json:"priority"`
}

// sendResponse maps the integration's 202 Accepted response body.
type sendResponse struct {
	MessageID string `json:"messageId"`
	Status    string `json:"status"`
}

// HTTPSender delivers notifications by POSTing to a channel integration
// endpoint (webhook, slack, or an internal gateway). The base URL is
// injected from config so tests can point to a local mock.
type HTTPSender struct {
	endpoint   string
	delivered  bool // whether a 202 counts as a synchronous delivery ack
	httpClient *http.Client
}

func NewHTTPSender(endpoint string, timeout time.Duration, synchronousAck bool) *HTTPSender {
	return &HTTPSender{
		endpoint:  endpoint,
		delivered: synchronousAck,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// Send posts the notification and expects a 202 Accepted with a JSON body
// containing messageId. Non-202 statuses come back as SendError so the
// retry executor can classify them.
func (s *HTTPSender) Send(ctx context.Context, n *domain.Notification) (*Response, error) {
	body, err := json.Marshal(sendRequest{
		To:       n.Recipient,
		Channel:  string(n.Channel),
		Subject:  n.Content.Subject,
		Text:     n.Content.Text,
		HTML:     n.Content.HTML,
		Priority: string(n.Priority),
	})
	if err != nil {
		return nil, &domain.PermanentError{Err: fmt.Errorf("marshal request: %w", err)}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, &domain.PermanentError{Err: fmt.Errorf("create request: %w", err)}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, &domain.TransientError{Err: fmt.Errorf("send request: %w", err)}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusAccepted {
		return nil, &domain.SendError{
			Code: resp.StatusCode,
			Err:  fmt.Errorf("unexpected provider status"),
		}
	}

	var ack sendResponse
	if err := json.NewDecoder(resp.Body).Decode(&ack); err != nil {
		return nil, &domain.TransientError{Err: fmt.Errorf("decode response: %w", err)}
	}

	return &Response{ProviderMsgID: ack.MessageID, Delivered: s.delivered}, nil
}

// compile-time check that HTTPSender implements Sender
var _ Sender = (*HTTPSender)(nil)
