package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// HTTPTransport posts messages to a JSON mail API.
type HTTPTransport struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

func NewHTTPTransport(baseURL, apiKey string, timeout time.Duration) *HTTPTransport {
	return &HTTPTransport{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: defaultTimeout(timeout)},
	}
}

type sendRequest struct {
	From    string            `json:"from"`
	To      []string          `json:"to"`
	ReplyTo string            `json:"reply_to,omitempty"`
	Subject string            `json:"subject"`
	Text    string            `json:"text"`
	Headers map[string]string `json:"headers,omitempty"`
}

type sendResponse struct {
	ID        string `json:"id"`
	MessageID string `json:"message_id"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (t *HTTPTransport) Send(ctx context.Context, msg Message) (string, error) {
	if err := validate(msg); err != nil {
		return "", err
	}

	from := msg.FromEmail
	if msg.FromName != "" {
		from = fmt.Sprintf("%s <%s>", msg.FromName, msg.FromEmail)
	}
	to := msg.To
	if msg.ToName != "" {
		to = fmt.Sprintf("%s <%s>", msg.ToName, msg.To)
	}
	payload := sendRequest{
		From:    from,
		To:      []string{to},
		ReplyTo: msg.ReplyTo,
		Subject: msg.Subject,
		Text:    msg.Body,
		Headers: map[string]string{EmailIDHeader: msg.EmailID},
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.baseURL+"/api/v1/send", bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+t.apiKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return "", &DeliveryError{Temporary: true, Message: err.Error()}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		de := &DeliveryError{
			Temporary: resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500,
			Code:      resp.StatusCode,
			Message:   http.StatusText(resp.StatusCode),
		}
		var errResp errorResponse
		if json.NewDecoder(resp.Body).Decode(&errResp) == nil && errResp.Error != "" {
			de.Message = errResp.Error
		}
		return "", de
	}

	var out sendResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}
	id := out.MessageID
	if id == "" {
		id = out.ID
	}
	if id == "" {
		return "", &DeliveryError{Message: "response carried no message id"}
	}
	return strings.Trim(id, "<>"), nil
}
