package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"
)

const (
	// DefaultBaseURL is the bot API root; override for tests.
	DefaultBaseURL = "https://api.telegram.org"
	// DefaultSendGap is the minimum inter-send pacing gap. Bulk populate at
	// this pace stays under the backend's burst limits.
	DefaultSendGap = 2 * time.Second

	maxSendAttempts = 3
)

// Client is a retry-aware wrapper over the backend bot API. All sends and
// deletes go through the pacer; polls do not.
type Client struct {
	BaseURL    string
	Token      string
	HTTPClient *http.Client
	Log        *zap.Logger

	pacer *pacer
	// sleep is swappable for tests.
	sleep func(ctx context.Context, d time.Duration) error
}

func NewClient(token string, log *zap.Logger) *Client {
	if log == nil {
		log = zap.NewNop()
	}
	return &Client{
		BaseURL:    DefaultBaseURL,
		Token:      token,
		HTTPClient: &http.Client{Timeout: 0},
		Log:        log,
		pacer:      newPacer(DefaultSendGap),
		sleep:      sleepCtx,
	}
}

// SetSendGap overrides the pacing gap. A zero gap disables pacing.
func (c *Client) SetSendGap(gap time.Duration) {
	c.pacer = newPacer(gap)
}

type apiEnvelope struct {
	OK          bool            `json:"ok"`
	Result      json.RawMessage `json:"result,omitempty"`
	ErrorCode   int             `json:"error_code,omitempty"`
	Description string          `json:"description,omitempty"`
	Parameters  *struct {
		RetryAfter int `json:"retry_after,omitempty"`
	} `json:"parameters,omitempty"`
}

// SendText sends a plain text message to the channel.
func (c *Client) SendText(ctx context.Context, chatID, text string) (*Message, error) {
	body := map[string]any{"chat_id": chatID, "text": text}
	return c.sendPaced(ctx, "sendMessage", body)
}

// SendMediaRef sends media by referencing a file handle the backend already
// holds.
func (c *Client) SendMediaRef(ctx context.Context, chatID string, kind MediaKind, fileID, caption string) (*Message, error) {
	if !kind.Valid() {
		return nil, fmt.Errorf("invalid media kind: %q", kind)
	}
	body := map[string]any{"chat_id": chatID, string(kind): fileID}
	if caption != "" {
		body["caption"] = caption
	}
	return c.sendPaced(ctx, sendMethodFor(kind), body)
}

// UploadMedia sends media by uploading a local file.
func (c *Client) UploadMedia(ctx context.Context, chatID string, kind MediaKind, path, caption string) (*Message, error) {
	if !kind.Valid() {
		return nil, fmt.Errorf("invalid media kind: %q", kind)
	}
	fields := map[string]string{"chat_id": chatID}
	if caption != "" {
		fields["caption"] = caption
	}
	return c.sendWithRetry(ctx, func() (*http.Request, error) {
		return c.newUploadRequest(ctx, sendMethodFor(kind), string(kind), path, fields)
	})
}

// ForwardMessage re-posts an existing message into the channel.
func (c *Client) ForwardMessage(ctx context.Context, chatID, fromChatID string, messageID int64) (*Message, error) {
	body := map[string]any{
		"chat_id":      chatID,
		"from_chat_id": fromChatID,
		"message_id":   messageID,
	}
	return c.sendPaced(ctx, "forwardMessage", body)
}

// DeleteMessage removes a message from the channel. NotFound is surfaced to
// the caller; stale fixture ids during force populate are expected.
func (c *Client) DeleteMessage(ctx context.Context, chatID string, messageID int64) error {
	if err := c.pacer.Wait(ctx); err != nil {
		return err
	}
	body := map[string]any{"chat_id": chatID, "message_id": messageID}
	_, err := c.call(ctx, "deleteMessage", body)
	return err
}

// GetUpdates polls for new messages after offset. The poll long-polls up to
// timeout on the server side and is not paced.
func (c *Client) GetUpdates(ctx context.Context, offset int64, timeout time.Duration) ([]Update, error) {
	body := map[string]any{"offset": offset}
	if timeout > 0 {
		body["timeout"] = int(timeout / time.Second)
	}
	raw, err := c.call(ctx, "getUpdates", body)
	if err != nil {
		return nil, err
	}
	var updates []Update
	if err := json.Unmarshal(raw, &updates); err != nil {
		return nil, fmt.Errorf("decode updates: %w", err)
	}
	return updates, nil
}

func sendMethodFor(kind MediaKind) string {
	switch kind {
	case MediaPhoto:
		return "sendPhoto"
	case MediaDocument:
		return "sendDocument"
	case MediaVoice:
		return "sendVoice"
	default:
		return "sendAudio"
	}
}

func (c *Client) sendPaced(ctx context.Context, method string, body map[string]any) (*Message, error) {
	return c.sendWithRetry(ctx, func() (*http.Request, error) {
		return c.newJSONRequest(ctx, method, body)
	})
}

// sendWithRetry paces the send, then retries on rate limit only: sleep
// retry-after plus one second, up to three total attempts. Everything else
// fails fast.
func (c *Client) sendWithRetry(ctx context.Context, build func() (*http.Request, error)) (*Message, error) {
	if err := c.pacer.Wait(ctx); err != nil {
		return nil, err
	}
	callID := ulid.Make().String()
	var lastErr error
	for attempt := 1; attempt <= maxSendAttempts; attempt++ {
		req, err := build()
		if err != nil {
			return nil, err
		}
		raw, err := c.doRequest(req)
		if err == nil {
			var msg Message
			if err := json.Unmarshal(raw, &msg); err != nil {
				return nil, fmt.Errorf("decode message: %w", err)
			}
			return &msg, nil
		}
		lastErr = err
		var rle *RateLimitError
		if !asRateLimit(err, &rle) || attempt == maxSendAttempts {
			return nil, err
		}
		delay := time.Second
		if ra := rle.RetryAfter(); ra != nil {
			delay = *ra + time.Second
		}
		c.Log.Warn("rate limited, retrying",
			zap.String("call_id", callID),
			zap.Int("attempt", attempt),
			zap.Duration("delay", delay))
		if err := c.sleep(ctx, delay); err != nil {
			return nil, err
		}
	}
	return nil, lastErr
}

func (c *Client) call(ctx context.Context, method string, body map[string]any) (json.RawMessage, error) {
	req, err := c.newJSONRequest(ctx, method, body)
	if err != nil {
		return nil, err
	}
	return c.doRequest(req)
}

func (c *Client) newJSONRequest(ctx context.Context, method string, body map[string]any) (*http.Request, error) {
	b, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.methodURL(method), bytes.NewReader(b))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	return req, nil
}

func (c *Client) newUploadRequest(ctx context.Context, method, fileField, path string, fields map[string]string) (*http.Request, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	for k, v := range fields {
		if err := w.WriteField(k, v); err != nil {
			return nil, err
		}
	}
	part, err := w.CreateFormFile(fileField, filepath.Base(path))
	if err != nil {
		return nil, err
	}
	if _, err := io.Copy(part, f); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.methodURL(method), bytes.NewReader(buf.Bytes()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", w.FormDataContentType())
	return req, nil
}

func (c *Client) methodURL(method string) string {
	base := strings.TrimRight(c.BaseURL, "/")
	return fmt.Sprintf("%s/bot%s/%s", base, c.Token, method)
}

func (c *Client) doRequest(req *http.Request) (json.RawMessage, error) {
	httpClient := c.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 0}
	}
	resp, err := httpClient.Do(req)
	if err != nil {
		return nil, NewNetworkError(err.Error())
	}
	defer func() { _ = resp.Body.Close() }()

	rawBytes, _ := io.ReadAll(resp.Body)
	var env apiEnvelope
	if err := json.Unmarshal(rawBytes, &env); err != nil {
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			ra := ParseRetryAfter(resp.Header.Get("Retry-After"), time.Now())
			return nil, errorFromStatus(resp.StatusCode, strings.TrimSpace(string(rawBytes)), ra)
		}
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if !env.OK {
		var ra *time.Duration
		if env.Parameters != nil && env.Parameters.RetryAfter > 0 {
			d := time.Duration(env.Parameters.RetryAfter) * time.Second
			ra = &d
		}
		if ra == nil {
			ra = ParseRetryAfter(resp.Header.Get("Retry-After"), time.Now())
		}
		code := env.ErrorCode
		if code == 0 {
			code = resp.StatusCode
		}
		return nil, errorFromStatus(code, env.Description, ra)
	}
	return env.Result, nil
}

func asRateLimit(err error, target **RateLimitError) bool {
	rle, ok := err.(*RateLimitError)
	if ok {
		*target = rle
	}
	return ok
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
