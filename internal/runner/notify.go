package runner

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/edovery/ingest/internal/backend"
)

// markerPattern extracts the bracketed test identifier from notification
// bodies. Transcribed voice input loses the brackets; correlation falls
// back to the output file for those.
var markerPattern = regexp.MustCompile(`\[(TEST-[A-Z]+-[0-9]{3})\]`)

// Notification is one parsed message from the notification channel. The
// pipeline posts either a JSON object or key: value lines; both flatten
// into Fields, with the well-known keys lifted out.
type Notification struct {
	MessageID   int64
	Body        string
	Status      string
	Pipeline    string
	Severity    string
	OutputPaths []string
	Fields      map[string]string
}

// TestID returns the correlated spec id, or "" when the body and message
// field carry no marker.
func (n Notification) TestID() string {
	if m := markerPattern.FindStringSubmatch(n.Body); m != nil {
		return m[1]
	}
	if m := markerPattern.FindStringSubmatch(n.Fields["message"]); m != nil {
		return m[1]
	}
	return ""
}

// ParseNotification decodes a notification message. Unparseable bodies
// still yield a usable notification; correlation then relies on the raw
// body alone.
func ParseNotification(msg backend.Message) Notification {
	n := Notification{
		MessageID: msg.MessageID,
		Body:      msg.Body(),
		Fields:    map[string]string{},
	}
	body := strings.TrimSpace(n.Body)
	if strings.HasPrefix(body, "{") {
		parseJSONNotification(body, &n)
	} else {
		parseKeyValueNotification(body, &n)
	}
	n.Status = n.Fields["status"]
	n.Pipeline = n.Fields["pipeline"]
	n.Severity = n.Fields["severity"]
	if n.OutputPaths == nil {
		n.OutputPaths = splitPaths(n.Fields["output_paths"])
	}
	return n
}

func parseJSONNotification(body string, n *Notification) {
	var doc map[string]any
	if err := json.Unmarshal([]byte(body), &doc); err != nil {
		return
	}
	for k, v := range doc {
		switch t := v.(type) {
		case []any:
			var parts []string
			for _, item := range t {
				if s, ok := item.(string); ok {
					parts = append(parts, s)
				}
			}
			if k == "output_paths" {
				n.OutputPaths = parts
			}
			n.Fields[k] = strings.Join(parts, ",")
		case nil:
			n.Fields[k] = ""
		case string:
			n.Fields[k] = t
		case float64:
			n.Fields[k] = formatNumber(t)
		case bool:
			n.Fields[k] = fmt.Sprintf("%t", t)
		default:
			b, _ := json.Marshal(t)
			n.Fields[k] = string(b)
		}
	}
}

func formatNumber(f float64) string {
	if f == float64(int64(f)) {
		return fmt.Sprintf("%d", int64(f))
	}
	return fmt.Sprintf("%g", f)
}

func parseKeyValueNotification(body string, n *Notification) {
	for _, line := range strings.Split(body, "\n") {
		key, val, ok := cutKeyValue(line)
		if !ok {
			continue
		}
		n.Fields[strings.ToLower(key)] = val
	}
}

func cutKeyValue(line string) (string, string, bool) {
	key, val, ok := strings.Cut(line, ":")
	if !ok {
		return "", "", false
	}
	key = strings.TrimSpace(key)
	if key == "" || strings.ContainsAny(key, " \t") {
		return "", "", false
	}
	return key, strings.TrimSpace(val), true
}

func splitPaths(s string) []string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Poller is the slice of the backend client the watcher polls with.
type Poller interface {
	GetUpdates(ctx context.Context, offset int64, timeout time.Duration) ([]backend.Update, error)
}

const (
	defaultPollTimeout = 25 * time.Second
	pollErrorBackoff   = time.Second
	subscriberBuffer   = 64
)

// Watcher long-polls the notification channel and fans every parsed
// notification out to all subscribers. One watcher serves an entire run;
// workers subscribe before they trigger and unsubscribe when done.
type Watcher struct {
	Poller      Poller
	Channel     string
	PollTimeout time.Duration
	// Since is the freshness floor: dated messages older than this are
	// leftovers from a previous run and never delivered, even when they
	// carry a marker the current run is waiting on.
	Since time.Time
	Log   *zap.Logger

	mu   sync.Mutex
	subs map[chan Notification]struct{}
}

func NewWatcher(poller Poller, channel string, log *zap.Logger) *Watcher {
	if log == nil {
		log = zap.NewNop()
	}
	return &Watcher{
		Poller:      poller,
		Channel:     channel,
		PollTimeout: defaultPollTimeout,
		Since:       time.Now(),
		Log:         log,
		subs:        map[chan Notification]struct{}{},
	}
}

// Subscribe registers a listener. The returned cancel must be called; a
// slow listener that fills its buffer loses notifications rather than
// stalling the watcher.
func (w *Watcher) Subscribe() (<-chan Notification, func()) {
	ch := make(chan Notification, subscriberBuffer)
	w.mu.Lock()
	w.subs[ch] = struct{}{}
	w.mu.Unlock()
	cancel := func() {
		w.mu.Lock()
		delete(w.subs, ch)
		w.mu.Unlock()
	}
	return ch, cancel
}

// Run polls until the context is cancelled. Poll errors back off and
// retry; the notification channel being quiet is not an error.
func (w *Watcher) Run(ctx context.Context) {
	var offset int64
	for {
		if ctx.Err() != nil {
			return
		}
		updates, err := w.Poller.GetUpdates(ctx, offset, w.PollTimeout)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			w.Log.Warn("notification poll failed", zap.Error(err))
			select {
			case <-ctx.Done():
				return
			case <-time.After(pollErrorBackoff):
			}
			continue
		}
		for _, u := range updates {
			if u.UpdateID >= offset {
				offset = u.UpdateID + 1
			}
			if u.Message == nil || u.Message.ChatID != w.Channel {
				continue
			}
			if w.stale(u.Message) {
				continue
			}
			w.broadcast(ParseNotification(*u.Message))
		}
	}
}

// stale reports whether a dated message predates the freshness floor.
// Undated messages are always fresh.
func (w *Watcher) stale(m *backend.Message) bool {
	if m.Date == 0 || w.Since.IsZero() {
		return false
	}
	return time.Unix(m.Date, 0).Before(w.Since)
}

func (w *Watcher) broadcast(n Notification) {
	w.mu.Lock()
	defer w.mu.Unlock()
	for ch := range w.subs {
		select {
		case ch <- n:
		default:
			w.Log.Warn("subscriber buffer full, notification dropped",
				zap.Int64("message_id", n.MessageID))
		}
	}
}
