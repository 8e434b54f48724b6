package backend

import (
	"encoding/json"
	"fmt"
)

// MediaKind selects the media variant for send and upload calls.
type MediaKind string

const (
	MediaPhoto    MediaKind = "photo"
	MediaDocument MediaKind = "document"
	MediaVoice    MediaKind = "voice"
	MediaAudio    MediaKind = "audio"
)

func (k MediaKind) Valid() bool {
	switch k {
	case MediaPhoto, MediaDocument, MediaVoice, MediaAudio:
		return true
	default:
		return false
	}
}

// FileHandle references a file the backend already holds.
type FileHandle struct {
	FileID   string `json:"file_id"`
	UniqueID string `json:"file_unique_id,omitempty"`
	FileName string `json:"file_name,omitempty"`
	FileSize int64  `json:"file_size,omitempty"`
}

// Message is the backend message document. Unknown fields survive a
// decode/encode round trip via the Extra tail so captured fixtures keep
// whatever the backend adds later.
type Message struct {
	MessageID int64        `json:"message_id"`
	ChatID    string       `json:"chat_id,omitempty"`
	Date      int64        `json:"date,omitempty"`
	Text      string       `json:"text,omitempty"`
	Caption   string       `json:"caption,omitempty"`
	Photo     []FileHandle `json:"photo,omitempty"`
	Document  *FileHandle  `json:"document,omitempty"`
	Voice     *FileHandle  `json:"voice,omitempty"`
	Audio     *FileHandle  `json:"audio,omitempty"`

	Extra map[string]any `json:"-"`
}

var knownMessageKeys = map[string]bool{
	"message_id": true,
	"chat_id":    true,
	"date":       true,
	"text":       true,
	"caption":    true,
	"photo":      true,
	"document":   true,
	"voice":      true,
	"audio":      true,
}

func (m *Message) UnmarshalJSON(b []byte) error {
	type alias Message
	var a alias
	if err := json.Unmarshal(b, &a); err != nil {
		return err
	}
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	for k, v := range raw {
		if knownMessageKeys[k] {
			continue
		}
		var val any
		if err := json.Unmarshal(v, &val); err != nil {
			return fmt.Errorf("decode message field %q: %w", k, err)
		}
		if a.Extra == nil {
			a.Extra = map[string]any{}
		}
		a.Extra[k] = val
	}
	*m = Message(a)
	return nil
}

func (m Message) MarshalJSON() ([]byte, error) {
	type alias Message
	b, err := json.Marshal(alias(m))
	if err != nil {
		return nil, err
	}
	if len(m.Extra) == 0 {
		return b, nil
	}
	var merged map[string]any
	if err := json.Unmarshal(b, &merged); err != nil {
		return nil, err
	}
	for k, v := range m.Extra {
		if !knownMessageKeys[k] {
			merged[k] = v
		}
	}
	return json.Marshal(merged)
}

// Body returns the text payload: text for text messages, caption otherwise.
func (m *Message) Body() string {
	if m.Text != "" {
		return m.Text
	}
	return m.Caption
}

// MediaHandles returns every file handle embedded in the message.
func (m *Message) MediaHandles() []FileHandle {
	var out []FileHandle
	out = append(out, m.Photo...)
	for _, h := range []*FileHandle{m.Document, m.Voice, m.Audio} {
		if h != nil {
			out = append(out, *h)
		}
	}
	return out
}

// PrimaryHandle returns the handle the message would be re-sent by, if any.
func (m *Message) PrimaryHandle() (FileHandle, MediaKind, bool) {
	switch {
	case len(m.Photo) > 0:
		// The largest rendition is last in the photo list.
		return m.Photo[len(m.Photo)-1], MediaPhoto, true
	case m.Document != nil:
		return *m.Document, MediaDocument, true
	case m.Voice != nil:
		return *m.Voice, MediaVoice, true
	case m.Audio != nil:
		return *m.Audio, MediaAudio, true
	default:
		return FileHandle{}, "", false
	}
}

// Update is one entry from the notification poll.
type Update struct {
	UpdateID int64    `json:"update_id"`
	Message  *Message `json:"message,omitempty"`
}
