// Package messaging is the operator channel: it delivers digests and
// alerts, and receives operator commands, over the Telegram Bot API.
package messaging

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/dwsmith1983/runwarden/pkg/types"
)

// DefaultBaseURL is the public Bot API.
const DefaultBaseURL = "https://api.telegram.org"

// MaxMessageLen is the Bot API limit on one message's text.
const MaxMessageLen = 4096

// Telegram is a Bot API client bound to one default chat.
type Telegram struct {
	http    *http.Client
	baseURL string
	token   string
	chatID  string
	logger  *slog.Logger
}

// Option configures a Telegram client.
type Option func(*Telegram)

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(t *Telegram) { t.http = c }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(t *Telegram) { t.logger = l }
}

// NewTelegram creates a client for the given bot token.
func NewTelegram(cfg types.TelegramConfig, token string, opts ...Option) *Telegram {
	base := strings.TrimRight(cfg.BaseURL, "/")
	if base == "" {
		base = DefaultBaseURL
	}
	t := &Telegram{
		http:    &http.Client{Timeout: 30 * time.Second},
		baseURL: base,
		token:   token,
		chatID:  cfg.ChatID,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

type apiResponse struct {
	OK          bool            `json:"ok"`
	Description string          `json:"description"`
	Result      json.RawMessage `json:"result"`
}

type update struct {
	UpdateID int64    `json:"update_id"`
	Message  *message `json:"message"`
}

type message struct {
	Date int64 `json:"date"`
	Text string `json:"text"`
	Chat struct {
		ID int64 `json:"id"`
	} `json:"chat"`
	From *struct {
		Username string `json:"username"`
	} `json:"from"`
}

// Send delivers text to the default chat.
func (t *Telegram) Send(ctx context.Context, text string) error {
	return t.SendTo(ctx, t.chatID, text)
}

// SendTo delivers text to a chat, split into as many messages as the
// length limit requires.
func (t *Telegram) SendTo(ctx context.Context, chatID, text string) error {
	if chatID == "" {
		return &types.TransportError{Op: "messaging.send", Err: errors.New("no chat id configured")}
	}
	for i, part := range Split(text, MaxMessageLen) {
		body, err := json.Marshal(map[string]interface{}{
			"chat_id":                  chatID,
			"text":                     part,
			"disable_web_page_preview": true,
		})
		if err != nil {
			return err
		}
		if _, err := t.call(ctx, http.MethodPost, "sendMessage", nil, body); err != nil {
			return &types.TransportError{Op: "messaging.send", Err: fmt.Errorf("part %d: %w", i+1, err)}
		}
	}
	return nil
}

// Receive returns pending messages with update ids >= offset. It does not
// long-poll.
func (t *Telegram) Receive(ctx context.Context, offset int64) ([]types.InboundMessage, error) {
	q := url.Values{}
	q.Set("offset", strconv.FormatInt(offset, 10))
	q.Set("timeout", "0")
	q.Set("allowed_updates", `["message"]`)

	raw, err := t.call(ctx, http.MethodGet, "getUpdates", q, nil)
	if err != nil {
		return nil, &types.TransportError{Op: "messaging.receive", Err: err}
	}
	var updates []update
	if err := json.Unmarshal(raw, &updates); err != nil {
		return nil, &types.TransportError{Op: "messaging.receive", Err: fmt.Errorf("decoding updates: %w", err)}
	}

	msgs := make([]types.InboundMessage, 0, len(updates))
	for _, u := range updates {
		msgs = append(msgs, u.inbound())
	}
	return msgs, nil
}

// ParseUpdate decodes one webhook update body.
func ParseUpdate(body []byte) (types.InboundMessage, error) {
	var u update
	if err := json.Unmarshal(body, &u); err != nil {
		return types.InboundMessage{}, &types.ParseError{Input: string(body), Reason: err.Error()}
	}
	if u.UpdateID == 0 {
		return types.InboundMessage{}, &types.ParseError{Input: string(body), Reason: "missing update_id"}
	}
	return u.inbound(), nil
}

// Updates without a text message still advance the cursor, so they are
// returned with empty text.
func (u update) inbound() types.InboundMessage {
	in := types.InboundMessage{UpdateID: u.UpdateID}
	if u.Message == nil {
		return in
	}
	in.ChatID = strconv.FormatInt(u.Message.Chat.ID, 10)
	in.Text = u.Message.Text
	if u.Message.From != nil {
		in.From = u.Message.From.Username
	}
	if u.Message.Date > 0 {
		in.SentAt = time.Unix(u.Message.Date, 0).UTC()
	}
	return in
}

func (t *Telegram) call(ctx context.Context, method, endpoint string, q url.Values, body []byte) (json.RawMessage, error) {
	u := fmt.Sprintf("%s/bot%s/%s", t.baseURL, t.token, endpoint)
	if len(q) > 0 {
		u += "?" + q.Encode()
	}
	var rd io.Reader
	if body != nil {
		rd = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, u, rd)
	if err != nil {
		// The URL holds the bot token; never surface it.
		return nil, fmt.Errorf("building %s request", endpoint)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := t.http.Do(req)
	if err != nil {
		var urlErr *url.Error
		if errors.As(err, &urlErr) {
			err = urlErr.Err
		}
		return nil, fmt.Errorf("%s: %w", endpoint, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, fmt.Errorf("%s: reading response: %w", endpoint, err)
	}
	var out apiResponse
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("%s: status %d: undecodable response", endpoint, resp.StatusCode)
	}
	if !out.OK || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("%s: status %d: %s", endpoint, resp.StatusCode, out.Description)
	}
	return out.Result, nil
}

// Split breaks text into parts of at most limit runes, preferring line
// breaks. Concatenating the parts yields text.
func Split(text string, limit int) []string {
	if limit <= 0 || utf8.RuneCountInString(text) <= limit {
		return []string{text}
	}
	var parts []string
	for utf8.RuneCountInString(text) > limit {
		cut := byteOffset(text, limit)
		if nl := strings.LastIndexByte(text[:cut], '\n'); nl > 0 {
			cut = nl + 1
		}
		parts = append(parts, text[:cut])
		text = text[cut:]
	}
	if text != "" {
		parts = append(parts, text)
	}
	return parts
}

// byteOffset returns the byte index just past the first n runes of s.
func byteOffset(s string, n int) int {
	i := 0
	for range n {
		_, size := utf8.DecodeRuneInString(s[i:])
		i += size
	}
	return i
}
