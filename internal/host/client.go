// Package host talks to the agent host that owns the canonical transcript.
// The host exposes an opencode-style session API over HTTP.
package host

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	apperrors "github.com/router-for-me/prunepilot/internal/errors"
	"github.com/router-for-me/prunepilot/internal/session"
	log "github.com/sirupsen/logrus"
)

// Client implements session.Host.
type Client struct {
	client *resty.Client
}

var _ session.Host = (*Client)(nil)

// NewClient returns a client for the host API at baseURL.
func NewClient(baseURL, token string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	c := resty.New().
		SetBaseURL(strings.TrimRight(baseURL, "/")).
		SetTimeout(timeout).
		SetHeader("Content-Type", "application/json")
	if token != "" {
		c.SetAuthToken(token)
	}
	return &Client{client: c}
}

func sessionPath(id string, suffix string) string {
	return "/session/" + url.PathEscape(id) + suffix
}

// GetMessages fetches the full transcript of sessionID.
func (c *Client) GetMessages(ctx context.Context, sessionID string) ([]session.Message, error) {
	resp, err := c.client.R().
		SetContext(ctx).
		Get(sessionPath(sessionID, "/message"))
	if err != nil {
		return nil, apperrors.HostRPC("get messages", err)
	}
	if err := checkStatus(resp, sessionID, "get messages"); err != nil {
		return nil, err
	}
	return decodeMessages(sessionID, resp.Body())
}

type rawMessage struct {
	Info  json.RawMessage `json:"info"`
	Parts json.RawMessage `json:"parts"`
}

// decodeMessages decodes the transcript element by element. Messages with
// unreadable metadata and parts that fail to decode are dropped; only a body
// that is not a JSON array is an error.
func decodeMessages(sessionID string, body []byte) ([]session.Message, error) {
	var raw []json.RawMessage
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, apperrors.HostRPC("decode messages", err)
	}
	out := make([]session.Message, 0, len(raw))
	skipped := 0
	for _, item := range raw {
		var rm rawMessage
		var msg session.Message
		if err := json.Unmarshal(item, &rm); err != nil || json.Unmarshal(rm.Info, &msg.Info) != nil {
			skipped++
			continue
		}
		var parts []json.RawMessage
		if len(rm.Parts) > 0 && json.Unmarshal(rm.Parts, &parts) != nil {
			skipped++
		}
		for _, rp := range parts {
			var part session.Part
			if err := json.Unmarshal(rp, &part); err != nil {
				skipped++
				continue
			}
			msg.Parts = append(msg.Parts, part)
		}
		out = append(out, msg)
	}
	if skipped > 0 {
		log.WithFields(log.Fields{"session": sessionID, "skipped": skipped}).Debug("dropped malformed transcript entries")
	}
	return out, nil
}

// GetSession fetches session metadata.
func (c *Client) GetSession(ctx context.Context, sessionID string) (session.Info, error) {
	resp, err := c.client.R().
		SetContext(ctx).
		Get(sessionPath(sessionID, ""))
	if err != nil {
		return session.Info{}, apperrors.HostRPC("get session", err)
	}
	if err := checkStatus(resp, sessionID, "get session"); err != nil {
		return session.Info{}, err
	}
	var out session.Info
	if err := json.Unmarshal(resp.Body(), &out); err != nil {
		return session.Info{}, apperrors.HostRPC("decode session", err)
	}
	return out, nil
}

type promptPart struct {
	Type    string `json:"type"`
	Text    string `json:"text"`
	Ignored bool   `json:"ignored,omitempty"`
}

type promptRequest struct {
	NoReply bool         `json:"noReply"`
	Parts   []promptPart `json:"parts"`
}

// SendGuidanceMessage posts text as an ignored part without asking the model
// for a reply, so the user sees it and the model does not.
func (c *Client) SendGuidanceMessage(ctx context.Context, sessionID, text string) error {
	body := promptRequest{
		NoReply: true,
		Parts:   []promptPart{{Type: session.PartText, Text: text, Ignored: true}},
	}
	resp, err := c.client.R().
		SetContext(ctx).
		SetBody(body).
		Post(sessionPath(sessionID, "/message"))
	if err != nil {
		return apperrors.HostRPC("send guidance", err)
	}
	return checkStatus(resp, sessionID, "send guidance")
}

func checkStatus(resp *resty.Response, sessionID, op string) error {
	switch code := resp.StatusCode(); {
	case code == http.StatusNotFound:
		return apperrors.New(http.StatusNotFound, apperrors.CodeSessionNotFound, "session "+sessionID+" not found", nil)
	case code < 200 || code >= 300:
		return apperrors.HostRPC(op, &statusError{code: code, body: resp.String()})
	}
	return nil
}

type statusError struct {
	code int
	body string
}

func (e *statusError) Error() string {
	msg := http.StatusText(e.code)
	if b := strings.TrimSpace(e.body); b != "" {
		if len(b) > 200 {
			b = b[:200]
		}
		msg += ": " + b
	}
	return msg
}
