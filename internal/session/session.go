// Package session defines the messaging session the gateway fronts and a
// Telegram-backed implementation of it.
package session

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/DGGua/oicq/internal/onebot"
)

// ErrOffline is returned by send capabilities before Login has succeeded.
var ErrOffline = errors.New("session offline")

// Session is the live messaging account behind the gateway. Capability
// invocations from the action queue land here.
type Session interface {
	AccountID() int64
	HasGroup(id int64) bool

	SendPrivateMessage(targetID int64, message any, quote any) error
	SendGroupMessage(targetID int64, message any, quote any) error

	Login(password []byte) error
	Logout() error
	SubmitSlider(ticket string) error
}

// renderText flattens a message body into plain text. Bodies arrive either
// as a raw string, a segment array, or a single segment object (the JSON
// decoder hands those over as map[string]any).
func renderText(message any) string {
	switch m := message.(type) {
	case nil:
		return ""
	case string:
		return m
	case []onebot.TextSegment:
		var b strings.Builder
		for _, seg := range m {
			b.WriteString(seg.Text)
		}
		return b.String()
	case []any:
		var b strings.Builder
		for _, item := range m {
			b.WriteString(renderText(item))
		}
		return b.String()
	case map[string]any:
		if text, ok := m["text"].(string); ok {
			return text
		}
		if data, ok := m["data"].(map[string]any); ok {
			if text, ok := data["text"].(string); ok {
				return text
			}
		}
		return ""
	default:
		return fmt.Sprint(m)
	}
}

// quoteID extracts a reply-target message id from a quote argument.
// Zero means no quote.
func quoteID(quote any) int {
	switch q := quote.(type) {
	case nil:
		return 0
	case int:
		return q
	case int64:
		return int(q)
	case float64:
		return int(q)
	case string:
		id, err := strconv.Atoi(q)
		if err != nil {
			return 0
		}
		return id
	case map[string]any:
		return quoteID(q["message_id"])
	default:
		return 0
	}
}
