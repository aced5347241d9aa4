// Package onebot defines the wire types of the event/action protocol:
// event envelopes posted to sinks, action request frames read from clients,
// and the response retcodes.
package onebot

import (
	"encoding/json"
	"time"
)

// Post types carried in the post_type field of every event.
const (
	PostTypeMessage   = "message"
	PostTypeNotice    = "notice"
	PostTypeRequest   = "request"
	PostTypeMetaEvent = "meta_event"
)

// Meta event subtypes.
const (
	MetaLifecycle = "lifecycle"
	MetaHeartbeat = "heartbeat"
)

// Lifecycle subtypes.
const (
	LifecycleConnect = "connect"
	LifecycleEnable  = "enable"
	LifecycleDisable = "disable"
)

// Response retcodes.
const (
	RetcodeAsync      = 1
	RetcodeNotFound   = 1404
	RetcodeBadRequest = 1400
)

// AsyncAck is the fixed success response for every accepted action.
// Accepted actions are queued, not awaited, so the ack never carries data.
const AsyncAck = `{"retcode":1,"status":"async","data":null}`

// Message render modes for the post_message_format setting.
const (
	MessageFormatArray  = "array"
	MessageFormatString = "string"
)

// ActionRequest is an inbound action frame (WS) or body (HTTP).
type ActionRequest struct {
	Action string         `json:"action"`
	Data   map[string]any `json:"data"`
	Echo   any            `json:"echo"`
}

// FailureFrame builds a failed response frame for WS clients. The caller's
// echo is preserved so it can correlate the failure with its request.
func FailureFrame(retcode int, echo any) []byte {
	frame, _ := json.Marshal(map[string]any{
		"retcode": retcode,
		"status":  "failed",
		"data":    nil,
		"echo":    echo,
	})
	return frame
}

// MetaEvent is a lifecycle or heartbeat envelope.
type MetaEvent struct {
	SelfID        int64  `json:"self_id"`
	Time          int64  `json:"time"`
	PostType      string `json:"post_type"`
	MetaEventType string `json:"meta_event_type"`
	SubType       string `json:"sub_type,omitempty"`
	Interval      int    `json:"interval,omitempty"`
}

// Lifecycle builds a lifecycle meta event with the given subtype.
func Lifecycle(selfID int64, subType string) *MetaEvent {
	return &MetaEvent{
		SelfID:        selfID,
		Time:          time.Now().Unix(),
		PostType:      PostTypeMetaEvent,
		MetaEventType: MetaLifecycle,
		SubType:       subType,
	}
}

// Heartbeat builds a heartbeat meta event. interval is in milliseconds.
func Heartbeat(selfID int64, interval int) *MetaEvent {
	return &MetaEvent{
		SelfID:        selfID,
		Time:          time.Now().Unix(),
		PostType:      PostTypeMetaEvent,
		MetaEventType: MetaHeartbeat,
		Interval:      interval,
	}
}

// TextSegment is a plain-text message segment.
type TextSegment struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// Sender identifies the author of a message event.
type Sender struct {
	UserID   int64  `json:"user_id"`
	Nickname string `json:"nickname"`
}

// MessageEvent is an inbound private or group message.
type MessageEvent struct {
	SelfID      int64  `json:"self_id"`
	Time        int64  `json:"time"`
	PostType    string `json:"post_type"`
	MessageType string `json:"message_type"`
	SubType     string `json:"sub_type"`
	MessageID   string `json:"message_id"`
	UserID      int64  `json:"user_id"`
	GroupID     int64  `json:"group_id,omitempty"`
	Message     any    `json:"message"`
	RawMessage  string `json:"raw_message"`
	Sender      Sender `json:"sender"`
}

// NoticeEvent reports a state change such as a member joining a group.
type NoticeEvent struct {
	SelfID     int64  `json:"self_id"`
	Time       int64  `json:"time"`
	PostType   string `json:"post_type"`
	NoticeType string `json:"notice_type"`
	SubType    string `json:"sub_type,omitempty"`
	UserID     int64  `json:"user_id"`
	GroupID    int64  `json:"group_id,omitempty"`
}

// RequestEvent reports an inbound request that awaits a decision.
type RequestEvent struct {
	SelfID      int64  `json:"self_id"`
	Time        int64  `json:"time"`
	PostType    string `json:"post_type"`
	RequestType string `json:"request_type"`
	SubType     string `json:"sub_type,omitempty"`
	UserID      int64  `json:"user_id"`
	GroupID     int64  `json:"group_id,omitempty"`
	Flag        string `json:"flag,omitempty"`
}

// ApplyMessageFormat rewrites the message body of ev according to the
// configured post_message_format. In "string" mode the segment array is
// replaced with a single text segment built from raw_message.
func ApplyMessageFormat(ev *MessageEvent, format string) {
	if format != MessageFormatString {
		return
	}
	ev.Message = []TextSegment{{Type: "text", Text: ev.RawMessage}}
}
