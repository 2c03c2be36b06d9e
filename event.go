package b23bot

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
)

// Params are the parameters of an outbound action.
type Params map[string]any

// Sender issues outbound actions. *Client implements it.
type Sender interface {
	Send(ctx context.Context, action string, params Params) (string, error)
}

// Event is any decoded inbound event.
type Event interface {
	PostType() string
}

// BaseEvent holds the fields every event frame carries.
type BaseEvent struct {
	Type   string `json:"post_type"`
	Time   int64  `json:"time"`
	SelfID int64  `json:"self_id"`
}

func (e *BaseEvent) PostType() string { return e.Type }

// MessageSender describes who sent a message.
type MessageSender struct {
	UserID   int64  `json:"user_id"`
	Nickname string `json:"nickname"`
	Card     string `json:"card,omitempty"`
	Role     string `json:"role,omitempty"`
}

// DisplayName prefers the group card over the nickname.
func (s MessageSender) DisplayName() string {
	if s.Card != "" {
		return s.Card
	}
	return s.Nickname
}

// MessageEvent is a private or group message.
type MessageEvent struct {
	BaseEvent
	MessageType string        `json:"message_type"`
	SubType     string        `json:"sub_type"`
	MessageID   int64         `json:"message_id"`
	UserID      int64         `json:"user_id"`
	GroupID     int64         `json:"group_id,omitempty"`
	Message     Segments      `json:"message"`
	RawMessage  string        `json:"raw_message"`
	Font        int           `json:"font"`
	Sender      MessageSender `json:"sender"`
	MessageSeq  int64         `json:"message_seq"`

	// GroupName is filled from the group cache, falling back to the id.
	GroupName string `json:"-"`
}

// IsGroup reports whether the message was posted in a group.
func (e *MessageEvent) IsGroup() bool { return e.MessageType == "group" }

// Text returns the concatenated plain text of the message.
func (e *MessageEvent) Text() string { return PlainText(e.Message) }

// ExtendedMessageEvent is a MessageEvent bound to the live connection for
// the duration of one dispatch.
type ExtendedMessageEvent struct {
	*MessageEvent
	sender Sender
}

func augment(e *MessageEvent, s Sender) *ExtendedMessageEvent {
	return &ExtendedMessageEvent{MessageEvent: e, sender: s}
}

// Reply answers in the conversation the message came from. Strings become
// text segments and Segments pass through unchanged. With quote set the
// reply references the original message.
func (e *ExtendedMessageEvent) Reply(ctx context.Context, quote bool, content ...any) error {
	if e.sender == nil {
		return ErrNotConnected
	}
	segs := make([]Segment, 0, len(content)+1)
	if quote {
		segs = append(segs, Reply(e.MessageID))
	}
	segs = append(segs, toSegments(content)...)

	action := "send_private_msg"
	params := Params{"user_id": e.UserID, "message": segs}
	if e.IsGroup() {
		action = "send_group_msg"
		params = Params{"group_id": e.GroupID, "message": segs}
	}
	_, err := e.sender.Send(ctx, action, params)
	return err
}

// NoticeEvent is a notice such as a group member change or a recall.
type NoticeEvent struct {
	BaseEvent
	NoticeType string `json:"notice_type"`
	SubType    string `json:"sub_type,omitempty"`
	UserID     int64  `json:"user_id"`
	GroupID    int64  `json:"group_id,omitempty"`
	OperatorID int64  `json:"operator_id,omitempty"`

	// Raw is the full frame for notice kinds with extra fields.
	Raw json.RawMessage `json:"-"`
}

// RequestEvent is a friend or group-join request.
type RequestEvent struct {
	BaseEvent
	RequestType string `json:"request_type"`
	SubType     string `json:"sub_type,omitempty"`
	UserID      int64  `json:"user_id"`
	GroupID     int64  `json:"group_id,omitempty"`
	Comment     string `json:"comment"`
	Flag        string `json:"flag"`

	sender Sender
}

// Approve accepts the request. remark is the friend remark or ignored for
// group requests.
func (e *RequestEvent) Approve(ctx context.Context, remark string) error {
	return e.answer(ctx, true, remark)
}

// Reject declines the request with an optional reason.
func (e *RequestEvent) Reject(ctx context.Context, reason string) error {
	return e.answer(ctx, false, reason)
}

func (e *RequestEvent) answer(ctx context.Context, approve bool, note string) error {
	if e.sender == nil {
		return ErrNotConnected
	}
	if e.RequestType == "group" {
		_, err := e.sender.Send(ctx, "set_group_add_request", Params{
			"flag":     e.Flag,
			"sub_type": e.SubType,
			"approve":  approve,
			"reason":   note,
		})
		return err
	}
	_, err := e.sender.Send(ctx, "set_friend_add_request", Params{
		"flag":    e.Flag,
		"approve": approve,
		"remark":  note,
	})
	return err
}

// Response is a gateway reply to an action.
type Response struct {
	Status  string          `json:"status"`
	Retcode int64           `json:"retcode"`
	Data    json.RawMessage `json:"data"`
	Message string          `json:"message"`
	Echo    string          `json:"-"`
}

// OK reports whether the gateway accepted the action.
func (r *Response) OK() bool { return r.Status == "ok" }

// inboundFrame is the union of both inbound shapes. Event frames carry
// post_type, replies carry echo.
type inboundFrame struct {
	PostType string          `json:"post_type"`
	Echo     json.RawMessage `json:"echo"`
	Status   string          `json:"status"`
	Retcode  int64           `json:"retcode"`
	Data     json.RawMessage `json:"data"`
	Message  json.RawMessage `json:"message"`
	Wording  string          `json:"wording"`
}

func parseFrame(data []byte) (*inboundFrame, error) {
	var f inboundFrame
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("decode frame: %w", err)
	}
	return &f, nil
}

// token returns the echo as a string, whatever JSON type it arrived as.
func (f *inboundFrame) token() string {
	if len(f.Echo) == 0 || string(f.Echo) == "null" {
		return ""
	}
	var s string
	if err := json.Unmarshal(f.Echo, &s); err == nil {
		return s
	}
	return string(f.Echo)
}

func (f *inboundFrame) isResponse() bool {
	return f.PostType == "" && f.token() != ""
}

func (f *inboundFrame) response() *Response {
	r := &Response{
		Status:  f.Status,
		Retcode: f.Retcode,
		Data:    f.Data,
		Echo:    f.token(),
	}
	if len(f.Message) > 0 {
		var msg string
		if err := json.Unmarshal(f.Message, &msg); err == nil {
			r.Message = msg
		}
	}
	if r.Message == "" {
		r.Message = f.Wording
	}
	return r
}

func decodeMessageEvent(data []byte) (*MessageEvent, error) {
	var e MessageEvent
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, fmt.Errorf("decode message event: %w", err)
	}
	return &e, nil
}

func decodeNoticeEvent(data []byte) (*NoticeEvent, error) {
	var e NoticeEvent
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, fmt.Errorf("decode notice event: %w", err)
	}
	e.Raw = append(json.RawMessage(nil), data...)
	return &e, nil
}

func decodeRequestEvent(data []byte) (*RequestEvent, error) {
	var e RequestEvent
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, fmt.Errorf("decode request event: %w", err)
	}
	return &e, nil
}

// targetID picks the primary target out of action params.
func targetID(params Params) int64 {
	for _, key := range []string{"group_id", "user_id"} {
		if v, ok := params[key]; ok {
			if id, ok := asInt64(v); ok {
				return id
			}
		}
	}
	return 0
}

func asInt64(v any) (int64, bool) {
	switch t := v.(type) {
	case int64:
		return t, true
	case int:
		return int64(t), true
	case int32:
		return int64(t), true
	case uint32:
		return int64(t), true
	case uint64:
		return int64(t), true
	case float64:
		return int64(t), true
	case json.Number:
		n, err := t.Int64()
		return n, err == nil
	case string:
		n, err := strconv.ParseInt(t, 10, 64)
		return n, err == nil
	default:
		return 0, false
	}
}
