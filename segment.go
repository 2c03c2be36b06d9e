package b23bot

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Segment is one typed unit of message content as carried on the wire.
type Segment struct {
	Type string         `json:"type"`
	Data map[string]any `json:"data"`
}

// Segments is a message body. It also accepts the gateway's plain string
// form, which decodes to a single text segment.
type Segments []Segment

func (s *Segments) UnmarshalJSON(data []byte) error {
	if len(data) > 0 && data[0] == '"' {
		var text string
		if err := json.Unmarshal(data, &text); err != nil {
			return err
		}
		*s = Segments{Text(text)}
		return nil
	}
	var segs []Segment
	if err := json.Unmarshal(data, &segs); err != nil {
		return err
	}
	*s = segs
	return nil
}

// Text builds a text segment.
func Text(text string) Segment {
	return Segment{Type: "text", Data: map[string]any{"text": text}}
}

// Face builds a built-in emoji segment.
func Face(id string) Segment {
	return Segment{Type: "face", Data: map[string]any{"id": id}}
}

// At mentions a user. An empty name is omitted.
func At(userID int64, name string) Segment {
	data := map[string]any{"qq": strconv.FormatInt(userID, 10)}
	if name != "" {
		data["name"] = name
	}
	return Segment{Type: "at", Data: data}
}

// AtAll mentions every member of a group.
func AtAll() Segment {
	return Segment{Type: "at", Data: map[string]any{"qq": "all"}}
}

// Image references an image by file name, path or URL.
func Image(file string) Segment {
	return Segment{Type: "image", Data: map[string]any{"file": file, "cache": "true"}}
}

// ImageBytes embeds raw image bytes.
func ImageBytes(b []byte) Segment {
	return Image("base64://" + base64.StdEncoding.EncodeToString(b))
}

// Record references a voice clip.
func Record(file string) Segment {
	return Segment{Type: "record", Data: map[string]any{"file": file}}
}

// Video references a video file.
func Video(file string) Segment {
	return Segment{Type: "video", Data: map[string]any{"file": file}}
}

// Reply references an earlier message so the gateway threads the answer.
func Reply(messageID int64) Segment {
	return Segment{Type: "reply", Data: map[string]any{"id": messageID}}
}

func (s Segment) str(key string) string {
	v, ok := s.Data[key]
	if !ok || v == nil {
		return ""
	}
	switch t := v.(type) {
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	default:
		return fmt.Sprint(t)
	}
}

// Render returns the log form of a segment, e.g. "{face:100}".
// Types without a log form render as "".
func (s Segment) Render() string {
	switch s.Type {
	case "text":
		return s.str("text")
	case "at":
		return "{at:" + s.str("qq") + "}"
	case "face":
		return "{face:" + s.str("id") + "}"
	case "image":
		file := s.str("file")
		if i := strings.IndexByte(file, '.'); i >= 0 {
			file = file[:i]
		}
		return "{image:" + file + "}"
	case "record":
		return "{record:" + s.str("file") + "}"
	case "video":
		return "{video:" + s.str("file") + "}"
	default:
		return ""
	}
}

// RenderSegments flattens a segment sequence into one log line.
func RenderSegments(segs []Segment) string {
	var b strings.Builder
	for _, s := range segs {
		b.WriteString(s.Render())
	}
	return b.String()
}

// PlainText concatenates the text segments only.
func PlainText(segs []Segment) string {
	var b strings.Builder
	for _, s := range segs {
		if s.Type == "text" {
			b.WriteString(s.str("text"))
		}
	}
	return b.String()
}

// toSegments converts reply content: strings become text, segments pass
// through, anything else is printed as text.
func toSegments(content []any) []Segment {
	out := make([]Segment, 0, len(content))
	for _, item := range content {
		switch v := item.(type) {
		case string:
			out = append(out, Text(v))
		case Segment:
			out = append(out, v)
		case *Segment:
			if v != nil {
				out = append(out, *v)
			}
		case []Segment:
			out = append(out, v...)
		default:
			out = append(out, Text(fmt.Sprint(v)))
		}
	}
	return out
}
