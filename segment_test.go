package b23bot

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSegment_Render(t *testing.T) {
	tests := []struct {
		name string
		seg  Segment
		want string
	}{
		{"text", Text("hello"), "hello"},
		{"face", Face("100"), "{face:100}"},
		{"at", At(12345, "alice"), "{at:12345}"},
		{"at all", AtAll(), "{at:all}"},
		{"image strips extension", Image("abcdef.image"), "{image:abcdef}"},
		{"record", Record("http://x/clip"), "{record:http://x/clip}"},
		{"video", Video("movie"), "{video:movie}"},
		{"reply has no log form", Reply(99), ""},
		{"unknown type", Segment{Type: "json"}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.seg.Render())
		})
	}
}

func TestRenderSegments(t *testing.T) {
	segs := []Segment{Text("测试"), Face("100"), Reply(1), At(7, "")}
	assert.Equal(t, "测试{face:100}{at:7}", RenderSegments(segs))
	assert.Equal(t, "测试", PlainText(segs))
}

func TestSegments_UnmarshalString(t *testing.T) {
	var segs Segments
	require.NoError(t, json.Unmarshal([]byte(`"plain text"`), &segs))
	require.Len(t, segs, 1)
	assert.Equal(t, "text", segs[0].Type)
	assert.Equal(t, "plain text", PlainText(segs))
}

func TestSegments_UnmarshalArray(t *testing.T) {
	var segs Segments
	raw := `[{"type":"text","data":{"text":"hi "}},{"type":"face","data":{"id":"14"}},{"type":"image","data":{"file":"a1b2.jpg","url":"http://x"}}]`
	require.NoError(t, json.Unmarshal([]byte(raw), &segs))
	assert.Equal(t, "hi {face:14}{image:a1b2}", RenderSegments(segs))
}

func TestImageBytes(t *testing.T) {
	seg := ImageBytes([]byte("png"))
	assert.Equal(t, "base64://cG5n", seg.Data["file"])
	assert.Equal(t, "true", seg.Data["cache"])
}

func TestToSegments(t *testing.T) {
	face := Face("1")
	segs := toSegments([]any{"a", Face("100"), &face, []Segment{Text("b")}, 42})
	require.Len(t, segs, 5)
	assert.Equal(t, "a{face:100}{face:1}b42", RenderSegments(segs))
}
