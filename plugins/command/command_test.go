package command

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/b23bot/b23bot"
)

type fakeLink struct {
	mu   sync.Mutex
	sent []b23bot.Params
}

func (l *fakeLink) Send(ctx context.Context, action string, params b23bot.Params) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.sent = append(l.sent, params)
	return action + "_1_0", nil
}

func (l *fakeLink) Call(ctx context.Context, action string, params b23bot.Params) (*b23bot.Response, error) {
	_, err := l.Send(ctx, action, params)
	return &b23bot.Response{Status: "ok"}, err
}

func (l *fakeLink) Connected() bool                         { return true }
func (l *fakeLink) Groups() []b23bot.GroupInfo              { return []b23bot.GroupInfo{{GroupID: 100}} }
func (l *fakeLink) Group(id int64) (b23bot.GroupInfo, bool) { return b23bot.GroupInfo{GroupID: id}, true }

// lastReply returns the text of the most recent reply.
func (l *fakeLink) lastReply() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.sent) == 0 {
		return ""
	}
	segs, _ := l.sent[len(l.sent)-1]["message"].([]b23bot.Segment)
	return b23bot.PlainText(segs)
}

func (l *fakeLink) count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.sent)
}

type harness struct {
	link     *fakeLink
	store    *b23bot.ConfigStore
	router   *b23bot.Router
	registry *b23bot.Registry
}

const (
	rootID  = 1
	adminID = 2
	userID  = 3
)

func newHarness(t *testing.T) *harness {
	t.Helper()
	store, err := b23bot.CreateStore(filepath.Join(t.TempDir(), "config.toml"), b23bot.Document{
		Root:    []int64{rootID},
		Admin:   []int64{adminID},
		Plugins: []string{Name},
	})
	require.NoError(t, err)

	catalog := b23bot.NewCatalog()
	catalog.MustRegister(Name, New)
	catalog.MustRegister("extra", func() *b23bot.Plugin {
		return &b23bot.Plugin{Name: "extra", Version: "0.2.0", Setup: func(*b23bot.Context) error { return nil }}
	})

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	h := &harness{link: &fakeLink{}, store: store}
	h.router = b23bot.NewRouter(h.link, h.link, b23bot.WithLogger(logger))
	h.registry = b23bot.NewRegistry(catalog, store, h.router, h.link, b23bot.WithLogger(logger))
	require.NoError(t, h.registry.LoadAll(context.Background(), store.Plugins()))
	return h
}

// say delivers a group message from user and returns the bot's reply.
func (h *harness) say(user int64, text string) string {
	before := h.link.count()
	frame := fmt.Sprintf(`{"post_type":"message","message_type":"group","message_id":1,"group_id":100,"user_id":%d,
"message":[{"type":"text","data":{"text":%q}}],"sender":{"user_id":%d,"nickname":"u"}}`, user, text, user)
	h.router.HandleFrame(context.Background(), "message", []byte(frame))
	if h.link.count() == before {
		return ""
	}
	return h.link.lastReply()
}

func TestHelp(t *testing.T) {
	h := newHarness(t)
	assert.Equal(t, helpText, h.say(userID, ".help"))
}

func TestNonCommandsIgnored(t *testing.T) {
	h := newHarness(t)
	assert.Empty(t, h.say(userID, "hello"))
	assert.Empty(t, h.say(userID, "."))
	assert.Empty(t, h.say(userID, ".unknown"))
}

func TestStatusRequiresAdmin(t *testing.T) {
	h := newHarness(t)
	assert.Equal(t, msgDenied, h.say(userID, ".status"))

	reply := h.say(adminID, ".status")
	assert.True(t, strings.HasPrefix(reply, "框架状态:"), reply)
	assert.Contains(t, reply, "已加载插件: 1个")
	assert.Contains(t, reply, "已加入群组: 1个")
	assert.Contains(t, reply, "连接状态: 已连接")
}

func TestPluginList(t *testing.T) {
	h := newHarness(t)
	reply := h.say(rootID, ".plugin list")
	assert.Equal(t, "插件列表(1个):\ncmd v1.0.0 [启用]\nextra [未加载]", reply)
}

func TestPluginEnableDisable(t *testing.T) {
	h := newHarness(t)

	assert.Equal(t, msgDenied, h.say(userID, ".plugin enable extra"))
	assert.Equal(t, msgNeedName, h.say(adminID, ".plugin enable"))

	assert.Equal(t, "已启用插件: extra", h.say(adminID, ".plugin enable extra"))
	assert.Equal(t, []string{Name, "extra"}, h.store.Plugins())

	reply := h.say(adminID, ".plugin enable extra")
	assert.True(t, strings.HasPrefix(reply, msgFailed), reply)
	assert.Contains(t, reply, b23bot.ErrAlreadyEnabled.Error())

	assert.Equal(t, "已禁用插件: extra", h.say(adminID, ".plugin disable extra"))
	assert.Equal(t, []string{Name}, h.store.Plugins())

	reply = h.say(adminID, ".plugin disable extra")
	assert.Contains(t, reply, b23bot.ErrNotEnabled.Error())

	reply = h.say(adminID, ".plugin enable ghost")
	assert.Contains(t, reply, b23bot.ErrPluginNotFound.Error())
}

func TestPluginReloadSelf(t *testing.T) {
	h := newHarness(t)

	assert.Equal(t, "已重载插件: cmd", h.say(adminID, ".plugin reload cmd"))
	assert.Equal(t, 1, h.router.Count("message"), "reload leaves exactly one handler")
	assert.Equal(t, helpText, h.say(userID, ".help"))
}

func TestDisableSelfStopsCommands(t *testing.T) {
	h := newHarness(t)

	assert.Equal(t, "已禁用插件: cmd", h.say(adminID, ".plugin disable cmd"))
	assert.Empty(t, h.say(userID, ".help"))
}

func TestAdminAdd(t *testing.T) {
	h := newHarness(t)

	assert.Equal(t, msgDenied, h.say(adminID, ".admin add 9"), "admins cannot grant admin")
	assert.Equal(t, msgBadID, h.say(rootID, ".admin add abc"))
	assert.Equal(t, "已添加管理员: 9", h.say(rootID, ".admin add 9"))
	assert.True(t, h.store.IsAdmin(9))
	assert.Equal(t, "9 已经是管理员", h.say(rootID, ".admin add 9"))

	reopened, err := b23bot.OpenStore(h.store.Path())
	require.NoError(t, err)
	assert.True(t, reopened.IsAdmin(9))
}

func TestRootAdd(t *testing.T) {
	h := newHarness(t)

	assert.Equal(t, msgDenied, h.say(userID, ".root add 9"))
	assert.Equal(t, "已添加主人: 9", h.say(rootID, ".root add 9"))
	assert.True(t, h.store.IsRoot(9))
	assert.Empty(t, h.say(rootID, ".root remove 9"))
}
