// Package command is the chat command surface: help, framework status,
// plugin management and permission grants.
package command

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/b23bot/b23bot"
)

// Name is the plugin name used in the config file.
const Name = "cmd"

const helpText = `命令帮助:
.status - 查看框架状态
.plugin list - 查看插件列表
.plugin enable <name> - 启用插件
.plugin disable <name> - 禁用插件
.plugin reload <name> - 重载插件
.admin add <qq> - 添加管理员
.root add <qq> - 添加主人
注: 部分命令需要管理员或主人权限`

const (
	msgDenied   = "权限不足"
	msgNeedName = "请指定插件名"
	msgBadID    = "无效的QQ号"
	msgFailed   = "操作失败: "
)

// New returns the command plugin.
func New() *b23bot.Plugin {
	return &b23bot.Plugin{
		Name:    Name,
		Version: "1.0.0",
		Setup:   setup,
	}
}

func setup(pc *b23bot.Context) error {
	pc.OnMessage(func(ctx context.Context, e *b23bot.ExtendedMessageEvent) error {
		text := pc.Text(e.MessageEvent)
		if !strings.HasPrefix(text, ".") {
			return nil
		}
		fields := strings.Fields(text[1:])
		if len(fields) == 0 {
			return nil
		}

		reply, err := execute(ctx, pc, e.UserID, fields[0], fields[1:])
		switch {
		case errors.Is(err, b23bot.ErrPermissionDenied):
			pc.Logger().Info("command denied", "command", fields[0], "user_id", e.UserID)
			reply = msgDenied
		case err != nil:
			pc.Logger().Warn("command failed", "command", fields[0], "user_id", e.UserID, "error", err)
			reply = msgFailed + err.Error()
		}
		if reply == "" {
			return nil
		}
		return e.Reply(ctx, false, reply)
	})
	return nil
}

// execute runs one command and returns the reply text. An empty reply
// means the input was not a recognised command.
func execute(ctx context.Context, pc *b23bot.Context, userID int64, cmd string, args []string) (string, error) {
	switch cmd {
	case "help":
		return helpText, nil

	case "status":
		if !pc.IsAdmin(userID) {
			return "", b23bot.ErrPermissionDenied
		}
		return formatStatus(pc.Status()), nil

	case "plugin":
		if !pc.IsAdmin(userID) {
			return "", b23bot.ErrPermissionDenied
		}
		return managePlugins(ctx, pc.Plugins(), args)

	case "admin":
		if !pc.IsRoot(userID) {
			return "", b23bot.ErrPermissionDenied
		}
		return grant(args, pc.AddAdmin, "已添加管理员: %d", "%d 已经是管理员")

	case "root":
		if !pc.IsRoot(userID) {
			return "", b23bot.ErrPermissionDenied
		}
		return grant(args, pc.AddRoot, "已添加主人: %d", "%d 已经是主人")
	}
	return "", nil
}

func managePlugins(ctx context.Context, pm b23bot.PluginManager, args []string) (string, error) {
	if len(args) == 0 {
		return "", nil
	}
	if args[0] == "list" {
		return formatPlugins(pm.Status(), pm.Available()), nil
	}

	var (
		op   func(context.Context, string) error
		done string
	)
	switch args[0] {
	case "enable":
		op, done = pm.Enable, "已启用插件: "
	case "disable":
		op, done = pm.Disable, "已禁用插件: "
	case "reload":
		op, done = pm.Reload, "已重载插件: "
	default:
		return "", nil
	}
	if len(args) < 2 {
		return msgNeedName, nil
	}
	if err := op(ctx, args[1]); err != nil {
		return "", err
	}
	return done + args[1], nil
}

func grant(args []string, add func(int64) (bool, error), added, already string) (string, error) {
	if len(args) < 2 || args[0] != "add" {
		return "", nil
	}
	id, err := strconv.ParseInt(args[1], 10, 64)
	if err != nil || id <= 0 {
		return msgBadID, nil
	}
	ok, err := add(id)
	if err != nil {
		return "", err
	}
	if !ok {
		return fmt.Sprintf(already, id), nil
	}
	return fmt.Sprintf(added, id), nil
}

func formatStatus(st b23bot.Status) string {
	connected := "未连接"
	if st.Connected {
		connected = "已连接"
	}
	up := st.Uptime.Truncate(time.Minute)
	hours := int(up / time.Hour)
	minutes := int((up % time.Hour) / time.Minute)

	return fmt.Sprintf("框架状态:\n运行时间: %d小时%d分钟\n内存占用: %dMB\n已加载插件: %d个\n已加入群组: %d个\n连接状态: %s",
		hours, minutes, st.HeapInUse/1024/1024, st.Plugins.Total, st.Groups, connected)
}

func formatPlugins(st b23bot.PluginStatus, available []string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "插件列表(%d个):", st.Total)
	loaded := make(map[string]bool, len(st.Plugins))
	for _, p := range st.Plugins {
		loaded[p.Name] = true
		state := "禁用"
		if p.Enabled {
			state = "启用"
		}
		fmt.Fprintf(&b, "\n%s v%s [%s]", p.Name, p.Version, state)
	}
	for _, name := range available {
		if !loaded[name] {
			fmt.Fprintf(&b, "\n%s [未加载]", name)
		}
	}
	return b.String()
}
