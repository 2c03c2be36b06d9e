// Package demo is a small example plugin: a quoted test reply and a
// keyword-triggered voice clip fetched over HTTP.
package demo

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/b23bot/b23bot"
)

// Name is the plugin name used in the config file.
const Name = "demo"

// DefaultVoiceURL returns the URL of a random voice clip as plain text.
const DefaultVoiceURL = "https://api.tangdouz.com/zzz/j.php"

var keywords = []string{"ikun", "鸡哥", "鲲鲲", "坤坤"}

// New returns the demo plugin using DefaultVoiceURL.
func New() *b23bot.Plugin {
	return NewWithVoiceURL(DefaultVoiceURL)
}

// NewWithVoiceURL returns the demo plugin fetching clips from url.
func NewWithVoiceURL(url string) *b23bot.Plugin {
	return &b23bot.Plugin{
		Name:    Name,
		Version: "1.0.0",
		Setup: func(pc *b23bot.Context) error {
			pc.OnMessage(func(ctx context.Context, e *b23bot.ExtendedMessageEvent) error {
				text := pc.Text(e.MessageEvent)
				switch {
				case text == "测试1":
					return e.Reply(ctx, true, "测试", b23bot.Face("100"))
				case slices.Contains(keywords, text):
					// Fetch off the read goroutine.
					go sendVoice(pc, e, url)
				}
				return nil
			})
			return nil
		},
	}
}

func sendVoice(pc *b23bot.Context, e *b23bot.ExtendedMessageEvent, url string) {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	clip, err := fetchText(ctx, pc.HTTP(), url)
	if err != nil {
		pc.Logger().Warn("fetch voice clip", "url", url, "error", err)
		if err := e.Reply(ctx, true, "Error: ", err.Error()); err != nil {
			pc.Logger().Warn("reply failed", "error", err)
		}
		return
	}
	if err := e.Reply(ctx, false, b23bot.Record(clip)); err != nil {
		pc.Logger().Warn("reply failed", "error", err)
	}
}

func fetchText(ctx context.Context, client *http.Client, url string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", err
	}
	resp, err := client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return "", err
	}
	clip := strings.TrimSpace(string(body))
	if clip == "" {
		return "", fmt.Errorf("empty response")
	}
	return clip, nil
}
