// Package b23bot provides a plugin-based QQ bot framework that talks to a
// OneBot v11 gateway (such as NapCat) over a forward WebSocket.
//
// The framework is built from three pieces:
//
//   - Client: owns the connection, correlates action calls with their
//     echo tokens and reconnects when the link drops
//   - Router: decodes inbound events and fans them out to subscribers,
//     dispatching each message as both "message" and "message.<type>"
//   - Registry: loads plugins from a Catalog, tracks their subscriptions
//     and persists which ones are enabled in the ConfigStore
//
// Bot wires the three together. Basic usage:
//
//	store, err := b23bot.OpenStore("config.toml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	catalog := b23bot.NewCatalog()
//	catalog.MustRegister("echo", func() *b23bot.Plugin {
//	    return &b23bot.Plugin{
//	        Name:    "echo",
//	        Version: "1.0.0",
//	        Setup: func(pc *b23bot.Context) error {
//	            pc.OnMessage(func(ctx context.Context, e *b23bot.ExtendedMessageEvent) error {
//	                return e.Reply(ctx, true, e.Text())
//	            })
//	            return nil
//	        },
//	    }
//	})
//
//	bot, err := b23bot.New(store, catalog, b23bot.WithErrorHandler(b23bot.LogErrors(slog.Default())))
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if err := bot.Run(ctx); err != nil {
//	    log.Fatal(err)
//	}
package b23bot
