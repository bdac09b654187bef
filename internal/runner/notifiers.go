package runner

import (
	"github.com/kenmeiwatch/kenmeiwatch/internal/config"
	"github.com/kenmeiwatch/kenmeiwatch/internal/notify"
)

// BuildNotifier assembles the services enabled in cfg. Pushover is always
// present; the others are added when their settings are filled in.
func BuildNotifier(cfg *config.Config) *notify.MultiNotifier {
	notify.SetHTTPTimeout(cfg.HTTPTimeout)
	n := notify.NewMultiNotifier()
	n.SetAttempts(cfg.NotifyAttempts)

	entries := []struct {
		enabled bool
		add     func()
	}{
		{cfg.PushoverAppKey != "" && cfg.PushoverAccKey != "", func() {
			n.Add(&notify.Pushover{UserKey: cfg.PushoverAccKey, APIToken: cfg.PushoverAppKey})
		}},
		{cfg.GotifyURL != "" && cfg.GotifyToken != "", func() { n.Add(&notify.Gotify{ServerURL: cfg.GotifyURL, Token: cfg.GotifyToken}) }},
		{cfg.DiscordWebhook != "", func() { n.Add(&notify.Discord{WebhookURL: cfg.DiscordWebhook}) }},
		{cfg.GenericWebhookURL != "", func() { n.Add(&notify.Generic{WebhookURL: cfg.GenericWebhookURL}) }},
	}
	for _, e := range entries {
		if e.enabled {
			e.add()
		}
	}
	return n
}
