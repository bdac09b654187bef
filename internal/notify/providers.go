package notify

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"
)

// --- Pushover (Mobile Push) ---
var pushoverAPIURL = "https://api.pushover.net/1/messages.json"

// Pushover sends messages through the Pushover API. UserKey is the account
// (user) key, APIToken the application token.
type Pushover struct{ UserKey, APIToken string }

func (p *Pushover) Name() string { return "Pushover" }
func (p *Pushover) Send(ctx context.Context, title, message string) error {
	form := url.Values{}
	form.Set("token", p.APIToken)
	form.Set("user", p.UserKey)
	form.Set("message", message)
	if title != "" {
		form.Set("title", title)
	}
	return postForm(ctx, pushoverAPIURL, form)
}

// --- Gotify (Self-Hosted Push) ---
type Gotify struct{ ServerURL, Token string }

func (g *Gotify) Name() string { return "Gotify" }
func (g *Gotify) Send(ctx context.Context, title, message string) error {
	endpoint := fmt.Sprintf("%s/message", strings.TrimRight(g.ServerURL, "/"))
	payload := map[string]interface{}{"title": title, "message": message, "priority": 5}
	return postJSON(ctx, endpoint, payload, map[string]string{"X-Gotify-Key": g.Token})
}

// --- Discord ---
type Discord struct{ WebhookURL string }

func (d *Discord) Name() string { return "Discord" }
func (d *Discord) Send(ctx context.Context, title, message string) error {
	payload := map[string]interface{}{
		"username": "kenmeiwatch",
		"embeds":   []map[string]interface{}{{"title": title, "description": message, "color": 15105570, "timestamp": time.Now().Format(time.RFC3339)}},
	}
	return postJSON(ctx, d.WebhookURL, payload, nil)
}

// --- Generic Webhook ---
type Generic struct{ WebhookURL string }

func (g *Generic) Name() string { return "GenericWebhook" }
func (g *Generic) Send(ctx context.Context, title, message string) error {
	payload := map[string]string{"title": title, "message": message, "agent": "kenmeiwatch"}
	return postJSON(ctx, g.WebhookURL, payload, nil)
}
