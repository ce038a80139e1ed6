package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/exec"
	"runtime"
	"time"
)

// DesktopPusher shows OS notifications through osascript on macOS and
// notify-send elsewhere.
type DesktopPusher struct {
	GOOS     string
	LookPath func(file string) (string, error)
	Run      func(ctx context.Context, name string, args ...string) error
}

func NewDesktopPusher() *DesktopPusher {
	return &DesktopPusher{
		GOOS:     runtime.GOOS,
		LookPath: exec.LookPath,
		Run: func(ctx context.Context, name string, args ...string) error {
			return exec.CommandContext(ctx, name, args...).Run()
		},
	}
}

func (d *DesktopPusher) command() string {
	switch d.GOOS {
	case "darwin":
		return "osascript"
	case "linux", "freebsd", "openbsd", "netbsd":
		return "notify-send"
	default:
		return ""
	}
}

func (d *DesktopPusher) Permission() Permission {
	cmd := d.command()
	if cmd == "" {
		return PermissionUnsupported
	}
	if _, err := d.LookPath(cmd); err != nil {
		return PermissionUnsupported
	}
	return PermissionGranted
}

func (d *DesktopPusher) Push(ctx context.Context, p Push) error {
	cmd := d.command()
	var args []string
	switch cmd {
	case "osascript":
		script := fmt.Sprintf(`display notification %q with title "livefeed" subtitle %q`, p.Body, p.Title)
		if p.Urgent {
			script += ` sound name "Glass"`
		}
		args = []string{"-e", script}
	case "notify-send":
		urgency := "normal"
		if p.Urgent {
			urgency = "critical"
		}
		args = []string{"-a", "livefeed", "-u", urgency}
		if p.Tag != "" {
			args = append(args,
				"-h", "string:x-dunst-stack-tag:"+p.Tag,
				"-h", "string:x-canonical-private-synchronous:"+p.Tag,
			)
		}
		args = append(args, p.Title, p.Body)
	default:
		return fmt.Errorf("desktop notifications unsupported on %s", d.GOOS)
	}
	return d.Run(ctx, cmd, args...)
}

type ntfyPayload struct {
	Title    string   `json:"title"`
	Message  string   `json:"message"`
	Priority int      `json:"priority"`
	Tags     []string `json:"tags"`
}

// NtfyPusher publishes to an ntfy topic URL.
type NtfyPusher struct {
	url    string
	client *http.Client
}

func NewNtfyPusher(url string) *NtfyPusher {
	return &NtfyPusher{url: url, client: &http.Client{Timeout: 5 * time.Second}}
}

func (n *NtfyPusher) Permission() Permission { return PermissionGranted }

func (n *NtfyPusher) Push(ctx context.Context, p Push) error {
	payload := ntfyPayload{
		Title:    p.Title,
		Message:  p.Body,
		Priority: 3,
		Tags:     []string{"bell"},
	}
	if p.Urgent {
		payload.Priority = 5
		payload.Tags = []string{"rotating_light"}
	}
	if p.Tag != "" {
		payload.Tags = append(payload.Tags, p.Tag)
	}
	return postJSON(ctx, n.client, n.url, payload)
}

type webhookPayload struct {
	Title     string `json:"title"`
	Body      string `json:"body"`
	Tag       string `json:"tag,omitempty"`
	Urgent    bool   `json:"urgent"`
	Timestamp string `json:"timestamp"`
}

type WebhookPusher struct {
	url    string
	client *http.Client
}

func NewWebhookPusher(url string) *WebhookPusher {
	return &WebhookPusher{url: url, client: &http.Client{Timeout: 5 * time.Second}}
}

func (w *WebhookPusher) Permission() Permission { return PermissionGranted }

func (w *WebhookPusher) Push(ctx context.Context, p Push) error {
	return postJSON(ctx, w.client, w.url, webhookPayload{
		Title:     p.Title,
		Body:      p.Body,
		Tag:       p.Tag,
		Urgent:    p.Urgent,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

func postJSON(ctx context.Context, client *http.Client, url string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("POST %s: status %d", url, resp.StatusCode)
	}
	return nil
}

// MultiPusher fans a push out to every member that has permission.
type MultiPusher []Pusher

func (m MultiPusher) Permission() Permission {
	result := PermissionUnsupported
	for _, p := range m {
		switch p.Permission() {
		case PermissionGranted:
			return PermissionGranted
		case PermissionDenied:
			result = PermissionDenied
		}
	}
	return result
}

func (m MultiPusher) Push(ctx context.Context, p Push) error {
	var errs []error
	for _, member := range m {
		if member.Permission() != PermissionGranted {
			continue
		}
		if err := member.Push(ctx, p); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// NewPusher builds the push channels enabled in cfg.
func NewPusher(cfg Config, logger *slog.Logger) Pusher {
	if !cfg.Enabled {
		logger.Debug("notify: push disabled")
		return MultiPusher(nil)
	}
	var m MultiPusher
	if cfg.Desktop {
		m = append(m, NewDesktopPusher())
	}
	if cfg.NtfyURL != "" {
		m = append(m, NewNtfyPusher(cfg.NtfyURL))
	}
	if cfg.Webhook != "" {
		m = append(m, NewWebhookPusher(cfg.Webhook))
	}
	logger.Debug("notify: push channels", "count", len(m), "permission", m.Permission().String())
	return m
}
