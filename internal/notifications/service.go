package notifications

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"audiorouter/internal/config"
	"audiorouter/internal/reconcile"
	"audiorouter/internal/routing"
)

const userAgent = "audiorouter/0.1.0"

// Service defines the notification surface exposed to the daemon.
type Service interface {
	// PublishChanges sends every volume or mute value in current that differs
	// from previous. Buses absent from previous are published in full.
	PublishChanges(ctx context.Context, previous, current []reconcile.BusState) error
	// PublishBus sends the given values for one bus; nil values are skipped.
	PublishBus(ctx context.Context, key string, volume *int, mute *bool) error
	Enabled() bool
}

// NewService builds a Companion-backed service when enabled, a noop otherwise.
func NewService(cfg *config.Config) Service {
	if cfg == nil || !cfg.Companion.Enabled || strings.TrimSpace(cfg.Companion.URL) == "" {
		return noopService{}
	}

	timeout := cfg.CompanionTimeout()
	if timeout <= 0 {
		timeout = 2 * time.Second
	}

	return &companionService{
		baseURL:      strings.TrimRight(strings.TrimSpace(cfg.Companion.URL), "/"),
		volumeSuffix: cfg.Companion.VolumeSuffix,
		muteSuffix:   cfg.Companion.MuteSuffix,
		prefix:       cfg.Pulse.ManagedPrefix,
		client:       &http.Client{Timeout: timeout},
	}
}

type companionService struct {
	baseURL      string
	volumeSuffix string
	muteSuffix   string
	prefix       string
	client       *http.Client
}

func (c *companionService) Enabled() bool { return true }

func (c *companionService) PublishChanges(ctx context.Context, previous, current []reconcile.BusState) error {
	prev := make(map[string]reconcile.BusState, len(previous))
	for _, bus := range previous {
		prev[bus.Key] = bus
	}

	var errs []error
	for _, bus := range current {
		old, seen := prev[bus.Key]
		var (
			volume *int
			mute   *bool
		)
		if !seen || old.Volume != bus.Volume {
			v := bus.Volume
			volume = &v
		}
		if !seen || old.Mute != bus.Mute {
			m := bus.Mute
			mute = &m
		}
		if err := c.PublishBus(ctx, bus.Key, volume, mute); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (c *companionService) PublishBus(ctx context.Context, key string, volume *int, mute *bool) error {
	name := routing.VariableName(key, c.prefix)
	var errs []error
	if volume != nil {
		v := min(max(*volume, 0), 100)
		if err := c.post(ctx, name+c.volumeSuffix, strconv.Itoa(v)); err != nil {
			errs = append(errs, err)
		}
	}
	if mute != nil {
		value := "0"
		if *mute {
			value = "1"
		}
		if err := c.post(ctx, name+c.muteSuffix, value); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// variableURL builds <base>/api/custom-variable/<name>/value?value=<v>.
func (c *companionService) variableURL(name, value string) string {
	return fmt.Sprintf("%s/api/custom-variable/%s/value?value=%s",
		c.baseURL, url.PathEscape(name), url.QueryEscape(value))
}

func (c *companionService) post(ctx context.Context, name, value string) error {
	endpoint := c.variableURL(name, value)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, nil)
	if err != nil {
		return fmt.Errorf("build companion request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("set companion variable %s: %w", name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("companion returned %d for %s: %s", resp.StatusCode, name, strings.TrimSpace(string(body)))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

type noopService struct{}

func (noopService) PublishChanges(context.Context, []reconcile.BusState, []reconcile.BusState) error {
	return nil
}
func (noopService) PublishBus(context.Context, string, *int, *bool) error { return nil }
func (noopService) Enabled() bool                                          { return false }
