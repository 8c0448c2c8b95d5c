package notifications_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"slices"
	"strings"
	"sync"
	"testing"

	"audiorouter/internal/config"
	"audiorouter/internal/notifications"
	"audiorouter/internal/reconcile"
)

type recorder struct {
	mu       sync.Mutex
	requests []string
}

func (r *recorder) handler(status int) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		r.mu.Lock()
		r.requests = append(r.requests, req.Method+" "+req.URL.RequestURI())
		r.mu.Unlock()
		w.WriteHeader(status)
	}
}

func (r *recorder) got() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.requests)
}

func companionConfig(url string) *config.Config {
	cfg := config.Default()
	cfg.Companion.Enabled = true
	cfg.Companion.URL = url + "/"
	return &cfg
}

func TestNewServiceReturnsNoopWhenDisabled(t *testing.T) {
	cfg := config.Default()
	svc := notifications.NewService(&cfg)
	if svc.Enabled() {
		t.Fatal("expected disabled service")
	}
	if err := svc.PublishChanges(context.Background(), nil, []reconcile.BusState{{Key: "vsink.music", Volume: 50}}); err != nil {
		t.Fatalf("noop returned %v", err)
	}
}

func TestPublishChangesSendsOnlyDifferences(t *testing.T) {
	rec := &recorder{}
	srv := httptest.NewServer(rec.handler(http.StatusOK))
	defer srv.Close()

	svc := notifications.NewService(companionConfig(srv.URL))
	previous := []reconcile.BusState{
		{Key: "vsink.music", Volume: 80, Mute: false},
		{Key: "vsink.voice-chat", Volume: 100, Mute: false},
	}
	current := []reconcile.BusState{
		{Key: "vsink.music", Volume: 80, Mute: false},
		{Key: "vsink.voice-chat", Volume: 65, Mute: true},
		{Key: "vsink.game_audio", Volume: 40, Mute: false},
	}
	if err := svc.PublishChanges(context.Background(), previous, current); err != nil {
		t.Fatalf("PublishChanges: %v", err)
	}

	want := []string{
		"POST /api/custom-variable/voiceChatVol/value?value=65",
		"POST /api/custom-variable/voiceChatMute/value?value=1",
		"POST /api/custom-variable/gameAudioVol/value?value=40",
		"POST /api/custom-variable/gameAudioMute/value?value=0",
	}
	if got := rec.got(); !slices.Equal(got, want) {
		t.Fatalf("requests = %v\nwant %v", got, want)
	}
}

func TestPublishBusClampsVolumeAndSkipsNil(t *testing.T) {
	rec := &recorder{}
	srv := httptest.NewServer(rec.handler(http.StatusOK))
	defer srv.Close()

	svc := notifications.NewService(companionConfig(srv.URL))
	vol := 140
	if err := svc.PublishBus(context.Background(), "vsink.music", &vol, nil); err != nil {
		t.Fatalf("PublishBus: %v", err)
	}
	got := rec.got()
	if len(got) != 1 || got[0] != "POST /api/custom-variable/musicVol/value?value=100" {
		t.Fatalf("unexpected requests %v", got)
	}
}

func TestPublishReportsHTTPErrors(t *testing.T) {
	rec := &recorder{}
	srv := httptest.NewServer(rec.handler(http.StatusNotFound))
	defer srv.Close()

	svc := notifications.NewService(companionConfig(srv.URL))
	mute := true
	err := svc.PublishBus(context.Background(), "vsink.music", nil, &mute)
	if err == nil || !strings.Contains(err.Error(), "404") {
		t.Fatalf("expected 404 error, got %v", err)
	}
}
