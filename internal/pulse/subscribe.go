package pulse

import (
	"context"
	"regexp"
	"strconv"
	"sync"
)

const eventBuffer = 64

var eventLine = regexp.MustCompile(`^Event '([a-z]+)' on ([a-z-]+) #(\d+)\s*$`)

// ParseEvent decodes one line of `pactl subscribe` output. ok is false for
// lines that do not affect routing (client churn, source outputs, stream
// volume tweaks).
func ParseEvent(line string) (ChangeEvent, bool) {
	m := eventLine.FindStringSubmatch(line)
	if m == nil {
		return ChangeEvent{}, false
	}
	action, facility := m[1], m[2]
	index, err := strconv.ParseUint(m[3], 10, 32)
	if err != nil {
		return ChangeEvent{}, false
	}
	event := ChangeEvent{Facility: facility, Index: uint32(index)}
	switch facility + "/" + action {
	case "sink/new", "card/new":
		event.Kind = DeviceAdded
	case "sink/remove", "card/remove":
		event.Kind = DeviceRemoved
	case "sink/change":
		event.Kind = SinkPropertyChanged
	case "sink-input/new":
		event.Kind = StreamAdded
	case "sink-input/remove":
		event.Kind = StreamRemoved
	case "server/change":
		event.Kind = ServerChanged
	case "module/remove":
		event.Kind = ModuleRemoved
	default:
		return ChangeEvent{}, false
	}
	return event, true
}

type pactlSubscription struct {
	events chan ChangeEvent
	cancel context.CancelFunc
	done   chan struct{}

	mu  sync.Mutex
	err error
}

func (s *pactlSubscription) Events() <-chan ChangeEvent { return s.events }

func (s *pactlSubscription) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *pactlSubscription) Close() error {
	s.cancel()
	<-s.done
	return nil
}

// Subscribe starts `pactl subscribe`. The server is pinged first so an
// unreachable server fails here rather than as an immediately closed stream.
func (p *Pactl) Subscribe(ctx context.Context) (Subscription, error) {
	if err := p.Ping(ctx); err != nil {
		return nil, err
	}
	subCtx, cancel := context.WithCancel(ctx)
	sub := &pactlSubscription{
		events: make(chan ChangeEvent, eventBuffer),
		cancel: cancel,
		done:   make(chan struct{}),
	}
	binary, argv := p.command("subscribe")
	go func() {
		defer close(sub.done)
		defer close(sub.events)
		err := p.exec.Stream(subCtx, binary, argv, func(line string) {
			event, ok := ParseEvent(line)
			if !ok {
				return
			}
			select {
			case sub.events <- event:
			case <-subCtx.Done():
			}
		})
		if subCtx.Err() != nil {
			return
		}
		sub.mu.Lock()
		sub.err = classify("subscribe", err)
		if !IsUnavailable(sub.err) {
			// Any end of the event stream means the connection is gone.
			sub.err = Wrap(ErrServerUnavailable, "subscribe", "event stream ended", err)
		}
		sub.mu.Unlock()
	}()
	return sub, nil
}
