//go:build (darwin && arm64) || (linux && (arm64 || amd64))

package httpserver

import (
	"encoding/json"
	"net/http"

	"github.com/Slashx124/NeonShell/pkg/define"
	"github.com/Slashx124/NeonShell/pkg/event"
	"github.com/sirupsen/logrus"
	"github.com/tmaxmax/go-sse"
)

// TopicAll receives every event; per-session topics receive only their own.
const TopicAll = "global"

func sessionTopic(id string) string {
	return "sess-" + id
}

// sseServer wraps the SSE server with helper methods. Subscribers pick their
// topic with the session query parameter; without one they get everything.
type sseServer struct {
	server *sse.Server
}

func newSSEServer() *sseServer {
	return &sseServer{
		server: &sse.Server{
			OnSession: func(w http.ResponseWriter, r *http.Request) ([]string, bool) {
				if id := r.URL.Query().Get("session"); id != "" {
					return []string{sessionTopic(id)}, true
				}
				return []string{TopicAll}, true
			},
		},
	}
}

func (s *sseServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.server.ServeHTTP(w, r)
}

func (s *sseServer) publish(topics []string, msgType, data string) {
	msg := &sse.Message{}
	msg.AppendData(data)
	msg.Type = sse.Type(msgType)

	if err := s.server.Publish(msg, topics...); err != nil {
		logrus.Warnf("sse: failed to publish message: %v", err)
	}
}

// EventBridge forwards engine events onto the SSE stream. Publish never
// blocks: events pass through a bounded queue drained by a single pump
// goroutine, and are dropped with a warning when the queue is full.
type EventBridge struct {
	sse *sseServer
	ch  chan event.Event
}

func newEventBridge(s *sseServer) *EventBridge {
	b := &EventBridge{
		sse: s,
		ch:  make(chan event.Event, define.EventBridgeQueueDepth),
	}
	go b.pump()
	return b
}

func (b *EventBridge) Publish(e event.Event) {
	select {
	case b.ch <- e:
	default:
		logrus.Warnf("event bridge full, dropping %s event for session %s", e.Kind(), e.Session())
	}
}

func (b *EventBridge) pump() {
	for e := range b.ch {
		payload, err := json.Marshal(e)
		if err != nil {
			logrus.Errorf("failed to marshal %s event: %v", e.Kind(), err)
			continue
		}

		topics := []string{TopicAll}
		if id := e.Session(); id != "" {
			topics = append(topics, sessionTopic(id))
		}
		b.sse.publish(topics, string(e.Kind()), string(payload))
	}
}
