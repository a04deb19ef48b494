package event

// Event is anything the engine can publish to a UI.
type Event interface {
	Kind() Kind
	Session() string
}

// Sink receives engine events. Publish is fire-and-forget and must not block;
// implementations buffer or drop on their own terms.
type Sink interface {
	Publish(e Event)
}

// NopSink discards every event. It is the default when no UI is attached.
type NopSink struct{}

func (NopSink) Publish(Event) {}

// Fanout publishes to several sinks in order.
type Fanout []Sink

func (f Fanout) Publish(e Event) {
	for _, s := range f {
		if s != nil {
			s.Publish(e)
		}
	}
}
