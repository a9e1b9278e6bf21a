package coordination

import (
	"encoding/json"

	"github.com/Iron-Ham/autostore/internal/event"
	"github.com/Iron-Ham/autostore/internal/logging"
	"github.com/Iron-Ham/autostore/internal/model"
)

const defaultEventBuffer = 1024

// EventAppender is the store capability the event log needs.
type EventAppender interface {
	AppendEvent(rec model.EventRecord) (int64, error)
}

// eventLog drains a bus stream into the store's events table.
type eventLog struct {
	bus    *event.Bus
	store  EventAppender
	logger *logging.Logger
	stream *event.Stream
	done   chan struct{}
}

func newEventLog(bus *event.Bus, st EventAppender, logger *logging.Logger, buffer int) *eventLog {
	if buffer <= 0 {
		buffer = defaultEventBuffer
	}
	l := &eventLog{
		bus:    bus,
		store:  st,
		logger: logger.WithComponent("eventlog"),
		stream: bus.SubscribeStream(buffer),
		done:   make(chan struct{}),
	}
	return l
}

// run writes events until stop is closed, then flushes what is buffered.
func (l *eventLog) run(stop <-chan struct{}) {
	defer close(l.done)
	for {
		select {
		case e := <-l.stream.C:
			l.write(e)
		case <-stop:
			l.bus.Unsubscribe(l.stream.ID)
			for {
				select {
				case e := <-l.stream.C:
					l.write(e)
				default:
					if n := l.stream.Dropped(); n > 0 {
						l.logger.Warn("event log dropped events", "count", n)
					}
					return
				}
			}
		}
	}
}

func (l *eventLog) write(e event.Event) {
	payload, err := json.Marshal(e)
	if err != nil {
		l.logger.Warn("failed to encode event", "type", e.EventType(), "error", err)
		return
	}
	entity, id := e.Subject()
	rec := model.EventRecord{
		Kind:      event.WireName(e.EventType()),
		Entity:    entity,
		EntityID:  id,
		Payload:   string(payload),
		CreatedAt: e.Timestamp(),
	}
	if _, err := l.store.AppendEvent(rec); err != nil {
		l.logger.Warn("failed to append event", "type", rec.Kind, "error", err)
	}
}
