// Package event defines the fleet's observable events and the bus that
// carries them to observers such as the store-level event log and the CLI.
package event

import (
	"encoding/json"
	"time"
)

// Event is the interface that all events must implement.
type Event interface {
	// EventType returns a string identifier for this event type.
	// Convention: "category.action" (e.g., "bot.move", "bin.pickup")
	EventType() string

	// Timestamp returns when the event occurred.
	Timestamp() time.Time

	// Subject names the entity the event is about, for per-entity ordering.
	Subject() (entity string, id int64)
}

// Event type identifiers.
const (
	TypeBotMove      = "bot.move"
	TypeStatusUpdate = "status.update"
	TypeBinPickup    = "bin.pickup"
	TypeBinDrop      = "bin.drop"
	TypeBinReturn    = "bin.return"
	TypeBinMove      = "bin.move"
)

// Entity names used by StatusUpdateEvent.
const (
	EntityBot     = "bot"
	EntityBin     = "bin"
	EntityOrder   = "order"
	EntityBinLock = "bin_lock"
)

var wireNames = map[string]string{
	TypeBotMove:      "bot_move",
	TypeStatusUpdate: "status_update",
	TypeBinPickup:    "bin_pickup",
	TypeBinDrop:      "bin_drop",
	TypeBinReturn:    "bin_return",
	TypeBinMove:      "bin_move",
}

// WireName returns the external name of an event type, e.g. "bot_move".
func WireName(eventType string) string {
	if n, ok := wireNames[eventType]; ok {
		return n
	}
	return eventType
}

// Encode renders an event as {"event": <wire name>, "at": ..., "data": {...}}.
func Encode(e Event) ([]byte, error) {
	return json.Marshal(struct {
		Event string    `json:"event"`
		At    time.Time `json:"at"`
		Data  Event     `json:"data"`
	}{
		Event: WireName(e.EventType()),
		At:    e.Timestamp(),
		Data:  e,
	})
}

type baseEvent struct {
	eventType string
	timestamp time.Time
}

func (e baseEvent) EventType() string    { return e.eventType }
func (e baseEvent) Timestamp() time.Time { return e.timestamp }

func newBaseEvent(eventType string) baseEvent {
	return baseEvent{
		eventType: eventType,
		timestamp: time.Now(),
	}
}

// BotMoveEvent is emitted after every committed bot step.
type BotMoveEvent struct {
	baseEvent
	BotID  int64  `json:"bot_id"`
	X      int    `json:"x"`
	Y      int    `json:"y"`
	Z      int    `json:"z"`
	Status string `json:"status"`
}

// NewBotMoveEvent creates a BotMoveEvent.
func NewBotMoveEvent(botID int64, x, y, z int, status string) BotMoveEvent {
	return BotMoveEvent{
		baseEvent: newBaseEvent(TypeBotMove),
		BotID:     botID,
		X:         x,
		Y:         y,
		Z:         z,
		Status:    status,
	}
}

func (e BotMoveEvent) Subject() (string, int64) { return EntityBot, e.BotID }

// StatusUpdateEvent is emitted on every bot, bin, order or lock status change.
type StatusUpdateEvent struct {
	baseEvent
	Entity    string `json:"entity"`
	ID        int64  `json:"id"`
	NewStatus string `json:"new_status"`
}

// NewStatusUpdateEvent creates a StatusUpdateEvent.
func NewStatusUpdateEvent(entity string, id int64, newStatus string) StatusUpdateEvent {
	return StatusUpdateEvent{
		baseEvent: newBaseEvent(TypeStatusUpdate),
		Entity:    entity,
		ID:        id,
		NewStatus: newStatus,
	}
}

func (e StatusUpdateEvent) Subject() (string, int64) { return e.Entity, e.ID }

// BinPickupEvent is emitted when a bot lifts a bin off its home cell.
type BinPickupEvent struct {
	baseEvent
	BotID int64 `json:"bot_id"`
	BinID int64 `json:"bin_id"`
}

// NewBinPickupEvent creates a BinPickupEvent.
func NewBinPickupEvent(botID, binID int64) BinPickupEvent {
	return BinPickupEvent{baseEvent: newBaseEvent(TypeBinPickup), BotID: botID, BinID: binID}
}

func (e BinPickupEvent) Subject() (string, int64) { return EntityBin, e.BinID }

// BinDropEvent is emitted when a bot sets a bin down at the delivery station.
type BinDropEvent struct {
	baseEvent
	BotID int64 `json:"bot_id"`
	BinID int64 `json:"bin_id"`
}

// NewBinDropEvent creates a BinDropEvent.
func NewBinDropEvent(botID, binID int64) BinDropEvent {
	return BinDropEvent{baseEvent: newBaseEvent(TypeBinDrop), BotID: botID, BinID: binID}
}

func (e BinDropEvent) Subject() (string, int64) { return EntityBin, e.BinID }

// BinReturnEvent is emitted when a bin is restored to its home cell.
type BinReturnEvent struct {
	baseEvent
	BinID int64 `json:"bin_id"`
	X     int   `json:"x"`
	Y     int   `json:"y"`
	Z     int   `json:"z"`
}

// NewBinReturnEvent creates a BinReturnEvent.
func NewBinReturnEvent(binID int64, x, y, z int) BinReturnEvent {
	return BinReturnEvent{baseEvent: newBaseEvent(TypeBinReturn), BinID: binID, X: x, Y: y, Z: z}
}

func (e BinReturnEvent) Subject() (string, int64) { return EntityBin, e.BinID }

// BinMoveEvent mirrors a carried bin following its bot.
type BinMoveEvent struct {
	baseEvent
	BinID int64 `json:"bin_id"`
	BotID int64 `json:"bot_id"`
	X     int   `json:"x"`
	Y     int   `json:"y"`
	Z     int   `json:"z"`
}

// NewBinMoveEvent creates a BinMoveEvent.
func NewBinMoveEvent(binID, botID int64, x, y, z int) BinMoveEvent {
	return BinMoveEvent{baseEvent: newBaseEvent(TypeBinMove), BinID: binID, BotID: botID, X: x, Y: y, Z: z}
}

func (e BinMoveEvent) Subject() (string, int64) { return EntityBin, e.BinID }
