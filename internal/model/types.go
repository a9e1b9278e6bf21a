// Package model defines the domain records shared by the fleet, the order
// manager and the record store.
//
// Bots and bins are provisioned once and live for the process lifetime.
// Orders are created on request and are terminal once packed. An id of
// zero in a reference field (AssignedOrderID, CarriedBinID, HolderID)
// means "none".
package model

import (
	"slices"
	"time"

	"github.com/Iron-Ham/autostore/internal/grid"
)

// BotStatus is the fleet state machine position of a bot.
type BotStatus string

const (
	BotIdle       BotStatus = "idle"
	BotMoving     BotStatus = "moving"
	BotCarrying   BotStatus = "carrying"
	BotDelivering BotStatus = "delivering"
	BotReturning  BotStatus = "returning"
	// BotPacking marks a bot parked between items while it waits for the
	// next bin lock of a multi-item order.
	BotPacking BotStatus = "packing"
)

// Busy reports whether the status belongs to an active fulfillment.
func (s BotStatus) Busy() bool { return s != BotIdle }

// botTransitions lists the forward moves of one fulfillment. Going idle is
// always allowed.
var botTransitions = map[BotStatus][]BotStatus{
	BotIdle:       {BotMoving},
	BotMoving:     {BotCarrying},
	BotCarrying:   {BotDelivering, BotReturning},
	BotDelivering: {BotReturning},
	BotReturning:  {BotMoving, BotPacking},
	BotPacking:    {BotMoving},
}

// CanBecome reports whether a bot in status s may move to next.
func (s BotStatus) CanBecome(next BotStatus) bool {
	if next == s || next == BotIdle {
		return true
	}
	return slices.Contains(botTransitions[s], next)
}

// BinStatus is the lifecycle position of a bin.
type BinStatus string

const (
	BinAvailable BinStatus = "available"
	BinLocked    BinStatus = "locked"
	BinInUse     BinStatus = "in-use"
	BinDelivered BinStatus = "delivered"
	BinInTransit BinStatus = "in-transit"
)

// OnGrid reports whether a bin with this status stands on its home cell.
func (s BinStatus) OnGrid() bool { return s == BinAvailable || s == BinLocked }

// OrderStatus is the lifecycle position of an order.
type OrderStatus string

const (
	OrderPending OrderStatus = "pending"
	OrderPacking OrderStatus = "packing"
	OrderPacked  OrderStatus = "packed"
)

// LockStatus is the state of a bin lock.
type LockStatus string

const (
	LockAvailable LockStatus = "available"
	LockLocked    LockStatus = "locked"
)

// Bot is a grid robot.
type Bot struct {
	ID              int64        `json:"id"`
	Name            string       `json:"name"`
	X               int          `json:"x"`
	Y               int          `json:"y"`
	Z               int          `json:"z"`
	Status          BotStatus    `json:"status"`
	Parking         grid.Point   `json:"parking"`
	AssignedOrderID int64        `json:"assigned_order_id,omitempty"`
	CarriedBinID    int64        `json:"carried_bin_id,omitempty"`
	Path            []grid.Point `json:"path,omitempty"`
	FullPath        []grid.Point `json:"full_path,omitempty"`
	UpdatedAt       time.Time    `json:"updated_at"`
}

// Pos returns the bot's current cell.
func (b Bot) Pos() grid.Point { return grid.P(b.X, b.Y) }

// Clone returns a deep copy safe to hand outside a lock.
func (b Bot) Clone() Bot {
	b.Path = append([]grid.Point(nil), b.Path...)
	b.FullPath = append([]grid.Point(nil), b.FullPath...)
	return b
}

// Bin is a storage container.
type Bin struct {
	ID        int64      `json:"id"`
	X         int        `json:"x"`
	Y         int        `json:"y"`
	Z         int        `json:"z"`
	Status    BinStatus  `json:"status"`
	Home      grid.Point `json:"home"`
	HomeZ     int        `json:"home_z"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// Pos returns the bin's current cell.
func (b Bin) Pos() grid.Point { return grid.P(b.X, b.Y) }

// Product is a catalog entry stored in a single bin.
type Product struct {
	SKU   string `json:"sku"`
	Name  string `json:"name"`
	BinID int64  `json:"bin_id"`
}

// OrderItem is one line of an order.
type OrderItem struct {
	ProductRef string `json:"product"`
	Quantity   int    `json:"quantity"`
	BinID      int64  `json:"bin_id,omitempty"`
	Delivered  bool   `json:"delivered,omitempty"`
}

// Order is a picking order.
type Order struct {
	ID            int64       `json:"id"`
	Status        OrderStatus `json:"status"`
	AssignedBotID int64       `json:"assigned_bot_id,omitempty"`
	Items         []OrderItem `json:"items"`
	CreatedAt     time.Time   `json:"created_at"`
	UpdatedAt     time.Time   `json:"updated_at"`
}

// Clone returns a deep copy safe to hand outside a lock.
func (o Order) Clone() Order {
	o.Items = append([]OrderItem(nil), o.Items...)
	return o
}

// BinLock is the mutual-exclusion record for one bin.
type BinLock struct {
	BinID     int64      `json:"bin_id"`
	HolderID  int64      `json:"holder_id,omitempty"`
	Status    LockStatus `json:"status"`
	Waiting   []int64    `json:"waiting_list"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// Clone returns a deep copy safe to hand outside a lock.
func (l BinLock) Clone() BinLock {
	l.Waiting = append([]int64(nil), l.Waiting...)
	return l
}

// EventRecord is one entry of the store-level event log.
type EventRecord struct {
	ID        int64     `json:"id"`
	Kind      string    `json:"kind"`
	Entity    string    `json:"entity,omitempty"`
	EntityID  int64     `json:"entity_id,omitempty"`
	Payload   string    `json:"payload"`
	CreatedAt time.Time `json:"created_at"`
}
