// Package event provides the pub-sub bus that mirrors every fleet transition
// to observers.
//
// # Main Types
//
//   - [Event]: interface with EventType, Timestamp and Subject
//   - [Bus]: synchronous pub-sub dispatcher, safe for concurrent use
//   - [Stream]: buffered channel subscription that drops when full
//
// # Events
//
//   - [BotMoveEvent] ("bot.move", wire "bot_move"): a bot committed a step
//   - [StatusUpdateEvent] ("status.update", wire "status_update"): a bot, bin,
//     order or bin lock changed status
//   - [BinPickupEvent], [BinDropEvent], [BinReturnEvent]: bin handling
//   - [BinMoveEvent]: a carried bin followed its bot
//
// # Ordering
//
// Publish runs handlers on the caller's goroutine, so events about one entity
// arrive in production order. Handler panics are recovered and logged; a
// failing observer never affects coordination.
package event
