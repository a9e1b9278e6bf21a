// Package coordination provides a Hub that wires the warehouse components
// together for one running system.
//
// The Hub builds the pipeline from configuration:
//
//	Store → Bus → Reservation Table → Planner → Lock Manager → Coordinator → Order Manager
//
// Plus observers:
//
//   - Event Log (mirrors every broadcast event into the store)
//
// And the background loops owned by the order manager:
//
//   - Reconciliation (retries pending orders)
//   - Watchdog (reclaims stuck orders, sweeps stale locks)
//
// Usage:
//
//	hub, err := coordination.NewHub(coordination.Config{
//	    Settings: cfg,
//	    Store:    st,
//	    Logger:   logger,
//	})
//	if err != nil {
//	    return err
//	}
//	if err := hub.Start(ctx); err != nil {
//	    return err
//	}
//	defer hub.Stop()
//
//	res, err := hub.Orders().Create(ctx, items)
package coordination
