// Package device holds the derived view of the fish feeder and the single
// path through which it changes.
//
// # Architecture
//
//	  session manager ──SetConnection──┐
//	  telemetry registry ──Apply───────┤
//	  command dispatcher ──BeginOptimisticFeed
//	                                   ▼
//	                          ┌─────────────────┐
//	                          │   Store.Run     │  one event at a time
//	                          │   Reducer       │  pure topic+payload → State
//	                          └────────┬────────┘
//	                                   │
//	                 Snapshot ◀────────┴────────▶ Watch (latest wins)
//
// # Telemetry
//
// Each topic carries a small JSON object:
//
//	feed/level   {"level": 42}         clamped to [0, 100]
//	feed/last    {"last_feed": "08:30"}
//	feed/status  {"status": "FEEDING"} Feeding = status contains "feed"
//
// Any message that cannot be decoded is dropped and State is left as it was.
// The error says why (see DropReason).
//
// # Optimistic feed
//
// BeginOptimisticFeed raises Feeding only while connected and schedules an
// unconditional revert after OptimisticFeedWindow. A StatusEvent arriving
// inside the window may be overwritten by the revert; the last write wins.
//
// # Usage
//
//	store := device.NewStore(device.StoreOptions{Logger: log})
//	go store.Run(ctx)
//
//	_ = store.SetConnection(device.ConnectionConnected)
//	if err := store.Apply("feed/level", []byte(`{"level":150}`)); err != nil {
//	    log.Debug("telemetry dropped", "reason", device.DropReason(err))
//	}
//	st := store.Snapshot() // *st.FoodLevelPercent == 100
package device
