/*
Package events provides an in-memory event broker for copycat's Raft
lifecycle notifications. pkg/raft publishes role transitions, term
changes and commit-index advancement; the membership-change and
compaction-done types are defined but not published by any package.

It decouples pkg/raft from its observers (pkg/log and test harnesses),
which subscribe without the core consensus code needing to know they
exist. pkg/metrics stays on its own polling
Collector instead of subscribing (see DESIGN.md).

# Usage

	broker := events.NewBroker()
	broker.Start()
	defer broker.Stop()

	sub := broker.Subscribe()
	defer broker.Unsubscribe(sub)

	broker.Publish(&events.Event{Type: events.EventRoleChanged, Message: "follower -> candidate"})

	for ev := range sub {
		log.Logger.Info().Str("type", string(ev.Type)).Msg(ev.Message)
	}
*/
package events
