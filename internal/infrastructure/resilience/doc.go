/*
Package resilience provides a circuit breaker for optional dependencies.

The session snapshot repository runs every Redis call through a Breaker so a
Redis outage turns into fast ErrCircuitOpen failures, and the session manager
keeps serving from memory, instead of every command waiting on a dial
timeout.

# Usage

	breaker := resilience.New("redis", resilience.Settings{
		Timeout: 30 * time.Second,
		ReadyToTrip: func(counts resilience.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
	})

	snap, err := resilience.Call(ctx, breaker, func(ctx context.Context) (*Snapshot, error) {
		return repo.load(ctx, id)
	})

# States

	Closed --[failures]-> Open --[timeout]-> Half-Open --[successes]-> Closed
	                                           |
	                                       [failure]
	                                           v
	                                          Open
*/
package resilience
