/*
Package resilience provides a circuit breaker for calls to the control server.

The breaker has three states:

	Closed --[failures]-> Open --[timeout]-> Half-Open --[successes]-> Closed
	                                           |
	                                    [failure]
	                                           |
	                                           v
	                                         Open

Settings.IsSuccessful lets a caller count business rejections (a 400 with an
error message) as healthy responses, so only transport failures and server
errors open the circuit.

# Usage

	breaker := resilience.New("control", resilience.Settings{
		Timeout:     30 * time.Second,
		ReadyToTrip: func(c resilience.Counts) bool { return c.ConsecutiveFailures >= 5 },
	})

	status, err := resilience.Execute(breaker, func() (*Status, error) {
		return client.fetchStatus(ctx)
	})
*/
package resilience
