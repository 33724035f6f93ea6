package health

import (
	"fmt"
	"strings"

	"github.com/vyrodovalexey/agentgateway/internal/circuitbreaker"
)

// BreakerStates reports the circuit state per destination.
type BreakerStates interface {
	States() map[string]circuitbreaker.State
}

// CircuitBreakerCheck reports degraded while any destination circuit is
// open or half-open.
func CircuitBreakerCheck(breakers BreakerStates) CheckFunc {
	return func() Check {
		states := breakers.States()

		var tripped []string
		for _, name := range sortedKeys(states) {
			if s := states[name]; s != circuitbreaker.StateClosed {
				tripped = append(tripped, fmt.Sprintf("%s=%s", name, s))
			}
		}
		if len(tripped) == 0 {
			return Check{Status: StatusHealthy}
		}
		return Check{
			Status:  StatusDegraded,
			Message: "circuits not closed: " + strings.Join(tripped, ", "),
		}
	}
}
