// Package statemachine provides a stateless transition-table validator used
// by the subscription and upgrade-session state machines.
//
// A Machine encodes which status changes are legal for an entity and rejects
// everything else with an errorx.InvalidTransitionError. It deliberately does
// not track a current state: records are loaded from storage, validated, and
// written back under a compare-and-swap, so the machine only needs to answer
// "is from -> to legal".
//
//	var subscriptionFSM = statemachine.New[Status]("subscription").
//		Allow(StatusActive, StatusPastDue, StatusCancelled, StatusExpired).
//		Allow(StatusPastDue, StatusActive, StatusUnpaid).
//		Allow(StatusUnpaid, StatusExpired).
//		Terminal(StatusCancelled, StatusExpired)
//
//	if err := subscriptionFSM.Transition(sub.Status, target); err != nil {
//		// illegal change
//	}
package statemachine
