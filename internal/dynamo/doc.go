// Package dynamo provides primitives shared by every plant subsystem.
//
// The package defines the error taxonomy and the fault vocabulary:
//
//   - [ConfigurationError]: invalid parameter at construction or update
//   - [PhysicsViolation]: non-finite or non-physical value; aborts the step
//   - [LimitExceeded]: component envelope breach, routed as data
//   - [SynchronizationTimeout]: startup phase overran its budget
//   - [Fault]: severity-tagged entry of the fault list
//
// Sentinel errors ([ErrConfiguration], [ErrPhysicsViolation], ...) match
// the typed errors through errors.Is, so callers can tell a fatal step
// error from a recoverable one without inspecting messages:
//
//	if _, err := eng.Step(); dynamo.Fatal(err) {
//	    // last good snapshot is still published
//	}
package dynamo
