// Package device models a fitness band as seen by a session: its identity,
// its ordered lifecycle State and the error taxonomy shared by the session
// engine.
//
// State ordinals are significant. IsConnected holds for every state from
// Connected upward, IsInitialized only for Initialized. Every transition is
// reported to the listeners registered with Band.OnStateChanged.
package device
