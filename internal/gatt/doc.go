// Package gatt defines the boundary between the session engine and the radio:
// the Radio request interface, the Event union the radio answers with, and
// the Registry of characteristics discovered on the current connection.
package gatt
