// Package goble implements gatt.Radio on top of go-ble. Every request runs on
// its own named goroutine and reports its outcome as a gatt.Event, so the
// session engine sees the same asynchronous contract on every platform.
package goble
