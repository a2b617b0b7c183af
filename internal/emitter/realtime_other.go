//go:build !linux

package emitter

// elevateScheduling is a no-op off Linux; the consumer runs at normal
// priority.
func elevateScheduling() {}
