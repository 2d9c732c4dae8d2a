// Package logtail follows the log stream of an observed process and hands
// its lines to a foreground consumer. A Reader owns one goroutine that drains
// a Source into an unbounded, ordered Buffer; the consumer polls the Buffer
// without ever blocking on the stream itself.
package logtail
