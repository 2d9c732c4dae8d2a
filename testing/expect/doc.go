// Package expect waits for an observed process to log an expected line.
//
// A wait drains the process's log stream through a logtail.Reader, echoes
// every line through a redacting printer and resolves to one of three
// outcomes: the expected substring was found, the process exited first, or
// the process stayed alive but stopped logging for longer than the stall
// timeout. Every consumed line resets the stall timer; there is no absolute
// deadline other than the caller's context.
package expect
