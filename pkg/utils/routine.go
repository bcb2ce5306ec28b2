package utils

import (
	"context"
	"log"
	"runtime/debug"
)

// Go launches fn on a new goroutine with panic recovery. A panicking session
// goroutine must never take the process down with it.
func Go(ctx context.Context, fn func()) {
	go func() {
		defer func() {
			if r := recover(); r != nil {
				log.Printf("recovered panic in goroutine: %v\n%s", r, debug.Stack())
			}
		}()
		if ctx != nil && ctx.Err() != nil {
			return
		}
		fn()
	}()
}
