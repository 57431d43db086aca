package httpapi

import "context"

// serverBaseCtx is canceled when the process shuts down. Handlers join it
// with the request context so in-flight inferences and event streams stop.
var serverBaseCtx = context.Background()

// SetBaseContext installs the shutdown context. nil resets it.
func SetBaseContext(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	serverBaseCtx = ctx
}

// joinContexts derives from req and additionally cancels when base is done.
// Values come from req, so request IDs survive into the manager.
func joinContexts(base, req context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(req)
	stop := context.AfterFunc(base, cancel)
	return ctx, func() {
		stop()
		cancel()
	}
}
