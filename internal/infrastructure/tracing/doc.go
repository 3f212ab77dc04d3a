/*
Package tracing provides lightweight request tracing for debugging.

Every HTTP request (including WebSocket upgrades) gets a trace ID, taken
from the X-Trace-ID header when the client sends one. Terminal commands run
over a socket open child spans of the upgrade's trace, so one trace ID ties
a browser tab's commands together in the logs.

Finished spans are logged by a collector goroutine: at debug level when
they succeed, at warn level when they carry an error.

# Usage

	tracer := tracing.New("webterm", logger.Logger)
	defer tracer.Close()
	router.Use(tracing.HTTPMiddleware(tracer))

	span, ctx := tracer.StartSpan(ctx, "ws.command")
	defer func() {
		span.Finish()
		tracer.Submit(span)
	}()
*/
package tracing
