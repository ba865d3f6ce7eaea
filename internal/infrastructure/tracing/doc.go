/*
Package tracing provides lightweight request tracing.

# Overview

Every API request gets a span. The trace travels in the request context,
and the control client copies it into the headers of its outgoing calls,
so a slow toggle on the control server can be matched to the request
that caused it.

# Usage

	tracer := tracing.New("lobbyshell", logger)
	defer tracer.Close()

	router.Use(tracing.HTTPMiddleware(tracer))

	// outgoing call
	headers := map[string]string{}
	tracing.InjectTraceContext(ctx, headers)

# Trace Format

Traces use two HTTP headers:
  - X-Trace-ID identifies the whole request flow
  - X-Span-ID identifies the current operation

Finished spans are logged at debug level, or at warn when they carry an
error. Collection is buffered (1000 spans) and asynchronous.
*/
package tracing
