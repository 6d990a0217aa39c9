// Package core provides the carelink API client: authenticated request
// execution, coordinated token refresh, and event-stream decoding.
//
// # Client
//
// A [Client] sends requests through a [Transport] and reads credentials from a
// [TokenStore]. Both are supplied by the caller:
//
//	tr := transport.New("https://api.example.com")
//	store := tokenstore.NewMemory()
//	client := core.NewClient(tr, store,
//	    core.WithLogger(logger),
//	    core.WithTelemetry(hook),
//	)
//
// # Executing requests
//
// [Client.Execute] returns a [Result] holding either the response or a
// classified [*NetworkError]:
//
//	res := client.Execute(ctx, core.RequestSpec{
//	    Method: core.MethodGet,
//	    Auth:   core.AuthAccess,
//	    Path:   "/appointments",
//	})
//	list := core.DecodeJSON[[]Appointment](res)
//
// When an access-authenticated request is answered with 401, the client
// refreshes the token pair once and retries once. A retried request is never
// retried again. If the session cannot be renewed, both stored tokens are
// cleared and a [KindSessionExpired] error is returned.
//
// # Refresh coordination
//
// Each Client owns one [RefreshCoordinator]. Under the default
// [RefreshFailFast] policy, at most one refresh call runs at a time and
// concurrent callers are rejected with [KindRefreshInProgress] without waiting.
// [RefreshShared] makes them wait for and share the running refresh instead.
//
// # Streaming
//
// [Stream] opens a line-framed event stream and decodes it lazily:
//
//	seq, err := core.Stream(ctx, client, core.StreamRequest{
//	    Auth:     core.AuthAccess,
//	    Endpoint: "/invoke",
//	    Body:     req,
//	}, core.JSONLines[Chunk]())
//	if err != nil {
//	    return err
//	}
//	for res := range seq {
//	    if err := res.Err(); err != nil {
//	        log.Println(err)
//	        continue
//	    }
//	    fmt.Print(res.Value().Text)
//	}
//
// A line that fails to decode produces one failed Result and the stream
// continues. "[DONE]" lines are skipped and do not end the stream.
//
// # Errors
//
// Every failure is a [*NetworkError] with one [ErrorKind]. Use errors.Is with
// the kind sentinels:
//
//	if errors.Is(err, core.ErrSessionExpired) {
//	    // prompt the user to sign in again
//	}
package core
