package progress

import "context"

// Sink consumes batches of progress events. Consume is only called from the
// Hub's flush goroutine; Close is called once after the final flush.
type Sink interface {
	Consume(ctx context.Context, batch []Event) error
	Close(ctx context.Context) error
}

// Emitter publishes individual events; Hub satisfies this interface so jobs
// stay agnostic about how events are buffered or reported.
type Emitter interface {
	Emit(evt Event)
}
