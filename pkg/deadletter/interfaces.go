package deadletter

import "context"

// Sink receives records the write path gave up publishing.
type Sink interface {
	ID() string
	Type() string
	Send(ctx context.Context, letter Letter) error
}
