package client

import "context"

// Conn is one established push channel. ReadMessage blocks until a frame
// arrives or the channel fails; any error ends the connection.
type Conn interface {
	ReadMessage() ([]byte, error)
	WriteMessage(data []byte) error
	Close() error
}

// Dialer opens a Conn to url. Dial must return promptly once ctx is done.
type Dialer interface {
	Dial(ctx context.Context, url string) (Conn, error)
}

// Invalidator marks cached data stale. It is implemented by cache.Store.
type Invalidator interface {
	Invalidate(ctx context.Context, pattern string) error
}

type InvalidatorFunc func(ctx context.Context, pattern string) error

func (f InvalidatorFunc) Invalidate(ctx context.Context, pattern string) error {
	return f(ctx, pattern)
}
