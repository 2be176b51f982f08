package ports

// SourceReader is the read side of the source cache used by the sampler.
type SourceReader interface {
	Get(key string) (any, bool)
}

// SourceWriter is the write side used by collectors and embedding callers.
type SourceWriter interface {
	Put(key string, value any) bool
}
