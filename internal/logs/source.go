package logs

// Source opens readers over streams of a single log group.
type Source struct {
	API   API
	Group string
}

// Open creates a reader for stream.
func (s Source) Open(stream string, opts Options) (*Reader, error) {
	return NewReader(s.API, s.Group, stream, opts)
}
