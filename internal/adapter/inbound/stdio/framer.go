package stdio

// Framer splits a byte stream into complete JSON-RPC messages. Input may be
// newline-delimited or rely on object boundaries alone; a message may span
// any number of chunks. Brace depth is tracked with string and escape state
// so braces inside string values never confuse the splitter.
type Framer struct {
	buf      []byte
	depth    int
	inString bool
	escaped  bool
	started  bool
}

// NewFramer creates an empty Framer.
func NewFramer() *Framer {
	return &Framer{}
}

// Push feeds a chunk and returns every message completed by it, in order.
// Returned slices are copies; the framer keeps any trailing partial message
// buffered for the next chunk.
func (f *Framer) Push(chunk []byte) [][]byte {
	var out [][]byte
	for _, b := range chunk {
		if !f.started {
			if b == ' ' || b == '\t' || b == '\r' || b == '\n' {
				continue
			}
			f.started = true
		}

		if b == '\n' && !f.inString && f.depth == 0 {
			// Newline delimiter for a non-object or malformed line.
			out = appendMessage(out, f.buf)
			f.reset()
			continue
		}

		f.buf = append(f.buf, b)

		if f.inString {
			switch {
			case f.escaped:
				f.escaped = false
			case b == '\\':
				f.escaped = true
			case b == '"':
				f.inString = false
			}
			continue
		}

		switch b {
		case '"':
			f.inString = true
		case '{', '[':
			f.depth++
		case '}', ']':
			f.depth--
			if f.depth <= 0 {
				out = appendMessage(out, f.buf)
				f.reset()
			}
		}
	}
	return out
}

// Pending reports whether a partial message is buffered.
func (f *Framer) Pending() bool {
	return len(f.buf) > 0
}

// Flush returns the buffered partial message, if any, and resets. Called at
// end of stream so a final unterminated line is still processed.
func (f *Framer) Flush() []byte {
	if len(f.buf) == 0 {
		f.reset()
		return nil
	}
	msg := make([]byte, len(f.buf))
	copy(msg, f.buf)
	f.reset()
	return msg
}

func (f *Framer) reset() {
	f.buf = f.buf[:0]
	f.depth = 0
	f.inString = false
	f.escaped = false
	f.started = false
}

func appendMessage(out [][]byte, buf []byte) [][]byte {
	trimmed := trimSpace(buf)
	if len(trimmed) == 0 {
		return out
	}
	msg := make([]byte, len(trimmed))
	copy(msg, trimmed)
	return append(out, msg)
}

func trimSpace(b []byte) []byte {
	start, end := 0, len(b)
	for start < end && isSpace(b[start]) {
		start++
	}
	for end > start && isSpace(b[end-1]) {
		end--
	}
	return b[start:end]
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\r' || c == '\n'
}
