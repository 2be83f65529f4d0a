package script

import "io"

const chunkSize = 32 * 1024

// pump forwards each read from r to emit until EOF or a read error. Chunks
// are passed through as read; no line splitting is done.
func pump(r io.Reader, emit func(string)) {
	buf := make([]byte, chunkSize)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			emit(string(buf[:n]))
		}
		if err != nil {
			return
		}
	}
}

// formatChunk returns the form stored in Record.Output.
func formatChunk(stderr bool, chunk string) string {
	if stderr {
		return ErrorPrefix + chunk
	}
	return chunk
}
