package source

import (
	"bytes"
	"strings"
	"sync"
)

// LineTail keeps the last non-empty line written to it, used to surface a
// subprocess's final stderr complaint instead of a bare exit status.
type LineTail struct {
	mu      sync.Mutex
	partial bytes.Buffer
	last    string
}

func NewLineTail() *LineTail {
	return &LineTail{}
}

func (t *LineTail) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	total := len(p)
	for len(p) > 0 {
		idx := bytes.IndexByte(p, '\n')
		if idx == -1 {
			t.partial.Write(p)
			break
		}
		t.partial.Write(p[:idx])
		if line := strings.TrimSpace(t.partial.String()); line != "" {
			t.last = line
		}
		t.partial.Reset()
		p = p[idx+1:]
	}
	return total, nil
}

// Last returns the most recent non-empty line, preferring trailing partial
// content that never saw a newline.
func (t *LineTail) Last() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	if line := strings.TrimSpace(t.partial.String()); line != "" {
		return line
	}
	return t.last
}
