package pipeline

import "strings"

// TokenBatcher groups agent fragments into token events so the caller is not
// sent one frame per fragment.
type TokenBatcher struct {
	size  int
	count int
	batch strings.Builder
}

func NewTokenBatcher(size int) *TokenBatcher {
	if size < 1 {
		size = 1
	}
	return &TokenBatcher{size: size}
}

// Add appends a fragment. A batch is released once it holds size fragments
// or the fragment just added ends with a boundary marker.
func (b *TokenBatcher) Add(fragment string) (string, bool) {
	b.batch.WriteString(fragment)
	b.count++

	if b.count >= b.size || EndsWithBoundary(fragment) {
		return b.Flush()
	}
	return "", false
}

// Flush releases whatever is held
func (b *TokenBatcher) Flush() (string, bool) {
	out := b.batch.String()
	b.batch.Reset()
	b.count = 0
	return out, out != ""
}
