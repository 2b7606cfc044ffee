// Package picker selects canned message contents and receiver names at random.
package picker

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"

	"github.com/rickgao/relay-sender/internal/model"
)

// ErrEmptyList is returned when a candidate list has no entries.
var ErrEmptyList = errors.New("candidate list is empty")

// Source yields an index in [0, n). n is always > 0.
type Source interface {
	IntN(n int) int
}

// globalSource draws from the process-wide math/rand/v2 generator.
type globalSource struct{}

func (globalSource) IntN(n int) int { return rand.IntN(n) }

// DefaultSource returns the process-wide pseudo-random source.
func DefaultSource() Source { return globalSource{} }

// Picker draws uniformly, with replacement, from two fixed lists.
type Picker struct {
	contents  []string
	receivers []string

	mu  sync.Mutex // Source implementations such as *rand.Rand are not goroutine-safe
	src Source
}

// New creates a Picker. The lists are copied; later changes by the caller have no effect.
// A nil src uses DefaultSource.
func New(contents, receivers []string, src Source) (*Picker, error) {
	if len(contents) == 0 {
		return nil, fmt.Errorf("contents: %w", ErrEmptyList)
	}
	if len(receivers) == 0 {
		return nil, fmt.Errorf("receivers: %w", ErrEmptyList)
	}
	if src == nil {
		src = DefaultSource()
	}

	return &Picker{
		contents:  append([]string(nil), contents...),
		receivers: append([]string(nil), receivers...),
		src:       src,
	}, nil
}

// Content returns a random entry from the content list.
func (p *Picker) Content() string {
	return p.contents[p.index(len(p.contents))]
}

// Receiver returns a random entry from the receiver list.
func (p *Picker) Receiver() string {
	return p.receivers[p.index(len(p.receivers))]
}

// Next builds an outgoing message from one content draw and one receiver draw.
func (p *Picker) Next() model.OutgoingMessage {
	content := p.Content()
	receiver := p.Receiver()
	return model.NewOutgoing(receiver, content)
}

// Contents returns a copy of the content list.
func (p *Picker) Contents() []string {
	return append([]string(nil), p.contents...)
}

// Receivers returns a copy of the receiver list.
func (p *Picker) Receivers() []string {
	return append([]string(nil), p.receivers...)
}

func (p *Picker) index(n int) int {
	p.mu.Lock()
	i := p.src.IntN(n)
	p.mu.Unlock()

	// Guard against sources that ignore the bound.
	if i < 0 || i >= n {
		i = ((i % n) + n) % n
	}
	return i
}
