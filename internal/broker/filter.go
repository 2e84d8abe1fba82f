package broker

// Verdict is a filter's classification of a message.
type Verdict int

const (
	// Allow lets the message continue to the next filter and then fan-out.
	Allow Verdict = iota
	// Block drops the message silently.
	Block
)

func (v Verdict) String() string {
	switch v {
	case Allow:
		return "allow"
	case Block:
		return "block"
	default:
		return "unknown"
	}
}

// Filter classifies message text. Implementations must only read the text;
// they run on the broker's dispatch goroutine.
type Filter interface {
	Evaluate(text string) Verdict
}

// FilterFunc adapts an ordinary function to the Filter interface.
type FilterFunc func(text string) Verdict

// Evaluate calls f(text).
func (f FilterFunc) Evaluate(text string) Verdict {
	return f(text)
}

// LengthFilter blocks messages longer than MaxLength bytes. A message of
// exactly MaxLength bytes is allowed.
type LengthFilter struct {
	MaxLength int
}

// Evaluate implements Filter.
func (f LengthFilter) Evaluate(text string) Verdict {
	if len(text) > f.MaxLength {
		return Block
	}
	return Allow
}

// Chain runs filters in order. The first Block wins and later filters are not
// consulted.
type Chain []Filter

// Evaluate returns Block and the index of the blocking filter, or Allow and -1.
func (c Chain) Evaluate(text string) (Verdict, int) {
	for i, f := range c {
		if f.Evaluate(text) == Block {
			return Block, i
		}
	}
	return Allow, -1
}
