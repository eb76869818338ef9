// Package assemble projects a backend's fragment sequence into either one
// complete response or an ordered stream of wire events, applying the
// thinking-span filter and usage accounting uniformly for both shapes.
package assemble

import (
	"context"
	"strings"

	"github.com/minivault/minivault/internal/domain"
)

// Assembler consumes backend output. stripThinking removes <think>...</think>
// spans from user-facing text (default on).
type Assembler struct {
	stripThinking bool
}

func New(stripThinking bool) *Assembler {
	return &Assembler{stripThinking: stripThinking}
}

// Event is one element of the assembled stream: zero or more token events,
// then either a terminal usage event or a single error event, then a Done
// marker. The channel closes after Done.
type Event struct {
	Token string
	Index int
	Usage *domain.Usage
	Err   error
	Done  bool
}

// Collect drains the fragment sequence into one complete text. A backend
// error discards the partial output and is returned to the caller, which
// decides whether the stub fallback fires.
func (a *Assembler) Collect(ctx context.Context, frags <-chan string, errs <-chan error) (string, error) {
	var raw strings.Builder

	for {
		select {
		case frag, ok := <-frags:
			if !ok {
				// The backend buffers its error before closing, so a
				// non-blocking receive is enough here.
				select {
				case err, ok := <-errs:
					if ok && err != nil {
						return "", err
					}
				default:
				}
				return a.finalize(raw.String()), nil
			}
			raw.WriteString(frag)

		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			if err != nil {
				return "", err
			}

		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
}

func (a *Assembler) finalize(text string) string {
	if a.stripThinking {
		text = StripThinking(text)
	}
	return strings.TrimSpace(text)
}

// Usage computes the word-count token estimate for one exchange.
func (a *Assembler) Usage(prompt, completion string) domain.Usage {
	return NewUsage(prompt, completion)
}

// Events turns the fragment sequence into wire events. Fragments inside a
// thinking span are suppressed without consuming sequence indexes; leading
// whitespace is trimmed once, on the first emitted fragment. A mid-sequence
// backend error yields one error event; every sequence ends with exactly one
// Done marker.
func (a *Assembler) Events(ctx context.Context, prompt string, frags <-chan string, errs <-chan error) <-chan Event {
	out := make(chan Event)

	go func() {
		defer close(out)

		filter := newThinkFilter(a.stripThinking)
		var completion strings.Builder
		index := 0
		emitted := false

		send := func(ev Event) bool {
			select {
			case out <- ev:
				return true
			case <-ctx.Done():
				return false
			}
		}

		emit := func(visible string) bool {
			if visible == "" {
				return true
			}
			if !emitted {
				visible = strings.TrimLeft(visible, " \t\r\n")
				if visible == "" {
					return true
				}
			}
			emitted = true
			completion.WriteString(visible)
			if !send(Event{Token: visible, Index: index}) {
				return false
			}
			index++
			return true
		}

		fail := func(err error) {
			if send(Event{Err: err}) {
				send(Event{Done: true})
			}
		}

		for {
			select {
			case frag, ok := <-frags:
				if !ok {
					select {
					case err, ok := <-errs:
						if ok && err != nil {
							fail(err)
							return
						}
					default:
					}
					if !emit(filter.flush()) {
						return
					}
					usage := NewUsage(prompt, completion.String())
					if send(Event{Token: "", Index: index, Usage: &usage}) {
						send(Event{Done: true})
					}
					return
				}
				if !emit(filter.feed(frag)) {
					return
				}

			case err, ok := <-errs:
				if !ok {
					errs = nil
					continue
				}
				if err != nil {
					fail(err)
					return
				}

			case <-ctx.Done():
				return
			}
		}
	}()

	return out
}
