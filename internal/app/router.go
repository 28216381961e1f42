/**
 * @description
 * The chat router. Handlers are registered at startup as an explicit table of
 * (pattern, order, handler) entries; on each message all matching handlers are
 * found, ties are broken by ascending order with declaration order as the
 * final tiebreak, and the first match wins. Handlers are mutually exclusive
 * dispatch, not a pipeline.
 *
 * A payment-bearing message always dispatches to the payment handler,
 * bypassing text-pattern matching. An unmatched message falls through to the
 * default catch-all handler, which must always be registered.
 */

package app

import (
	"context"
	"regexp"
	"sort"
)

// HandlerFunc processes one routed message with its full chat context.
type HandlerFunc func(ctx context.Context, cc *ChatContext) error

// Predicate optionally narrows a handler beyond its text pattern.
type Predicate func(cc *ChatContext) bool

type handlerEntry struct {
	pattern   *regexp.Regexp
	predicate Predicate
	order     int
	seq       int
	fn        HandlerFunc
}

// Router matches inbound messages against the ordered handler table.
type Router struct {
	entries   []handlerEntry
	paymentFn HandlerFunc
	defaultFn HandlerFunc
	sorted    bool
}

// NewRouter creates an empty router.
func NewRouter() *Router {
	return &Router{}
}

// Register adds a text handler. The pattern is compiled eagerly so a bad
// pattern fails at startup, not at dispatch time.
func (r *Router) Register(pattern string, order int, fn HandlerFunc) {
	r.RegisterWithPredicate(pattern, order, nil, fn)
}

// RegisterWithPredicate adds a text handler gated on an extra condition
// (e.g. "customer has an active session").
func (r *Router) RegisterWithPredicate(pattern string, order int, predicate Predicate, fn HandlerFunc) {
	r.entries = append(r.entries, handlerEntry{
		pattern:   regexp.MustCompile(pattern),
		predicate: predicate,
		order:     order,
		seq:       len(r.entries),
		fn:        fn,
	})
	r.sorted = false
}

// RegisterPayment sets the handler for payment-bearing messages.
func (r *Router) RegisterPayment(fn HandlerFunc) {
	r.paymentFn = fn
}

// RegisterDefault sets the catch-all handler for unmatched messages.
func (r *Router) RegisterDefault(fn HandlerFunc) {
	r.defaultFn = fn
}

// Route selects exactly one handler for the message. It never returns nil:
// the default handler is the floor of every dispatch.
func (r *Router) Route(cc *ChatContext) HandlerFunc {
	if r.defaultFn == nil {
		panic("chat router: no default handler registered")
	}

	if cc.Message != nil && cc.Message.HasPayment() && r.paymentFn != nil {
		return r.paymentFn
	}

	if !r.sorted {
		sort.SliceStable(r.entries, func(i, j int) bool {
			if r.entries[i].order != r.entries[j].order {
				return r.entries[i].order < r.entries[j].order
			}
			return r.entries[i].seq < r.entries[j].seq
		})
		r.sorted = true
	}

	text := ""
	if cc.Message != nil {
		text = cc.Message.Text
	}
	for _, e := range r.entries {
		if !e.pattern.MatchString(text) {
			continue
		}
		if e.predicate != nil && !e.predicate(cc) {
			continue
		}
		return e.fn
	}
	return r.defaultFn
}
