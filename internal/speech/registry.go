package speech

import "fmt"

// Bindings are the handlers for one session. OnResult is required; the others
// may be nil.
type Bindings struct {
	OnResult func(Result)
	OnError  func(ErrorEvent)
	OnStart  func()
	OnEnd    func()
}

type binding struct {
	category Category
	fn       func(payload any)
}

// call invokes the handler, converting a panic into an error.
func (b binding) call(payload any) (err error) {
	if b.fn == nil {
		return nil
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%s handler panicked: %v", b.category, r)
		}
	}()
	b.fn(payload)
	return nil
}

// registry holds the bindings of the current session. All four slots are set
// together and cleared together.
type registry struct {
	slots [categoryCount]binding
}

func (r *registry) set(b Bindings) {
	r.clear()
	if b.OnResult != nil {
		fn := b.OnResult
		r.slots[CategoryResult] = binding{CategoryResult, func(p any) { fn(p.(Result)) }}
	}
	if b.OnError != nil {
		fn := b.OnError
		r.slots[CategoryError] = binding{CategoryError, func(p any) { fn(p.(ErrorEvent)) }}
	}
	if b.OnStart != nil {
		fn := b.OnStart
		r.slots[CategoryStart] = binding{CategoryStart, func(any) { fn() }}
	}
	if b.OnEnd != nil {
		fn := b.OnEnd
		r.slots[CategoryEnd] = binding{CategoryEnd, func(any) { fn() }}
	}
}

func (r *registry) lookup(c Category) binding {
	if c < 0 || c >= categoryCount {
		return binding{category: c}
	}
	return r.slots[c]
}

func (r *registry) bound(c Category) bool {
	return r.lookup(c).fn != nil
}

// dispatch invokes the handler bound to c, if any.
func (r *registry) dispatch(c Category, payload any) error {
	return r.lookup(c).call(payload)
}

func (r *registry) clear() {
	r.slots = [categoryCount]binding{}
}
