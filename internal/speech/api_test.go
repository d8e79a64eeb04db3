package speech

import (
	"errors"
	"testing"
)

type page struct {
	texts  []string
	errs   []string
	starts int
	ends   int
}

func (p *page) Heard(r Result)         { p.texts = append(p.texts, r.Text) }
func (p *page) Failed(e ErrorEvent)    { p.errs = append(p.errs, e.Code) }
func (p *page) Started()               { p.starts++ }
func (p *page) Ended()                 { p.ends++ }
func (p *page) WrongShape(text string) {}

func TestRecognizeSpeechOnDispatchesToMethods(t *testing.T) {
	ctl, eng := newTestController()
	p := &page{}
	err := ctl.RecognizeSpeechOn(p, "en-US", MethodNames{
		OnResult: "Heard",
		OnError:  "Failed",
		OnStart:  "Started",
		OnEnd:    "Ended",
	})
	if err != nil {
		t.Fatalf("RecognizeSpeechOn: %v", err)
	}
	eng.sink.HandleStart()
	eng.sink.HandleResult(Result{Text: "one"})
	eng.sink.HandleError(ErrorEvent{Code: ErrorNoSpeech})
	if err := ctl.CancelSpeechRecognition(false); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	eng.sink.HandleEnd()

	if p.starts != 1 || p.ends != 1 {
		t.Fatalf("starts=%d ends=%d", p.starts, p.ends)
	}
	if len(p.texts) != 1 || p.texts[0] != "one" {
		t.Fatalf("texts = %v", p.texts)
	}
	if len(p.errs) != 1 || p.errs[0] != ErrorNoSpeech {
		t.Fatalf("errs = %v", p.errs)
	}
	if n := eng.count("stop"); n != 1 {
		t.Fatalf("stop sent %d times", n)
	}
}

func TestRecognizeSpeechOnOptionalMethods(t *testing.T) {
	ctl, eng := newTestController()
	p := &page{}
	if err := ctl.RecognizeSpeechOn(p, "en-US", MethodNames{OnResult: "Heard"}); err != nil {
		t.Fatalf("RecognizeSpeechOn: %v", err)
	}
	eng.sink.HandleStart()
	eng.sink.HandleError(ErrorEvent{Code: ErrorNetwork})
	eng.sink.HandleEnd()
	if p.starts != 0 || p.ends != 0 || len(p.errs) != 0 {
		t.Fatalf("unbound handlers ran: %+v", p)
	}
}

func TestRecognizeSpeechOnRejectsBadTargets(t *testing.T) {
	cases := []struct {
		name   string
		target any
		names  MethodNames
	}{
		{"nil target", nil, MethodNames{OnResult: "Heard"}},
		{"nil pointer", (*page)(nil), MethodNames{OnResult: "Heard"}},
		{"missing result name", &page{}, MethodNames{}},
		{"unknown method", &page{}, MethodNames{OnResult: "Nope"}},
		{"wrong signature", &page{}, MethodNames{OnResult: "WrongShape"}},
		{"wrong end signature", &page{}, MethodNames{OnResult: "Heard", OnEnd: "Heard"}},
	}
	for _, tc := range cases {
		ctl, eng := newTestController()
		err := ctl.RecognizeSpeechOn(tc.target, "en-US", tc.names)
		if !IsCode(err, CodeInvalidArgument) {
			t.Fatalf("%s: expected INVALID_ARGUMENT, got %v", tc.name, err)
		}
		if len(eng.sent()) != 0 {
			t.Fatalf("%s: engine commanded", tc.name)
		}
	}
}

func TestErrorFormatting(t *testing.T) {
	inner := errors.New("boom")
	err := E(CodeEngineUnavailable, "speech.Start", "engine refused start", inner)
	if got, want := err.Error(), "speech.Start: engine refused start: boom"; got != want {
		t.Fatalf("Error() = %q, want %q", got, want)
	}
	if !errors.Is(err, inner) {
		t.Fatalf("expected wrapped error")
	}
	if IsCode(inner, CodeEngineUnavailable) {
		t.Fatalf("plain error should carry no code")
	}
	ev := ErrorEvent{Code: ErrorNotAllowed, Message: "mic blocked"}
	if got := ev.Error(); got != "recognition error: not-allowed: mic blocked" {
		t.Fatalf("ErrorEvent.Error() = %q", got)
	}
}

func TestRegistryDispatch(t *testing.T) {
	var r registry
	if err := r.dispatch(CategoryResult, Result{}); err != nil {
		t.Fatalf("dispatch on empty registry: %v", err)
	}
	var got string
	r.set(Bindings{OnResult: func(res Result) { got = res.Text }})
	if !r.bound(CategoryResult) || r.bound(CategoryEnd) {
		t.Fatalf("unexpected bindings")
	}
	if err := r.dispatch(CategoryResult, Result{Text: "x"}); err != nil || got != "x" {
		t.Fatalf("dispatch: err=%v got=%q", err, got)
	}
	r.set(Bindings{OnResult: func(Result) { panic("bad") }})
	if err := r.dispatch(CategoryResult, Result{}); err == nil {
		t.Fatalf("expected panic to surface as error")
	}
	r.clear()
	r.clear()
	if r.bound(CategoryResult) {
		t.Fatalf("clear left a binding")
	}
}
