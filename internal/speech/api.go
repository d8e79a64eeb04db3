package speech

import (
	"fmt"
	"reflect"
)

// RecognizeSpeech starts a session and returns the subscription that ends it.
// onError, onStarted and onEnded may be nil.
func (c *Controller) RecognizeSpeech(language string, onResult func(Result), onError func(ErrorEvent), onStarted, onEnded func()) (*Subscription, error) {
	return c.Start(language, Bindings{
		OnResult: onResult,
		OnError:  onError,
		OnStart:  onStarted,
		OnEnd:    onEnded,
	})
}

// MethodNames names the handler methods on a target. OnResult is required;
// an empty name leaves that event unbound.
type MethodNames struct {
	OnResult string
	OnError  string
	OnStart  string
	OnEnd    string
}

// RecognizeSpeechOn starts a session whose events are delivered to exported
// methods of target. Result methods take a Result, error methods an
// ErrorEvent, start and end methods take nothing. Names are resolved once,
// here; no handle is returned, use CancelSpeechRecognition to end it.
func (c *Controller) RecognizeSpeechOn(target any, language string, names MethodNames) error {
	b, err := bindMethods(target, names)
	if err != nil {
		return err
	}
	_, err = c.Start(language, b)
	return err
}

// CancelSpeechRecognition ends the active session, whoever started it.
func (c *Controller) CancelSpeechRecognition(aborted bool) error {
	return c.Cancel(aborted)
}

func bindMethods(target any, names MethodNames) (Bindings, error) {
	const op = "speech.RecognizeSpeechOn"
	v := reflect.ValueOf(target)
	if !v.IsValid() || (v.Kind() == reflect.Pointer && v.IsNil()) {
		return Bindings{}, E(CodeInvalidArgument, op, "target is nil", nil)
	}
	if names.OnResult == "" {
		return Bindings{}, E(CodeInvalidArgument, op, "result method name is required", nil)
	}

	var (
		b   Bindings
		err error
	)
	if b.OnResult, err = lookupMethod[func(Result)](v, names.OnResult); err != nil {
		return Bindings{}, E(CodeInvalidArgument, op, "result method", err)
	}
	if names.OnError != "" {
		if b.OnError, err = lookupMethod[func(ErrorEvent)](v, names.OnError); err != nil {
			return Bindings{}, E(CodeInvalidArgument, op, "error method", err)
		}
	}
	if names.OnStart != "" {
		if b.OnStart, err = lookupMethod[func()](v, names.OnStart); err != nil {
			return Bindings{}, E(CodeInvalidArgument, op, "start method", err)
		}
	}
	if names.OnEnd != "" {
		if b.OnEnd, err = lookupMethod[func()](v, names.OnEnd); err != nil {
			return Bindings{}, E(CodeInvalidArgument, op, "end method", err)
		}
	}
	return b, nil
}

func lookupMethod[F any](v reflect.Value, name string) (F, error) {
	var zero F
	m := v.MethodByName(name)
	if !m.IsValid() {
		return zero, fmt.Errorf("%s has no exported method %q", v.Type(), name)
	}
	fn, ok := m.Interface().(F)
	if !ok {
		return zero, fmt.Errorf("method %s.%s is %s, want %T", v.Type(), name, m.Type(), zero)
	}
	return fn, nil
}
