package speech

// Engine is the recognition capability the controller drives. Commands may
// complete asynchronously; outcomes are reported through the attached Sink.
// Implementations must not call the Sink from inside a command method.
type Engine interface {
	// Attach registers the sink for events. Called once by NewController.
	Attach(sink Sink)
	Start(language string) error
	Stop() error
	Abort() error
}

// Sink receives engine events. An engine delivers them one at a time, in the
// order they happened.
type Sink interface {
	HandleStart()
	HandleResult(res Result)
	HandleError(ev ErrorEvent)
	HandleEnd()
}
