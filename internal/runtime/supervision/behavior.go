package supervision

// Behavior is the message-handling capability of a GenActor. Callbacks run
// on the caller's goroutine and must not call back into the System.
type Behavior interface {
	// HandleCall answers a request. The reply is routed back to the sender.
	HandleCall(payload []byte) ([]byte, error)
	HandleCast(payload []byte) error
	HandleInfo(payload []byte) error
}

// Initializer is implemented by behaviors that set up state on start and
// after every restart. An error fails the recovery.
type Initializer interface {
	Init() error
}

// Terminator is implemented by behaviors that release state before a restart
// or shutdown.
type Terminator interface {
	Terminate(reason Reason)
}

// CodeChanger is implemented by behaviors that migrate state on upgrade.
type CodeChanger interface {
	CodeChange(from, to string) error
}

// Funcs adapts plain functions to Behavior. Nil fields accept and ignore.
type Funcs struct {
	Call func([]byte) ([]byte, error)
	Cast func([]byte) error
	Info func([]byte) error
}

// HandleCall runs Call, or replies with an empty payload when it is nil.
func (f Funcs) HandleCall(p []byte) ([]byte, error) {
	if f.Call == nil {
		return nil, nil
	}
	return f.Call(p)
}

// HandleCast runs Cast if set.
func (f Funcs) HandleCast(p []byte) error {
	if f.Cast == nil {
		return nil
	}
	return f.Cast(p)
}

// HandleInfo runs Info if set.
func (f Funcs) HandleInfo(p []byte) error {
	if f.Info == nil {
		return nil
	}
	return f.Info(p)
}
