package panel

// Event is a typed delivery pushed into the orchestrator through Dispatch.
// External collaborators never mutate panel state directly; each delivery
// becomes one explicit event variant.
type Event interface {
	isEvent()
}

// MessageEvent carries one inbound conversation message payload. The
// payload shape is externally defined and loosely structured.
type MessageEvent struct {
	Payload map[string]any
}

// SessionEndedEvent signals that the observed conversation has ended.
type SessionEndedEvent struct{}

// ConfigEvent delivers a panel configuration. Each delivery replaces the
// configuration wholesale.
type ConfigEvent struct {
	Config Config
}

// PersistedStateEvent delivers a previously stored analysis result used to
// seed the panel before any live analysis completes.
type PersistedStateEvent struct {
	Emotion string
	Reason  string
}

func (MessageEvent) isEvent()        {}
func (SessionEndedEvent) isEvent()   {}
func (ConfigEvent) isEvent()         {}
func (PersistedStateEvent) isEvent() {}
