package engine

// MapRegistry is a simple in-memory HandlerRegistry keyed by action type.
type MapRegistry struct {
	handlers map[string]ActionHandler
}

func NewMapRegistry() *MapRegistry {
	return &MapRegistry{handlers: make(map[string]ActionHandler)}
}

// Register binds a handler to an action type, overwriting any prior
// registration for the same type.
func (r *MapRegistry) Register(actionType string, handler ActionHandler) {
	r.handlers[actionType] = handler
}

func (r *MapRegistry) Handler(actionType string) (ActionHandler, bool) {
	h, ok := r.handlers[actionType]
	return h, ok
}
