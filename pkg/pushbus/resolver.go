package pushbus

import "sync"

// Aliases are the alternate identifiers a subscriber may use for a task
// before the server-assigned id has propagated to the sender.
type Aliases struct {
	// ClientToken is the client-local upload token (usually the upload id).
	ClientToken string

	// FileName is the original file name.
	FileName string

	// Path is the original file path on the sender.
	Path string
}

// Resolver maps client-visible identifiers to server task ids.
//
// Lookup preference order: task id, client token, file name, path. File
// names and paths can collide across tasks; last registration wins, which
// matches the "most recent upload" expectation during the propagation
// window.
type Resolver struct {
	mu       sync.RWMutex
	tasks    map[string]struct{}
	byToken  map[string]string
	byName   map[string]string
	byPath   map[string]string
	reverse  map[string]Aliases
}

// NewResolver creates an empty identifier resolver.
func NewResolver() *Resolver {
	return &Resolver{
		tasks:   make(map[string]struct{}),
		byToken: make(map[string]string),
		byName:  make(map[string]string),
		byPath:  make(map[string]string),
		reverse: make(map[string]Aliases),
	}
}

// Register associates a task id with its aliases. Empty alias fields are
// ignored.
func (r *Resolver) Register(taskID string, aliases Aliases) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.tasks[taskID] = struct{}{}
	if aliases.ClientToken != "" {
		r.byToken[aliases.ClientToken] = taskID
	}
	if aliases.FileName != "" {
		r.byName[aliases.FileName] = taskID
	}
	if aliases.Path != "" {
		r.byPath[aliases.Path] = taskID
	}
	r.reverse[taskID] = aliases
}

// Resolve maps an identifier to a task id using the preference order
// task id > client token > file name > path.
func (r *Resolver) Resolve(identifier string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if _, ok := r.tasks[identifier]; ok {
		return identifier, true
	}
	if id, ok := r.byToken[identifier]; ok {
		return id, true
	}
	if id, ok := r.byName[identifier]; ok {
		return id, true
	}
	if id, ok := r.byPath[identifier]; ok {
		return id, true
	}
	return "", false
}

// Unregister removes a task and all of its aliases.
func (r *Resolver) Unregister(taskID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	aliases, ok := r.reverse[taskID]
	if !ok {
		return
	}
	delete(r.tasks, taskID)
	delete(r.reverse, taskID)
	if aliases.ClientToken != "" && r.byToken[aliases.ClientToken] == taskID {
		delete(r.byToken, aliases.ClientToken)
	}
	if aliases.FileName != "" && r.byName[aliases.FileName] == taskID {
		delete(r.byName, aliases.FileName)
	}
	if aliases.Path != "" && r.byPath[aliases.Path] == taskID {
		delete(r.byPath, aliases.Path)
	}
}
