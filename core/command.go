package core

import (
	"sort"
	"strings"
	"sync"
)

// CommandHandler handles one text command. args excludes the command name.
// The returned string is the single response line.
type CommandHandler func(args []string) (string, error)

// Command represents a line command
type Command struct {
	ID      uint16
	Name    string
	Usage   string // e.g. "setres <pot> <0-255>"
	Handler CommandHandler
}

// CommandRegistry holds all registered commands
type CommandRegistry struct {
	mu         sync.RWMutex
	commands   map[uint16]*Command
	nameToID   map[string]uint16
	nextID     uint16
	dictionary string // help text, one entry per command
}

// NewCommandRegistry creates a new command registry
func NewCommandRegistry() *CommandRegistry {
	return &CommandRegistry{
		commands: make(map[uint16]*Command),
		nameToID: make(map[string]uint16),
		nextID:   0,
	}
}

// Register adds a command to the registry. Names are case-insensitive.
func (r *CommandRegistry) Register(name string, usage string, handler CommandHandler) uint16 {
	r.mu.Lock()
	defer r.mu.Unlock()

	name = strings.ToLower(name)
	// Check if already registered
	if id, exists := r.nameToID[name]; exists {
		return id
	}

	id := r.nextID
	r.nextID++

	r.commands[id] = &Command{
		ID:      id,
		Name:    name,
		Usage:   usage,
		Handler: handler,
	}
	r.nameToID[name] = id

	r.rebuildDictionary()

	return id
}

// GetCommand retrieves a command by ID
func (r *CommandRegistry) GetCommand(id uint16) (*Command, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	cmd, ok := r.commands[id]
	return cmd, ok
}

// Lookup retrieves a command by name
func (r *CommandRegistry) Lookup(name string) (*Command, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.nameToID[strings.ToLower(name)]
	if !ok {
		return nil, false
	}
	return r.commands[id], true
}

// Count returns the number of registered commands
func (r *CommandRegistry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.commands)
}

// Names returns every command name in sorted order
func (r *CommandRegistry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.nameToID))
	for name := range r.nameToID {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Dispatch calls the handler registered under name
func (r *CommandRegistry) Dispatch(name string, args []string) (string, error) {
	cmd, ok := r.Lookup(name)
	if !ok {
		return "", newError(ErrUnknownCommand, "", "%q", name)
	}
	return cmd.Handler(args)
}

// GetDictionary returns the help text: every usage, in registration order,
// separated by "; ".
func (r *CommandRegistry) GetDictionary() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.dictionary
}

// rebuildDictionary rebuilds the dictionary string
// Must be called with lock held
func (r *CommandRegistry) rebuildDictionary() {
	var sb strings.Builder
	for i := uint16(0); i < r.nextID; i++ {
		cmd, ok := r.commands[i]
		if !ok {
			continue
		}
		if sb.Len() > 0 {
			sb.WriteString("; ")
		}
		if cmd.Usage != "" {
			sb.WriteString(cmd.Usage)
		} else {
			sb.WriteString(cmd.Name)
		}
	}
	r.dictionary = sb.String()
}
