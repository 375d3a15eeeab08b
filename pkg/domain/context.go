package domain

import (
	"fmt"
	"sync"
)

// Key identifies a typed value stored in a dialog Context.
type Key[T any] struct {
	name string
}

// NewKey declares a typed context key.
func NewKey[T any](name string) Key[T] {
	return Key[T]{name: name}
}

// Name returns the key name as used in templates.
func (k Key[T]) Name() string { return k.name }

// Well-known keys filled from Credentials.
var (
	KeyUsername       = NewKey[string]("username")
	KeyPassword       = NewKey[string]("password")
	KeyEnablePassword = NewKey[string]("enable_password")
)

// Context is the mutable scratch space shared by dialog actions of a session.
// It is safe for concurrent use.
type Context struct {
	mu     sync.RWMutex
	values map[string]any
}

// NewContext creates an empty Context.
func NewContext() *Context {
	return &Context{values: make(map[string]any)}
}

// Set stores v under k.
func Set[T any](c *Context, k Key[T], v T) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.values[k.name] = v
}

// Get returns the value stored under k.
// The boolean is false when the key is absent or holds a value of another type.
func Get[T any](c *Context, k Key[T]) (T, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.values[k.name].(T)
	return v, ok
}

// Delete removes the value stored under name.
func (c *Context) Delete(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.values, name)
}

// Lookup returns the string form of the value stored under name.
// Used by text templates in declarative dialogs.
func (c *Context) Lookup(name string) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.values[name]
	if !ok {
		return "", false
	}
	if s, isString := v.(string); isString {
		return s, true
	}
	return fmt.Sprint(v), true
}

// Keys returns the names currently set.
func (c *Context) Keys() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	keys := make([]string, 0, len(c.values))
	for k := range c.values {
		keys = append(keys, k)
	}
	return keys
}

// Credentials are the login secrets a session replays on connect and reconnect.
type Credentials struct {
	Username       string `yaml:"username" mapstructure:"username"`
	Password       string `yaml:"password" mapstructure:"password"`
	EnablePassword string `yaml:"enable_password" mapstructure:"enable_password"`
}

// Apply copies the non-empty credentials into c.
func (cr Credentials) Apply(c *Context) {
	if cr.Username != "" {
		Set(c, KeyUsername, cr.Username)
	}
	if cr.Password != "" {
		Set(c, KeyPassword, cr.Password)
	}
	if cr.EnablePassword != "" {
		Set(c, KeyEnablePassword, cr.EnablePassword)
	}
}
