package session

import (
	"maps"
)

// Session is the state of one client, loaded for the duration of a
// request. It is owned by that request; the Handler holds the per-id
// lock while the chain runs.
type Session struct {
	id        string
	values    map[string]any
	isNew     bool
	modified  bool
	destroyed bool
}

func newSession(id string, values map[string]any, isNew bool) *Session {
	if values == nil {
		values = make(map[string]any)
	}

	return &Session{id: id, values: values, isNew: isNew}
}

// ID returns the session id.
func (s *Session) ID() string {
	return s.id
}

// IsNew reports whether the session was created by this request.
func (s *Session) IsNew() bool {
	return s.isNew
}

// Get returns the value stored under key.
func (s *Session) Get(key string) (any, bool) {
	v, ok := s.values[key]
	return v, ok
}

// GetString returns the value under key when it is a string.
func (s *Session) GetString(key string) string {
	v, _ := s.values[key].(string)
	return v
}

// Set stores v under key.
func (s *Session) Set(key string, v any) {
	s.values[key] = v
	s.modified = true
}

// Delete removes key.
func (s *Session) Delete(key string) {
	if _, ok := s.values[key]; ok {
		delete(s.values, key)
		s.modified = true
	}
}

// Clear removes every value.
func (s *Session) Clear() {
	if len(s.values) > 0 {
		clear(s.values)
		s.modified = true
	}
}

// Values returns a copy of the stored values.
func (s *Session) Values() map[string]any {
	return maps.Clone(s.values)
}

// Destroy removes the session from the store when the request ends and
// expires the client cookie.
func (s *Session) Destroy() {
	s.destroyed = true
}

// Destroyed reports whether Destroy was called.
func (s *Session) Destroyed() bool {
	return s.destroyed
}
