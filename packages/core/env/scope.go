package env

type undefined struct{}

func (undefined) String() string { return "undefined" }

// MarshalJSON writes undefined as null so snapshots stay valid JSON.
func (undefined) MarshalJSON() ([]byte, error) { return []byte("null"), nil }

// Undefined is the value of something that was never set. It is distinct
// from nil, which is JSON null.
var Undefined any = undefined{}

func IsUndefined(v any) bool {
	_, ok := v.(undefined)
	return ok
}

// Scope is the state templates see: variables, session tokens and the
// read-only environment. Sequential steps share one Scope; loops and
// includes run against a Fork.
type Scope struct {
	Vars     map[string]any
	Sessions map[string]string
	Env      map[string]string
}

func NewScope(environment map[string]string) *Scope {
	if environment == nil {
		environment = make(map[string]string)
	}
	return &Scope{
		Vars:     make(map[string]any),
		Sessions: make(map[string]string),
		Env:      environment,
	}
}

// Fork returns a shallow copy with bindings layered on top. Containers held
// in variables are shared, so in-place mutation is visible to the parent.
func (s *Scope) Fork(bindings map[string]any) *Scope {
	child := &Scope{
		Vars:     make(map[string]any, len(s.Vars)+len(bindings)),
		Sessions: make(map[string]string, len(s.Sessions)),
		Env:      s.Env,
	}
	for k, v := range s.Vars {
		child.Vars[k] = v
	}
	for k, v := range bindings {
		child.Vars[k] = v
	}
	for k, v := range s.Sessions {
		child.Sessions[k] = v
	}
	return child
}

// Merge folds a finished fork back. Every variable in the fork is copied to
// the parent except the fork's own bindings, so a loop variable or include
// param never leaks over a caller's value of the same name. Sessions are
// copied wholesale.
func (s *Scope) Merge(child *Scope, bindings ...string) {
	skip := make(map[string]bool, len(bindings))
	for _, b := range bindings {
		skip[b] = true
	}
	for k, v := range child.Vars {
		if skip[k] {
			continue
		}
		s.Vars[k] = v
	}
	for k, v := range child.Sessions {
		s.Sessions[k] = v
	}
}

func (s *Scope) Get(name string) (any, bool) {
	v, ok := s.Vars[name]
	return v, ok
}

func (s *Scope) Set(name string, value any) {
	s.Vars[name] = value
}

func (s *Scope) Session(name string) (string, bool) {
	v, ok := s.Sessions[name]
	return v, ok
}

func (s *Scope) SetSession(name, token string) {
	s.Sessions[name] = token
}
