package parser

import (
	"fmt"
	"strings"
	"time"
)

// Script is a named, ordered list of steps plus the init block that seeds a run.
// It is immutable once loaded.
type Script struct {
	Name   string
	Path   string // source file; empty for scripts given by value
	Params map[string]*Param
	Init   *Init
	Steps  []*Step
}

// Dir returns the directory relative references in the script resolve against.
func (s *Script) Dir() string {
	if s == nil || s.Path == "" {
		return "."
	}
	i := strings.LastIndexAny(s.Path, `/\`)
	if i < 0 {
		return "."
	}
	if i == 0 {
		return s.Path[:1]
	}
	return s.Path[:i]
}

// Param declares an include parameter or a handler argument.
type Param struct {
	Required    bool   `yaml:"required" json:"required,omitempty"`
	Default     any    `yaml:"default" json:"default,omitempty"`
	Type        string `yaml:"type" json:"type,omitempty"`
	Opaque      bool   `yaml:"opaque" json:"opaque,omitempty"`
	Description string `yaml:"description" json:"description,omitempty"`
}

type Init struct {
	Servers  []*Server
	Vars     map[string]any
	Sessions map[string]string
	Handlers []string
	Hooks    *Hooks
	WaitFor  *WaitForConfig
}

type Server struct {
	Name    string
	URL     string
	Session *SessionTransport
	Headers map[string]string
	Auth    *AuthConfig
}

// SessionTransport describes how a session token travels on requests to a server.
type SessionTransport struct {
	Cookie string `yaml:"cookie" json:"cookie,omitempty"`
	Header string `yaml:"header" json:"header,omitempty"`
}

type AuthConfig struct {
	Type   AuthType
	Params []string
}

type AuthType int

const (
	AuthNone AuthType = iota
	AuthBasic
	AuthBearer
	AuthAPIKey
	AuthDigest
	AuthAWS
)

func parseAuthType(s string) (AuthType, bool) {
	switch strings.ToLower(s) {
	case "basic":
		return AuthBasic, true
	case "bearer":
		return AuthBearer, true
	case "apikey", "api_key":
		return AuthAPIKey, true
	case "digest":
		return AuthDigest, true
	case "aws", "aws4", "sigv4":
		return AuthAWS, true
	default:
		return AuthNone, false
	}
}

type Hooks struct {
	Before []string
	After  []string
}

type WaitForConfig struct {
	URL      string
	Status   int
	Timeout  time.Duration
	Interval time.Duration
}

type StepKind int

const (
	StepRequest StepKind = iota
	StepLoop
	StepInclude
)

func (k StepKind) String() string {
	switch k {
	case StepRequest:
		return "request"
	case StepLoop:
		return "loop"
	case StepInclude:
		return "include"
	default:
		return "unknown"
	}
}

// Step is a tagged variant: exactly one of Request, Loop or Include is set.
type Step struct {
	Name    string
	Comment string
	Delay   time.Duration

	Request *RequestStep
	Loop    *LoopStep
	Include *IncludeStep

	Line int
}

func (s *Step) Kind() StepKind {
	switch {
	case s.Loop != nil:
		return StepLoop
	case s.Include != nil:
		return StepInclude
	default:
		return StepRequest
	}
}

// Label is the step name, or a short description when the step is unnamed.
func (s *Step) Label() string {
	if s.Name != "" {
		return s.Name
	}
	switch s.Kind() {
	case StepLoop:
		if name, ok := s.Loop.Over.(string); ok {
			return "loop " + name
		}
		return "loop"
	case StepInclude:
		if s.Include.Path != "" {
			return "include " + s.Include.Path
		}
		if s.Include.Script != nil && s.Include.Script.Name != "" {
			return "include " + s.Include.Script.Name
		}
		return "include"
	default:
		if s.Request == nil {
			return "request"
		}
		target := s.Request.Path
		if target == "" {
			target = s.Request.URI
		}
		return strings.TrimSpace(s.Request.Method + " " + target)
	}
}

type RequestStep struct {
	Method   string
	Path     string // joined to the server base URL
	URI      string // explicit absolute URI, bypasses the server
	Server   string
	Session  string
	Body     any
	HasBody  bool
	BodyVar  string
	Files    map[string]string
	Query    map[string]any
	Headers  map[string]string
	Timeout  time.Duration
	Response *ResponseSpec
	Handlers []*HandlerCall
}

type ResponseSpec struct {
	Status      int
	StatusClass string
	Session     *SessionCapture
	Vars        []*Capture
	Validate    []*ValidationGroup
}

// SessionCapture names the session a response establishes and where its token is read from.
// An empty source falls back to the server's session transport.
type SessionCapture struct {
	Name     string
	Cookie   string
	Header   string
	Body     string
	FromBody bool
}

type Capture struct {
	Name   string
	Source CaptureSource
	Path   string
	Parse  int
	Line   int
}

type CaptureSource int

const (
	CaptureBody CaptureSource = iota
	CaptureWholeBody
	CaptureHeader
	CaptureCookie
	CaptureAssign
	CaptureInvalid
)

func (s CaptureSource) String() string {
	switch s {
	case CaptureBody:
		return "body"
	case CaptureWholeBody:
		return "body(*)"
	case CaptureHeader:
		return "header"
	case CaptureCookie:
		return "cookie"
	case CaptureAssign:
		return "assign"
	default:
		return "unknown"
	}
}

type ValidationGroup struct {
	Name   string
	Checks []string
}

type HandlerCall struct {
	Name string
	Args map[string]any
}

type LoopStep struct {
	Over       any // []any literal, or the name of a variable holding one
	Var        string
	Index      string
	Steps      []*Step
	ScriptPath string
	Script     *Script
}

type IncludeStep struct {
	Path   string
	Script *Script
	Params map[string]any
}

// StructuralError reports a script that cannot be executed as written: a
// missing URI or method, an unknown server, a malformed loop or include.
// Structural errors are never suppressed by continuation flags.
type StructuralError struct {
	File    string
	Line    int
	Step    string
	Message string
}

func (e *StructuralError) Error() string {
	var b strings.Builder
	if e.File != "" {
		b.WriteString(e.File)
		if e.Line > 0 {
			fmt.Fprintf(&b, ":%d", e.Line)
		}
		b.WriteString(": ")
	} else if e.Line > 0 {
		fmt.Fprintf(&b, "line %d: ", e.Line)
	}
	if e.Step != "" {
		fmt.Fprintf(&b, "step %q: ", e.Step)
	}
	b.WriteString(e.Message)
	return b.String()
}

// Structuralf builds a StructuralError for a step.
func Structuralf(step *Step, format string, args ...any) *StructuralError {
	e := &StructuralError{Message: fmt.Sprintf(format, args...)}
	if step != nil {
		e.Step = step.Label()
		e.Line = step.Line
	}
	return e
}
