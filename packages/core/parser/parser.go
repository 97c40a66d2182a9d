package parser

import (
	_ "embed"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/xeipuuv/gojsonschema"
	"gopkg.in/yaml.v3"
)

//go:embed schema.json
var schemaJSON string

var (
	schemaOnce sync.Once
	schema     *gojsonschema.Schema
	schemaErr  error
)

type Parser struct {
	file string
}

// ParseFile loads a script from a YAML or JSON file.
func ParseFile(path string) (*Script, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(content, path)
}

// Parse decodes a script document. JSON input is accepted since it is valid YAML.
func Parse(input []byte, filename string) (*Script, error) {
	p := &Parser{file: filename}
	return p.Parse(input)
}

func (p *Parser) Parse(input []byte) (*Script, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(input, &doc); err != nil {
		return nil, &StructuralError{File: p.file, Message: fmt.Sprintf("invalid document: %v", err)}
	}
	if doc.Kind == 0 || len(doc.Content) == 0 {
		return nil, &StructuralError{File: p.file, Message: "empty script"}
	}
	root := doc.Content[0]

	var raw any
	if err := root.Decode(&raw); err != nil {
		return nil, &StructuralError{File: p.file, Message: fmt.Sprintf("invalid document: %v", err)}
	}
	if err := p.validateSchema(Normalize(raw)); err != nil {
		return nil, err
	}

	script, err := p.parseScript(root)
	if err != nil {
		return nil, err
	}
	script.Path = scriptPath(p.file)
	return script, nil
}

func scriptPath(f string) string {
	if f == "" || f == "-" {
		return ""
	}
	return f
}

func (p *Parser) validateSchema(doc any) error {
	schemaOnce.Do(func() {
		schema, schemaErr = gojsonschema.NewSchema(gojsonschema.NewStringLoader(schemaJSON))
	})
	if schemaErr != nil {
		return fmt.Errorf("loading script schema: %w", schemaErr)
	}
	result, err := schema.Validate(gojsonschema.NewGoLoader(doc))
	if err != nil {
		return &StructuralError{File: p.file, Message: fmt.Sprintf("schema validation: %v", err)}
	}
	if result.Valid() {
		return nil
	}
	msgs := make([]string, 0, len(result.Errors()))
	for _, e := range result.Errors() {
		msgs = append(msgs, e.String())
	}
	return &StructuralError{File: p.file, Message: "schema: " + strings.Join(msgs, "; ")}
}

func (p *Parser) errorf(n *yaml.Node, format string, args ...any) *StructuralError {
	e := &StructuralError{File: p.file, Message: fmt.Sprintf(format, args...)}
	if n != nil {
		e.Line = n.Line
	}
	return e
}

func (p *Parser) parseScript(n *yaml.Node) (*Script, error) {
	if n.Kind != yaml.MappingNode {
		return nil, p.errorf(n, "script must be a mapping")
	}
	s := &Script{}
	err := eachPair(n, func(key string, val *yaml.Node) error {
		switch key {
		case "name":
			s.Name = val.Value
		case "description":
		case "params":
			params, err := p.parseParams(val)
			if err != nil {
				return err
			}
			s.Params = params
		case "init":
			in, err := p.parseInit(val)
			if err != nil {
				return err
			}
			s.Init = in
		case "steps":
			steps, err := p.parseSteps(val)
			if err != nil {
				return err
			}
			s.Steps = steps
		default:
			return p.errorf(val, "unknown script field %q", key)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if s.Init == nil {
		s.Init = &Init{}
	}
	return s, nil
}

func (p *Parser) parseParams(n *yaml.Node) (map[string]*Param, error) {
	if isNull(n) {
		return nil, nil
	}
	params := make(map[string]*Param)
	err := eachPair(n, func(key string, val *yaml.Node) error {
		param := &Param{}
		if !isNull(val) {
			if err := val.Decode(param); err != nil {
				return p.errorf(val, "param %q: %v", key, err)
			}
		}
		param.Default = Normalize(param.Default)
		params[key] = param
		return nil
	})
	return params, err
}

func (p *Parser) parseInit(n *yaml.Node) (*Init, error) {
	in := &Init{}
	if isNull(n) {
		return in, nil
	}
	err := eachPair(n, func(key string, val *yaml.Node) error {
		switch key {
		case "servers":
			for _, item := range val.Content {
				srv, err := p.parseServer(item)
				if err != nil {
					return err
				}
				in.Servers = append(in.Servers, srv)
			}
		case "vars":
			v, err := decodeMap(val)
			if err != nil {
				return p.errorf(val, "vars: %v", err)
			}
			in.Vars = v
		case "sessions":
			m, err := decodeStringMap(val)
			if err != nil {
				return p.errorf(val, "sessions: %v", err)
			}
			in.Sessions = m
		case "handlers":
			if err := val.Decode(&in.Handlers); err != nil {
				return p.errorf(val, "handlers: %v", err)
			}
		case "hooks":
			hooks := &Hooks{}
			var raw struct {
				Before []string `yaml:"before"`
				After  []string `yaml:"after"`
			}
			if err := val.Decode(&raw); err != nil {
				return p.errorf(val, "hooks: %v", err)
			}
			hooks.Before, hooks.After = raw.Before, raw.After
			in.Hooks = hooks
		case "waitFor":
			wf, err := p.parseWaitFor(val)
			if err != nil {
				return err
			}
			in.WaitFor = wf
		default:
			return p.errorf(val, "unknown init field %q", key)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	seen := make(map[string]bool)
	for _, srv := range in.Servers {
		if srv.Name == "" {
			continue
		}
		if seen[srv.Name] {
			return nil, p.errorf(n, "duplicate server %q", srv.Name)
		}
		seen[srv.Name] = true
	}
	return in, nil
}

func (p *Parser) parseServer(n *yaml.Node) (*Server, error) {
	srv := &Server{}
	err := eachPair(n, func(key string, val *yaml.Node) error {
		switch key {
		case "name":
			srv.Name = val.Value
		case "url":
			srv.URL = val.Value
		case "session":
			st := &SessionTransport{}
			if err := val.Decode(st); err != nil {
				return p.errorf(val, "server session: %v", err)
			}
			srv.Session = st
		case "headers":
			h, err := decodeStringMap(val)
			if err != nil {
				return p.errorf(val, "server headers: %v", err)
			}
			srv.Headers = h
		case "auth":
			var raw struct {
				Type   string   `yaml:"type"`
				Params []string `yaml:"params"`
			}
			if err := val.Decode(&raw); err != nil {
				return p.errorf(val, "server auth: %v", err)
			}
			t, ok := parseAuthType(raw.Type)
			if !ok {
				return p.errorf(val, "unknown auth type %q", raw.Type)
			}
			srv.Auth = &AuthConfig{Type: t, Params: raw.Params}
		default:
			return p.errorf(val, "unknown server field %q", key)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if srv.URL == "" {
		return nil, p.errorf(n, "server %q has no url", srv.Name)
	}
	return srv, nil
}

func (p *Parser) parseWaitFor(n *yaml.Node) (*WaitForConfig, error) {
	wf := &WaitForConfig{Status: 200, Timeout: 30 * time.Second, Interval: 500 * time.Millisecond}
	err := eachPair(n, func(key string, val *yaml.Node) error {
		var err error
		switch key {
		case "url":
			wf.URL = val.Value
		case "status":
			wf.Status, err = strconv.Atoi(val.Value)
		case "timeout":
			wf.Timeout, err = parseDuration(val)
		case "interval":
			wf.Interval, err = parseDuration(val)
		default:
			return p.errorf(val, "unknown waitFor field %q", key)
		}
		if err != nil {
			return p.errorf(val, "waitFor %s: %v", key, err)
		}
		return nil
	})
	return wf, err
}

func (p *Parser) parseSteps(n *yaml.Node) ([]*Step, error) {
	if n.Kind != yaml.SequenceNode {
		return nil, p.errorf(n, "steps must be a list")
	}
	steps := make([]*Step, 0, len(n.Content))
	for _, item := range n.Content {
		step, err := p.parseStep(item)
		if err != nil {
			return nil, err
		}
		steps = append(steps, step)
	}
	return steps, nil
}

var methodKeys = map[string]bool{
	"get": true, "post": true, "put": true, "patch": true,
	"delete": true, "head": true, "options": true,
}

func (p *Parser) parseStep(n *yaml.Node) (*Step, error) {
	if n.Kind != yaml.MappingNode {
		return nil, p.errorf(n, "step must be a mapping")
	}
	step := &Step{Line: n.Line}
	req := &RequestStep{}
	isRequest := false
	var params map[string]any

	err := eachPair(n, func(key string, val *yaml.Node) error {
		var err error
		if methodKeys[key] {
			if req.Method != "" {
				return p.errorf(val, "step declares more than one method")
			}
			req.Method = strings.ToUpper(key)
			setTarget(req, val.Value)
			isRequest = true
			return nil
		}
		switch key {
		case "name":
			step.Name = val.Value
		case "comment":
			step.Comment = val.Value
		case "delay":
			step.Delay, err = parseDuration(val)
		case "method":
			if req.Method != "" {
				return p.errorf(val, "step declares more than one method")
			}
			req.Method = strings.ToUpper(val.Value)
			isRequest = true
		case "uri":
			req.URI = val.Value
			isRequest = true
		case "path":
			req.Path = val.Value
			isRequest = true
		case "server":
			req.Server = val.Value
		case "session":
			req.Session = val.Value
		case "body":
			req.HasBody = true
			req.Body, err = decodeAny(val)
		case "bodyVar":
			req.BodyVar = val.Value
		case "files":
			req.Files, err = decodeStringMap(val)
		case "query":
			req.Query, err = decodeMap(val)
		case "headers":
			req.Headers, err = decodeStringMap(val)
		case "timeout":
			req.Timeout, err = parseDuration(val)
		case "response":
			req.Response, err = p.parseResponse(val)
		case "handlers":
			req.Handlers, err = p.parseHandlers(val)
		case "loop":
			step.Loop, err = p.parseLoop(val)
		case "include":
			step.Include, err = p.parseInclude(val)
		case "params":
			params, err = decodeMap(val)
		default:
			return p.errorf(val, "unknown step field %q", key)
		}
		if err != nil {
			if _, ok := err.(*StructuralError); ok {
				return err
			}
			return p.errorf(val, "%s: %v", key, err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	kinds := 0
	if isRequest {
		kinds++
		step.Request = req
	}
	if step.Loop != nil {
		kinds++
	}
	if step.Include != nil {
		kinds++
		step.Include.Params = params
	} else if params != nil {
		return nil, p.errorf(n, "params given without include")
	}
	switch {
	case kinds == 0:
		return nil, p.errorf(n, "step %q must be a request, loop or include", step.Name)
	case kinds > 1:
		return nil, p.errorf(n, "step %q mixes request, loop and include", step.Name)
	}
	if step.Request != nil {
		if req.Method == "" {
			return nil, p.errorf(n, "step %q has no method", step.Label())
		}
		if req.URI == "" && req.Path == "" {
			return nil, p.errorf(n, "step %q has no uri", step.Label())
		}
		if req.HasBody && req.BodyVar != "" {
			return nil, p.errorf(n, "step %q sets both body and bodyVar", step.Label())
		}
	}
	return step, nil
}

func setTarget(req *RequestStep, target string) {
	if strings.HasPrefix(target, "http://") || strings.HasPrefix(target, "https://") {
		req.URI = target
		return
	}
	req.Path = target
}

func (p *Parser) parseResponse(n *yaml.Node) (*ResponseSpec, error) {
	spec := &ResponseSpec{}
	if isNull(n) {
		return spec, nil
	}
	err := eachPair(n, func(key string, val *yaml.Node) error {
		switch key {
		case "status":
			code, err := strconv.Atoi(val.Value)
			if err != nil {
				return p.errorf(val, "status must be an integer")
			}
			spec.Status = code
		case "statusClass":
			spec.StatusClass = strings.ToLower(val.Value)
		case "session":
			sc, err := p.parseSessionCapture(val)
			if err != nil {
				return err
			}
			spec.Session = sc
		case "vars":
			if isNull(val) {
				return nil
			}
			return eachPair(val, func(name string, cv *yaml.Node) error {
				c, err := p.parseCapture(name, cv)
				if err != nil {
					return err
				}
				spec.Vars = append(spec.Vars, c)
				return nil
			})
		case "validate":
			groups, err := p.parseValidate(val)
			if err != nil {
				return err
			}
			spec.Validate = groups
		default:
			return p.errorf(val, "unknown response field %q", key)
		}
		return nil
	})
	return spec, err
}

func (p *Parser) parseSessionCapture(n *yaml.Node) (*SessionCapture, error) {
	if n.Kind == yaml.ScalarNode {
		return &SessionCapture{Name: n.Value}, nil
	}
	sc := &SessionCapture{}
	err := eachPair(n, func(key string, val *yaml.Node) error {
		switch key {
		case "name":
			sc.Name = val.Value
		case "cookie":
			sc.Cookie = val.Value
		case "header":
			sc.Header = val.Value
		case "body":
			sc.FromBody = true
			if !isNull(val) {
				sc.Body = val.Value
			}
		default:
			return p.errorf(val, "unknown session field %q", key)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if sc.Name == "" {
		return nil, p.errorf(n, "response session needs a name")
	}
	return sc, nil
}

func (p *Parser) parseCapture(name string, n *yaml.Node) (*Capture, error) {
	c := &Capture{Name: name, Line: n.Line}
	switch n.Kind {
	case yaml.ScalarNode:
		if isNull(n) {
			c.Source = CaptureWholeBody
		} else {
			c.Source = CaptureBody
			c.Path = n.Value
		}
		return c, nil
	case yaml.MappingNode:
	default:
		return nil, p.errorf(n, "capture %q must be a path, null or a mapping", name)
	}

	sources := 0
	c.Source = CaptureWholeBody
	err := eachPair(n, func(key string, val *yaml.Node) error {
		switch key {
		case "body":
			sources++
			if isNull(val) {
				c.Source = CaptureWholeBody
			} else {
				c.Source = CaptureBody
				c.Path = val.Value
			}
		case "header":
			sources++
			c.Source = CaptureHeader
			c.Path = val.Value
		case "cookie":
			sources++
			c.Source = CaptureCookie
			c.Path = val.Value
		case "assign":
			sources++
			c.Source = CaptureAssign
			c.Path = val.Value
		case "parse":
			count, err := parseCount(val)
			if err != nil {
				return p.errorf(val, "capture %q: %v", name, err)
			}
			c.Parse = count
		default:
			return p.errorf(val, "capture %q: unknown field %q", name, key)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if sources > 1 {
		return nil, p.errorf(n, "capture %q must name exactly one of body, header, cookie or assign", name)
	}
	return c, nil
}

// parseCount accepts parse: true (once) or parse: N.
func parseCount(n *yaml.Node) (int, error) {
	switch n.Tag {
	case "!!bool":
		if n.Value == "true" {
			return 1, nil
		}
		return 0, nil
	case "!!int":
		v, err := strconv.Atoi(n.Value)
		if err != nil || v < 0 {
			return 0, fmt.Errorf("parse must be a non-negative integer")
		}
		return v, nil
	default:
		return 0, fmt.Errorf("parse must be a boolean or integer")
	}
}

func (p *Parser) parseValidate(n *yaml.Node) ([]*ValidationGroup, error) {
	if n.Kind != yaml.SequenceNode {
		return nil, p.errorf(n, "validate must be a list")
	}
	var groups []*ValidationGroup
	for i, item := range n.Content {
		if item.Kind == yaml.ScalarNode {
			groups = append(groups, &ValidationGroup{Name: fmt.Sprintf("check %d", i+1), Checks: []string{item.Value}})
			continue
		}
		var raw struct {
			Name  string    `yaml:"name"`
			Check yaml.Node `yaml:"check"`
		}
		if err := item.Decode(&raw); err != nil {
			return nil, p.errorf(item, "validate: %v", err)
		}
		g := &ValidationGroup{Name: raw.Name}
		if g.Name == "" {
			g.Name = fmt.Sprintf("check %d", i+1)
		}
		switch raw.Check.Kind {
		case yaml.ScalarNode:
			g.Checks = []string{raw.Check.Value}
		case yaml.SequenceNode:
			if err := raw.Check.Decode(&g.Checks); err != nil {
				return nil, p.errorf(item, "validate %q: %v", g.Name, err)
			}
		default:
			return nil, p.errorf(item, "validate %q has no check", g.Name)
		}
		groups = append(groups, g)
	}
	return groups, nil
}

func (p *Parser) parseHandlers(n *yaml.Node) ([]*HandlerCall, error) {
	if n.Kind != yaml.SequenceNode {
		return nil, p.errorf(n, "handlers must be a list")
	}
	calls := make([]*HandlerCall, 0, len(n.Content))
	for _, item := range n.Content {
		if item.Kind == yaml.ScalarNode {
			calls = append(calls, &HandlerCall{Name: item.Value})
			continue
		}
		call := &HandlerCall{}
		err := eachPair(item, func(key string, val *yaml.Node) error {
			switch key {
			case "name":
				call.Name = val.Value
			case "args":
				args, err := decodeMap(val)
				if err != nil {
					return p.errorf(val, "handler args: %v", err)
				}
				call.Args = args
			default:
				return p.errorf(val, "unknown handler field %q", key)
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
		if call.Name == "" {
			return nil, p.errorf(item, "handler call has no name")
		}
		calls = append(calls, call)
	}
	return calls, nil
}

func (p *Parser) parseLoop(n *yaml.Node) (*LoopStep, error) {
	loop := &LoopStep{}
	hasOver := false
	err := eachPair(n, func(key string, val *yaml.Node) error {
		switch key {
		case "over":
			hasOver = true
			if val.Kind == yaml.ScalarNode {
				loop.Over = val.Value
				return nil
			}
			v, err := decodeAny(val)
			if err != nil {
				return p.errorf(val, "loop over: %v", err)
			}
			loop.Over = v
		case "var":
			loop.Var = val.Value
		case "index":
			loop.Index = val.Value
		case "steps":
			steps, err := p.parseSteps(val)
			if err != nil {
				return err
			}
			loop.Steps = steps
		case "script":
			loop.ScriptPath = val.Value
		default:
			return p.errorf(val, "unknown loop field %q", key)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if !hasOver {
		return nil, p.errorf(n, "loop has no source")
	}
	if loop.Var == "" {
		return nil, p.errorf(n, "loop has no var")
	}
	if (loop.Steps == nil) == (loop.ScriptPath == "") {
		return nil, p.errorf(n, "loop needs exactly one of steps or script")
	}
	return loop, nil
}

func (p *Parser) parseInclude(n *yaml.Node) (*IncludeStep, error) {
	if n.Kind == yaml.ScalarNode {
		if n.Value == "" {
			return nil, p.errorf(n, "include path is empty")
		}
		return &IncludeStep{Path: n.Value}, nil
	}
	script, err := p.parseScript(n)
	if err != nil {
		return nil, err
	}
	script.Path = scriptPath(p.file)
	return &IncludeStep{Script: script}, nil
}

func eachPair(n *yaml.Node, fn func(key string, val *yaml.Node) error) error {
	if n.Kind != yaml.MappingNode {
		return &StructuralError{Line: n.Line, Message: "expected a mapping"}
	}
	for i := 0; i+1 < len(n.Content); i += 2 {
		if err := fn(n.Content[i].Value, n.Content[i+1]); err != nil {
			return err
		}
	}
	return nil
}

func isNull(n *yaml.Node) bool {
	return n == nil || (n.Kind == yaml.ScalarNode && n.Tag == "!!null")
}

func decodeAny(n *yaml.Node) (any, error) {
	var v any
	if err := n.Decode(&v); err != nil {
		return nil, err
	}
	return Normalize(v), nil
}

func decodeMap(n *yaml.Node) (map[string]any, error) {
	if isNull(n) {
		return nil, nil
	}
	v, err := decodeAny(n)
	if err != nil {
		return nil, err
	}
	m, ok := v.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("expected a mapping")
	}
	return m, nil
}

// decodeStringMap reads a flat mapping whose scalar values are kept as written.
func decodeStringMap(n *yaml.Node) (map[string]string, error) {
	if isNull(n) {
		return nil, nil
	}
	out := make(map[string]string)
	err := eachPair(n, func(key string, val *yaml.Node) error {
		if val.Kind != yaml.ScalarNode {
			return fmt.Errorf("%q must be a scalar", key)
		}
		out[key] = val.Value
		return nil
	})
	return out, err
}

func parseDuration(n *yaml.Node) (time.Duration, error) {
	switch n.Tag {
	case "!!int", "!!float":
		ms, err := strconv.ParseFloat(n.Value, 64)
		if err != nil {
			return 0, err
		}
		return time.Duration(ms * float64(time.Millisecond)), nil
	}
	d, err := time.ParseDuration(n.Value)
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q", n.Value)
	}
	return d, nil
}

// Normalize converts decoded YAML into the JSON value space: maps keyed by
// string, []any, float64 numbers, bool, string and nil.
func Normalize(v any) any {
	switch x := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(x))
		for k, val := range x {
			out[k] = Normalize(val)
		}
		return out
	case map[any]any:
		out := make(map[string]any, len(x))
		for k, val := range x {
			out[fmt.Sprint(k)] = Normalize(val)
		}
		return out
	case []any:
		out := make([]any, len(x))
		for i, val := range x {
			out[i] = Normalize(val)
		}
		return out
	case int:
		return float64(x)
	case int64:
		return float64(x)
	case uint64:
		return float64(x)
	case float32:
		return float64(x)
	case time.Time:
		return x.Format(time.RFC3339Nano)
	default:
		return v
	}
}

// ParamNames returns the declared parameter names in sorted order.
func (s *Script) ParamNames() []string {
	names := make([]string, 0, len(s.Params))
	for name := range s.Params {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
