package env

import (
	"os"
	"path/filepath"
	"strings"
)

type Var map[string]string

// Env resolves ${VAR} references in config values. Variables set with Set
// (typically from env files) sit below the process environment.
type Env struct {
	Var Var // variables from env files (K->V)
	env Var // cached base from OS environment
}

func New() *Env {
	return &Env{
		Var: make(Var),
	}
}

// FromOS caches the current process environment as the base.
func (e *Env) FromOS() {
	base := make(Var)
	for _, kv := range os.Environ() {
		if i := strings.IndexByte(kv, '='); i >= 0 {
			k := kv[:i]
			v := kv[i+1:]
			if k == "" {
				continue
			}
			base[k] = v
		}
	}
	e.env = base
}

// Set sets a variable K=V. The process environment still wins in Lookup.
func (e *Env) Set(k, v string) {
	if k == "" {
		return
	}
	if e.Var == nil {
		e.Var = make(Var)
	}
	e.Var[k] = v
}

// Lookup returns the process value of k, falling back to Set variables.
func (e *Env) Lookup(k string) (string, bool) {
	if e.env == nil {
		e.FromOS()
	}
	if v, ok := e.env[k]; ok {
		return v, true
	}
	v, ok := e.Var[k]
	return v, ok
}

// Expand replaces every ${VAR} in s with its value. Unknown variables and a
// bare $ are left untouched, so DSN passwords containing $ survive. Values
// are not expanded again.
func (e *Env) Expand(s string) string {
	if !strings.Contains(s, "${") {
		return s
	}
	var b strings.Builder
	for {
		i := strings.Index(s, "${")
		if i < 0 {
			break
		}
		j := strings.IndexByte(s[i+2:], '}')
		if j < 0 {
			break
		}
		name := s[i+2 : i+2+j]
		b.WriteString(s[:i])
		if v, ok := e.Lookup(name); ok && name != "" {
			b.WriteString(v)
		} else {
			b.WriteString(s[i : i+3+j])
		}
		s = s[i+3+j:]
	}
	b.WriteString(s)
	return b.String()
}

// ParseFile reads a .env file of KEY=VALUE lines. Blank lines and lines
// starting with # are ignored; an "export " prefix and matching surrounding
// quotes are stripped.
func ParseFile(path string) (Var, error) {
	b, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, err
	}
	m := make(Var)
	for _, line := range strings.Split(string(b), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		line = strings.TrimPrefix(line, "export ")
		k, v, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		k = strings.TrimSpace(k)
		if k == "" {
			continue
		}
		m[k] = unquote(strings.TrimSpace(v))
	}
	return m, nil
}

func unquote(v string) string {
	if len(v) >= 2 && (v[0] == '"' || v[0] == '\'') && v[len(v)-1] == v[0] {
		return v[1 : len(v)-1]
	}
	return v
}
