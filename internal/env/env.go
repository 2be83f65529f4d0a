// Package env composes the base environment handed to every script run.
package env

import (
	"os"
	"sort"
	"strings"
)

type Vars map[string]string

// Env layers global variables from config over a cached copy of the OS
// environment. It is not safe for concurrent mutation; build it once at
// startup and only call Base afterwards.
type Env struct {
	global Vars
	os     Vars
}

func New() *Env {
	return &Env{global: make(Vars)}
}

// FromList builds an Env whose globals come from "K=V" entries.
// Entries without '=' or with an empty key are ignored.
func FromList(list []string) *Env {
	e := New()
	for _, kv := range list {
		if k, v, ok := Split(kv); ok {
			e.Set(k, v)
		}
	}
	return e
}

// Split parses one "K=V" entry.
func Split(kv string) (string, string, bool) {
	i := strings.IndexByte(kv, '=')
	if i <= 0 {
		return "", "", false
	}
	return kv[:i], kv[i+1:], true
}

// LoadOS caches the current process environment as the base layer.
func (e *Env) LoadOS() {
	base := make(Vars)
	for _, kv := range os.Environ() {
		if k, v, ok := Split(kv); ok {
			base[k] = v
		}
	}
	e.os = base
}

func (e *Env) Set(k, v string) {
	if k == "" {
		return
	}
	if e.global == nil {
		e.global = make(Vars)
	}
	e.global[k] = v
}

func (e *Env) Unset(k string) {
	delete(e.global, k)
}

// Base returns OS env overlaid with the globals, with ${VAR} references in
// values expanded against the composed map. The result is sorted by key.
func (e *Env) Base() []string {
	if e.os == nil {
		e.LoadOS()
	}
	m := make(Vars, len(e.os)+len(e.global))
	for k, v := range e.os {
		m[k] = v
	}
	for k, v := range e.global {
		m[k] = v
	}
	out := make([]string, 0, len(m))
	for k, v := range m {
		out = append(out, k+"="+expand(v, m))
	}
	sort.Strings(out)
	return out
}

// Overlay applies overrides on top of base. Keys in overrides win.
// The result is sorted by key.
func Overlay(base []string, overrides map[string]string) []string {
	m := make(Vars, len(base)+len(overrides))
	for _, kv := range base {
		if k, v, ok := Split(kv); ok {
			m[k] = v
		}
	}
	for k, v := range overrides {
		if k == "" {
			continue
		}
		m[k] = v
	}
	out := make([]string, 0, len(m))
	for k, v := range m {
		out = append(out, k+"="+v)
	}
	sort.Strings(out)
	return out
}

// expand does a single pass of ${VAR} substitution, no recursion.
func expand(s string, m Vars) string {
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
		if v, ok := m[name]; ok {
			b.WriteString(v)
		} else {
			b.WriteString(s[i : i+3+j])
		}
		s = s[i+3+j:]
	}
	b.WriteString(s)
	return b.String()
}
