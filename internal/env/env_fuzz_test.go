package env

import (
	"strings"
	"testing"
)

// FuzzBaseOverlay checks that composed environments stay well formed for
// arbitrary globals and overrides.
func FuzzBaseOverlay(f *testing.F) {
	f.Add([]byte("A=1\nB=${A}-x"), []byte("C=${B}-y"))
	f.Add([]byte("FOO=bar"), []byte("FOO=${FOO}"))
	f.Add([]byte("X=$Y"), []byte("Y=${X}"))
	f.Add([]byte("OPEN=${"), []byte("=novalue"))

	f.Fuzz(func(t *testing.T, globalB []byte, overB []byte) {
		global := splitNZ(string(globalB))
		if len(global) > 20 {
			global = global[:20]
		}
		over := map[string]string{}
		for i, kv := range splitNZ(string(overB)) {
			if i >= 20 {
				break
			}
			if k, v, ok := Split(kv); ok {
				over[k] = v
			}
		}

		e := FromList(global)
		e.os = Vars{}
		out := Overlay(e.Base(), over)
		for _, kv := range out {
			if !strings.Contains(kv, "=") {
				t.Fatalf("bad pair: %q", kv)
			}
			if strings.HasPrefix(kv, "=") {
				t.Fatalf("empty key: %q", kv)
			}
		}
		for k, v := range over {
			if !contains(out, k+"="+v) {
				t.Fatalf("override %s=%s missing from %v", k, v, out)
			}
		}
	})
}

func splitNZ(s string) []string {
	var out []string
	for _, p := range strings.Split(s, "\n") {
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
