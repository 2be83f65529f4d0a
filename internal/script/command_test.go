package script

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBuildInvocationSplitsAndAppendsArguments(t *testing.T) {
	inv := BuildInvocation("npm run dev", "--port 3000", nil, "/tmp", nil)
	assert.Equal(t, "npm", inv.Program)
	assert.Equal(t, []string{"run", "dev", "--port", "3000"}, inv.Args)
	assert.Equal(t, "/tmp", inv.Dir)
	assert.True(t, inv.Shell)
	assert.Equal(t, "npm run dev --port 3000", inv.Line())
}

func TestBuildInvocationNoQuoting(t *testing.T) {
	inv := BuildInvocation(`echo "a  b"`, "", nil, "", nil)
	assert.Equal(t, "echo", inv.Program)
	assert.Equal(t, []string{`"a`, `b"`}, inv.Args)
}

func TestBuildInvocationOverlayWins(t *testing.T) {
	base := []string{"A=1", "B=2"}
	inv := BuildInvocation("run", "", map[string]string{"B": "override", "C": "3"}, "", base)
	assert.Equal(t, []string{"A=1", "B=override", "C=3"}, inv.Env)
	assert.Equal(t, []string{"A=1", "B=2"}, base)
}

func TestBuildInvocationEmptyCommand(t *testing.T) {
	inv := BuildInvocation("   ", "", nil, "", nil)
	assert.Equal(t, "", inv.Program)
	assert.Empty(t, inv.Args)
	assert.Equal(t, "", inv.Line())
}
