package hooks

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetWorkerPort(t *testing.T) {
	port := GetWorkerPort()
	assert.Equal(t, DefaultWorkerPort, port)

	t.Setenv("RECALL_WORKER_PORT", "12345")
	port = GetWorkerPort()
	assert.Equal(t, 12345, port)

	// Malformed override falls back to the default.
	t.Setenv("RECALL_WORKER_PORT", "invalid")
	port = GetWorkerPort()
	assert.Equal(t, DefaultWorkerPort, port)

	t.Setenv("RECALL_WORKER_PORT", "-1")
	port = GetWorkerPort()
	assert.Equal(t, DefaultWorkerPort, port)
}

func TestIsWorkerRunning_NoWorker(t *testing.T) {
	assert.False(t, IsWorkerRunning(1))
}

func TestIsPortInUse_FreePort(t *testing.T) {
	assert.False(t, IsPortInUse(1))
}

func TestGetWorkerVersion_NoWorker(t *testing.T) {
	assert.Equal(t, "", GetWorkerVersion(1))
}

func TestProjectIDWithName(t *testing.T) {
	tests := []struct {
		cwd    string
		prefix string
	}{
		{cwd: "/Users/test/projects/my-project", prefix: "my-project_"},
		{cwd: "/tmp", prefix: "tmp_"},
	}

	for _, tt := range tests {
		t.Run(tt.cwd, func(t *testing.T) {
			result := ProjectIDWithName(tt.cwd)
			assert.Contains(t, result, tt.prefix)
			// Hash suffix is six hex chars.
			assert.Len(t, result, len(tt.prefix)+6)
		})
	}
}

func TestProjectIDWithName_Stable(t *testing.T) {
	a := ProjectIDWithName("/srv/app")
	b := ProjectIDWithName("/srv/app")
	assert.Equal(t, a, b)

	// Same basename, different location: different id.
	c := ProjectIDWithName("/home/other/app")
	assert.NotEqual(t, a, c)
}

func TestKillProcessOnPort_NoProcess(t *testing.T) {
	err := KillProcessOnPort(1)
	require.NoError(t, err)
}

func TestFindWorkerBinary_DoesNotPanic(t *testing.T) {
	result := findWorkerBinary()
	t.Logf("findWorkerBinary returned: %s", result)
}

func TestGitProvenance_OutsideRepo(t *testing.T) {
	branch, sha := GitProvenance(t.TempDir())
	assert.Equal(t, "", branch)
	assert.Equal(t, "", sha)
}
