package slurm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseSbatch(t *testing.T) {
	id, cluster, err := parseSbatch([]byte("1234\n"))
	require.NoError(t, err)
	assert.Equal(t, "1234", id)
	assert.Empty(t, cluster)

	id, cluster, err = parseSbatch([]byte("sbatch: warning: memory rounded\n99;hpc\n"))
	require.NoError(t, err)
	assert.Equal(t, "99", id)
	assert.Equal(t, "hpc", cluster)

	_, _, err = parseSbatch([]byte("Submitted batch job"))
	assert.Error(t, err)
}

func TestParseQueue(t *testing.T) {
	out := []byte("\n12|scitex-uu1|PENDING|normal|0:00|1-00:00:00|(Priority)|scitex:user=u1\n" +
		"13_2|scitex-uu1|RUNNING|long|3:10|7-00:00:00|node[1-2]|scitex:user=u1\n")

	entries, err := parseQueue(out)
	require.NoError(t, err)
	require.Len(t, entries, 2)

	assert.Equal(t, QueueEntry{
		JobID:     "12",
		Name:      "scitex-uu1",
		State:     StatePending,
		Partition: "normal",
		Elapsed:   "0:00",
		TimeLimit: "1-00:00:00",
		Reason:    "Priority",
		Comment:   "scitex:user=u1",
	}, entries[0])
	assert.Equal(t, "u1", entries[1].UserID())
	assert.Equal(t, "node[1-2]", entries[1].Reason)

	_, err = parseQueue([]byte("12|short"))
	assert.Error(t, err)
}

func TestParseAccounting(t *testing.T) {
	out := []byte("31.batch|batch|COMPLETED|0:0|00:10:00|node1\n" +
		"31|scitex-uu1|TIMEOUT|0:1|00:10:00|node1\n")

	status, found, err := parseAccounting(out, "31")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, StateTimeout, status.State)
	assert.Equal(t, "node1", status.NodeList)

	_, found, err = parseAccounting(out, "32")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestNormalizeState(t *testing.T) {
	tests := map[string]string{
		"RUNNING":           StateRunning,
		"CANCELLED by 1000": StateCancelled,
		"CANCELLED+":        StateCancelled,
		" COMPLETED ":       StateCompleted,
	}
	for in, want := range tests {
		assert.Equal(t, want, normalizeState(in), in)
	}
}

func TestParseExitCode(t *testing.T) {
	assert.Equal(t, 0, parseExitCode("0:0"))
	assert.Equal(t, 2, parseExitCode("2:0"))
	assert.Equal(t, 0, parseExitCode(""))
}

func TestUserFromComment(t *testing.T) {
	assert.Equal(t, "alice", userFromComment(userComment("alice")))
	assert.Empty(t, userFromComment("(null)"))
}

func TestIsTerminal(t *testing.T) {
	assert.True(t, IsTerminal(StateCompleted))
	assert.True(t, IsTerminal(StateOutOfMemory))
	assert.False(t, IsTerminal(StatePending))
	assert.False(t, IsTerminal(StateRunning))
}
