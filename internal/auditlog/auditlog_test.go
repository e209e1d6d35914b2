package auditlog

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAppend_ChainsHashes(t *testing.T) {
	l, err := Open(Config{Dir: t.TempDir()})
	require.NoError(t, err)
	defer l.Close()

	e1, err := l.Append("agent-1", "send", "msg-1", "success", "")
	require.NoError(t, err)
	e2, err := l.Append("agent-1", "send", "msg-2", "success", "")
	require.NoError(t, err)

	assert.Equal(t, e1.Hash, e2.PrevHash)
	assert.True(t, l.Verify())
}

func TestOpen_RestoresEntriesFromWAL(t *testing.T) {
	dir := t.TempDir()
	l1, err := Open(Config{Dir: dir})
	require.NoError(t, err)
	_, err = l1.Append("agent-1", "send", "msg-1", "success", "")
	require.NoError(t, err)
	require.NoError(t, l1.Close())

	l2, err := Open(Config{Dir: dir})
	require.NoError(t, err)
	defer l2.Close()
	assert.True(t, l2.Verify())
	assert.Len(t, l2.entries, 1)
}
