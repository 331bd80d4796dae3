package memory

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBlobStorePutObject(t *testing.T) {
	t.Parallel()

	store := NewBlobStore()
	uri, err := store.PutObject(context.Background(), "digests/2026-03-10/run.json", "application/json",
		bytes.NewReader([]byte(`{"runId":"run"}`)))
	require.NoError(t, err)
	assert.Equal(t, "memory://digests/2026-03-10/run.json", uri)

	got, ok := store.Object("digests/2026-03-10/run.json")
	require.True(t, ok)
	assert.JSONEq(t, `{"runId":"run"}`, string(got))
	got[0] = 'X'
	again, _ := store.Object("digests/2026-03-10/run.json")
	assert.Equal(t, byte('{'), again[0], "Object must return a copy")
	assert.Equal(t, []string{"digests/2026-03-10/run.json"}, store.Paths())

	_, err = store.PutObject(context.Background(), "", "", bytes.NewReader(nil))
	assert.Error(t, err)
}
