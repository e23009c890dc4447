package store

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDepsRoundTrip(t *testing.T) {
	deps := []uuid.UUID{uuid.New(), uuid.New(), uuid.New()}

	decoded, err := DecodeDeps(EncodeDeps(deps))
	require.NoError(t, err)
	assert.Equal(t, deps, decoded)
}

func TestDepsEmpty(t *testing.T) {
	assert.Equal(t, "", EncodeDeps(nil))
	assert.Equal(t, "", EncodeDeps([]uuid.UUID{}))

	decoded, err := DecodeDeps("")
	require.NoError(t, err)
	assert.Nil(t, decoded)
}

func TestDecodeDepsRejectsMalformedIDs(t *testing.T) {
	_, err := DecodeDeps("not-a-uuid")
	require.Error(t, err)

	_, err = DecodeDeps(uuid.New().String() + ",garbage")
	require.Error(t, err)
}
