package segment

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/copycat/copycat/pkg/types"
)

func TestEncodeDecodeEntryRoundTrip(t *testing.T) {
	e := types.Entry{
		Term:      3,
		Kind:      types.EntryCommand,
		Key:       []byte("session-42"),
		Payload:   []byte("set x=1"),
		Timestamp: 1000,
	}
	buf := encodeEntry(e)

	length, err := decodeLength(buf[:4])
	require.NoError(t, err)
	require.Equal(t, int(length), len(buf))

	got, err := decodeEntry(buf)
	require.NoError(t, err)
	require.Equal(t, e.Term, got.Term)
	require.Equal(t, e.Kind, got.Kind)
	require.Equal(t, e.Key, got.Key)
	require.Equal(t, e.Payload, got.Payload)
	require.Equal(t, e.Timestamp, got.Timestamp)
}

func TestEncodeDecodeEntryNoKey(t *testing.T) {
	e := types.Entry{Term: 1, Kind: types.EntryNoOp}
	buf := encodeEntry(e)
	got, err := decodeEntry(buf)
	require.NoError(t, err)
	require.Nil(t, got.Key)
	require.Nil(t, got.Payload)
}

func TestDecodeEntryRejectsLengthMismatch(t *testing.T) {
	e := types.Entry{Term: 1, Payload: []byte("x")}
	buf := encodeEntry(e)
	_, err := decodeEntry(buf[:len(buf)-1])
	require.Error(t, err)
}
