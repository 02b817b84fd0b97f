package protocol

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeRecord_OmitsZeroTime(t *testing.T) {
	assert.JSONEq(t, `{"from":"alice","message":"hi"}`, EncodeRecord(ChatRecord{From: "alice", Message: "hi"}))
}

func TestDecodeRecord_WithoutTime(t *testing.T) {
	rec, err := DecodeRecord(`{"from":"bob","message":"yo"}`)
	require.NoError(t, err)
	assert.Equal(t, ChatRecord{From: "bob", Message: "yo"}, rec)
}

func TestDecodeRecord_RawTextFails(t *testing.T) {
	_, err := DecodeRecord("just text")
	assert.ErrorIs(t, err, ErrDecode)
}
