package serializer

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/encoding/protowire"

	"github.com/lk2023060901/danmu-garden-chat/internal/model"
	"github.com/lk2023060901/danmu-garden-chat/pkg/util/merr"
)

func sampleMessages() []*model.Message {
	return []*model.Message{
		model.NewTextMessage("alice", "hello everyone"),
		model.NewPrivateMessage("alice", "bob", "psst"),
		model.NewFileMessage("alice", "", "notes.txt", []byte("line1\nline2")),
		model.NewFileMessage("alice", "bob", "blob.bin", []byte{0, 1, 2, 0xff}),
		model.NewSystemMessage("bob", "Private message delivered to bob"),
		model.NewUserJoinMessage("carol"),
		model.NewUserLeaveMessage("carol"),
		model.NewTypingMessage("dave"),
		{Type: model.MessageTypeText, Content: "no id no timestamp"},
	}
}

func TestRoundTrip(t *testing.T) {
	for _, s := range []Serializer{BinarySerializer{}, JSONSerializer{}} {
		for _, msg := range sampleMessages() {
			data, err := s.Marshal(msg)
			require.NoError(t, err, s.Name())

			got, err := s.Unmarshal(data)
			require.NoError(t, err, s.Name())
			assert.Equal(t, msg, got, "%s: %s", s.Name(), msg.Type)
		}
	}
}

func TestTimestampPrecision(t *testing.T) {
	ts := time.Date(2024, 2, 29, 23, 59, 59, 123456789, time.UTC)
	msg := &model.Message{ID: "x", Type: model.MessageTypeText, Timestamp: ts}
	for _, s := range []Serializer{BinarySerializer{}, JSONSerializer{}} {
		data, err := s.Marshal(msg)
		require.NoError(t, err)
		got, err := s.Unmarshal(data)
		require.NoError(t, err)
		assert.True(t, ts.Equal(got.Timestamp), s.Name())
	}
}

func TestRoundTripNormalisesZoneAndEmptyFile(t *testing.T) {
	zone := time.FixedZone("UTC+8", 8*3600)
	ts := time.Date(2024, 3, 1, 7, 59, 59, 5, zone)
	msg := &model.Message{ID: "x", Type: model.MessageTypeFile, FileName: "empty.txt", FileData: []byte{}, Timestamp: ts}
	for _, s := range []Serializer{BinarySerializer{}, JSONSerializer{}} {
		data, err := s.Marshal(msg)
		require.NoError(t, err)
		got, err := s.Unmarshal(data)
		require.NoError(t, err)

		assert.True(t, ts.Equal(got.Timestamp), s.Name())
		assert.Equal(t, time.UTC, got.Timestamp.Location(), s.Name())
		assert.Equal(t, ts.UTC(), got.Timestamp, s.Name())
		assert.Nil(t, got.FileData, s.Name())
		assert.Equal(t, "empty.txt", got.FileName, s.Name())
	}
	// 编码不修改调用方的消息。
	assert.Equal(t, zone, msg.Timestamp.Location())
	assert.NotNil(t, msg.FileData)
}

func TestMarshalNil(t *testing.T) {
	_, err := BinarySerializer{}.Marshal(nil)
	assert.ErrorIs(t, err, merr.ErrParameterMissing)
	_, err = JSONSerializer{}.Marshal(nil)
	assert.ErrorIs(t, err, merr.ErrParameterMissing)
}

func TestBinarySkipsUnknownFields(t *testing.T) {
	msg := model.NewTextMessage("alice", "hi")
	data, err := BinarySerializer{}.Marshal(msg)
	require.NoError(t, err)

	data = protowire.AppendTag(data, 42, protowire.Fixed32Type)
	data = protowire.AppendFixed32(data, 7)
	got, err := BinarySerializer{}.Unmarshal(data)
	require.NoError(t, err)
	assert.Equal(t, msg, got)
}

func TestBinaryCorrupt(t *testing.T) {
	_, err := BinarySerializer{}.Unmarshal([]byte{0x0a, 0x10, 'a'})
	assert.ErrorIs(t, err, merr.ErrProtocolMalformed)
}

func TestJSONCorrupt(t *testing.T) {
	_, err := JSONSerializer{}.Unmarshal([]byte(`{"type":`))
	assert.ErrorIs(t, err, merr.ErrProtocolMalformed)

	_, err = JSONSerializer{}.Unmarshal([]byte(`{"type":"SHOUT"}`))
	assert.ErrorIs(t, err, merr.ErrProtocolMalformed)
}

func TestJSONFieldNames(t *testing.T) {
	msg := model.NewPrivateMessage("alice", "bob", "hi")
	data, err := JSONSerializer{}.Marshal(msg)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"type":"PRIVATE"`)
	assert.Contains(t, string(data), `"receiver":"bob"`)
	assert.NotContains(t, string(data), "fileData")
}

func TestNew(t *testing.T) {
	s, err := New("")
	require.NoError(t, err)
	assert.Equal(t, NameBinary, s.Name())

	s, err = New(" JSON ")
	require.NoError(t, err)
	assert.Equal(t, NameJSON, s.Name())

	_, err = New("xml")
	assert.ErrorIs(t, err, merr.ErrParameterInvalid)
}
