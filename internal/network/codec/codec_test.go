package codec

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/lk2023060901/danmu-garden-chat/internal/model"
	"github.com/lk2023060901/danmu-garden-chat/internal/network/compressor"
	"github.com/lk2023060901/danmu-garden-chat/internal/network/framer"
	"github.com/lk2023060901/danmu-garden-chat/internal/network/serializer"
	"github.com/lk2023060901/danmu-garden-chat/pkg/util/merr"
)

type CodecSuite struct {
	suite.Suite
	codecs map[string]Codec
}

func (s *CodecSuite) SetupSuite() {
	zstd, err := compressor.NewZstdCompressor(compressor.ZstdOptions{MinCompressSize: 32})
	s.Require().NoError(err)

	s.codecs = map[string]Codec{}
	for _, ser := range []serializer.Serializer{serializer.BinarySerializer{}, serializer.JSONSerializer{}} {
		plain, err := New(Options{Framer: framer.NewLengthPrefixedFramer(0), Serializer: ser})
		s.Require().NoError(err)
		s.codecs[ser.Name()] = plain

		packed, err := New(Options{
			Framer:            framer.NewLengthPrefixedFramer(0),
			Serializer:        ser,
			Compressor:        zstd,
			EnableCompression: true,
		})
		s.Require().NoError(err)
		s.codecs[ser.Name()+"+zstd"] = packed
	}
}

func (s *CodecSuite) TestMessageRoundTrip() {
	messages := []*model.Message{
		model.NewTextMessage("alice", "hello"),
		model.NewPrivateMessage("alice", "bob", "secret"),
		model.NewFileMessage("alice", "", "a.txt", []byte(strings.Repeat("file data ", 50))),
		model.NewFileMessage("alice", "bob", "b.bin", []byte{0, 0, 1, 2, 3, 0xfe}),
		model.NewSystemMessage("alice", "Private message delivered to bob"),
		model.NewUserJoinMessage("bob"),
		model.NewUserLeaveMessage("bob"),
		model.NewTypingMessage("alice"),
	}
	for name, c := range s.codecs {
		for _, msg := range messages {
			data, err := c.Marshal(MessageFrame(msg))
			s.Require().NoError(err, name)

			f, err := c.Unmarshal(data)
			s.Require().NoError(err, name)
			got, err := f.ChatMessage()
			s.Require().NoError(err)
			s.Equal(msg, got, "%s %s", name, msg.Type)
		}
	}
}

func (s *CodecSuite) TestControlFramesRoundTrip() {
	frames := []*Frame{
		LoginFrame("alice", "pw"),
		RegisterFrame("alice", "pw", "alice@example.com"),
		AuthResponseFrame(TagLogin, true, "Login successful"),
		AuthResponseFrame(TagRegister, false, "Username already exists"),
		UsersListFrame([]model.User{model.NewOnlineUser("alice"), model.NewOnlineUser("bob")}),
	}
	for name, c := range s.codecs {
		var buf bytes.Buffer
		for _, f := range frames {
			s.Require().NoError(c.Encode(&buf, f), name)
		}
		for _, want := range frames {
			got, err := c.Decode(&buf)
			s.Require().NoError(err, name)
			s.Equal(want, got, name)
		}
		_, err := c.Decode(&buf)
		s.ErrorIs(err, merr.ErrEndOfStream)
	}
}

func (s *CodecSuite) TestEmptyUsersList() {
	c := s.codecs[serializer.NameBinary]
	data, err := c.Marshal(UsersListFrame(nil))
	s.Require().NoError(err)
	f, err := c.Unmarshal(data)
	s.Require().NoError(err)
	users, err := f.UserList()
	s.Require().NoError(err)
	s.Empty(users)
}

func (s *CodecSuite) TestUnknownTagIsConsumed() {
	c := s.codecs[serializer.NameBinary]
	var buf bytes.Buffer
	_, err := framer.NewLengthPrefixedFramer(0).WriteFrame(&buf, &framer.Envelope{Tag: "PING", Body: []byte{1, 2, 3}})
	s.Require().NoError(err)
	s.Require().NoError(c.Encode(&buf, LoginFrame("alice", "pw")))

	f, err := c.Decode(&buf)
	s.ErrorIs(err, merr.ErrProtocolUnknownTag)
	s.Equal(Tag("PING"), f.Tag)

	f, err = c.Decode(&buf)
	s.Require().NoError(err)
	s.Equal(TagLogin, f.Tag)
}

func (s *CodecSuite) TestWrongShapeIsMalformed() {
	c := s.codecs[serializer.NameBinary]
	body, err := c.(*codec).appendBody(nil, &Frame{Tag: TagLogin, Payloads: []Payload{String("alice")}})
	s.Require().NoError(err)

	var buf bytes.Buffer
	_, err = framer.NewLengthPrefixedFramer(0).WriteFrame(&buf, &framer.Envelope{Tag: string(TagLogin), Body: body})
	s.Require().NoError(err)

	_, err = c.Decode(&buf)
	s.ErrorIs(err, merr.ErrProtocolMalformed)
}

func (s *CodecSuite) TestEncodeRejectsInvalidFrames() {
	c := s.codecs[serializer.NameBinary]
	var buf bytes.Buffer
	s.ErrorIs(c.Encode(&buf, &Frame{Tag: "PING"}), merr.ErrProtocolUnknownTag)
	s.ErrorIs(c.Encode(&buf, &Frame{Tag: TagMessage, Payloads: []Payload{Message(nil)}}), merr.ErrProtocolMalformed)
	s.ErrorIs(c.Encode(&buf, nil), merr.ErrParameterMissing)
	s.Zero(buf.Len())
}

func (s *CodecSuite) TestInvalidMessageType() {
	c := s.codecs[serializer.NameBinary]
	msg := model.NewTextMessage("alice", "hi")
	msg.Type = 42
	data, err := c.Marshal(MessageFrame(msg))
	s.Require().NoError(err)

	_, err = c.Unmarshal(data)
	s.ErrorIs(err, merr.ErrProtocolMalformed)
}

func (s *CodecSuite) TestCompressedFrameWithoutCompression() {
	packed := s.codecs[serializer.NameBinary+"+zstd"]
	plain := s.codecs[serializer.NameBinary]

	msg := model.NewTextMessage("alice", strings.Repeat("z", 4096))
	data, err := packed.Marshal(MessageFrame(msg))
	s.Require().NoError(err)
	s.Less(len(data), 4096)

	_, err = plain.Unmarshal(data)
	s.ErrorIs(err, merr.ErrProtocolMalformed)
}

func (s *CodecSuite) TestTruncatedStream() {
	c := s.codecs[serializer.NameBinary]
	data, err := c.Marshal(MessageFrame(model.NewTextMessage("alice", "hello")))
	s.Require().NoError(err)

	_, err = c.Unmarshal(data[:len(data)-2])
	s.ErrorIs(err, merr.ErrEndOfStream)
}

func TestCodec(t *testing.T) {
	suite.Run(t, new(CodecSuite))
}

func TestNewRequiresDependencies(t *testing.T) {
	_, err := New(Options{Serializer: serializer.BinarySerializer{}})
	assert.ErrorIs(t, err, merr.ErrParameterMissing)

	_, err = New(Options{Framer: framer.NewLengthPrefixedFramer(0)})
	assert.ErrorIs(t, err, merr.ErrParameterMissing)

	_, err = New(Options{
		Framer:            framer.NewLengthPrefixedFramer(0),
		Serializer:        serializer.BinarySerializer{},
		EnableCompression: true,
	})
	assert.ErrorIs(t, err, merr.ErrParameterMissing)
}

func TestFrameAccessors(t *testing.T) {
	req, err := RegisterFrame("alice", "pw", "a@example.com").AuthRequest()
	require.NoError(t, err)
	assert.Equal(t, AuthRequest{Register: true, Username: "alice", Password: "pw", Email: "a@example.com"}, req)

	req, err = LoginFrame("bob", "pw").AuthRequest()
	require.NoError(t, err)
	assert.False(t, req.Register)

	_, err = MessageFrame(model.NewTextMessage("a", "b")).AuthRequest()
	assert.ErrorIs(t, err, merr.ErrProtocolMalformed)

	ok, text, err := AuthResponseFrame(TagLogin, false, "Invalid credentials").AuthResponse()
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, "Invalid credentials", text)

	_, _, err = LoginFrame("a", "b").AuthResponse()
	assert.ErrorIs(t, err, merr.ErrProtocolMalformed)

	_, err = LoginFrame("a", "b").UserList()
	assert.ErrorIs(t, err, merr.ErrProtocolMalformed)
	_, err = LoginFrame("a", "b").ChatMessage()
	assert.ErrorIs(t, err, merr.ErrProtocolMalformed)

	assert.True(t, TagRegister.IsAuth())
	assert.False(t, TagMessage.IsAuth())
	assert.False(t, Tag("PING").Known())
}
