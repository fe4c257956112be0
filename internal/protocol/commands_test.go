package protocol

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeJoinRoomAcceptsUserObject(t *testing.T) {
	cmd, err := Decode([]byte(`{"type":"join-room","data":{"roomId":"r1","user":{"id":"u1","name":"Ada","avatar":"a.png"}}}`))
	require.NoError(t, err)

	join, ok := cmd.(JoinRoom)
	require.True(t, ok)
	assert.Equal(t, "r1", join.RoomID)
	assert.Equal(t, User{ID: "u1", Name: "Ada", Avatar: "a.png"}, join.User)
}

func TestDecodeJoinRoomAcceptsBareUserID(t *testing.T) {
	cmd, err := Decode([]byte(`{"type":"join-room","data":{"roomId":"r1","user":"u2"}}`))
	require.NoError(t, err)

	join := cmd.(JoinRoom)
	assert.Equal(t, "u2", join.User.ID)
	assert.Equal(t, "u2", join.User.Name)
}

func TestDecodeJoinRoomAcceptsUserIDAliases(t *testing.T) {
	cmd, err := Decode([]byte(`{"type":"join-room","data":{"roomId":"r1","user":{"userId":"u3","username":"bob"}}}`))
	require.NoError(t, err)
	assert.Equal(t, User{ID: "u3", Name: "bob"}, cmd.(JoinRoom).User)

	cmd, err = Decode([]byte(`{"type":"join-room","data":{"roomId":"r1","userId":"u4"}}`))
	require.NoError(t, err)
	assert.Equal(t, "u4", cmd.(JoinRoom).User.ID)
}

func TestDecodeRejectsMalformedFrames(t *testing.T) {
	cases := map[string]string{
		"not json":             `{"type":`,
		"missing type":         `{"data":{}}`,
		"join without room":    `{"type":"join-room","data":{"user":"u1"}}`,
		"join without user":    `{"type":"join-room","data":{"roomId":"r1"}}`,
		"sync without content": `{"type":"realtime-content-sync","data":{"roomId":"r1","filePath":"a.js"}}`,
		"sync without file":    `{"type":"code-change","data":{"roomId":"r1","content":"x"}}`,
		"empty operation":      `{"type":"code-operation","data":{"roomId":"r1","filePath":"a.js"}}`,
		"negative cursor":      `{"type":"cursor-position","data":{"roomId":"r1","filePath":"a.js","line":-1}}`,
		"write without body":   `{"type":"write-file","data":{"roomId":"r1","filePath":"a.js"}}`,
		"folder without path":  `{"type":"create-folder","data":{"roomId":"r1"}}`,
		"empty terminal input": `{"type":"terminal-input","data":{}}`,
		"data not an object":   `{"type":"leave-room","data":[1,2]}`,
	}
	for name, frame := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Decode([]byte(frame))
			var ve *ValidationError
			require.Error(t, err)
			assert.True(t, errors.As(err, &ve), "want ValidationError, got %v", err)
		})
	}
}

func TestDecodeUnknownEvent(t *testing.T) {
	_, err := Decode([]byte(`{"type":"launch-rockets","data":{}}`))
	require.ErrorIs(t, err, ErrUnknownEvent)
}

func TestDecodeContentEvents(t *testing.T) {
	cmd, err := Decode([]byte(`{"type":"realtime-content-sync","data":{"roomId":"r1","filePath":"main.js","content":""}}`))
	require.NoError(t, err)
	sync := cmd.(ContentSync)
	assert.Equal(t, EventContentSync, sync.EventName())
	require.NotNil(t, sync.Content)
	assert.Equal(t, "", *sync.Content)

	cmd, err = Decode([]byte(`{"type":"code-operation","data":{"roomId":"r1","path":"main.js","operation":{"insert":"x","at":3}}}`))
	require.NoError(t, err)
	op := cmd.(ContentSync)
	assert.Equal(t, "main.js", op.FilePath)
	assert.Nil(t, op.Content)
	assert.JSONEq(t, `{"insert":"x","at":3}`, string(op.Operation))
}

func TestDecodeCursorNestedPosition(t *testing.T) {
	cmd, err := Decode([]byte(`{"type":"cursor-change","data":{"roomId":"r1","filePath":"a.js","position":{"line":4,"column":9},"selection":{"startLine":1,"startColumn":0,"endLine":2,"endColumn":5}}}`))
	require.NoError(t, err)

	cur := cmd.(CursorMove)
	assert.Equal(t, 4, cur.Line)
	assert.Equal(t, 9, cur.Column)
	require.NotNil(t, cur.Selection)
	assert.Equal(t, 2, cur.Selection.EndLine)
}

func TestDecodeTypingDefaultsToTrue(t *testing.T) {
	cmd, err := Decode([]byte(`{"type":"user-typing","data":{"roomId":"r1","filePath":"a.js"}}`))
	require.NoError(t, err)
	assert.True(t, cmd.(Typing).IsTyping)

	cmd, err = Decode([]byte(`{"type":"user-typing","data":{"roomId":"r1","filePath":"a.js","isTyping":false}}`))
	require.NoError(t, err)
	assert.False(t, cmd.(Typing).IsTyping)
}

func TestDecodeEditPermission(t *testing.T) {
	cmd, err := Decode([]byte(`{"type":"request-edit-permission","data":{"roomId":"r1","filePath":"a.js"}}`))
	require.NoError(t, err)
	assert.Equal(t, EditPermission{RoomID: "r1", FilePath: "a.js"}, cmd)
	assert.Equal(t, EventRequestEdit, cmd.EventName())

	cmd, err = Decode([]byte(`{"type":"release-edit-permission","data":{"roomId":"r1","filePath":"a.js"}}`))
	require.NoError(t, err)
	assert.Equal(t, EditPermission{Release: true, RoomID: "r1", FilePath: "a.js"}, cmd)
	assert.Equal(t, EventReleaseEdit, cmd.EventName())
}

func TestDecodeFolderEventsUsePathAlias(t *testing.T) {
	cmd, err := Decode([]byte(`{"type":"create-folder","data":{"roomId":"r1","path":"src/lib"}}`))
	require.NoError(t, err)
	assert.Equal(t, FileOp{Event: EventCreateFolder, RoomID: "r1", Path: "src/lib"}, cmd)

	cmd, err = Decode([]byte(`{"type":"read-folder","data":{"roomId":"r1"}}`))
	require.NoError(t, err)
	assert.Equal(t, FileOp{Event: EventReadFolder, RoomID: "r1"}, cmd)
}

func TestDecodeTerminalInputForms(t *testing.T) {
	for _, frame := range []string{
		`{"type":"terminal-input","data":"ls\r"}`,
		`{"type":"terminal-input","data":{"input":"ls\r"}}`,
		`{"type":"terminal-input","data":{"data":"ls\r"}}`,
	} {
		cmd, err := Decode([]byte(frame))
		require.NoError(t, err, frame)
		assert.Equal(t, TerminalInput{Data: "ls\r"}, cmd, frame)
	}
}

func TestDecodeSignalsWithoutData(t *testing.T) {
	for event, want := range map[string]Command{
		EventStopTerminal:  StopTerminal{},
		EventStartTerminal: StartTerminal{},
		EventHeartbeat:     PresenceSignal{Event: EventHeartbeat},
		EventAway:          PresenceSignal{Event: EventAway},
	} {
		cmd, err := Decode([]byte(`{"type":"` + event + `"}`))
		require.NoError(t, err, event)
		assert.Equal(t, want, cmd, event)
	}
}

func TestEncodeFramesEnvelope(t *testing.T) {
	frame, err := Encode(EventHeartbeatAck, map[string]int{"n": 1})
	require.NoError(t, err)

	var env Envelope
	require.NoError(t, json.Unmarshal(frame, &env))
	assert.Equal(t, EventHeartbeatAck, env.Type)
	assert.JSONEq(t, `{"n":1}`, string(env.Data))
}
