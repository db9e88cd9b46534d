package protocol

import (
	"bytes"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func allKinds() []Message {
	return []Message{
		Register{Name: "alice", ID: 3, AvatarIndex: 7, IsComputer: true},
		NumPlayers{Count: 4},
		ListenAck{ID: 2},
		MovingStatus{PlayerID: 1, IsMoving: true},
		StartGame{},
		DollGonnaTurn{},
		DollTurned{IsFront: true},
		FinishedHandlingTurn{ID: 4, IsLose: true},
		PlayerLose{ID: 0},
		CloseConnection{ID: 2},
		GameFinished{},
		KillAll{},
		Ping{},
		PlayerName{Name: "Gi-hun"},
	}
}

func TestRoundTrip(t *testing.T) {
	for _, m := range allKinds() {
		t.Run(m.Tag().String(), func(t *testing.T) {
			frame, err := Marshal(m)
			require.NoError(t, err)
			assert.Equal(t, string(m.Tag()), string(frame[:HeaderSize]))

			tag, payload, err := ParseFrame(frame)
			require.NoError(t, err)

			got, err := Decode(tag, payload)
			require.NoError(t, err)
			assert.Equal(t, m, got)
		})
	}
}

func TestTagsAreUnique(t *testing.T) {
	seen := make(map[Tag]bool)
	for _, m := range allKinds() {
		assert.False(t, seen[m.Tag()], "duplicate tag %s", m.Tag())
		assert.Len(t, string(m.Tag()), HeaderSize)
		seen[m.Tag()] = true
	}
	assert.Len(t, seen, 14)
}

func TestWireFieldNames(t *testing.T) {
	frame, err := Marshal(Register{Name: "bob", ID: 1, AvatarIndex: 2})
	require.NoError(t, err)
	assert.Equal(t, `0000{"client_name":"bob","client_id":1,"avatar_index":2,"is_pc_player":false}`, string(frame))

	frame, err = Marshal(MovingStatus{PlayerID: 3, IsMoving: true})
	require.NoError(t, err)
	assert.Equal(t, `0003{"player_id":3,"is_moving":true}`, string(frame))
}

func TestEncodeAppendsDelimiter(t *testing.T) {
	frame, err := Encode(Ping{})
	require.NoError(t, err)
	assert.Equal(t, "0012{}"+Delimiter, string(frame))
}

func TestMarshalRejectsDelimiterInPayload(t *testing.T) {
	_, err := Marshal(PlayerName{Name: "x" + Delimiter})
	assert.ErrorIs(t, err, ErrDelimiterInBody)
}

func TestDecodeUnknownTag(t *testing.T) {
	_, err := Decode("0042", []byte("{}"))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnknownMessage)

	var unknown *UnknownMessageError
	require.True(t, errors.As(err, &unknown))
	assert.Equal(t, Tag("0042"), unknown.Tag)
}

func TestParseFrameMalformed(t *testing.T) {
	tests := []struct {
		name     string
		fragment string
	}{
		{"too short", "001"},
		{"non numeric header", "abcd{}"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := ParseFrame([]byte(tt.fragment))
			assert.ErrorIs(t, err, ErrMalformedFrame)
		})
	}
}

func TestDecodeBadPayload(t *testing.T) {
	_, err := Decode(TagDollTurned, []byte(`{"is_front":`))
	assert.ErrorIs(t, err, ErrMalformedFrame)
}

func TestDecodeEmptyPayload(t *testing.T) {
	m, err := Decode(TagStartGame, nil)
	require.NoError(t, err)
	assert.Equal(t, StartGame{}, m)

	m, err = Decode(TagKillAll, []byte(" "))
	require.NoError(t, err)
	assert.Equal(t, KillAll{}, m)
}

func TestDecodeEmptyPayloadNeedsFieldlessKind(t *testing.T) {
	for _, tag := range []Tag{TagRegister, TagNumPlayers, TagListenAck, TagMovingStatus, TagDollTurned,
		TagFinishedHandlingTurn, TagPlayerLose, TagCloseConnection, TagPlayerName} {
		t.Run(tag.String(), func(t *testing.T) {
			m, err := Decode(tag, nil)
			assert.ErrorIs(t, err, ErrMalformedFrame)
			assert.Nil(t, m)
		})
	}

	_, err := Unmarshal([]byte("0000"))
	assert.ErrorIs(t, err, ErrMalformedFrame)
}

func TestSplit(t *testing.T) {
	for k := 0; k <= 5; k++ {
		var buf bytes.Buffer
		var want []Message
		for i := 0; i < k; i++ {
			m := MovingStatus{PlayerID: i, IsMoving: i%2 == 0}
			frame, err := Encode(m)
			require.NoError(t, err)
			buf.Write(frame)
			want = append(want, m)
		}

		fragments := Split(buf.Bytes())
		require.Len(t, fragments, k)
		for i, f := range fragments {
			got, err := Unmarshal(f)
			require.NoError(t, err)
			assert.Equal(t, want[i], got)
		}
	}
}

func TestSplitDropsEmptyFragments(t *testing.T) {
	buf := []byte(Delimiter + "0012{}" + Delimiter + Delimiter + "0004{}" + Delimiter)
	fragments := Split(buf)
	require.Len(t, fragments, 2)
	assert.Equal(t, "0012{}", string(fragments[0]))
	assert.Equal(t, "0004{}", string(fragments[1]))
}

func TestSplitKeepsTrailingPartial(t *testing.T) {
	fragments := Split([]byte("0012{}" + Delimiter + "0003{\"player_id\""))
	require.Len(t, fragments, 2)
	_, err := Unmarshal(fragments[1])
	assert.ErrorIs(t, err, ErrMalformedFrame)
}
