package protocol

// Tag is the fixed-width numeric header selecting a message kind
type Tag string

// HeaderSize is the width of every Tag on the wire
const HeaderSize = 4

// ServerID identifies the host itself; clients are numbered from 0
const ServerID = -1

const (
	TagRegister             Tag = "0000"
	TagNumPlayers           Tag = "0001"
	TagListenAck            Tag = "0002"
	TagMovingStatus         Tag = "0003"
	TagStartGame            Tag = "0004"
	TagDollGonnaTurn        Tag = "0005"
	TagDollTurned           Tag = "0006"
	TagFinishedHandlingTurn Tag = "0007"
	TagPlayerLose           Tag = "0008"
	TagCloseConnection      Tag = "0009"
	TagGameFinished         Tag = "0010"
	TagKillAll              Tag = "0011"
	TagPing                 Tag = "0012"
	TagPlayerName           Tag = "0013"
)

// Message is the closed set of kinds that travel between host and peers.
// Only types declared in this package implement it.
type Message interface {
	Tag() Tag
	isMessage()
}

// Register announces a player to the host and, relayed, to every other peer
type Register struct {
	Name        string `json:"client_name"`
	ID          int    `json:"client_id"`
	AvatarIndex int    `json:"avatar_index"`
	IsComputer  bool   `json:"is_pc_player"`
}

// NumPlayers tells every peer how many players take part
type NumPlayers struct {
	Count int `json:"num_of_players"`
}

// ListenAck is the identifier handshake. The host sends it with the
// assigned id on accept; the peer echoes it once it is listening.
type ListenAck struct {
	ID int `json:"id"`
}

// MovingStatus is the movement heartbeat (IsMoving true) or a stop
type MovingStatus struct {
	PlayerID int  `json:"player_id"`
	IsMoving bool `json:"is_moving"`
}

type StartGame struct{}

// DollGonnaTurn is the warning broadcast before the doll faces the players
type DollGonnaTurn struct{}

type DollTurned struct {
	IsFront bool `json:"is_front"`
}

// FinishedHandlingTurn acknowledges a red light, optionally conceding the round
type FinishedHandlingTurn struct {
	ID     int  `json:"id"`
	IsLose bool `json:"is_lose"`
}

type PlayerLose struct {
	ID int `json:"id"`
}

type CloseConnection struct {
	ID int `json:"id"`
}

type GameFinished struct{}

type KillAll struct{}

type Ping struct{}

type PlayerName struct {
	Name string `json:"name"`
}

func (Register) Tag() Tag             { return TagRegister }
func (NumPlayers) Tag() Tag           { return TagNumPlayers }
func (ListenAck) Tag() Tag            { return TagListenAck }
func (MovingStatus) Tag() Tag         { return TagMovingStatus }
func (StartGame) Tag() Tag            { return TagStartGame }
func (DollGonnaTurn) Tag() Tag        { return TagDollGonnaTurn }
func (DollTurned) Tag() Tag           { return TagDollTurned }
func (FinishedHandlingTurn) Tag() Tag { return TagFinishedHandlingTurn }
func (PlayerLose) Tag() Tag           { return TagPlayerLose }
func (CloseConnection) Tag() Tag      { return TagCloseConnection }
func (GameFinished) Tag() Tag         { return TagGameFinished }
func (KillAll) Tag() Tag              { return TagKillAll }
func (Ping) Tag() Tag                 { return TagPing }
func (PlayerName) Tag() Tag           { return TagPlayerName }

func (Register) isMessage()             {}
func (NumPlayers) isMessage()           {}
func (ListenAck) isMessage()            {}
func (MovingStatus) isMessage()         {}
func (StartGame) isMessage()            {}
func (DollGonnaTurn) isMessage()        {}
func (DollTurned) isMessage()           {}
func (FinishedHandlingTurn) isMessage() {}
func (PlayerLose) isMessage()           {}
func (CloseConnection) isMessage()      {}
func (GameFinished) isMessage()         {}
func (KillAll) isMessage()              {}
func (Ping) isMessage()                 {}
func (PlayerName) isMessage()           {}

// String returns a readable kind name for logs
func (t Tag) String() string {
	switch t {
	case TagRegister:
		return "Register"
	case TagNumPlayers:
		return "NumPlayers"
	case TagListenAck:
		return "ListenAck"
	case TagMovingStatus:
		return "MovingStatus"
	case TagStartGame:
		return "StartGame"
	case TagDollGonnaTurn:
		return "DollGonnaTurn"
	case TagDollTurned:
		return "DollTurned"
	case TagFinishedHandlingTurn:
		return "FinishedHandlingTurn"
	case TagPlayerLose:
		return "PlayerLose"
	case TagCloseConnection:
		return "CloseConnection"
	case TagGameFinished:
		return "GameFinished"
	case TagKillAll:
		return "KillAll"
	case TagPing:
		return "Ping"
	case TagPlayerName:
		return "PlayerName"
	default:
		return "Unknown(" + string(t) + ")"
	}
}
