package types

// Client -> Server
//
//	ping             t
//	verify           token
//	createParty      mode
//	joinPrivateGame  gameCode
//	leaveParty
//	inviteToParty    accountId
//	cancelInvite     accountId
//	declineInvite    code
//	setPartyOptions  options
//	startGameHost
//	joinQueue        mode
//	leaveQueue
//	ready
//	guess            round, lat, long, clientTime
//	leaveGame
//	abortGame
//	ackResults

// Inbound is implemented by every message a client may send.
type Inbound interface{ isInbound() }

// Outbound is implemented by every message the server sends.
type Outbound interface{ MessageType() string }

type Ping struct {
	T int64 `json:"t"`
}

type Verify struct {
	Token string `json:"token"`
}

type CreateParty struct {
	Mode string `json:"mode,omitempty"`
}

type JoinPrivateGame struct {
	Code string `json:"gameCode"`
}

type LeaveParty struct{}

type InviteToParty struct {
	AccountID string `json:"accountId"`
}

type CancelInvite struct {
	AccountID string `json:"accountId"`
}

type DeclineInvite struct {
	Code string `json:"code"`
}

type PartyOptions struct {
	ShowRoadName bool     `json:"showRoadName"`
	NoMove       bool     `json:"nm"`
	NoPanZoom    bool     `json:"npz"`
	Rounds       int      `json:"rounds,omitempty"`
	RoundTimeSec int      `json:"roundTime,omitempty"`
	Countries    []string `json:"countries,omitempty"`
}

type SetPartyOptions struct {
	Options PartyOptions `json:"options"`
}

type StartGameHost struct{}

type JoinQueue struct {
	Mode string `json:"mode,omitempty"`
}

type LeaveQueue struct{}

type Ready struct{}

type Guess struct {
	Round      int     `json:"round"`
	Lat        float64 `json:"lat"`
	Long       float64 `json:"long"`
	ClientTime int64   `json:"clientTime"`
}

type LeaveGame struct{}

type AbortGame struct{}

type AckResults struct{}

func (Ping) isInbound()            {}
func (Verify) isInbound()          {}
func (CreateParty) isInbound()     {}
func (JoinPrivateGame) isInbound() {}
func (LeaveParty) isInbound()      {}
func (InviteToParty) isInbound()   {}
func (CancelInvite) isInbound()    {}
func (DeclineInvite) isInbound()   {}
func (SetPartyOptions) isInbound() {}
func (StartGameHost) isInbound()   {}
func (JoinQueue) isInbound()       {}
func (LeaveQueue) isInbound()      {}
func (Ready) isInbound()           {}
func (Guess) isInbound()           {}
func (LeaveGame) isInbound()       {}
func (AbortGame) isInbound()       {}
func (AckResults) isInbound()      {}

// Server -> Client

type TimeSync struct {
	T int64 `json:"t"`
}

type RestartQueued struct {
	Value bool `json:"value"`
}

type Pong struct {
	T int64 `json:"t"`
}

type Verified struct {
	AccountID string `json:"accountId"`
	Name      string `json:"name"`
	Rating    int    `json:"rating"`
	Resumed   bool   `json:"resumed"`
	State     string `json:"state"` // "idle" | "party" | "queued" | "game"
	Code      string `json:"code,omitempty"`
}

type Error struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message,omitempty"`
	Ref     string    `json:"ref,omitempty"`
}

type PartyMember struct {
	AccountID string `json:"accountId"`
	Name      string `json:"name"`
	Connected bool   `json:"connected"`
}

type PartyState struct {
	Code       string        `json:"code"`
	Host       string        `json:"host"`
	Members    []PartyMember `json:"members"`
	Invited    []string      `json:"invited,omitempty"`
	Status     string        `json:"status"`
	Mode       string        `json:"mode"`
	Options    PartyOptions  `json:"options"`
	MaxMembers int           `json:"maxMembers"`
}

type PartyInvite struct {
	From         string `json:"from"`
	FromUsername string `json:"fromUsername"`
	PartyCode    string `json:"partyCode"`
	Timestamp    int64  `json:"timestamp"`
	Read         bool   `json:"read"`
}

type InviteCancelled struct {
	PartyCode string `json:"partyCode"`
}

type InviteDeclined struct {
	AccountID string `json:"accountId"`
	Name      string `json:"name"`
}

type PartyDissolved struct {
	Code   string `json:"code"`
	Reason string `json:"reason"`
}

type Queued struct {
	Mode  string `json:"mode"`
	Since int64  `json:"since"`
}

type Dequeued struct {
	Reason string `json:"reason,omitempty"`
}

type Location struct {
	Lat     float64 `json:"lat"`
	Long    float64 `json:"long"`
	Country string  `json:"country,omitempty"`
	Heading int     `json:"heading,omitempty"`
}

type MatchMember struct {
	AccountID string `json:"accountId"`
	Name      string `json:"name"`
	Rating    int    `json:"rating"`
	Connected bool   `json:"connected"`
	Left      bool   `json:"left,omitempty"`
}

type GameStarting struct {
	Code     string        `json:"code"`
	Members  []MatchMember `json:"members"`
	Rounds   int           `json:"rounds"`
	Deadline int64         `json:"deadline"`
	Ranked   bool          `json:"ranked"`
	Options  PartyOptions  `json:"options"`
}

type RoundStart struct {
	Round    int      `json:"round"`
	Rounds   int      `json:"rounds"`
	Target   Location `json:"target"`
	Deadline int64    `json:"deadline"`
}

type GuessAccepted struct {
	Round int `json:"round"`
}

type RoundResult struct {
	AccountID  string  `json:"accountId"`
	Guessed    bool    `json:"guessed"`
	Lat        float64 `json:"lat,omitempty"`
	Long       float64 `json:"long,omitempty"`
	DistanceKm float64 `json:"distanceKm,omitempty"`
	Score      int     `json:"score"`
}

type RoundOver struct {
	Round   int           `json:"round"`
	Target  Location      `json:"target"`
	Results []RoundResult `json:"results"`
}

type PlayerLeft struct {
	AccountID string `json:"accountId"`
}

type PlayerConnection struct {
	AccountID string `json:"accountId"`
	Connected bool   `json:"connected"`
}

type FinalResult struct {
	AccountID   string  `json:"accountId"`
	Name        string  `json:"name"`
	Total       int     `json:"total"`
	Rank        int     `json:"rank"`
	RatingDelta float64 `json:"ratingDelta"`
	NewRating   int     `json:"newRating"`
	Left        bool    `json:"left,omitempty"`
}

// GameOver is the match-finished message.
type GameOver struct {
	Code    string        `json:"code"`
	Aborted bool          `json:"aborted"`
	Ranked  bool          `json:"ranked"`
	Results []FinalResult `json:"results"`
}

// GameState lets a reattached member pick up where the match is.
type GameState struct {
	Code     string         `json:"code"`
	Status   string         `json:"status"`
	Members  []MatchMember  `json:"members"`
	Round    int            `json:"round"`
	Rounds   int            `json:"rounds"`
	Target   *Location      `json:"target,omitempty"`
	Deadline int64          `json:"deadline,omitempty"`
	Guessed  bool           `json:"guessed"`
	Totals   map[string]int `json:"totals"`
}

type ServerShutdown struct{}

func (TimeSync) MessageType() string         { return "t" }
func (RestartQueued) MessageType() string    { return "restartQueued" }
func (Ping) MessageType() string             { return "ping" }
func (Pong) MessageType() string             { return "pong" }
func (Verified) MessageType() string         { return "verified" }
func (Error) MessageType() string            { return "error" }
func (PartyState) MessageType() string       { return "party" }
func (PartyInvite) MessageType() string      { return "partyInvite" }
func (InviteCancelled) MessageType() string  { return "inviteCancelled" }
func (InviteDeclined) MessageType() string   { return "inviteDeclined" }
func (PartyDissolved) MessageType() string   { return "partyDissolved" }
func (Queued) MessageType() string           { return "queued" }
func (Dequeued) MessageType() string         { return "dequeued" }
func (GameStarting) MessageType() string     { return "gameStarting" }
func (RoundStart) MessageType() string       { return "round" }
func (GuessAccepted) MessageType() string    { return "guessAccepted" }
func (RoundOver) MessageType() string        { return "roundOver" }
func (PlayerLeft) MessageType() string       { return "playerLeft" }
func (PlayerConnection) MessageType() string { return "playerConnection" }
func (GameOver) MessageType() string         { return "gameOver" }
func (GameState) MessageType() string        { return "gameState" }
func (ServerShutdown) MessageType() string   { return "serverShutdown" }
