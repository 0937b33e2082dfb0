package room_management

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"livecollab/internal/models"
	"livecollab/internal/utils"
)

var (
	ErrRoomMismatch = errors.New("room does not match token")
	ErrReadOnly     = errors.New("viewers cannot modify the room")
)

// mutating events a viewer may not send
var mutatingEvents = map[string]bool{
	models.EventCodeChange:     true,
	models.EventFileCreate:     true,
	models.EventFileDelete:     true,
	models.EventFileSwitch:     true,
	models.EventLanguageChange: true,
}

// Grant is what a validated room token allows its bearer.
type Grant struct {
	RoomID string
	UserID string
	Role   string
}

// AccessManager applies room token and role policy at the transport edge,
// before events reach the coordinator. With no JWT secret configured every
// connection is admitted without a grant.
type AccessManager struct {
	enabled bool
	log     *utils.Logger
}

func NewAccessManager(log *utils.Logger) *AccessManager {
	return &AccessManager{enabled: utils.AuthEnabled(), log: log}
}

func (m *AccessManager) Enabled() bool { return m.enabled }

// Authenticate reads the room token from the token query parameter or a
// bearer Authorization header.
func (m *AccessManager) Authenticate(r *http.Request) (*Grant, error) {
	if !m.enabled {
		return nil, nil
	}
	token := r.URL.Query().Get("token")
	if token == "" {
		var err error
		token, err = utils.ExtractTokenFromHeader(r.Header.Get("Authorization"))
		if err != nil {
			return nil, err
		}
	}
	claims, err := utils.ValidateRoomToken(token)
	if err != nil {
		m.log.Warn("room token rejected", "remote", r.RemoteAddr, "error", err)
		return nil, fmt.Errorf("invalid token: %w", err)
	}
	return &Grant{RoomID: claims.RoomID, UserID: claims.UserID, Role: claims.Role}, nil
}

// Authorize checks one inbound frame against grant. A join has its user id
// replaced by the token's, so clients cannot impersonate each other.
func (m *AccessManager) Authorize(grant *Grant, frame *models.InboundFrame) error {
	if grant == nil {
		return nil
	}

	var head struct {
		RoomID string `json:"roomId"`
	}
	if err := json.Unmarshal(frame.Data, &head); err != nil {
		return fmt.Errorf("malformed payload: %w", err)
	}
	if grant.RoomID != "" && head.RoomID != grant.RoomID {
		return ErrRoomMismatch
	}
	if grant.Role == utils.RoleViewer && mutatingEvents[frame.Type] {
		return ErrReadOnly
	}

	if frame.Type == models.EventJoinRoom {
		var join models.JoinRoom
		if err := json.Unmarshal(frame.Data, &join); err != nil {
			return fmt.Errorf("malformed join: %w", err)
		}
		join.User.ID = grant.UserID
		data, err := json.Marshal(join)
		if err != nil {
			return err
		}
		frame.Data = data
	}
	return nil
}
