package room_management

import (
	"encoding/json"
	"errors"
	"net/http/httptest"
	"testing"

	"go.uber.org/zap/zapcore"

	"livecollab/internal/models"
	"livecollab/internal/utils"
)

func newManager(t *testing.T, secret string) *AccessManager {
	t.Helper()
	utils.SetJWTSecret([]byte(secret))
	t.Cleanup(func() { utils.SetJWTSecret(nil) })
	return NewAccessManager(utils.NewLoggerFromCore(zapcore.NewNopCore()))
}

func sign(t *testing.T, claims *utils.RoomTokenClaims) string {
	t.Helper()
	token, err := utils.SignRoomToken(claims)
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return token
}

func frame(t *testing.T, typ string, payload interface{}) *models.InboundFrame {
	t.Helper()
	raw, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return &models.InboundFrame{Type: typ, Data: raw}
}

func TestAuthenticateDisabledWithoutSecret(t *testing.T) {
	m := newManager(t, "")
	grant, err := m.Authenticate(httptest.NewRequest("GET", "/ws", nil))
	if err != nil || grant != nil {
		t.Fatalf("expected open access, got grant=%v err=%v", grant, err)
	}
	if err := m.Authorize(nil, frame(t, models.EventCodeChange, models.CodeChange{RoomID: "any"})); err != nil {
		t.Fatalf("expected nil grant to allow everything: %v", err)
	}
}

func TestAuthenticateFromQueryAndHeader(t *testing.T) {
	m := newManager(t, "secret")
	token := sign(t, &utils.RoomTokenClaims{RoomID: "r1", UserID: "u1", Role: utils.RoleViewer})

	grant, err := m.Authenticate(httptest.NewRequest("GET", "/ws?token="+token, nil))
	if err != nil {
		t.Fatalf("query token: %v", err)
	}
	if grant.RoomID != "r1" || grant.UserID != "u1" || grant.Role != utils.RoleViewer {
		t.Fatalf("unexpected grant %#v", grant)
	}

	req := httptest.NewRequest("GET", "/ws", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	if _, err := m.Authenticate(req); err != nil {
		t.Fatalf("header token: %v", err)
	}
}

func TestAuthenticateRejectsMissingAndBadTokens(t *testing.T) {
	m := newManager(t, "secret")

	if _, err := m.Authenticate(httptest.NewRequest("GET", "/ws", nil)); !errors.Is(err, utils.ErrMissingToken) {
		t.Fatalf("expected missing token error, got %v", err)
	}
	if _, err := m.Authenticate(httptest.NewRequest("GET", "/ws?token=garbage", nil)); err == nil {
		t.Fatalf("expected invalid token error")
	}
}

func TestAuthorizeRoomMismatch(t *testing.T) {
	m := newManager(t, "secret")
	grant := &Grant{RoomID: "r1", UserID: "u1", Role: utils.RoleEditor}

	err := m.Authorize(grant, frame(t, models.EventJoinRoom, models.JoinRoom{RoomID: "r2"}))
	if !errors.Is(err, ErrRoomMismatch) {
		t.Fatalf("expected room mismatch, got %v", err)
	}
}

func TestAuthorizeViewerCannotMutate(t *testing.T) {
	m := newManager(t, "secret")
	grant := &Grant{RoomID: "r1", UserID: "u1", Role: utils.RoleViewer}

	for _, typ := range []string{models.EventCodeChange, models.EventFileCreate, models.EventFileDelete, models.EventFileSwitch, models.EventLanguageChange} {
		if err := m.Authorize(grant, frame(t, typ, map[string]string{"roomId": "r1"})); !errors.Is(err, ErrReadOnly) {
			t.Fatalf("%s: expected read-only error, got %v", typ, err)
		}
	}
	for _, typ := range []string{models.EventCursorMove, models.EventSendMessage} {
		if err := m.Authorize(grant, frame(t, typ, map[string]string{"roomId": "r1"})); err != nil {
			t.Fatalf("%s: viewers should be allowed, got %v", typ, err)
		}
	}
}

func TestAuthorizeStampsJoinUser(t *testing.T) {
	m := newManager(t, "secret")
	grant := &Grant{RoomID: "r1", UserID: "real-user", Role: utils.RoleEditor}
	f := frame(t, models.EventJoinRoom, models.JoinRoom{RoomID: "r1", User: models.UserInfo{ID: "someone-else", Name: "Ann"}})

	if err := m.Authorize(grant, f); err != nil {
		t.Fatalf("authorize join: %v", err)
	}
	var join models.JoinRoom
	if err := json.Unmarshal(f.Data, &join); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if join.User.ID != "real-user" || join.User.Name != "Ann" {
		t.Fatalf("unexpected join after stamping: %#v", join)
	}
}
