package domain

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func TestRoleHierarchy(t *testing.T) {
	assert.True(t, RoleOwner.AtLeast(RoleGM))
	assert.True(t, RoleGM.AtLeast(RolePlayer))
	assert.True(t, RolePlayer.AtLeast(RoleObserver))
	assert.False(t, RoleObserver.AtLeast(RolePlayer))
	assert.False(t, RolePlayer.AtLeast(RoleGM))

	assert.True(t, RoleOwner.Staff())
	assert.True(t, RoleGM.Staff())
	assert.False(t, RolePlayer.Staff())
	assert.False(t, RoleObserver.Staff())
}

func TestRosterRoleOfPicksHighestRole(t *testing.T) {
	userID := uuid.New()
	sceneID := uuid.New()

	// Пользователь водит персонажа игроком и одновременно GM-ит сцену
	roster := &Roster{
		SceneID: sceneID,
		Participants: []SceneParticipant{
			{SceneID: sceneID, UserID: userID, CharacterID: uuid.New(), Role: RolePlayer},
			{SceneID: sceneID, UserID: userID, CharacterID: uuid.New(), Role: RoleGM},
		},
	}

	role, ok := roster.RoleOf(userID)
	assert.True(t, ok)
	assert.Equal(t, RoleGM, role)

	_, ok = roster.RoleOf(uuid.New())
	assert.False(t, ok)
}

func TestRosterOwnsCharacter(t *testing.T) {
	userID := uuid.New()
	charID := uuid.New()
	sceneID := uuid.New()

	roster := &Roster{
		SceneID: sceneID,
		Participants: []SceneParticipant{
			{SceneID: sceneID, UserID: userID, CharacterID: charID, Role: RolePlayer},
		},
	}

	assert.True(t, roster.OwnsCharacter(userID, charID))
	assert.False(t, roster.OwnsCharacter(uuid.New(), charID))
	assert.False(t, roster.OwnsCharacter(userID, uuid.New()))
}

func TestMessageTypeValid(t *testing.T) {
	assert.True(t, MessageTypePublic.Valid())
	assert.True(t, MessageTypeOOC.Valid())
	assert.True(t, MessageTypePrivate.Valid())
	assert.True(t, MessageTypeSystem.Valid())
	assert.False(t, MessageType("whisper").Valid())
	assert.False(t, MessageType("").Valid())
}

func TestMessageServerIssued(t *testing.T) {
	server := &Message{SenderUserID: uuid.Nil, Type: MessageTypeSystem}
	assert.True(t, server.ServerIssued())

	user := &Message{SenderUserID: uuid.New(), Type: MessageTypeSystem}
	assert.False(t, user.ServerIssued())
}

func TestSceneActive(t *testing.T) {
	assert.True(t, (&Scene{Status: SceneStatusActive}).Active())
	assert.False(t, (&Scene{Status: SceneStatusClosed}).Active())
}
