package domain

import (
	"time"

	"github.com/google/uuid"
)

// Role участника сцены. Иерархия: OWNER ⊇ GM ⊇ PLAYER ⊇ OBSERVER.
type Role string

const (
	RoleOwner    Role = "owner"
	RoleGM       Role = "gm"
	RolePlayer   Role = "player"
	RoleObserver Role = "observer"
)

var roleRank = map[Role]int{
	RoleObserver: 0,
	RolePlayer:   1,
	RoleGM:       2,
	RoleOwner:    3,
}

// AtLeast - роль r не ниже other в иерархии
func (r Role) AtLeast(other Role) bool {
	return roleRank[r] >= roleRank[other]
}

// Staff - роль с правами надзора (видит PRIVATE/SYSTEM чужих участников)
func (r Role) Staff() bool {
	return r.AtLeast(RoleGM)
}

const (
	SceneStatusActive = "active"
	SceneStatusClosed = "closed"
)

// Scene принадлежит внешней подсистеме кампаний, здесь только читается.
type Scene struct {
	ID         uuid.UUID `json:"id"`
	CampaignID uuid.UUID `json:"campaign_id"`
	Title      string    `json:"title"`
	Status     string    `json:"status"`
	CreatedAt  time.Time `json:"created_at"`
}

func (s *Scene) Active() bool {
	return s.Status == SceneStatusActive
}

// SceneParticipant - строка ростера: персонаж, его владелец и роль владельца в сцене
type SceneParticipant struct {
	SceneID     uuid.UUID `json:"scene_id"`
	CharacterID uuid.UUID `json:"character_id"`
	UserID      uuid.UUID `json:"user_id"`
	Role        Role      `json:"role"`
	JoinedAt    time.Time `json:"joined_at"`
}

// Roster - ростер сцены с индексами по пользователю и персонажу
type Roster struct {
	SceneID      uuid.UUID
	Participants []SceneParticipant
}

// RoleOf возвращает роль пользователя в сцене; наивысшую, если персонажей несколько
func (r *Roster) RoleOf(userID uuid.UUID) (Role, bool) {
	var best Role
	found := false
	for _, p := range r.Participants {
		if p.UserID != userID {
			continue
		}
		if !found || p.Role.AtLeast(best) {
			best = p.Role
		}
		found = true
	}
	return best, found
}

// OwnsCharacter - принадлежит ли персонаж пользователю в этой сцене
func (r *Roster) OwnsCharacter(userID, characterID uuid.UUID) bool {
	for _, p := range r.Participants {
		if p.CharacterID == characterID && p.UserID == userID {
			return true
		}
	}
	return false
}
