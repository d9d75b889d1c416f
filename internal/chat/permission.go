package chat

import (
	"github.com/google/uuid"
	"scene_chat/internal/domain"
	apperrors "scene_chat/pkg/errors"
)

// Таблица прав по типам сообщений:
//
//	PUBLIC  - любой участник, персонаж должен принадлежать отправителю; видят все
//	OOC     - любой участник; видят все
//	PRIVATE - любой участник; видят отправитель, получатели и GM/owner
//	SYSTEM  - только GM/owner или сервер; видят GM/owner (и отправитель серверного уведомления)
//
// OBSERVER не отправляет ничего.

// CanSend проверяет право отправки. Возвращает *ChatError с кодом
// PERMISSION_DENIED, nil если отправка разрешена.
func CanSend(msg *domain.Message, senderRole domain.Role, roster *domain.Roster) error {
	if !senderRole.AtLeast(domain.RolePlayer) {
		return apperrors.PermissionDenied("observers cannot send messages")
	}

	switch msg.Type {
	case domain.MessageTypePublic:
		if msg.SpeakingCharacterID == nil {
			return apperrors.PermissionDenied("public messages require a speaking character")
		}
		if !roster.OwnsCharacter(msg.SenderUserID, *msg.SpeakingCharacterID) {
			return apperrors.PermissionDenied("character is not owned by sender or not in scene")
		}
	case domain.MessageTypeOOC:
		// любой участник
	case domain.MessageTypePrivate:
		// состав получателей проверяет валидация, право имеет любой участник
	case domain.MessageTypeSystem:
		if !msg.ServerIssued() && !senderRole.Staff() {
			return apperrors.PermissionDenied("system messages require GM or owner role")
		}
	default:
		return apperrors.Validation("unknown message type")
	}

	return nil
}

// CanView решает, доставляется ли сообщение данному подписчику
func CanView(msg *domain.Message, viewerID uuid.UUID, viewerRole domain.Role) bool {
	switch msg.Type {
	case domain.MessageTypePublic, domain.MessageTypeOOC:
		return true
	case domain.MessageTypePrivate:
		if viewerRole.Staff() || viewerID == msg.SenderUserID {
			return true
		}
		for _, id := range msg.RecipientUserIDs {
			if id == viewerID {
				return true
			}
		}
		return false
	case domain.MessageTypeSystem:
		if viewerRole.Staff() {
			return true
		}
		// серверное уведомление видит и его адресат-отправитель
		return msg.ServerIssued() && len(msg.RecipientUserIDs) > 0 && containsUser(msg.RecipientUserIDs, viewerID)
	}
	return false
}

func containsUser(ids []uuid.UUID, id uuid.UUID) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}
