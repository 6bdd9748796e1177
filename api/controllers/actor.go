package controllers

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/angelmondragon/storefront-backend/api/middleware"
	"github.com/angelmondragon/storefront-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/storefront-backend/pkg/errors"
)

func requireActor(r *http.Request) (uuid.UUID, enums.UserRole, error) {
	userID, role, ok := middleware.ActorFromContext(r.Context())
	if !ok {
		return uuid.Nil, "", pkgerrors.New(pkgerrors.CodeUnauthorized, "user context missing")
	}
	return userID, role, nil
}
