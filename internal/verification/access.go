package verification

import (
	"context"

	"github.com/google/uuid"

	"veridoc/verification-backend/internal/documents"
	"veridoc/verification-backend/internal/events"
)

// AccessService answers subscription access checks for the event broadcaster.
// Topic names carry no authority; every check goes to the store.
type AccessService struct {
	repo Repository
	docs documents.Store
}

func NewAccessService(repo Repository, docs documents.Store) *AccessService {
	return &AccessService{repo: repo, docs: docs}
}

// CanSubscribe allows a verification topic for its requester or a member of
// the same organization, and a document topic for the document owner or a
// member of its organization.
func (a *AccessService) CanSubscribe(ctx context.Context, userID, organizationID, scope, id string) error {
	targetID, err := uuid.Parse(id)
	if err != nil {
		return NewError(CodeInvalidArgument, "invalid topic id %q", id)
	}
	callerID, err := uuid.Parse(userID)
	if err != nil {
		return NewError(CodeInvalidArgument, "invalid user id")
	}
	var callerOrg *uuid.UUID
	if organizationID != "" {
		org, err := uuid.Parse(organizationID)
		if err != nil {
			return NewError(CodeInvalidArgument, "invalid organization id")
		}
		callerOrg = &org
	}

	switch scope {
	case events.ScopeVerification:
		req, err := a.repo.GetByID(ctx, targetID)
		if err != nil {
			return WrapError(CodeInternal, err, "failed to load verification")
		}
		if req == nil {
			return NewError(CodeNotFound, "verification %s not found", targetID)
		}
		if req.RequesterID == callerID || sameOrg(req.OrganizationID, callerOrg) {
			return nil
		}
		return NewError(CodeForbidden, "no access to verification %s", targetID)

	case events.ScopeDocument:
		doc, err := a.docs.FindByID(ctx, targetID)
		if err != nil {
			return WrapError(CodeInternal, err, "failed to load document")
		}
		if doc == nil {
			return NewError(CodeNotFound, "document %s not found", targetID)
		}
		if doc.OwnerID == callerID || sameOrg(doc.OrganizationID, callerOrg) {
			return nil
		}
		return NewError(CodeForbidden, "no access to document %s", targetID)
	}
	return NewError(CodeInvalidArgument, "unknown scope %q", scope)
}
