package service

import (
	"context"
	"fmt"

	"github.com/tieubaoca/docqa-be/database"
	"github.com/tieubaoca/docqa-be/types"
)

type ctxUserKey struct{}

// WithUser attaches the acting user to the context so capabilities
// invoked deep inside a generation call, like registered tools, can
// scope their work to the caller.
func WithUser(ctx context.Context, user *types.User) context.Context {
	return context.WithValue(ctx, ctxUserKey{}, user)
}

func UserFrom(ctx context.Context) *types.User {
	user, _ := ctx.Value(ctxUserKey{}).(*types.User)
	return user
}

// Authorizer decides which documents a user may read. Retrieval asks it
// for the allowed set before touching the index, so unauthorized content
// is filtered out of candidate scoring, not just out of the response.
type Authorizer interface {
	AllowedDocuments(ctx context.Context, user *types.User) (map[string]struct{}, error)
	CanReadDocument(ctx context.Context, user *types.User, doc *types.Document) bool
}

// ownerAuthorizer grants access to documents the user owns. Admins read
// everything.
type ownerAuthorizer struct {
	documentStore database.DocumentStore
}

func NewOwnerAuthorizer(documentStore database.DocumentStore) Authorizer {
	return &ownerAuthorizer{documentStore: documentStore}
}

func (a *ownerAuthorizer) AllowedDocuments(ctx context.Context, user *types.User) (map[string]struct{}, error) {
	if user == nil {
		return nil, fmt.Errorf("%w: no user", types.ErrAuthorizationDenied)
	}
	var (
		docs []types.Document
		err  error
	)
	if user.Role == types.USER_ROLE_ADMIN {
		docs, err = a.documentStore.ListDocuments(ctx)
	} else {
		docs, err = a.documentStore.ListDocumentsByOwner(ctx, user.ID)
	}
	if err != nil {
		return nil, fmt.Errorf("list documents for user %s: %w", user.ID, err)
	}
	allowed := make(map[string]struct{}, len(docs))
	for _, doc := range docs {
		allowed[doc.ID] = struct{}{}
	}
	return allowed, nil
}

func (a *ownerAuthorizer) CanReadDocument(_ context.Context, user *types.User, doc *types.Document) bool {
	if user == nil || doc == nil {
		return false
	}
	return user.Role == types.USER_ROLE_ADMIN || doc.OwnerID == user.ID
}
