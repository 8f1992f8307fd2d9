package gateway

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/google/uuid"
	"github.com/ruteri/pod-consent-gateway/interfaces"
)

// Grant returns the grant record of (user, scope, counterparty), or ErrResourceNotFound.
func (g *Gateway) Grant(ctx context.Context, user interfaces.UserIdentity, scopeName string, counterparty interfaces.UserIdentity) (interfaces.GrantRecord, error) {
	rec, found, err := g.readGrant(ctx, user, scopeName, counterparty)
	if err != nil {
		return interfaces.GrantRecord{}, err
	}
	if !found {
		return interfaces.GrantRecord{}, interfaces.ErrResourceNotFound
	}
	return rec, nil
}

func (g *Gateway) readGrant(ctx context.Context, user interfaces.UserIdentity, scopeName string, counterparty interfaces.UserIdentity) (interfaces.GrantRecord, bool, error) {
	data, err := g.resources.Read(ctx, g.layout.GrantURL(user, scopeName, counterparty))
	if errors.Is(err, interfaces.ErrResourceNotFound) {
		return interfaces.GrantRecord{}, false, nil
	}
	if err != nil {
		return interfaces.GrantRecord{}, false, interfaces.NewOpError(interfaces.ErrStorageUnavailable, "read-grant", user.String(), err)
	}

	var rec interfaces.GrantRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return interfaces.GrantRecord{}, false, interfaces.NewOpError(interfaces.ErrStorageUnavailable, "decode-grant", user.String(), err)
	}
	return rec, true, nil
}

// writeGrant persists the record as an owner-only resource.
func (g *Gateway) writeGrant(ctx context.Context, rec interfaces.GrantRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return interfaces.NewOpError(interfaces.ErrGrantFailed, "encode-grant", rec.User.String(), err)
	}

	url := g.layout.GrantURL(rec.User, rec.Scope, rec.Counterparty)
	if _, err := g.resources.Write(ctx, url, data, "application/json"); err != nil {
		return interfaces.NewOpError(interfaces.ErrGrantFailed, "write-grant", rec.User.String(), err)
	}
	if _, err := g.resources.SetAccess(ctx, url, interfaces.Private()); err != nil {
		return interfaces.NewOpError(interfaces.ErrGrantFailed, "restrict-grant", rec.User.String(), err)
	}
	return nil
}
