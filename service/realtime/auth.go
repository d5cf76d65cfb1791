package realtime

import (
	"context"
	"net/http"

	midsec "CragProject/middleware/security"
	"CragProject/tools/errs"
	toolsec "CragProject/tools/security"
)

// Authenticator resolves the user of a websocket handshake before upgrade.
type Authenticator struct {
	identity toolsec.Identity
	opts     *midsec.Options
}

func NewAuthenticator(identity toolsec.Identity, opts *midsec.Options) *Authenticator {
	if opts == nil {
		opts = midsec.DefaultOptions()
	}
	return &Authenticator{identity: identity, opts: opts}
}

// Authenticate returns the user id bound to r's credential or an
// errs.ErrUnauthorized error.
func (a *Authenticator) Authenticate(ctx context.Context, r *http.Request) (string, error) {
	cred := midsec.Credential(r, a.opts)
	if cred == "" {
		return "", errs.ErrUnauthorized.WrapMsg("missing credential")
	}
	if a.identity == nil {
		return "", errs.ErrUnauthorized.WrapMsg("no identity provider")
	}
	userID, err := a.identity.Resolve(ctx, cred)
	if err != nil {
		if errs.CodeOf(err) != errs.CodeUnauthorized {
			return "", errs.ErrUnauthorized.WrapMsg(err.Error())
		}
		return "", err
	}
	if userID == "" {
		return "", errs.ErrUnauthorized.WrapMsg("empty subject")
	}
	return userID, nil
}
