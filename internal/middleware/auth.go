package middleware

import (
	"context"
	"fmt"

	"mcpcore/internal/auth"
	"mcpcore/internal/errs"
	"mcpcore/internal/jsonrpc"
)

// CredentialsLookup resolves the Credentials presented for a given inbound
// request, e.g. parsed from a transport-specific Authorization header
// already extracted into the context, or carried on the request params
// under an "auth" field the way the teacher's
// ExtractCredentialsFromArguments reads tool-call arguments.
type CredentialsLookup func(ctx context.Context, sessionID string, req *jsonrpc.Request) (*auth.Credentials, error)

// ParamsAuthLookup is a CredentialsLookup reading credentials from an
// "auth" field on the request params, the same object shape the teacher's
// domain.ExtractCredentialsFromArguments reads off tool-call arguments
// ({"type": "basic"|"bearer", "username", "password", "token"}), adapted
// here from outbound tool credentials to inbound request authentication.
// A request with no "auth" field yields NoAuth credentials, which any
// Verifier should reject unless it explicitly permits anonymous access.
func ParamsAuthLookup(ctx context.Context, sessionID string, req *jsonrpc.Request) (*auth.Credentials, error) {
	paramsMap, ok := req.Params.(map[string]interface{})
	if !ok {
		return &auth.Credentials{Type: auth.NoAuth}, nil
	}
	authObj, hasAuth := paramsMap["auth"]
	if !hasAuth {
		return &auth.Credentials{Type: auth.NoAuth}, nil
	}
	authMap, ok := authObj.(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("auth must be an object")
	}

	typeStr, _ := authMap["type"].(string)
	switch typeStr {
	case "bearer":
		token, _ := authMap["token"].(string)
		return &auth.Credentials{Type: auth.BearerAuth, Token: token}, nil
	default:
		username, _ := authMap["username"].(string)
		password, _ := authMap["password"].(string)
		return &auth.Credentials{Type: auth.BasicAuth, Username: username, Password: password}, nil
	}
}

// AuthMiddleware rejects any request whose credentials don't verify against
// verifier, short-circuiting before the request reaches the router.
func AuthMiddleware(verifier auth.Verifier, lookup CredentialsLookup) Middleware {
	return func(next Next) Next {
		return func(ctx context.Context, sessionID string, req *jsonrpc.Request) *jsonrpc.Response {
			creds, err := lookup(ctx, sessionID, req)
			if err != nil {
				return jsonrpc.NewError(req.ID, errs.New(errs.AuthenticationError, err.Error()))
			}
			if err := verifier.Verify(creds); err != nil {
				return jsonrpc.NewError(req.ID, errs.New(errs.AuthenticationError, err.Error()))
			}
			return next(ctx, sessionID, req)
		}
	}
}
