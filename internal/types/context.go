package types

import "context"

// CallInfo attributes an LLM call to a role and a conversation.
type CallInfo struct {
	Role      string
	SessionID string
}

type callInfoKey struct{}

// WithRole returns a context whose CallInfo names role.
func WithRole(ctx context.Context, role string) context.Context {
	info := CallInfoFrom(ctx)
	info.Role = role
	return context.WithValue(ctx, callInfoKey{}, info)
}

// WithSessionID returns a context whose CallInfo names the conversation.
func WithSessionID(ctx context.Context, sessionID string) context.Context {
	info := CallInfoFrom(ctx)
	info.SessionID = sessionID
	return context.WithValue(ctx, callInfoKey{}, info)
}

// CallInfoFrom returns the attribution carried by ctx, if any.
func CallInfoFrom(ctx context.Context) CallInfo {
	info, _ := ctx.Value(callInfoKey{}).(CallInfo)
	return info
}
