package tenantcontext

import (
	"context"
	"strings"

	"github.com/bwmarrin/snowflake"
)

type tenantKey struct{}
type userKey struct{}
type roleKey struct{}

// WithTenantID stores the tenant ID handed over by the upstream identity layer.
func WithTenantID(ctx context.Context, tenantID snowflake.ID) context.Context {
	return context.WithValue(ctx, tenantKey{}, tenantID)
}

// TenantIDFromContext returns the tenant ID from context, if set.
func TenantIDFromContext(ctx context.Context) (snowflake.ID, bool) {
	return idValue(ctx, tenantKey{})
}

// WithUserID stores the calling user's ID.
func WithUserID(ctx context.Context, userID snowflake.ID) context.Context {
	return context.WithValue(ctx, userKey{}, userID)
}

func UserIDFromContext(ctx context.Context) (snowflake.ID, bool) {
	return idValue(ctx, userKey{})
}

// WithActorRole stores the admin role asserted by the identity layer.
func WithActorRole(ctx context.Context, role string) context.Context {
	return context.WithValue(ctx, roleKey{}, strings.ToLower(strings.TrimSpace(role)))
}

func ActorRoleFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	role, _ := ctx.Value(roleKey{}).(string)
	return role
}

// ParseID parses a snowflake identifier from a header or path value.
func ParseID(value string) (snowflake.ID, bool) {
	parsed, err := snowflake.ParseString(strings.TrimSpace(value))
	if err != nil || parsed <= 0 {
		return 0, false
	}
	return parsed, true
}

func idValue(ctx context.Context, key any) (snowflake.ID, bool) {
	if ctx == nil {
		return 0, false
	}
	switch typed := ctx.Value(key).(type) {
	case snowflake.ID:
		return typed, typed != 0
	case int64:
		return snowflake.ID(typed), typed != 0
	case string:
		return ParseID(typed)
	}
	return 0, false
}
