package middleware

import (
	"context"
	"errors"
	"strings"

	"tokenrouter/pkg/auth"
	pkgerrors "tokenrouter/pkg/errors"

	"github.com/gin-gonic/gin"
	"github.com/go-kratos/kratos/v2/middleware"
	"github.com/go-kratos/kratos/v2/transport"
)

const (
	HeaderUserID   = "X-User-ID"
	HeaderTenantID = "X-Tenant-ID"
	HeaderRoles    = "X-User-Roles"

	RequestIDHeader = "X-Request-ID"
)

// Identity 调用方身份
type Identity struct {
	UserID   string
	TenantID string
	Roles    []string
}

// HasRole 是否具备任一角色
func (i *Identity) HasRole(roles ...string) bool {
	for _, have := range i.Roles {
		for _, want := range roles {
			if have == want {
				return true
			}
		}
	}
	return false
}

type identityKey struct{}

// WithIdentity 写入上下文
func WithIdentity(ctx context.Context, id *Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, id)
}

// IdentityFrom 从上下文读取身份
func IdentityFrom(ctx context.Context) (*Identity, bool) {
	id, ok := ctx.Value(identityKey{}).(*Identity)
	return id, ok && id != nil
}

// IdentityConfig 身份解析配置
type IdentityConfig struct {
	// JWT 为空时只接受请求头身份
	JWT *auth.JWTManager
	// AllowHeaders 允许 X-User-ID/X-Tenant-ID 请求头
	AllowHeaders bool
}

// ResolveIdentity 从 Bearer token 或请求头解析身份
func ResolveIdentity(cfg IdentityConfig, header func(string) string) (*Identity, error) {
	if authHeader := header("Authorization"); authHeader != "" && cfg.JWT != nil {
		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || parts[0] != "Bearer" {
			return nil, auth.ErrInvalidToken
		}
		claims, err := cfg.JWT.ValidateToken(parts[1])
		if err != nil {
			return nil, err
		}
		return &Identity{UserID: claims.UserID, TenantID: claims.TenantID, Roles: claims.Roles}, nil
	}

	if cfg.AllowHeaders && header(HeaderUserID) != "" {
		id := &Identity{UserID: header(HeaderUserID), TenantID: header(HeaderTenantID)}
		if roles := header(HeaderRoles); roles != "" {
			for _, r := range strings.Split(roles, ",") {
				if r = strings.TrimSpace(r); r != "" {
					id.Roles = append(id.Roles, r)
				}
			}
		}
		return id, nil
	}
	return nil, errors.New("missing credentials")
}

// GinIdentity gin 身份中间件，失败返回 401
func GinIdentity(cfg IdentityConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := ResolveIdentity(cfg, c.GetHeader)
		if err != nil {
			reason := "UNAUTHORIZED"
			if errors.Is(err, auth.ErrExpiredToken) {
				reason = "TOKEN_EXPIRED"
			}
			AbortWithError(c, pkgerrors.NewUnauthorized(reason, err.Error()))
			return
		}

		c.Set("user_id", id.UserID)
		c.Set("tenant_id", id.TenantID)
		c.Set("roles", id.Roles)
		c.Request = c.Request.WithContext(WithIdentity(c.Request.Context(), id))
		c.Next()
	}
}

// RequirePermission gin 权限中间件，失败返回 403
func RequirePermission(rbac *auth.RBACManager, permission auth.Permission) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := IdentityFrom(c.Request.Context())
		if !ok || !rbac.CheckUserPermission(id.Roles, permission) {
			AbortWithError(c, pkgerrors.NewForbidden("FORBIDDEN", "insufficient permissions: "+string(permission)))
			return
		}
		c.Next()
	}
}

// ServerIdentity kratos 身份中间件（gRPC），只读请求头
func ServerIdentity() middleware.Middleware {
	return func(handler middleware.Handler) middleware.Handler {
		return func(ctx context.Context, req interface{}) (interface{}, error) {
			if tr, ok := transport.FromServerContext(ctx); ok {
				id, err := ResolveIdentity(IdentityConfig{AllowHeaders: true}, tr.RequestHeader().Get)
				if err == nil {
					ctx = WithIdentity(ctx, id)
				}
			}
			return handler(ctx, req)
		}
	}
}

// AbortWithError 写出统一错误响应并中止
func AbortWithError(c *gin.Context, err error) {
	status, body := pkgerrors.NewErrorResponse(err)
	c.AbortWithStatusJSON(status, body.WithPath(c.Request.URL.Path).WithRequestID(c.GetHeader(RequestIDHeader)))
}
