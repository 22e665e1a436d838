package middleware

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"listing-desk/internal/logger"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

const (
	userIDKey  = "user_id"
	isAdminKey = "is_admin"
)

// AdminRole 是管理员角色名。
const AdminRole = "admin"

// ErrInvalidToken 表示令牌无法校验或缺少 sub。
var ErrInvalidToken = errors.New("invalid token")

// Identity 是从令牌解析出的调用者。
type Identity struct {
	UserID uint
	Admin  bool
}

// Authenticator 校验 HS256 JWT。令牌由外部身份服务签发。
type Authenticator struct {
	secret []byte
	logger *slog.Logger
}

// NewAuthenticator 创建 Authenticator。
func NewAuthenticator(secret string, log *slog.Logger) *Authenticator {
	if log == nil {
		log = slog.Default()
	}
	return &Authenticator{secret: []byte(secret), logger: log}
}

// ExtractUserID 解析令牌中的 sub。
func (a *Authenticator) ExtractUserID(token string) (*uint, error) {
	id, err := a.Parse(token)
	if err != nil {
		return nil, err
	}
	return &id.UserID, nil
}

// Parse 校验签名与过期时间，返回 sub 与角色。
func (a *Authenticator) Parse(token string) (Identity, error) {
	if len(a.secret) == 0 {
		return Identity{}, fmt.Errorf("%w: jwt secret not configured", ErrInvalidToken)
	}
	claims := jwt.MapClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return a.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil || !parsed.Valid {
		return Identity{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	uid, err := subjectID(claims["sub"])
	if err != nil {
		return Identity{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	return Identity{UserID: uid, Admin: hasAdminRole(claims)}, nil
}

// OptionalAuth 有合法令牌时写入用户，否则按匿名请求继续。
func (a *Authenticator) OptionalAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		if token := bearerToken(c); token != "" {
			id, err := a.Parse(token)
			if err != nil {
				a.logger.DebugContext(c.Request.Context(), "ignoring invalid token on optional route", "err", err)
			} else {
				setIdentity(c, id)
			}
		}
		c.Next()
	}
}

// RequireAuth 要求合法令牌。
func (a *Authenticator) RequireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !a.authenticate(c) {
			return
		}
		c.Next()
	}
}

// RequireAdmin 要求合法令牌且角色为 admin。
func (a *Authenticator) RequireAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !a.authenticate(c) {
			return
		}
		if !IsAdmin(c) {
			abort(c, http.StatusForbidden, "Forbidden.")
			return
		}
		c.Next()
	}
}

func (a *Authenticator) authenticate(c *gin.Context) bool {
	token := bearerToken(c)
	if token == "" {
		abort(c, http.StatusUnauthorized, "Unauthenticated.")
		return false
	}
	id, err := a.Parse(token)
	if err != nil {
		abort(c, http.StatusUnauthorized, "Unauthenticated.")
		return false
	}
	setIdentity(c, id)
	return true
}

// UserID 返回当前用户，匿名请求为 nil。
func UserID(c *gin.Context) *uint {
	v, ok := c.Get(userIDKey)
	if !ok {
		return nil
	}
	id, ok := v.(uint)
	if !ok {
		return nil
	}
	return &id
}

// IsAdmin 判断当前用户是否为管理员。
func IsAdmin(c *gin.Context) bool {
	return c.GetBool(isAdminKey)
}

func setIdentity(c *gin.Context, id Identity) {
	c.Set(userIDKey, id.UserID)
	c.Set(isAdminKey, id.Admin)
	c.Request = c.Request.WithContext(logger.WithUserID(c.Request.Context(), id.UserID))
}

func bearerToken(c *gin.Context) string {
	header := c.GetHeader("Authorization")
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}

func subjectID(v any) (uint, error) {
	switch sub := v.(type) {
	case string:
		n, err := strconv.ParseUint(sub, 10, 64)
		if err != nil || n == 0 {
			return 0, fmt.Errorf("sub %q is not a user id", sub)
		}
		return uint(n), nil
	case float64:
		if sub <= 0 || sub != float64(uint64(sub)) {
			return 0, fmt.Errorf("sub %v is not a user id", sub)
		}
		return uint(sub), nil
	default:
		return 0, fmt.Errorf("sub claim missing")
	}
}

func hasAdminRole(claims jwt.MapClaims) bool {
	if role, ok := claims["role"].(string); ok && strings.EqualFold(role, AdminRole) {
		return true
	}
	roles, _ := claims["roles"].([]any)
	for _, r := range roles {
		if s, ok := r.(string); ok && strings.EqualFold(s, AdminRole) {
			return true
		}
	}
	return false
}
