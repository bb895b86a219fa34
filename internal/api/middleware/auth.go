// auth.go — middleware идентификации владельца запроса.
// Владелец (owner) — непрозрачный идентификатор, которым скоупятся
// задания скачивания. Два режима:
//   - JWT (CH_AUTH_ENABLED=true): Bearer-токен валидируется по JWKS
//     провайдера идентификации, владелец — claim sub;
//   - заголовок (по умолчанию): владелец берётся из X-Owner-Id,
//     для локальных установок без провайдера идентификации.
package middleware

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/MicahParks/jwkset"
	"github.com/MicahParks/keyfunc/v3"
	"github.com/golang-jwt/jwt/v5"

	apierrors "github.com/bigkaa/concerthall/internal/api/errors"
)

// contextKey — тип для ключей контекста (избегаем коллизий).
type contextKey string

// ContextKeyOwner — идентификатор владельца в контексте запроса.
const ContextKeyOwner contextKey = "owner_id"

// OwnerHeader — заголовок владельца в режиме без JWT.
const OwnerHeader = "X-Owner-Id"

// defaultOwner — владелец анонимных запросов в режиме без JWT.
const defaultOwner = "local"

// OwnerFromContext извлекает идентификатор владельца из контекста запроса.
// Возвращает пустую строку, если владелец не определён.
func OwnerFromContext(ctx context.Context) string {
	owner, _ := ctx.Value(ContextKeyOwner).(string)
	return owner
}

// withOwner кладёт идентификатор владельца в контекст запроса.
func withOwner(r *http.Request, owner string) *http.Request {
	return r.WithContext(context.WithValue(r.Context(), ContextKeyOwner, owner))
}

// HeaderAuth возвращает middleware режима без JWT: владелец берётся
// из заголовка X-Owner-Id, при его отсутствии — "local".
func HeaderAuth() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			owner := r.Header.Get(OwnerHeader)
			if owner == "" {
				owner = defaultOwner
			}
			next.ServeHTTP(w, withOwner(r, owner))
		})
	}
}

// JWTAuth — middleware JWT-аутентификации через JWKS провайдера.
type JWTAuth struct {
	jwks   keyfunc.Keyfunc
	issuer string
	logger *slog.Logger
}

// NewJWTAuth создаёт JWT middleware с JWKS провайдера идентификации.
// jwksURL — URL JWKS endpoint.
// issuer — ожидаемый issuer JWT (пустой — issuer не проверяется).
func NewJWTAuth(jwksURL, issuer string, logger *slog.Logger) (*JWTAuth, error) {
	// JWKS storage с фоновым обновлением ключей.
	// NoErrorReturnFirstHTTPReq — стартуем, даже если провайдер ещё недоступен.
	storage, err := jwkset.NewStorageFromHTTP(jwksURL, jwkset.HTTPClientStorageOptions{
		Client:                    &http.Client{Timeout: 10 * time.Second},
		NoErrorReturnFirstHTTPReq: true,
		RefreshInterval:           time.Hour,
		RefreshErrorHandler: func(_ context.Context, err error) {
			logger.Error("Ошибка обновления JWKS",
				slog.String("error", err.Error()),
				slog.String("url", jwksURL),
			)
		},
	})
	if err != nil {
		return nil, fmt.Errorf("создание JWKS storage: %w", err)
	}

	k, err := keyfunc.New(keyfunc.Options{
		Storage: storage,
	})
	if err != nil {
		return nil, fmt.Errorf("создание keyfunc: %w", err)
	}

	return NewJWTAuthWithKeyfunc(k, issuer, logger), nil
}

// NewJWTAuthWithKeyfunc создаёт JWT middleware с готовым keyfunc.
// Используется в тестах, где JWKS строится из локального ключа.
func NewJWTAuthWithKeyfunc(k keyfunc.Keyfunc, issuer string, logger *slog.Logger) *JWTAuth {
	return &JWTAuth{
		jwks:   k,
		issuer: issuer,
		logger: logger.With(slog.String("component", "jwt_auth")),
	}
}

// Middleware возвращает HTTP middleware JWT-аутентификации.
// Извлекает Bearer-токен, валидирует подпись (RS256) и помещает
// sub в контекст как идентификатор владельца.
func (j *JWTAuth) Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tokenString, err := bearerToken(r)
			if err != nil {
				apierrors.Unauthorized(w, err.Error())
				return
			}

			claims := &jwt.RegisteredClaims{}
			parserOpts := []jwt.ParserOption{
				jwt.WithValidMethods([]string{"RS256"}),
				jwt.WithExpirationRequired(),
				jwt.WithLeeway(30 * time.Second),
			}
			if j.issuer != "" {
				parserOpts = append(parserOpts, jwt.WithIssuer(j.issuer))
			}

			token, err := jwt.ParseWithClaims(tokenString, claims, j.jwks.KeyfuncCtx(r.Context()), parserOpts...)
			if err != nil || !token.Valid {
				j.logger.Debug("JWT валидация не пройдена",
					slog.String("remote_addr", r.RemoteAddr),
				)
				apierrors.Unauthorized(w, "Невалидный или просроченный токен")
				return
			}

			if claims.Subject == "" {
				apierrors.Unauthorized(w, "Отсутствует sub в токене")
				return
			}

			next.ServeHTTP(w, withOwner(r, claims.Subject))
		})
	}
}

// bearerToken извлекает Bearer-токен из заголовка Authorization.
func bearerToken(r *http.Request) (string, error) {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		return "", fmt.Errorf("отсутствует заголовок Authorization")
	}

	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", fmt.Errorf("неверный формат Authorization: ожидается Bearer <token>")
	}
	if parts[1] == "" {
		return "", fmt.Errorf("пустой Bearer token")
	}
	return parts[1], nil
}
