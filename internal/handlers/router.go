package handlers

import (
	"net/http"

	"github.com/nkiryanov/authd/internal/handlers/middleware"
	"github.com/nkiryanov/authd/internal/logger"
)

// chain applies middlewares in the given order: m1(m2(...(h)))
func chain(h http.Handler, mds ...func(next http.Handler) http.Handler) http.Handler {
	for i := len(mds) - 1; i >= 0; i-- {
		h = mds[i](h)
	}
	return h
}

func NewRouter(
	authHandler *AuthHandler,
	adminHandler *AdminHandler,
	withAuth func(http.Handler) http.Handler,
	withRateLimit func(http.Handler) http.Handler,
	l logger.Logger,
) http.Handler {
	if l == nil {
		l = logger.NewNoOp()
	}

	limited := func(h http.HandlerFunc) http.Handler {
		return withRateLimit(h)
	}
	protected := func(h http.HandlerFunc) http.Handler {
		return withAuth(h)
	}

	api := http.NewServeMux()

	api.Handle("POST /auth/register", limited(authHandler.Register))
	api.Handle("POST /auth/login", limited(authHandler.Login))
	api.Handle("POST /auth/refresh", limited(authHandler.Refresh))
	api.Handle("POST /auth/logout", http.HandlerFunc(authHandler.Logout))
	api.Handle("POST /auth/password", protected(authHandler.ChangePassword))
	api.Handle("GET /auth/sessions", protected(authHandler.ListSessions))
	api.Handle("POST /auth/sessions/revoke", protected(authHandler.LogoutEverywhere))

	api.Handle("POST /admin/rotate/user", protected(adminHandler.RotateUser))
	api.Handle("POST /admin/rotate/global", protected(adminHandler.RotateGlobal))

	root := http.NewServeMux()
	root.Handle("/api/", http.StripPrefix("/api", api))

	return chain(root,
		middleware.LoggerMiddleware(l),
	)
}
