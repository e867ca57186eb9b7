package setup

import (
	"github.com/growplant/growplant/internal/config"
	"github.com/growplant/growplant/internal/email"
	"github.com/growplant/growplant/internal/handler"
	"github.com/growplant/growplant/internal/jwt"
	"github.com/growplant/growplant/internal/middleware"
	"github.com/growplant/growplant/internal/service"
	"github.com/growplant/growplant/internal/storage/pg"
	"github.com/growplant/growplant/internal/token"
)

// Dependencies holds all initialized application dependencies.
type Dependencies struct {
	Config         *config.Config
	Storage        *pg.Storage
	Handler        *handler.Handler
	AuthMiddleware *middleware.Auth
}

// SetupDependencies initializes all dependencies required for the application.
func SetupDependencies(cfg *config.Config) (*Dependencies, error) {
	storage, err := pg.New(cfg)
	if err != nil {
		return nil, err
	}

	mail := email.New(&cfg.Private.Email)
	tokens := token.New(cfg.Private.TokenSecret, cfg.Public.TokenTTLDays)
	jwtService := jwt.New(cfg.JwtKey(), cfg.JwtTTL())

	account := service.NewAccount(storage, mail, tokens, jwtService, &cfg.Public)

	h := handler.New(account, storage, cfg)
	authMw := middleware.NewAuth(jwtService, cfg.Public.SecureCookies)

	return &Dependencies{
		Config:         cfg,
		Storage:        storage,
		Handler:        h,
		AuthMiddleware: authMw,
	}, nil
}
