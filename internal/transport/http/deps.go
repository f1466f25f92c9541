package http

import (
	jwtinfra "github.com/fleetrent/authcore/internal/infrastructure/jwt"
	"github.com/fleetrent/authcore/internal/infrastructure/postgres"
	"github.com/fleetrent/authcore/internal/infrastructure/smtp"
	"github.com/fleetrent/authcore/internal/infrastructure/sns"
	"github.com/fleetrent/authcore/internal/retention"
)

// Deps holds all infrastructure dependencies for the router.
type Deps struct {
	DB          *postgres.DB
	Mailer      smtp.Mailer
	SMSSender   sns.SMSSender
	JWTProvider *jwtinfra.Provider
	Sweepers    []*retention.Sweeper
}
