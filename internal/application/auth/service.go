package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	mrand "math/rand/v2"
	"strings"
	"time"

	"github.com/fleetrent/authcore/internal/application/otp"
	"github.com/fleetrent/authcore/internal/application/token"
	"github.com/fleetrent/authcore/internal/application/user"
	"github.com/fleetrent/authcore/internal/config"
	"github.com/fleetrent/authcore/internal/domain"
)

// ErrEmailExists is returned from sign-up when the address is already bound
// to a confirmed account.
var ErrEmailExists = fmt.Errorf("email already registered: %w", domain.ErrConflict)

var errInvalidCredentials = fmt.Errorf("invalid credentials: %w", domain.ErrUnauthorized)

// errInvalidCode covers wrong, expired, locked-out and raced codes alike;
// clients get one answer, the server log keeps the detail.
var errInvalidCode = fmt.Errorf("invalid or expired code: %w", domain.ErrBadRequest)

type SignUpRequest struct {
	Email    string  `json:"email" validate:"required,email"`
	Password string  `json:"password" validate:"required,min=8,max=72"`
	Phone    *string `json:"phone" validate:"omitempty,e164"`
}

type SignInRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

// SignUpResult carries the verification token the client must present when
// confirming the emailed code.
type SignUpResult struct {
	VerificationToken string
}

type SignInResult struct {
	Bearer        string
	RefreshSecret string
	User          *domain.User
}

// Service sequences the OTP engine and token store. Each flow runs inside a
// database transaction, except code validation: attempt bookkeeping commits
// on its own so a failed guess never rolls the counter back.
type Service interface {
	SignUp(ctx context.Context, req SignUpRequest) (*SignUpResult, error)
	SignIn(ctx context.Context, req SignInRequest) (*SignInResult, error)
	Refresh(ctx context.Context, userID, jti, refreshSecret string) (*SignInResult, error)
	ConfirmEmail(ctx context.Context, userID, jti, code string) error
	ResendVerificationCode(ctx context.Context, email string) error
	SendResetCode(ctx context.Context, email string) (resetToken string, err error)
	VerifyResetCode(ctx context.Context, userID, jti, code string) (verifiedToken string, err error)
	ResetPassword(ctx context.Context, userID, jti, newPassword string) error
	Logout(ctx context.Context, jti string) error
	LogoutAll(ctx context.Context, userID string) error
	RequestPhoneConfirmation(ctx context.Context, userID string) error
	VerifyPhoneCode(ctx context.Context, userID, code string) error
}

type otpEngine interface {
	Generate(ctx context.Context, userID string, t domain.OTPType, validity time.Duration, tokenID *string) (string, *domain.OneTimeCode, error)
	Regenerate(ctx context.Context, userID string, t domain.OTPType, validity time.Duration, tokenID *string) (string, *domain.OneTimeCode, error)
	Validate(ctx context.Context, userID, plain string, t domain.OTPType) (otp.Outcome, error)
	MarkAsUsed(ctx context.Context, codeID string) error
	ForceExpire(ctx context.Context, codeID string) error
	CanResend(ctx context.Context, userID string, t domain.OTPType) (bool, time.Duration, error)
}

type tokenStore interface {
	IssueAuthToken(ctx context.Context, u *domain.User) (*token.Issued, error)
	IssueVerificationToken(ctx context.Context, userID string, ttl time.Duration) (*token.Issued, error)
	IssueResetToken(ctx context.Context, userID string, ttl time.Duration, stage domain.ResetStage, prevJTI string) (*token.Issued, error)
	ValidateRefresh(ctx context.Context, userID, presentedSecret, jti string) (*domain.UserToken, error)
	RevokeByJTI(ctx context.Context, jti string) error
	RevokeByUser(ctx context.Context, userID string, t domain.TokenType) error
}

type mailer interface {
	SendEmail(to, subject, body string) error
}

type smsSender interface {
	SendSMS(ctx context.Context, to, message string) error
}

// txRunner is the transaction boundary. Every flow begins a transaction
// before its first read; returning an error from the closure rolls back.
type txRunner interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}

type ServiceDeps struct {
	Identity             user.Service
	OTPs                 otpEngine
	Tokens               tokenStore
	Mailer               mailer
	SMSSender            smsSender
	Tx                   txRunner
	OTPConfig            config.OTPConfig
	VerificationTokenTTL time.Duration
	ResetTokenTTL        time.Duration
}

type service struct {
	identity  user.Service
	otps      otpEngine
	tokens    tokenStore
	mailer    mailer
	smsSender smsSender
	tx        txRunner

	otpCfg   config.OTPConfig
	verTTL   time.Duration
	resetTTL time.Duration
}

func NewService(deps ServiceDeps) Service {
	return &service{
		identity:  deps.Identity,
		otps:      deps.OTPs,
		tokens:    deps.Tokens,
		mailer:    deps.Mailer,
		smsSender: deps.SMSSender,
		tx:        deps.Tx,
		otpCfg:    deps.OTPConfig,
		verTTL:    deps.VerificationTokenTTL,
		resetTTL:  deps.ResetTokenTTL,
	}
}

// SignUp registers a new account or re-arms verification for an existing
// unconfirmed one. A confirmed address is a hard conflict; email is
// caller-supplied pre-auth input, so no enumeration hardening applies here.
func (s *service) SignUp(ctx context.Context, req SignUpRequest) (*SignUpResult, error) {
	var result SignUpResult
	err := s.tx.RunInTx(ctx, func(ctx context.Context) error {
		u, err := s.identity.GetByEmail(ctx, req.Email)
		switch {
		case err == nil && u.EmailConfirmed:
			return ErrEmailExists
		case err == nil:
			// Unconfirmed account: reuse the identity, re-issue the code.
		case errors.Is(err, domain.ErrNotFound):
			u, err = s.identity.Create(ctx, req.Email, req.Password, req.Phone)
			if err != nil {
				return err
			}
		default:
			return err
		}

		issued, err := s.tokens.IssueVerificationToken(ctx, u.UserID, s.verTTL)
		if err != nil {
			return err
		}
		plain, _, err := s.otps.Regenerate(ctx, u.UserID, domain.OTPConfirmEmail, s.otpCfg.Validity(domain.OTPConfirmEmail), &issued.Token.JTI)
		if err != nil {
			return err
		}
		s.sendCodeEmail(u.Email, "Confirm your email", plain)
		result.VerificationToken = issued.JWT
		return nil
	})
	if err != nil {
		return nil, s.translate(err)
	}
	return &result, nil
}

// SignIn checks credentials and mints a new auth token, revoking the prior
// one. The password check runs even for unknown emails so the failure path
// costs the same as the success path.
func (s *service) SignIn(ctx context.Context, req SignInRequest) (*SignInResult, error) {
	var result *SignInResult
	err := s.tx.RunInTx(ctx, func(ctx context.Context) error {
		u, err := s.identity.GetByEmail(ctx, req.Email)
		if err != nil && !errors.Is(err, domain.ErrNotFound) {
			return err
		}
		if !s.identity.CheckPassword(u, req.Password) {
			slog.Warn("sign-in rejected", "email", obfuscateEmail(req.Email))
			s.latencyFloor(ctx)
			return errInvalidCredentials
		}
		if !u.EmailConfirmed {
			return fmt.Errorf("email not confirmed: %w", domain.ErrForbidden)
		}
		issued, err := s.tokens.IssueAuthToken(ctx, u)
		if err != nil {
			return err
		}
		result = &SignInResult{Bearer: issued.JWT, RefreshSecret: issued.RefreshSecret, User: u}
		return nil
	})
	if err != nil {
		return nil, s.translate(err)
	}
	return result, nil
}

// Refresh exchanges a valid refresh secret for a rotated auth token. The
// precise failure cause is logged; the client sees one generic answer.
func (s *service) Refresh(ctx context.Context, userID, jti, refreshSecret string) (*SignInResult, error) {
	var result *SignInResult
	err := s.tx.RunInTx(ctx, func(ctx context.Context) error {
		if _, err := s.tokens.ValidateRefresh(ctx, userID, refreshSecret, jti); err != nil {
			switch {
			case errors.Is(err, token.ErrNullToken),
				errors.Is(err, token.ErrInvalidSecret),
				errors.Is(err, token.ErrTokenRevoked):
				slog.Warn("refresh rejected", "user_id", userID, "reason", err)
				s.latencyFloor(ctx)
				return errInvalidCredentials
			}
			return err
		}
		u, err := s.identity.Get(ctx, userID)
		if err != nil {
			return err
		}
		issued, err := s.tokens.IssueAuthToken(ctx, u)
		if err != nil {
			return err
		}
		result = &SignInResult{Bearer: issued.JWT, RefreshSecret: issued.RefreshSecret, User: u}
		return nil
	})
	if err != nil {
		return nil, s.translate(err)
	}
	return result, nil
}

// ConfirmEmail consumes the emailed code under a verification-stage token,
// flags the account confirmed, and retires both code and token.
func (s *service) ConfirmEmail(ctx context.Context, userID, jti, code string) error {
	outcome, err := s.validateCode(ctx, userID, code, domain.OTPConfirmEmail)
	if err != nil {
		return err
	}
	return s.translate(s.tx.RunInTx(ctx, func(ctx context.Context) error {
		if err := s.otps.MarkAsUsed(ctx, outcome.Code.ID); err != nil {
			return err
		}
		if err := s.otps.ForceExpire(ctx, outcome.Code.ID); err != nil {
			return err
		}
		if err := s.identity.SetEmailConfirmed(ctx, userID, time.Now().UTC()); err != nil {
			return err
		}
		return s.tokens.RevokeByJTI(ctx, jti)
	}))
}

// ResendVerificationCode re-issues the confirmation code. Unknown and
// already-confirmed addresses are answered as success to block account
// enumeration; only a live cooldown surfaces as an error.
func (s *service) ResendVerificationCode(ctx context.Context, email string) error {
	return s.translate(s.tx.RunInTx(ctx, func(ctx context.Context) error {
		u, err := s.identity.GetByEmail(ctx, email)
		if err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				s.latencyFloor(ctx)
				return nil
			}
			return err
		}
		if u.EmailConfirmed {
			s.latencyFloor(ctx)
			return nil
		}
		if err := s.checkCooldown(ctx, u.UserID, domain.OTPConfirmEmail); err != nil {
			return err
		}
		issued, err := s.tokens.IssueVerificationToken(ctx, u.UserID, s.verTTL)
		if err != nil {
			return err
		}
		plain, _, err := s.otps.Regenerate(ctx, u.UserID, domain.OTPConfirmEmail, s.otpCfg.Validity(domain.OTPConfirmEmail), &issued.Token.JTI)
		if err != nil {
			return err
		}
		s.sendCodeEmail(u.Email, "Confirm your email", plain)
		return nil
	}))
}

// SendResetCode opens the password-reset flow: stage-1 token plus emailed
// code. Unknown addresses return an empty token and no error.
func (s *service) SendResetCode(ctx context.Context, email string) (string, error) {
	var resetToken string
	err := s.tx.RunInTx(ctx, func(ctx context.Context) error {
		u, err := s.identity.GetByEmail(ctx, email)
		if err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				s.latencyFloor(ctx)
				return nil
			}
			return err
		}
		if err := s.checkCooldown(ctx, u.UserID, domain.OTPResetPassword); err != nil {
			return err
		}
		issued, err := s.tokens.IssueResetToken(ctx, u.UserID, s.resetTTL, domain.StageAwaitingVerification, "")
		if err != nil {
			return err
		}
		plain, _, err := s.otps.Regenerate(ctx, u.UserID, domain.OTPResetPassword, s.otpCfg.Validity(domain.OTPResetPassword), &issued.Token.JTI)
		if err != nil {
			return err
		}
		s.sendCodeEmail(u.Email, "Password reset code", plain)
		resetToken = issued.JWT
		return nil
	})
	if err != nil {
		return "", s.translate(err)
	}
	return resetToken, nil
}

// VerifyResetCode advances the reset flow from awaiting-verification to
// verified: the code is consumed, the stage-1 jti revoked, and a stage-2
// token minted in its place.
func (s *service) VerifyResetCode(ctx context.Context, userID, jti, code string) (string, error) {
	outcome, err := s.validateCode(ctx, userID, code, domain.OTPResetPassword)
	if err != nil {
		return "", err
	}
	var verifiedToken string
	err = s.tx.RunInTx(ctx, func(ctx context.Context) error {
		if err := s.otps.MarkAsUsed(ctx, outcome.Code.ID); err != nil {
			return err
		}
		issued, err := s.tokens.IssueResetToken(ctx, userID, s.resetTTL, domain.StageVerified, jti)
		if err != nil {
			return err
		}
		verifiedToken = issued.JWT
		return nil
	})
	if err != nil {
		return "", s.translate(err)
	}
	return verifiedToken, nil
}

// ResetPassword completes the flow under a verified-stage token: new
// password, rotated security stamp, global logout of every auth token.
func (s *service) ResetPassword(ctx context.Context, userID, jti, newPassword string) error {
	return s.translate(s.tx.RunInTx(ctx, func(ctx context.Context) error {
		if err := s.identity.SetPassword(ctx, userID, newPassword); err != nil {
			return err
		}
		if err := s.identity.RotateSecurityStamp(ctx, userID); err != nil {
			return err
		}
		if err := s.tokens.RevokeByJTI(ctx, jti); err != nil {
			return err
		}
		return s.tokens.RevokeByUser(ctx, userID, domain.TokenAuth)
	}))
}

// Logout revokes one token. Revoking an already-revoked jti is a success.
func (s *service) Logout(ctx context.Context, jti string) error {
	return s.translate(s.tx.RunInTx(ctx, func(ctx context.Context) error {
		return s.tokens.RevokeByJTI(ctx, jti)
	}))
}

// LogoutAll revokes every auth token the user holds.
func (s *service) LogoutAll(ctx context.Context, userID string) error {
	return s.translate(s.tx.RunInTx(ctx, func(ctx context.Context) error {
		return s.tokens.RevokeByUser(ctx, userID, domain.TokenAuth)
	}))
}

// RequestPhoneConfirmation texts a code to the account's phone number.
func (s *service) RequestPhoneConfirmation(ctx context.Context, userID string) error {
	var (
		phone string
		plain string
	)
	err := s.tx.RunInTx(ctx, func(ctx context.Context) error {
		u, err := s.identity.Get(ctx, userID)
		if err != nil {
			return err
		}
		if u.Phone == nil {
			return fmt.Errorf("no phone number on account: %w", domain.ErrBadRequest)
		}
		if err := s.checkCooldown(ctx, userID, domain.OTPConfirmPhone); err != nil {
			return err
		}
		plain, _, err = s.otps.Regenerate(ctx, userID, domain.OTPConfirmPhone, s.otpCfg.Validity(domain.OTPConfirmPhone), nil)
		if err != nil {
			return err
		}
		phone = *u.Phone
		return nil
	})
	if err != nil {
		return s.translate(err)
	}
	// SMS goes out after commit; a lost message is recoverable via resend,
	// a rolled-back code is not.
	if err := s.smsSender.SendSMS(ctx, phone, "Your verification code: "+plain); err != nil {
		slog.Warn("failed to send confirmation SMS", "user_id", userID, "err", err)
	}
	return nil
}

// VerifyPhoneCode consumes the texted code and flags the phone confirmed.
func (s *service) VerifyPhoneCode(ctx context.Context, userID, code string) error {
	outcome, err := s.validateCode(ctx, userID, code, domain.OTPConfirmPhone)
	if err != nil {
		return err
	}
	return s.translate(s.tx.RunInTx(ctx, func(ctx context.Context) error {
		if err := s.otps.MarkAsUsed(ctx, outcome.Code.ID); err != nil {
			return err
		}
		return s.identity.SetPhoneConfirmed(ctx, userID)
	}))
}

// validateCode runs the attempt check in its own committed transaction before
// the flow's main one. The counter and any lockout must survive a failure
// answer; rolling them back with the rest of the flow would hand out
// unlimited guesses. The consuming transaction that follows can still lose a
// race for the code, in which case MarkAsUsed reports a conflict and the
// client gets the usual retryable answer.
func (s *service) validateCode(ctx context.Context, userID, code string, t domain.OTPType) (otp.Outcome, error) {
	var outcome otp.Outcome
	err := s.tx.RunInTx(ctx, func(ctx context.Context) error {
		var err error
		outcome, err = s.otps.Validate(ctx, userID, code, t)
		return err
	})
	if err != nil {
		return otp.Outcome{}, s.translate(err)
	}
	if !outcome.Valid {
		s.latencyFloor(ctx)
		return otp.Outcome{}, errInvalidCode
	}
	return outcome, nil
}

func (s *service) checkCooldown(ctx context.Context, userID string, t domain.OTPType) error {
	ok, remaining, err := s.otps.CanResend(ctx, userID, t)
	if err != nil {
		return err
	}
	if !ok {
		seconds := int(remaining.Round(time.Second).Seconds())
		return fmt.Errorf("please wait %d seconds before requesting a new code: %w", seconds, domain.ErrBadRequest)
	}
	return nil
}

// sendCodeEmail delivers the code before the transaction commits. Delivery
// failure is logged and swallowed: a committed-but-unsent code is acceptable
// collateral, the user can request a resend and the sweeper collects the
// leftover.
func (s *service) sendCodeEmail(to, subject, plain string) {
	if err := s.mailer.SendEmail(to, subject, "Your code: "+plain); err != nil {
		slog.Warn("failed to send code email", "email", obfuscateEmail(to), "err", err)
	}
}

// translate keeps raw storage conflicts out of client answers. A unique
// violation from a raced code insert becomes the same retryable message a
// wrong code gets.
func (s *service) translate(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrEmailExists) {
		return err
	}
	if errors.Is(err, domain.ErrConflict) {
		slog.Warn("state conflict rolled back", "err", err)
		return errInvalidCode
	}
	return err
}

// latencyFloor injects a randomized 100-300ms delay so failure paths are not
// measurably faster than success paths.
func (s *service) latencyFloor(ctx context.Context) {
	d := time.Duration(100+mrand.IntN(200)) * time.Millisecond
	select {
	case <-time.After(d):
	case <-ctx.Done():
	}
}

// obfuscateEmail keeps logs traceable without leaking the address.
func obfuscateEmail(email string) string {
	local, dom, ok := strings.Cut(email, "@")
	if !ok {
		return "****"
	}
	if len(local) > 2 {
		local = local[:2]
	}
	return local + "****@" + dom
}
