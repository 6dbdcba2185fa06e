package verification

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/bahi-khata/bahi_khata/internal/customer"
	"github.com/bahi-khata/bahi_khata/internal/ledger"
	"github.com/bahi-khata/bahi_khata/internal/otp"
)

var (
	// ErrInvalidMobile indicates the mobile number is not exactly 10 digits.
	ErrInvalidMobile = errors.New("mobile must be exactly 10 digits")

	// ErrInvalidSecondaryID indicates the secondary id is not exactly 12 digits.
	ErrInvalidSecondaryID = errors.New("secondary id must be exactly 12 digits")

	// ErrChallengeNotFound indicates no live identity challenge matches.
	ErrChallengeNotFound = errors.New("identity challenge not found")

	// ErrChallengeExpired indicates the identity challenge lapsed; the
	// onboarding attempt must be restarted.
	ErrChallengeExpired = errors.New("identity challenge expired")

	// ErrVerificationFailed indicates the external provider rejected the check.
	ErrVerificationFailed = errors.New("identity verification failed")
)

const (
	mobileDigits      = 10
	secondaryIDDigits = 12
)

// OutcomeKind enumerates the possible results of a Resolve call.
type OutcomeKind string

const (
	// OutcomeExisting means the mobile is already on file; no challenge is created.
	OutcomeExisting OutcomeKind = "existing"
	// OutcomeNeedsSecondaryID means the caller must resubmit with a name and
	// secondary id to onboard a new counterparty.
	OutcomeNeedsSecondaryID OutcomeKind = "needs_secondary_id"
	// OutcomeNeedsOtp means an identity challenge is pending passcode verification.
	OutcomeNeedsOtp OutcomeKind = "needs_otp"
)

// Outcome is the result of identity resolution.
type Outcome struct {
	Kind        OutcomeKind
	CustomerID  string
	ChallengeID string
	Mode        Mode
}

// Resolver determines whether a counterparty already exists and, if not,
// drives the secondary-document verification path. No ledger record is
// created before a challenge reaches VERIFIED.
type Resolver struct {
	customers customer.Repository
	books     ledger.Ledger
	verifier  Verifier
	gate      *otp.Gate
	logger    *slog.Logger
	ttl       time.Duration

	mu         sync.Mutex
	challenges map[string]*Challenge
	// byPair indexes the single live challenge per (owner, mobile) pair.
	byPair map[string]string
}

// NewResolver builds an identity resolver.
func NewResolver(customers customer.Repository, books ledger.Ledger, verifier Verifier, gate *otp.Gate, logger *slog.Logger, ttl time.Duration) *Resolver {
	if verifier == nil {
		verifier = StaticVerifier{}
	}
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &Resolver{
		customers:  customers,
		books:      books,
		verifier:   verifier,
		gate:       gate,
		logger:     logger,
		ttl:        ttl,
		challenges: make(map[string]*Challenge),
		byPair:     make(map[string]string),
	}
}

// Resolve looks up the mobile number and returns exactly one outcome. A new
// Resolve call for a pair with a pending challenge supersedes the prior
// challenge rather than stacking a second one.
func (r *Resolver) Resolve(ctx context.Context, ownerID, mobile, secondaryID, name string) (Outcome, error) {
	r.sweepExpired(ctx, time.Now().UTC())

	if !allDigits(mobile) || len(mobile) != mobileDigits {
		return Outcome{}, ErrInvalidMobile
	}

	existing, err := r.customers.FindByMobile(ctx, ownerID, mobile)
	if err == nil {
		return Outcome{Kind: OutcomeExisting, CustomerID: existing.ID, Mode: ModeMobile}, nil
	}
	if !errors.Is(err, customer.ErrNotFound) {
		return Outcome{}, err
	}

	if secondaryID == "" {
		return Outcome{Kind: OutcomeNeedsSecondaryID}, nil
	}
	if !allDigits(secondaryID) || len(secondaryID) != secondaryIDDigits {
		return Outcome{}, ErrInvalidSecondaryID
	}

	sessionRef, err := r.verifier.InitiateSecondaryCheck(ctx, secondaryID, name, mobile)
	if err != nil {
		return Outcome{}, fmt.Errorf("%w: %v", ErrVerificationFailed, err)
	}

	challenge := &Challenge{
		ID:          uuid.NewString(),
		OwnerID:     ownerID,
		Mobile:      mobile,
		Name:        name,
		SecondaryID: secondaryID,
		Mode:        ModeSecondaryID,
		State:       StateSecondaryIDSubmitted,
		SessionRef:  sessionRef,
		ExpiresAt:   time.Now().UTC().Add(r.ttl),
	}

	otpID, err := r.gate.Issue(ctx, "identity:"+challenge.ID, mobile)
	if err != nil {
		return Outcome{}, err
	}
	challenge.OtpChallengeID = otpID
	challenge.State = StateOtpPending

	r.mu.Lock()
	pair := ownerID + ":" + mobile
	if priorID, ok := r.byPair[pair]; ok {
		if prior, ok := r.challenges[priorID]; ok && prior.OtpChallengeID != "" {
			r.gate.Discard(ctx, prior.OtpChallengeID)
		}
		delete(r.challenges, priorID)
	}
	r.challenges[challenge.ID] = challenge
	r.byPair[pair] = challenge.ID
	r.mu.Unlock()

	return Outcome{Kind: OutcomeNeedsOtp, ChallengeID: challenge.ID, Mode: ModeSecondaryID}, nil
}

// Get returns a live identity challenge.
func (r *Resolver) Get(_ context.Context, challengeID string) (Challenge, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	challenge, ok := r.challenges[challengeID]
	if !ok {
		return Challenge{}, ErrChallengeNotFound
	}
	return *challenge, nil
}

// VerifyOtp checks the submitted code against the identity challenge. On a
// match it finalizes the remote document check, converts the draft into a
// committed customer and discards the challenge. The int return is the
// attempts remaining, meaningful alongside otp.ErrWrongCode.
func (r *Resolver) VerifyOtp(ctx context.Context, challengeID, code string) (customer.Customer, int, error) {
	r.mu.Lock()
	challenge, ok := r.challenges[challengeID]
	r.mu.Unlock()
	if !ok {
		return customer.Customer{}, 0, ErrChallengeNotFound
	}
	if challenge.Expired(time.Now().UTC()) {
		r.discard(ctx, challenge)
		return customer.Customer{}, 0, ErrChallengeExpired
	}

	remaining, err := r.gate.Verify(ctx, challenge.OtpChallengeID, code)
	if err != nil {
		if errors.Is(err, otp.ErrChallengeExpired) || errors.Is(err, otp.ErrAttemptsExhausted) {
			r.setState(challenge.ID, StateFailed)
		}
		return customer.Customer{}, remaining, err
	}

	if err := r.verifier.FinalizeSecondaryCheck(ctx, challenge.SessionRef, code); err != nil {
		r.setState(challenge.ID, StateFailed)
		return customer.Customer{}, 0, fmt.Errorf("%w: %v", ErrVerificationFailed, err)
	}

	now := time.Now().UTC()
	created := customer.Customer{
		ID:          uuid.NewString(),
		OwnerID:     challenge.OwnerID,
		DisplayName: challenge.Name,
		Mobile:      challenge.Mobile,
		SecondaryID: challenge.SecondaryID,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := r.customers.Create(ctx, created); err != nil {
		r.setState(challenge.ID, StateFailed)
		return customer.Customer{}, 0, err
	}
	if err := r.books.EnsureCustomer(ctx, created.ID); err != nil {
		return customer.Customer{}, 0, err
	}

	r.setState(challenge.ID, StateVerified)
	r.discard(ctx, challenge)

	if r.logger != nil {
		r.logger.Info("identity verified",
			slog.String("customer_id", created.ID),
			slog.String("mobile", created.Mobile),
			slog.String("mode", string(challenge.Mode)),
		)
	}
	return created, remaining, nil
}

// ResendOtp re-dispatches the identity challenge's passcode.
func (r *Resolver) ResendOtp(ctx context.Context, challengeID string) error {
	r.mu.Lock()
	challenge, ok := r.challenges[challengeID]
	r.mu.Unlock()
	if !ok {
		return ErrChallengeNotFound
	}
	if challenge.Expired(time.Now().UTC()) {
		r.discard(ctx, challenge)
		return ErrChallengeExpired
	}
	return r.gate.Resend(ctx, challenge.OtpChallengeID)
}

// sweepExpired drops identity challenges past their TTL so abandoned
// onboarding attempts do not accumulate in a long-lived process.
func (r *Resolver) sweepExpired(ctx context.Context, now time.Time) {
	r.mu.Lock()
	var expired []*Challenge
	for id, challenge := range r.challenges {
		if challenge.Expired(now) {
			delete(r.challenges, id)
			pair := challenge.OwnerID + ":" + challenge.Mobile
			if r.byPair[pair] == id {
				delete(r.byPair, pair)
			}
			expired = append(expired, challenge)
		}
	}
	r.mu.Unlock()

	for _, challenge := range expired {
		if challenge.OtpChallengeID != "" {
			r.gate.Discard(ctx, challenge.OtpChallengeID)
		}
	}
}

// setState mutates a live challenge under the resolver lock.
func (r *Resolver) setState(challengeID string, state State) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if challenge, ok := r.challenges[challengeID]; ok {
		challenge.State = state
	}
}

func (r *Resolver) discard(ctx context.Context, challenge *Challenge) {
	r.mu.Lock()
	delete(r.challenges, challenge.ID)
	pair := challenge.OwnerID + ":" + challenge.Mobile
	if r.byPair[pair] == challenge.ID {
		delete(r.byPair, pair)
	}
	r.mu.Unlock()
	if challenge.State != StateVerified && challenge.OtpChallengeID != "" {
		r.gate.Discard(ctx, challenge.OtpChallengeID)
	}
}

func allDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
