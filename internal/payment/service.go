package payment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/ashureev/marketing-hub/internal/domain"
	"github.com/ashureev/marketing-hub/internal/events"
	"github.com/ashureev/marketing-hub/internal/metrics"
	"github.com/ashureev/marketing-hub/internal/store"
	"github.com/google/uuid"
)

// ErrUnknownTier reports a tier id that is not in the catalog.
var ErrUnknownTier = errors.New("unknown tier")

// ErrNotRecorded reports a charge whose outcome could not be persisted.
var ErrNotRecorded = errors.New("transaction not recorded")

// ErrMissingSource reports a charge without a payment token.
var ErrMissingSource = errors.New("payment source is required")

// ChargeInput describes a requested charge. Either Tier or Amount must be
// set; a tier fixes the amount and currency.
type ChargeInput struct {
	Tier        string `json:"tier,omitempty"`
	Amount      string `json:"amount,omitempty"`
	Currency    string `json:"currency,omitempty"`
	Description string `json:"description,omitempty"`
	Source      Source `json:"source"`
}

// Service validates charges, forwards them to the gateway and persists the
// outcome.
type Service struct {
	gateway Gateway
	repo    store.Repository
	bus     events.Publisher
	logger  *slog.Logger
	now     func() time.Time
}

// NewService creates a payment service. bus may be nil.
func NewService(gateway Gateway, repo store.Repository, bus events.Publisher, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{gateway: gateway, repo: repo, bus: bus, logger: logger, now: time.Now}
}

// Prepare validates in and builds the pending transaction for userID.
func (s *Service) Prepare(userID string, in ChargeInput) (*domain.Transaction, error) {
	if strings.TrimSpace(in.Source.Token) == "" {
		return nil, ErrMissingSource
	}

	amount, currency, tierID := in.Amount, in.Currency, ""
	description := strings.TrimSpace(in.Description)
	if in.Tier != "" {
		tier, ok := LookupTier(in.Tier)
		if !ok {
			return nil, fmt.Errorf("%w: %q", ErrUnknownTier, in.Tier)
		}
		amount, currency, tierID = tier.Price, tier.Currency, tier.ID
		if description == "" {
			description = "اشتراك " + tier.Name
		}
	}
	if currency == "" {
		currency = DefaultCurrency
	}
	currency, err := NormalizeCurrency(currency)
	if err != nil {
		return nil, err
	}
	minor, err := ToMinor(amount, currency)
	if err != nil {
		return nil, err
	}

	return &domain.Transaction{
		ID:          uuid.NewString(),
		UserID:      userID,
		Tier:        tierID,
		Amount:      FormatMinor(minor, currency),
		AmountMinor: minor,
		Currency:    currency,
		Description: description,
		Status:      domain.TransactionPending,
		CreatedAt:   s.now().UTC(),
	}, nil
}

// Charge runs a charge end to end. The transaction is persisted whatever the
// gateway's verdict; a declined or failed charge is returned together with
// the error.
func (s *Service) Charge(ctx context.Context, userID string, in ChargeInput) (*domain.Transaction, error) {
	tx, err := s.Prepare(userID, in)
	if err != nil {
		return nil, err
	}

	result, gwErr := s.gateway.Charge(ctx, ChargeRequest{
		Amount:      tx.AmountMinor,
		Currency:    tx.Currency,
		Description: tx.Description,
		Source:      in.Source,
		Metadata:    map[string]string{"transaction_id": tx.ID, "user_id": userID, "tier": tx.Tier},
	}, tx.ID)
	if result != nil {
		tx.GatewayID = result.ID
	}
	if gwErr != nil {
		tx.Status = domain.TransactionFailed
		tx.FailureMsg = gwErr.Error()
		if result != nil && result.Message != "" {
			tx.FailureMsg = result.Message
		}
	} else {
		tx.Status = domain.TransactionPaid
	}

	metrics.Payments.WithLabelValues(string(tx.Status)).Inc()

	if err := s.repo.SaveTransaction(ctx, tx); err != nil {
		s.logger.Error("Failed to persist transaction", "transaction_id", tx.ID, "status", tx.Status, "error", err)
		return tx, fmt.Errorf("%w: %w", ErrNotRecorded, err)
	}

	if gwErr != nil {
		s.logger.Warn("Payment failed", "user_id", userID, "transaction_id", tx.ID, "error", gwErr)
		s.publish(events.KindPaymentFailed, tx)
		return tx, gwErr
	}

	if tx.Tier != "" {
		if err := s.repo.UpdateTier(ctx, userID, tx.Tier); err != nil {
			s.logger.Error("Failed to record subscription tier", "user_id", userID, "tier", tx.Tier, "error", err)
		}
	}
	s.logger.Info("Payment completed", "user_id", userID, "transaction_id", tx.ID, "amount", tx.Amount, "currency", tx.Currency)
	s.publish(events.KindPaymentCompleted, tx)
	return tx, nil
}

// History returns the user's transactions newest first.
func (s *Service) History(ctx context.Context, userID string) ([]*domain.Transaction, error) {
	return s.repo.ListTransactions(ctx, userID)
}

func (s *Service) publish(kind events.Kind, tx *domain.Transaction) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(events.PaymentEvent(kind, tx.UserID, events.Payment{
		TransactionID: tx.ID,
		Tier:          tx.Tier,
		Amount:        tx.Amount,
		Currency:      tx.Currency,
		Error:         tx.FailureMsg,
	}, s.now().UTC()))
}
