// Package seamless ingests signed wager batches pushed by the game provider.
package seamless

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/betwallet/balance_engine/internal/game"
	"github.com/betwallet/balance_engine/internal/ledger"
	"github.com/betwallet/balance_engine/internal/member"
)

const (
	statusSettled   = "SETTLED"
	defaultGameType = "SLOT"
)

// Options configures webhook ingestion.
type Options struct {
	Secret string
	// MaxWagers bounds the records accepted in one request. Zero disables the limit.
	MaxWagers int
	// RequireSignature rejects requests that omit sign.
	RequireSignature bool
}

// Service turns provider wager batches into ledger entries.
type Service struct {
	engine  *game.Engine
	store   ledger.Store
	members member.Directory
	opts    Options
	logger  *slog.Logger
}

// NewService builds the ingestion service.
func NewService(engine *game.Engine, store ledger.Store, members member.Directory, opts Options, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{engine: engine, store: store, members: members, opts: opts, logger: logger}
}

// PushBetData validates, authenticates and applies one webhook request. The
// PushBet upserts and every ledger entry it produces commit together or not
// at all.
func (s *Service) PushBetData(ctx context.Context, req Request) Response {
	if errs := s.validate(req); len(errs) > 0 {
		s.logger.Warn("pushbetdata validation failed", slog.Any("errors", errs))
		return Response{Code: InternalServerError, Message: "Validation failed", Errors: errs}
	}

	if req.Sign != "" || s.opts.RequireSignature {
		if !VerifySign(req.Sign, req.OperatorCode, req.RequestTime.String(), s.opts.Secret) {
			s.logger.Warn("pushbetdata invalid signature",
				slog.String("operator_code", req.OperatorCode),
				slog.String("request_time", req.RequestTime.String()))
			return Response{Code: InvalidSignature, Message: "Invalid signature"}
		}
	} else {
		s.logger.Warn("pushbetdata accepted without signature", slog.String("operator_code", req.OperatorCode))
	}

	users, resp, ok := s.resolveMembers(ctx, req.Wagers)
	if !ok {
		return resp
	}

	pending := make([]game.Pending, 0, len(req.Wagers))
	records := make([]ledger.PushBet, 0, len(req.Wagers))
	for _, w := range req.Wagers {
		if w.WagerCode == "" {
			s.logger.Warn("pushbetdata wager without wager_code skipped",
				slog.String("member_account", w.MemberAccount),
				slog.String("seamless_transaction_id", w.ID.String()))
			continue
		}
		pending = append(pending, classify(w, users[w.MemberAccount].ID)...)
		records = append(records, pushBetRecord(w))
	}

	err := s.store.Atomic(ctx, func(ctx context.Context, tx ledger.Tx) error {
		for _, rec := range records {
			if err := tx.UpsertPushBet(ctx, rec); err != nil {
				return fmt.Errorf("upsert push bet %s: %w", rec.WagerCode, err)
			}
		}
		_, err := s.engine.BatchProcess(ctx, pending)
		return err
	})
	if err != nil {
		s.logger.Error("pushbetdata batch failed",
			slog.Int("wagers", len(req.Wagers)),
			slog.Int("entries", len(pending)),
			slog.Any("error", err))
		return Response{Code: InternalServerError, Message: "Transaction processing failed"}
	}

	s.logger.Info("pushbetdata applied",
		slog.String("operator_code", req.OperatorCode),
		slog.Int("wagers", len(records)),
		slog.Int("entries", len(pending)))
	return Response{Code: Success, Message: ""}
}

func (s *Service) validate(req Request) map[string][]string {
	errs := make(map[string][]string)
	if strings.TrimSpace(req.OperatorCode) == "" {
		errs["operator_code"] = append(errs["operator_code"], "The operator code field is required.")
	}
	if len(req.Wagers) == 0 {
		errs["wagers"] = append(errs["wagers"], "The wagers field is required.")
	}
	if s.opts.MaxWagers > 0 && len(req.Wagers) > s.opts.MaxWagers {
		errs["wagers"] = append(errs["wagers"], fmt.Sprintf("The wagers field must not have more than %d items.", s.opts.MaxWagers))
	}
	return errs
}

// resolveMembers looks every distinct member account up before anything is
// written. One unknown account rejects the whole request.
func (s *Service) resolveMembers(ctx context.Context, wagers []Wager) (map[string]member.User, Response, bool) {
	users := make(map[string]member.User)
	for _, w := range wagers {
		if _, ok := users[w.MemberAccount]; ok {
			continue
		}
		u, err := s.members.FindByUserName(ctx, w.MemberAccount)
		if errors.Is(err, member.ErrNotFound) {
			s.logger.Warn("pushbetdata member not found",
				slog.String("member_account", w.MemberAccount),
				slog.String("wager_code", w.WagerCode))
			return nil, Response{Code: MemberNotExist, Message: "Member not found"}, false
		}
		if err != nil {
			s.logger.Error("pushbetdata member lookup failed",
				slog.String("member_account", w.MemberAccount), slog.Any("error", err))
			return nil, Response{Code: InternalServerError, Message: "Member lookup failed"}, false
		}
		users[w.MemberAccount] = u
	}
	return users, Response{}, true
}

// classify yields zero, one or two pending entries for a wager: a bet for a
// positive bet_amount and a win for a SETTLED wager with a positive prize.
func classify(w Wager, userID int64) []game.Pending {
	var out []game.Pending
	if w.BetAmount.IsPositive() {
		out = append(out, game.Pending{
			UserID: userID,
			Amount: w.BetAmount,
			Kind:   game.KindBet,
			Meta: ledger.Metadata{
				SeamlessTransactionID: w.ID.String(),
				WagerCode:             w.WagerCode,
				ProductCode:           w.productCode(),
				GameCode:              w.GameCode,
				ChannelCode:           w.ChannelCode,
				RawPayload:            w.Raw,
			},
		})
	}
	if w.WagerStatus == statusSettled && w.PrizeAmount.IsPositive() {
		gameType := w.GameType
		if gameType == "" {
			gameType = defaultGameType
		}
		out = append(out, game.Pending{
			UserID: userID,
			Amount: w.PrizeAmount,
			Kind:   game.KindWin,
			Meta: ledger.Metadata{
				SeamlessTransactionID: w.ID.String(),
				WagerCode:             w.WagerCode,
				ProductCode:           w.productCode(),
				GameType:              gameType,
				Action:                game.ActionSettled,
			},
		})
	}
	return out
}

func pushBetRecord(w Wager) ledger.PushBet {
	return ledger.PushBet{
		MemberAccount:     w.MemberAccount,
		Currency:          w.Currency,
		ProductCode:       w.productCode(),
		GameCode:          w.GameCode,
		GameType:          w.GameType,
		WagerCode:         w.WagerCode,
		WagerType:         w.WagerType,
		WagerStatus:       w.WagerStatus,
		BetAmount:         w.BetAmount,
		ValidBetAmount:    w.ValidBetAmount,
		PrizeAmount:       w.PrizeAmount,
		TipAmount:         w.TipAmount,
		CreatedAtProvider: w.CreatedAt.Unix(),
		SettledAt:         w.SettledAt.Unix(),
		Meta:              w.Raw,
	}
}
