package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/bytedance/sonic"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"signal_bot/internal/models"
	"signal_bot/pkg/db"
)

// Signals — хранилище сигналов и исходов правил.
type Signals struct {
	db db.TxManager
}

func NewSignals(db db.TxManager) *Signals {
	return &Signals{db: db}
}

// CreateSignal сохраняет сигнал и возвращает присвоенный id.
func (s *Signals) CreateSignal(ctx context.Context, sig models.Signal) (id string, err error) {
	defer func() {
		if err != nil {
			err = fmt.Errorf("pg.CreateSignal: %w", err)
		}
	}()

	rules, err := sonic.Marshal(sig.Rules)
	if err != nil {
		return "", err
	}
	createdAt := sig.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	id = uuid.NewString()

	err = s.db.RunMaster(ctx, func(ctxTx context.Context, tx pgx.Tx) error {
		e := sig.Entry
		_, err := tx.Exec(ctxTx, insertSignal,
			id, sig.Symbol, string(sig.Timeframe),
			e.OpenTime, e.Open, e.High, e.Low, e.Close, e.Volume, e.CloseTime,
			rules, createdAt,
		)
		return err
	})
	if err != nil {
		return "", err
	}
	return id, nil
}

// CreateOutcomesBatch пишет пачку исходов одной транзакцией. Повторная запись
// и исходы удалённых сигналов пропускаются.
func (s *Signals) CreateOutcomesBatch(ctx context.Context, outcomes []models.Outcome) (err error) {
	defer func() {
		if err != nil {
			err = fmt.Errorf("pg.CreateOutcomesBatch: %w", err)
		}
	}()
	if len(outcomes) == 0 {
		return nil
	}

	return s.db.RunMaster(ctx, func(ctxTx context.Context, tx pgx.Tx) error {
		b := &pgx.Batch{}
		for _, o := range outcomes {
			b.Queue(insertOutcome,
				o.SignalID, o.RuleID, string(o.Result), o.TargetPrice, o.StopPrice, o.DurationMs, o.CompletedAt)
		}
		br := tx.SendBatch(ctxTx, b)
		for i := range outcomes {
			if _, err := br.Exec(); err != nil {
				_ = br.Close()
				return fmt.Errorf("outcome %s/%d: %w", outcomes[i].SignalID, outcomes[i].RuleID, err)
			}
		}
		return br.Close()
	})
}

// FindStaleSignals — сигналы, созданные до before, у которых разрешены не все правила.
func (s *Signals) FindStaleSignals(ctx context.Context, before time.Time) (out []models.StaleSignal, err error) {
	defer func() {
		if err != nil {
			err = fmt.Errorf("pg.FindStaleSignals: %w", err)
		}
	}()

	err = s.db.RunMaster(ctx, func(ctxTx context.Context, tx pgx.Tx) error {
		rows, err := tx.Query(ctxTx, selectStaleSignals, before)
		if err != nil {
			return err
		}
		defer rows.Close()

		for rows.Next() {
			var (
				sig      models.StaleSignal
				tf       string
				rules    []byte
				resolved []int32
			)
			e := &sig.Entry
			if err := rows.Scan(
				&sig.ID, &sig.Symbol, &tf,
				&e.OpenTime, &e.Open, &e.High, &e.Low, &e.Close, &e.Volume, &e.CloseTime,
				&rules, &sig.CreatedAt, &resolved,
			); err != nil {
				return err
			}
			if err := sonic.Unmarshal(rules, &sig.Rules); err != nil {
				return fmt.Errorf("signal %s rules: %w", sig.ID, err)
			}
			sig.Timeframe = models.Timeframe(tf)
			sig.ResolvedRules = make([]int, len(resolved))
			for i, id := range resolved {
				sig.ResolvedRules[i] = int(id)
			}
			out = append(out, sig)
		}
		return rows.Err()
	})
	return out, err
}

// DeleteSignalAndOutcomes удаляет сигнал вместе с исходами.
func (s *Signals) DeleteSignalAndOutcomes(ctx context.Context, id string) (err error) {
	defer func() {
		if err != nil {
			err = fmt.Errorf("pg.DeleteSignalAndOutcomes: %w", err)
		}
	}()

	return s.db.RunMaster(ctx, func(ctxTx context.Context, tx pgx.Tx) error {
		if _, err := tx.Exec(ctxTx, deleteOutcomes, id); err != nil {
			return err
		}
		_, err := tx.Exec(ctxTx, deleteSignal, id)
		return err
	})
}
