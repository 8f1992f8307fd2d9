package wallet

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/ruteri/pod-consent-gateway/interfaces"
	"github.com/ruteri/pod-consent-gateway/storage"
	"golang.org/x/sync/errgroup"
)

const reconcileConcurrency = 4

// Tracker keeps broadcast transactions in the user's pod until their receipts are known.
type Tracker struct {
	resources interfaces.ResourceStore
	layout    storage.Layout
	ledger    interfaces.Ledger
	now       func() time.Time
	log       *slog.Logger
}

// NewTracker creates a tracker storing records under the pending container of each user.
func NewTracker(resources interfaces.ResourceStore, layout storage.Layout, ledger interfaces.Ledger, log *slog.Logger) *Tracker {
	return &Tracker{
		resources: resources,
		layout:    layout,
		ledger:    ledger,
		now:       func() time.Time { return time.Now().UTC() },
		log:       log,
	}
}

// Track writes or replaces the record of a transaction.
func (t *Tracker) Track(ctx context.Context, user interfaces.UserIdentity, tx interfaces.PendingTx) error {
	if tx.Hash == "" {
		return errors.New("empty transaction hash")
	}
	if tx.Status == "" {
		tx.Status = interfaces.TxPending
	}
	if tx.SubmittedAt.IsZero() {
		tx.SubmittedAt = t.now()
	}
	tx.UpdatedAt = t.now()

	data, err := json.Marshal(tx)
	if err != nil {
		return fmt.Errorf("failed to encode pending transaction: %w", err)
	}
	if _, err := t.resources.Write(ctx, t.layout.PendingURL(user, tx.Hash), data, "application/json"); err != nil {
		return fmt.Errorf("failed to write pending transaction: %w", err)
	}
	return nil
}

// List returns the tracked transactions of the user, oldest first.
func (t *Tracker) List(ctx context.Context, user interfaces.UserIdentity) ([]interfaces.PendingTx, error) {
	children, err := t.resources.List(ctx, t.layout.PendingContainer(user))
	if errors.Is(err, interfaces.ErrResourceNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, interfaces.NewOpError(interfaces.ErrStorageUnavailable, "list-pending", user.String(), err)
	}

	txs := make([]interfaces.PendingTx, 0, len(children))
	for _, child := range children {
		if !strings.HasSuffix(child, ".json") {
			continue
		}
		data, err := t.resources.Read(ctx, child)
		if errors.Is(err, interfaces.ErrResourceNotFound) {
			continue
		}
		if err != nil {
			return nil, interfaces.NewOpError(interfaces.ErrStorageUnavailable, "read-pending", user.String(), err)
		}
		var tx interfaces.PendingTx
		if err := json.Unmarshal(data, &tx); err != nil {
			t.log.Warn("Skipping malformed pending transaction",
				slog.String("url", child),
				"err", err)
			continue
		}
		txs = append(txs, tx)
	}

	sort.Slice(txs, func(i, j int) bool {
		if !txs[i].SubmittedAt.Equal(txs[j].SubmittedAt) {
			return txs[i].SubmittedAt.Before(txs[j].SubmittedAt)
		}
		return txs[i].Hash < txs[j].Hash
	})
	return txs, nil
}

// Reconcile queries the receipt of every non-final transaction and rewrites those that
// reached a final state. It returns all tracked transactions with their current state.
func (t *Tracker) Reconcile(ctx context.Context, user interfaces.UserIdentity) ([]interfaces.PendingTx, error) {
	txs, err := t.List(ctx, user)
	if err != nil {
		return nil, err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(reconcileConcurrency)
	for i := range txs {
		if txs[i].Final() {
			continue
		}
		g.Go(func() error {
			status, err := t.ledger.TransactionStatus(gctx, txs[i].Hash)
			if err != nil {
				return err
			}
			if status == interfaces.TxPending {
				return nil
			}

			txs[i].Status = status
			tx := txs[i]

			if err := t.Track(gctx, user, tx); err != nil {
				return err
			}
			t.log.Info("Transaction reconciled",
				slog.String("user", user.String()),
				slog.String("tx", tx.Hash),
				slog.String("kind", string(tx.Kind)),
				slog.String("status", string(status)))
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, interfaces.NewOpError(interfaces.ErrStorageUnavailable, "reconcile", user.String(), err)
	}
	return txs, nil
}
