// Package preferences persists per-counterparty consent preferences in the user's pod.
//
// A record that was never set reads as the all-false default and is not written;
// records materialize only on Set.
package preferences

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sort"
	"time"

	"github.com/ruteri/pod-consent-gateway/interfaces"
	"github.com/ruteri/pod-consent-gateway/locks"
	"github.com/ruteri/pod-consent-gateway/storage"
)

// Store reads and writes consent preference records.
type Store struct {
	resources interfaces.ResourceStore
	layout    storage.Layout
	locks     *locks.KeyedMutex
	now       func() time.Time
	log       *slog.Logger
}

// NewStore creates a preference store on resources.
func NewStore(resources interfaces.ResourceStore, layout storage.Layout, log *slog.Logger) *Store {
	return &Store{
		resources: resources,
		layout:    layout,
		locks:     locks.NewKeyedMutex(),
		now:       func() time.Time { return time.Now().UTC() },
		log:       log,
	}
}

func validatePair(user, counterparty interfaces.UserIdentity) error {
	if err := user.Validate(); err != nil {
		return err
	}
	return counterparty.Validate()
}

// Get returns the record for (user, counterparty), or the default-deny record with
// Persisted=false if none exists.
func (s *Store) Get(ctx context.Context, user, counterparty interfaces.UserIdentity) (interfaces.PreferenceRecord, error) {
	if err := validatePair(user, counterparty); err != nil {
		return interfaces.PreferenceRecord{}, interfaces.NewOpError(interfaces.ErrPreferenceReadFailed, "get-preference", user.String(), err)
	}

	url := s.layout.PreferenceURL(user, counterparty)
	data, err := s.resources.Read(ctx, url)
	if errors.Is(err, interfaces.ErrResourceNotFound) {
		return interfaces.DefaultPreference(user, counterparty), nil
	}
	if err != nil {
		s.log.Warn("Failed to read preference",
			slog.String("user", user.String()),
			slog.String("counterparty", counterparty.String()),
			"err", err)
		return interfaces.PreferenceRecord{}, interfaces.NewOpError(interfaces.ErrPreferenceReadFailed, "read-preference", user.String(), err)
	}

	var rec interfaces.PreferenceRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return interfaces.PreferenceRecord{}, interfaces.NewOpError(interfaces.ErrPreferenceReadFailed, "decode-preference", user.String(), err)
	}
	rec.User = user
	rec.Counterparty = counterparty
	rec.Persisted = true
	return rec, nil
}

// Set overwrites the flags of (user, counterparty) with a single whole-document write.
// Calls for the same record are serialized. A failed write leaves the stored record intact.
func (s *Store) Set(ctx context.Context, user, counterparty interfaces.UserIdentity, flags interfaces.ConsentFlags) (interfaces.PreferenceRecord, error) {
	if err := validatePair(user, counterparty); err != nil {
		return interfaces.PreferenceRecord{}, interfaces.NewOpError(interfaces.ErrPreferenceWriteFailed, "set-preference", user.String(), err)
	}

	url := s.layout.PreferenceURL(user, counterparty)
	unlock, err := s.locks.Lock(ctx, url)
	if err != nil {
		return interfaces.PreferenceRecord{}, interfaces.NewOpError(interfaces.ErrPreferenceWriteFailed, "lock-preference", user.String(), err)
	}
	defer unlock()

	rec, err := s.Get(ctx, user, counterparty)
	if err != nil {
		return interfaces.PreferenceRecord{}, err
	}
	rec.Flags = flags
	rec.UpdatedAt = s.now()

	data, err := json.Marshal(rec)
	if err != nil {
		return interfaces.PreferenceRecord{}, interfaces.NewOpError(interfaces.ErrPreferenceWriteFailed, "encode-preference", user.String(), err)
	}
	if _, err := s.resources.Write(ctx, url, data, "application/json"); err != nil {
		s.log.Error("Failed to write preference",
			slog.String("user", user.String()),
			slog.String("counterparty", counterparty.String()),
			"err", err)
		return interfaces.PreferenceRecord{}, interfaces.NewOpError(interfaces.ErrPreferenceWriteFailed, "write-preference", user.String(), err)
	}

	s.log.Info("Preference updated",
		slog.String("user", user.String()),
		slog.String("counterparty", counterparty.String()),
		slog.Bool("thirdParty", flags.ThirdParty))

	rec.Persisted = true
	return rec, nil
}

// List returns every persisted record of the user, sorted by counterparty.
func (s *Store) List(ctx context.Context, user interfaces.UserIdentity) ([]interfaces.PreferenceRecord, error) {
	if err := user.Validate(); err != nil {
		return nil, interfaces.NewOpError(interfaces.ErrPreferenceReadFailed, "list-preferences", "", err)
	}

	children, err := s.resources.List(ctx, s.layout.PreferencesContainer(user))
	if err != nil && !errors.Is(err, interfaces.ErrResourceNotFound) {
		return nil, interfaces.NewOpError(interfaces.ErrPreferenceReadFailed, "list-preferences", user.String(), err)
	}

	records := make([]interfaces.PreferenceRecord, 0, len(children))
	for _, child := range children {
		counterparty, ok := s.layout.CounterpartyFromPreferenceURL(user, child)
		if !ok {
			continue
		}
		rec, err := s.Get(ctx, user, counterparty)
		if err != nil {
			return nil, err
		}
		if rec.Persisted {
			records = append(records, rec)
		}
	}

	sort.Slice(records, func(i, j int) bool {
		return records[i].Counterparty < records[j].Counterparty
	})
	return records, nil
}
