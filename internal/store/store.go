package store

import (
	"context"
	"encoding/json"
	"fmt"

	"kingdoms-launcher/internal/domain"
	"kingdoms-launcher/internal/repository"
)

// Keys of the persisted launcher state. The legacy single-account slot is
// kept in sync with the account list for older in-game companions that
// still read it.
const (
	keyAccounts            = "accounts"
	keyActiveAccountID     = "active_account_id"
	keyLegacyAccount       = "account"
	keyEnabledOptionalMods = "enabled_optional_mods"
	keyRAM                 = "ram"
	keyResolutionWidth     = "resolution_width"
	keyResolutionHeight    = "resolution_height"
	keyJavaPath            = "java_path"
	keyLaunchProfiles      = "launch_profiles"
	keyActiveProfileID     = "active_profile_id"
	keyControlPasswordHash = "control_password_hash"
)

// Store is the typed view over the key/value state repository. Every value
// is stored as JSON so the schema can evolve without migrations.
type Store struct {
	repo repository.StateRepository
}

func New(repo repository.StateRepository) *Store {
	return &Store{repo: repo}
}

func getJSON[T any](ctx context.Context, repo repository.StateRepository, key string, def T) (T, error) {
	raw, ok, err := repo.Get(ctx, key)
	if err != nil {
		return def, err
	}
	if !ok {
		return def, nil
	}
	var value T
	if err := json.Unmarshal(raw, &value); err != nil {
		return def, fmt.Errorf("decode %q: %w", key, err)
	}
	return value, nil
}

func setJSON(ctx context.Context, repo repository.StateRepository, key string, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode %q: %w", key, err)
	}
	return repo.Set(ctx, key, raw)
}

func (s *Store) Accounts(ctx context.Context) ([]domain.Account, error) {
	return getJSON(ctx, s.repo, keyAccounts, []domain.Account(nil))
}

func (s *Store) SetAccounts(ctx context.Context, accounts []domain.Account) error {
	return setJSON(ctx, s.repo, keyAccounts, accounts)
}

func (s *Store) ActiveAccountID(ctx context.Context) (string, error) {
	return getJSON(ctx, s.repo, keyActiveAccountID, "")
}

func (s *Store) SetActiveAccountID(ctx context.Context, id string) error {
	return setJSON(ctx, s.repo, keyActiveAccountID, id)
}

// LegacyAccount returns the single-account slot older launcher versions
// persisted, or nil when unset.
func (s *Store) LegacyAccount(ctx context.Context) (*domain.Account, error) {
	return getJSON[*domain.Account](ctx, s.repo, keyLegacyAccount, nil)
}

func (s *Store) SetLegacyAccount(ctx context.Context, account *domain.Account) error {
	return setJSON(ctx, s.repo, keyLegacyAccount, account)
}

func (s *Store) EnabledOptionalMods(ctx context.Context) ([]string, error) {
	return getJSON(ctx, s.repo, keyEnabledOptionalMods, []string(nil))
}

func (s *Store) SetEnabledOptionalMods(ctx context.Context, paths []string) error {
	return setJSON(ctx, s.repo, keyEnabledOptionalMods, paths)
}

func (s *Store) RAM(ctx context.Context) (float64, error) {
	return getJSON(ctx, s.repo, keyRAM, 4.0)
}

func (s *Store) SetRAM(ctx context.Context, gb float64) error {
	return setJSON(ctx, s.repo, keyRAM, gb)
}

func (s *Store) Resolution(ctx context.Context) (width, height int, err error) {
	width, err = getJSON(ctx, s.repo, keyResolutionWidth, 0)
	if err != nil {
		return 0, 0, err
	}
	height, err = getJSON(ctx, s.repo, keyResolutionHeight, 0)
	if err != nil {
		return 0, 0, err
	}
	return width, height, nil
}

func (s *Store) SetResolution(ctx context.Context, width, height int) error {
	if err := setJSON(ctx, s.repo, keyResolutionWidth, width); err != nil {
		return err
	}
	return setJSON(ctx, s.repo, keyResolutionHeight, height)
}

func (s *Store) JavaPath(ctx context.Context) (string, error) {
	return getJSON(ctx, s.repo, keyJavaPath, "")
}

func (s *Store) SetJavaPath(ctx context.Context, path string) error {
	return setJSON(ctx, s.repo, keyJavaPath, path)
}

// Profiles returns the launch profiles, guaranteeing the default profile
// is always present and first.
func (s *Store) Profiles(ctx context.Context) ([]domain.LaunchProfile, error) {
	profiles, err := getJSON(ctx, s.repo, keyLaunchProfiles, []domain.LaunchProfile(nil))
	if err != nil {
		return nil, err
	}
	for _, p := range profiles {
		if p.ID == domain.DefaultProfileID {
			return profiles, nil
		}
	}
	return append([]domain.LaunchProfile{domain.DefaultProfile()}, profiles...), nil
}

func (s *Store) SetProfiles(ctx context.Context, profiles []domain.LaunchProfile) error {
	return setJSON(ctx, s.repo, keyLaunchProfiles, profiles)
}

func (s *Store) ActiveProfileID(ctx context.Context) (string, error) {
	id, err := getJSON(ctx, s.repo, keyActiveProfileID, domain.DefaultProfileID)
	if err != nil {
		return "", err
	}
	if id == "" {
		return domain.DefaultProfileID, nil
	}
	return id, nil
}

func (s *Store) SetActiveProfileID(ctx context.Context, id string) error {
	return setJSON(ctx, s.repo, keyActiveProfileID, id)
}

func (s *Store) ControlPasswordHash(ctx context.Context) (string, error) {
	return getJSON(ctx, s.repo, keyControlPasswordHash, "")
}

func (s *Store) SetControlPasswordHash(ctx context.Context, hash string) error {
	return setJSON(ctx, s.repo, keyControlPasswordHash, hash)
}
