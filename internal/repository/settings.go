package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"time"
)

// DefaultVolumePercent applies to guilds without a stored setting.
const DefaultVolumePercent = 50

type Repo struct {
	db *sql.DB
}

func NewRepo(db *sql.DB) *Repo { return &Repo{db: db} }

type Settings struct {
	GuildID       string
	DefaultVolume int // percent, 0-100
	UpdatedAt     time.Time
}

// GetSettings returns the stored settings, or defaults when the guild has none.
func (r *Repo) GetSettings(ctx context.Context, guild string) (*Settings, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT guild_id, default_volume, updated_at FROM settings WHERE guild_id = ?`, guild)

	var s Settings
	var updated int64
	if err := row.Scan(&s.GuildID, &s.DefaultVolume, &updated); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return &Settings{GuildID: guild, DefaultVolume: DefaultVolumePercent}, nil
		}
		return nil, fmt.Errorf("get settings %s: %w", guild, err)
	}
	if updated > 0 {
		s.UpdatedAt = time.Unix(updated, 0)
	}
	return &s, nil
}

func (r *Repo) SaveSettings(ctx context.Context, s *Settings) error {
	if s.DefaultVolume < 0 || s.DefaultVolume > 100 {
		return fmt.Errorf("default volume %d out of range", s.DefaultVolume)
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO settings(guild_id, default_volume, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(guild_id) DO UPDATE SET
		  default_volume = excluded.default_volume,
		  updated_at = excluded.updated_at`,
		s.GuildID, s.DefaultVolume, time.Now().Unix(),
	)
	if err != nil {
		return fmt.Errorf("save settings %s: %w", s.GuildID, err)
	}
	return nil
}

// DefaultVolume returns the guild's stored volume as a fraction in [0, 1].
func (r *Repo) DefaultVolume(ctx context.Context, guild string) (float64, error) {
	s, err := r.GetSettings(ctx, guild)
	if err != nil {
		return 0, err
	}
	return float64(s.DefaultVolume) / 100, nil
}

func (r *Repo) SetDefaultVolume(ctx context.Context, guild string, volume float64) error {
	s, err := r.GetSettings(ctx, guild)
	if err != nil {
		return err
	}
	s.DefaultVolume = int(math.Round(volume * 100))
	return r.SaveSettings(ctx, s)
}
