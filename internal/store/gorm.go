package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"github.com/DoyleJ11/guessr-backend/internal/engine"
)

type gameRow struct {
	Code         string `gorm:"primaryKey;size:16"`
	TotalRounds  int    `gorm:"not null"`
	IsMulti      bool   `gorm:"not null;default:false"`
	CurrentRound int    `gorm:"not null;default:1"`
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

func (gameRow) TableName() string { return "games" }

type playerRow struct {
	ID       string `gorm:"primaryKey;size:36"`
	GameCode string `gorm:"not null;size:16;uniqueIndex:idx_players_game_seq"`
	Seq      int    `gorm:"not null;uniqueIndex:idx_players_game_seq"` // join order
	Name     string `gorm:"not null"`
	Icon     string
	Score    int  `gorm:"not null;default:0"`
	IsOwner  bool `gorm:"not null;default:false"`
	JoinedAt time.Time
}

func (playerRow) TableName() string { return "players" }

type roundRow struct {
	GameCode string  `gorm:"primaryKey;size:16"`
	Idx      int     `gorm:"primaryKey"`
	Lat      float64 `gorm:"not null"`
	Lng      float64 `gorm:"not null"`
	Panorama string
}

func (roundRow) TableName() string { return "rounds" }

type entryRow struct {
	GameCode  string `gorm:"primaryKey;size:16"`
	RoundIdx  int    `gorm:"primaryKey"`
	PlayerID  string `gorm:"primaryKey;size:36"`
	Lat       float64
	Lng       float64
	Distance  float64
	Score     int `gorm:"not null"`
	StartedAt *time.Time
	EndedAt   *time.Time
	CreatedAt time.Time
}

func (entryRow) TableName() string { return "entries" }

// GormStore is the postgres backed Store.
type GormStore struct {
	db *gorm.DB
}

type PostgresConfig struct {
	DSN      string
	MaxConns int32
}

// OpenPostgres connects through a pgx pool, wraps it in gorm and migrates
// the schema. The returned close func releases both.
func OpenPostgres(ctx context.Context, cfg PostgresConfig, log *zap.Logger) (*GormStore, func() error, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, nil, fmt.Errorf("parsing database url: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, nil, fmt.Errorf("creating pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("pinging database: %w", err)
	}

	sqlDB := stdlib.OpenDBFromPool(pool)
	db, err := gorm.Open(postgres.New(postgres.Config{Conn: sqlDB}), &gorm.Config{
		Logger: gormlogger.New(zap.NewStdLog(log.Named("gorm")), gormlogger.Config{
			SlowThreshold:             200 * time.Millisecond,
			LogLevel:                  gormlogger.Warn,
			IgnoreRecordNotFoundError: true,
		}),
	})
	closeAll := func() error {
		err := sqlDB.Close()
		pool.Close()
		return err
	}
	if err != nil {
		return nil, nil, multierr.Append(fmt.Errorf("opening gorm: %w", err), closeAll())
	}

	s := NewGormStore(db)
	if err := s.Migrate(ctx); err != nil {
		return nil, nil, multierr.Append(err, closeAll())
	}
	return s, closeAll, nil
}

func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

func (s *GormStore) Migrate(ctx context.Context) error {
	if err := s.db.WithContext(ctx).AutoMigrate(&gameRow{}, &playerRow{}, &roundRow{}, &entryRow{}); err != nil {
		return fmt.Errorf("migrating schema: %w", err)
	}
	return nil
}

func (s *GormStore) CreateGame(ctx context.Context, g NewGame) (engine.Game, engine.Player, error) {
	if err := validateNewGame(g); err != nil {
		return engine.Game{}, engine.Player{}, err
	}

	owner := playerRow{
		ID:       uuid.NewString(),
		GameCode: g.Code,
		Name:     g.Owner.Name,
		Icon:     g.Owner.Icon,
		IsOwner:  true,
		JoinedAt: time.Now().UTC(),
	}
	rounds := make([]roundRow, 0, len(g.Rounds))
	for _, r := range g.Rounds {
		rounds = append(rounds, roundRow{GameCode: g.Code, Idx: r.Index, Lat: r.Target.Lat, Lng: r.Target.Lng, Panorama: r.Panorama})
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&gameRow{
			Code:         g.Code,
			TotalRounds:  len(g.Rounds),
			IsMulti:      g.IsMulti,
			CurrentRound: 1,
		})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return fmt.Errorf("%q: %w", g.Code, ErrCodeTaken)
		}
		if err := tx.Create(&rounds).Error; err != nil {
			return err
		}
		return tx.Create(&owner).Error
	})
	if err != nil {
		return engine.Game{}, engine.Player{}, err
	}

	return engine.Game{Code: g.Code, TotalRounds: len(g.Rounds), IsMulti: g.IsMulti}, toPlayer(owner), nil
}

func (s *GormStore) JoinGame(ctx context.Context, code string, p engine.Player) (engine.Player, error) {
	row := playerRow{
		ID:       uuid.NewString(),
		GameCode: code,
		Name:     p.Name,
		Icon:     p.Icon,
		JoinedAt: time.Now().UTC(),
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// Locking the game row serializes joins, so seq stays dense and unique.
		g, err := findGame(tx.Clauses(clause.Locking{Strength: "UPDATE"}), code)
		if err != nil {
			return err
		}
		if !g.IsMulti {
			return fmt.Errorf("%q is single player: %w", code, ErrInvalidGame)
		}

		var seq int64
		if err := tx.Model(&playerRow{}).Where("game_code = ?", code).Count(&seq).Error; err != nil {
			return err
		}
		row.Seq = int(seq)
		return tx.Create(&row).Error
	})
	if err != nil {
		return engine.Player{}, err
	}
	return toPlayer(row), nil
}

func (s *GormStore) SaveEntry(ctx context.Context, code string, e engine.Entry) error {
	if err := validateEntry(e); err != nil {
		return err
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		g, err := findGame(tx, code)
		if err != nil {
			return err
		}
		if e.Round > g.TotalRounds {
			return fmt.Errorf("round %d of %d: %w", e.Round, g.TotalRounds, engine.ErrInvalidEntry)
		}
		if e.Round > g.CurrentRound {
			return fmt.Errorf("round %d not started, current is %d: %w", e.Round, g.CurrentRound, engine.ErrStateDesync)
		}

		var p playerRow
		err = tx.Where("id = ? AND game_code = ?", e.PlayerID, code).First(&p).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("player %q: %w", e.PlayerID, engine.ErrUnknownPlayer)
		}
		if err != nil {
			return err
		}

		res := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&entryRow{
			GameCode:  code,
			RoundIdx:  e.Round,
			PlayerID:  e.PlayerID,
			Lat:       e.Position.Lat,
			Lng:       e.Position.Lng,
			Distance:  e.Distance,
			Score:     e.Score,
			StartedAt: e.StartedAt,
			EndedAt:   e.EndedAt,
		})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return fmt.Errorf("round %d player %q: %w", e.Round, e.PlayerID, engine.ErrStaleWrite)
		}

		return tx.Model(&playerRow{}).
			Where("id = ?", p.ID).
			UpdateColumn("score", gorm.Expr("score + ?", e.Score)).Error
	})
}

func (s *GormStore) Entries(ctx context.Context, code string) (engine.EntrySet, error) {
	db := s.db.WithContext(ctx)
	if _, err := findGame(db, code); err != nil {
		return nil, err
	}

	var rows []entryRow
	if err := db.Where("game_code = ?", code).Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make(engine.EntrySet, len(rows))
	for _, r := range rows {
		e := toEntry(r)
		out[engine.EntryKey{Round: e.Round, PlayerID: e.PlayerID}] = e
	}
	return out, nil
}

func (s *GormStore) Round(ctx context.Context, code string, index int) (engine.Round, error) {
	var r roundRow
	err := s.db.WithContext(ctx).Where("game_code = ? AND idx = ?", code, index).First(&r).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return engine.Round{}, fmt.Errorf("round %d of %q: %w", index, code, ErrNotFound)
	}
	if err != nil {
		return engine.Round{}, err
	}
	return toRound(r), nil
}

func (s *GormStore) CurrentRound(ctx context.Context, code string) (int, error) {
	g, err := findGame(s.db.WithContext(ctx), code)
	if err != nil {
		return 0, err
	}
	return g.CurrentRound, nil
}

func (s *GormStore) SetCurrentRound(ctx context.Context, code string, index int) error {
	if index < 1 {
		return fmt.Errorf("round %d of %q: %w", index, code, engine.ErrStateDesync)
	}
	res := s.db.WithContext(ctx).Model(&gameRow{}).
		Where("code = ? AND total_rounds >= ?", code, index).
		Update("current_round", index)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		if _, err := findGame(s.db.WithContext(ctx), code); err != nil {
			return err
		}
		return fmt.Errorf("round %d of %q: %w", index, code, engine.ErrStateDesync)
	}
	return nil
}

func (s *GormStore) Snapshot(ctx context.Context, code string) (engine.Snapshot, error) {
	var snap engine.Snapshot
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		g, err := findGame(tx, code)
		if err != nil {
			return err
		}
		snap.Game = engine.Game{Code: g.Code, TotalRounds: g.TotalRounds, IsMulti: g.IsMulti}

		var r roundRow
		if err := tx.Where("game_code = ? AND idx = ?", code, g.CurrentRound).First(&r).Error; err != nil {
			return fmt.Errorf("loading round %d: %w", g.CurrentRound, err)
		}
		snap.Round = toRound(r)

		var players []playerRow
		if err := tx.Where("game_code = ?", code).Order("seq").Find(&players).Error; err != nil {
			return err
		}
		for _, p := range players {
			snap.Players = append(snap.Players, toPlayer(p))
		}

		var entries []entryRow
		if err := tx.Where("game_code = ?", code).Order("round_idx, player_id").Find(&entries).Error; err != nil {
			return err
		}
		for _, e := range entries {
			snap.Entries = append(snap.Entries, toEntry(e))
		}
		return nil
	}, &sql.TxOptions{Isolation: sql.LevelRepeatableRead, ReadOnly: true})
	return snap, err
}

func (s *GormStore) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

func findGame(db *gorm.DB, code string) (gameRow, error) {
	var g gameRow
	err := db.Where("code = ?", code).First(&g).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return g, fmt.Errorf("%q: %w", code, ErrNotFound)
	}
	return g, err
}

func toPlayer(r playerRow) engine.Player {
	return engine.Player{ID: r.ID, Name: r.Name, Icon: r.Icon, Score: r.Score, IsOwner: r.IsOwner}
}

func toRound(r roundRow) engine.Round {
	return engine.Round{Index: r.Idx, Target: engine.Coord{Lat: r.Lat, Lng: r.Lng}, Panorama: r.Panorama}
}

func toEntry(r entryRow) engine.Entry {
	return engine.Entry{
		Round:     r.RoundIdx,
		PlayerID:  r.PlayerID,
		Position:  &engine.Coord{Lat: r.Lat, Lng: r.Lng},
		Distance:  r.Distance,
		Score:     r.Score,
		StartedAt: r.StartedAt,
		EndedAt:   r.EndedAt,
	}
}
