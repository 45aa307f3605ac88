package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"

	goredis "github.com/redis/go-redis/v9"

	"github.com/BrandonDHaskell/Portunus/gatekeeper/internal/config"
	"github.com/BrandonDHaskell/Portunus/gatekeeper/internal/db"
	"github.com/BrandonDHaskell/Portunus/gatekeeper/internal/gatekeeper/identity"
	"github.com/BrandonDHaskell/Portunus/gatekeeper/internal/gatekeeper/store"
	"github.com/BrandonDHaskell/Portunus/gatekeeper/internal/gatekeeper/store/memory"
	"github.com/BrandonDHaskell/Portunus/gatekeeper/internal/gatekeeper/store/redis"
	"github.com/BrandonDHaskell/Portunus/gatekeeper/internal/gatekeeper/store/sqlite"
)

// stores is everything the visit service reads and writes.
type stores struct {
	doors     store.DoorStore
	vehicles  store.VehicleStore
	visitors  store.VisitorStore
	residents store.ResidentStore
	events    store.AccessEventStore
	pending   store.PendingStore

	closers []func()
}

func (s *stores) Close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}
}

func openStores(ctx context.Context, cfg config.Config, logger *log.Logger) (*stores, error) {
	st := &stores{}

	switch cfg.LookupBackend {
	case config.BackendSQLite:
		sqlDB, err := db.Open(ctx, db.Config{Path: cfg.DBPath, Env: cfg.Env})
		if err != nil {
			return nil, err
		}
		writer := db.NewWorker(sqlDB)
		st.closers = append(st.closers, func() { _ = sqlDB.Close() }, func() {
			writer.Close()
			stats := writer.Stats()
			logger.Printf("db writer closed (committed=%d failed=%d)", stats.Committed, stats.Failed)
		})

		if cfg.Env == "dev" {
			if err := seedSQLite(ctx, sqlDB, cfg.Seed); err != nil {
				st.Close()
				return nil, err
			}
		}
		dir := sqlite.NewDirectory(sqlDB)
		st.doors = sqlite.NewDoorStore(sqlDB, writer)
		st.vehicles, st.visitors, st.residents = dir, dir, dir
		st.events = sqlite.NewAccessEventStore(sqlDB, writer)
		logger.Printf("lookups: sqlite at %s", cfg.DBPath)

	default:
		dir := memory.NewDirectory()
		doors := seedMemory(dir, cfg)
		st.doors = memory.NewDoorStore(doors)
		st.vehicles, st.visitors, st.residents = dir, dir, dir
		st.events = memory.NewAccessEventStore()
		logger.Printf("lookups: memory (%d doors)", len(doors))
	}

	switch cfg.PendingBackend {
	case config.BackendRedis:
		rdb := goredis.NewClient(&goredis.Options{Addr: cfg.RedisAddr})
		if err := rdb.Ping(ctx).Err(); err != nil {
			_ = rdb.Close()
			st.Close()
			return nil, fmt.Errorf("redis ping %s: %w", cfg.RedisAddr, err)
		}
		st.closers = append(st.closers, func() { _ = rdb.Close() })
		st.pending = redis.NewPendingStore(rdb, cfg.RedisPrefix, nil)
		logger.Printf("pending authorizations: redis at %s", cfg.RedisAddr)
	default:
		st.pending = memory.NewPendingStore(nil)
		logger.Printf("pending authorizations: memory")
	}

	return st, nil
}

// seedMemory loads the seed into dir and returns the known doors.
func seedMemory(dir *memory.Directory, cfg config.Config) []string {
	doors := append([]string(nil), cfg.KnownDoors...)
	for _, d := range cfg.Seed.Doors {
		doors = append(doors, d.PropertyID+"/"+d.DoorID)
	}
	for _, r := range cfg.Seed.Residents {
		dir.AddResident(store.ResidentRecord{
			PropertyID: r.PropertyID,
			ResidentID: r.ResidentID,
			Name:       r.Name,
			Phone:      r.Phone,
			Unit:       r.Unit,
		})
	}
	for _, v := range cfg.Seed.Vehicles {
		dir.AddVehicle(store.VehicleRecord{
			PropertyID:   v.PropertyID,
			Plate:        v.Plate,
			ResidentID:   v.ResidentID,
			ResidentName: v.ResidentName,
			Unit:         v.Unit,
			Active:       true,
		})
	}
	for _, p := range cfg.Seed.PreAuths {
		dir.AddPreAuthorization(store.PreAuthorization{
			PropertyID:   p.PropertyID,
			VisitorName:  p.VisitorName,
			ResidentID:   p.ResidentID,
			ResidentName: p.ResidentName,
			Unit:         p.Unit,
			ValidUntil:   p.ValidUntil,
		}, p.IDNumber)
	}
	return doors
}

func seedSQLite(ctx context.Context, sqlDB *sql.DB, seed config.Seed) error {
	var opt db.SeedDevOptions
	for _, d := range seed.Doors {
		opt.Doors = append(opt.Doors, db.DoorSeed{PropertyID: d.PropertyID, DoorID: d.DoorID, DisplayName: d.DisplayName})
	}
	for _, r := range seed.Residents {
		opt.Residents = append(opt.Residents, db.ResidentSeed{
			PropertyID: r.PropertyID,
			ResidentID: r.ResidentID,
			Name:       r.Name,
			Phone:      r.Phone,
			Unit:       identity.NormalizeUnit(r.Unit),
		})
	}
	for _, v := range seed.Vehicles {
		opt.Vehicles = append(opt.Vehicles, db.VehicleSeed{
			PropertyID:   v.PropertyID,
			Plate:        identity.NormalizePlate(v.Plate),
			ResidentID:   v.ResidentID,
			ResidentName: v.ResidentName,
			Unit:         identity.NormalizeUnit(v.Unit),
		})
	}
	for _, p := range seed.PreAuths {
		opt.PreAuths = append(opt.PreAuths, db.PreAuthSeed{
			PropertyID:   p.PropertyID,
			IDNumberHash: identity.HashIDNumber(p.IDNumber),
			VisitorName:  p.VisitorName,
			ResidentID:   p.ResidentID,
			ResidentName: p.ResidentName,
			Unit:         identity.NormalizeUnit(p.Unit),
			ValidUntil:   p.ValidUntil,
		})
	}
	if err := db.SeedDev(ctx, sqlDB, opt); err != nil {
		return fmt.Errorf("seed dev: %w", err)
	}
	return nil
}
