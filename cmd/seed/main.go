package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/kiwari-pos/kds/internal/config"
	"github.com/kiwari-pos/kds/internal/database"
	"github.com/kiwari-pos/kds/internal/enum"
	"github.com/kiwari-pos/kds/internal/logger"
)

type staffSeed struct {
	code string
	name string
	role enum.Role
	pin  string
}

// demoCrew is enough staff to run every display locally.
var demoCrew = []staffSeed{
	{code: "OWN-01", name: "Owner", role: enum.RoleOwner, pin: "1111"},
	{code: "WTR-01", name: "Dewi", role: enum.RoleWaiter, pin: "2222"},
	{code: "CK-01", name: "Bima", role: enum.RoleCook, pin: "3333"},
	{code: "CK-02", name: "Sari", role: enum.RoleCook, pin: "3334"},
	{code: "BAR-01", name: "Rina", role: enum.RoleBartender, pin: "4444"},
}

func main() {
	// CLI flags
	code := flag.String("code", "", "Staff code used to log in")
	name := flag.String("name", "", "Staff display name")
	role := flag.String("role", "", "OWNER, MANAGER, WAITER, COOK or BARTENDER")
	pin := flag.String("pin", "", "Login PIN")
	demo := flag.Bool("demo", false, "Seed the demo crew instead of a single staff member")
	flag.Parse()

	cfg := config.Load()
	logger.Init(cfg.AppEnv)
	defer logger.Sync()
	log := logger.L()

	var seeds []staffSeed
	if *demo {
		seeds = demoCrew
		log.Warn("seeding demo crew with well-known PINs, do not use in production")
	} else {
		s, err := flagSeed(*code, *name, *role, *pin)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			flag.Usage()
			os.Exit(2)
		}
		seeds = []staffSeed{s}
	}

	ctx := context.Background()
	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatal("unable to connect to database", zap.Error(err))
	}
	defer pool.Close()

	if err := pool.Ping(ctx); err != nil {
		log.Fatal("unable to ping database", zap.Error(err))
	}

	// Seed in a transaction so a bad row leaves nothing behind.
	tx, err := pool.Begin(ctx)
	if err != nil {
		log.Fatal("begin transaction", zap.Error(err))
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	q := database.New(tx)
	for _, s := range seeds {
		staff, err := seedStaff(ctx, q, s)
		if err != nil {
			log.Fatal("seed staff", zap.String("code", s.code), zap.Error(err))
		}
		log.Info("seeded staff",
			zap.String("id", staff.ID.String()),
			zap.String("code", staff.Code),
			zap.String("role", string(staff.Role)),
		)
	}

	if err := tx.Commit(ctx); err != nil {
		log.Fatal("commit", zap.Error(err))
	}
	log.Info("seed completed", zap.Int("staff", len(seeds)))
}

func flagSeed(code, name, role, pin string) (staffSeed, error) {
	s := staffSeed{
		code: strings.TrimSpace(code),
		name: strings.TrimSpace(name),
		role: enum.Role(strings.ToUpper(strings.TrimSpace(role))),
		pin:  pin,
	}
	if s.code == "" || s.name == "" || s.pin == "" {
		return staffSeed{}, fmt.Errorf("code, name and pin are required (or use -demo)")
	}
	switch s.role {
	case enum.RoleOwner, enum.RoleManager, enum.RoleWaiter, enum.RoleCook, enum.RoleBartender:
	default:
		return staffSeed{}, fmt.Errorf("invalid role %q", role)
	}
	return s, nil
}

// seedStaff creates the staff member, or refreshes name, role and PIN when
// the code already exists.
func seedStaff(ctx context.Context, q *database.Queries, s staffSeed) (database.Staff, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(s.pin), bcrypt.DefaultCost)
	if err != nil {
		return database.Staff{}, fmt.Errorf("hash pin: %w", err)
	}
	return q.CreateStaff(ctx, database.CreateStaffParams{
		Code:    s.code,
		Name:    s.name,
		Role:    s.role,
		PinHash: string(hash),
	})
}
