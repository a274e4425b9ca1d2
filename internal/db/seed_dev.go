package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

type SeedEmployee struct {
	PersonID int64
	FullName string
	Active   bool
}

type SeedDevOptions struct {
	// Employees defaults to a small fixed roster when empty.
	Employees []SeedEmployee
}

func defaultSeedEmployees() []SeedEmployee {
	return []SeedEmployee{
		{PersonID: 1, FullName: "Dev Operator", Active: true},
		{PersonID: 2, FullName: "Dev Contractor", Active: true},
		{PersonID: 3, FullName: "Dev Former Employee", Active: false},
	}
}

// SeedDev fills the employees table so the hardware and admin flows can be
// exercised locally. Re-running it refreshes names and active flags.
func SeedDev(ctx context.Context, conn *sql.DB, opt SeedDevOptions) error {
	now := time.Now().UTC().UnixMilli()

	employees := opt.Employees
	if len(employees) == 0 {
		employees = defaultSeedEmployees()
	}

	for _, e := range employees {
		active := 0
		if e.Active {
			active = 1
		}
		if _, err := conn.ExecContext(ctx, `
INSERT INTO employees(person_id, full_name, is_active, created_at_ms, updated_at_ms)
VALUES (?, ?, ?, ?, ?)
ON CONFLICT(person_id) DO UPDATE SET
  full_name = excluded.full_name,
  is_active = excluded.is_active,
  updated_at_ms = excluded.updated_at_ms;
`, e.PersonID, e.FullName, active, now, now); err != nil {
			return fmt.Errorf("seed employee %d: %w", e.PersonID, err)
		}
	}

	return nil
}
