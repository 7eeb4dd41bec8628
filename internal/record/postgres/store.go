// Package postgres is the optional pgx-backed ServerRecord store: one
// struct wrapping a *pgxpool.Pool, plain SQL, db-tag-shaped columns.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/argon-hosting/daemon/internal/argonerr"
	"github.com/argon-hosting/daemon/internal/record"
)

// Store is a Postgres-backed record.Store.
type Store struct {
	db *pgxpool.Pool
}

// New wraps an existing pool. Run the migrations in /migrations before
// first use.
func New(db *pgxpool.Pool) *Store {
	return &Store{db: db}
}

func (s *Store) Create(ctx context.Context, rec *record.ServerRecord) error {
	variables, err := json.Marshal(rec.Variables)
	if err != nil {
		return fmt.Errorf("marshal variables: %w", err)
	}
	configFiles, err := json.Marshal(rec.ConfigFiles)
	if err != nil {
		return fmt.Errorf("marshal config_files: %w", err)
	}
	cargo, err := json.Marshal(rec.Cargo)
	if err != nil {
		return fmt.Errorf("marshal cargo: %w", err)
	}

	const query = `
		INSERT INTO servers (
			id, docker_id, name, image, state, memory_limit, cpu_limit,
			variables, startup_command, install_image, install_entrypoint,
			install_script, bind_address, port, config_files, sftp_enabled, cargo
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17)
	`
	_, err = s.db.Exec(ctx, query,
		rec.ID, rec.ContainerID, rec.Name, rec.Image, rec.State,
		rec.MemoryLimitBytes, rec.CPULimitCores, variables, rec.StartupCommand,
		rec.Install.Image, rec.Install.Entrypoint, rec.Install.Script,
		rec.Allocation.BindAddress, rec.Allocation.Port, configFiles, rec.SFTPEnabled, cargo,
	)
	if err != nil {
		return fmt.Errorf("create server record %s: %w", rec.ID, err)
	}
	return nil
}

func (s *Store) Get(ctx context.Context, id string) (*record.ServerRecord, error) {
	const query = `
		SELECT id, docker_id, name, image, state, memory_limit, cpu_limit,
		       variables, startup_command, install_image, install_entrypoint,
		       install_script, bind_address, port, config_files, sftp_enabled, cargo, updated_at
		FROM servers WHERE id = $1
	`
	row := s.db.QueryRow(ctx, query, id)
	rec, variables, configFiles, cargo, err := scanRecord(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, argonerr.Newf(argonerr.KindRecordNotFound, "server %s not found", id)
		}
		return nil, fmt.Errorf("get server record %s: %w", id, err)
	}
	if err := unmarshalRecordColumns(rec, variables, configFiles, cargo); err != nil {
		return nil, fmt.Errorf("unmarshal server record %s: %w", id, err)
	}
	return rec, nil
}

func (s *Store) List(ctx context.Context) ([]*record.ServerRecord, error) {
	const query = `
		SELECT id, docker_id, name, image, state, memory_limit, cpu_limit,
		       variables, startup_command, install_image, install_entrypoint,
		       install_script, bind_address, port, config_files, sftp_enabled, cargo, updated_at
		FROM servers ORDER BY id
	`
	rows, err := s.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list server records: %w", err)
	}
	defer rows.Close()

	var out []*record.ServerRecord
	for rows.Next() {
		rec, variables, configFiles, cargo, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan server record: %w", err)
		}
		if err := unmarshalRecordColumns(rec, variables, configFiles, cargo); err != nil {
			return nil, fmt.Errorf("unmarshal server record %s: %w", rec.ID, err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *Store) Update(ctx context.Context, rec *record.ServerRecord) error {
	variables, err := json.Marshal(rec.Variables)
	if err != nil {
		return fmt.Errorf("marshal variables: %w", err)
	}
	configFiles, err := json.Marshal(rec.ConfigFiles)
	if err != nil {
		return fmt.Errorf("marshal config_files: %w", err)
	}
	cargo, err := json.Marshal(rec.Cargo)
	if err != nil {
		return fmt.Errorf("marshal cargo: %w", err)
	}

	const query = `
		UPDATE servers SET
			docker_id=$2, name=$3, image=$4, state=$5, memory_limit=$6, cpu_limit=$7,
			variables=$8, startup_command=$9, install_image=$10, install_entrypoint=$11,
			install_script=$12, bind_address=$13, port=$14, config_files=$15,
			sftp_enabled=$16, cargo=$17, updated_at=now()
		WHERE id=$1
	`
	tag, err := s.db.Exec(ctx, query,
		rec.ID, rec.ContainerID, rec.Name, rec.Image, rec.State,
		rec.MemoryLimitBytes, rec.CPULimitCores, variables, rec.StartupCommand,
		rec.Install.Image, rec.Install.Entrypoint, rec.Install.Script,
		rec.Allocation.BindAddress, rec.Allocation.Port, configFiles, rec.SFTPEnabled, cargo,
	)
	if err != nil {
		return fmt.Errorf("update server record %s: %w", rec.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return argonerr.Newf(argonerr.KindRecordNotFound, "server %s not found", rec.ID)
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, id string) error {
	tag, err := s.db.Exec(ctx, `DELETE FROM servers WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete server record %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return argonerr.Newf(argonerr.KindRecordNotFound, "server %s not found", id)
	}
	return nil
}

// row is satisfied by both pgx.Row (QueryRow) and pgx.Rows (Query).
type row interface {
	Scan(dest...any) error
}

func scanRecord(r row) (*record.ServerRecord, []byte, []byte, []byte, error) {
	rec := &record.ServerRecord{}
	var variables, configFiles, cargo []byte
	err := r.Scan(
		&rec.ID, &rec.ContainerID, &rec.Name, &rec.Image, &rec.State,
		&rec.MemoryLimitBytes, &rec.CPULimitCores, &variables, &rec.StartupCommand,
		&rec.Install.Image, &rec.Install.Entrypoint, &rec.Install.Script,
		&rec.Allocation.BindAddress, &rec.Allocation.Port, &configFiles,
		&rec.SFTPEnabled, &cargo, &rec.UpdatedAt,
	)
	return rec, variables, configFiles, cargo, err
}

func unmarshalRecordColumns(rec *record.ServerRecord, variables, configFiles, cargo []byte) error {
	if err := json.Unmarshal(variables, &rec.Variables); err != nil {
		return fmt.Errorf("variables: %w", err)
	}
	if err := json.Unmarshal(configFiles, &rec.ConfigFiles); err != nil {
		return fmt.Errorf("config_files: %w", err)
	}
	if err := json.Unmarshal(cargo, &rec.Cargo); err != nil {
		return fmt.Errorf("cargo: %w", err)
	}
	return nil
}
