package postgres

import (
	"context"
	"database/sql"

	svcerrors "github.com/blockjoy/controlplane/infrastructure/errors"
	"github.com/blockjoy/controlplane/internal/domain"
	"github.com/blockjoy/controlplane/internal/ids"
	"github.com/blockjoy/controlplane/internal/outbox"
)

func (s *Store) InsertCommand(ctx context.Context, w *outbox.WriteConn, cmd domain.Command) (domain.Command, error) {
	_, err := w.Tx.ExecContext(ctx,
		`INSERT INTO commands (id, host_id, node_id, kind, sub_command, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		cmd.ID, cmd.HostID, cmd.NodeID, cmd.Kind, cmd.SubCommand, cmd.CreatedAt)
	if err != nil {
		return domain.Command{}, svcerrors.DatabaseError("insert command", err)
	}
	return cmd, nil
}

func (s *Store) PendingCommands(ctx context.Context, hostID ids.HostID) ([]domain.Command, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, host_id, node_id, kind, sub_command, created_at, acked_at, completed_at, exit_code, exit_message, retry_hint_seconds
		 FROM commands WHERE host_id = $1 AND acked_at IS NULL ORDER BY created_at ASC`, hostID)
	if err != nil {
		return nil, svcerrors.DatabaseError("pending commands", err)
	}
	defer rows.Close()

	var out []domain.Command
	for rows.Next() {
		cmd, err := scanCommand(rows)
		if err != nil {
			return nil, svcerrors.DatabaseError("scan command", err)
		}
		out = append(out, cmd)
	}
	return out, rows.Err()
}

func (s *Store) AckCommand(ctx context.Context, cmdID ids.CommandID, exitCode domain.CommandExitCode, exitMessage string, retryHintSeconds *int) (domain.Command, error) {
	row := s.db.QueryRowContext(ctx,
		`UPDATE commands SET acked_at = now(), completed_at = now(), exit_code = $2, exit_message = $3, retry_hint_seconds = $4
		 WHERE id = $1
		 RETURNING id, host_id, node_id, kind, sub_command, created_at, acked_at, completed_at, exit_code, exit_message, retry_hint_seconds`,
		cmdID, exitCode, exitMessage, retryHintSeconds)
	cmd, err := scanCommand(row)
	if err == sql.ErrNoRows {
		return domain.Command{}, svcerrors.NotFound("command", cmdID.String())
	}
	if err != nil {
		return domain.Command{}, svcerrors.DatabaseError("ack command", err)
	}
	return cmd, nil
}

func (s *Store) DeletePendingForNode(ctx context.Context, w *outbox.WriteConn, nodeID ids.NodeID) error {
	_, err := w.Tx.ExecContext(ctx,
		`DELETE FROM commands WHERE node_id = $1 AND acked_at IS NULL`, nodeID)
	if err != nil {
		return svcerrors.DatabaseError("delete pending commands for node", err)
	}
	return nil
}

func (s *Store) GetCommand(ctx context.Context, cmdID ids.CommandID) (domain.Command, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, host_id, node_id, kind, sub_command, created_at, acked_at, completed_at, exit_code, exit_message, retry_hint_seconds
		 FROM commands WHERE id = $1`, cmdID)
	cmd, err := scanCommand(row)
	if err == sql.ErrNoRows {
		return domain.Command{}, svcerrors.NotFound("command", cmdID.String())
	}
	if err != nil {
		return domain.Command{}, svcerrors.DatabaseError("get command", err)
	}
	return cmd, nil
}

// scanner is satisfied by both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanCommand(row scanner) (domain.Command, error) {
	var cmd domain.Command
	var nodeID sql.NullString
	var ackedAt, completedAt sql.NullTime
	var exitCode sql.NullString
	var retryHint sql.NullInt64
	err := row.Scan(&cmd.ID, &cmd.HostID, &nodeID, &cmd.Kind, &cmd.SubCommand, &cmd.CreatedAt,
		&ackedAt, &completedAt, &exitCode, &cmd.ExitMessage, &retryHint)
	if err != nil {
		return domain.Command{}, err
	}
	if nodeID.Valid {
		id, err := ids.ParseNodeID(nodeID.String)
		if err != nil {
			return domain.Command{}, err
		}
		cmd.NodeID = &id
	}
	if ackedAt.Valid {
		cmd.AckedAt = &ackedAt.Time
	}
	if completedAt.Valid {
		cmd.CompletedAt = &completedAt.Time
	}
	if exitCode.Valid {
		code := domain.CommandExitCode(exitCode.String)
		cmd.ExitCode = &code
	}
	if retryHint.Valid {
		seconds := int(retryHint.Int64)
		cmd.RetryHintSeconds = &seconds
	}
	return cmd, nil
}
