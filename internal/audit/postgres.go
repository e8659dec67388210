package audit

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

var _ Store = (*PGStore)(nil)

// PGStore persists the chain in the append-only audit_events table. The
// table carries no update or delete grants; retention is an external
// archival concern.
type PGStore struct {
	db *sql.DB
}

func NewPGStore(db *sql.DB) *PGStore {
	return &PGStore{db: db}
}

func (s *PGStore) Append(ctx context.Context, e *Event) error {
	_, err := s.db.ExecContext(ctx,
		`insert into audit_events(seq, at, identity_id, kind, outcome, remote_addr, detail, prev_hash, hash)
		 values($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
		e.Seq, e.At, nullable(e.IdentityID), string(e.Kind), string(e.Outcome),
		nullable(e.RemoteAddr), nullable(e.Detail), e.PrevHash, e.Hash,
	)
	if err != nil {
		return fmt.Errorf("audit: append: %w", err)
	}
	return nil
}

func (s *PGStore) Last(ctx context.Context) (*Event, error) {
	row := s.db.QueryRowContext(ctx,
		`select seq, at, identity_id, kind, outcome, remote_addr, detail, prev_hash, hash
		 from audit_events order by seq desc limit 1`)
	e, err := scanEvent(row.Scan)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrEmpty
		}
		return nil, err
	}
	return e, nil
}

func (s *PGStore) List(ctx context.Context, fromSeq uint64, limit int) ([]Event, error) {
	rows, err := s.db.QueryContext(ctx,
		`select seq, at, identity_id, kind, outcome, remote_addr, detail, prev_hash, hash
		 from audit_events where seq > $1 order by seq asc limit $2`, fromSeq, limit)
	if err != nil {
		return nil, fmt.Errorf("audit: list: %w", err)
	}
	defer rows.Close()

	var out []Event
	for rows.Next() {
		e, err := scanEvent(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, *e)
	}
	return out, rows.Err()
}

func scanEvent(scan func(...any) error) (*Event, error) {
	var (
		e                        Event
		identityID, addr, detail sql.NullString
		kind, outcome            string
	)
	if err := scan(&e.Seq, &e.At, &identityID, &kind, &outcome, &addr, &detail, &e.PrevHash, &e.Hash); err != nil {
		return nil, err
	}
	e.IdentityID = identityID.String
	e.Kind = Kind(kind)
	e.Outcome = Outcome(outcome)
	e.RemoteAddr = addr.String
	e.Detail = detail.String
	return &e, nil
}

func nullable(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
