package pgstore

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
)

const schemaDDL = `
create table if not exists accounts (
	account_id  uuid primary key default gen_random_uuid(),
	user_id     text not null,
	credit_type text not null,
	created_at  timestamptz not null default now(),
	unique (user_id, credit_type)
);

create table if not exists credit_transactions (
	transaction_id uuid primary key,
	account_id     uuid not null references accounts(account_id),
	source         text not null,
	amount         bigint not null,
	reference_id   text,
	description    text not null default '',
	metadata       jsonb not null default '{}',
	created_at     timestamptz not null default now()
);

create index if not exists idx_transactions_account_created
	on credit_transactions(account_id, created_at);

create table if not exists holds (
	hold_id      uuid primary key,
	account_id   uuid not null references accounts(account_id),
	amount       bigint not null check (amount > 0),
	reference_id text not null,
	status       text not null,
	expires_at   timestamptz not null,
	created_at   timestamptz not null default now(),
	resolved_at  timestamptz
);

create index if not exists idx_holds_account_status on holds(account_id, status);
create index if not exists idx_holds_status_expires on holds(status, expires_at);
`

// EnsureSchema creates the ledger tables when they do not exist yet.
func EnsureSchema(ctx context.Context, pool *pgxpool.Pool) error {
	_, err := pool.Exec(ctx, schemaDDL)
	return err
}
