package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"
	"github.com/whatsub/usersvc/internal/model"
)

// usersテーブルのユニーク制約名。マイグレーションSQLと一致させること。
const (
	constraintEmail    = "users_email_key"
	constraintGoogleID = "users_google_id_key"
)

// userColumns はSELECT句で使用するカラムリスト。
const userColumns = `id, email, full_name, primary_phone, google_id, created_at, updated_at`

// PostgresUserRepo はPostgreSQLを使用したユーザーリポジトリ。
type PostgresUserRepo struct {
	db *sql.DB
}

// NewPostgresUserRepo はPostgresUserRepoを生成する。
func NewPostgresUserRepo(db *sql.DB) *PostgresUserRepo {
	return &PostgresUserRepo{db: db}
}

// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
func (r *PostgresUserRepo) FindByID(ctx context.Context, id string) (*model.User, error) {
	return r.findOne(ctx,
		`SELECT `+userColumns+` FROM users WHERE id = $1`, id)
}

// FindByEmail は指定メールアドレスのユーザーを取得する。見つからない場合はnilを返す。
func (r *PostgresUserRepo) FindByEmail(ctx context.Context, email string) (*model.User, error) {
	return r.findOne(ctx,
		`SELECT `+userColumns+` FROM users WHERE email = $1`, email)
}

// FindByGoogleID は指定google_idのユーザーを取得する。見つからない場合はnilを返す。
func (r *PostgresUserRepo) FindByGoogleID(ctx context.Context, googleID string) (*model.User, error) {
	return r.findOne(ctx,
		`SELECT `+userColumns+` FROM users WHERE google_id = $1`, googleID)
}

// List は全ユーザーを作成日時昇順で返す。
func (r *PostgresUserRepo) List(ctx context.Context) ([]*model.User, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+userColumns+` FROM users ORDER BY created_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	defer rows.Close()

	var users []*model.User
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, user)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate users: %w", err)
	}

	return users, nil
}

// Create はユーザーを作成する。
// created_at/updated_atはDB側のdefault now()で設定し、呼び出し元の構造体に書き戻す。
func (r *PostgresUserRepo) Create(ctx context.Context, user *model.User) error {
	err := r.db.QueryRowContext(ctx,
		`INSERT INTO users (id, email, full_name, primary_phone, google_id)
		 VALUES ($1, $2, $3, $4, $5)
		 RETURNING created_at, updated_at`,
		user.ID, user.Email, user.FullName, user.PrimaryPhone, user.GoogleID,
	).Scan(&user.CreatedAt, &user.UpdatedAt)
	if err != nil {
		if dupErr := translateUniqueViolation(err); dupErr != nil {
			return dupErr
		}
		return fmt.Errorf("failed to insert user: %w", err)
	}

	return nil
}

// Update はユーザー情報を更新し、更新後のユーザーを返す。対象が存在しない場合はnilを返す。
func (r *PostgresUserRepo) Update(ctx context.Context, user *model.User) (*model.User, error) {
	row := r.db.QueryRowContext(ctx,
		`UPDATE users
		 SET email = $2, full_name = $3, primary_phone = $4, updated_at = now()
		 WHERE id = $1
		 RETURNING `+userColumns,
		user.ID, user.Email, user.FullName, user.PrimaryPhone)

	updated, err := scanUser(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		if dupErr := translateUniqueViolation(err); dupErr != nil {
			return nil, dupErr
		}
		return nil, fmt.Errorf("failed to update user: %w", err)
	}

	return updated, nil
}

// RefreshProfile はログイン時のプロフィール更新を行う。
// full_nameとupdated_atのみを更新する。emailは変更しない。
func (r *PostgresUserRepo) RefreshProfile(ctx context.Context, id, fullName string) (*model.User, error) {
	row := r.db.QueryRowContext(ctx,
		`UPDATE users
		 SET full_name = $2, updated_at = now()
		 WHERE id = $1
		 RETURNING `+userColumns,
		id, fullName)

	updated, err := scanUser(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to refresh user profile: %w", err)
	}

	return updated, nil
}

// LinkGoogleID は未連携（google_id IS NULL）のユーザーにgoogle_idを連携する。
// WHERE句のgoogle_id IS NULL条件により、連携済みレコードへの上書きを防ぐ。
func (r *PostgresUserRepo) LinkGoogleID(ctx context.Context, id, googleID, fullName string) (*model.User, error) {
	row := r.db.QueryRowContext(ctx,
		`UPDATE users
		 SET google_id = $2, full_name = $3, updated_at = now()
		 WHERE id = $1 AND google_id IS NULL
		 RETURNING `+userColumns,
		id, googleID, fullName)

	updated, err := scanUser(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			// 対象行が存在しないか、既に連携済み。
			// 同時ログインで別リクエストが先に連携した場合もここに到達する。
			return nil, ErrAlreadyLinked
		}
		if dupErr := translateUniqueViolation(err); dupErr != nil {
			return nil, dupErr
		}
		return nil, fmt.Errorf("failed to link google_id: %w", err)
	}

	return updated, nil
}

// DeleteByID は指定IDのユーザーを削除する。対象が存在しない場合はfalseを返す。
func (r *PostgresUserRepo) DeleteByID(ctx context.Context, id string) (bool, error) {
	result, err := r.db.ExecContext(ctx,
		`DELETE FROM users WHERE id = $1`, id)
	if err != nil {
		return false, fmt.Errorf("failed to delete user: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}

	return rowsAffected > 0, nil
}

// findOne は単一行を取得するクエリを実行する。該当行がない場合はnilを返す。
func (r *PostgresUserRepo) findOne(ctx context.Context, query string, args ...any) (*model.User, error) {
	row := r.db.QueryRowContext(ctx, query, args...)

	user, err := scanUser(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to query user: %w", err)
	}

	return user, nil
}

// rowScanner はsql.Rowとsql.Rowsの共通スキャンインターフェース。
type rowScanner interface {
	Scan(dest ...any) error
}

// scanUser は1行分のユーザーデータをスキャンする。
func scanUser(row rowScanner) (*model.User, error) {
	user := &model.User{}
	err := row.Scan(
		&user.ID,
		&user.Email,
		&user.FullName,
		&user.PrimaryPhone,
		&user.GoogleID,
		&user.CreatedAt,
		&user.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return user, nil
}

// translateUniqueViolation はPostgreSQLのunique_violation（23505）を
// 制約名に応じたアプリケーションエラーに変換する。
// ユニーク制約違反以外のエラーの場合はnilを返す。
func translateUniqueViolation(err error) error {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) || pqErr.Code != "23505" {
		return nil
	}

	switch pqErr.Constraint {
	case constraintEmail:
		return ErrDuplicateEmail
	case constraintGoogleID:
		return ErrDuplicateGoogleID
	default:
		return fmt.Errorf("unique constraint violation on %s: %w", pqErr.Constraint, err)
	}
}

// compile-time interface check
var _ UserRepository = (*PostgresUserRepo)(nil)
