package employee

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pgvector/pgvector-go"
)

var (
	ErrNotFound        = errors.New("employee not found")
	ErrDuplicateID     = errors.New("employee id already exists")
	ErrAlreadyEnrolled = errors.New("employee already has a face profile")
)

// Employee is a registered person that can be matched and marked.
type Employee struct {
	ID         string     `json:"id"`
	EmployeeID string     `json:"employee_id"`
	Name       string     `json:"name"`
	Department string     `json:"department"`
	Active     bool       `json:"active"`
	Enrolled   bool       `json:"enrolled"`
	Thumbnail  string     `json:"thumbnail,omitempty"`
	EnrolledAt *time.Time `json:"enrolled_at,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
}

// Profile is an enrolled face: one per employee, immutable after enrollment.
type Profile struct {
	UserID    string
	Name      string
	Embedding []float32
	Quality   float64
	Thumbnail string
}

// Repository persists employees and face profiles in Postgres.
type Repository struct {
	db *sql.DB
}

// NewRepository creates a repo.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// Create inserts a new employee.
func (r *Repository) Create(ctx context.Context, e *Employee) error {
	if e.EmployeeID == "" || e.Name == "" {
		return errors.New("employee id and name required")
	}
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.Department == "" {
		e.Department = "General"
	}
	e.Active = true
	row := r.db.QueryRowContext(ctx, `
		INSERT INTO employees (id, employee_id, name, department, active)
		VALUES ($1, $2, $3, $4, TRUE)
		RETURNING created_at
	`, e.ID, e.EmployeeID, e.Name, e.Department)
	if err := row.Scan(&e.CreatedAt); err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicateID
		}
		return err
	}
	return nil
}

// GetByID returns a single employee by internal id, nil when absent.
func (r *Repository) GetByID(ctx context.Context, id string) (*Employee, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT e.id, e.employee_id, e.name, e.department, e.active,
		       p.user_id IS NOT NULL, COALESCE(p.thumbnail, ''), p.enrolled_at, e.created_at
		FROM employees e
		LEFT JOIN face_profiles p ON p.user_id = e.id
		WHERE e.id = $1
	`, id)
	var e Employee
	if err := row.Scan(&e.ID, &e.EmployeeID, &e.Name, &e.Department, &e.Active,
		&e.Enrolled, &e.Thumbnail, &e.EnrolledAt, &e.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &e, nil
}

// List returns all employees without embedding payloads.
func (r *Repository) List(ctx context.Context) ([]Employee, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT e.id, e.employee_id, e.name, e.department, e.active,
		       p.user_id IS NOT NULL, COALESCE(p.thumbnail, ''), p.enrolled_at, e.created_at
		FROM employees e
		LEFT JOIN face_profiles p ON p.user_id = e.id
		ORDER BY e.employee_id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var res []Employee
	for rows.Next() {
		var e Employee
		if err := rows.Scan(&e.ID, &e.EmployeeID, &e.Name, &e.Department, &e.Active,
			&e.Enrolled, &e.Thumbnail, &e.EnrolledAt, &e.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, e)
	}
	return res, rows.Err()
}

// Delete removes an employee; profiles and attendance cascade.
func (r *Repository) Delete(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM employees WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// SaveProfile stores the face profile produced at enrollment. The primary key
// on user_id makes a second enrollment fail rather than overwrite.
func (r *Repository) SaveProfile(ctx context.Context, p Profile) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO face_profiles (user_id, embedding, quality, thumbnail)
		VALUES ($1, $2, $3, $4)
	`, p.UserID, pgvector.NewVector(p.Embedding), p.Quality, p.Thumbnail)
	if err != nil && isUniqueViolation(err) {
		return ErrAlreadyEnrolled
	}
	return err
}

// ActiveProfiles loads embeddings for all active, enrolled employees.
// excludeUserID skips one employee (used when checking duplicates at enrollment).
func (r *Repository) ActiveProfiles(ctx context.Context, excludeUserID string) ([]Profile, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT p.user_id, e.name, p.embedding, p.quality
		FROM face_profiles p
		JOIN employees e ON e.id = p.user_id
		WHERE e.active AND ($1 = '' OR p.user_id <> $1::uuid)
	`, excludeUserID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var res []Profile
	for rows.Next() {
		var p Profile
		var vec pgvector.Vector
		if err := rows.Scan(&p.UserID, &p.Name, &vec, &p.Quality); err != nil {
			return nil, err
		}
		p.Embedding = vec.Slice()
		res = append(res, p)
	}
	return res, rows.Err()
}

// isUniqueViolation matches Postgres unique constraint errors (SQLSTATE 23505).
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
