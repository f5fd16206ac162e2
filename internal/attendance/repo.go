package attendance

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// Repository persists attendance records in Postgres. The (user_id, day)
// primary key backs the ledger's insert-if-absent primitive; the conditional
// UPDATE backs its check-out primitive.
type Repository struct {
	db *sql.DB
}

// NewRepository creates a repo.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// InsertIfAbsent writes rec unless a record for (user_id, day) already exists.
func (r *Repository) InsertIfAbsent(ctx context.Context, rec Record) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO attendance_records
			(id, user_id, day, check_in_at, check_in_conf, check_in_live, status, method)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (user_id, day) DO NOTHING
	`, rec.ID, rec.UserID, rec.Day, rec.CheckInAt, rec.CheckInConf, rec.CheckInLive, rec.Status, rec.Method)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

// Get returns the record for (user_id, day), nil when absent.
func (r *Repository) Get(ctx context.Context, userID string, day time.Time) (*Record, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, user_id, day, check_in_at, check_in_conf, check_in_live,
		       check_out_at, check_out_conf, check_out_live, status, method
		FROM attendance_records
		WHERE user_id = $1 AND day = $2
	`, userID, day)
	var rec Record
	if err := row.Scan(&rec.ID, &rec.UserID, &rec.Day, &rec.CheckInAt, &rec.CheckInConf,
		&rec.CheckInLive, &rec.CheckOutAt, &rec.CheckOutConf, &rec.CheckOutLive,
		&rec.Status, &rec.Method); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &rec, nil
}

// SetCheckOut sets check-out fields only while check-out is unset.
func (r *Repository) SetCheckOut(ctx context.Context, userID string, day, at time.Time, conf float64, live bool) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE attendance_records
		SET check_out_at = $3, check_out_conf = $4, check_out_live = $5
		WHERE user_id = $1 AND day = $2 AND check_out_at IS NULL
	`, userID, day, at, conf, live)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

// RecordView is a record joined with its employee for listings.
type RecordView struct {
	Record
	Name       string `json:"name"`
	EmployeeID string `json:"employee_id"`
	Department string `json:"department"`
}

// ListRange returns records between two days inclusive, newest first.
// employeeID filters by the public employee id when non-empty.
func (r *Repository) ListRange(ctx context.Context, from, to time.Time, employeeID string) ([]RecordView, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT a.id, a.user_id, a.day, a.check_in_at, a.check_in_conf, a.check_in_live,
		       a.check_out_at, a.check_out_conf, a.check_out_live, a.status, a.method,
		       e.name, e.employee_id, e.department
		FROM attendance_records a
		JOIN employees e ON e.id = a.user_id
		WHERE a.day >= $1 AND a.day <= $2
		  AND ($3 = '' OR e.employee_id = $3)
		ORDER BY a.check_in_at DESC
	`, from, to, employeeID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanViews(rows)
}

// ListDay returns all records for one day.
func (r *Repository) ListDay(ctx context.Context, day time.Time) ([]RecordView, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT a.id, a.user_id, a.day, a.check_in_at, a.check_in_conf, a.check_in_live,
		       a.check_out_at, a.check_out_conf, a.check_out_live, a.status, a.method,
		       e.name, e.employee_id, e.department
		FROM attendance_records a
		JOIN employees e ON e.id = a.user_id
		WHERE a.day = $1
		ORDER BY a.check_in_at
	`, day)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanViews(rows)
}

func scanViews(rows *sql.Rows) ([]RecordView, error) {
	var res []RecordView
	for rows.Next() {
		var v RecordView
		if err := rows.Scan(&v.ID, &v.UserID, &v.Day, &v.CheckInAt, &v.CheckInConf,
			&v.CheckInLive, &v.CheckOutAt, &v.CheckOutConf, &v.CheckOutLive,
			&v.Status, &v.Method, &v.Name, &v.EmployeeID, &v.Department); err != nil {
			return nil, err
		}
		res = append(res, v)
	}
	return res, rows.Err()
}

// DayCount is one point of the daily presence trend.
type DayCount struct {
	Day   time.Time `json:"day"`
	Count int       `json:"count"`
}

// DeptCount is presence per department for one day.
type DeptCount struct {
	Department string `json:"department"`
	Count      int    `json:"count"`
}

// Analytics aggregates presence data for reporting.
type Analytics struct {
	TotalEmployees int         `json:"total_employees"`
	TodayPresent   int         `json:"today_present"`
	TodayAbsent    int         `json:"today_absent"`
	AttendanceRate float64     `json:"attendance_rate"`
	DailyTrend     []DayCount  `json:"daily_trend"`
	Departments    []DeptCount `json:"department_breakdown"`
}

// Analytics computes presence aggregates for day and the preceding trendDays.
func (r *Repository) Analytics(ctx context.Context, day time.Time, trendDays int) (*Analytics, error) {
	var a Analytics
	if err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM employees WHERE active`).Scan(&a.TotalEmployees); err != nil {
		return nil, err
	}
	if err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM attendance_records WHERE day = $1`, day).Scan(&a.TodayPresent); err != nil {
		return nil, err
	}
	a.TodayAbsent = a.TotalEmployees - a.TodayPresent
	if a.TotalEmployees > 0 {
		a.AttendanceRate = float64(a.TodayPresent) / float64(a.TotalEmployees) * 100
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT day, COUNT(*) FROM attendance_records
		WHERE day > $1 - ($2 * interval '1 day') AND day <= $1
		GROUP BY day ORDER BY day
	`, day, trendDays)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var dc DayCount
		if err := rows.Scan(&dc.Day, &dc.Count); err != nil {
			return nil, err
		}
		a.DailyTrend = append(a.DailyTrend, dc)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	deptRows, err := r.db.QueryContext(ctx, `
		SELECT e.department, COUNT(*) FROM attendance_records a
		JOIN employees e ON e.id = a.user_id
		WHERE a.day = $1
		GROUP BY e.department ORDER BY e.department
	`, day)
	if err != nil {
		return nil, err
	}
	defer deptRows.Close()
	for deptRows.Next() {
		var dc DeptCount
		if err := deptRows.Scan(&dc.Department, &dc.Count); err != nil {
			return nil, err
		}
		a.Departments = append(a.Departments, dc)
	}
	return &a, deptRows.Err()
}
