package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"swarnapos/backend/internal/domain"
	"swarnapos/backend/internal/store"
)

// Store is the durable Repository for the admin device. Bill items are
// stored as jsonb because they are frozen sale-time snapshots and never
// queried individually. The dataset_meta row carries the snapshot
// timestamp that guards against stale replacements.
type Store struct {
	db *sql.DB
}

func New(ctx context.Context, databaseURL string) (*Store, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, err
	}

	db.SetMaxIdleConns(8)
	db.SetMaxOpenConns(30)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) LoadDataset(ctx context.Context) (domain.Dataset, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelRepeatableRead, ReadOnly: true})
	if err != nil {
		return domain.Dataset{}, err
	}
	defer func() { _ = tx.Rollback() }()

	dataset := domain.Dataset{}

	dataset.Inventory, err = listInventoryTx(ctx, tx)
	if err != nil {
		return domain.Dataset{}, err
	}
	dataset.Customers, err = listCustomersTx(ctx, tx)
	if err != nil {
		return domain.Dataset{}, err
	}
	dataset.Bills, err = listBillsTx(ctx, tx)
	if err != nil {
		return domain.Dataset{}, err
	}

	rows, err := tx.QueryContext(ctx, `SELECT id, name FROM staff_members ORDER BY id`)
	if err != nil {
		return domain.Dataset{}, err
	}
	defer rows.Close()
	for rows.Next() {
		var member domain.StaffMember
		if err := rows.Scan(&member.ID, &member.Name); err != nil {
			return domain.Dataset{}, err
		}
		dataset.Staff = append(dataset.Staff, member)
	}
	if err := rows.Err(); err != nil {
		return domain.Dataset{}, err
	}

	distRows, err := tx.QueryContext(ctx, `SELECT id, name, COALESCE(phone, '') FROM distributors ORDER BY id`)
	if err != nil {
		return domain.Dataset{}, err
	}
	defer distRows.Close()
	for distRows.Next() {
		var dist domain.Distributor
		if err := distRows.Scan(&dist.ID, &dist.Name, &dist.Phone); err != nil {
			return domain.Dataset{}, err
		}
		dataset.Distributors = append(dataset.Distributors, dist)
	}
	if err := distRows.Err(); err != nil {
		return domain.Dataset{}, err
	}

	err = tx.QueryRowContext(ctx, `
		SELECT name, shop_name, COALESCE(phone, '')
		FROM admin_profile
		WHERE id = 1
	`).Scan(&dataset.AdminProfile.Name, &dataset.AdminProfile.ShopName, &dataset.AdminProfile.Phone)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return domain.Dataset{}, err
	}

	var lastUpdated time.Time
	err = tx.QueryRowContext(ctx, `SELECT last_updated FROM dataset_meta WHERE id = 1`).Scan(&lastUpdated)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return domain.Dataset{}, err
	}
	dataset.Metadata.LastUpdated = lastUpdated.UTC()

	if err := tx.Commit(); err != nil {
		return domain.Dataset{}, err
	}
	return dataset, nil
}

func (s *Store) ReplaceDataset(ctx context.Context, dataset domain.Dataset) error {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	var current time.Time
	err = tx.QueryRowContext(ctx, `SELECT last_updated FROM dataset_meta WHERE id = 1 FOR UPDATE`).Scan(&current)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return err
	}
	if !dataset.Metadata.LastUpdated.After(current) {
		return store.ErrStaleSnapshot
	}

	for _, table := range []string{"inventory_items", "customers", "bills", "staff_members", "distributors"} {
		if _, err := tx.ExecContext(ctx, `DELETE FROM `+table); err != nil {
			return err
		}
	}

	for _, item := range dataset.Inventory {
		if err := insertInventoryTx(ctx, tx, item); err != nil {
			return err
		}
	}
	for _, customer := range dataset.Customers {
		if err := insertCustomerTx(ctx, tx, customer); err != nil {
			return err
		}
	}
	for _, bill := range dataset.Bills {
		if err := insertBillTx(ctx, tx, bill); err != nil {
			return err
		}
	}
	for _, member := range dataset.Staff {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO staff_members (id, name) VALUES ($1,$2)
		`, member.ID, member.Name); err != nil {
			return err
		}
	}
	for _, dist := range dataset.Distributors {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO distributors (id, name, phone) VALUES ($1,$2,$3)
		`, dist.ID, dist.Name, dist.Phone); err != nil {
			return err
		}
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO admin_profile (id, name, shop_name, phone)
		VALUES (1,$1,$2,$3)
		ON CONFLICT (id)
		DO UPDATE SET name = EXCLUDED.name, shop_name = EXCLUDED.shop_name, phone = EXCLUDED.phone
	`, dataset.AdminProfile.Name, dataset.AdminProfile.ShopName, dataset.AdminProfile.Phone)
	if err != nil {
		return err
	}

	if err := setLastUpdatedTx(ctx, tx, dataset.Metadata.LastUpdated.UTC()); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *Store) ListInventory(ctx context.Context) ([]domain.InventoryItem, error) {
	return listInventoryTx(ctx, s.db)
}

func (s *Store) CreateInventoryItem(ctx context.Context, item domain.InventoryItem) (*domain.InventoryItem, error) {
	if item.ID == "" || item.Name == "" || item.Category == "" || item.SerialNo == "" {
		return nil, store.ErrInvalidRequest
	}
	if item.Weight < 0 || item.Quantity < 0 {
		return nil, store.ErrInvalidRequest
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	if err := insertInventoryTx(ctx, tx, item); err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrInvalidRequest
		}
		return nil, err
	}
	if err := setLastUpdatedTx(ctx, tx, time.Now().UTC()); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	created := item
	return &created, nil
}

func (s *Store) UpdateInventoryItem(ctx context.Context, item domain.InventoryItem) (*domain.InventoryItem, error) {
	if item.Weight < 0 || item.Quantity < 0 {
		return nil, store.ErrInvalidRequest
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	result, err := tx.ExecContext(ctx, `
		UPDATE inventory_items
		SET name = $2, category = $3, serial_no = $4, weight = $5, purity = $6,
			quantity = $7, distributor_id = $8
		WHERE id = $1
	`, item.ID, item.Name, item.Category, item.SerialNo, item.Weight, item.Purity, item.Quantity, item.DistributorID)
	if err != nil {
		return nil, err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return nil, err
	}
	if affected == 0 {
		return nil, store.ErrNotFound
	}
	if err := setLastUpdatedTx(ctx, tx, time.Now().UTC()); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	updated := item
	return &updated, nil
}

func (s *Store) DeleteInventoryItem(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	result, err := tx.ExecContext(ctx, `DELETE FROM inventory_items WHERE id = $1`, id)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	if err := setLastUpdatedTx(ctx, tx, time.Now().UTC()); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *Store) ListCustomers(ctx context.Context) ([]domain.Customer, error) {
	return listCustomersTx(ctx, s.db)
}

func (s *Store) CreateCustomer(ctx context.Context, customer domain.Customer) (*domain.Customer, error) {
	if customer.ID == "" || customer.Name == "" {
		return nil, store.ErrInvalidRequest
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	if err := insertCustomerTx(ctx, tx, customer); err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrInvalidRequest
		}
		return nil, err
	}
	if err := setLastUpdatedTx(ctx, tx, time.Now().UTC()); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	created := customer
	return &created, nil
}

func (s *Store) ListBills(ctx context.Context) ([]domain.Bill, error) {
	return listBillsTx(ctx, s.db)
}

func (s *Store) ApplyBill(ctx context.Context, bill domain.Bill, inventory []domain.InventoryItem) (*domain.Bill, error) {
	if bill.ID == "" || len(bill.Items) == 0 {
		return nil, store.ErrInvalidRequest
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	if err := insertBillTx(ctx, tx, bill); err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrInvalidRequest
		}
		return nil, err
	}

	if inventory != nil {
		if _, err := tx.ExecContext(ctx, `DELETE FROM inventory_items`); err != nil {
			return nil, err
		}
		for _, item := range inventory {
			if err := insertInventoryTx(ctx, tx, item); err != nil {
				return nil, err
			}
		}
	}

	if err := setLastUpdatedTx(ctx, tx, time.Now().UTC()); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	created := bill
	return &created, nil
}

func (s *Store) UpdateBillPayments(ctx context.Context, bills []domain.Bill) error {
	if len(bills) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	for _, bill := range bills {
		result, err := tx.ExecContext(ctx, `
			UPDATE bills SET amount_paid = $2 WHERE id = $1
		`, bill.ID, bill.AmountPaid)
		if err != nil {
			return err
		}
		affected, err := result.RowsAffected()
		if err != nil {
			return err
		}
		if affected == 0 {
			return store.ErrNotFound
		}
	}

	if err := setLastUpdatedTx(ctx, tx, time.Now().UTC()); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *Store) CreateSyncRequest(ctx context.Context, request domain.SyncRequest) (*domain.SyncRequest, error) {
	if request.ID == "" || request.DataPayload == "" {
		return nil, store.ErrInvalidRequest
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sync_requests (id, staff_id, staff_name, changes_count, data_payload, status, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
	`, request.ID, request.StaffID, request.StaffName, request.ChangesCount, request.DataPayload, request.Status, request.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrInvalidRequest
		}
		return nil, err
	}
	created := request
	return &created, nil
}

func (s *Store) ListSyncRequests(ctx context.Context, status string) ([]domain.SyncRequest, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, staff_id, staff_name, changes_count, data_payload, status, created_at
		FROM sync_requests
		WHERE ($1 = '' OR status = $1)
		ORDER BY created_at ASC, id ASC
	`, status)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	requests := make([]domain.SyncRequest, 0, 16)
	for rows.Next() {
		var request domain.SyncRequest
		if err := rows.Scan(&request.ID, &request.StaffID, &request.StaffName, &request.ChangesCount, &request.DataPayload, &request.Status, &request.CreatedAt); err != nil {
			return nil, err
		}
		request.CreatedAt = request.CreatedAt.UTC()
		requests = append(requests, request)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return requests, nil
}

func (s *Store) GetSyncRequest(ctx context.Context, id string) (*domain.SyncRequest, error) {
	var request domain.SyncRequest
	err := s.db.QueryRowContext(ctx, `
		SELECT id, staff_id, staff_name, changes_count, data_payload, status, created_at
		FROM sync_requests
		WHERE id = $1
	`, id).Scan(&request.ID, &request.StaffID, &request.StaffName, &request.ChangesCount, &request.DataPayload, &request.Status, &request.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	request.CreatedAt = request.CreatedAt.UTC()
	return &request, nil
}

func (s *Store) ResolveSyncRequestStatus(ctx context.Context, id string, status string) (*domain.SyncRequest, error) {
	if status != domain.SyncStatusMerged && status != domain.SyncStatusRejected {
		return nil, store.ErrInvalidRequest
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	var request domain.SyncRequest
	err = tx.QueryRowContext(ctx, `
		SELECT id, staff_id, staff_name, changes_count, data_payload, status, created_at
		FROM sync_requests
		WHERE id = $1
		FOR UPDATE
	`, id).Scan(&request.ID, &request.StaffID, &request.StaffName, &request.ChangesCount, &request.DataPayload, &request.Status, &request.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if request.Status != domain.SyncStatusPending {
		return nil, store.ErrAlreadyResolved
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE sync_requests SET status = $2 WHERE id = $1
	`, id, status); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}

	request.Status = status
	request.CreatedAt = request.CreatedAt.UTC()
	return &request, nil
}

func (s *Store) CreateUser(ctx context.Context, user domain.UserAccount) error {
	if user.Username == "" {
		return store.ErrInvalidRequest
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (username, password, role, active, created_at)
		VALUES ($1,$2,$3,$4,$5)
	`, user.Username, user.Password, user.Role, user.Active, user.CreatedAt)
	if isUniqueViolation(err) {
		return store.ErrInvalidRequest
	}
	return err
}

func (s *Store) ListUsers(ctx context.Context) ([]domain.UserAccount, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT username, password, role, active, created_at
		FROM users
		ORDER BY username
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	users := make([]domain.UserAccount, 0, 8)
	for rows.Next() {
		var user domain.UserAccount
		if err := rows.Scan(&user.Username, &user.Password, &user.Role, &user.Active, &user.CreatedAt); err != nil {
			return nil, err
		}
		user.CreatedAt = user.CreatedAt.UTC()
		users = append(users, user)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return users, nil
}

func (s *Store) UpdateUserPassword(ctx context.Context, username string, password string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE users SET password = $2 WHERE username = $1
	`, username, password)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

// querier is satisfied by both *sql.DB and *sql.Tx so the list helpers can
// serve single queries and the dataset transaction alike.
type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

type executor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func listInventoryTx(ctx context.Context, q querier) ([]domain.InventoryItem, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT id, name, category, serial_no, weight, purity, quantity,
			COALESCE(distributor_id, ''), created_at
		FROM inventory_items
		ORDER BY category, serial_no
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := make([]domain.InventoryItem, 0, 64)
	for rows.Next() {
		var item domain.InventoryItem
		if err := rows.Scan(&item.ID, &item.Name, &item.Category, &item.SerialNo, &item.Weight, &item.Purity, &item.Quantity, &item.DistributorID, &item.CreatedAt); err != nil {
			return nil, err
		}
		item.CreatedAt = item.CreatedAt.UTC()
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

func listCustomersTx(ctx context.Context, q querier) ([]domain.Customer, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT id, name, COALESCE(phone, ''), COALESCE(dob, ''), created_by, created_at
		FROM customers
		ORDER BY id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	customers := make([]domain.Customer, 0, 64)
	for rows.Next() {
		var customer domain.Customer
		if err := rows.Scan(&customer.ID, &customer.Name, &customer.Phone, &customer.DOB, &customer.CreatedBy, &customer.CreatedAt); err != nil {
			return nil, err
		}
		customer.CreatedAt = customer.CreatedAt.UTC()
		customers = append(customers, customer)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return customers, nil
}

func listBillsTx(ctx context.Context, q querier) ([]domain.Bill, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT id, customer_id, customer_name, bill_type, bill_date, items,
			total_amount, less_weight_amount, final_amount,
			making_charge_percentage, making_charge_amount,
			wastage_percentage, wastage_amount, bargained_amount,
			grand_total, amount_paid, created_by
		FROM bills
		ORDER BY bill_date DESC, id DESC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	bills := make([]domain.Bill, 0, 64)
	for rows.Next() {
		var bill domain.Bill
		var itemsJSON []byte
		if err := rows.Scan(&bill.ID, &bill.CustomerID, &bill.CustomerName, &bill.Type, &bill.Date, &itemsJSON,
			&bill.TotalAmount, &bill.LessWeightAmount, &bill.FinalAmount,
			&bill.MakingChargePercentage, &bill.MakingChargeAmount,
			&bill.WastagePercentage, &bill.WastageAmount, &bill.BargainedAmount,
			&bill.GrandTotal, &bill.AmountPaid, &bill.CreatedBy); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(itemsJSON, &bill.Items); err != nil {
			return nil, err
		}
		bill.Date = bill.Date.UTC()
		bills = append(bills, bill)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return bills, nil
}

func insertInventoryTx(ctx context.Context, e executor, item domain.InventoryItem) error {
	_, err := e.ExecContext(ctx, `
		INSERT INTO inventory_items (id, name, category, serial_no, weight, purity, quantity, distributor_id, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
	`, item.ID, item.Name, item.Category, item.SerialNo, item.Weight, item.Purity, item.Quantity, item.DistributorID, item.CreatedAt)
	return err
}

func insertCustomerTx(ctx context.Context, e executor, customer domain.Customer) error {
	_, err := e.ExecContext(ctx, `
		INSERT INTO customers (id, name, phone, dob, created_by, created_at)
		VALUES ($1,$2,$3,$4,$5,$6)
	`, customer.ID, customer.Name, customer.Phone, customer.DOB, customer.CreatedBy, customer.CreatedAt)
	return err
}

func insertBillTx(ctx context.Context, e executor, bill domain.Bill) error {
	itemsJSON, err := json.Marshal(bill.Items)
	if err != nil {
		return err
	}
	_, err = e.ExecContext(ctx, `
		INSERT INTO bills (
			id, customer_id, customer_name, bill_type, bill_date, items,
			total_amount, less_weight_amount, final_amount,
			making_charge_percentage, making_charge_amount,
			wastage_percentage, wastage_amount, bargained_amount,
			grand_total, amount_paid, created_by
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17)
	`, bill.ID, bill.CustomerID, bill.CustomerName, bill.Type, bill.Date, itemsJSON,
		bill.TotalAmount, bill.LessWeightAmount, bill.FinalAmount,
		bill.MakingChargePercentage, bill.MakingChargeAmount,
		bill.WastagePercentage, bill.WastageAmount, bill.BargainedAmount,
		bill.GrandTotal, bill.AmountPaid, bill.CreatedBy)
	return err
}

func setLastUpdatedTx(ctx context.Context, e executor, ts time.Time) error {
	_, err := e.ExecContext(ctx, `
		INSERT INTO dataset_meta (id, last_updated)
		VALUES (1,$1)
		ON CONFLICT (id)
		DO UPDATE SET last_updated = EXCLUDED.last_updated
	`, ts)
	return err
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}
