package domain

import "time"

// InventoryItem is a physical stock record. A quantity of 1 marks a unique
// piece sold by weight; quantity > 1 marks a fungible batch where Weight is
// the nominal total for the batch. Quantity 0 means sold out but retained
// for history.
type InventoryItem struct {
	ID            string    `json:"id"`
	Name          string    `json:"name"`
	Category      string    `json:"category"`
	SerialNo      string    `json:"serial_no"`
	Weight        float64   `json:"weight"`
	Purity        string    `json:"purity"`
	Quantity      int       `json:"quantity"`
	DistributorID string    `json:"distributor_id,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

type InventoryCreateRequest struct {
	Name          string  `json:"name"`
	Category      string  `json:"category"`
	Weight        float64 `json:"weight"`
	Purity        string  `json:"purity"`
	Quantity      int     `json:"quantity"`
	DistributorID string  `json:"distributor_id,omitempty"`
}

type InventoryUpdateRequest struct {
	Name     *string  `json:"name,omitempty"`
	Weight   *float64 `json:"weight,omitempty"`
	Purity   *string  `json:"purity,omitempty"`
	Quantity *int     `json:"quantity,omitempty"`
}

// Customer carries provenance (CreatedBy), never a stored balance. The
// pending balance is always derived from the bill list.
type Customer struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Phone     string    `json:"phone"`
	DOB       string    `json:"dob,omitempty"`
	CreatedBy string    `json:"created_by"`
	CreatedAt time.Time `json:"created_at"`
}

type CustomerCreateRequest struct {
	Name  string `json:"name"`
	Phone string `json:"phone"`
	DOB   string `json:"dob,omitempty"`
}

type CustomerBalance struct {
	CustomerID     string  `json:"customer_id"`
	CustomerName   string  `json:"customer_name"`
	PendingBalance float64 `json:"pending_balance"`
}

// BillItem snapshots the sold item at sale time; later inventory mutation
// never changes it.
type BillItem struct {
	ItemID   string  `json:"item_id"`
	Name     string  `json:"name"`
	Weight   float64 `json:"weight"`
	Price    float64 `json:"price"`
	Quantity int     `json:"quantity"`
}

// Bill is immutable after creation except AmountPaid, which only increases.
// Invariant: GrandTotal = FinalAmount + MakingChargeAmount + WastageAmount
// - BargainedAmount.
type Bill struct {
	ID                     string     `json:"id"`
	CustomerID             string     `json:"customer_id"`
	CustomerName           string     `json:"customer_name"`
	Type                   string     `json:"type"`
	Date                   time.Time  `json:"date"`
	Items                  []BillItem `json:"items"`
	TotalAmount            float64    `json:"total_amount"`
	LessWeightAmount       float64    `json:"less_weight_amount"`
	FinalAmount            float64    `json:"final_amount"`
	MakingChargePercentage float64    `json:"making_charge_percentage"`
	MakingChargeAmount     float64    `json:"making_charge_amount"`
	WastagePercentage      float64    `json:"wastage_percentage"`
	WastageAmount          float64    `json:"wastage_amount"`
	BargainedAmount        float64    `json:"bargained_amount"`
	GrandTotal             float64    `json:"grand_total"`
	AmountPaid             float64    `json:"amount_paid"`
	CreatedBy              string     `json:"created_by"`
}

type BillCreateRequest struct {
	CustomerID             string     `json:"customer_id"`
	Type                   string     `json:"type"`
	Items                  []BillItem `json:"items"`
	LessWeightAmount       float64    `json:"less_weight_amount"`
	MakingChargePercentage float64    `json:"making_charge_percentage"`
	WastagePercentage      float64    `json:"wastage_percentage"`
	BargainedAmount        float64    `json:"bargained_amount"`
	AmountPaid             float64    `json:"amount_paid"`
}

// BillCreateResponse returns the created bill plus any per-line allocation
// warnings. A non-empty warning list still means the bill was created.
type BillCreateResponse struct {
	Bill     Bill     `json:"bill"`
	Warnings []string `json:"warnings,omitempty"`
}

type PaymentRequest struct {
	CustomerID string  `json:"customer_id"`
	Amount     float64 `json:"amount"`
}

type PaymentResponse struct {
	CustomerID     string  `json:"customer_id"`
	AmountApplied  float64 `json:"amount_applied"`
	BillsTouched   int     `json:"bills_touched"`
	PendingBalance float64 `json:"pending_balance"`
}

type BillPaymentRequest struct {
	Amount float64 `json:"amount"`
}

type StaffMember struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type Distributor struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Phone string `json:"phone,omitempty"`
}

type AdminProfile struct {
	Name     string `json:"name"`
	ShopName string `json:"shop_name"`
	Phone    string `json:"phone,omitempty"`
}

type SnapshotMetadata struct {
	LastUpdated time.Time `json:"lastUpdated"`
}

// Dataset is one device's complete replica. The admin copy is canonical;
// staff copies are disposable working copies.
type Dataset struct {
	Inventory    []InventoryItem  `json:"inventory"`
	Customers    []Customer       `json:"customers"`
	Bills        []Bill           `json:"bills"`
	Staff        []StaffMember    `json:"staff"`
	Distributors []Distributor    `json:"distributors"`
	AdminProfile AdminProfile     `json:"adminProfile"`
	Metadata     SnapshotMetadata `json:"_metadata"`
}

// StaffChangeSet accumulates everything a staff device created since its
// last successful hand-off to the admin.
type StaffChangeSet struct {
	Customers []Customer `json:"customers"`
	Bills     []Bill     `json:"bills"`
}

func (c StaffChangeSet) Count() int {
	return len(c.Customers) + len(c.Bills)
}

type SyncRequest struct {
	ID           string    `json:"id"`
	StaffID      string    `json:"staff_id"`
	StaffName    string    `json:"staff_name"`
	ChangesCount int       `json:"changes_count"`
	DataPayload  string    `json:"data_payload"`
	Status       string    `json:"status"`
	CreatedAt    time.Time `json:"created_at"`
}

type SyncSubmitRequest struct {
	Payload      string `json:"payload"`
	StaffID      string `json:"staff_id"`
	StaffName    string `json:"staff_name"`
	ChangesCount int    `json:"changes_count"`
}

type SyncResolveRequest struct {
	Action string `json:"action"`
}

type MergeReport struct {
	CustomersAdded int      `json:"customers_added"`
	BillsAdded     int      `json:"bills_added"`
	Warnings       []string `json:"warnings,omitempty"`
}

type SyncResolveResponse struct {
	Request SyncRequest  `json:"request"`
	Report  *MergeReport `json:"report,omitempty"`
}

type ExportChangesResponse struct {
	Payload      string `json:"payload"`
	ChangesCount int    `json:"changes_count"`
}

type SnapshotAdoptRequest struct {
	Dataset Dataset `json:"dataset"`
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginResponse struct {
	AccessToken string `json:"access_token"`
	Role        string `json:"role"`
	ExpiresAt   string `json:"expires_at"`
}

type Actor struct {
	Username string
	Role     string
}

type StaffAccountCreateRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type StaffAccountUser struct {
	Username  string    `json:"username"`
	Role      string    `json:"role"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}

// UserAccount is an internal persistence model for auth credentials.
type UserAccount struct {
	Username  string
	Password  string
	Role      string
	Active    bool
	CreatedAt time.Time
}

const (
	BillTypeEstimate = "ESTIMATE"
	BillTypeInvoice  = "INVOICE"
)

const (
	SyncStatusPending  = "pending"
	SyncStatusMerged   = "merged"
	SyncStatusRejected = "rejected"
)

const (
	RoleAdmin = "admin"
	RoleStaff = "staff"
)

const (
	SyncActionMerge  = "merge"
	SyncActionReject = "reject"
)
