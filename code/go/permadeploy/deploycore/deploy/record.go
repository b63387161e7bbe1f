package deploy

import (
	"context"
	"time"

	"github.com/permadeploy/deployer/code/go/permadeploy/deploycore/datastore"
	"github.com/permadeploy/deployer/code/go/permadeploy/deploycore/funding"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const TableNameDeployment = "deployments"

const (
	StatusComplete  = "complete"
	StatusPartial   = "partial"
	StatusFailed    = "failed"
	StatusCancelled = "cancelled"
)

// Deployment is the history row written once per Deploy call, whatever its outcome.
type Deployment struct {
	ID            string         `gorm:"column:id;size:32;primaryKey" json:"id"`
	ManifestID    string         `gorm:"column:manifest_id;size:64" json:"manifest_id"`
	Owner         string         `gorm:"column:owner;size:128" json:"owner"`
	Token         string         `gorm:"column:token;size:32" json:"token"`
	TotalFiles    int            `gorm:"column:total_files" json:"total_files"`
	CachedFiles   int            `gorm:"column:cached_files" json:"cached_files"`
	UploadedFiles int            `gorm:"column:uploaded_files" json:"uploaded_files"`
	FailedFiles   int            `gorm:"column:failed_files" json:"failed_files"`
	TotalBytes    int64          `gorm:"column:total_bytes" json:"total_bytes"`
	BillableBytes int64          `gorm:"column:billable_bytes" json:"billable_bytes"`
	Status        string         `gorm:"column:status;size:32" json:"status"`
	Receipt       datatypes.JSON `gorm:"column:receipt" json:"receipt"`
	CreatedAt     time.Time      `gorm:"column:created_at" json:"created_at"`
}

func (Deployment) TableName() string {
	return TableNameDeployment
}

// Receipt is the JSON document kept in Deployment.Receipt.
type Receipt struct {
	Manifest string                   `json:"manifest,omitempty"`
	Rail     string                   `json:"rail"`
	Files    []FileReceipt            `json:"files"`
	Failures []FailureReceipt         `json:"failures,omitempty"`
	Funding  []funding.FundingReceipt `json:"funding,omitempty"`
}

type FileReceipt struct {
	Path   string `json:"path"`
	ID     string `json:"id"`
	Hash   string `json:"hash,omitempty"`
	Winc   string `json:"winc,omitempty"`
	Cached bool   `json:"cached,omitempty"`
}

type FailureReceipt struct {
	Path     string `json:"path"`
	Attempts int    `json:"attempts"`
	Error    string `json:"error"`
}

// History stores deployment records.
type History interface {
	Save(ctx context.Context, d *Deployment) error
	// List returns up to limit records, newest first. limit <= 0 means no limit.
	List(ctx context.Context, limit int) ([]*Deployment, error)
}

type GormHistory struct {
	db *gorm.DB
}

func NewGormHistory(db *gorm.DB) *GormHistory {
	return &GormHistory{db: db}
}

func (h *GormHistory) Save(ctx context.Context, d *Deployment) error {
	if d.CreatedAt.IsZero() {
		d.CreatedAt = time.Now().UTC()
	}
	return datastore.GetTransaction(ctx, h.db).Create(d).Error
}

func (h *GormHistory) List(ctx context.Context, limit int) ([]*Deployment, error) {
	q := datastore.GetTransaction(ctx, h.db).Order("created_at DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	var out []*Deployment
	if err := q.Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}
