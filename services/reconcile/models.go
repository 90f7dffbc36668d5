package reconcile

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// IntentRecord mirrors one settled outbox intent. Amounts and gas are stored
// as decimal strings so 256-bit values survive every SQL dialect.
type IntentRecord struct {
	ID         uuid.UUID `gorm:"type:uuid;primaryKey"`
	Contract   string    `gorm:"uniqueIndex:idx_contract_seq;not null"`
	Seq        uint64    `gorm:"uniqueIndex:idx_contract_seq;not null"`
	Kind       string    `gorm:"index;not null"`
	Origin     string    `gorm:"index"`
	Target     string
	Recipient  string
	Owner      string
	SubAccount string
	Amount     string
	Gas        string
	Status     string `gorm:"index;not null"`
	Reason     string
	RecordedAt time.Time `gorm:"index"`
	SettledAt  time.Time
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// AutoMigrate creates or updates the journal schema.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(&IntentRecord{})
}
