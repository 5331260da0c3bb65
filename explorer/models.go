package explorer

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// EventRecord is one rendered event of a committed receipt.
type EventRecord struct {
	ID          uuid.UUID `gorm:"type:uuid;primaryKey"`
	BlockNumber uint64    `gorm:"index;not null"`
	BlockHash   string    `gorm:"size:66"`
	TxHash      string    `gorm:"size:66;index"`
	TxType      string    `gorm:"size:64"`
	Sender      string    `gorm:"size:64;index"`
	Position    int       `gorm:"not null"`
	Type        string    `gorm:"size:64;index"`
	// Accounts holds every address mentioned by the event as ",a,b," so a
	// single LIKE matches any participant.
	Accounts   string `gorm:"size:512"`
	Attributes string `gorm:"type:text"`
	CreatedAt  time.Time
}

// AutoMigrate performs the schema migrations for the event index.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(&EventRecord{})
}
