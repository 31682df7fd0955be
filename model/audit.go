package model

import "time"

const (
	AuditStatusSuccess = "success"
	AuditStatusFailed  = "failed"
)

// AuditEntry is one link of a hash chain. Seq is unique per chain and is the
// compare-and-swap point of concurrent appends.
type AuditEntry struct {
	ID           uint64    `gorm:"primaryKey;autoIncrement:false"                           json:"id,string"`
	ChainID      string    `gorm:"size:64;not null;uniqueIndex:idx_audit_chain_seq,priority:1" json:"chainId"`
	Seq          uint64    `gorm:"not null;uniqueIndex:idx_audit_chain_seq,priority:2"         json:"seq"`
	Timestamp    time.Time `gorm:"not null;precision:6;index"                               json:"timestamp"`
	Actor        string    `gorm:"size:128;not null;index"                                  json:"actor"`
	Action       string    `gorm:"size:64;not null;index"                                   json:"action"`
	Resource     string    `gorm:"size:256;not null"                                        json:"resource"`
	Status       string    `gorm:"size:16;not null"                                         json:"status"`
	Severity     string    `gorm:"size:16;not null;index"                                   json:"severity"`
	Details      string    `gorm:"type:text"                                                json:"details,omitempty"` // raw JSON object
	Hash         string    `gorm:"size:64;not null"                                         json:"hash"`
	PreviousHash *string   `gorm:"size:64"                                                  json:"previousHash"`
}

func (AuditEntry) TableName() string {
	return "audit_entry"
}
