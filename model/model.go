package model

import (
	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

var snowflakeNode *snowflake.Node

var Models = []interface{}{
	&AuditEntry{},
}

func init() {
	var err error
	snowflakeNode, err = snowflake.NewNode(1)
	if err != nil {
		panic(err)
	}
}

// SetNodeID reconfigures the snowflake node so that replicas sharing one
// audit table never mint the same entry id.
func SetNodeID(node int64) error {
	n, err := snowflake.NewNode(node)
	if err != nil {
		return err
	}
	snowflakeNode = n
	return nil
}

func GenerateID() uint64 {
	return uint64(snowflakeNode.Generate())
}

func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(Models...)
}
