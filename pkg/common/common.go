package common

import (
	"os"
	"strings"
	"sync"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/zap"
)

var (
	idNode     *snowflake.Node
	idNodeOnce sync.Once
)

// UUIDint64 returns a time ordered unique 64 bit id.
func UUIDint64() int64 {
	idNodeOnce.Do(func() {
		var err error
		idNode, err = snowflake.NewNode(int64(os.Getpid() % 1024))
		if err != nil {
			zap.S().Errorf("init snowflake node error %s", err)
			idNode, _ = snowflake.NewNode(1)
		}
	})
	return idNode.Generate().Int64()
}

// FileExists reports whether the named file or directory exists.
func FileExists(file string) bool {
	_, err := os.Stat(file)
	return err == nil || os.IsExist(err)
}

// EmptyOr returns def when s is blank.
func EmptyOr(s, def string) string {
	if strings.TrimSpace(s) == "" {
		return def
	}
	return s
}
