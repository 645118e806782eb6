package mem

import (
	"strconv"
	"time"

	"github.com/google/uuid"
)

func newToken(now time.Time) string {
	return strconv.FormatInt(now.UnixNano(), 36) + "-" + uuid.NewString()
}
