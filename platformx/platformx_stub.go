//go:build !linux

package platformx

import (
	"runtime"

	"github.com/m-lab/sstrace/logging"
)

func maybeEmitWarning() {
	logging.Logger.WithField("os", runtime.GOOS).Warn("ss -i is Linux only. Queries will fail unless -ss.binary points to a compatible tool.")
}
