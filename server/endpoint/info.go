package endpoint

import (
	"net/http"
	"runtime"
	"runtime/debug"
	"time"

	"github.com/gin-gonic/gin"
)

var startTime = time.Now()

// Info reports the service version, build and uptime.
func Info(serviceName, version string) gin.HandlerFunc {
	goVersion, revision := runtime.Version(), ""
	if bi, ok := debug.ReadBuildInfo(); ok {
		for _, s := range bi.Settings {
			if s.Key == "vcs.revision" {
				revision = s.Value
			}
		}
	}
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"service":    serviceName,
			"version":    version,
			"revision":   revision,
			"go_version": goVersion,
			"goroutines": runtime.NumGoroutine(),
			"uptime":     time.Since(startTime).Round(time.Second).String(),
		})
	}
}
