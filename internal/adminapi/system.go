package adminapi

import (
	"net/http"
	"regexp"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/talkincode/wabot/internal/webserver"
	"github.com/talkincode/wabot/pkg/metrics"
)

var metricName = regexp.MustCompile(`^[a-z][a-z0-9_]{0,63}$`)

func registerSystemRoutes() {
	webserver.ApiGET("/system/metrics/:name", getMetric)
	webserver.RootGET("/health", health)
}

func getMetric(c echo.Context) error {
	name := c.Param("name")
	if !metricName.MatchString(name) {
		return fail(c, http.StatusBadRequest, "INVALID_METRIC", "Invalid metric name", nil)
	}
	minutes := 60
	if v := c.QueryParam("minutes"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 || n > 7*24*60 {
			return fail(c, http.StatusBadRequest, "INVALID_QUERY", "minutes must be between 1 and 10080", nil)
		}
		minutes = n
	}
	points, err := metrics.Query(name, time.Duration(minutes)*time.Minute)
	if err != nil {
		return fail(c, http.StatusServiceUnavailable, "METRICS_UNAVAILABLE", "Metrics are not available", err.Error())
	}
	return ok(c, map[string]interface{}{"name": name, "minutes": minutes, "points": points})
}

// health is public and unwrapped so load balancers can read it directly.
func health(c echo.Context) error {
	running, connected := manager.Running()
	return c.JSON(http.StatusOK, map[string]interface{}{
		"status":    "ok",
		"service":   "wabot",
		"timestamp": time.Now().Format(time.RFC3339),
		"bots": map[string]int{
			"running":   running,
			"connected": connected,
		},
	})
}
