package timezone

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestNowUsesFixedLocation(t *testing.T) {
	now := Now()
	require.Equal(t, "Asia/Shanghai", now.Location().String())

	_, offset := now.Zone()
	require.Equal(t, 8*60*60, offset)
}

func TestLocationDayBoundary(t *testing.T) {
	// 2024-06-01 16:05 UTC is already June 2nd in Beijing
	utc := time.Date(2024, 6, 1, 16, 5, 0, 0, time.UTC)
	local := utc.In(Location)
	require.Equal(t, 2, local.Day())
	require.Equal(t, 0, local.Hour())
}
