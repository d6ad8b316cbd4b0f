package export

import (
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// OutputName is the collision-free base name for an export finished at now,
// stamped in loc.
func OutputName(now time.Time, loc *time.Location) string {
	return "output_" + now.In(loc).Format("20060102_150405")
}

// OutputPath returns dir/output_<YYYYMMDD>_<HHMMSS>.mp4, or the first free
// _2, _3, ... variant when that name is taken. It only checks existence and
// creates nothing, so two exports racing on the same dir can still collide.
func OutputPath(dir string, now time.Time, loc *time.Location) string {
	base := OutputName(now, loc)
	candidate := filepath.Join(dir, base+".mp4")
	for n := 2; exists(candidate); n++ {
		candidate = filepath.Join(dir, fmt.Sprintf("%s_%d.mp4", base, n))
	}
	return candidate
}

func exists(path string) bool {
	_, err := os.Lstat(path)
	return err == nil
}
