//go:build linux

package probe

import (
	"bufio"
	"context"
	"errors"
	"os"
	"strconv"
	"strings"
)

var errMalformedStat = errors.New("malformed stat line")

func hasProcfs() bool {
	info, err := os.Stat("/proc")
	return err == nil && info.IsDir()
}

// clockTicks returns jiffies per second. CLK_TCK overrides for tests,
// otherwise 100, the kernel default on every supported distro. The
// authoritative sysconf(_SC_CLK_TCK) would need cgo.
func clockTicks() float64 {
	if v, _ := strconv.Atoi(os.Getenv("CLK_TCK")); v > 0 {
		return float64(v)
	}
	return 100
}

// readProcStatCPU returns cumulative user+system CPU seconds for one PID.
func readProcStatCPU(pid int32) (float64, error) {
	data, err := os.ReadFile("/proc/" + strconv.Itoa(int(pid)) + "/stat")
	if err != nil {
		return 0, mapErr(err)
	}
	return parseStatCPU(string(data))
}

// parseStatCPU extracts utime+stime from a stat line. comm sits in parens
// and may itself contain spaces, so numeric fields start after the last ") ".
func parseStatCPU(line string) (float64, error) {
	i := strings.LastIndex(line, ") ")
	if i < 0 {
		return 0, errMalformedStat
	}
	fields := strings.Fields(line[i+2:])
	// utime is the 14th stat field, stime the 15th; relative to the
	// post-comm slice that is fields[11] and fields[12].
	if len(fields) < 13 {
		return 0, errMalformedStat
	}
	utime, err1 := strconv.ParseUint(fields[11], 10, 64)
	stime, err2 := strconv.ParseUint(fields[12], 10, 64)
	if err1 != nil || err2 != nil {
		return 0, errMalformedStat
	}
	return float64(utime+stime) / clockTicks(), nil
}

// countProcFDs counts entries in /proc/<pid>/fd.
func countProcFDs(pid int32) (int, error) {
	entries, err := os.ReadDir("/proc/" + strconv.Itoa(int(pid)) + "/fd")
	if err != nil {
		return 0, mapErr(err)
	}
	return len(entries), nil
}

// scanAllProcFDs walks /proc once and counts open fds for every numeric
// entry. Processes that vanish or deny access mid-walk are skipped.
func scanAllProcFDs(ctx context.Context) (map[int32]int, error) {
	entries, err := os.ReadDir("/proc")
	if err != nil {
		return nil, mapErr(err)
	}
	out := make(map[int32]int, len(entries))
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		pid, convErr := strconv.Atoi(e.Name())
		if convErr != nil {
			continue
		}
		select {
		case <-ctx.Done():
			return out, ctx.Err()
		default:
		}
		if n, fdErr := countProcFDs(int32(pid)); fdErr == nil {
			out[int32(pid)] = n
		}
	}
	return out, nil
}

// readSystemCPU returns cumulative CPU seconds summed over every state and
// core from the aggregate /proc/stat line.
func readSystemCPU() (float64, error) {
	f, err := os.Open("/proc/stat")
	if err != nil {
		return 0, mapErr(err)
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	for sc.Scan() {
		fs := strings.Fields(sc.Text())
		if len(fs) < 2 || fs[0] != "cpu" {
			continue
		}
		var total uint64
		for _, s := range fs[1:] {
			v, _ := strconv.ParseUint(s, 10, 64)
			total += v
		}
		return float64(total) / clockTicks(), nil
	}
	if err := sc.Err(); err != nil {
		return 0, err
	}
	return 0, errors.New("no aggregate cpu line in /proc/stat")
}
