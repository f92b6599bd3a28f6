// Package helpers frees capture devices held by stale processes.
package helpers

import (
	"context"
	"os"
	"os/exec"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// DefaultGrace is the pause between SIGTERM and SIGKILL.
const DefaultGrace = 400 * time.Millisecond

// Releaser terminates processes holding a device file, typically an
// FFmpeg left over from an earlier run that still owns /dev/videoN.
//
// Holders are found with lsof -t, falling back to fuser. Our own PID is
// never signalled. Survivors of SIGTERM get SIGKILL after Grace, and a
// permission error escalates to sudo fuser -k.
type Releaser struct {
	Grace time.Duration

	log     logrus.FieldLogger
	run     func(name string, args ...string) string
	signal  func(pid int, sig syscall.Signal) error
	sleep   func(time.Duration)
	selfPID int
}

// NewReleaser returns a Releaser that shells out to lsof and fuser.
func NewReleaser(logger logrus.FieldLogger) *Releaser {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Releaser{
		Grace:   DefaultGrace,
		log:     logger.WithField("component", "devices"),
		run:     runCmd,
		signal:  syscall.Kill,
		sleep:   time.Sleep,
		selfPID: os.Getpid(),
	}
}

// Release signals every holder of devicePath and returns the PIDs it
// targeted, sorted. An empty result means the device was free.
func (r *Releaser) Release(devicePath string) []int {
	pids := r.Holders(devicePath)
	if len(pids) == 0 {
		return nil
	}
	log := r.log.WithField("device", devicePath)
	log.WithField("pids", pids).Warn("Killing device holders")

	escalated := false
	escalate := func() {
		if !escalated {
			escalated = true
			r.run("sudo", "fuser", "-k", devicePath)
		}
	}

	for _, pid := range pids {
		if err := r.signal(pid, syscall.SIGTERM); err != nil {
			if isPermissionError(err) {
				escalate()
				continue
			}
			log.WithError(err).WithField("pid", pid).Debug("SIGTERM failed")
		}
	}

	r.sleep(r.Grace)

	for _, pid := range pids {
		if r.signal(pid, 0) != nil {
			continue
		}
		if err := r.signal(pid, syscall.SIGKILL); err != nil {
			if isPermissionError(err) {
				escalate()
				continue
			}
			log.WithError(err).WithField("pid", pid).Debug("SIGKILL failed")
		}
	}
	return pids
}

// Holders lists the PIDs other than ours that have devicePath open.
func (r *Releaser) Holders(devicePath string) []int {
	pids := parsePIDs(r.run("lsof", "-t", devicePath))
	if len(pids) == 0 {
		pids = parsePIDs(r.run("fuser", devicePath))
	}
	delete(pids, r.selfPID)
	return sortedKeys(pids)
}

var digitRegexp = regexp.MustCompile(`\b(\d+)\b`)

// parsePIDs pulls positive integers out of lsof -t or fuser output.
func parsePIDs(out string) map[int]struct{} {
	pids := make(map[int]struct{})
	for _, match := range digitRegexp.FindAllString(out, -1) {
		if pid, err := strconv.Atoi(match); err == nil && pid > 0 {
			pids[pid] = struct{}{}
		}
	}
	return pids
}

// runCmd executes a command with a 2-second timeout and returns stdout.
// Failures, including a missing binary, yield "".
func runCmd(name string, args ...string) string {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	out, err := exec.CommandContext(ctx, name, args...).Output()
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(out))
}

func isPermissionError(err error) bool {
	return errors.Is(err, syscall.EPERM) || errors.Is(err, syscall.EACCES)
}

func sortedKeys(m map[int]struct{}) []int {
	keys := make([]int, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Ints(keys)
	return keys
}
