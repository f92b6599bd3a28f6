package helpers

import (
	"strconv"
	"syscall"
	"testing"
	"time"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
)

type fakeProcs struct {
	outputs map[string]string
	alive   map[int]bool
	deny    map[int]bool
	signals []string
	ran     []string
}

func (f *fakeProcs) run(name string, args ...string) string {
	f.ran = append(f.ran, name)
	return f.outputs[name]
}

func (f *fakeProcs) signal(pid int, sig syscall.Signal) error {
	if sig == 0 {
		if f.alive[pid] {
			return nil
		}
		return syscall.ESRCH
	}
	if f.deny[pid] {
		return syscall.EPERM
	}
	f.signals = append(f.signals, sig.String()+":"+strconv.Itoa(pid))
	return nil
}

func newFakeReleaser(f *fakeProcs) (*Releaser, *time.Duration) {
	logger, _ := test.NewNullLogger()
	r := NewReleaser(logger)
	var slept time.Duration
	r.run = f.run
	r.signal = f.signal
	r.sleep = func(d time.Duration) { slept += d }
	r.selfPID = 500
	return r, &slept
}

func TestParsePIDs(t *testing.T) {
	t.Parallel()

	assert.Equal(t, []int{12, 345}, sortedKeys(parsePIDs("345\n12\n12\n")))
	assert.Equal(t, []int{77, 901}, sortedKeys(parsePIDs("/dev/video0:   901  77m")))
	assert.Empty(t, parsePIDs(""))
	assert.Empty(t, parsePIDs("0\n-"))
}

func TestHoldersFallsBackToFuserAndSkipsSelf(t *testing.T) {
	t.Parallel()

	f := &fakeProcs{outputs: map[string]string{"fuser": "500 123"}}
	r, _ := newFakeReleaser(f)
	assert.Equal(t, []int{123}, r.Holders("/dev/video0"))
	assert.Equal(t, []string{"lsof", "fuser"}, f.ran)
}

func TestReleaseTermThenKill(t *testing.T) {
	t.Parallel()

	f := &fakeProcs{
		outputs: map[string]string{"lsof": "300\n200\n500"},
		alive:   map[int]bool{300: true},
	}
	r, slept := newFakeReleaser(f)

	pids := r.Release("/dev/video0")
	assert.Equal(t, []int{200, 300}, pids)
	assert.Equal(t, []string{"terminated:200", "terminated:300", "killed:300"}, f.signals)
	assert.Equal(t, DefaultGrace, *slept)
}

func TestReleaseEscalatesOnPermissionError(t *testing.T) {
	t.Parallel()

	f := &fakeProcs{
		outputs: map[string]string{"lsof": "200\n201"},
		alive:   map[int]bool{200: true, 201: true},
		deny:    map[int]bool{200: true, 201: true},
	}
	r, _ := newFakeReleaser(f)

	r.Release("/dev/video0")
	assert.Empty(t, f.signals)
	assert.Equal(t, []string{"lsof", "sudo"}, f.ran, "sudo fuser -k runs once")
}

func TestReleaseFreeDevice(t *testing.T) {
	t.Parallel()

	f := &fakeProcs{outputs: map[string]string{}}
	r, slept := newFakeReleaser(f)
	assert.Nil(t, r.Release("/dev/video0"))
	assert.Zero(t, *slept)
}
