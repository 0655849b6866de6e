package lock

import (
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kamusis/regindex/internal/indexerr"
)

func TestParsePolicy(t *testing.T) {
	cases := []struct {
		in      string
		want    Policy
		wantErr bool
	}{
		{"", PolicyWait, false},
		{"wait", PolicyWait, false},
		{"fail", PolicyFail, false},
		{"block", "", true},
	}
	for _, c := range cases {
		got, err := ParsePolicy(c.in)
		if (err != nil) != c.wantErr || got != c.want {
			t.Fatalf("ParsePolicy(%q)=(%q,%v) want %q", c.in, got, err, c.want)
		}
	}
}

func lockers(t *testing.T, opts Options) map[string]Locker {
	return map[string]Locker{
		"file": NewFileLocker(t.TempDir(), opts),
		"mem":  NewMemLocker(opts),
	}
}

func TestFailPolicyReportsLocked(t *testing.T) {
	for name, l := range lockers(t, Options{Policy: PolicyFail}) {
		t.Run(name, func(t *testing.T) {
			release, err := l.Acquire("foo")
			require.NoError(t, err)

			_, err = l.Acquire("foo")
			require.Error(t, err)
			assert.True(t, indexerr.Is(err, indexerr.Locked), "got %v", err)

			other, err := l.Acquire("bar")
			require.NoError(t, err)
			other()

			release()
			again, err := l.Acquire("foo")
			require.NoError(t, err)
			again()
		})
	}
}

func TestWaitTimeout(t *testing.T) {
	for name, l := range lockers(t, Options{Policy: PolicyWait, Timeout: 50 * time.Millisecond}) {
		t.Run(name, func(t *testing.T) {
			release, err := l.Acquire("foo")
			require.NoError(t, err)
			defer release()

			_, err = l.Acquire("foo")
			assert.True(t, indexerr.Is(err, indexerr.Locked), "got %v", err)
		})
	}
}

func TestWaitSerializes(t *testing.T) {
	for name, l := range lockers(t, Options{Policy: PolicyWait}) {
		t.Run(name, func(t *testing.T) {
			var (
				wg      sync.WaitGroup
				mu      sync.Mutex
				inside  int
				maxSeen int
			)
			for i := 0; i < 8; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					release, err := l.Acquire("foo")
					if err != nil {
						t.Errorf("acquire: %v", err)
						return
					}
					mu.Lock()
					inside++
					if inside > maxSeen {
						maxSeen = inside
					}
					mu.Unlock()
					time.Sleep(2 * time.Millisecond)
					mu.Lock()
					inside--
					mu.Unlock()
					release()
				}()
			}
			wg.Wait()
			assert.Equal(t, 1, maxSeen)
		})
	}
}

func TestFileLockerPath(t *testing.T) {
	root := t.TempDir()
	l := NewFileLocker(root, Options{})
	release, err := l.Acquire("serde")
	require.NoError(t, err)
	release()

	_, err = os.Stat(l.Path("serde"))
	require.NoError(t, err)
	assert.Contains(t, l.Path("serde"), Dir)
}
