// Package command describes the contract the transaction coordinator
// requires from the (external, out of scope) command registry: a
// command's name, its option mask, and how to locate the keys it touches
// inside its argument vector. None of the actual command implementations
// (SET, MGET, EXEC, ...) live here - only the descriptors the coordinator
// routes by.
package command

import (
	farm "github.com/dgryski/go-farm"
	"github.com/pingcap/errors"
)

// Shard hashes key to one of numShards partitions, grounded on
// tikv/util.go's use of farm.Fingerprint64 for key placement.
func Shard(key string, numShards int) int {
	if numShards <= 1 {
		return 0
	}
	h := farm.Fingerprint64([]byte(key))
	return int(h % uint64(numShards))
}

// OptMask is a bitset of command options, mirrored from the option mask
// carried by CommandId in the original engine.
type OptMask uint32

const (
	// ReadOnly commands take a SHARED intent lock on their keys.
	ReadOnly OptMask = 1 << iota
	// GlobalTrans commands span every shard regardless of their key layout
	// (FLUSHDB, SELECT, ...).
	GlobalTrans
	// NoKeyTransactional commands never touch keys (PING, INFO, ...) and
	// may still be wrapped in a transaction for uniformity.
	NoKeyTransactional
)

// LockMode is the intent lock mode a transaction acquires for a command.
type LockMode int

const (
	Shared LockMode = iota
	Exclusive
)

func (m LockMode) String() string {
	if m == Shared {
		return "SHARED"
	}
	return "EXCLUSIVE"
}

// KeyIndex describes where in a command's argument vector its keys live.
// Start and End are indices into the full argument vector (args[0] is the
// command name); Step is 1 for plain keys or 2 for key/value pairs.
type KeyIndex struct {
	Start, End, Step int
}

// Empty reports whether the command has no keys to classify (e.g. EVAL
// with zero keys, or a NoKeyTransactional command).
func (k KeyIndex) Empty() bool {
	return k.Start >= k.End
}

// ID is the descriptor the coordinator consumes for every command it
// schedules. Implementations are supplied by the (external) command
// registry; DetermineKeys resolves the key layout for a concrete
// argument vector, since some commands (EVAL) only know their key count
// at invocation time.
type ID interface {
	Name() string
	OptMask() OptMask
	KeyArgStep() int
	DetermineKeys(args []string) (KeyIndex, error)
}

// Mode returns the intent lock mode a transaction running this command
// should acquire.
func Mode(id ID) LockMode {
	if id.OptMask()&ReadOnly != 0 {
		return Shared
	}
	return Exclusive
}

// IsGlobal reports whether id forces all-shard participation.
func IsGlobal(id ID) bool {
	return id.OptMask()&GlobalTrans != 0
}

// Descriptor is a concrete, struct-based ID for commands whose keys occupy
// a fixed, statically-known span of the argument vector (SET, GET, MGET,
// DEL, RENAME, ...). Most commands in a real registry are Descriptors;
// EVAL-like commands need a custom ID implementation because their key
// count depends on a numkeys argument.
type Descriptor struct {
	CmdName string
	Opts    OptMask
	Step    int
}

func (d *Descriptor) Name() string      { return d.CmdName }
func (d *Descriptor) OptMask() OptMask  { return d.Opts }
func (d *Descriptor) KeyArgStep() int   { return d.Step }

// DetermineKeys treats every argument after the command name as keys
// (or key/value pairs, for Step == 2), matching the "plain" command
// shape of SET/GET/MGET/DEL/MSET.
func (d *Descriptor) DetermineKeys(args []string) (KeyIndex, error) {
	if d.OptMask()&GlobalTrans != 0 || d.OptMask()&NoKeyTransactional != 0 {
		return KeyIndex{}, nil
	}
	step := d.Step
	if step == 0 {
		step = 1
	}
	if step != 1 && step != 2 {
		return KeyIndex{}, errors.Errorf("command %s: invalid key step %d", d.CmdName, step)
	}
	n := len(args) - 1
	if step == 2 && n%2 != 0 {
		return KeyIndex{}, errors.Errorf("command %s: step-2 layout needs an even number of key/value arguments, got %d", d.CmdName, n)
	}
	if n <= 0 {
		return KeyIndex{}, errors.Errorf("command %s: expects at least one key", d.CmdName)
	}
	return KeyIndex{Start: 1, End: len(args), Step: step}, nil
}

// EvalDescriptor models EVAL/EVALSHA-style commands whose first argument
// after the script is a numkeys count, followed by that many keys.
type EvalDescriptor struct {
	CmdName string
	Opts    OptMask
}

func (d *EvalDescriptor) Name() string     { return d.CmdName }
func (d *EvalDescriptor) OptMask() OptMask { return d.Opts }
func (d *EvalDescriptor) KeyArgStep() int  { return 1 }

// DetermineKeys expects args = [name, script, numkeys, key..., argv...].
func (d *EvalDescriptor) DetermineKeys(args []string) (KeyIndex, error) {
	if len(args) < 3 {
		return KeyIndex{}, errors.Errorf("command %s: missing numkeys argument", d.CmdName)
	}
	numKeys, err := parseNonNegativeInt(args[2])
	if err != nil {
		return KeyIndex{}, errors.Annotatef(err, "command %s: bad numkeys", d.CmdName)
	}
	start := 3
	end := start + numKeys
	if end > len(args) {
		return KeyIndex{}, errors.Errorf("command %s: numkeys %d exceeds argument count", d.CmdName, numKeys)
	}
	return KeyIndex{Start: start, End: end, Step: 1}, nil
}

// Status is the error taxonomy: signaled values, not
// exception types. Invariant violations are not part of this taxonomy -
// they are fatal assertions surfaced via log.Fatalf, never a Status.
type Status int

const (
	// OK is normal completion.
	OK Status = iota
	// KeyNotFound is the aggregate result when no shard produced a hit.
	KeyNotFound
	// WrongType is a short-circuit failure: any shard reporting it
	// invalidates the whole aggregate read.
	WrongType
	// TimedOut is returned when a blocking wait's deadline expires.
	TimedOut
	// Cancelled is returned when a blocking wait is broken by connection
	// close or explicit cancellation.
	Cancelled
)

func (s Status) String() string {
	switch s {
	case OK:
		return "OK"
	case KeyNotFound:
		return "KEY_NOTFOUND"
	case WrongType:
		return "WRONG_TYPE"
	case TimedOut:
		return "TIMED_OUT"
	case Cancelled:
		return "CANCELLED"
	default:
		return "UNKNOWN"
	}
}

func parseNonNegativeInt(s string) (int, error) {
	n := 0
	if s == "" {
		return 0, errors.New("empty integer")
	}
	for _, c := range s {
		if c < '0' || c > '9' {
			return 0, errors.Errorf("not a non-negative integer: %q", s)
		}
		n = n*10 + int(c-'0')
	}
	return n, nil
}
