// Package command turns text command lines into store operations and
// renders their replies.
package command

import (
	"fmt"
	"io/fs"
	"sort"
	"strconv"
	"strings"
	"time"

	"minikv/internal/logs"
	"minikv/internal/metrics"
	"minikv/internal/session"
	"minikv/internal/snapshot"
	"minikv/internal/store"

	"github.com/pkg/errors"
)

// Reply strings shared by every command.
const (
	ReplyOK    = "OK"
	ReplyNil   = "(nil)"
	ReplyEmpty = "(empty) store"
	ReplyBye   = "Goodbye!"

	errPrefix = "(error) "
)

// HelpText lists the supported commands.
const HelpText = `Available Commands:
SET <key> <value> [ttl]     -> Set key to value (optionally with TTL in seconds)
GET <key>                   -> Get value of key
DEL <key>                   -> Delete a key
EXISTS <key>                -> Check if a key exists
EXPIRE <key> <ttl>          -> Set expiry for a key
SIZE / DBSIZE               -> Count alive keys
SHOW / DISPLAY              -> Show all key-value pairs
SAVE <filename>             -> Save the data (.json, or .db for bbolt)
LOAD <filename>             -> Load the data from a saved file
HELP                        -> Show this help
EXIT / QUIT                 -> Disconnect from server`

// Session is what a command needs from the connection it runs on.
type Session interface {
	Store() *store.Store
	Save(name string) (int, error)
	Load(name string) (int, error)
}

type handler struct {
	minArgs int
	maxArgs int
	run     func(s Session, args []string) string
}

// Dispatcher executes command lines against a session.
type Dispatcher struct {
	logger   *logs.Logger
	metrics  *metrics.Registry
	handlers map[string]handler
}

// NewDispatcher creates a dispatcher. A nil logger or registry is
// replaced by a private one.
func NewDispatcher(logger *logs.Logger, reg *metrics.Registry) *Dispatcher {
	if logger == nil {
		logger = logs.Discard()
	}
	if reg == nil {
		reg = metrics.NewRegistry()
	}
	d := &Dispatcher{logger: logger, metrics: reg}
	d.handlers = map[string]handler{
		"SET":     {2, 3, d.set},
		"GET":     {1, 1, d.get},
		"DEL":     {1, 1, d.del},
		"EXISTS":  {1, 1, d.exists},
		"EXPIRE":  {2, 2, d.expire},
		"SIZE":    {0, 0, d.size},
		"DBSIZE":  {0, 0, d.size},
		"SHOW":    {0, 0, d.show},
		"DISPLAY": {0, 0, d.show},
		"SAVE":    {1, 1, d.save},
		"LOAD":    {1, 1, d.load},
		"HELP":    {0, 0, func(Session, []string) string { return HelpText }},
	}
	return d
}

// Execute runs one command line. It returns false for a blank line, which
// gets no reply at all.
func (d *Dispatcher) Execute(s Session, line string) (string, bool) {
	tokens := Tokenize(line)
	if len(tokens) == 0 {
		return "", false
	}

	name := strings.ToUpper(tokens[0])
	args := tokens[1:]
	d.metrics.Inc(metrics.CommandsTotal)

	h, ok := d.handlers[name]
	var reply string
	switch {
	case !ok:
		reply = errReply("ERR unknown command")
	case len(args) < h.minArgs || len(args) > h.maxArgs:
		reply = errReply(fmt.Sprintf("ERR wrong number of arguments for '%s'", strings.ToLower(name)))
	default:
		reply = h.run(s, args)
	}

	if strings.HasPrefix(reply, errPrefix) {
		d.metrics.Inc(metrics.CommandErrorsTotal)
		d.logger.Debug("command failed", "cmd", name, "reply", reply)
	}
	return reply, true
}

func errReply(msg string) string {
	return errPrefix + msg
}

func intReply(n int) string {
	return "(integer) " + strconv.Itoa(n)
}

func boolReply(b bool) string {
	if b {
		return intReply(1)
	}
	return intReply(0)
}

func parseTTL(tok string) (time.Duration, bool) {
	secs, err := strconv.ParseInt(tok, 10, 64)
	if err != nil || secs > store.MaxTTLSeconds || secs < -store.MaxTTLSeconds {
		return 0, false
	}
	return time.Duration(secs) * time.Second, true
}

func (d *Dispatcher) set(s Session, args []string) string {
	key, value := args[0], ParseValue(args[1])
	if len(args) == 3 {
		ttl, ok := parseTTL(args[2])
		if !ok {
			return errReply("ERR invalid TTL value")
		}
		s.Store().SetWithTTL(key, value, ttl)
		return ReplyOK
	}
	s.Store().Set(key, value)
	return ReplyOK
}

func (d *Dispatcher) get(s Session, args []string) string {
	v, ok := s.Store().Get(args[0])
	if !ok {
		return ReplyNil
	}
	return v.String()
}

func (d *Dispatcher) del(s Session, args []string) string {
	return boolReply(s.Store().Delete(args[0]))
}

func (d *Dispatcher) exists(s Session, args []string) string {
	return boolReply(s.Store().Exists(args[0]))
}

func (d *Dispatcher) expire(s Session, args []string) string {
	ttl, ok := parseTTL(args[1])
	if !ok {
		return errReply("ERR invalid TTL value")
	}
	if ttl <= 0 {
		return errReply("ERR TTL must be positive")
	}
	return boolReply(s.Store().Expire(args[0], ttl))
}

func (d *Dispatcher) size(s Session, _ []string) string {
	return intReply(s.Store().Size())
}

func (d *Dispatcher) show(s Session, _ []string) string {
	dump := s.Store().Dump()
	if len(dump) == 0 {
		return ReplyEmpty
	}
	return renderTable(dump)
}

// renderTable lays out a KEY/VALUE table sorted by key.
func renderTable(dump map[string]store.Value) string {
	keys := make([]string, 0, len(dump))
	keyW, valW := len("KEY"), len("VALUE")
	for k, v := range dump {
		keys = append(keys, k)
		keyW = max(keyW, len(k))
		valW = max(valW, len(v.String()))
	}
	sort.Strings(keys)
	keyW += 2
	valW += 2

	rule := strings.Repeat("-", keyW+valW)
	var b strings.Builder
	b.WriteString(rule + "\n")
	fmt.Fprintf(&b, "%-*s%s\n", keyW, "KEY", "VALUE")
	b.WriteString(rule + "\n")
	for _, k := range keys {
		fmt.Fprintf(&b, "%-*s%s\n", keyW, k, dump[k].String())
	}
	b.WriteString(rule)
	return b.String()
}

func (d *Dispatcher) save(s Session, args []string) string {
	n, err := s.Save(args[0])
	if err != nil {
		return snapshotErrReply("save", err)
	}
	return fmt.Sprintf("OK: saved %d keys to %s", n, args[0])
}

func (d *Dispatcher) load(s Session, args []string) string {
	n, err := s.Load(args[0])
	if err != nil {
		return snapshotErrReply("load", err)
	}
	return fmt.Sprintf("OK: loaded %d keys from %s", n, args[0])
}

// snapshotErrReply maps snapshot failures to a stable reply per kind.
func snapshotErrReply(op string, err error) string {
	switch {
	case errors.Is(err, session.ErrBadName):
		return errReply("ERR invalid file name")
	case errors.Is(err, snapshot.ErrFormat):
		return errReply("FORMAT malformed snapshot file")
	case errors.Is(err, fs.ErrNotExist):
		return errReply("IO no such file")
	default:
		return errReply("IO could not " + op + " file")
	}
}
