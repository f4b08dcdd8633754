package server

import (
	"bufio"
	"context"
	"io"
	"net"
	"strings"

	"minikv/internal/command"

	"github.com/pkg/errors"
)

const maxLineBytes = 1 << 20

var errLineTooLong = errors.New("command line too long")

var banner = "\nWelcome to Mini KV Server!\n" +
	"--------------------------------------------\n" +
	command.HelpText + "\n" +
	"--------------------------------------------\n\n"

func (s *Server) handleConn(conn net.Conn) {
	defer conn.Close()

	remote := conn.RemoteAddr().String()
	sess := s.sessions.Open(remote)
	defer sess.Close(context.Background())

	r := newLineReader(conn)
	w := bufio.NewWriter(conn)

	if err := writeText(w, banner); err != nil {
		return
	}
	if err := w.Flush(); err != nil {
		return
	}

	for {
		line, err := r.ReadLine()
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) {
				s.logger.Warn("read error", "remote", remote, "err", err)
			}
			return
		}

		if command.IsQuit(line) {
			_ = writeText(w, command.ReplyBye+"\n")
			_ = w.Flush()
			return
		}

		reply, ok := s.dispatcher.Execute(sess, line)
		if !ok {
			continue
		}
		if err := writeText(w, reply+"\n"); err != nil {
			return
		}
		if err := w.Flush(); err != nil {
			return
		}
	}
}

// writeText sends s with every line ending as CRLF.
func writeText(w *bufio.Writer, s string) error {
	_, err := w.WriteString(strings.ReplaceAll(s, "\n", "\r\n"))
	return err
}

// lineReader splits input on CRLF, LF or a lone CR. A CR is never held
// back waiting to see whether LF follows; a LF arriving right after a CR
// is dropped instead.
type lineReader struct {
	r      *bufio.Reader
	lastCR bool
}

func newLineReader(r io.Reader) *lineReader {
	return &lineReader{r: bufio.NewReader(r)}
}

func (lr *lineReader) ReadLine() (string, error) {
	var b strings.Builder
	for {
		c, err := lr.r.ReadByte()
		if err != nil {
			if errors.Is(err, io.EOF) && b.Len() > 0 {
				return b.String(), nil
			}
			return "", err
		}

		if c == '\n' && lr.lastCR {
			lr.lastCR = false
			continue
		}
		lr.lastCR = c == '\r'

		if c == '\r' || c == '\n' {
			return b.String(), nil
		}
		if b.Len() >= maxLineBytes {
			return "", errLineTooLong
		}
		b.WriteByte(c)
	}
}
